// Package api serves the club operations over HTTP/JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bookchain/bookclub"
)

// ActorHeader carries the caller's account address, set by whatever
// authenticates the caller in front of this server.
const ActorHeader = "X-Actor"

// Service is the club surface the handlers need. *bookclub.ClubManager
// implements it.
type Service interface {
	CreateClub(ctx context.Context, name, description, actor string) (int64, error)
	GetClub(ctx context.Context, clubID int64) (*bookclub.Club, error)
	ListClubs(ctx context.Context, exclude string) ([]*bookclub.Club, error)
	NextClubID(ctx context.Context) (int64, error)
	JoinClub(ctx context.Context, clubID int64, actor string) error
	GetClubMembers(ctx context.Context, clubID int64) ([]bookclub.Actor, error)
	GetUserClubs(ctx context.Context, actor string) ([]int64, error)
	ProposeBook(ctx context.Context, clubID int64, title, author, actor string) (int64, error)
	VoteForBook(ctx context.Context, clubID, proposalIndex int64, actor string) error
	GetClubProposals(ctx context.Context, clubID int64) ([]bookclub.Proposal, error)
	FinalizeVoting(ctx context.Context, clubID int64, actor string) (*bookclub.Proposal, error)
	CreatePost(ctx context.Context, clubID int64, title, content, actor string) (*bookclub.Post, error)
	GetClubPosts(ctx context.Context, clubID int64) ([]bookclub.Post, error)
}

// Server routes HTTP requests to a Service.
type Server struct {
	svc     Service
	log     zerolog.Logger
	metrics *Metrics
	router  chi.Router
}

// NewServer wires routes, middleware and metrics. Collectors are registered
// on reg and exposed on /metrics.
func NewServer(svc Service, log zerolog.Logger, reg *prometheus.Registry) *Server {
	s := &Server{
		svc:     svc,
		log:     log.With().Str("component", "api").Logger(),
		metrics: NewMetrics(reg),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/clubs", func(r chi.Router) {
		r.Post("/", s.createClub)
		r.Get("/", s.listClubs)
		r.Get("/next-id", s.nextClubID)
		r.Route("/{clubID}", func(r chi.Router) {
			r.Get("/", s.getClub)
			r.Post("/members", s.joinClub)
			r.Get("/members", s.getClubMembers)
			r.Post("/proposals", s.proposeBook)
			r.Get("/proposals", s.getClubProposals)
			r.Post("/proposals/{index}/votes", s.voteForBook)
			r.Post("/finalize", s.finalizeVoting)
			r.Post("/posts", s.createPost)
			r.Get("/posts", s.getClubPosts)
		})
	})
	r.Get("/actors/{actor}/clubs", s.getUserClubs)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// logRequests writes one log line per request and records its latency.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.duration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", elapsed).
			Msg("request")
	})
}
