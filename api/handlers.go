package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bookchain/bookclub"
)

type errorResponse struct {
	Code  bookclub.Code `json:"code"`
	Error string        `json:"error"`
}

// CreateClubDto is the body of POST /clubs.
type CreateClubDto struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProposeBookDto is the body of POST /clubs/{clubID}/proposals.
type ProposeBookDto struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// CreatePostDto is the body of POST /clubs/{clubID}/posts.
type CreatePostDto struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FinalizeResponse reports the winner and the club as it now stands.
type FinalizeResponse struct {
	Winner *bookclub.Proposal `json:"winner"`
	Club   *bookclub.Club     `json:"club"`
}

func statusFor(code bookclub.Code) int {
	switch code {
	case bookclub.CodeNotFound:
		return http.StatusNotFound
	case bookclub.CodeNotAuthorized:
		return http.StatusForbidden
	case bookclub.CodeInvalidInput:
		return http.StatusBadRequest
	case bookclub.CodeInactiveProposal, bookclub.CodeDuplicateVote, bookclub.CodeNoActiveProposals:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := bookclub.CodeOf(err)
	msg := err.Error()
	if code == bookclub.CodeUnknown {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, statusFor(code), errorResponse{Code: code, Error: msg})
}

func badRequest(msg string) error {
	return &bookclub.Error{Code: bookclub.CodeInvalidInput, Message: msg}
}

func pathInt(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return v, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

// ------------------ Registry ------------------

func (s *Server) createClub(w http.ResponseWriter, r *http.Request) {
	var in CreateClubDto
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.svc.CreateClub(r.Context(), in.Name, in.Description, actor(r))
	s.metrics.observe("create_club", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) listClubs(w http.ResponseWriter, r *http.Request) {
	clubs, err := s.svc.ListClubs(r.Context(), r.URL.Query().Get("exclude"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if clubs == nil {
		clubs = []*bookclub.Club{}
	}
	writeJSON(w, http.StatusOK, clubs)
}

func (s *Server) nextClubID(w http.ResponseWriter, r *http.Request) {
	id, err := s.svc.NextClubID(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"nextClubId": id})
}

func (s *Server) getClub(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	club, err := s.svc.GetClub(r.Context(), clubID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, club)
}

// ------------------ Membership ------------------

func (s *Server) joinClub(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.svc.JoinClub(r.Context(), clubID, actor(r))
	s.metrics.observe("join_club", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getClubMembers(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.svc.GetClubMembers(r.Context(), clubID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) getUserClubs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.GetUserClubs(r.Context(), chi.URLParam(r, "actor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// ------------------ Ballot ------------------

func (s *Server) proposeBook(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ProposeBookDto
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	idx, err := s.svc.ProposeBook(r.Context(), clubID, in.Title, in.Author, actor(r))
	s.metrics.observe("propose_book", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"index": idx})
}

func (s *Server) voteForBook(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	idx, err := pathInt(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.svc.VoteForBook(r.Context(), clubID, idx, actor(r))
	s.metrics.observe("vote_for_book", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getClubProposals(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proposals, err := s.svc.GetClubProposals(r.Context(), clubID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) finalizeVoting(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	winner, err := s.svc.FinalizeVoting(r.Context(), clubID, actor(r))
	s.metrics.observe("finalize_voting", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	club, err := s.svc.GetClub(r.Context(), clubID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{Winner: winner, Club: club})
}

// ------------------ Posts ------------------

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in CreatePostDto
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	post, err := s.svc.CreatePost(r.Context(), clubID, in.Title, in.Content, actor(r))
	s.metrics.observe("create_post", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) getClubPosts(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathInt(r, "clubID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	posts, err := s.svc.GetClubPosts(r.Context(), clubID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
