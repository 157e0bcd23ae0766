package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bookchain/api"
	"bookchain/bookclub"
	"bookchain/config"
	"bookchain/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	mgr *bookclub.ClubManager
}

func newRootCmd(a *app) *cobra.Command {
	var (
		dbPath, actor, logLevel, logFormat string
	)

	root := &cobra.Command{
		Use:           "bookchain",
		Short:         "Book clubs with proposals, votes and a shared feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("actor") {
				cfg.Actor = actor
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			mgr, err := bookclub.NewClubManager(cfg.DBPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			a.cfg, a.log, a.mgr = cfg, log, mgr
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&dbPath, "db", "", "SQLite database path (env BOOKCHAIN_DB_PATH)")
	pf.StringVar(&actor, "actor", "", "account address acting on the club (env BOOKCHAIN_ACTOR)")
	pf.StringVar(&logLevel, "log-level", "", "log level (env BOOKCHAIN_LOG_LEVEL)")
	pf.StringVar(&logFormat, "log-format", "", "log format, json or console (env BOOKCHAIN_LOG_FORMAT)")

	root.AddCommand(
		a.createClubCmd(),
		a.joinCmd(),
		a.proposeCmd(),
		a.voteCmd(),
		a.finalizeCmd(),
		a.postCmd(),
		a.clubCmd(),
		a.clubsCmd(),
		a.membersCmd(),
		a.proposalsCmd(),
		a.postsCmd(),
		a.myClubsCmd(),
		a.nextIDCmd(),
		a.serveCmd(),
		a.shellCmd(),
	)
	return root
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return id, nil
}

// requireActor returns the configured actor for commands that mutate state.
func (a *app) requireActor() (string, error) {
	if a.cfg.Actor == "" {
		return "", errors.New("no actor: pass --actor or set BOOKCHAIN_ACTOR")
	}
	return a.cfg.Actor, nil
}

// ------------------ Mutations ------------------

func (a *app) createClubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-club NAME DESCRIPTION",
		Short: "Create a club; the actor becomes its first member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			id, err := a.mgr.CreateClub(cmd.Context(), args[0], args[1], actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created club ID %d\n", id)
			return nil
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join CLUB_ID",
		Short: "Join a club",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			if err := a.mgr.JoinClub(cmd.Context(), clubID, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined club %d\n", clubID)
			return nil
		},
	}
}

func (a *app) proposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "propose CLUB_ID TITLE AUTHOR",
		Short: "Propose a book for the club's current round",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			idx, err := a.mgr.ProposeBook(cmd.Context(), clubID, args[1], args[2], actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Proposed '%s' as proposal %d\n", args[1], idx)
			return nil
		},
	}
}

func (a *app) voteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote CLUB_ID PROPOSAL_INDEX",
		Short: "Vote for an active proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			idx, err := parseID(args[1], "proposal index")
			if err != nil {
				return err
			}
			if err := a.mgr.VoteForBook(cmd.Context(), clubID, idx, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Voted for proposal %d\n", idx)
			return nil
		},
	}
}

func (a *app) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize CLUB_ID",
		Short: "Close the voting round and set the winning book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			winner, err := a.mgr.FinalizeVoting(cmd.Context(), clubID, actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Now reading: %s by %s (%d votes)\n", winner.Title, winner.Author, winner.Votes)
			return nil
		},
	}
}

func (a *app) postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post CLUB_ID TITLE CONTENT",
		Short: "Add a post to the club feed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			if _, err := a.mgr.CreatePost(cmd.Context(), clubID, args[1], args[2], actor); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Post created")
			return nil
		},
	}
}

// ------------------ Views ------------------

func (a *app) clubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "club CLUB_ID",
		Short: "Show a club with its members, proposals and posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			return printClubDetails(cmd.Context(), cmd.OutOrStdout(), a.mgr, clubID)
		},
	}
}

func (a *app) clubsCmd() *cobra.Command {
	var excludeMine bool
	cmd := &cobra.Command{
		Use:   "clubs",
		Short: "List clubs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exclude := ""
			if excludeMine {
				actor, err := a.requireActor()
				if err != nil {
					return err
				}
				exclude = actor
			}
			clubs, err := a.mgr.ListClubs(cmd.Context(), exclude)
			if err != nil {
				return err
			}
			printClubs(cmd.OutOrStdout(), clubs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&excludeMine, "exclude-mine", false, "hide clubs the actor already belongs to")
	return cmd
}

func (a *app) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members CLUB_ID",
		Short: "List club members in join order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			members, err := a.mgr.GetClubMembers(cmd.Context(), clubID)
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func (a *app) proposalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proposals CLUB_ID",
		Short: "List proposals, including closed rounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			proposals, err := a.mgr.GetClubProposals(cmd.Context(), clubID)
			if err != nil {
				return err
			}
			printProposals(cmd.OutOrStdout(), proposals)
			return nil
		},
	}
}

func (a *app) postsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posts CLUB_ID",
		Short: "Show the club feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clubID, err := parseID(args[0], "club ID")
			if err != nil {
				return err
			}
			posts, err := a.mgr.GetClubPosts(cmd.Context(), clubID)
			if err != nil {
				return err
			}
			printPosts(cmd.OutOrStdout(), posts)
			return nil
		},
	}
}

func (a *app) myClubsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "my-clubs",
		Short: "List the clubs the actor belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			ids, err := a.mgr.GetUserClubs(cmd.Context(), actor)
			if err != nil {
				return err
			}
			var clubs []*bookclub.Club
			for _, id := range ids {
				c, err := a.mgr.GetClub(cmd.Context(), id)
				if err != nil {
					return err
				}
				clubs = append(clubs, c)
			}
			printClubs(cmd.OutOrStdout(), clubs)
			return nil
		},
	}
}

func (a *app) nextIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-id",
		Short: "Print the id the next club will get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.mgr.NextClubID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// ------------------ Server ------------------

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the club operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := &http.Server{
				Addr:    a.cfg.HTTPAddr,
				Handler: api.NewServer(a.mgr, a.log, reg),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", srv.Addr).Str("db", a.cfg.DBPath).Msg("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			a.log.Info().Msg("shutting down")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (env BOOKCHAIN_HTTP_ADDR)")
	return cmd
}

// ------------------ Output ------------------

func printClubs(w io.Writer, clubs []*bookclub.Club) {
	if len(clubs) == 0 {
		fmt.Fprintln(w, "No clubs.")
		return
	}
	fmt.Fprintf(w, "%-5s %-25s %-8s %-10s %-30s\n", "ID", "Name", "Members", "Status", "Current book")
	for _, c := range clubs {
		fmt.Fprintln(w, bookclub.PrettyClub(c))
	}
}

func printProposals(w io.Writer, proposals []bookclub.Proposal) {
	if len(proposals) == 0 {
		fmt.Fprintln(w, "No proposals.")
		return
	}
	fmt.Fprintf(w, "%-5s %-30s %-20s %-6s %-8s %s\n", "Index", "Title", "Author", "Votes", "Active", "Proposer")
	for _, p := range proposals {
		fmt.Fprintf(w, "%-5d %-30s %-20s %-6d %-8t %s\n", p.Index, p.Title, p.Author, p.Votes, p.IsActive, p.Proposer.Short())
	}
}

func printPosts(w io.Writer, posts []bookclub.Post) {
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts.")
		return
	}
	for _, p := range posts {
		fmt.Fprintf(w, "[%s] %s by %s\n    %s\n", formatTimestamp(p.Timestamp), p.Title, p.Author.Short(), p.Content)
	}
}

func formatTimestamp(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04")
}

func printClubDetails(ctx context.Context, w io.Writer, mgr *bookclub.ClubManager, clubID int64) error {
	club, err := mgr.GetClub(ctx, clubID)
	if err != nil {
		return err
	}
	members, err := mgr.GetClubMembers(ctx, clubID)
	if err != nil {
		return err
	}
	proposals, err := mgr.GetClubProposals(ctx, clubID)
	if err != nil {
		return err
	}
	posts, err := mgr.GetClubPosts(ctx, clubID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Club %d: %s\n%s\n", club.ID, club.Name, club.Description)
	fmt.Fprintf(w, "Creator: %s | Members: %d | Status: %s\n", club.Creator, club.MemberCount, club.Status)
	if club.CurrentBook != "" {
		fmt.Fprintf(w, "Current book: %s, %s\n", club.CurrentBook, club.CurrentAuthor)
	}
	fmt.Fprintln(w, "\nMembers:")
	for _, m := range members {
		fmt.Fprintf(w, "  %s\n", m)
	}
	fmt.Fprintln(w, "\nProposals:")
	printProposals(w, proposals)
	fmt.Fprintln(w, "\nPosts:")
	printPosts(w, posts)
	return nil
}
