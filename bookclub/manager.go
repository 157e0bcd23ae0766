package bookclub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ClubManager is a thin façade over the Database: it parses actor addresses
// and logs every mutation, keeping CLI and HTTP code simple.
type ClubManager struct {
	db  *Database
	log zerolog.Logger
}

// NewClubManager opens (or creates) the SQLite database at dbPath.
func NewClubManager(dbPath string, log zerolog.Logger) (*ClubManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return &ClubManager{db: db, log: log.With().Str("component", "bookclub").Logger()}, nil
}

// Close closes the underlying database.
func (cm *ClubManager) Close() error { return cm.db.Close() }

// rejected logs a failed mutation. Domain rejections are routine, storage
// failures are not.
func (cm *ClubManager) rejected(op string, clubID int64, actor string, err error) error {
	code := CodeOf(err)
	ev := cm.log.Debug()
	if code == CodeUnknown {
		ev = cm.log.Error()
	}
	ev.Err(err).Str("op", op).Int64("club_id", clubID).Str("actor", actor).Str("code", string(code)).Msg("operation rejected")
	return err
}

// ------------------ Registry ------------------

func (cm *ClubManager) CreateClub(ctx context.Context, name, description, actor string) (int64, error) {
	a, err := ParseActor(actor)
	if err != nil {
		return 0, cm.rejected("create_club", -1, actor, err)
	}
	id, err := cm.db.CreateClub(ctx, name, description, a)
	if err != nil {
		return 0, cm.rejected("create_club", -1, actor, err)
	}
	cm.log.Info().Int64("club_id", id).Str("actor", a.String()).Str("name", name).Msg("club created")
	return id, nil
}

func (cm *ClubManager) GetClub(ctx context.Context, clubID int64) (*Club, error) {
	return cm.db.GetClub(ctx, clubID)
}

// ListClubs returns all clubs; a non-empty exclude hides that actor's clubs.
func (cm *ClubManager) ListClubs(ctx context.Context, exclude string) ([]*Club, error) {
	var a Actor
	if exclude != "" {
		var err error
		if a, err = ParseActor(exclude); err != nil {
			return nil, err
		}
	}
	return cm.db.ListClubs(ctx, a)
}

func (cm *ClubManager) NextClubID(ctx context.Context) (int64, error) { return cm.db.NextClubID(ctx) }

// ------------------ Membership ------------------

func (cm *ClubManager) JoinClub(ctx context.Context, clubID int64, actor string) error {
	a, err := ParseActor(actor)
	if err != nil {
		return cm.rejected("join_club", clubID, actor, err)
	}
	joined, err := cm.db.JoinClub(ctx, clubID, a)
	if err != nil {
		return cm.rejected("join_club", clubID, actor, err)
	}
	if !joined {
		cm.log.Debug().Int64("club_id", clubID).Str("actor", a.String()).Msg("already a member")
		return nil
	}
	cm.log.Info().Int64("club_id", clubID).Str("actor", a.String()).Msg("member joined")
	return nil
}

func (cm *ClubManager) GetClubMembers(ctx context.Context, clubID int64) ([]Actor, error) {
	return cm.db.GetClubMembers(ctx, clubID)
}

func (cm *ClubManager) GetUserClubs(ctx context.Context, actor string) ([]int64, error) {
	a, err := ParseActor(actor)
	if err != nil {
		return nil, err
	}
	return cm.db.GetUserClubs(ctx, a)
}

// ------------------ Ballot ------------------

func (cm *ClubManager) ProposeBook(ctx context.Context, clubID int64, title, author, actor string) (int64, error) {
	a, err := ParseActor(actor)
	if err != nil {
		return 0, cm.rejected("propose_book", clubID, actor, err)
	}
	idx, err := cm.db.ProposeBook(ctx, clubID, title, author, a)
	if err != nil {
		return 0, cm.rejected("propose_book", clubID, actor, err)
	}
	cm.log.Info().Int64("club_id", clubID).Str("actor", a.String()).Int64("proposal", idx).
		Str("title", title).Msg("book proposed")
	return idx, nil
}

func (cm *ClubManager) VoteForBook(ctx context.Context, clubID, proposalIndex int64, actor string) error {
	a, err := ParseActor(actor)
	if err != nil {
		return cm.rejected("vote_for_book", clubID, actor, err)
	}
	if err := cm.db.VoteForBook(ctx, clubID, proposalIndex, a); err != nil {
		return cm.rejected("vote_for_book", clubID, actor, err)
	}
	cm.log.Info().Int64("club_id", clubID).Str("actor", a.String()).Int64("proposal", proposalIndex).Msg("vote cast")
	return nil
}

func (cm *ClubManager) GetClubProposals(ctx context.Context, clubID int64) ([]Proposal, error) {
	return cm.db.GetClubProposals(ctx, clubID)
}

// FinalizeVoting closes the round and returns the winning proposal.
func (cm *ClubManager) FinalizeVoting(ctx context.Context, clubID int64, actor string) (*Proposal, error) {
	a, err := ParseActor(actor)
	if err != nil {
		return nil, cm.rejected("finalize_voting", clubID, actor, err)
	}
	winner, err := cm.db.FinalizeVoting(ctx, clubID, a)
	if err != nil {
		return nil, cm.rejected("finalize_voting", clubID, actor, err)
	}
	cm.log.Info().Int64("club_id", clubID).Str("actor", a.String()).Int64("proposal", winner.Index).
		Int64("votes", winner.Votes).Str("book", winner.Title).Msg("voting finalized")
	return winner, nil
}

// ------------------ Posts ------------------

func (cm *ClubManager) CreatePost(ctx context.Context, clubID int64, title, content, actor string) (*Post, error) {
	a, err := ParseActor(actor)
	if err != nil {
		return nil, cm.rejected("create_post", clubID, actor, err)
	}
	post, err := cm.db.CreatePost(ctx, clubID, title, content, a)
	if err != nil {
		return nil, cm.rejected("create_post", clubID, actor, err)
	}
	cm.log.Info().Int64("club_id", clubID).Str("actor", a.String()).Msg("post created")
	return post, nil
}

func (cm *ClubManager) GetClubPosts(ctx context.Context, clubID int64) ([]Post, error) {
	return cm.db.GetClubPosts(ctx, clubID)
}

// ------------------ Utilities ------------------

// PrettyClub formats a club for lists.
func PrettyClub(c *Club) string {
	book := "-"
	if c.CurrentBook != "" {
		book = fmt.Sprintf("%s, %s", c.CurrentBook, c.CurrentAuthor)
	}
	return fmt.Sprintf("%-5d %-25s %-8d %-10s %-30s", c.ID, c.Name, c.MemberCount, c.Status, book)
}
