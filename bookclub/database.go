package bookclub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Database provides the club operations on top of a SQLite connection. Every
// mutation runs in its own IMMEDIATE transaction, so mutations are totally
// ordered and a rejected one leaves no trace.
type Database struct {
	db  *sql.DB
	now func() time.Time

	getClubStmt   *sql.Stmt
	userClubsStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dbPath != MemoryPath && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN; busy_timeout bounds the wait.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == MemoryPath {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, now: time.Now}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.getClubStmt != nil {
		d.getClubStmt.Close()
	}
	if d.userClubsStmt != nil {
		d.userClubsStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL lets readers proceed while a writer holds the lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clubs (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL,
            creator TEXT NOT NULL,
            current_book TEXT NOT NULL DEFAULT '',
            current_author TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS club_members (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            club_id INTEGER NOT NULL REFERENCES clubs(id),
            actor TEXT NOT NULL,
            joined_at INTEGER NOT NULL,
            UNIQUE(club_id, actor)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_club_members_actor ON club_members(actor, club_id);`,
		`CREATE TABLE IF NOT EXISTS proposals (
            club_id INTEGER NOT NULL REFERENCES clubs(id),
            idx INTEGER NOT NULL,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            proposer TEXT NOT NULL,
            votes INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            PRIMARY KEY(club_id, idx)
        );`,
		`CREATE TABLE IF NOT EXISTS proposal_votes (
            club_id INTEGER NOT NULL,
            idx INTEGER NOT NULL,
            voter TEXT NOT NULL,
            PRIMARY KEY(club_id, idx, voter),
            FOREIGN KEY(club_id, idx) REFERENCES proposals(club_id, idx)
        );`,
		`CREATE TABLE IF NOT EXISTS posts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            club_id INTEGER NOT NULL REFERENCES clubs(id),
            title TEXT NOT NULL,
            content TEXT NOT NULL,
            author TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('next_club_id','0');`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

const clubColumns = `c.id, c.name, c.description, c.creator, c.current_book, c.current_author,
        (SELECT COUNT(*) FROM club_members m WHERE m.club_id = c.id),
        (SELECT COUNT(*) FROM proposals p WHERE p.club_id = c.id),
        (SELECT COUNT(*) FROM posts s WHERE s.club_id = c.id),
        EXISTS(SELECT 1 FROM proposals p WHERE p.club_id = c.id AND p.is_active = 1)`

func (d *Database) prepareStatements() error {
	var err error
	if d.getClubStmt, err = d.db.Prepare(`SELECT ` + clubColumns + ` FROM clubs c WHERE c.id=?`); err != nil {
		return err
	}
	if d.userClubsStmt, err = d.db.Prepare(`SELECT club_id FROM club_members WHERE actor=? ORDER BY club_id`); err != nil {
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClub(row rowScanner) (*Club, error) {
	var (
		c         Club
		hasActive bool
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Creator, &c.CurrentBook, &c.CurrentAuthor,
		&c.MemberCount, &c.ProposalCount, &c.PostCount, &hasActive); err != nil {
		return nil, err
	}
	c.Status = statusOf(c.CurrentBook, hasActive)
	return &c, nil
}

// ---------------------------------------------------------------------------
// Guards
// ---------------------------------------------------------------------------

// requireText trims every field and rejects any that end up empty.
func requireText(fields ...*string) error {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
		if *f == "" {
			return newError(CodeInvalidInput, "required field is empty")
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func requireClub(ctx context.Context, q querier, clubID int64) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM clubs WHERE id=?)`, clubID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return newError(CodeNotFound, "club %d does not exist", clubID)
	}
	return nil
}

// requireMember is the authorization gate for every member-only operation.
func requireMember(ctx context.Context, q querier, clubID int64, actor Actor) error {
	if err := requireClub(ctx, q, clubID); err != nil {
		return err
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM club_members WHERE club_id=? AND actor=?)`, clubID, actor).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return newError(CodeNotAuthorized, "%s is not a member of club %d", actor, clubID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry and membership
// ---------------------------------------------------------------------------

// CreateClub registers a club under the next sequential id with creator as its
// first member.
func (d *Database) CreateClub(ctx context.Context, name, description string, creator Actor) (int64, error) {
	if err := requireText(&name, &description); err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='next_club_id'`).Scan(&id); err != nil {
		return 0, fmt.Errorf("read next club id: %w", err)
	}

	now := d.now().Unix()
	if _, err := tx.ExecContext(ctx, `INSERT INTO clubs(id,name,description,creator,created_at) VALUES(?,?,?,?,?)`,
		id, name, description, creator, now); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO club_members(club_id,actor,joined_at) VALUES(?,?,?)`, id, creator, now); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE meta SET value=? WHERE key='next_club_id'`, id+1); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// JoinClub adds actor to the club. Joining twice is a no-op; joined reports
// whether a member was actually added.
func (d *Database) JoinClub(ctx context.Context, clubID int64, actor Actor) (joined bool, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := requireClub(ctx, tx, clubID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO club_members(club_id,actor,joined_at) VALUES(?,?,?)
        ON CONFLICT(club_id, actor) DO NOTHING`, clubID, actor, d.now().Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// GetClub fetches a single club.
func (d *Database) GetClub(ctx context.Context, clubID int64) (*Club, error) {
	c, err := scanClub(d.getClubStmt.QueryRowContext(ctx, clubID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(CodeNotFound, "club %d does not exist", clubID)
	}
	return c, err
}

// ListClubs returns every club in id order. A non-empty exclude hides the
// clubs that actor already belongs to.
func (d *Database) ListClubs(ctx context.Context, exclude Actor) ([]*Club, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+clubColumns+` FROM clubs c
        WHERE NOT EXISTS(SELECT 1 FROM club_members x WHERE x.club_id = c.id AND x.actor = ?)
        ORDER BY c.id`, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clubs := []*Club{}
	for rows.Next() {
		c, err := scanClub(rows)
		if err != nil {
			return nil, err
		}
		clubs = append(clubs, c)
	}
	return clubs, rows.Err()
}

// NextClubID returns the id the next club will get, which is also the number
// of clubs created so far.
func (d *Database) NextClubID(ctx context.Context) (int64, error) {
	var id int64
	if err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='next_club_id'`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetClubMembers returns members in join order.
func (d *Database) GetClubMembers(ctx context.Context, clubID int64) ([]Actor, error) {
	if err := requireClub(ctx, d.db, clubID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT actor FROM club_members WHERE club_id=? ORDER BY seq`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Actor{}
	for rows.Next() {
		var a Actor
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		members = append(members, a)
	}
	return members, rows.Err()
}

// GetUserClubs returns the ids of every club actor belongs to.
func (d *Database) GetUserClubs(ctx context.Context, actor Actor) ([]int64, error) {
	rows, err := d.userClubsStmt.QueryContext(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---------------------------------------------------------------------------
// Ballot
// ---------------------------------------------------------------------------

// ProposeBook opens (or extends) the club's voting round with a new proposal
// and returns its index.
func (d *Database) ProposeBook(ctx context.Context, clubID int64, title, author string, proposer Actor) (int64, error) {
	if err := requireText(&title, &author); err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := requireMember(ctx, tx, clubID, proposer); err != nil {
		return 0, err
	}

	var idx int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE club_id=?`, clubID).Scan(&idx); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO proposals(club_id,idx,title,author,proposer) VALUES(?,?,?,?,?)`,
		clubID, idx, title, author, proposer); err != nil {
		return 0, err
	}
	return idx, tx.Commit()
}

// VoteForBook records one vote by voter on the proposal at idx.
//
// Votes are per-proposal receipts: a member may back several proposals in the
// same round but each one only once.
func (d *Database) VoteForBook(ctx context.Context, clubID, idx int64, voter Actor) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireMember(ctx, tx, clubID, voter); err != nil {
		return err
	}

	var active bool
	err = tx.QueryRowContext(ctx, `SELECT is_active FROM proposals WHERE club_id=? AND idx=?`, clubID, idx).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return newError(CodeNotFound, "proposal index %d out of range for club %d", idx, clubID)
	}
	if err != nil {
		return err
	}
	if !active {
		return newError(CodeInactiveProposal, "proposal %d of club %d is not active", idx, clubID)
	}

	var voted bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM proposal_votes WHERE club_id=? AND idx=? AND voter=?)`,
		clubID, idx, voter).Scan(&voted); err != nil {
		return err
	}
	if voted {
		return newError(CodeDuplicateVote, "%s already voted for proposal %d", voter, idx)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO proposal_votes(club_id,idx,voter) VALUES(?,?,?)`, clubID, idx, voter); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET votes=votes+1 WHERE club_id=? AND idx=?`, clubID, idx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetClubProposals returns every proposal of the club in index order,
// including those of closed rounds.
func (d *Database) GetClubProposals(ctx context.Context, clubID int64) ([]Proposal, error) {
	if err := requireClub(ctx, d.db, clubID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT idx,title,author,proposer,votes,is_active FROM proposals WHERE club_id=? ORDER BY idx`, clubID)
	if err != nil {
		return nil, err
	}
	return scanProposals(rows)
}

func scanProposals(rows *sql.Rows) ([]Proposal, error) {
	defer rows.Close()

	proposals := []Proposal{}
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.Index, &p.Title, &p.Author, &p.Proposer, &p.Votes, &p.IsActive); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// FinalizeVoting closes the open round in one transaction:
//   - picks the active proposal with the most votes (earliest index on a tie)
//   - makes it the club's current book
//   - deactivates every proposal and forgets the round's vote receipts
//
// The returned proposal is the winner as committed.
func (d *Database) FinalizeVoting(ctx context.Context, clubID int64, actor Actor) (*Proposal, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := requireMember(ctx, tx, clubID, actor); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT idx,title,author,proposer,votes,is_active FROM proposals
        WHERE club_id=? AND is_active=1 ORDER BY idx`, clubID)
	if err != nil {
		return nil, err
	}
	active, err := scanProposals(rows)
	if err != nil {
		return nil, err
	}

	w := SelectWinner(active)
	if w < 0 {
		return nil, newError(CodeNoActiveProposals, "club %d has no active proposals", clubID)
	}
	winner := active[w]

	if _, err := tx.ExecContext(ctx, `UPDATE clubs SET current_book=?, current_author=? WHERE id=?`,
		winner.Title, winner.Author, clubID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET is_active=0 WHERE club_id=?`, clubID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM proposal_votes WHERE club_id=?`, clubID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	winner.IsActive = false
	return &winner, nil
}

// ---------------------------------------------------------------------------
// Post board
// ---------------------------------------------------------------------------

// CreatePost appends a post to the club feed. The timestamp never goes
// backwards within a club, even if the wall clock does.
func (d *Database) CreatePost(ctx context.Context, clubID int64, title, content string, author Actor) (*Post, error) {
	if err := requireText(&title, &content); err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := requireMember(ctx, tx, clubID, author); err != nil {
		return nil, err
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at),0) FROM posts WHERE club_id=?`, clubID).Scan(&last); err != nil {
		return nil, err
	}
	ts := d.now().Unix()
	if ts < last {
		ts = last
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO posts(club_id,title,content,author,created_at) VALUES(?,?,?,?,?)`,
		clubID, title, content, author, ts); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Post{Title: title, Content: content, Author: author, Timestamp: ts}, nil
}

// GetClubPosts returns the feed in creation order.
func (d *Database) GetClubPosts(ctx context.Context, clubID int64) ([]Post, error) {
	if err := requireClub(ctx, d.db, clubID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT title,content,author,created_at FROM posts WHERE club_id=? ORDER BY id`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.Title, &p.Content, &p.Author, &p.Timestamp); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
