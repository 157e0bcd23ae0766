package bookclub

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Checksummed addresses from the EIP-55 test vectors.
const (
	alice Actor = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   Actor = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	carol Actor = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
	dave  Actor = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("want %s, got %s (%v)", code, got, err)
	}
}

// newClub creates a club owned by alice with the given extra members.
func newClub(t *testing.T, db *Database, members ...Actor) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := db.CreateClub(ctx, "Sci-Fi", "Space and beyond", alice)
	if err != nil {
		t.Fatalf("create club: %v", err)
	}
	for _, m := range members {
		if _, err := db.JoinClub(ctx, id, m); err != nil {
			t.Fatalf("join %s: %v", m, err)
		}
	}
	return id
}

func TestCreateClubAssignsSequentialIDs(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		id, err := db.CreateClub(ctx, "Club", "desc", bob)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Fatalf("want id %d, got %d", want, id)
		}
	}
	next, err := db.NextClubID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if next != 3 {
		t.Fatalf("want next id 3, got %d", next)
	}

	members, _ := db.GetClubMembers(ctx, 1)
	if diff := cmp.Diff([]Actor{bob}, members); diff != "" {
		t.Fatalf("members (-want +got):\n%s", diff)
	}
}

func TestCreateClubRejectsEmptyText(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	_, err := db.CreateClub(ctx, "  ", "desc", alice)
	wantCode(t, err, CodeInvalidInput)
	_, err = db.CreateClub(ctx, "name", "", alice)
	wantCode(t, err, CodeInvalidInput)

	next, _ := db.NextClubID(ctx)
	if next != 0 {
		t.Fatalf("failed creates must not consume ids, next=%d", next)
	}
}

func TestGetClubUnknown(t *testing.T) {
	db := tempDB(t)
	_, err := db.GetClub(context.Background(), 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestJoinClubIsIdempotent(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db)

	joined, err := db.JoinClub(ctx, id, bob)
	if err != nil || !joined {
		t.Fatalf("first join: joined=%v err=%v", joined, err)
	}
	joined, err = db.JoinClub(ctx, id, bob)
	if err != nil || joined {
		t.Fatalf("second join: joined=%v err=%v", joined, err)
	}
	// The creator joining again is a no-op too.
	if _, err := db.JoinClub(ctx, id, alice); err != nil {
		t.Fatalf("creator join: %v", err)
	}

	members, _ := db.GetClubMembers(ctx, id)
	if diff := cmp.Diff([]Actor{alice, bob}, members); diff != "" {
		t.Fatalf("members (-want +got):\n%s", diff)
	}

	_, err = db.JoinClub(ctx, 42, bob)
	wantCode(t, err, CodeNotFound)
}

func TestSciFiRound(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob, carol)

	dune, err := db.ProposeBook(ctx, id, "Dune", "Herbert", alice)
	if err != nil || dune != 0 {
		t.Fatalf("propose dune: idx=%d err=%v", dune, err)
	}
	foundation, err := db.ProposeBook(ctx, id, "Foundation", "Asimov", bob)
	if err != nil || foundation != 1 {
		t.Fatalf("propose foundation: idx=%d err=%v", foundation, err)
	}

	club, _ := db.GetClub(ctx, id)
	if club.Status != StatusVoting {
		t.Fatalf("want voting, got %s", club.Status)
	}

	for _, v := range []struct {
		idx   int64
		voter Actor
	}{{dune, alice}, {dune, bob}, {foundation, carol}} {
		if err := db.VoteForBook(ctx, id, v.idx, v.voter); err != nil {
			t.Fatalf("vote %d by %s: %v", v.idx, v.voter, err)
		}
	}

	winner, err := db.FinalizeVoting(ctx, id, carol)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if winner.Title != "Dune" || winner.Votes != 2 {
		t.Fatalf("unexpected winner %+v", winner)
	}

	club, _ = db.GetClub(ctx, id)
	want := &Club{
		ID: id, Name: "Sci-Fi", Description: "Space and beyond", Creator: alice,
		MemberCount: 3, CurrentBook: "Dune", CurrentAuthor: "Herbert",
		ProposalCount: 2, Status: StatusFinalized,
	}
	if diff := cmp.Diff(want, club); diff != "" {
		t.Fatalf("club (-want +got):\n%s", diff)
	}

	proposals, _ := db.GetClubProposals(ctx, id)
	wantProposals := []Proposal{
		{Index: 0, Title: "Dune", Author: "Herbert", Proposer: alice, Votes: 2},
		{Index: 1, Title: "Foundation", Author: "Asimov", Proposer: bob, Votes: 1},
	}
	if diff := cmp.Diff(wantProposals, proposals); diff != "" {
		t.Fatalf("proposals (-want +got):\n%s", diff)
	}
}

func TestDuplicateVote(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob)
	idx, _ := db.ProposeBook(ctx, id, "Hyperion", "Simmons", bob)

	if err := db.VoteForBook(ctx, id, idx, bob); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err := db.VoteForBook(ctx, id, idx, bob)
	if !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("want duplicate vote, got %v", err)
	}

	proposals, _ := db.GetClubProposals(ctx, id)
	if proposals[0].Votes != 1 {
		t.Fatalf("want 1 vote, got %d", proposals[0].Votes)
	}
}

func TestVoteForSeveralProposalsInOneRound(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db)
	a, _ := db.ProposeBook(ctx, id, "A", "x", alice)
	b, _ := db.ProposeBook(ctx, id, "B", "y", alice)

	if err := db.VoteForBook(ctx, id, a, alice); err != nil {
		t.Fatalf("vote a: %v", err)
	}
	if err := db.VoteForBook(ctx, id, b, alice); err != nil {
		t.Fatalf("vote b: %v", err)
	}
}

func TestVoteRejections(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob)
	idx, _ := db.ProposeBook(ctx, id, "Solaris", "Lem", alice)

	wantCode(t, db.VoteForBook(ctx, id, idx, dave), CodeNotAuthorized)
	wantCode(t, db.VoteForBook(ctx, id, 5, bob), CodeNotFound)
	wantCode(t, db.VoteForBook(ctx, id, -1, bob), CodeNotFound)
	wantCode(t, db.VoteForBook(ctx, 9, idx, bob), CodeNotFound)

	if _, err := db.FinalizeVoting(ctx, id, bob); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	wantCode(t, db.VoteForBook(ctx, id, idx, bob), CodeInactiveProposal)
}

func TestFinalizeTieGoesToEarliestProposal(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob)
	db.ProposeBook(ctx, id, "First", "One", alice)
	second, _ := db.ProposeBook(ctx, id, "Second", "Two", bob)
	third, _ := db.ProposeBook(ctx, id, "Third", "Three", bob)

	db.VoteForBook(ctx, id, second, alice)
	db.VoteForBook(ctx, id, third, bob)

	winner, err := db.FinalizeVoting(ctx, id, alice)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if winner.Index != second {
		t.Fatalf("want proposal %d, got %d", second, winner.Index)
	}
}

func TestFinalizeWithoutActiveProposals(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db)

	_, err := db.FinalizeVoting(ctx, id, alice)
	wantCode(t, err, CodeNoActiveProposals)

	db.ProposeBook(ctx, id, "Ubik", "Dick", alice)
	if _, err := db.FinalizeVoting(ctx, id, alice); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err = db.FinalizeVoting(ctx, id, alice)
	wantCode(t, err, CodeNoActiveProposals)

	club, _ := db.GetClub(ctx, id)
	if club.CurrentBook != "Ubik" || club.CurrentAuthor != "Dick" {
		t.Fatalf("current book changed: %+v", club)
	}
}

func TestNewRoundAfterFinalize(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob)

	first, _ := db.ProposeBook(ctx, id, "Neuromancer", "Gibson", alice)
	db.VoteForBook(ctx, id, first, bob)
	db.FinalizeVoting(ctx, id, alice)

	next, err := db.ProposeBook(ctx, id, "Snow Crash", "Stephenson", bob)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if next != 1 {
		t.Fatalf("indices must not be reused, got %d", next)
	}

	club, _ := db.GetClub(ctx, id)
	if club.Status != StatusVoting || club.CurrentBook != "Neuromancer" {
		t.Fatalf("previous book stays until the next finalize: %+v", club)
	}

	if err := db.VoteForBook(ctx, id, next, bob); err != nil {
		t.Fatalf("vote in new round: %v", err)
	}
	winner, _ := db.FinalizeVoting(ctx, id, bob)
	if winner.Title != "Snow Crash" {
		t.Fatalf("unexpected winner %+v", winner)
	}
}

func TestNonMemberCannotMutate(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db)

	_, err := db.ProposeBook(ctx, id, "Dune", "Herbert", dave)
	wantCode(t, err, CodeNotAuthorized)
	_, err = db.FinalizeVoting(ctx, id, dave)
	wantCode(t, err, CodeNotAuthorized)
	_, err = db.CreatePost(ctx, id, "hi", "there", dave)
	wantCode(t, err, CodeNotAuthorized)

	club, _ := db.GetClub(ctx, id)
	if club.ProposalCount != 0 || club.PostCount != 0 || club.Status != StatusIdle {
		t.Fatalf("state changed: %+v", club)
	}
}

func TestPostsKeepOrderAndMonotonicTimestamps(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := newClub(t, db, bob)

	clock := []int64{1_700_000_100, 1_700_000_050, 1_700_000_200}
	i := 0
	db.now = func() time.Time {
		ts := clock[i]
		i++
		return time.Unix(ts, 0)
	}

	for _, p := range []struct {
		title  string
		author Actor
	}{{"one", alice}, {"two", bob}, {"three", alice}} {
		if _, err := db.CreatePost(ctx, id, p.title, "body", p.author); err != nil {
			t.Fatalf("post %s: %v", p.title, err)
		}
	}

	posts, err := db.GetClubPosts(ctx, id)
	if err != nil {
		t.Fatalf("posts: %v", err)
	}
	want := []Post{
		{Title: "one", Content: "body", Author: alice, Timestamp: 1_700_000_100},
		{Title: "two", Content: "body", Author: bob, Timestamp: 1_700_000_100},
		{Title: "three", Content: "body", Author: alice, Timestamp: 1_700_000_200},
	}
	if diff := cmp.Diff(want, posts); diff != "" {
		t.Fatalf("posts (-want +got):\n%s", diff)
	}

	_, err = db.CreatePost(ctx, id, "", "body", alice)
	wantCode(t, err, CodeInvalidInput)
}

func TestUserClubsAndListing(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	first := newClub(t, db, bob)
	second, _ := db.CreateClub(ctx, "Poetry", "Verse", carol)
	third, _ := db.CreateClub(ctx, "History", "Past", bob)

	ids, _ := db.GetUserClubs(ctx, bob)
	if diff := cmp.Diff([]int64{first, third}, ids); diff != "" {
		t.Fatalf("user clubs (-want +got):\n%s", diff)
	}
	ids, _ = db.GetUserClubs(ctx, dave)
	if len(ids) != 0 {
		t.Fatalf("want no clubs, got %v", ids)
	}

	all, _ := db.ListClubs(ctx, "")
	if len(all) != 3 {
		t.Fatalf("want 3 clubs, got %d", len(all))
	}
	others, _ := db.ListClubs(ctx, bob)
	if len(others) != 1 || others[0].ID != second {
		t.Fatalf("want only club %d, got %+v", second, others)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := newClub(t, db, bob)
	idx, _ := db.ProposeBook(ctx, id, "Dune", "Herbert", bob)
	db.VoteForBook(ctx, id, idx, bob)
	db.Close()

	db, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	wantCode(t, db.VoteForBook(ctx, id, idx, bob), CodeDuplicateVote)
	next, _ := db.NextClubID(ctx)
	if next != 1 {
		t.Fatalf("want next id 1, got %d", next)
	}
	id2, _ := db.CreateClub(ctx, "Second", "club", carol)
	if id2 != 1 {
		t.Fatalf("want id 1, got %d", id2)
	}
}

func TestMemoryDatabase(t *testing.T) {
	db, err := NewDatabase(MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	id := newClub(t, db, bob)
	club, err := db.GetClub(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if club.MemberCount != 2 {
		t.Fatalf("want 2 members, got %d", club.MemberCount)
	}
}

// TestConcurrentVotes checks that distinct voters all land and a voter racing
// against itself lands exactly once.
func TestConcurrentVotes(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	voters := []Actor{alice, bob, carol, dave}
	id := newClub(t, db, bob, carol, dave)
	idx, _ := db.ProposeBook(ctx, id, "Contact", "Sagan", alice)

	const attempts = 3
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  = map[Actor]int{}
		dup int
	)
	for _, v := range voters {
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(v Actor) {
				defer wg.Done()
				err := db.VoteForBook(ctx, id, idx, v)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok[v]++
				case errors.Is(err, ErrDuplicateVote):
					dup++
				default:
					t.Errorf("vote by %s: %v", v, err)
				}
			}(v)
		}
	}
	wg.Wait()

	for _, v := range voters {
		if ok[v] != 1 {
			t.Fatalf("%s: want exactly one successful vote, got %d", v, ok[v])
		}
	}
	if dup != len(voters)*(attempts-1) {
		t.Fatalf("want %d duplicate rejections, got %d", len(voters)*(attempts-1), dup)
	}

	proposals, _ := db.GetClubProposals(ctx, id)
	club, _ := db.GetClub(ctx, id)
	if proposals[0].Votes != int64(len(voters)) || proposals[0].Votes > club.MemberCount {
		t.Fatalf("want %d votes, got %d (members %d)", len(voters), proposals[0].Votes, club.MemberCount)
	}
}
