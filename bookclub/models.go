package bookclub

// Status is the voting phase a club is in.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusVoting    Status = "voting"
	StatusFinalized Status = "finalized"
)

// Club is the read view of a club. Members, proposals and posts are fetched
// separately.
type Club struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Creator       Actor  `json:"creator"`
	MemberCount   int64  `json:"memberCount"`
	CurrentBook   string `json:"currentBook"`
	CurrentAuthor string `json:"currentAuthor"`
	ProposalCount int64  `json:"proposalCount"`
	PostCount     int64  `json:"postCount"`
	Status        Status `json:"status"`
}

// Proposal is a book put up for a vote. Index is stable for the life of the
// club; proposals are never compacted.
type Proposal struct {
	Index    int64  `json:"index"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Proposer Actor  `json:"proposer"`
	Votes    int64  `json:"votes"`
	IsActive bool   `json:"isActive"`
}

// Post is an entry in a club's feed. Timestamp is unix seconds.
type Post struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Author    Actor  `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

func statusOf(currentBook string, hasActive bool) Status {
	switch {
	case hasActive:
		return StatusVoting
	case currentBook != "":
		return StatusFinalized
	default:
		return StatusIdle
	}
}
