package bookclub

// SelectWinner returns the position in proposals of the active proposal with
// the most votes, preferring the earliest one on a tie. It returns -1 when
// nothing is active.
func SelectWinner(proposals []Proposal) int {
	winner := -1
	for i, p := range proposals {
		if !p.IsActive {
			continue
		}
		if winner < 0 || p.Votes > proposals[winner].Votes {
			winner = i
		}
	}
	return winner
}
