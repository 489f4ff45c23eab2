package identify

import (
	"sort"

	"github.com/victornm/eventdraw/internal/domain"
)

// tally counts first-ranked votes per identity token for one attempt.
type tally struct {
	votes map[string]*domain.Candidate
}

func newTally() *tally {
	return &tally{votes: make(map[string]*domain.Candidate)}
}

// vote adds one vote for id and returns the new count.
func (t *tally) vote(id domain.Identity) int {
	c, ok := t.votes[id.Token]
	if !ok {
		c = &domain.Candidate{Identity: id}
		t.votes[id.Token] = c
	}
	c.Votes++

	return c.Votes
}

// leader returns a candidate that reached threshold, if any.
func (t *tally) leader(threshold int) (domain.Candidate, bool) {
	for _, c := range t.candidates() {
		if c.Votes >= threshold {
			return c, true
		}
	}

	return domain.Candidate{}, false
}

// candidates returns every voted identity, most votes first, ties by token.
func (t *tally) candidates() []domain.Candidate {
	out := make([]domain.Candidate, 0, len(t.votes))
	for _, c := range t.votes {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].Token < out[j].Token
	})

	return out
}

// without returns the candidates except token.
func (t *tally) without(token string) []domain.Candidate {
	all := t.candidates()
	out := all[:0]
	for _, c := range all {
		if c.Token != token {
			out = append(out, c)
		}
	}

	return out
}
