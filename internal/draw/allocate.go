package draw

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand/v2"

	"github.com/victornm/eventdraw/internal/domain"
)

// NextAvailablePrize returns the highest numbered prize that still has quota.
// ok is false when every prize is given out.
func NextAvailablePrize(prizes []domain.Prize) (p domain.Prize, ok bool) {
	for _, pz := range prizes {
		if !pz.Available() {
			continue
		}
		if !ok || pz.Number > p.Number {
			p, ok = pz, true
		}
	}

	return p, ok
}

// PickRandomWinner returns the index of a uniformly chosen participant.
// intn must return a value in [0, n).
func PickRandomWinner(participants []domain.Participant, intn func(n int) int) (int, bool) {
	if len(participants) == 0 {
		return 0, false
	}

	return intn(len(participants)), true
}

// RevealOrder puts the winner first followed by everyone else in fetched order.
func RevealOrder(participants []domain.Participant, winner int) []domain.Participant {
	out := make([]domain.Participant, 0, len(participants))
	out = append(out, participants[winner])
	out = append(out, participants[:winner]...)
	out = append(out, participants[winner+1:]...)

	return out
}

// CryptoIntn draws from crypto/rand.
func CryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return mathrand.IntN(n)
	}

	return int(v.Int64())
}
