package pipeline

import "math"

const (
	eloScale = 400.0
	eloBaseK = 32.0
)

// eloExpected returns the expected score of A against B.
func eloExpected(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/eloScale))
}

// eloDeltas computes the rating changes for both sides of a match.
// scoreA is 1 if A won, 0 if B won. The effective step is the base K
// scaled by the judge's confidence, so uncertain verdicts move ratings
// less. The returned deltas are the ones actually applied and recorded.
func eloDeltas(ratingA, ratingB, scoreA, confidence float64) (deltaA, deltaB float64) {
	k := eloBaseK * confidence
	expectedA := eloExpected(ratingA, ratingB)
	deltaA = k * (scoreA - expectedA)
	deltaB = k * ((1 - scoreA) - (1 - expectedA))
	return deltaA, deltaB
}
