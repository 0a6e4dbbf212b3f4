package infinites

import (
	"math"

	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

// IsCandidateBetterToBeContinued reports whether candidate should replace best
// as the instance that stays on air. The later start wins, with "now" later
// than any number. Identical starts prefer, in order: not from the previous
// part, the newer ad-lib insertion, non-virtual, then the lower piece id.
func IsCandidateBetterToBeContinued(best, candidate *rundown.PieceInstance) bool {
	bs, cs := best.Piece.Enable.Start, candidate.Piece.Enable.Start
	if !bs.Equal(cs) {
		if bs.IsNow() {
			return false
		}
		if cs.IsNow() {
			return true
		}
		return startValue(cs) > startValue(bs)
	}

	bFromPrevious := best.Infinite != nil && best.Infinite.FromPreviousPart
	cFromPrevious := candidate.Infinite != nil && candidate.Infinite.FromPreviousPart
	if bFromPrevious != cFromPrevious {
		return bFromPrevious
	}

	bd, cd := best.DynamicallyInserted, candidate.DynamicallyInserted
	switch {
	case bd != nil && cd != nil && *bd != *cd:
		return *cd > *bd
	case bd == nil && cd != nil:
		return true
	case bd != nil && cd == nil:
		return false
	}

	if best.Piece.Virtual != candidate.Piece.Virtual {
		return best.Piece.Virtual
	}
	return candidate.Piece.ID < best.Piece.ID
}

// startValue orders piece starts, placing "now" after every number.
func startValue(t timeline.Time) int64 {
	if ms, ok := t.Millis(); ok {
		return ms
	}
	return math.MaxInt64
}
