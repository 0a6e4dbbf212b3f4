package rundown

import "fmt"

// Lifespan classifies how far a piece's on-air presence extends.
type Lifespan string

const (
	LifespanWithinPart         Lifespan = "part-only"
	LifespanOutOnSegmentChange Lifespan = "segment-change"
	LifespanOutOnSegmentEnd    Lifespan = "segment-end"
	LifespanOutOnRundownChange Lifespan = "rundown-change"
	LifespanOutOnRundownEnd    Lifespan = "rundown-end"
	LifespanOutOnShowStyleEnd  Lifespan = "showstyle-end"
)

// Tier is the stacking priority of a lifespan. Lower values lose to higher
// ones competing at the same instant.
type Tier int

const (
	TierShowStyleEnd Tier = 0
	TierRundownEnd   Tier = 1
	TierSegmentEnd   Tier = 2
	TierOther        Tier = 5
)

// Tiers lists the tiers in the order they are processed at each start point.
var Tiers = []Tier{TierOther, TierSegmentEnd, TierRundownEnd, TierShowStyleEnd}

// Valid reports whether l is one of the known lifespans.
func (l Lifespan) Valid() bool {
	switch l {
	case LifespanWithinPart, LifespanOutOnSegmentChange, LifespanOutOnSegmentEnd,
		LifespanOutOnRundownChange, LifespanOutOnRundownEnd, LifespanOutOnShowStyleEnd:
		return true
	}
	return false
}

// Tier maps the lifespan onto its stacking tier. Unknown lifespans are an
// invariant violation.
func (l Lifespan) Tier() Tier {
	switch l {
	case LifespanOutOnShowStyleEnd:
		return TierShowStyleEnd
	case LifespanOutOnRundownEnd:
		return TierRundownEnd
	case LifespanOutOnSegmentEnd:
		return TierSegmentEnd
	case LifespanWithinPart, LifespanOutOnSegmentChange, LifespanOutOnRundownChange:
		return TierOther
	}
	panic(fmt.Sprintf("rundown: unknown lifespan %q", string(l)))
}

// IsOnEnd reports whether the lifespan lasts until the end of a scope.
func (l Lifespan) IsOnEnd() bool {
	return l == LifespanOutOnSegmentEnd || l == LifespanOutOnRundownEnd || l == LifespanOutOnShowStyleEnd
}

// IsChange reports whether the lifespan lasts until the playhead leaves a scope.
func (l Lifespan) IsChange() bool {
	return l == LifespanOutOnSegmentChange || l == LifespanOutOnRundownChange
}

// IsInfinite reports whether the lifespan can outlive the originating part.
func (l Lifespan) IsInfinite() bool { return l != LifespanWithinPart }
