package infinites

import "playout-orchestrator/internal/rundown"

// Scope records what precedes a target part within its segment, rundown and
// playlist. It is the structural input of the lifespan rules.
type Scope struct {
	// PartsBeforeInSegment holds the parts of the target's segment ranked
	// before it.
	PartsBeforeInSegment map[string]struct{}
	// SegmentsBeforeInRundown holds the segments of the target's rundown
	// ranked before the target's segment.
	SegmentsBeforeInRundown map[string]struct{}
	// RundownsBefore lists, in playlist order, the rundowns before the
	// target's rundown.
	RundownsBefore []string
	// RundownShowStyles maps every rundown of the playlist to its show style.
	RundownShowStyles map[string]string
	// OrderedPartIDs is the playlist part order, used to compare origins.
	OrderedPartIDs []string

	partIndex map[string]int
}

// ScopeFor computes the scope of part within the ordered playlist. Parts that
// are not part of the playlist (orphaned ad-lib parts) get an empty scope.
func ScopeFor(ord *rundown.Ordered, part *rundown.Part) Scope {
	sc := Scope{
		PartsBeforeInSegment:    make(map[string]struct{}),
		SegmentsBeforeInRundown: make(map[string]struct{}),
		RundownShowStyles:       make(map[string]string, len(ord.Rundowns)),
		OrderedPartIDs:          ord.PartIDs(),
	}
	sc.indexParts()
	for _, r := range ord.Rundowns {
		sc.RundownShowStyles[r.ID] = r.ShowStyleBaseID
	}

	if idx := ord.PartIndex(part.ID); idx >= 0 {
		for _, p := range ord.Parts[:idx] {
			if p.SegmentID == part.SegmentID {
				sc.PartsBeforeInSegment[p.ID] = struct{}{}
			}
		}
	}
	if idx := ord.SegmentIndex(part.SegmentID); idx >= 0 {
		for _, s := range ord.Segments[:idx] {
			if s.RundownID == part.RundownID {
				sc.SegmentsBeforeInRundown[s.ID] = struct{}{}
			}
		}
	}
	if idx := ord.RundownIndex(part.RundownID); idx >= 0 {
		for _, r := range ord.Rundowns[:idx] {
			sc.RundownsBefore = append(sc.RundownsBefore, r.ID)
		}
	}
	return sc
}

func (s *Scope) indexParts() {
	s.partIndex = make(map[string]int, len(s.OrderedPartIDs))
	for i, id := range s.OrderedPartIDs {
		s.partIndex[id] = i
	}
}

func (s *Scope) partPosition(partID string) int {
	if s.partIndex == nil {
		s.indexParts()
	}
	if i, ok := s.partIndex[partID]; ok {
		return i
	}
	return -1
}

func (s *Scope) precedesInSegment(part *rundown.Part, piece *rundown.Piece) bool {
	if piece.StartSegmentID != part.SegmentID {
		return false
	}
	_, ok := s.PartsBeforeInSegment[piece.StartPartID]
	return ok
}

func (s *Scope) precedesInRundown(part *rundown.Part, piece *rundown.Piece) bool {
	if piece.StartRundownID != part.RundownID {
		return false
	}
	if _, ok := s.SegmentsBeforeInRundown[piece.StartSegmentID]; ok {
		return true
	}
	return s.precedesInSegment(part, piece)
}

func (s *Scope) precedesInShowStyle(part *rundown.Part, piece *rundown.Piece) bool {
	if s.precedesInRundown(part, piece) {
		return true
	}
	return s.rundownBefore(piece.StartRundownID) && s.showStyleChainHolds(piece.StartRundownID, part.RundownID)
}

func (s *Scope) rundownBefore(rundownID string) bool {
	for _, id := range s.RundownsBefore {
		if id == rundownID {
			return true
		}
	}
	return false
}

// showStyleChainHolds reports whether every rundown from fromRundown up to the
// target rundown shares the target's show style.
func (s *Scope) showStyleChainHolds(fromRundown, targetRundown string) bool {
	target, ok := s.RundownShowStyles[targetRundown]
	if !ok || s.RundownShowStyles[fromRundown] != target {
		return false
	}
	if fromRundown == targetRundown {
		return true
	}
	start := -1
	for i, id := range s.RundownsBefore {
		if id == fromRundown {
			start = i
			break
		}
	}
	if start < 0 {
		return false
	}
	for _, id := range s.RundownsBefore[start:] {
		if s.RundownShowStyles[id] != target {
			return false
		}
	}
	return true
}

// segmentAtOrBefore reports whether segmentID is the target's segment or one
// ranked before it in the same rundown.
func (s *Scope) segmentAtOrBefore(part *rundown.Part, segmentID string) bool {
	if segmentID == part.SegmentID {
		return true
	}
	_, ok := s.SegmentsBeforeInRundown[segmentID]
	return ok
}
