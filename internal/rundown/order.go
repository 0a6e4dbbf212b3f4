package rundown

import "sort"

// Ordered is a playlist with its rundowns, segments and parts sorted into
// playout order.
type Ordered struct {
	Playlist *Playlist
	Rundowns []*Rundown
	Segments []*Segment
	Parts    []*Part

	rundownIndex map[string]int
	segmentIndex map[string]int
	partIndex    map[string]int
	segments     map[string]*Segment
	rundowns     map[string]*Rundown
}

// NewOrdered sorts rundowns by the playlist's rundown list, segments by
// (rundown, rank) and parts by (segment, rank). Ids break rank ties.
// Documents whose parent is unknown are dropped.
func NewOrdered(playlist *Playlist, rundowns []*Rundown, segments []*Segment, parts []*Part) *Ordered {
	o := &Ordered{
		Playlist:     playlist,
		rundownIndex: make(map[string]int),
		segmentIndex: make(map[string]int),
		partIndex:    make(map[string]int),
		segments:     make(map[string]*Segment),
		rundowns:     make(map[string]*Rundown),
	}

	byID := make(map[string]*Rundown, len(rundowns))
	for _, r := range rundowns {
		byID[r.ID] = r
	}
	for _, id := range playlist.RundownIDs {
		if r, ok := byID[id]; ok {
			if _, seen := o.rundownIndex[id]; seen {
				continue
			}
			o.rundownIndex[id] = len(o.Rundowns)
			o.Rundowns = append(o.Rundowns, r)
			o.rundowns[id] = r
		}
	}

	for _, s := range segments {
		if _, ok := o.rundownIndex[s.RundownID]; ok {
			o.Segments = append(o.Segments, s)
		}
	}
	sort.SliceStable(o.Segments, func(i, j int) bool {
		a, b := o.Segments[i], o.Segments[j]
		if ra, rb := o.rundownIndex[a.RundownID], o.rundownIndex[b.RundownID]; ra != rb {
			return ra < rb
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ID < b.ID
	})
	for i, s := range o.Segments {
		o.segmentIndex[s.ID] = i
		o.segments[s.ID] = s
	}

	for _, p := range parts {
		if _, ok := o.segmentIndex[p.SegmentID]; ok {
			o.Parts = append(o.Parts, p)
		}
	}
	sort.SliceStable(o.Parts, func(i, j int) bool {
		a, b := o.Parts[i], o.Parts[j]
		if sa, sb := o.segmentIndex[a.SegmentID], o.segmentIndex[b.SegmentID]; sa != sb {
			return sa < sb
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ID < b.ID
	})
	for i, p := range o.Parts {
		o.partIndex[p.ID] = i
	}
	return o
}

// PartIndex returns the playlist position of a part, or -1.
func (o *Ordered) PartIndex(partID string) int {
	if i, ok := o.partIndex[partID]; ok {
		return i
	}
	return -1
}

// SegmentIndex returns the playlist position of a segment, or -1.
func (o *Ordered) SegmentIndex(segmentID string) int {
	if i, ok := o.segmentIndex[segmentID]; ok {
		return i
	}
	return -1
}

// RundownIndex returns the playlist position of a rundown, or -1.
func (o *Ordered) RundownIndex(rundownID string) int {
	if i, ok := o.rundownIndex[rundownID]; ok {
		return i
	}
	return -1
}

// Part looks a part up by id.
func (o *Ordered) Part(partID string) (*Part, bool) {
	i := o.PartIndex(partID)
	if i < 0 {
		return nil, false
	}
	return o.Parts[i], true
}

// Segment looks a segment up by id.
func (o *Ordered) Segment(segmentID string) (*Segment, bool) {
	s, ok := o.segments[segmentID]
	return s, ok
}

// Rundown looks a rundown up by id.
func (o *Ordered) Rundown(rundownID string) (*Rundown, bool) {
	r, ok := o.rundowns[rundownID]
	return r, ok
}

// PartIDs returns all part ids in playout order.
func (o *Ordered) PartIDs() []string {
	ids := make([]string, len(o.Parts))
	for i, p := range o.Parts {
		ids[i] = p.ID
	}
	return ids
}

// NextPlayablePart returns the first playable part after afterPartID. An empty
// afterPartID starts from the beginning. With loop set the search wraps once.
func (o *Ordered) NextPlayablePart(afterPartID string, loop bool) *Part {
	start := 0
	if afterPartID != "" {
		idx := o.PartIndex(afterPartID)
		if idx >= 0 {
			start = idx + 1
		}
	}
	for i := start; i < len(o.Parts); i++ {
		if o.Parts[i].IsPlayable() {
			return o.Parts[i]
		}
	}
	if loop {
		for i := 0; i < start && i < len(o.Parts); i++ {
			if o.Parts[i].IsPlayable() {
				return o.Parts[i]
			}
		}
	}
	return nil
}
