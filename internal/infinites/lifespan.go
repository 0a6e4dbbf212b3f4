package infinites

import (
	"sort"

	"github.com/google/uuid"

	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

// Playhead is the part instance currently on air together with its live piece
// instances.
type Playhead struct {
	PartInstance   *rundown.PartInstance
	PieceInstances []*rundown.PieceInstance
}

// Request describes the PartInstance whose pieces are being resolved.
type Request struct {
	PlaylistID     string
	ActivationID   string
	PartInstanceID string
	Part           *rundown.Part
	Scope          Scope

	// Pieces are candidate pieces of the playlist. Pieces that cannot reach
	// the part are ignored.
	Pieces []*rundown.Piece

	// Playhead is nil when resolving speculatively, before anything is on air.
	Playhead               *Playhead
	NextPartIsAfterCurrent bool

	// NewInfiniteID mints infinite instance ids. Defaults to uuid.NewString.
	NewInfiniteID func() string
}

func (r *Request) newInfiniteID() string {
	if r.NewInfiniteID != nil {
		return r.NewInfiniteID()
	}
	return uuid.NewString()
}

func (r *Request) hasPlayhead() bool {
	return r.Playhead != nil && r.Playhead.PartInstance != nil
}

// ResolveActivePieces returns the piece instances that should exist for the
// requested part: its own pieces, on-end infinites inherited structurally, and
// infinites carried forward from the playhead.
func ResolveActivePieces(req Request) []*rundown.PieceInstance {
	var playing map[string]*rundown.PieceInstance
	if req.hasPlayhead() && req.NextPartIsAfterCurrent {
		playing = make(map[string]*rundown.PieceInstance)
		for _, pi := range req.Playhead.PieceInstances {
			if pi.Infinite != nil {
				playing[pi.Infinite.InfinitePieceID] = pi
			}
		}
	}
	infiniteIDFor := func(pieceID string) string {
		if pi, ok := playing[pieceID]; ok {
			return pi.Infinite.InfiniteInstanceID
		}
		return req.newInfiniteID()
	}

	var own []*rundown.Piece
	for _, p := range req.Pieces {
		if p.StartPartID == req.Part.ID {
			own = append(own, p)
		}
	}

	var out []*rundown.PieceInstance
	for _, p := range own {
		pi := req.wrap(p)
		if p.Lifespan.IsInfinite() {
			pi.Infinite = &rundown.InfiniteInfo{
				InfiniteInstanceID: infiniteIDFor(p.ID),
				InfinitePieceID:    p.ID,
			}
		}
		out = append(out, pi)
	}

	for _, p := range req.inheritedPieces(own) {
		pi := req.wrap(p)
		pi.ID += "_continue"
		pi.Piece.Enable.Start = timeline.Abs(0)
		pi.Infinite = &rundown.InfiniteInfo{
			InfiniteInstanceID: infiniteIDFor(p.ID),
			InfinitePieceID:    p.ID,
			FromPreviousPart:   true,
		}
		if live, ok := playing[p.ID]; ok && live.StartedPlayback != nil {
			at := *live.StartedPlayback
			pi.StartedPlayback = &at
		}
		out = append(out, pi)
	}

	if req.hasPlayhead() {
		out = append(out, PlayheadInfinites(req)...)
	}
	return out
}

func (r *Request) wrap(p *rundown.Piece) *rundown.PieceInstance {
	return &rundown.PieceInstance{
		ID:                   r.PartInstanceID + "_" + p.ID,
		PlaylistID:           r.PlaylistID,
		PartInstanceID:       r.PartInstanceID,
		RundownID:            r.Part.RundownID,
		PlaylistActivationID: r.ActivationID,
		Piece:                *p,
	}
}

type layerLifespan struct {
	layer    string
	lifespan rundown.Lifespan
}

// inheritedPieces picks, per (source layer, lifespan), the one latest-starting
// piece from earlier parts that can still reach the target part.
func (r *Request) inheritedPieces(own []*rundown.Piece) []*rundown.Piece {
	best := make(map[layerLifespan]*rundown.Piece)
	var keys []layerLifespan
	for _, p := range r.Pieces {
		if p.StartPartID == r.Part.ID || !r.isPotentiallyActive(p) {
			continue
		}
		k := layerLifespan{p.SourceLayerID, p.Lifespan}
		cur, ok := best[k]
		if !ok {
			keys = append(keys, k)
			best[k] = p
			continue
		}
		if r.takesPrecedence(p, cur) {
			best[k] = p
		}
	}

	// A piece of the target part starting at zero on the same layer and
	// lifespan supersedes the inherited one.
	for _, p := range own {
		if start, ok := p.Enable.Start.Millis(); ok && start == 0 {
			delete(best, layerLifespan{p.SourceLayerID, p.Lifespan})
		}
	}

	var out []*rundown.Piece
	for _, k := range keys {
		if p, ok := best[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Request) isPotentiallyActive(p *rundown.Piece) bool {
	switch p.Lifespan {
	case rundown.LifespanOutOnSegmentEnd:
		return r.Scope.precedesInSegment(r.Part, p)
	case rundown.LifespanOutOnSegmentChange:
		return !r.hasPlayhead() && r.Scope.precedesInSegment(r.Part, p)
	case rundown.LifespanOutOnRundownEnd:
		return r.Scope.precedesInRundown(r.Part, p)
	case rundown.LifespanOutOnRundownChange:
		return !r.hasPlayhead() && r.Scope.precedesInRundown(r.Part, p)
	case rundown.LifespanOutOnShowStyleEnd:
		return r.Scope.precedesInShowStyle(r.Part, p)
	}
	return false
}

// takesPrecedence reports whether candidate starts after existing, by part
// order and then by start within the part. Lower ids win exact ties.
func (r *Request) takesPrecedence(candidate, existing *rundown.Piece) bool {
	ci, ei := r.Scope.partPosition(candidate.StartPartID), r.Scope.partPosition(existing.StartPartID)
	if ci != ei {
		return ci > ei
	}
	cs, es := startValue(candidate.Enable.Start), startValue(existing.Enable.Start)
	if cs != es {
		return cs > es
	}
	return candidate.ID < existing.ID
}

// PlayheadInfinites returns continuations of the playhead's infinites that
// must carry into the requested part. Change lifespans continue while the
// playhead stays within their scope. On-end ad-libs, and instances already
// carried by the playhead, continue only when the part comes after the
// playhead.
func PlayheadInfinites(req Request) []*rundown.PieceInstance {
	if !req.hasPlayhead() {
		return nil
	}
	playhead := req.Playhead.PartInstance

	byLayer := make(map[string][]*rundown.PieceInstance)
	for _, pi := range req.Playhead.PieceInstances {
		byLayer[pi.Piece.SourceLayerID] = append(byLayer[pi.Piece.SourceLayerID], pi)
	}
	layers := make([]string, 0, len(byLayer))
	for l := range byLayer {
		layers = append(layers, l)
	}
	sort.Strings(layers)

	var out []*rundown.PieceInstance
	for _, layer := range layers {
		instances := byLayer[layer]

		if last := lastStarting(instances, nil); last != nil && last.IsActive() {
			switch last.Piece.Lifespan {
			case rundown.LifespanOutOnSegmentChange:
				if playhead.SegmentID == req.Part.SegmentID {
					out = appendContinuation(out, req, last)
				}
			case rundown.LifespanOutOnRundownChange:
				if last.RundownID == req.Part.RundownID {
					out = appendContinuation(out, req, last)
				}
			}
		}

		if !req.NextPartIsAfterCurrent {
			continue
		}
		for _, mode := range []rundown.Lifespan{
			rundown.LifespanOutOnShowStyleEnd,
			rundown.LifespanOutOnRundownEnd,
			rundown.LifespanOutOnSegmentEnd,
		} {
			cand := lastStarting(instances, func(pi *rundown.PieceInstance) bool {
				return pi.Piece.Lifespan == mode && pi.Infinite != nil &&
					(pi.Infinite.FromPreviousPlayhead || pi.DynamicallyInserted != nil)
			})
			if cand == nil || !cand.IsActive() {
				continue
			}
			var valid bool
			switch mode {
			case rundown.LifespanOutOnSegmentEnd:
				_, before := req.Scope.PartsBeforeInSegment[cand.Piece.StartPartID]
				valid = playhead.SegmentID == req.Part.SegmentID && before
			case rundown.LifespanOutOnRundownEnd:
				valid = cand.RundownID == req.Part.RundownID && req.Scope.segmentAtOrBefore(req.Part, playhead.SegmentID)
			case rundown.LifespanOutOnShowStyleEnd:
				valid = req.Scope.showStyleChainHolds(playhead.RundownID, req.Part.RundownID)
			}
			if valid {
				out = appendContinuation(out, req, cand)
			}
		}
	}
	return out
}

// lastStarting returns the latest starting instance accepted by keep; a nil
// keep accepts everything.
func lastStarting(instances []*rundown.PieceInstance, keep func(*rundown.PieceInstance) bool) *rundown.PieceInstance {
	var best *rundown.PieceInstance
	for _, pi := range instances {
		if keep != nil && !keep(pi) {
			continue
		}
		if best == nil || IsCandidateBetterToBeContinued(best, pi) {
			best = pi
		}
	}
	return best
}

func appendContinuation(out []*rundown.PieceInstance, req Request, prev *rundown.PieceInstance) []*rundown.PieceInstance {
	if prev.Infinite == nil {
		return out
	}
	c := prev.Clone()
	c.ID = req.PartInstanceID + "_" + prev.Piece.ID + "_continue"
	c.PartInstanceID = req.PartInstanceID
	c.RundownID = req.Part.RundownID
	c.PlaylistActivationID = req.ActivationID
	c.Piece.Enable.Start = timeline.Abs(0)
	c.Infinite.FromPreviousPart = true
	c.Infinite.FromPreviousPlayhead = true
	c.StoppedPlayback = nil
	c.UserDuration = nil
	c.Disabled = false
	return append(out, c)
}
