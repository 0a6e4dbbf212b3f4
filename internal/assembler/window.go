package assembler

import (
	"playout-orchestrator/internal/infinites"
	"playout-orchestrator/internal/rundown"
)

// Window is one part instance on the timeline (previous, current or next)
// with its piece instances already stacked.
type Window struct {
	PartInstance *rundown.PartInstance
	Pieces       []*infinites.ResolvedPieceInstance
	// NowInPart is the playback position in the part, 0 before it starts.
	NowInPart int64
}

// NewWindow resolves the timings of candidates for partInstance at now
// (unix ms).
func NewWindow(partInstance *rundown.PartInstance, candidates []*rundown.PieceInstance, layers rundown.SourceLayers, now int64) *Window {
	var nowInPart int64
	if started := partInstance.Timings.StartedPlayback; started != nil && now > *started {
		nowInPart = now - *started
	}
	return &Window{
		PartInstance: partInstance,
		Pieces:       infinites.ResolveTimings(layers, candidates, infinites.TimingOptions{NowInPart: nowInPart}),
		NowInPart:    nowInPart,
	}
}

// Part returns the part of the window; nil for a nil window.
func (w *Window) Part() *rundown.Part {
	if w == nil || w.PartInstance == nil {
		return nil
	}
	return &w.PartInstance.Part
}

func (w *Window) started() bool {
	return w.PartInstance.Timings.StartedPlayback != nil
}

// infiniteIDs collects the infinite instance ids present in the window.
func (w *Window) infiniteIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	if w == nil {
		return ids
	}
	for _, r := range w.Pieces {
		if inf := r.Instance.Infinite; inf != nil {
			ids[inf.InfiniteInstanceID] = struct{}{}
		}
	}
	return ids
}

// transitionPiece returns the first transition piece of the window.
func (w *Window) transitionPiece() *infinites.ResolvedPieceInstance {
	for _, r := range w.Pieces {
		if r.Instance.Piece.IsTransition {
			return r
		}
	}
	return nil
}
