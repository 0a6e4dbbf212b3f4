package assembler

import (
	"playout-orchestrator/internal/infinites"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

// Classes set on timeline objects.
const (
	ClassRundownActive     = "rundown_active"
	ClassRundownRehearsal  = "rundown_rehearsal"
	ClassLastPart          = "last_part"
	ClassPreviousPart      = "previous_part"
	ClassCurrentPart       = "current_part"
	ClassNextPart          = "next_part"
	ClassContinuesInfinite = "continues_infinite"
)

// Callback names carried by first objects. Playout reports them back when the
// object starts or stops.
const (
	CallbackPartPlaybackStarted  = "partPlaybackStarted"
	CallbackPartPlaybackStopped  = "partPlaybackStopped"
	CallbackPiecePlaybackStarted = "piecePlaybackStarted"
	CallbackPiecePlaybackStopped = "piecePlaybackStopped"
)

const (
	statusLayer = "rundown_status"

	previousGroupPriority = -1
	infiniteGroupPriority = 1
	partGroupPriority     = 5
)

// Input is everything the timeline of one playlist is built from.
type Input struct {
	PlaylistID string
	Rehearsal  bool

	Previous *Window
	Current  *Window
	Next     *Window
}

type builder struct {
	playlistID string
}

// BuildRundownTimeline assembles the nested timeline of a playlist: a status
// object, then the part groups of previous, current and (when current
// auto-nexts) next, plus standalone groups for the infinites of current.
// Equal inputs always yield equal output.
func BuildRundownTimeline(in Input) []*timeline.Object {
	b := &builder{playlistID: in.PlaylistID}
	objs := []*timeline.Object{b.statusObject(in)}

	cur := in.Current
	if cur == nil || cur.PartInstance == nil {
		return objs
	}
	curPart := cur.Part()
	prevPart := in.Previous.Part()
	curGroupID := timeline.PartGroupID(cur.PartInstance.ID)
	curInfinites := cur.infiniteIDs()

	if prev := in.Previous; prev != nil && prev.PartInstance != nil && prev.started() {
		g := b.partGroup(prev, ClassPreviousPart, nil)
		g.Priority = previousGroupPriority
		g.Enable = timeline.Enable{
			Start: timeline.Ref(timeline.Abs(*prev.PartInstance.Timings.StartedPlayback)),
			End:   timeline.Ref(timeline.Expr(timeline.Offset(timeline.StartOf(curGroupID), PreviousPartOverlap(prevPart, curPart)))),
		}
		for _, r := range prev.Pieces {
			if inf := r.Instance.Infinite; inf != nil {
				if _, continues := curInfinites[inf.InfiniteInstanceID]; continues {
					continue
				}
			}
			if pg := b.windowPieceGroup(prev, r, false); pg != nil {
				g.Children = append(g.Children, pg)
			}
		}
		objs = append(objs, g)
	}

	var forNext []string
	if prevPart != nil {
		forNext = prevPart.ClassesForNext
	}
	curGroup := b.partGroup(cur, ClassCurrentPart, forNext)
	if started := cur.PartInstance.Timings.StartedPlayback; started != nil {
		curGroup.Enable = timeline.StartAt(timeline.Abs(*started))
	} else {
		curGroup.Enable = timeline.StartAt(timeline.Now())
	}
	if d, ok := CurrentPartDuration(prevPart, curPart); ok {
		curGroup.Enable.Duration = &d
	}

	next := in.Next
	if next != nil && next.PartInstance == nil {
		next = nil
	}
	nextOnTimeline := next != nil && curPart.AutoNext
	var nextInfinites map[string]struct{}
	if nextOnTimeline {
		nextInfinites = next.infiniteIDs()
	}
	prevInfinites := in.Previous.infiniteIDs()
	curTransitions := transitionAllowed(prevPart)

	var infiniteGroups []*timeline.Object
	for _, r := range cur.Pieces {
		pi := r.Instance
		if pi.Infinite == nil || pi.Piece.Lifespan == rundown.LifespanWithinPart {
			if pg := b.windowPieceGroup(cur, r, curTransitions); pg != nil {
				curGroup.Children = append(curGroup.Children, pg)
			}
			continue
		}
		_, continuesIntoNext := nextInfinites[pi.Infinite.InfiniteInstanceID]
		_, continuesFromPrev := prevInfinites[pi.Infinite.InfiniteInstanceID]
		if ig := b.infiniteGroup(cur, r, curTransitions, continuesFromPrev, nextOnTimeline && !continuesIntoNext); ig != nil {
			infiniteGroups = append(infiniteGroups, ig)
		}
	}
	objs = append(objs, curGroup)
	objs = append(objs, infiniteGroups...)

	if nextOnTimeline {
		nextPart := next.Part()
		g := b.partGroup(next, ClassNextPart, curPart.ClassesForNext)
		g.Enable = timeline.StartAt(timeline.Expr(timeline.Offset(timeline.EndOf(curGroupID), -NextPartOverlap(curPart, nextPart))))
		if d, ok := CurrentPartDuration(curPart, nextPart); ok {
			g.Enable.Duration = &d
		}
		nextTransitions := transitionAllowed(curPart)
		for _, r := range next.Pieces {
			if inf := r.Instance.Infinite; inf != nil {
				if _, continues := curInfinites[inf.InfiniteInstanceID]; continues {
					continue
				}
			}
			if pg := b.windowPieceGroup(next, r, nextTransitions); pg != nil {
				g.Children = append(g.Children, pg)
			}
		}
		objs = append(objs, g)
	}
	return objs
}

func (b *builder) statusObject(in Input) *timeline.Object {
	classes := []string{ClassRundownActive}
	if in.Rehearsal {
		classes = []string{ClassRundownRehearsal}
	}
	if in.Next == nil || in.Next.PartInstance == nil {
		classes = append(classes, ClassLastPart)
	}
	return &timeline.Object{
		ID:         in.PlaylistID + "_status",
		Layer:      statusLayer,
		Enable:     timeline.Enable{While: "1"},
		Classes:    classes,
		Content:    map[string]any{"deviceType": "abstract"},
		ObjectType: timeline.ObjectTypeRundown,
	}
}

func (b *builder) partGroup(w *Window, role string, extra []string) *timeline.Object {
	pi := w.PartInstance
	classes := append([]string{role}, pi.Part.Classes...)
	classes = append(classes, extra...)
	return &timeline.Object{
		ID:             timeline.PartGroupID(pi.ID),
		IsGroup:        true,
		Priority:       partGroupPriority,
		Classes:        classes,
		Content:        map[string]any{"deviceType": "abstract", "type": "group"},
		ObjectType:     timeline.ObjectTypeRundown,
		PartInstanceID: pi.ID,
		Children: []*timeline.Object{{
			ID:     timeline.PartGroupFirstObjectID(pi.ID),
			Enable: timeline.StartAt(timeline.Abs(0)),
			Content: map[string]any{
				"deviceType":      "abstract",
				"type":            "callback",
				"callBack":        CallbackPartPlaybackStarted,
				"callBackStopped": CallbackPartPlaybackStopped,
				"callBackData": map[string]any{
					"rundownPlaylistId": b.playlistID,
					"partInstanceId":    pi.ID,
				},
			},
			ObjectType:     timeline.ObjectTypeRundown,
			PartInstanceID: pi.ID,
		}},
	}
}

// windowPieceGroup builds the piece group of r inside its part group, or nil
// when the instance is pruned.
func (b *builder) windowPieceGroup(w *Window, r *infinites.ResolvedPieceInstance, transitions bool) *timeline.Object {
	if w.started() && infinites.HasDefinitelyEnded(r, w.NowInPart) {
		return nil
	}
	start, ok := pieceStart(w, r, transitions)
	if !ok {
		return nil
	}
	return b.pieceGroup(w, r, start)
}

// infiniteGroup wraps an infinite of the current part in a group of its own,
// anchored at the part start or at the time the piece actually started.
func (b *builder) infiniteGroup(w *Window, r *infinites.ResolvedPieceInstance, transitions, continues, endWithPart bool) *timeline.Object {
	if w.started() && infinites.HasDefinitelyEnded(r, w.NowInPart) {
		return nil
	}
	start, ok := pieceStart(w, r, transitions)
	if !ok {
		return nil
	}
	pi := r.Instance
	partGroupID := timeline.PartGroupID(w.PartInstance.ID)

	g := &timeline.Object{
		ID:                      timeline.InfiniteGroupID(pi.ID),
		IsGroup:                 true,
		Layer:                   pi.Piece.SourceLayerID,
		Priority:                infiniteGroupPriority,
		Content:                 map[string]any{"deviceType": "abstract", "type": "group"},
		ObjectType:              timeline.ObjectTypeRundown,
		PartInstanceID:          w.PartInstance.ID,
		PieceInstanceID:         pi.ID,
		InfinitePieceInstanceID: pi.Infinite.InfiniteInstanceID,
	}
	if continues {
		g.Classes = []string{ClassContinuesInfinite}
	}

	anchored := pi.StartedPlayback != nil
	if anchored {
		g.Enable = timeline.StartAt(timeline.Abs(*pi.StartedPlayback))
		start = timeline.Abs(0)
	} else {
		g.Enable = timeline.StartAt(timeline.Expr(timeline.StartOf(partGroupID)))
	}
	if endWithPart {
		g.Enable.End = timeline.Ref(timeline.Expr(timeline.EndOf(partGroupID)))
	}

	pg := b.pieceGroup(w, r, start)
	if anchored && pg.Enable.End != nil {
		if ms, ok := pg.Enable.End.Millis(); ok {
			pg.Enable.End = timeline.Ref(timeline.Expr(timeline.Offset(timeline.StartOf(partGroupID), ms)))
		}
	}
	g.Children = []*timeline.Object{pg}
	return g
}

// pieceStart applies transition delays. Transition pieces are dropped when
// the part may not play its in-transition.
func pieceStart(w *Window, r *infinites.ResolvedPieceInstance, transitions bool) (timeline.Time, bool) {
	part := w.Part()
	piece := r.Instance.Piece
	start := piece.Enable.Start

	if piece.IsTransition {
		if !transitions {
			return start, false
		}
		if ms, ok := start.Millis(); ok {
			return timeline.Abs(ms + max(0, part.PrerollDuration-deref(part.TransitionPrerollDuration))), true
		}
		return start, true
	}

	if !transitions {
		return start, true
	}
	if ms, ok := start.Millis(); ok && ms == 0 {
		if tr := w.transitionPiece(); tr != nil {
			delay := deref(part.TransitionPrerollDuration) - part.PrerollDuration
			return timeline.Expr(timeline.Offset(timeline.StartOf(timeline.PieceGroupID(tr.Instance.ID)), delay)), true
		}
	}
	return start, true
}

func (b *builder) pieceGroup(w *Window, r *infinites.ResolvedPieceInstance, start timeline.Time) *timeline.Object {
	pi := r.Instance
	var infiniteID string
	if pi.Infinite != nil {
		infiniteID = pi.Infinite.InfiniteInstanceID
	}

	g := &timeline.Object{
		ID:                      timeline.PieceGroupID(pi.ID),
		IsGroup:                 true,
		Layer:                   pi.Piece.SourceLayerID,
		Priority:                float64(r.Priority),
		Enable:                  timeline.StartAt(start),
		Content:                 map[string]any{"deviceType": "abstract", "type": "group"},
		ObjectType:              timeline.ObjectTypeRundown,
		PartInstanceID:          w.PartInstance.ID,
		PieceInstanceID:         pi.ID,
		InfinitePieceInstanceID: infiniteID,
	}
	if r.ResolvedEnd != nil {
		g.Enable.End = timeline.Ref(*r.ResolvedEnd)
	} else if d := pi.Piece.Enable.Duration; d != nil {
		dur := *d
		g.Enable.Duration = &dur
	}

	g.Children = append(g.Children, &timeline.Object{
		ID:     timeline.PieceGroupFirstObjectID(pi.ID),
		Enable: timeline.StartAt(timeline.Abs(0)),
		Content: map[string]any{
			"deviceType":      "abstract",
			"type":            "callback",
			"callBack":        CallbackPiecePlaybackStarted,
			"callBackStopped": CallbackPiecePlaybackStopped,
			"callBackData": map[string]any{
				"rundownPlaylistId": b.playlistID,
				"pieceInstanceId":   pi.ID,
			},
		},
		ObjectType:      timeline.ObjectTypeRundown,
		PartInstanceID:  w.PartInstance.ID,
		PieceInstanceID: pi.ID,
	})
	if pi.Piece.Virtual {
		return g
	}
	for _, src := range pi.Piece.Content.TimelineObjects {
		g.Children = append(g.Children, contentObject(w.PartInstance.ID, pi, src))
	}
	return g
}

// ContentObjectID is the timeline id of an authored object played by a piece
// instance.
func ContentObjectID(pieceInstanceID, objectID string) string {
	return pieceInstanceID + "_" + objectID
}

// contentObject copies an authored object into the timeline under an id
// unique to the piece instance. Keyframes kept for lookahead only are dropped.
func contentObject(partInstanceID string, pi *rundown.PieceInstance, src *timeline.Object) *timeline.Object {
	o := src.Clone()
	o.ID = ContentObjectID(pi.ID, src.ID)
	o.ObjectType = timeline.ObjectTypeRundown
	o.PartInstanceID = partInstanceID
	o.PieceInstanceID = pi.ID
	if pi.Infinite != nil {
		o.InfinitePieceInstanceID = pi.Infinite.InfiniteInstanceID
	}
	if o.Enable.Start == nil && o.Enable.While == "" {
		o.Enable.Start = timeline.Ref(timeline.Abs(0))
	}
	if len(o.Keyframes) > 0 {
		kept := o.Keyframes[:0]
		for _, kf := range o.Keyframes {
			if !kf.PreserveForLookahead {
				kept = append(kept, kf)
			}
		}
		o.Keyframes = kept
		if len(kept) == 0 {
			o.Keyframes = nil
		}
	}
	return o
}
