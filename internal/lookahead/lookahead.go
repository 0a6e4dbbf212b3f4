package lookahead

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"playout-orchestrator/internal/assembler"
	"playout-orchestrator/internal/infinites"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

const (
	DefaultTargetObjects     = 1
	DefaultMaxSearchDistance = 10

	// LayerSuffix is appended to a mapping's layer to form its lookahead layer.
	LayerSuffix = "_lookahead"

	timedPriority  = 0.1
	transitionWhen = ".is_transition"
)

// FuturePart is a part ahead of next together with its own pieces.
type FuturePart struct {
	Part   *rundown.Part
	Pieces []*rundown.Piece
}

// Input is what lookahead needs. All data is loaded up front.
type Input struct {
	Mappings map[string]rundown.Mapping

	Current *assembler.Window
	Next    *assembler.Window
	// NextOnTimeline is set when next is already scheduled, i.e. current
	// auto-nexts into it.
	NextOnTimeline bool

	// Future lists the playable parts after next in playout order, at most
	// MaxSearchDistance of them.
	Future []FuturePart
}

// MaxSearchDistance is the largest search distance over every mapping that
// wants lookahead.
func MaxSearchDistance(mappings map[string]rundown.Mapping) int {
	best := 0
	for _, m := range mappings {
		if !enabled(m) {
			continue
		}
		best = max(best, searchDistance(m))
	}
	return best
}

// OrderedPartsAfter returns up to limit playable parts after afterPartID,
// skipping excluded ids. With loop set the search wraps to the start of the
// playlist. An empty afterPartID starts from the first part.
func OrderedPartsAfter(ord *rundown.Ordered, afterPartID string, exclude []string, loop bool, limit int) []*rundown.Part {
	if limit <= 0 {
		return nil
	}
	start := 0
	if idx := ord.PartIndex(afterPartID); idx >= 0 {
		start = idx + 1
	}
	skip := func(p *rundown.Part) bool {
		return !p.IsPlayable() || p.ID == afterPartID || slices.Contains(exclude, p.ID)
	}

	var out []*rundown.Part
	for i := start; i < len(ord.Parts) && len(out) < limit; i++ {
		if !skip(ord.Parts[i]) {
			out = append(out, ord.Parts[i])
		}
	}
	if loop {
		for i := 0; i < start && len(out) < limit; i++ {
			if !skip(ord.Parts[i]) {
				out = append(out, ord.Parts[i])
			}
		}
	}
	return out
}

type candidate struct {
	obj        *timeline.Object
	instanceID string
	// realID is the id of the scheduled object a timed candidate preloads.
	realID  string
	content map[string]any
}

// Generate builds the lookahead objects of every mapping with lookahead
// enabled. Timed objects preload what is already scheduled on the layer: each
// runs from the start of the previous scheduled object until its own object
// starts, so the layer clears once the last one goes on air. Futures follow
// with an always-true enable and ever lower priority.
func Generate(in Input) []*timeline.Object {
	var out []*timeline.Object
	for _, layer := range slices.Sorted(maps.Keys(in.Mappings)) {
		m := in.Mappings[layer]
		if !enabled(m) {
			continue
		}
		out = append(out, generateForLayer(in, layer, m)...)
	}
	return out
}

func generateForLayer(in Input, layer string, m rundown.Mapping) []*timeline.Object {
	target := m.LookaheadTargetObjects
	if target <= 0 {
		target = DefaultTargetObjects
	}

	timed := timedCandidates(in, layer)

	var futures []candidate
	if in.Next != nil && !in.NextOnTimeline {
		futures = append(futures, nextAsFuture(in, layer)...)
	}
	prev := in.Next.Part()
	if prev == nil {
		prev = in.Current.Part()
	}
	dist := min(searchDistance(m), len(in.Future))
	for _, fp := range in.Future[:dist] {
		if len(futures) >= target {
			break
		}
		futures = append(futures, partCandidates(fp, prev, layer)...)
		prev = fp.Part
	}
	if len(futures) > target {
		futures = futures[:target]
	}

	var out []*timeline.Object
	for i, c := range timed {
		o := lookaheadObject(c, layer)
		o.Priority = timedPriority
		o.Enable = timeline.StartAt(timeline.Abs(1))
		if i > 0 {
			o.Enable = timeline.StartAt(timeline.Expr(timeline.StartOf(timed[i-1].realID)))
		}
		o.Enable.End = timeline.Ref(timeline.Expr(timeline.StartOf(c.realID)))
		out = append(out, o)
	}

	if m.Lookahead == rundown.LookaheadWhenClear {
		if len(futures) == 0 {
			return out
		}
		o := lookaheadObject(futures[0], layer)
		o.Priority = futurePriority(0)
		if len(out) > 0 {
			o.Enable = timeline.StartAt(timeline.Expr(timeline.EndOf(out[len(out)-1].ID)))
		} else {
			o.Enable = timeline.StartAt(timeline.Abs(0))
		}
		return append(out, o)
	}

	for i, c := range futures {
		o := lookaheadObject(c, layer)
		o.Priority = futurePriority(i)
		o.Enable = timeline.Enable{While: "1"}
		out = append(out, o)
	}
	return out
}

func futurePriority(i int) float64 {
	return timedPriority / float64(i+2)
}

func lookaheadObject(c candidate, layer string) *timeline.Object {
	o := c.obj.Clone()
	o.ID = "lookahead_" + c.instanceID + "_" + c.obj.ID
	o.Layer = layer + LayerSuffix
	o.LookaheadForLayer = layer
	o.IsLookahead = true
	o.ObjectType = timeline.ObjectTypeRundown
	o.Keyframes = nil
	o.Children = nil
	o.InGroup = ""
	if c.content != nil {
		o.Content = c.content
	}
	return o
}

// timedCandidates collects the objects on layer that current (and next, when
// scheduled) already play, in start order.
func timedCandidates(in Input, layer string) []candidate {
	var out []candidate
	if in.Current == nil || in.Current.PartInstance == nil {
		return out
	}
	out = append(out, windowCandidates(in.Current, nil, layer)...)
	if in.NextOnTimeline && in.Next != nil && in.Next.PartInstance != nil {
		skip := make(map[string]struct{})
		for _, r := range in.Current.Pieces {
			if r.Instance.Infinite != nil {
				skip[r.Instance.Infinite.InfiniteInstanceID] = struct{}{}
			}
		}
		out = append(out, windowCandidates(in.Next, skip, layer)...)
	}
	return out
}

func windowCandidates(w *assembler.Window, skip map[string]struct{}, layer string) []candidate {
	pieces := slices.Clone(w.Pieces)
	sort.SliceStable(pieces, func(i, j int) bool {
		return startPosition(pieces[i].Instance.Piece.Enable.Start, w.NowInPart) < startPosition(pieces[j].Instance.Piece.Enable.Start, w.NowInPart)
	})

	started := w.PartInstance.Timings.StartedPlayback != nil
	var out []candidate
	for _, r := range pieces {
		pi := r.Instance
		if pi.Piece.Virtual || (started && infinites.HasDefinitelyEnded(r, w.NowInPart)) {
			continue
		}
		if pi.Infinite != nil {
			if _, ok := skip[pi.Infinite.InfiniteInstanceID]; ok {
				continue
			}
		}
		for _, obj := range pi.Piece.Content.TimelineObjects {
			if obj.Layer == layer {
				out = append(out, candidate{obj: obj, instanceID: pi.ID, realID: assembler.ContentObjectID(pi.ID, obj.ID)})
			}
		}
	}
	return out
}

// nextAsFuture turns the objects of an unscheduled next part into futures.
func nextAsFuture(in Input, layer string) []candidate {
	if in.Next.PartInstance == nil {
		return nil
	}
	pieces := make([]*rundown.Piece, 0, len(in.Next.Pieces))
	ids := make(map[string]string, len(in.Next.Pieces))
	for _, r := range in.Next.Pieces {
		p := r.Instance.Piece
		pieces = append(pieces, &p)
		ids[p.ID] = r.Instance.ID
	}
	out := partCandidates(FuturePart{Part: in.Next.Part(), Pieces: pieces}, in.Current.Part(), layer)
	for i := range out {
		out[i].instanceID = ids[out[i].instanceID]
	}
	return out
}

// partCandidates picks the objects of one part on layer. When the part opens
// with an allowed transition, pieces replaced by it are left out and the
// transition keyframes of the rest are applied.
func partCandidates(fp FuturePart, previous *rundown.Part, layer string) []candidate {
	type entry struct {
		piece *rundown.Piece
		obj   *timeline.Object
	}
	var entries []entry
	pieces := slices.Clone(fp.Pieces)
	sort.SliceStable(pieces, func(i, j int) bool {
		return startPosition(pieces[i].Enable.Start, 0) < startPosition(pieces[j].Enable.Start, 0)
	})
	for _, p := range pieces {
		if p.Virtual {
			continue
		}
		for _, obj := range p.Content.TimelineObjects {
			if obj.Layer == layer {
				entries = append(entries, entry{p, obj})
			}
		}
	}
	if len(entries) == 0 {
		return nil
	}

	allowTransition := previous != nil && !previous.DisableOutTransition
	hasTransition := false
	if allowTransition {
		for _, p := range fp.Pieces {
			if p.IsTransition {
				hasTransition = true
				break
			}
		}
	}
	var classes []string
	if previous != nil {
		classes = previous.ClassesForNext
	}

	var out []candidate
	for _, e := range entries {
		if len(entries) > 1 && hasTransition && !e.piece.IsTransition {
			if ms, ok := e.piece.Enable.Start.Millis(); ok && ms == 0 {
				continue
			}
		}
		out = append(out, candidate{
			obj:        e.obj,
			instanceID: e.piece.ID,
			content:    activateKeyframes(e.obj, hasTransition, classes),
		})
	}
	return out
}

// activateKeyframes merges the transition keyframe into the object content
// when the part plays a transition. A keyframe conditioned on a class handed
// over by the previous part is the fallback.
func activateKeyframes(obj *timeline.Object, hasTransition bool, classes []string) map[string]any {
	if !hasTransition || len(obj.Keyframes) == 0 {
		return nil
	}
	var kf *timeline.Keyframe
	for i := range obj.Keyframes {
		if strings.TrimSpace(obj.Keyframes[i].Enable.While) == transitionWhen {
			kf = &obj.Keyframes[i]
			break
		}
	}
	if kf == nil {
		for i := range obj.Keyframes {
			for _, cl := range classes {
				if obj.Keyframes[i].Enable.While == transitionWhen+" & ."+cl {
					kf = &obj.Keyframes[i]
					break
				}
			}
			if kf != nil {
				break
			}
		}
	}
	if kf == nil {
		return nil
	}
	content := maps.Clone(obj.Content)
	if content == nil {
		content = make(map[string]any, len(kf.Content))
	}
	maps.Copy(content, kf.Content)
	return content
}

func enabled(m rundown.Mapping) bool {
	return m.Lookahead == rundown.LookaheadPreload || m.Lookahead == rundown.LookaheadWhenClear
}

func searchDistance(m rundown.Mapping) int {
	if m.LookaheadMaxSearchDistance != nil && *m.LookaheadMaxSearchDistance >= 0 {
		return *m.LookaheadMaxSearchDistance
	}
	return DefaultMaxSearchDistance
}

func startPosition(t timeline.Time, nowInPart int64) int64 {
	ms, _ := t.Resolve(nowInPart)
	return ms
}
