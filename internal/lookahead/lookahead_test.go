package lookahead

import (
	"testing"

	"playout-orchestrator/internal/assembler"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

func intPtr(v int) *int { return &v }

func clipPiece(partID, id, layer string, start timeline.Time) *rundown.Piece {
	return &rundown.Piece{
		ID:            id,
		StartPartID:   partID,
		SourceLayerID: "src_" + id,
		Lifespan:      rundown.LifespanWithinPart,
		Enable:        rundown.PieceEnable{Start: start},
		Content: rundown.PieceContent{TimelineObjects: []*timeline.Object{{
			ID:      "obj",
			Layer:   layer,
			Content: map[string]any{"file": id},
		}}},
	}
}

func windowOf(id string, part rundown.Part, pieces ...*rundown.Piece) *assembler.Window {
	pi := &rundown.PartInstance{ID: id, Part: part}
	var instances []*rundown.PieceInstance
	for _, p := range pieces {
		instances = append(instances, &rundown.PieceInstance{ID: id + "_" + p.ID, PartInstanceID: id, Piece: *p})
	}
	return assembler.NewWindow(pi, instances, nil, 0)
}

func futurePart(id string, pieces ...*rundown.Piece) FuturePart {
	return FuturePart{Part: &rundown.Part{ID: id}, Pieces: pieces}
}

func TestMaxSearchDistance(t *testing.T) {
	mappings := map[string]rundown.Mapping{
		"a": {Lookahead: rundown.LookaheadPreload, LookaheadMaxSearchDistance: intPtr(2)},
		"b": {Lookahead: rundown.LookaheadNone, LookaheadMaxSearchDistance: intPtr(50)},
	}
	if got := MaxSearchDistance(mappings); got != 2 {
		t.Errorf("got %d want 2", got)
	}
	mappings["c"] = rundown.Mapping{Lookahead: rundown.LookaheadWhenClear}
	if got := MaxSearchDistance(mappings); got != DefaultMaxSearchDistance {
		t.Errorf("got %d want default %d", got, DefaultMaxSearchDistance)
	}
	if got := MaxSearchDistance(nil); got != 0 {
		t.Errorf("no mappings: got %d", got)
	}
}

func TestOrderedPartsAfter(t *testing.T) {
	playlist := &rundown.Playlist{ID: "pl", RundownIDs: []string{"r"}}
	rundowns := []*rundown.Rundown{{ID: "r"}}
	segments := []*rundown.Segment{{ID: "s", RundownID: "r"}}
	var parts []*rundown.Part
	for i, id := range []string{"p0", "p1", "N", "p3", "p4", "p5", "p6"} {
		parts = append(parts, &rundown.Part{ID: id, SegmentID: "s", RundownID: "r", Rank: float64(i), Invalid: id == "p4"})
	}
	ord := rundown.NewOrdered(playlist, rundowns, segments, parts)

	ids := func(ps []*rundown.Part) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}
	equal := func(a, b []string) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	t.Run("distance_two_after_next", func(t *testing.T) {
		got := ids(OrderedPartsAfter(ord, "N", []string{"p1"}, false, 2))
		if !equal(got, []string{"p3", "p5"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("loop_skips_playhead", func(t *testing.T) {
		got := ids(OrderedPartsAfter(ord, "p5", []string{"p0", "p3"}, true, 3))
		if !equal(got, []string{"p6", "p1", "N"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("no_loop", func(t *testing.T) {
		got := ids(OrderedPartsAfter(ord, "p6", nil, false, 5))
		if len(got) != 0 {
			t.Errorf("got %v", got)
		}
	})
}

func TestGenerate_preload(t *testing.T) {
	cur := windowOf("cur", rundown.Part{ID: "c"},
		clipPiece("c", "a", "vt", timeline.Abs(0)),
		clipPiece("c", "b", "vt", timeline.Abs(5000)),
		clipPiece("c", "g", "gfx", timeline.Abs(0)),
	)
	next := windowOf("nxt", rundown.Part{ID: "n"}, clipPiece("n", "n1", "vt", timeline.Abs(0)))

	out := Generate(Input{
		Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload, LookaheadTargetObjects: 2}},
		Current:  cur,
		Next:     next,
		Future: []FuturePart{
			futurePart("f1", clipPiece("f1", "x", "vt", timeline.Abs(0))),
			futurePart("f2", clipPiece("f2", "y", "vt", timeline.Abs(0))),
		},
	})
	if len(out) != 4 {
		t.Fatalf("expected 2 timed and 2 future objects, got %d", len(out))
	}

	first, second := out[0], out[1]
	if first.ID != "lookahead_cur_a_obj" || first.Layer != "vt_lookahead" || first.LookaheadForLayer != "vt" || !first.IsLookahead {
		t.Errorf("unexpected timed object %+v", first)
	}
	if first.Enable.Start.String() != "1" || first.Enable.End == nil || first.Enable.End.String() != "#cur_a_obj.start" {
		t.Errorf("first timed object should run until its content starts: %+v", first.Enable)
	}
	if second.Enable.Start.String() != "#cur_a_obj.start" || second.Enable.End == nil || second.Enable.End.String() != "#cur_b_obj.start" {
		t.Errorf("timed objects should chain: %+v", second.Enable)
	}

	fut1, fut2 := out[2], out[3]
	if fut1.ID != "lookahead_nxt_n1_obj" {
		t.Errorf("unscheduled next should be the first future, got %s", fut1.ID)
	}
	if fut2.ID != "lookahead_x_obj" {
		t.Errorf("expected f1 object as second future, got %s", fut2.ID)
	}
	if fut1.Enable.While != "1" || fut2.Enable.While != "1" {
		t.Error("futures should use an always-true enable")
	}
	if !(first.Priority > fut1.Priority && fut1.Priority > fut2.Priority) {
		t.Errorf("priorities should strictly decrease: %v %v %v", first.Priority, fut1.Priority, fut2.Priority)
	}
}

func TestGenerate_layer_clears_for_futures(t *testing.T) {
	cur := windowOf("cur", rundown.Part{ID: "c"}, clipPiece("c", "a", "vt", timeline.Abs(0)))
	out := Generate(Input{
		Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload}},
		Current:  cur,
		Future:   []FuturePart{futurePart("f1", clipPiece("f1", "x", "vt", timeline.Abs(0)))},
	})
	if len(out) != 2 {
		t.Fatalf("expected timed and future objects, got %d", len(out))
	}
	timed, future := out[0], out[1]
	if timed.ID != "lookahead_cur_a_obj" || timed.Enable.End == nil {
		t.Fatalf("timed object outranks the future and must end: %+v", timed.Enable)
	}
	if timed.Priority <= future.Priority {
		t.Errorf("timed priority %v should beat future %v", timed.Priority, future.Priority)
	}
	if future.ID != "lookahead_x_obj" || future.Enable.While != "1" {
		t.Errorf("future should hold the layer once the timed object ends: %+v", future)
	}
}

func TestGenerate_next_on_timeline(t *testing.T) {
	cur := windowOf("cur", rundown.Part{ID: "c", AutoNext: true})
	next := windowOf("nxt", rundown.Part{ID: "n"}, clipPiece("n", "n1", "vt", timeline.Abs(0)))

	out := Generate(Input{
		Mappings:       map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload}},
		Current:        cur,
		Next:           next,
		NextOnTimeline: true,
		Future:         []FuturePart{futurePart("f1", clipPiece("f1", "x", "vt", timeline.Abs(0)))},
	})
	if len(out) != 2 {
		t.Fatalf("expected 1 timed and 1 future, got %d", len(out))
	}
	if out[0].ID != "lookahead_nxt_n1_obj" || out[0].Enable.End == nil || out[0].Enable.End.String() != "#nxt_n1_obj.start" {
		t.Errorf("scheduled next should be timed: %+v", out[0])
	}
	if out[1].ID != "lookahead_x_obj" {
		t.Errorf("unexpected future %s", out[1].ID)
	}
}

func TestGenerate_search_distance(t *testing.T) {
	out := Generate(Input{
		Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload, LookaheadTargetObjects: 5, LookaheadMaxSearchDistance: intPtr(1)}},
		Current:  windowOf("cur", rundown.Part{ID: "c"}),
		Future: []FuturePart{
			futurePart("f1", clipPiece("f1", "x", "vt", timeline.Abs(0))),
			futurePart("f2", clipPiece("f2", "y", "vt", timeline.Abs(0))),
		},
	})
	if len(out) != 1 || out[0].ID != "lookahead_x_obj" {
		t.Errorf("only the first future part is within reach, got %d objects", len(out))
	}
}

func TestGenerate_when_clear(t *testing.T) {
	mappings := map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadWhenClear, LookaheadTargetObjects: 3}}
	future := []FuturePart{
		futurePart("f1", clipPiece("f1", "x", "vt", timeline.Abs(0))),
		futurePart("f2", clipPiece("f2", "y", "vt", timeline.Abs(0))),
	}

	out := Generate(Input{
		Mappings: mappings,
		Current:  windowOf("cur", rundown.Part{ID: "c"}, clipPiece("c", "a", "vt", timeline.Abs(0))),
		Future:   future,
	})
	if len(out) != 2 {
		t.Fatalf("expected timed plus one future, got %d", len(out))
	}
	if out[0].Enable.End == nil || out[0].Enable.End.String() != "#cur_a_obj.start" {
		t.Fatalf("timed object must end for the future to follow: %+v", out[0].Enable)
	}
	if got := out[1].Enable.Start.String(); got != "#lookahead_cur_a_obj.end" {
		t.Errorf("future should start when the layer clears, got %s", got)
	}
	if out[1].Enable.While != "" {
		t.Error("when_clear future should not use while")
	}

	out = Generate(Input{Mappings: mappings, Current: windowOf("cur", rundown.Part{ID: "c"}), Future: future})
	if len(out) != 1 || out[0].Enable.Start.String() != "0" {
		t.Errorf("without timed objects the future starts at 0: %+v", out)
	}
}

func TestGenerate_transition_keyframes(t *testing.T) {
	transition := clipPiece("f1", "wipe", "vt", timeline.Abs(0))
	transition.IsTransition = true
	transition.Content.TimelineObjects[0].Keyframes = []timeline.Keyframe{
		{ID: "kf", Enable: timeline.Enable{While: ".is_transition"}, Content: map[string]any{"mix": true}},
	}
	content := clipPiece("f1", "cam", "vt", timeline.Abs(0))

	cur := windowOf("cur", rundown.Part{ID: "c"})
	next := windowOf("nxt", rundown.Part{ID: "n"})

	out := Generate(Input{
		Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload, LookaheadTargetObjects: 4}},
		Current:  cur,
		Next:     next,
		Future:   []FuturePart{futurePart("f1", transition, content)},
	})
	if len(out) != 1 {
		t.Fatalf("content replaced by the transition should be skipped, got %d objects", len(out))
	}
	if out[0].Content["mix"] != true || out[0].Content["file"] != "wipe" {
		t.Errorf("transition keyframe should be applied: %v", out[0].Content)
	}
	if out[0].Keyframes != nil {
		t.Error("lookahead objects carry no keyframes")
	}

	t.Run("class_keyframe", func(t *testing.T) {
		tr := clipPiece("f1", "wipe", "vt", timeline.Abs(0))
		tr.IsTransition = true
		tr.Content.TimelineObjects[0].Keyframes = []timeline.Keyframe{
			{ID: "kf", Enable: timeline.Enable{While: ".is_transition & .fast"}, Content: map[string]any{"speed": "fast"}},
		}
		next := windowOf("nxt", rundown.Part{ID: "n", ClassesForNext: []string{"fast"}})
		out := Generate(Input{
			Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload}},
			Current:  cur,
			Next:     next,
			Future:   []FuturePart{futurePart("f1", tr)},
		})
		if len(out) != 1 || out[0].Content["speed"] != "fast" {
			t.Errorf("class keyframe should be applied: %+v", out)
		}
	})

	t.Run("out_transition_disabled", func(t *testing.T) {
		next := windowOf("nxt", rundown.Part{ID: "n", DisableOutTransition: true})
		out := Generate(Input{
			Mappings: map[string]rundown.Mapping{"vt": {Lookahead: rundown.LookaheadPreload, LookaheadTargetObjects: 4}},
			Current:  cur,
			Next:     next,
			Future:   []FuturePart{futurePart("f1", transition, content)},
		})
		if len(out) != 2 {
			t.Fatalf("without a transition both objects are candidates, got %d", len(out))
		}
		if _, ok := out[0].Content["mix"]; ok {
			t.Error("keyframe must not be applied without a transition")
		}
	})
}
