package playout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"playout-orchestrator/internal/platform/logger"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"
	"playout-orchestrator/internal/timeline"
)

const studioFixture = `
studio:
  id: st
  mappings:
    vt: {deviceId: caspar, lookahead: preload}
  baselineObjects:
    - {id: studio_black, layer: bg, enable: {while: "1"}, content: {type: black}}
showStyles:
  - id: ss0
    sourceLayers:
      cam: {id: cam}
      vt: {id: vt}
      gfx: {id: gfx}
playlist: {id: pl}
rundowns:
  - id: r0
    showStyleBaseId: ss0
    segments:
      - id: s0
        parts:
          - id: p1
            pieces:
              - id: cam1
                sourceLayerId: cam
                outputLayerId: pgm
                lifespan: part-only
                content: {timelineObjects: [{id: o, layer: cam, content: {input: 1}}]}
              - id: logo
                sourceLayerId: gfx
                outputLayerId: pgm
                lifespan: segment-end
                content: {timelineObjects: [{id: o, layer: gfx, content: {file: logo}}]}
          - id: p2
            pieces:
              - id: clip2
                sourceLayerId: vt
                outputLayerId: pgm
                lifespan: part-only
                content: {timelineObjects: [{id: o, layer: vt, content: {file: clip2}}]}
          - id: p3
            pieces:
              - id: clip3
                sourceLayerId: vt
                outputLayerId: pgm
                lifespan: part-only
                content: {timelineObjects: [{id: o, layer: vt, content: {file: clip3}}]}
      - id: s1
        parts:
          - id: p4
            pieces:
              - id: cam4
                sourceLayerId: cam
                outputLayerId: pgm
                lifespan: part-only
                content: {timelineObjects: [{id: o, layer: cam, content: {input: 4}}]}
`

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *store.MemoryStore
	svc   *Service
	clock int64
	ids   int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), store: store.NewMemoryStore(), clock: 1_000_000}
	fx, err := rundown.ParseFixture([]byte(studioFixture))
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	if err := Seed(h.ctx, h.store, fx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	base := []Option{
		WithClock(func() int64 { return h.clock }),
		WithIDGenerator(func() string {
			h.ids++
			return fmt.Sprintf("id%d", h.ids)
		}),
	}
	log := logger.Discard()
	h.svc = NewService(h.store, NewWorker(time.Second, log, nil), log, nil, append(base, opts...)...)
	return h
}

func (h *harness) state() *PlaylistState {
	h.t.Helper()
	st, err := h.svc.State(h.ctx, "pl")
	if err != nil {
		h.t.Fatalf("State: %v", err)
	}
	return st
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) timeline() *timeline.StudioTimeline {
	h.t.Helper()
	tl, err := h.svc.Timeline(h.ctx, "st")
	if err != nil {
		h.t.Fatalf("Timeline: %v", err)
	}
	return tl
}

func findObject(tl *timeline.StudioTimeline, id string) *timeline.Object {
	for _, o := range tl.Objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func pieceByPieceID(ps *PartInstanceState, pieceID string) *rundown.PieceInstance {
	if ps == nil {
		return nil
	}
	for _, pi := range ps.PieceInstances {
		if pi.Piece.ID == pieceID {
			return pi
		}
	}
	return nil
}

func hasClass(o *timeline.Object, class string) bool {
	for _, c := range o.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func TestService_Activate(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))

	st := h.state()
	if !st.Playlist.IsActive() {
		t.Fatal("playlist should be active")
	}
	if st.Current != nil || st.Next == nil || st.Next.Part.ID != "p1" {
		t.Fatalf("expected p1 as next and nothing current, got %+v", st)
	}
	if len(st.Next.PieceInstances) != 2 {
		t.Errorf("expected cam1 and logo on next, got %d", len(st.Next.PieceInstances))
	}

	tl := h.timeline()
	if findObject(tl, "studio_black") == nil {
		t.Error("studio baseline missing")
	}
	status := findObject(tl, "pl_status")
	if status == nil || !hasClass(status, "rundown_active") || hasClass(status, "last_part") {
		t.Errorf("unexpected status object %+v", status)
	}

	if err := h.svc.Activate(h.ctx, "pl", false); !errors.Is(err, ErrPlaylistActive) {
		t.Errorf("expected ErrPlaylistActive, got %v", err)
	}
	h.must(h.svc.Activate(h.ctx, "pl", true))
	if status := findObject(h.timeline(), "pl_status"); !hasClass(status, "rundown_rehearsal") {
		t.Errorf("rehearsal switch should reach the timeline: %v", status.Classes)
	}
}

func TestService_Activate_studio_busy(t *testing.T) {
	h := newHarness(t)
	var b store.Batch
	h.must(b.Put(store.Playlists, "pl2", "st", rundown.Playlist{ID: "pl2", StudioID: "st"}))
	h.must(h.store.Commit(h.ctx, b))

	h.must(h.svc.Activate(h.ctx, "pl", false))
	if err := h.svc.Activate(h.ctx, "pl2", false); !errors.Is(err, ErrStudioBusy) {
		t.Errorf("expected ErrStudioBusy, got %v", err)
	}
	h.must(h.svc.Deactivate(h.ctx, "pl"))
	h.must(h.svc.Activate(h.ctx, "pl2", false))
}

func TestService_not_active(t *testing.T) {
	h := newHarness(t)
	for name, err := range map[string]error{
		"take":       h.svc.Take(h.ctx, "pl"),
		"set_next":   h.svc.SetNext(h.ctx, "pl", "p2"),
		"deactivate": h.svc.Deactivate(h.ctx, "pl"),
	} {
		if !errors.Is(err, ErrPlaylistNotActive) {
			t.Errorf("%s: expected ErrPlaylistNotActive, got %v", name, err)
		}
	}
	if err := h.svc.Take(h.ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown playlist, got %v", err)
	}
}

func TestService_Take_segment_end_continuation(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))

	st := h.state()
	if st.Current.Part.ID != "p1" || st.Next.Part.ID != "p2" {
		t.Fatalf("expected p1 current, p2 next; got %s / %s", st.Current.Part.ID, st.Next.Part.ID)
	}
	if st.Current.Timings.Take == nil || *st.Current.Timings.Take != h.clock {
		t.Errorf("take time not recorded: %+v", st.Current.Timings)
	}
	logo := pieceByPieceID(st.Current, "logo")
	cont := pieceByPieceID(st.Next, "logo")
	if logo == nil || cont == nil {
		t.Fatalf("logo should be on current and continue into next")
	}
	if cont.ID != st.Next.ID+"_logo_continue" || !cont.Infinite.FromPreviousPart {
		t.Errorf("unexpected continuation %+v", cont)
	}
	if cont.Infinite.InfiniteInstanceID != logo.Infinite.InfiniteInstanceID {
		t.Errorf("continuation should keep the infinite instance id: %s vs %s",
			cont.Infinite.InfiniteInstanceID, logo.Infinite.InfiniteInstanceID)
	}

	h.must(h.svc.Take(h.ctx, "pl"))
	h.must(h.svc.Take(h.ctx, "pl"))
	st = h.state()
	if st.Current.Part.ID != "p3" || st.Next.Part.ID != "p4" {
		t.Fatalf("expected p3 current, p4 next; got %s / %s", st.Current.Part.ID, st.Next.Part.ID)
	}
	if pieceByPieceID(st.Current, "logo") == nil {
		t.Error("logo should still be on air at the end of the segment")
	}
	if pieceByPieceID(st.Next, "logo") != nil {
		t.Error("logo must not leave its segment")
	}

	c, err := LoadCache(h.ctx, h.store, "pl")
	h.must(err)
	if n := len(c.PartInstances()); n != 3 {
		t.Errorf("expected only previous, current and next instances to remain, got %d", n)
	}
	for _, pi := range c.pieceInstances {
		if c.PartInstance(pi.PartInstanceID) == nil {
			t.Errorf("orphaned piece instance %s", pi.ID)
		}
	}
}

func TestService_Take_keeps_infinite_playback_start(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))

	cur := h.state().Current
	const started = 1_000_100
	h.must(h.svc.PartPlaybackStarted(h.ctx, "pl", cur.ID, started))
	h.must(h.svc.PiecePlaybackStarted(h.ctx, "pl", pieceByPieceID(cur, "logo").ID, started))

	for _, want := range []string{"p2", "p3"} {
		h.must(h.svc.Take(h.ctx, "pl"))
		st := h.state()
		if st.Current.Part.ID != want {
			t.Fatalf("expected %s current, got %s", want, st.Current.Part.ID)
		}
		logo := pieceByPieceID(st.Current, "logo")
		if logo == nil || logo.StartedPlayback == nil || *logo.StartedPlayback != started {
			t.Fatalf("%s: continuation should carry the real start, got %+v", want, logo)
		}
		g := findObject(h.timeline(), timeline.InfiniteGroupID(logo.ID))
		if g == nil {
			t.Fatalf("%s: infinite group for %s missing", want, logo.ID)
		}
		if got := g.Enable.Start.String(); got != "1000100" {
			t.Errorf("%s: infinite group should stay anchored at its real start, got %s", want, got)
		}
	}
}

func TestService_Take_end_of_playlist(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	for range 4 {
		h.must(h.svc.Take(h.ctx, "pl"))
	}
	st := h.state()
	if st.Current.Part.ID != "p4" || st.Next != nil {
		t.Fatalf("expected p4 current and no next, got %+v", st)
	}
	if status := findObject(h.timeline(), "pl_status"); !hasClass(status, "last_part") {
		t.Errorf("status should flag the last part: %v", status.Classes)
	}
	if err := h.svc.Take(h.ctx, "pl"); !errors.Is(err, ErrNoNextPart) {
		t.Errorf("expected ErrNoNextPart, got %v", err)
	}
}

func TestService_SetNext(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	old := h.state().Next.ID

	h.must(h.svc.SetNext(h.ctx, "pl", "p3"))
	st := h.state()
	if st.Next.Part.ID != "p3" {
		t.Fatalf("expected p3 next, got %s", st.Next.Part.ID)
	}
	c, err := LoadCache(h.ctx, h.store, "pl")
	h.must(err)
	if c.PartInstance(old) != nil {
		t.Error("replaced next instance should be removed")
	}

	if err := h.svc.SetNext(h.ctx, "pl", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_PartPlaybackStarted(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))
	cur := h.state().Current

	h.must(h.svc.PartPlaybackStarted(h.ctx, "pl", cur.ID, 2_000_000))
	g := findObject(h.timeline(), timeline.PartGroupID(cur.ID))
	if g == nil {
		t.Fatal("current part group missing")
	}
	if ms, ok := g.Enable.Start.Millis(); !ok || ms != 2_000_000 {
		t.Errorf("part group should anchor at startedPlayback, got %s", g.Enable.Start)
	}

	t.Run("auto_next", func(t *testing.T) {
		next := h.state().Next
		h.must(h.svc.PartPlaybackStarted(h.ctx, "pl", next.ID, 2_010_000))
		st := h.state()
		if st.Current.ID != next.ID || st.Previous.ID != cur.ID {
			t.Errorf("starting next should take it: %+v", st)
		}
		if st.Current.Timings.StartedPlayback == nil || *st.Current.Timings.StartedPlayback != 2_010_000 {
			t.Errorf("started time not recorded: %+v", st.Current.Timings)
		}
	})

	if err := h.svc.PartPlaybackStarted(h.ctx, "pl", "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_PiecePlaybackStarted_freezes_now(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))
	cur := h.state().Current
	h.must(h.svc.PartPlaybackStarted(h.ctx, "pl", cur.ID, 1_000_000))

	inst, err := h.svc.InsertAdlib(h.ctx, "pl", rundown.Piece{
		ID:            "bug",
		SourceLayerID: "gfx",
		Enable:        rundown.PieceEnable{Start: timeline.Now()},
	})
	h.must(err)
	h.must(h.svc.PiecePlaybackStarted(h.ctx, "pl", inst.ID, 1_004_500))

	c, err := LoadCache(h.ctx, h.store, "pl")
	h.must(err)
	got := c.PieceInstance(inst.ID)
	if ms, ok := got.Piece.Enable.Start.Millis(); !ok || ms != 4500 {
		t.Errorf("now start should freeze to 4500, got %s", got.Piece.Enable.Start)
	}
	if got.StartedPlayback == nil || *got.StartedPlayback != 1_004_500 {
		t.Errorf("startedPlayback not recorded")
	}

	h.must(h.svc.PiecePlaybackStopped(h.ctx, "pl", inst.ID, 1_009_000))
	c, err = LoadCache(h.ctx, h.store, "pl")
	h.must(err)
	if c.PieceInstance(inst.ID).StoppedPlayback == nil {
		t.Error("stoppedPlayback not recorded")
	}
}

func TestService_InsertAdlib(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))

	piece := rundown.Piece{ID: "bug", SourceLayerID: "vt", Lifespan: rundown.LifespanOutOnRundownEnd, Enable: rundown.PieceEnable{Start: timeline.Now()}}
	if _, err := h.svc.InsertAdlib(h.ctx, "pl", piece); !errors.Is(err, ErrNoCurrentPart) {
		t.Errorf("expected ErrNoCurrentPart, got %v", err)
	}

	h.must(h.svc.Take(h.ctx, "pl"))
	inst, err := h.svc.InsertAdlib(h.ctx, "pl", piece)
	h.must(err)
	st := h.state()
	if inst.ID != st.Current.ID+"_bug" || inst.DynamicallyInserted == nil || inst.Infinite == nil {
		t.Errorf("unexpected ad-lib instance %+v", inst)
	}
	if inst.Piece.StartPartID != "p1" || inst.Piece.StartRundownID != "r0" {
		t.Errorf("ad-lib origin not set: %+v", inst.Piece)
	}
	cont := pieceByPieceID(st.Next, "bug")
	if cont == nil || !cont.Infinite.FromPreviousPlayhead || cont.Infinite.InfiniteInstanceID != inst.Infinite.InfiniteInstanceID {
		t.Errorf("rundown-end ad-lib should continue into next: %+v", cont)
	}
	if findObject(h.timeline(), timeline.InfiniteGroupID(inst.ID)) == nil {
		t.Error("infinite ad-lib should get its own infinite group")
	}

	if _, err := h.svc.InsertAdlib(h.ctx, "pl", piece); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("duplicate ad-lib: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := h.svc.InsertAdlib(h.ctx, "pl", rundown.Piece{ID: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing layer: expected ErrInvalidRequest, got %v", err)
	}
}

func TestService_StopPiece(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))
	cur := h.state().Current

	inst, err := h.svc.InsertAdlib(h.ctx, "pl", rundown.Piece{ID: "bug", SourceLayerID: "vt", Lifespan: rundown.LifespanOutOnRundownEnd})
	h.must(err)
	if err := h.svc.StopPiece(h.ctx, "pl", inst.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("stopping before the part started: expected ErrInvalidRequest, got %v", err)
	}

	h.must(h.svc.PartPlaybackStarted(h.ctx, "pl", cur.ID, 1_000_000))
	h.clock = 1_003_000
	h.must(h.svc.StopPiece(h.ctx, "pl", inst.ID))

	st := h.state()
	stopped := pieceByPieceID(st.Current, "bug")
	if stopped.UserDuration == nil || stopped.UserDuration.End != 3000 {
		t.Errorf("expected user end 3000, got %+v", stopped.UserDuration)
	}
	if pieceByPieceID(st.Next, "bug") != nil {
		t.Error("a stopped infinite must not continue into next")
	}
}

func TestService_SetPieceDisabled(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	cam := pieceByPieceID(h.state().Next, "cam1")

	h.must(h.svc.SetPieceDisabled(h.ctx, "pl", cam.ID, true))
	if !pieceByPieceID(h.state().Next, "cam1").Disabled {
		t.Error("piece should be disabled")
	}
	h.must(h.svc.SetPieceDisabled(h.ctx, "pl", cam.ID, false))
	if pieceByPieceID(h.state().Next, "cam1").Disabled {
		t.Error("piece should be enabled again")
	}

	h.must(h.svc.Take(h.ctx, "pl"))
	h.must(h.svc.Take(h.ctx, "pl"))
	prev := pieceByPieceID(h.state().Previous, "cam1")
	if err := h.svc.SetPieceDisabled(h.ctx, "pl", prev.ID, true); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("previous part pieces cannot be disabled, got %v", err)
	}
}

func TestService_lookahead(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))

	la := findObject(h.timeline(), "lookahead_clip2_o")
	if la == nil {
		t.Fatal("expected a preload of clip2 from the part after next")
	}
	if la.Layer != "vt_lookahead" || la.Enable.While != "1" || !la.IsLookahead {
		t.Errorf("unexpected lookahead object %+v", la)
	}
}

func TestService_timeline_unchanged(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", false))
	first := h.timeline()

	h.clock += 5000
	h.must(h.svc.UpdateTimeline(h.ctx, "pl"))
	second := h.timeline()
	if second.Hash != first.Hash || second.Generated != first.Generated {
		t.Errorf("identical rebuild should not rewrite the timeline: %s@%d vs %s@%d",
			first.Hash, first.Generated, second.Hash, second.Generated)
	}

	h.must(h.svc.Deactivate(h.ctx, "pl"))
	third := h.timeline()
	if third.Hash == first.Hash || findObject(third, "pl_status") != nil || findObject(third, "studio_black") == nil {
		t.Errorf("deactivated studio should only carry its baseline: %+v", third.Objects)
	}
}

func TestService_transformer(t *testing.T) {
	var seen []json.RawMessage
	calls := 0
	tr := TransformerFunc(func(ctx context.Context, in TransformInput) ([]*timeline.Object, json.RawMessage, error) {
		calls++
		seen = append(seen, in.State)
		if calls == 3 {
			return nil, nil, errors.New("blueprint exploded")
		}
		objs := append(in.Objects, &timeline.Object{ID: "injected", Layer: "x", Enable: timeline.Enable{While: "1"}})
		return objs, json.RawMessage(fmt.Sprintf(`{"n":%d}`, calls)), nil
	})
	h := newHarness(t, WithTransformer(tr))

	h.must(h.svc.Activate(h.ctx, "pl", false))
	h.must(h.svc.Take(h.ctx, "pl"))
	if string(seen[1]) != `{"n":1}` {
		t.Errorf("state should be replayed into the next call, got %s", seen[1])
	}
	tl := h.timeline()
	if findObject(tl, "injected") == nil || string(tl.TransformState) != `{"n":2}` {
		t.Errorf("transform output not stored: state %s", tl.TransformState)
	}

	h.must(h.svc.Take(h.ctx, "pl"))
	tl = h.timeline()
	if findObject(tl, "injected") != nil {
		t.Error("a failed transform must fall back to the generated timeline")
	}
	if findObject(tl, "pl_status") == nil {
		t.Error("generated timeline missing after transform failure")
	}
	if string(tl.TransformState) != `{"n":2}` {
		t.Errorf("failed transform should keep the previous state, got %s", tl.TransformState)
	}
}

func TestService_rundown_failure(t *testing.T) {
	h := newHarness(t)
	doc, err := h.store.Get(h.ctx, store.Rundowns, "r0")
	h.must(err)
	r, err := store.Decode[rundown.Rundown](doc)
	h.must(err)
	r.BaselineObjects = []*timeline.Object{{Layer: "broken"}}
	var b store.Batch
	h.must(b.Put(store.Rundowns, r.ID, doc.Scope, r))
	h.must(h.store.Commit(h.ctx, b))

	h.must(h.svc.Activate(h.ctx, "pl", false))
	tl := h.timeline()
	if findObject(tl, "studio_black") == nil {
		t.Error("studio baseline should survive a failing rundown")
	}
	if findObject(tl, "pl_status") != nil {
		t.Error("failing rundown should contribute nothing")
	}
}

func TestService_missing_show_style(t *testing.T) {
	h := newHarness(t)
	var b store.Batch
	b.Delete(store.ShowStyles, "ss0")
	h.must(h.store.Commit(h.ctx, b))

	if err := h.svc.Activate(h.ctx, "pl", false); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if _, err := h.svc.Timeline(h.ctx, "st"); !errors.Is(err, ErrNotFound) {
		t.Errorf("aborted activation must not write a timeline, got %v", err)
	}
}

func TestSeed_keeps_playlist_state(t *testing.T) {
	h := newHarness(t)
	h.must(h.svc.Activate(h.ctx, "pl", true))
	h.must(h.svc.Take(h.ctx, "pl"))
	before := h.state()

	fx, err := rundown.ParseFixture([]byte(studioFixture))
	h.must(err)
	h.must(Seed(h.ctx, h.store, fx))

	after := h.state()
	if after.Playlist.ActivationID != before.Playlist.ActivationID || !after.Playlist.Rehearsal {
		t.Errorf("reseeding must keep the activation: %+v", after.Playlist)
	}
	if after.Current == nil || after.Current.ID != before.Current.ID || after.Next == nil || after.Next.ID != before.Next.ID {
		t.Fatalf("reseeding must keep the playhead: %+v", after.Playlist)
	}
	h.must(h.svc.Take(h.ctx, "pl"))
	if h.state().Current.Part.ID != "p2" {
		t.Error("playout should continue after reseeding")
	}
}

func TestService_ActivePlaylists(t *testing.T) {
	h := newHarness(t)
	n, err := h.svc.ActivePlaylists(h.ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 active, got %d %v", n, err)
	}
	h.must(h.svc.Activate(h.ctx, "pl", false))
	if n, _ := h.svc.ActivePlaylists(h.ctx); n != 1 {
		t.Errorf("expected 1 active, got %d", n)
	}
}
