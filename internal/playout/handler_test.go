package playout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"playout-orchestrator/internal/platform/logger"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

func newTestRouter(t *testing.T) (*harness, http.Handler) {
	t.Helper()
	h := newHarness(t)
	r := chi.NewRouter()
	NewHandler(h.svc, logger.Discard(), nil).Routes(r)
	return h, r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_activate_and_take(t *testing.T) {
	h, r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/playlists/pl/activate?rehearsal=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: status %d body %s", rec.Code, rec.Body)
	}
	var st PlaylistState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Playlist.Rehearsal || st.Next == nil || st.Next.Part.ID != "p1" || len(st.Next.PieceInstances) != 2 {
		t.Errorf("unexpected state %+v", st)
	}

	if rec := do(t, r, http.MethodPost, "/playlists/pl/activate?rehearsal=true", ""); rec.Code != http.StatusConflict {
		t.Errorf("second activate: expected 409, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/playlists/pl/take", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("take: status %d body %s", rec.Code, rec.Body)
	}
	if h.state().Current.Part.ID != "p1" {
		t.Error("take did not move p1 on air")
	}

	rec = do(t, r, http.MethodGet, "/playlists/pl/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pieceInstances"`) {
		t.Errorf("get playlist: %d %s", rec.Code, rec.Body)
	}
}

func TestHandler_errors(t *testing.T) {
	_, r := newTestRouter(t)

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"unknown playlist", http.MethodPost, "/playlists/nope/take", "", http.StatusNotFound},
		{"not active", http.MethodPost, "/playlists/pl/take", "", http.StatusConflict},
		{"bad rehearsal flag", http.MethodPost, "/playlists/pl/activate?rehearsal=maybe", "", http.StatusBadRequest},
		{"next without body", http.MethodPost, "/playlists/pl/next", "{}", http.StatusBadRequest},
		{"callback without ids", http.MethodPost, "/callbacks/part-playback-started", `{"playlistId":"pl"}`, http.StatusBadRequest},
		{"callback bad json", http.MethodPost, "/callbacks/piece-playback-started", `{`, http.StatusBadRequest},
		{"no timeline yet", http.MethodGet, "/studios/st/timeline", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, r, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected an error body, got %s", rec.Body)
			}
		})
	}
}

func TestHandler_next_and_adlib(t *testing.T) {
	h, r := newTestRouter(t)
	do(t, r, http.MethodPost, "/playlists/pl/activate", "")

	rec := do(t, r, http.MethodPost, "/playlists/pl/adlib", `{"id":"bug","sourceLayerId":"vt"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("ad-lib without current: expected 409, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/playlists/pl/next", `{"partId":"p2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set next: %d %s", rec.Code, rec.Body)
	}
	do(t, r, http.MethodPost, "/playlists/pl/take", "")

	rec = do(t, r, http.MethodPost, "/playlists/pl/adlib", `{"id":"bug","sourceLayerId":"vt","lifespan":"segment-end"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ad-lib: %d %s", rec.Code, rec.Body)
	}
	var inst rundown.PieceInstance
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}
	if !inst.Piece.Enable.Start.IsNow() {
		t.Errorf("omitted start should mean now, got %s", inst.Piece.Enable.Start)
	}

	rec = do(t, r, http.MethodPost, "/playlists/pl/adlib", `{"id":"fixed","sourceLayerId":"gfx","enable":{"start":500}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ad-lib with start: %d %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}
	if ms, ok := inst.Piece.Enable.Start.Millis(); !ok || ms != 500 {
		t.Errorf("explicit start should be kept, got %s", inst.Piece.Enable.Start)
	}

	path := fmt.Sprintf("/playlists/pl/piece-instances/%s/disable", inst.ID)
	if rec := do(t, r, http.MethodPost, path, ""); rec.Code != http.StatusNoContent {
		t.Errorf("disable: %d %s", rec.Code, rec.Body)
	}
	if !pieceByPieceID(h.state().Current, "fixed").Disabled {
		t.Error("piece should be disabled")
	}
	path = fmt.Sprintf("/playlists/pl/piece-instances/%s/enable", inst.ID)
	if rec := do(t, r, http.MethodPost, path, ""); rec.Code != http.StatusNoContent {
		t.Errorf("enable: %d %s", rec.Code, rec.Body)
	}
}

func TestHandler_callbacks(t *testing.T) {
	h, r := newTestRouter(t)
	do(t, r, http.MethodPost, "/playlists/pl/activate", "")
	do(t, r, http.MethodPost, "/playlists/pl/take", "")
	cur := h.state().Current

	body := fmt.Sprintf(`{"playlistId":"pl","partInstanceId":%q,"time":1500000}`, cur.ID)
	if rec := do(t, r, http.MethodPost, "/callbacks/part-playback-started", body); rec.Code != http.StatusNoContent {
		t.Fatalf("part started: %d %s", rec.Code, rec.Body)
	}
	if got := h.state().Current.Timings.StartedPlayback; got == nil || *got != 1_500_000 {
		t.Errorf("startedPlayback = %v", got)
	}

	cam := pieceByPieceID(cur, "cam1")
	body = fmt.Sprintf(`{"playlistId":"pl","pieceInstanceId":%q}`, cam.ID)
	if rec := do(t, r, http.MethodPost, "/callbacks/piece-playback-started", body); rec.Code != http.StatusNoContent {
		t.Fatalf("piece started: %d %s", rec.Code, rec.Body)
	}
	if got := pieceByPieceID(h.state().Current, "cam1").StartedPlayback; got == nil || *got != h.clock {
		t.Errorf("missing time should default to the server clock, got %v", got)
	}

	body = `{"playlistId":"pl","pieceInstanceId":"nope"}`
	if rec := do(t, r, http.MethodPost, "/callbacks/piece-playback-stopped", body); rec.Code != http.StatusNotFound {
		t.Errorf("unknown piece instance: %d", rec.Code)
	}
}

func TestHandler_timeline(t *testing.T) {
	_, r := newTestRouter(t)
	if rec := do(t, r, http.MethodPost, "/studios/st/timeline", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("update studio timeline: %d %s", rec.Code, rec.Body)
	}
	rec := do(t, r, http.MethodGet, "/studios/st/timeline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get timeline: %d %s", rec.Code, rec.Body)
	}
	var tl timeline.StudioTimeline
	if err := json.Unmarshal(rec.Body.Bytes(), &tl); err != nil {
		t.Fatal(err)
	}
	if len(tl.Objects) != 1 || tl.Objects[0].ID != "studio_black" || tl.Hash == "" {
		t.Errorf("idle studio should only carry its baseline: %+v", tl)
	}

	do(t, r, http.MethodPost, "/playlists/pl/activate", "")
	if rec := do(t, r, http.MethodPost, "/playlists/pl/timeline", ""); rec.Code != http.StatusNoContent {
		t.Errorf("update playlist timeline: %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/playlists/pl/deactivate", ""); rec.Code != http.StatusNoContent {
		t.Errorf("deactivate: %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{notFoundf("x"), http.StatusNotFound},
		{invalidf("x"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", ErrStudioBusy), http.StatusConflict},
		{ErrNoNextPart, http.StatusConflict},
		{ErrNoCurrentPart, http.StatusConflict},
		{ErrPlaylistNotActive, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{invariantf("x"), http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	} {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
