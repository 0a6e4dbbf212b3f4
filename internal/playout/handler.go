package playout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"playout-orchestrator/internal/platform/metrics"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

const maxBodyBytes = 1 << 20

// Handler exposes playout operations over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/playlists/{playlist_id}", func(r chi.Router) {
		r.Get("/", h.GetPlaylist)
		r.Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/take", h.Take)
		r.Post("/next", h.SetNext)
		r.Post("/adlib", h.InsertAdlib)
		r.Post("/timeline", h.UpdateTimeline)
		r.Route("/piece-instances/{piece_instance_id}", func(r chi.Router) {
			r.Post("/disable", h.DisablePiece)
			r.Post("/enable", h.EnablePiece)
			r.Post("/stop", h.StopPiece)
		})
	})
	r.Route("/callbacks", func(r chi.Router) {
		r.Post("/part-playback-started", h.callback(h.svc.PartPlaybackStarted, true))
		r.Post("/part-playback-stopped", h.callback(h.svc.PartPlaybackStopped, true))
		r.Post("/piece-playback-started", h.callback(h.svc.PiecePlaybackStarted, false))
		r.Post("/piece-playback-stopped", h.callback(h.svc.PiecePlaybackStopped, false))
	})
	r.Route("/studios/{studio_id}", func(r chi.Router) {
		r.Get("/timeline", h.GetTimeline)
		r.Post("/timeline", h.UpdateStudioTimeline)
	})
}

// Activate handles POST /playlists/{playlist_id}/activate?rehearsal=true.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	rehearsal := false
	if v := r.URL.Query().Get("rehearsal"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, "activate", invalidf("rehearsal: %v", err))
			return
		}
		rehearsal = b
	}
	if err := h.svc.Activate(r.Context(), playlistID, rehearsal); err != nil {
		h.writeError(w, r, "activate", err)
		return
	}
	h.refreshActive(r.Context())
	h.writeState(w, r, playlistID)
}

// Deactivate handles POST /playlists/{playlist_id}/deactivate.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	if err := h.svc.Deactivate(r.Context(), playlistID); err != nil {
		h.writeError(w, r, "deactivate", err)
		return
	}
	h.refreshActive(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Take handles POST /playlists/{playlist_id}/take.
func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	if err := h.svc.Take(r.Context(), playlistID); err != nil {
		h.writeError(w, r, "take", err)
		return
	}
	h.writeState(w, r, playlistID)
}

// SetNext handles POST /playlists/{playlist_id}/next. Body: {"partId": "..."}.
func (h *Handler) SetNext(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	var body struct {
		PartID string `json:"partId"`
	}
	if err := decodeBody(r, &body); err != nil || body.PartID == "" {
		h.writeError(w, r, "set_next", invalidf("body must be {\"partId\": \"...\"}"))
		return
	}
	if err := h.svc.SetNext(r.Context(), playlistID, body.PartID); err != nil {
		h.writeError(w, r, "set_next", err)
		return
	}
	h.writeState(w, r, playlistID)
}

// InsertAdlib handles POST /playlists/{playlist_id}/adlib. The body is a
// piece; an omitted enable.start means "now".
func (h *Handler) InsertAdlib(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, "insert_adlib", invalidf("read body: %v", err))
		return
	}
	var piece rundown.Piece
	if err := json.Unmarshal(data, &piece); err != nil {
		h.writeError(w, r, "insert_adlib", invalidf("decode piece: %v", err))
		return
	}
	var given struct {
		Enable struct {
			Start json.RawMessage `json:"start"`
		} `json:"enable"`
	}
	_ = json.Unmarshal(data, &given)
	if len(given.Enable.Start) == 0 {
		piece.Enable.Start = timeline.Now()
	}

	inst, err := h.svc.InsertAdlib(r.Context(), playlistID, piece)
	if err != nil {
		h.writeError(w, r, "insert_adlib", err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// DisablePiece handles POST /playlists/{playlist_id}/piece-instances/{piece_instance_id}/disable.
func (h *Handler) DisablePiece(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, true)
}

// EnablePiece handles POST /playlists/{playlist_id}/piece-instances/{piece_instance_id}/enable.
func (h *Handler) EnablePiece(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, false)
}

func (h *Handler) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	playlistID := chi.URLParam(r, "playlist_id")
	pieceInstanceID := chi.URLParam(r, "piece_instance_id")
	if err := h.svc.SetPieceDisabled(r.Context(), playlistID, pieceInstanceID, disabled); err != nil {
		h.writeError(w, r, "set_piece_disabled", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopPiece handles POST /playlists/{playlist_id}/piece-instances/{piece_instance_id}/stop.
func (h *Handler) StopPiece(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlist_id")
	pieceInstanceID := chi.URLParam(r, "piece_instance_id")
	if err := h.svc.StopPiece(r.Context(), playlistID, pieceInstanceID); err != nil {
		h.writeError(w, r, "stop_piece", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateTimeline handles POST /playlists/{playlist_id}/timeline.
func (h *Handler) UpdateTimeline(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UpdateTimeline(r.Context(), chi.URLParam(r, "playlist_id")); err != nil {
		h.writeError(w, r, "update_timeline", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStudioTimeline handles POST /studios/{studio_id}/timeline.
func (h *Handler) UpdateStudioTimeline(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UpdateStudioTimeline(r.Context(), chi.URLParam(r, "studio_id")); err != nil {
		h.writeError(w, r, "update_timeline", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTimeline handles GET /studios/{studio_id}/timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.svc.Timeline(r.Context(), chi.URLParam(r, "studio_id"))
	if err != nil {
		h.writeError(w, r, "get_timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetPlaylist handles GET /playlists/{playlist_id}.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, r, chi.URLParam(r, "playlist_id"))
}

type callbackBody struct {
	PlaylistID      string `json:"playlistId"`
	PartInstanceID  string `json:"partInstanceId"`
	PieceInstanceID string `json:"pieceInstanceId"`
	Time            *int64 `json:"time"`
}

// callback adapts a playback callback. Time defaults to the server clock.
func (h *Handler) callback(fn func(ctx context.Context, playlistID, id string, at int64) error, part bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body callbackBody
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, r, "callback", invalidf("decode callback: %v", err))
			return
		}
		id := body.PieceInstanceID
		if part {
			id = body.PartInstanceID
		}
		if body.PlaylistID == "" || id == "" {
			h.writeError(w, r, "callback", invalidf("playlistId and instance id are required"))
			return
		}
		at := h.svc.now()
		if body.Time != nil {
			at = *body.Time
		}
		if err := fn(r.Context(), body.PlaylistID, id, at); err != nil {
			h.writeError(w, r, "callback", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// refreshActive updates the active playlists gauge after an activation change.
func (h *Handler) refreshActive(ctx context.Context) {
	if h.metrics == nil {
		return
	}
	n, err := h.svc.ActivePlaylists(ctx)
	if err != nil {
		h.log.Warn("count active playlists", slog.String("error", err.Error()))
		return
	}
	h.metrics.SetActivePlaylists(n)
}

func (h *Handler) writeState(w http.ResponseWriter, r *http.Request, playlistID string) {
	state, err := h.svc.State(r.Context(), playlistID)
	if err != nil {
		h.writeError(w, r, "get_playlist", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// StatusFor maps an operation error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPlaylistNotActive),
		errors.Is(err, ErrPlaylistActive),
		errors.Is(err, ErrStudioBusy),
		errors.Is(err, ErrNoNextPart),
		errors.Is(err, ErrNoCurrentPart):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	attrs := []any{
		slog.String("operation", op),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("operation failed", attrs...)
	} else {
		h.log.Info("operation rejected", attrs...)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
