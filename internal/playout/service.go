package playout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"playout-orchestrator/internal/infinites"
	"playout-orchestrator/internal/platform/metrics"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"
	"playout-orchestrator/internal/timeline"
)

// Service runs playout operations. Every mutating operation is serialised on
// the studio of its playlist, works on a freshly loaded Cache and commits it
// in one batch when it succeeds.
type Service struct {
	store       store.Store
	worker      *Worker
	log         *slog.Logger
	metrics     *metrics.Metrics
	transformer TimelineTransformer
	now         func() int64
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithTransformer installs a timeline transform hook.
func WithTransformer(t TimelineTransformer) Option {
	return func(s *Service) { s.transformer = t }
}

// WithClock overrides the unix millisecond clock.
func WithClock(now func() int64) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how activation and instance ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService returns a Service. m may be nil.
func NewService(st store.Store, w *Worker, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:   st,
		worker:  w,
		log:     log,
		metrics: m,
		now:     func() int64 { return time.Now().UnixMilli() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func studioKey(studioID string) string { return "studio:" + studioID }

// playlistOp runs fn on the playlist's studio key with a fresh cache and
// flushes the cache when fn succeeds.
func (s *Service) playlistOp(ctx context.Context, playlistID string, prio Priority, name string, fn func(ctx context.Context, c *Cache) error) error {
	_, err := playlistDo(ctx, s, playlistID, prio, name, func(ctx context.Context, c *Cache) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	return err
}

// playlistDo is playlistOp for operations returning a value. The value is
// only returned once the cache is flushed.
func playlistDo[T any](ctx context.Context, s *Service, playlistID string, prio Priority, name string, fn func(ctx context.Context, c *Cache) (T, error)) (T, error) {
	var zero T
	pl, err := getDoc[rundown.Playlist](ctx, s.store, store.Playlists, playlistID)
	if err != nil {
		return zero, err
	}
	return Do(ctx, s.worker, studioKey(pl.StudioID), prio, name, func(ctx context.Context) (T, error) {
		c, err := LoadCache(ctx, s.store, playlistID)
		if err != nil {
			return zero, err
		}
		v, err := fn(ctx, c)
		if err != nil {
			return zero, err
		}
		if err := c.Flush(ctx, s.store); err != nil {
			return zero, err
		}
		return v, nil
	})
}

func requireActive(c *Cache) error {
	if !c.Playlist.IsActive() {
		return fmt.Errorf("%w: %s", ErrPlaylistNotActive, c.Playlist.ID)
	}
	return nil
}

// Activate puts a playlist on air and nexts its first playable part.
// Activating an active playlist only switches rehearsal mode.
func (s *Service) Activate(ctx context.Context, playlistID string, rehearsal bool) error {
	return s.playlistOp(ctx, playlistID, PriorityUser, "activate", func(ctx context.Context, c *Cache) error {
		pl := c.Playlist
		if pl.IsActive() {
			if pl.Rehearsal == rehearsal {
				return fmt.Errorf("%w: %s", ErrPlaylistActive, pl.ID)
			}
			pl.Rehearsal = rehearsal
			c.MarkPlaylist()
			return s.buildTimeline(ctx, c)
		}

		others, err := findDocs[rundown.Playlist](ctx, s.store, store.Playlists, pl.StudioID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID != pl.ID && o.IsActive() {
				return fmt.Errorf("%w: %s", ErrStudioBusy, o.ID)
			}
		}

		pl.ActivationID = s.newID()
		pl.Rehearsal = rehearsal
		pl.PreviousPartInstanceID = ""
		pl.CurrentPartInstanceID = ""
		pl.NextPartInstanceID = ""
		c.MarkPlaylist()
		s.cleanupInstances(c)
		s.setNext(c, c.Ordered().NextPlayablePart("", false))

		s.log.Info("playlist activated",
			slog.String("playlist_id", pl.ID),
			slog.String("activation_id", pl.ActivationID),
			slog.Bool("rehearsal", rehearsal))
		return s.buildTimeline(ctx, c)
	})
}

// Deactivate takes a playlist off air and removes its runtime instances.
func (s *Service) Deactivate(ctx context.Context, playlistID string) error {
	return s.playlistOp(ctx, playlistID, PriorityUser, "deactivate", func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		pl := c.Playlist
		pl.ActivationID = ""
		pl.Rehearsal = false
		pl.PreviousPartInstanceID = ""
		pl.CurrentPartInstanceID = ""
		pl.NextPartInstanceID = ""
		c.MarkPlaylist()
		s.cleanupInstances(c)
		s.log.Info("playlist deactivated", slog.String("playlist_id", pl.ID))
		return s.buildTimeline(ctx, c)
	})
}

// SetNext makes partID the next part.
func (s *Service) SetNext(ctx context.Context, playlistID, partID string) error {
	return s.playlistOp(ctx, playlistID, PriorityUser, "set_next", func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		part, ok := c.Ordered().Part(partID)
		if !ok {
			return notFoundf("part %q", partID)
		}
		if !part.IsPlayable() {
			return invalidf("part %q is not playable", partID)
		}
		s.setNext(c, part)
		return s.buildTimeline(ctx, c)
	})
}

// Take moves next on air.
func (s *Service) Take(ctx context.Context, playlistID string) error {
	return s.playlistOp(ctx, playlistID, PriorityUser, "take", func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		if err := s.take(c, s.now()); err != nil {
			return err
		}
		return s.buildTimeline(ctx, c)
	})
}

func (s *Service) take(c *Cache, at int64) error {
	pl := c.Playlist
	next := c.Next()
	if next == nil {
		return fmt.Errorf("%w: %s", ErrNoNextPart, pl.ID)
	}
	if next.ID == pl.CurrentPartInstanceID {
		return invariantf("next part instance %q is already current", next.ID)
	}

	if cur := c.Current(); cur != nil {
		carryInfinitePlayback(c, cur.ID, next.ID)
	}
	next.Timings.Take = &at
	c.PutPartInstance(next)
	pl.PreviousPartInstanceID = pl.CurrentPartInstanceID
	pl.CurrentPartInstanceID = next.ID
	pl.NextPartInstanceID = ""
	c.MarkPlaylist()

	s.setNext(c, c.Ordered().NextPlayablePart(next.Part.ID, pl.Loop))
	s.cleanupInstances(c)

	s.log.Info("take",
		slog.String("playlist_id", pl.ID),
		slog.String("part_id", next.Part.ID),
		slog.String("part_instance_id", next.ID),
		slog.String("next_part_instance_id", pl.NextPartInstanceID))
	return nil
}

// carryInfinitePlayback copies the playback start of infinites on air in
// from onto their continuations in to, which were resolved before playout
// reported them.
func carryInfinitePlayback(c *Cache, fromID, toID string) {
	started := make(map[string]int64)
	for _, pi := range c.PieceInstancesOf(fromID) {
		if pi.Infinite != nil && pi.StartedPlayback != nil {
			started[pi.Infinite.InfiniteInstanceID] = *pi.StartedPlayback
		}
	}
	for _, pi := range c.PieceInstancesOf(toID) {
		if pi.Infinite == nil || pi.StartedPlayback != nil {
			continue
		}
		if at, ok := started[pi.Infinite.InfiniteInstanceID]; ok {
			pi.StartedPlayback = &at
			c.PutPieceInstance(pi)
		}
	}
}

// setNext replaces the next part instance. A nil part clears next.
func (s *Service) setNext(c *Cache, part *rundown.Part) {
	pl := c.Playlist
	if old := c.Next(); old != nil && old.ID != pl.CurrentPartInstanceID && old.ID != pl.PreviousPartInstanceID {
		c.DeletePartInstance(old.ID)
	}
	pl.NextPartInstanceID = ""
	c.MarkPlaylist()
	if part == nil {
		return
	}

	pi := &rundown.PartInstance{
		ID:           s.newID(),
		PlaylistID:   pl.ID,
		ActivationID: pl.ActivationID,
		RundownID:    part.RundownID,
		SegmentID:    part.SegmentID,
		Part:         *part,
	}
	c.PutPartInstance(pi)
	for _, inst := range s.resolvePieces(c, pi) {
		c.PutPieceInstance(inst)
	}
	pl.NextPartInstanceID = pi.ID
}

// resolvePieces computes the piece instances of a part instance against the
// current playhead.
func (s *Service) resolvePieces(c *Cache, pi *rundown.PartInstance) []*rundown.PieceInstance {
	ord := c.Ordered()
	part := &pi.Part
	req := infinites.Request{
		PlaylistID:     c.Playlist.ID,
		ActivationID:   c.Playlist.ActivationID,
		PartInstanceID: pi.ID,
		Part:           part,
		Scope:          infinites.ScopeFor(ord, part),
		Pieces:         c.Pieces,
		NewInfiniteID:  s.newID,
	}
	if cur := c.Current(); cur != nil && cur.ID != pi.ID {
		req.Playhead = &infinites.Playhead{PartInstance: cur, PieceInstances: c.PieceInstancesOf(cur.ID)}
		req.NextPartIsAfterCurrent = ord.PartIndex(part.ID) > ord.PartIndex(cur.Part.ID)
	}
	return infinites.ResolveActivePieces(req)
}

// syncNextPieces re-resolves next after the playhead changed, keeping the
// disabled flags operators set on it.
func (s *Service) syncNextPieces(c *Cache) {
	next := c.Next()
	if next == nil {
		return
	}
	disabled := make(map[string]bool)
	for _, pi := range c.PieceInstancesOf(next.ID) {
		disabled[pi.ID] = pi.Disabled
		c.DeletePieceInstance(pi.ID)
	}
	for _, pi := range s.resolvePieces(c, next) {
		pi.Disabled = disabled[pi.ID]
		c.PutPieceInstance(pi)
	}
}

// cleanupInstances drops part instances the playlist no longer points at,
// and piece instances whose part instance is gone.
func (s *Service) cleanupInstances(c *Cache) {
	pl := c.Playlist
	keep := map[string]bool{
		pl.PreviousPartInstanceID: true,
		pl.CurrentPartInstanceID:  true,
		pl.NextPartInstanceID:     true,
	}
	for _, pi := range c.PartInstances() {
		if !keep[pi.ID] {
			c.DeletePartInstance(pi.ID)
		}
	}
	for id, pi := range c.pieceInstances {
		if c.PartInstance(pi.PartInstanceID) == nil {
			c.DeletePieceInstance(id)
		}
	}
}

// PartPlaybackStarted records that playout started a part instance. When the
// part is next, playout auto-nexted into it and the take is applied first.
func (s *Service) PartPlaybackStarted(ctx context.Context, playlistID, partInstanceID string, at int64) error {
	return s.playlistOp(ctx, playlistID, PriorityCallback, "part_playback_started", func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		pi := c.PartInstance(partInstanceID)
		if pi == nil {
			return notFoundf("part instance %q", partInstanceID)
		}
		if partInstanceID == c.Playlist.NextPartInstanceID {
			if err := s.take(c, at); err != nil {
				return err
			}
		}
		if started := pi.Timings.StartedPlayback; started != nil && *started == at {
			return nil
		}
		pi.Timings.StartedPlayback = &at
		pi.Timings.StoppedPlayback = nil
		c.PutPartInstance(pi)
		return s.buildTimeline(ctx, c)
	})
}

// PartPlaybackStopped records that playout stopped a part instance.
func (s *Service) PartPlaybackStopped(ctx context.Context, playlistID, partInstanceID string, at int64) error {
	return s.playlistOp(ctx, playlistID, PriorityCallback, "part_playback_stopped", func(ctx context.Context, c *Cache) error {
		pi := c.PartInstance(partInstanceID)
		if pi == nil {
			return notFoundf("part instance %q", partInstanceID)
		}
		pi.Timings.StoppedPlayback = &at
		c.PutPartInstance(pi)
		return nil
	})
}

// PiecePlaybackStarted records that a piece went on air. A piece that was
// scheduled "now" is frozen to its real offset into the part.
func (s *Service) PiecePlaybackStarted(ctx context.Context, playlistID, pieceInstanceID string, at int64) error {
	return s.playlistOp(ctx, playlistID, PriorityCallback, "piece_playback_started", func(ctx context.Context, c *Cache) error {
		pi := c.PieceInstance(pieceInstanceID)
		if pi == nil {
			return notFoundf("piece instance %q", pieceInstanceID)
		}
		pi.StartedPlayback = &at
		pi.StoppedPlayback = nil
		c.PutPieceInstance(pi)

		part := c.PartInstance(pi.PartInstanceID)
		if !pi.Piece.Enable.Start.IsNow() || part == nil || part.Timings.StartedPlayback == nil {
			return nil
		}
		pi.Piece.Enable.Start = timeline.Abs(max(0, at-*part.Timings.StartedPlayback))
		if !c.Playlist.IsActive() {
			return nil
		}
		return s.buildTimeline(ctx, c)
	})
}

// PiecePlaybackStopped records that a piece went off air.
func (s *Service) PiecePlaybackStopped(ctx context.Context, playlistID, pieceInstanceID string, at int64) error {
	return s.playlistOp(ctx, playlistID, PriorityCallback, "piece_playback_stopped", func(ctx context.Context, c *Cache) error {
		pi := c.PieceInstance(pieceInstanceID)
		if pi == nil {
			return notFoundf("piece instance %q", pieceInstanceID)
		}
		pi.StoppedPlayback = &at
		c.PutPieceInstance(pi)
		return nil
	})
}

// InsertAdlib adds piece to the current part instance. The piece id is
// minted when empty and the lifespan defaults to within-part.
func (s *Service) InsertAdlib(ctx context.Context, playlistID string, piece rundown.Piece) (*rundown.PieceInstance, error) {
	return playlistDo(ctx, s, playlistID, PriorityUser, "insert_adlib", func(ctx context.Context, c *Cache) (*rundown.PieceInstance, error) {
		if err := requireActive(c); err != nil {
			return nil, err
		}
		cur := c.Current()
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCurrentPart, c.Playlist.ID)
		}
		if piece.ID == "" {
			piece.ID = s.newID()
		}
		if piece.SourceLayerID == "" {
			return nil, invalidf("ad-lib %q has no source layer", piece.ID)
		}
		if piece.Lifespan == "" {
			piece.Lifespan = rundown.LifespanWithinPart
		}
		if !piece.Lifespan.Valid() {
			return nil, invalidf("ad-lib %q has unknown lifespan %q", piece.ID, piece.Lifespan)
		}
		piece.StartPartID = cur.Part.ID
		piece.StartSegmentID = cur.SegmentID
		piece.StartRundownID = cur.RundownID

		now := s.now()
		inst := &rundown.PieceInstance{
			ID:                   cur.ID + "_" + piece.ID,
			PlaylistID:           c.Playlist.ID,
			PartInstanceID:       cur.ID,
			RundownID:            cur.RundownID,
			PlaylistActivationID: c.Playlist.ActivationID,
			Piece:                piece,
			DynamicallyInserted:  &now,
		}
		if c.PieceInstance(inst.ID) != nil {
			return nil, invalidf("piece instance %q already exists", inst.ID)
		}
		if piece.Lifespan.IsInfinite() {
			inst.Infinite = &rundown.InfiniteInfo{InfiniteInstanceID: s.newID(), InfinitePieceID: piece.ID}
		}
		c.PutPieceInstance(inst)
		s.syncNextPieces(c)

		s.log.Info("ad-lib inserted",
			slog.String("playlist_id", c.Playlist.ID),
			slog.String("piece_instance_id", inst.ID),
			slog.String("source_layer", piece.SourceLayerID),
			slog.String("lifespan", string(piece.Lifespan)))
		if err := s.buildTimeline(ctx, c); err != nil {
			return nil, err
		}
		return inst, nil
	})
}

// SetPieceDisabled disables or re-enables a piece instance of current or next.
func (s *Service) SetPieceDisabled(ctx context.Context, playlistID, pieceInstanceID string, disabled bool) error {
	name := "enable_piece"
	if disabled {
		name = "disable_piece"
	}
	return s.playlistOp(ctx, playlistID, PriorityUser, name, func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		pi := c.PieceInstance(pieceInstanceID)
		if pi == nil {
			return notFoundf("piece instance %q", pieceInstanceID)
		}
		if pi.PartInstanceID != c.Playlist.CurrentPartInstanceID && pi.PartInstanceID != c.Playlist.NextPartInstanceID {
			return invalidf("piece instance %q is not in the current or next part", pieceInstanceID)
		}
		if pi.Disabled == disabled {
			return nil
		}
		pi.Disabled = disabled
		c.PutPieceInstance(pi)
		return s.buildTimeline(ctx, c)
	})
}

// StopPiece ends a piece instance of the current part at the present moment.
func (s *Service) StopPiece(ctx context.Context, playlistID, pieceInstanceID string) error {
	return s.playlistOp(ctx, playlistID, PriorityUser, "stop_piece", func(ctx context.Context, c *Cache) error {
		if err := requireActive(c); err != nil {
			return err
		}
		pi := c.PieceInstance(pieceInstanceID)
		if pi == nil {
			return notFoundf("piece instance %q", pieceInstanceID)
		}
		cur := c.Current()
		if cur == nil || pi.PartInstanceID != cur.ID {
			return invalidf("piece instance %q is not in the current part", pieceInstanceID)
		}
		if cur.Timings.StartedPlayback == nil {
			return invalidf("current part has not started playback")
		}
		if pi.UserDuration != nil {
			return nil
		}
		pi.UserDuration = &rundown.UserDuration{End: max(0, s.now()-*cur.Timings.StartedPlayback)}
		c.PutPieceInstance(pi)
		s.syncNextPieces(c)
		return s.buildTimeline(ctx, c)
	})
}

// UpdateStudioTimeline rebuilds the timeline of a studio from whichever of its
// playlists is active, or from the studio baseline alone.
func (s *Service) UpdateStudioTimeline(ctx context.Context, studioID string) error {
	return s.worker.Run(ctx, studioKey(studioID), PriorityMaintenance, "update_timeline", func(ctx context.Context) error {
		playlists, err := findDocs[rundown.Playlist](ctx, s.store, store.Playlists, studioID)
		if err != nil {
			return err
		}
		var c *Cache
		for _, pl := range playlists {
			if pl.IsActive() {
				if c, err = LoadCache(ctx, s.store, pl.ID); err != nil {
					return err
				}
				break
			}
		}
		if c == nil {
			if c, err = LoadStudioCache(ctx, s.store, studioID); err != nil {
				return err
			}
		}
		if err := s.buildTimeline(ctx, c); err != nil {
			return err
		}
		return c.Flush(ctx, s.store)
	})
}

// UpdateTimeline rebuilds the timeline of the playlist's studio.
func (s *Service) UpdateTimeline(ctx context.Context, playlistID string) error {
	pl, err := getDoc[rundown.Playlist](ctx, s.store, store.Playlists, playlistID)
	if err != nil {
		return err
	}
	return s.UpdateStudioTimeline(ctx, pl.StudioID)
}

// Timeline returns the stored timeline of a studio.
func (s *Service) Timeline(ctx context.Context, studioID string) (*timeline.StudioTimeline, error) {
	return getDoc[timeline.StudioTimeline](ctx, s.store, store.Timelines, studioID)
}

// PartInstanceState is a part instance with its piece instances.
type PartInstanceState struct {
	*rundown.PartInstance
	PieceInstances []*rundown.PieceInstance `json:"pieceInstances"`
}

// PlaylistState is a read-only view of a playlist and its playhead.
type PlaylistState struct {
	Playlist *rundown.Playlist  `json:"playlist"`
	Previous *PartInstanceState `json:"previous,omitempty"`
	Current  *PartInstanceState `json:"current,omitempty"`
	Next     *PartInstanceState `json:"next,omitempty"`
}

// State returns the playlist with its previous, current and next instances.
// It reads without taking the studio key.
func (s *Service) State(ctx context.Context, playlistID string) (*PlaylistState, error) {
	c, err := LoadCache(ctx, s.store, playlistID)
	if err != nil {
		return nil, err
	}
	view := func(pi *rundown.PartInstance) *PartInstanceState {
		if pi == nil {
			return nil
		}
		return &PartInstanceState{PartInstance: pi, PieceInstances: c.PieceInstancesOf(pi.ID)}
	}
	return &PlaylistState{
		Playlist: c.Playlist,
		Previous: view(c.Previous()),
		Current:  view(c.Current()),
		Next:     view(c.Next()),
	}, nil
}

// ActivePlaylists counts activated playlists across studios.
func (s *Service) ActivePlaylists(ctx context.Context) (int, error) {
	playlists, err := findDocs[rundown.Playlist](ctx, s.store, store.Playlists, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pl := range playlists {
		if pl.IsActive() {
			n++
		}
	}
	return n, nil
}
