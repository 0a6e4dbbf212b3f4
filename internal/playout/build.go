package playout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"playout-orchestrator/internal/assembler"
	"playout-orchestrator/internal/lookahead"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

// buildTimeline regenerates the studio timeline from the cache and stores it
// in the cache. A timeline identical to the stored one is not rewritten.
func (s *Service) buildTimeline(ctx context.Context, c *Cache) error {
	now := s.now()

	objs := studioBaseline(c.Studio)
	var playlistID string
	rehearsal := false
	if pl := c.Playlist; pl != nil && pl.IsActive() {
		playlistID = pl.ID
		rehearsal = pl.Rehearsal
		objs = append(objs, s.playlistObjects(c, now)...)
	}

	var state json.RawMessage
	if c.Timeline != nil {
		state = c.Timeline.TransformState
	}
	if s.transformer != nil {
		out, next, err := runTransform(ctx, s.transformer, TransformInput{
			StudioID:   c.Studio.ID,
			PlaylistID: playlistID,
			Rehearsal:  rehearsal,
			Objects:    objs,
			State:      state,
		})
		if err != nil {
			s.log.Error("timeline transform failed, keeping generated timeline",
				slog.String("studio_id", c.Studio.ID),
				slog.String("error", err.Error()))
			s.metrics.IncTransformFailures()
		} else {
			objs, state = out, next
		}
	}

	flat := timeline.Flatten(objs)
	hash, err := timelineHash(flat)
	if err != nil {
		return err
	}
	if prev := c.Timeline; prev != nil && prev.Hash == hash && string(prev.TransformState) == string(state) {
		s.log.Debug("timeline unchanged", slog.String("studio_id", c.Studio.ID), slog.String("hash", hash))
		return nil
	}
	c.SetTimeline(&timeline.StudioTimeline{
		ID:             c.Studio.ID,
		Objects:        flat,
		Hash:           hash,
		Generated:      now,
		TransformState: state,
	})
	s.metrics.IncTimelineBuilds()
	s.log.Debug("timeline generated",
		slog.String("studio_id", c.Studio.ID),
		slog.String("playlist_id", playlistID),
		slog.Int("objects", len(flat)),
		slog.String("hash", hash))
	return nil
}

// timelineHash is a name based uuid of the flat objects, so equal timelines
// hash equally.
func timelineHash(objs []*timeline.Object) (string, error) {
	data, err := json.Marshal(objs)
	if err != nil {
		return "", fmt.Errorf("hash timeline: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String(), nil
}

func studioBaseline(studio *rundown.Studio) []*timeline.Object {
	out := make([]*timeline.Object, 0, len(studio.BaselineObjects))
	for _, o := range studio.BaselineObjects {
		c := o.Clone()
		c.ObjectType = timeline.ObjectTypeStudio
		out = append(out, c)
	}
	return out
}

// playlistObjects builds the part of the timeline owned by the on-air
// rundown. A failure is logged and the rundown contributes nothing; the
// studio baseline still goes out.
func (s *Service) playlistObjects(c *Cache, now int64) []*timeline.Object {
	rundownID := onAirRundown(c)
	objs, err := guard(func() ([]*timeline.Object, error) {
		return s.assemble(c, rundownID, now)
	})
	if err != nil {
		s.log.Error("rundown timeline build failed",
			slog.String("playlist_id", c.Playlist.ID),
			slog.String("rundown_id", rundownID),
			slog.String("error", err.Error()))
		s.metrics.IncRundownFailures()
		return nil
	}
	return objs
}

func guard(fn func() ([]*timeline.Object, error)) (objs []*timeline.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			objs, err = nil, invariantf("panic: %v", r)
		}
	}()
	return fn()
}

// onAirRundown is the rundown of current, else of next, else the first one.
func onAirRundown(c *Cache) string {
	if cur := c.Current(); cur != nil {
		return cur.RundownID
	}
	if next := c.Next(); next != nil {
		return next.RundownID
	}
	if ord := c.Ordered(); len(ord.Rundowns) > 0 {
		return ord.Rundowns[0].ID
	}
	return ""
}

func (s *Service) assemble(c *Cache, rundownID string, now int64) ([]*timeline.Object, error) {
	pl := c.Playlist
	for role, id := range map[string]string{
		"previous": pl.PreviousPartInstanceID,
		"current":  pl.CurrentPartInstanceID,
		"next":     pl.NextPartInstanceID,
	} {
		if id != "" && c.PartInstance(id) == nil {
			return nil, invariantf("%s part instance %q does not exist", role, id)
		}
	}

	var objs []*timeline.Object
	if r, ok := c.Ordered().Rundown(rundownID); ok {
		for _, o := range r.BaselineObjects {
			if o == nil || o.ID == "" {
				return nil, fmt.Errorf("rundown %q has a baseline object without id", r.ID)
			}
			b := o.Clone()
			b.ObjectType = timeline.ObjectTypeRundown
			objs = append(objs, b)
		}
	}

	window := func(pi *rundown.PartInstance) *assembler.Window {
		if pi == nil {
			return nil
		}
		return assembler.NewWindow(pi, c.PieceInstancesOf(pi.ID), c.SourceLayers(pi.RundownID), now)
	}
	prev, cur, next := window(c.Previous()), window(c.Current()), window(c.Next())

	objs = append(objs, assembler.BuildRundownTimeline(assembler.Input{
		PlaylistID: pl.ID,
		Rehearsal:  pl.Rehearsal,
		Previous:   prev,
		Current:    cur,
		Next:       next,
	})...)
	objs = append(objs, s.lookaheadObjects(c, prev, cur, next)...)
	return objs, nil
}

func (s *Service) lookaheadObjects(c *Cache, prev, cur, next *assembler.Window) []*timeline.Object {
	mappings := c.Studio.Mappings
	limit := lookahead.MaxSearchDistance(mappings)
	if limit == 0 {
		return nil
	}

	var exclude []string
	for _, w := range []*assembler.Window{prev, cur, next} {
		if p := w.Part(); p != nil {
			exclude = append(exclude, p.ID)
		}
	}
	after := ""
	if p := next.Part(); p != nil {
		after = p.ID
	} else if p := cur.Part(); p != nil {
		after = p.ID
	}

	piecesByPart := make(map[string][]*rundown.Piece)
	for _, p := range c.Pieces {
		piecesByPart[p.StartPartID] = append(piecesByPart[p.StartPartID], p)
	}
	var future []lookahead.FuturePart
	for _, p := range lookahead.OrderedPartsAfter(c.Ordered(), after, exclude, c.Playlist.Loop, limit) {
		future = append(future, lookahead.FuturePart{Part: p, Pieces: piecesByPart[p.ID]})
	}

	return lookahead.Generate(lookahead.Input{
		Mappings:       mappings,
		Current:        cur,
		Next:           next,
		NextOnTimeline: cur != nil && next != nil && cur.Part().AutoNext,
		Future:         future,
	})
}
