package playout

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"
	"playout-orchestrator/internal/timeline"
)

// Cache is the snapshot one operation works on. Everything an operation needs
// is loaded up front; changes are tracked and written back in one batch by
// Flush. A cache that is not flushed leaves the store untouched.
type Cache struct {
	Studio     *rundown.Studio
	Playlist   *rundown.Playlist
	ShowStyles map[string]*rundown.ShowStyleBase
	Rundowns   []*rundown.Rundown
	Segments   []*rundown.Segment
	Parts      []*rundown.Part
	Pieces     []*rundown.Piece
	// Timeline is the stored studio timeline, nil before the first build.
	Timeline *timeline.StudioTimeline

	partInstances  map[string]*rundown.PartInstance
	pieceInstances map[string]*rundown.PieceInstance
	ordered        *rundown.Ordered

	playlistDirty bool
	timelineDirty bool
	dirtyParts    map[string]struct{}
	dirtyPieces   map[string]struct{}
	deletedParts  map[string]struct{}
	deletedPieces map[string]struct{}
}

// LoadCache reads the playlist, its studio and every document below it.
func LoadCache(ctx context.Context, st store.Store, playlistID string) (*Cache, error) {
	playlist, err := getDoc[rundown.Playlist](ctx, st, store.Playlists, playlistID)
	if err != nil {
		return nil, err
	}
	studio, err := getDoc[rundown.Studio](ctx, st, store.Studios, playlist.StudioID)
	if err != nil {
		return nil, err
	}

	c := newCache(studio, playlist)
	if c.Rundowns, err = findDocs[rundown.Rundown](ctx, st, store.Rundowns, playlist.ID); err != nil {
		return nil, err
	}
	for _, r := range c.Rundowns {
		segs, err := findDocs[rundown.Segment](ctx, st, store.Segments, r.ID)
		if err != nil {
			return nil, err
		}
		parts, err := findDocs[rundown.Part](ctx, st, store.Parts, r.ID)
		if err != nil {
			return nil, err
		}
		pieces, err := findDocs[rundown.Piece](ctx, st, store.Pieces, r.ID)
		if err != nil {
			return nil, err
		}
		c.Segments = append(c.Segments, segs...)
		c.Parts = append(c.Parts, parts...)
		c.Pieces = append(c.Pieces, pieces...)

		if _, ok := c.ShowStyles[r.ShowStyleBaseID]; !ok {
			ss, err := getDoc[rundown.ShowStyleBase](ctx, st, store.ShowStyles, r.ShowStyleBaseID)
			switch {
			case errors.Is(err, ErrNotFound):
				return nil, invariantf("show style %q of rundown %q does not exist", r.ShowStyleBaseID, r.ID)
			case err != nil:
				return nil, err
			}
			c.ShowStyles[r.ShowStyleBaseID] = ss
		}
	}

	partInstances, err := findDocs[rundown.PartInstance](ctx, st, store.PartInstances, playlist.ID)
	if err != nil {
		return nil, err
	}
	for _, pi := range partInstances {
		c.partInstances[pi.ID] = pi
	}
	pieceInstances, err := findDocs[rundown.PieceInstance](ctx, st, store.PieceInstances, playlist.ID)
	if err != nil {
		return nil, err
	}
	for _, pi := range pieceInstances {
		c.pieceInstances[pi.ID] = pi
	}

	tl, err := getDoc[timeline.StudioTimeline](ctx, st, store.Timelines, studio.ID)
	switch {
	case err == nil:
		c.Timeline = tl
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return c, nil
}

// LoadStudioCache loads a studio without a playlist, used to rebuild the
// baseline timeline when nothing is on air.
func LoadStudioCache(ctx context.Context, st store.Store, studioID string) (*Cache, error) {
	studio, err := getDoc[rundown.Studio](ctx, st, store.Studios, studioID)
	if err != nil {
		return nil, err
	}
	c := newCache(studio, nil)
	tl, err := getDoc[timeline.StudioTimeline](ctx, st, store.Timelines, studio.ID)
	switch {
	case err == nil:
		c.Timeline = tl
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return c, nil
}

func newCache(studio *rundown.Studio, playlist *rundown.Playlist) *Cache {
	return &Cache{
		Studio:         studio,
		Playlist:       playlist,
		ShowStyles:     make(map[string]*rundown.ShowStyleBase),
		partInstances:  make(map[string]*rundown.PartInstance),
		pieceInstances: make(map[string]*rundown.PieceInstance),
		dirtyParts:     make(map[string]struct{}),
		dirtyPieces:    make(map[string]struct{}),
		deletedParts:   make(map[string]struct{}),
		deletedPieces:  make(map[string]struct{}),
	}
}

// Ordered returns the playlist in playout order.
func (c *Cache) Ordered() *rundown.Ordered {
	if c.ordered == nil {
		c.ordered = rundown.NewOrdered(c.Playlist, c.Rundowns, c.Segments, c.Parts)
	}
	return c.ordered
}

// SourceLayers returns the source layers of a rundown's show style.
func (c *Cache) SourceLayers(rundownID string) rundown.SourceLayers {
	r, ok := c.Ordered().Rundown(rundownID)
	if !ok {
		return nil
	}
	if ss := c.ShowStyles[r.ShowStyleBaseID]; ss != nil {
		return ss.SourceLayers
	}
	return nil
}

// PartInstance returns the instance with id, or nil. An empty id yields nil.
func (c *Cache) PartInstance(id string) *rundown.PartInstance {
	if id == "" {
		return nil
	}
	return c.partInstances[id]
}

// Previous, Current and Next follow the playlist pointers. They are nil
// without a playlist.
func (c *Cache) Previous() *rundown.PartInstance {
	if c.Playlist == nil {
		return nil
	}
	return c.PartInstance(c.Playlist.PreviousPartInstanceID)
}

func (c *Cache) Current() *rundown.PartInstance {
	if c.Playlist == nil {
		return nil
	}
	return c.PartInstance(c.Playlist.CurrentPartInstanceID)
}

func (c *Cache) Next() *rundown.PartInstance {
	if c.Playlist == nil {
		return nil
	}
	return c.PartInstance(c.Playlist.NextPartInstanceID)
}

// PartInstances returns every part instance sorted by id.
func (c *Cache) PartInstances() []*rundown.PartInstance {
	out := make([]*rundown.PartInstance, 0, len(c.partInstances))
	for _, pi := range c.partInstances {
		out = append(out, pi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PieceInstance returns the piece instance with id, or nil.
func (c *Cache) PieceInstance(id string) *rundown.PieceInstance {
	return c.pieceInstances[id]
}

// PieceInstancesOf returns the piece instances of a part instance sorted by id.
func (c *Cache) PieceInstancesOf(partInstanceID string) []*rundown.PieceInstance {
	var out []*rundown.PieceInstance
	for _, pi := range c.pieceInstances {
		if pi.PartInstanceID == partInstanceID {
			out = append(out, pi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkPlaylist flags the playlist for writing.
func (c *Cache) MarkPlaylist() { c.playlistDirty = true }

// PutPartInstance inserts or replaces a part instance.
func (c *Cache) PutPartInstance(pi *rundown.PartInstance) {
	c.partInstances[pi.ID] = pi
	c.dirtyParts[pi.ID] = struct{}{}
	delete(c.deletedParts, pi.ID)
}

// PutPieceInstance inserts or replaces a piece instance.
func (c *Cache) PutPieceInstance(pi *rundown.PieceInstance) {
	c.pieceInstances[pi.ID] = pi
	c.dirtyPieces[pi.ID] = struct{}{}
	delete(c.deletedPieces, pi.ID)
}

// DeletePieceInstance removes one piece instance.
func (c *Cache) DeletePieceInstance(id string) {
	if _, ok := c.pieceInstances[id]; !ok {
		return
	}
	delete(c.pieceInstances, id)
	delete(c.dirtyPieces, id)
	c.deletedPieces[id] = struct{}{}
}

// DeletePartInstance removes a part instance together with its pieces.
func (c *Cache) DeletePartInstance(id string) {
	if _, ok := c.partInstances[id]; !ok {
		return
	}
	for _, pi := range c.PieceInstancesOf(id) {
		c.DeletePieceInstance(pi.ID)
	}
	delete(c.partInstances, id)
	delete(c.dirtyParts, id)
	c.deletedParts[id] = struct{}{}
}

// SetTimeline replaces the studio timeline.
func (c *Cache) SetTimeline(tl *timeline.StudioTimeline) {
	c.Timeline = tl
	c.timelineDirty = true
}

// Batch returns the pending writes in a deterministic order.
func (c *Cache) Batch() (store.Batch, error) {
	var b store.Batch
	if c.playlistDirty && c.Playlist != nil {
		if err := b.Put(store.Playlists, c.Playlist.ID, c.Playlist.StudioID, c.Playlist); err != nil {
			return b, err
		}
	}
	for _, id := range sortedKeys(c.dirtyParts) {
		pi := c.partInstances[id]
		if err := b.Put(store.PartInstances, id, pi.PlaylistID, pi); err != nil {
			return b, err
		}
	}
	for _, id := range sortedKeys(c.dirtyPieces) {
		pi := c.pieceInstances[id]
		if err := b.Put(store.PieceInstances, id, pi.PlaylistID, pi); err != nil {
			return b, err
		}
	}
	for _, id := range sortedKeys(c.deletedParts) {
		b.Delete(store.PartInstances, id)
	}
	for _, id := range sortedKeys(c.deletedPieces) {
		b.Delete(store.PieceInstances, id)
	}
	if c.timelineDirty && c.Timeline != nil {
		if err := b.Put(store.Timelines, c.Timeline.ID, "", c.Timeline); err != nil {
			return b, err
		}
	}
	return b, nil
}

// Flush commits the pending writes atomically.
func (c *Cache) Flush(ctx context.Context, st store.Store) error {
	b, err := c.Batch()
	if err != nil {
		return err
	}
	if err := st.Commit(ctx, b); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func getDoc[T any](ctx context.Context, st store.Store, c store.Collection, id string) (*T, error) {
	doc, err := st.Get(ctx, c, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundf("%s %q", c, id)
	}
	if err != nil {
		return nil, err
	}
	return store.Decode[T](doc)
}

func findDocs[T any](ctx context.Context, st store.Store, c store.Collection, scope string) ([]*T, error) {
	docs, err := st.Find(ctx, c, scope)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[T](docs)
}
