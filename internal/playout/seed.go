package playout

import (
	"context"
	"errors"
	"fmt"

	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"
)

// Seed writes the documents of a fixture in one batch. Existing documents with
// the same ids are replaced, except that a stored playlist keeps its
// activation and playhead so its runtime instances stay reachable.
func Seed(ctx context.Context, st store.Store, fx *rundown.Fixture) error {
	docs := fx.Documents()
	if err := keepPlaylistState(ctx, st, docs.Playlist); err != nil {
		return err
	}

	var b store.Batch
	put := func(c store.Collection, id, scope string, v any) error {
		return b.Put(c, id, scope, v)
	}
	if err := put(store.Studios, docs.Studio.ID, "", docs.Studio); err != nil {
		return err
	}
	for _, ss := range docs.ShowStyles {
		if err := put(store.ShowStyles, ss.ID, "", ss); err != nil {
			return err
		}
	}
	if err := put(store.Playlists, docs.Playlist.ID, docs.Playlist.StudioID, docs.Playlist); err != nil {
		return err
	}
	for _, r := range docs.Rundowns {
		if err := put(store.Rundowns, r.ID, r.PlaylistID, r); err != nil {
			return err
		}
	}
	for _, s := range docs.Segments {
		if err := put(store.Segments, s.ID, s.RundownID, s); err != nil {
			return err
		}
	}
	for _, p := range docs.Parts {
		if err := put(store.Parts, p.ID, p.RundownID, p); err != nil {
			return err
		}
	}
	for _, p := range docs.Pieces {
		if err := put(store.Pieces, p.ID, p.StartRundownID, p); err != nil {
			return err
		}
	}
	if err := st.Commit(ctx, b); err != nil {
		return fmt.Errorf("seed fixture: %w", err)
	}
	return nil
}

func keepPlaylistState(ctx context.Context, st store.Store, pl *rundown.Playlist) error {
	old, err := getDoc[rundown.Playlist](ctx, st, store.Playlists, pl.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("seed fixture: %w", err)
	}
	pl.ActivationID = old.ActivationID
	pl.Rehearsal = old.Rehearsal
	pl.PreviousPartInstanceID = old.PreviousPartInstanceID
	pl.CurrentPartInstanceID = old.CurrentPartInstanceID
	pl.NextPartInstanceID = old.NextPartInstanceID
	return nil
}
