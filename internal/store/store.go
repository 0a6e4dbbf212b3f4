package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names a document type.
type Collection string

const (
	Studios        Collection = "studios"
	ShowStyles     Collection = "showstyles"
	Playlists      Collection = "playlists"
	Rundowns       Collection = "rundowns"
	Segments       Collection = "segments"
	Parts          Collection = "parts"
	Pieces         Collection = "pieces"
	PartInstances  Collection = "partinstances"
	PieceInstances Collection = "pieceinstances"
	Timelines      Collection = "timelines"
)

// ErrNotFound is returned by Get for a missing document.
var ErrNotFound = errors.New("document not found")

// Document is one stored JSON blob. Scope is the secondary key Find filters
// on, e.g. the rundown id of a part.
type Document struct {
	Collection Collection
	ID         string
	Scope      string
	Body       json.RawMessage
}

// Key addresses a document.
type Key struct {
	Collection Collection
	ID         string
}

// Batch is a set of writes applied atomically by Commit.
type Batch struct {
	Puts    []Document
	Deletes []Key
}

// Empty reports whether the batch has no writes.
func (b *Batch) Empty() bool { return len(b.Puts) == 0 && len(b.Deletes) == 0 }

// Put encodes v and queues it for writing.
func (b *Batch) Put(c Collection, id, scope string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, id, err)
	}
	b.Puts = append(b.Puts, Document{Collection: c, ID: id, Scope: scope, Body: body})
	return nil
}

// Delete queues a document for removal.
func (b *Batch) Delete(c Collection, id string) {
	b.Deletes = append(b.Deletes, Key{Collection: c, ID: id})
}

// Store is the persistence contract of the playout engine. Implementations
// must be safe for concurrent use; Commit applies a batch atomically.
type Store interface {
	Get(ctx context.Context, c Collection, id string) (Document, error)
	// Find returns the documents of a collection with the given scope, sorted
	// by id. An empty scope matches every document.
	Find(ctx context.Context, c Collection, scope string) ([]Document, error)
	Commit(ctx context.Context, b Batch) error
	Close() error
}

// Decode unmarshals one document.
func Decode[T any](doc Document) (*T, error) {
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return &v, nil
}

// DecodeAll unmarshals a list of documents in order.
func DecodeAll[T any](docs []Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
