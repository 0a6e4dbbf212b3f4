package playout

import (
	"context"
	"encoding/json"
	"fmt"

	"playout-orchestrator/internal/timeline"
)

// TransformInput is handed to the transform hook once per timeline build.
type TransformInput struct {
	StudioID   string
	PlaylistID string
	Rehearsal  bool
	// Objects is the nested timeline before flattening.
	Objects []*timeline.Object
	// State is what the previous successful call returned.
	State json.RawMessage
}

// TimelineTransformer lets show-specific code rewrite the generated timeline.
// The returned state is stored with the timeline and passed to the next call.
type TimelineTransformer interface {
	Transform(ctx context.Context, in TransformInput) ([]*timeline.Object, json.RawMessage, error)
}

// TransformerFunc adapts a function to TimelineTransformer.
type TransformerFunc func(ctx context.Context, in TransformInput) ([]*timeline.Object, json.RawMessage, error)

// Transform implements TimelineTransformer.
func (f TransformerFunc) Transform(ctx context.Context, in TransformInput) ([]*timeline.Object, json.RawMessage, error) {
	return f(ctx, in)
}

// runTransform calls the hook with a private copy of the objects so a failing
// hook cannot leave half-edited objects behind.
func runTransform(ctx context.Context, t TimelineTransformer, in TransformInput) (objs []*timeline.Object, state json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	copied := make([]*timeline.Object, len(in.Objects))
	for i, o := range in.Objects {
		copied[i] = o.Clone()
	}
	in.Objects = copied
	return t.Transform(ctx, in)
}
