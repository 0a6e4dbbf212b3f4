package timeline

import "encoding/json"

// ObjectType tags where a timeline object came from.
type ObjectType string

const (
	ObjectTypeRundown ObjectType = "rundown"
	ObjectTypeStudio  ObjectType = "studio"
)

// Enable describes when an object is active. Either While or Start (with an
// optional End or Duration) is set.
type Enable struct {
	Start    *Time  `json:"start,omitempty" yaml:"start,omitempty"`
	End      *Time  `json:"end,omitempty" yaml:"end,omitempty"`
	Duration *int64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	While    string `json:"while,omitempty" yaml:"while,omitempty"`
}

// StartAt returns an enable with only a start.
func StartAt(t Time) Enable { return Enable{Start: Ref(t)} }

// Keyframe overrides an object's content while its enable holds.
type Keyframe struct {
	ID                   string         `json:"id" yaml:"id"`
	Enable               Enable         `json:"enable" yaml:"enable"`
	Content              map[string]any `json:"content,omitempty" yaml:"content,omitempty"`
	PreserveForLookahead bool           `json:"preserveForLookahead,omitempty" yaml:"preserveForLookahead,omitempty"`
}

// Object is a node of the playout timeline. Groups hold Children; after
// Flatten every child carries InGroup instead.
type Object struct {
	ID        string         `json:"id" yaml:"id"`
	Enable    Enable         `json:"enable" yaml:"enable"`
	Layer     string         `json:"layer" yaml:"layer"`
	Priority  float64        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Classes   []string       `json:"classes,omitempty" yaml:"classes,omitempty"`
	Content   map[string]any `json:"content" yaml:"content"`
	Keyframes []Keyframe     `json:"keyframes,omitempty" yaml:"keyframes,omitempty"`
	IsGroup   bool           `json:"isGroup,omitempty" yaml:"isGroup,omitempty"`
	Children  []*Object      `json:"children,omitempty" yaml:"children,omitempty"`
	InGroup   string         `json:"inGroup,omitempty" yaml:"-"`

	ObjectType              ObjectType `json:"objectType,omitempty" yaml:"-"`
	PartInstanceID          string     `json:"partInstanceId,omitempty" yaml:"-"`
	PieceInstanceID         string     `json:"pieceInstanceId,omitempty" yaml:"-"`
	InfinitePieceInstanceID string     `json:"infinitePieceInstanceId,omitempty" yaml:"-"`
	IsLookahead             bool       `json:"isLookahead,omitempty" yaml:"-"`
	LookaheadForLayer       string     `json:"lookaheadForLayer,omitempty" yaml:"-"`
}

// Clone returns a deep copy of o, children included.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Enable = o.Enable.clone()
	c.Classes = append([]string(nil), o.Classes...)
	c.Content = cloneMap(o.Content)
	if o.Keyframes != nil {
		c.Keyframes = make([]Keyframe, len(o.Keyframes))
		for i, kf := range o.Keyframes {
			kf.Enable = kf.Enable.clone()
			kf.Content = cloneMap(kf.Content)
			c.Keyframes[i] = kf
		}
	}
	if o.Children != nil {
		c.Children = make([]*Object, len(o.Children))
		for i, child := range o.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

func (e Enable) clone() Enable {
	out := Enable{While: e.While}
	if e.Start != nil {
		out.Start = Ref(*e.Start)
	}
	if e.End != nil {
		out.End = Ref(*e.End)
	}
	if e.Duration != nil {
		d := *e.Duration
		out.Duration = &d
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// StudioTimeline is the single persisted timeline document of a studio.
//
// Hash is derived from Objects: it changes whenever the objects change and
// stays the same across rebuilds that produce the same objects, in which case
// the document is not rewritten and Generated keeps the time of the last real
// change. Consumers should treat a new Hash as "timeline changed", not as
// "timeline rebuilt".
type StudioTimeline struct {
	ID             string          `json:"id"`
	Objects        []*Object       `json:"objects"`
	Hash           string          `json:"hash"`
	Generated      int64           `json:"generated"`
	TransformState json.RawMessage `json:"transformState,omitempty"`
}
