package rundown

import "playout-orchestrator/internal/timeline"

// LookaheadMode selects how a mapping is preloaded ahead of time.
type LookaheadMode string

const (
	LookaheadNone      LookaheadMode = "none"
	LookaheadPreload   LookaheadMode = "preload"
	LookaheadWhenClear LookaheadMode = "when_clear"
)

// Mapping binds a timeline layer to a playout device.
type Mapping struct {
	DeviceID                   string        `json:"deviceId" yaml:"deviceId"`
	Lookahead                  LookaheadMode `json:"lookahead,omitempty" yaml:"lookahead,omitempty"`
	LookaheadTargetObjects     int           `json:"lookaheadTargetObjects,omitempty" yaml:"lookaheadTargetObjects,omitempty"`
	LookaheadMaxSearchDistance *int          `json:"lookaheadMaxSearchDistance,omitempty" yaml:"lookaheadMaxSearchDistance,omitempty"`
}

// Studio owns the device mappings and the baseline objects that are always on
// the timeline.
type Studio struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name,omitempty" yaml:"name,omitempty"`
	Mappings        map[string]Mapping `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	BaselineObjects []*timeline.Object `json:"baselineObjects,omitempty" yaml:"baselineObjects,omitempty"`
}

// SourceLayer is a show-style level content layer. Layers sharing an
// ExclusiveGroup compete for air time as one stack.
type SourceLayer struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	ExclusiveGroup string `json:"exclusiveGroup,omitempty" yaml:"exclusiveGroup,omitempty"`
}

// SourceLayers is keyed by layer id.
type SourceLayers map[string]SourceLayer

// ShowStyleBase is the show-style identity rundowns are tagged with.
type ShowStyleBase struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	SourceLayers SourceLayers `json:"sourceLayers,omitempty" yaml:"sourceLayers,omitempty"`
}

// Playlist groups rundowns into one on-air session and carries the playhead
// pointers.
type Playlist struct {
	ID         string   `json:"id" yaml:"id"`
	StudioID   string   `json:"studioId" yaml:"studioId"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	RundownIDs []string `json:"rundownIds" yaml:"rundownIds"`
	Loop       bool     `json:"loop,omitempty" yaml:"loop,omitempty"`

	// ActivationID is non-empty while the playlist is on air.
	ActivationID string `json:"activationId,omitempty" yaml:"-"`
	Rehearsal    bool   `json:"rehearsal,omitempty" yaml:"-"`

	PreviousPartInstanceID string `json:"previousPartInstanceId,omitempty" yaml:"-"`
	CurrentPartInstanceID  string `json:"currentPartInstanceId,omitempty" yaml:"-"`
	NextPartInstanceID     string `json:"nextPartInstanceId,omitempty" yaml:"-"`
}

// IsActive reports whether the playlist is activated.
func (p *Playlist) IsActive() bool { return p.ActivationID != "" }

// Rundown is one script of a playlist. Its order comes from Playlist.RundownIDs.
type Rundown struct {
	ID              string `json:"id" yaml:"id"`
	PlaylistID      string `json:"playlistId" yaml:"playlistId"`
	Name            string `json:"name,omitempty" yaml:"name,omitempty"`
	ShowStyleBaseID string `json:"showStyleBaseId" yaml:"showStyleBaseId"`
	// BaselineObjects stay on the timeline while the rundown is on air.
	BaselineObjects []*timeline.Object `json:"baselineObjects,omitempty" yaml:"baselineObjects,omitempty"`
}

// Segment is a ranked group of parts within a rundown.
type Segment struct {
	ID        string  `json:"id" yaml:"id"`
	RundownID string  `json:"rundownId" yaml:"rundownId"`
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Rank      float64 `json:"rank" yaml:"rank"`
}

// Part is the schedulable unit. Durations are in milliseconds.
type Part struct {
	ID        string  `json:"id" yaml:"id"`
	SegmentID string  `json:"segmentId" yaml:"segmentId"`
	RundownID string  `json:"rundownId" yaml:"rundownId"`
	Title     string  `json:"title,omitempty" yaml:"title,omitempty"`
	Rank      float64 `json:"rank" yaml:"rank"`

	Invalid bool `json:"invalid,omitempty" yaml:"invalid,omitempty"`
	Floated bool `json:"floated,omitempty" yaml:"floated,omitempty"`

	AutoNext                    bool   `json:"autoNext,omitempty" yaml:"autoNext,omitempty"`
	AutoNextOverlap             int64  `json:"autoNextOverlap,omitempty" yaml:"autoNextOverlap,omitempty"`
	PrerollDuration             int64  `json:"prerollDuration,omitempty" yaml:"prerollDuration,omitempty"`
	TransitionPrerollDuration   *int64 `json:"transitionPrerollDuration,omitempty" yaml:"transitionPrerollDuration,omitempty"`
	TransitionKeepaliveDuration *int64 `json:"transitionKeepaliveDuration,omitempty" yaml:"transitionKeepaliveDuration,omitempty"`
	DisableOutTransition        bool   `json:"disableOutTransition,omitempty" yaml:"disableOutTransition,omitempty"`
	ExpectedDuration            *int64 `json:"expectedDuration,omitempty" yaml:"expectedDuration,omitempty"`

	Classes        []string `json:"classes,omitempty" yaml:"classes,omitempty"`
	ClassesForNext []string `json:"classesForNext,omitempty" yaml:"classesForNext,omitempty"`
}

// IsPlayable reports whether the part may be taken or searched by lookahead.
func (p *Part) IsPlayable() bool { return !p.Invalid && !p.Floated }

// PieceEnable is the authored timing of a piece inside its part.
type PieceEnable struct {
	Start    timeline.Time `json:"start" yaml:"start"`
	Duration *int64        `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// PieceContent holds the authored timeline objects of a piece.
type PieceContent struct {
	TimelineObjects []*timeline.Object `json:"timelineObjects,omitempty" yaml:"timelineObjects,omitempty"`
}

// Piece is a content item attached to a part.
type Piece struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	StartPartID    string `json:"startPartId" yaml:"startPartId"`
	StartSegmentID string `json:"startSegmentId" yaml:"startSegmentId"`
	StartRundownID string `json:"startRundownId" yaml:"startRundownId"`

	SourceLayerID string   `json:"sourceLayerId" yaml:"sourceLayerId"`
	OutputLayerID string   `json:"outputLayerId" yaml:"outputLayerId"`
	Lifespan      Lifespan `json:"lifespan" yaml:"lifespan"`

	Enable       PieceEnable  `json:"enable" yaml:"enable"`
	IsTransition bool         `json:"isTransition,omitempty" yaml:"isTransition,omitempty"`
	Virtual      bool         `json:"virtual,omitempty" yaml:"virtual,omitempty"`
	AdlibPreroll int64        `json:"adlibPreroll,omitempty" yaml:"adlibPreroll,omitempty"`
	Content      PieceContent `json:"content,omitempty" yaml:"content,omitempty"`
}

// PartInstanceTimings are unix millisecond timestamps reported by playout.
type PartInstanceTimings struct {
	Take            *int64 `json:"take,omitempty"`
	StartedPlayback *int64 `json:"startedPlayback,omitempty"`
	StoppedPlayback *int64 `json:"stoppedPlayback,omitempty"`
}

// PartInstance is one runtime occurrence of a part.
type PartInstance struct {
	ID           string `json:"id"`
	PlaylistID   string `json:"playlistId"`
	ActivationID string `json:"activationId"`
	RundownID    string `json:"rundownId"`
	SegmentID    string `json:"segmentId"`
	Part         Part   `json:"part"`
	// Orphaned is set for ad-lib parts with no backing Part document.
	Orphaned bool `json:"orphaned,omitempty"`

	Timings PartInstanceTimings `json:"timings"`
}

// InfiniteInfo links the instances of one logical infinite together.
type InfiniteInfo struct {
	InfiniteInstanceID   string `json:"infiniteInstanceId"`
	InfinitePieceID      string `json:"infinitePieceId"`
	FromPreviousPart     bool   `json:"fromPreviousPart,omitempty"`
	FromPreviousPlayhead bool   `json:"fromPreviousPlayhead,omitempty"`
	FromHold             bool   `json:"fromHold,omitempty"`
}

// UserDuration is an operator override of the piece end, relative to the
// start of its part.
type UserDuration struct {
	End int64 `json:"end"`
}

// PieceInstance is a runtime occurrence of a piece within one PartInstance.
type PieceInstance struct {
	ID                   string `json:"id"`
	PlaylistID           string `json:"playlistId"`
	PartInstanceID       string `json:"partInstanceId"`
	RundownID            string `json:"rundownId"`
	PlaylistActivationID string `json:"playlistActivationId"`
	Piece                Piece  `json:"piece"`

	Infinite            *InfiniteInfo `json:"infinite,omitempty"`
	UserDuration        *UserDuration `json:"userDuration,omitempty"`
	StartedPlayback     *int64        `json:"startedPlayback,omitempty"`
	StoppedPlayback     *int64        `json:"stoppedPlayback,omitempty"`
	DynamicallyInserted *int64        `json:"dynamicallyInserted,omitempty"`
	Disabled            bool          `json:"disabled,omitempty"`
}

// IsActive reports whether the instance has neither stopped nor been given an
// explicit end.
func (p *PieceInstance) IsActive() bool {
	return p.StoppedPlayback == nil && p.UserDuration == nil
}

// Clone returns a copy that shares no mutable state with p.
func (p *PieceInstance) Clone() *PieceInstance {
	c := *p
	if p.Infinite != nil {
		inf := *p.Infinite
		c.Infinite = &inf
	}
	if p.UserDuration != nil {
		ud := *p.UserDuration
		c.UserDuration = &ud
	}
	c.StartedPlayback = cloneInt(p.StartedPlayback)
	c.StoppedPlayback = cloneInt(p.StoppedPlayback)
	c.DynamicallyInserted = cloneInt(p.DynamicallyInserted)
	c.Piece.Enable.Duration = cloneInt(p.Piece.Enable.Duration)
	return &c
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
