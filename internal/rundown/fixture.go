package rundown

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"playout-orchestrator/internal/timeline"
)

// Fixture is a YAML description of a studio with one playlist, used to seed
// stores and by the offline CLI. Parent ids and ranks are derived from
// nesting.
type Fixture struct {
	Studio     Studio           `yaml:"studio"`
	ShowStyles []ShowStyleBase  `yaml:"showStyles"`
	Playlist   Playlist         `yaml:"playlist"`
	Rundowns   []RundownFixture `yaml:"rundowns"`
}

// RundownFixture nests the segments of a rundown.
type RundownFixture struct {
	ID              string             `yaml:"id"`
	Name            string             `yaml:"name,omitempty"`
	ShowStyleBaseID string             `yaml:"showStyleBaseId"`
	BaselineObjects []*timeline.Object `yaml:"baselineObjects,omitempty"`
	Segments        []SegmentFixture   `yaml:"segments"`
}

// SegmentFixture nests the parts of a segment.
type SegmentFixture struct {
	ID    string        `yaml:"id"`
	Name  string        `yaml:"name,omitempty"`
	Parts []PartFixture `yaml:"parts"`
}

// PartFixture is a part plus its pieces.
type PartFixture struct {
	Part   `yaml:",inline"`
	Pieces []Piece `yaml:"pieces"`
}

// Documents is the flattened content of a fixture.
type Documents struct {
	Studio     *Studio
	ShowStyles []*ShowStyleBase
	Playlist   *Playlist
	Rundowns   []*Rundown
	Segments   []*Segment
	Parts      []*Part
	Pieces     []*Piece
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if f.Studio.ID == "" {
		return nil, fmt.Errorf("fixture: studio id is required")
	}
	if f.Playlist.ID == "" {
		return nil, fmt.Errorf("fixture: playlist id is required")
	}
	for _, r := range f.Rundowns {
		for _, s := range r.Segments {
			for _, p := range s.Parts {
				for _, pc := range p.Pieces {
					if !pc.Lifespan.Valid() {
						return nil, fmt.Errorf("fixture: piece %q has unknown lifespan %q", pc.ID, pc.Lifespan)
					}
				}
			}
		}
	}
	return &f, nil
}

// Documents flattens the nested fixture, filling parent ids, ranks and piece
// origin ids. When the playlist lists no rundowns, fixture order is used.
func (f *Fixture) Documents() Documents {
	studio := f.Studio
	playlist := f.Playlist
	playlist.StudioID = studio.ID

	docs := Documents{Studio: &studio, Playlist: &playlist}
	for i := range f.ShowStyles {
		ss := f.ShowStyles[i]
		docs.ShowStyles = append(docs.ShowStyles, &ss)
	}

	listed := len(playlist.RundownIDs) > 0
	for _, rf := range f.Rundowns {
		if !listed {
			playlist.RundownIDs = append(playlist.RundownIDs, rf.ID)
		}
		docs.Rundowns = append(docs.Rundowns, &Rundown{
			ID:              rf.ID,
			PlaylistID:      playlist.ID,
			Name:            rf.Name,
			ShowStyleBaseID: rf.ShowStyleBaseID,
			BaselineObjects: rf.BaselineObjects,
		})
		for si, sf := range rf.Segments {
			docs.Segments = append(docs.Segments, &Segment{
				ID:        sf.ID,
				RundownID: rf.ID,
				Name:      sf.Name,
				Rank:      float64(si),
			})
			for pi, pf := range sf.Parts {
				part := pf.Part
				part.SegmentID = sf.ID
				part.RundownID = rf.ID
				part.Rank = float64(pi)
				docs.Parts = append(docs.Parts, &part)
				for _, pc := range pf.Pieces {
					piece := pc
					piece.StartPartID = part.ID
					piece.StartSegmentID = sf.ID
					piece.StartRundownID = rf.ID
					docs.Pieces = append(docs.Pieces, &piece)
				}
			}
		}
	}
	return docs
}
