// Package job reads batch files describing the units to download.
package job

import (
	"fmt"
	"os"

	"github.com/agleyzer/hlsfetch/internal/pipeline"
	"gopkg.in/yaml.v2"
)

// File is a batch of units sharing a title. A file with a season describes
// episodes; without one it describes a single movie.
type File struct {
	Title   string  `yaml:"title"`
	Season  int     `yaml:"season"`
	Quality string  `yaml:"quality"`
	Entries []Entry `yaml:"units"`
}

// Entry is one unit of a File. Quality overrides the file's quality.
type Entry struct {
	Episode   int                      `yaml:"episode"`
	Manifest  string                   `yaml:"manifest"`
	Index     string                   `yaml:"index"`
	Quality   string                   `yaml:"quality"`
	Subtitles []pipeline.SubtitleTrack `yaml:"subtitles"`
}

// Load reads and validates the batch file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("job file %s: %w", path, err)
	}

	return f, nil
}

// Parse decodes and validates a batch file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Validate checks that every unit can be located and that episodes are
// numbered uniquely.
func (f *File) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}

	if f.Season < 0 {
		return fmt.Errorf("season must not be negative, got %d", f.Season)
	}

	if len(f.Entries) == 0 {
		return fmt.Errorf("at least one unit is required")
	}

	if f.Season == 0 && len(f.Entries) > 1 {
		return fmt.Errorf("a movie has exactly one unit, got %d; set season for episodes", len(f.Entries))
	}

	episodes := make(map[int]bool, len(f.Entries))
	for i, e := range f.Entries {
		if e.Manifest == "" && e.Index == "" {
			return fmt.Errorf("unit %d: manifest or index is required", i)
		}

		if f.Season > 0 {
			if e.Episode < 1 {
				return fmt.Errorf("unit %d: episode must be at least 1", i)
			}
			if episodes[e.Episode] {
				return fmt.Errorf("unit %d: duplicate episode %d", i, e.Episode)
			}
			episodes[e.Episode] = true
		} else if e.Episode != 0 {
			return fmt.Errorf("unit %d: episode %d given without a season", i, e.Episode)
		}

		for j, s := range e.Subtitles {
			if s.URL == "" {
				return fmt.Errorf("unit %d: subtitle %d has no url", i, j)
			}
		}
	}

	return nil
}

// Units converts the file into pipeline units, in file order. Manifests are
// not resolved here.
func (f *File) Units() []pipeline.Unit {
	units := make([]pipeline.Unit, 0, len(f.Entries))
	for _, e := range f.Entries {
		q := e.Quality
		if q == "" {
			q = f.Quality
		}

		u := pipeline.Unit{
			Title:       f.Title,
			ManifestURL: e.Manifest,
			IndexURL:    e.Index,
			Quality:     q,
			Subtitles:   e.Subtitles,
		}
		if f.Season > 0 {
			u.Season = f.Season
			u.Episode = e.Episode
		}

		units = append(units, u)
	}

	return units
}
