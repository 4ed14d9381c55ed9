package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agleyzer/hlsfetch/internal/quality"
)

// SubtitleTrack is a subtitle file to mux into a unit's output.
type SubtitleTrack struct {
	// Label is the display language, e.g. "French".
	Label string `yaml:"label" json:"label"`
	URL   string `yaml:"url" json:"url"`
}

// Unit is one movie or one episode.
//
// The index document is taken from IndexURL when set. Otherwise the
// rendition is selected from Qualities by Quality, and Qualities is resolved
// from ManifestURL when empty.
type Unit struct {
	Title string
	// Season and Episode are zero for movies.
	Season  int
	Episode int

	ManifestURL string
	Qualities   quality.Map
	Quality     string
	IndexURL    string

	Subtitles []SubtitleTrack
}

// IsEpisode reports whether u is part of a season.
func (u Unit) IsEpisode() bool {
	return u.Episode > 0
}

// Name identifies the unit in logs and reports.
func (u Unit) Name() string {
	title := SanitizeTitle(u.Title)
	if !u.IsEpisode() {
		return title
	}
	return fmt.Sprintf("%s S%02dE%02d", title, u.Season, u.Episode)
}

// OutputPath returns where the finished file for u goes under root: movies
// at <root>/<Title>/<Title>.<container>, episodes at
// <root>/<Title>/Season <n>/Episode <e>.<container>.
func (u Unit) OutputPath(root, container string) string {
	title := SanitizeTitle(u.Title)
	if title == "" {
		title = "untitled"
	}
	ext := "." + strings.TrimPrefix(container, ".")

	if !u.IsEpisode() {
		return filepath.Join(root, title, title+ext)
	}

	return filepath.Join(root, title,
		fmt.Sprintf("Season %d", u.Season),
		fmt.Sprintf("Episode %d%s", u.Episode, ext),
	)
}

var unsafeTitleChars = regexp.MustCompile(`[<>:"/|?*\\]`)

// SanitizeTitle makes title usable as a directory name: characters not
// allowed in file names become spaces and whitespace runs collapse.
func SanitizeTitle(title string) string {
	title = unsafeTitleChars.ReplaceAllString(title, " ")
	return strings.Join(strings.Fields(title), " ")
}
