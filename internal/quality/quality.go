// Package quality models quality labels of a title's renditions and selects
// the rendition to download.
package quality

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNoQualities is returned when a map has no quality to fall back to.
var ErrNoQualities = errors.New("no quality available")

// BandwidthPrefix marks labels of renditions known only by their bandwidth,
// e.g. "bw800000".
const BandwidthPrefix = "bw"

// Known lists the quality labels renditions are usually published at,
// lowest first.
var Known = []Level{Q360, Q480, Q720, Q1080}

// Level is a vertical resolution in lines. Zero means the label was not
// numeric and the rendition is unranked.
type Level int

const (
	Other Level = 0
	Q360  Level = 360
	Q480  Level = 480
	Q720  Level = 720
	Q1080 Level = 1080
)

// String renders the level as its label.
func (l Level) String() string {
	if l == Other {
		return "other"
	}
	return strconv.Itoa(int(l))
}

// IsKnown reports whether l is one of the Known levels.
func (l Level) IsKnown() bool {
	for _, k := range Known {
		if l == k {
			return true
		}
	}
	return false
}

// Normalize strips a trailing "p" from a label ("720p" -> "720").
func Normalize(label string) string {
	label = strings.TrimSpace(label)
	if strings.HasSuffix(label, "p") || strings.HasSuffix(label, "P") {
		return label[:len(label)-1]
	}
	return label
}

// Parse ranks a label. Non-numeric labels are Other.
func Parse(label string) Level {
	n, err := strconv.Atoi(Normalize(label))
	if err != nil || n <= 0 {
		return Other
	}
	return Level(n)
}

// Map associates a normalized quality label with the URL of its index
// document.
type Map map[string]string

// Labels returns the labels of m, ranked ones in ascending numeric order
// followed by unranked ones in lexical order.
func (m Map) Labels() []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sortLabels(labels)
	return labels
}

// Highest returns the numerically highest ranked label. When no label is
// ranked it returns the bandwidth label with the largest bandwidth, or else
// the last unranked label in lexical order. It fails only for an empty map.
func (m Map) Highest() (string, error) {
	if len(m) == 0 {
		return "", ErrNoQualities
	}

	best, bestLevel := "", Other
	for label := range m {
		if l := Parse(label); l > bestLevel {
			best, bestLevel = label, l
		}
	}
	if bestLevel != Other {
		return best, nil
	}

	var bestBW uint64
	for label := range m {
		if bw, ok := Bandwidth(label); ok && (best == "" || bw > bestBW) {
			best, bestBW = label, bw
		}
	}
	if best != "" {
		return best, nil
	}

	labels := m.Labels()
	return labels[len(labels)-1], nil
}

// Bandwidth returns the bits per second encoded in a bandwidth label.
func Bandwidth(label string) (uint64, bool) {
	digits, ok := strings.CutPrefix(label, BandwidthPrefix)
	if !ok {
		return 0, false
	}
	bw, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return bw, true
}

// Selection is the outcome of Select.
type Selection struct {
	Label string
	URL   string
	// Fallback is set when the requested label was unavailable.
	Fallback bool
}

// Select returns the rendition for requested. A missing or empty label falls
// back to the numerically highest available quality.
func (m Map) Select(requested string) (Selection, error) {
	requested = Normalize(requested)
	if u, ok := m[requested]; ok && requested != "" {
		return Selection{Label: requested, URL: u}, nil
	}

	label, err := m.Highest()
	if err != nil {
		return Selection{}, fmt.Errorf("quality %q unavailable: %w", requested, err)
	}

	return Selection{Label: label, URL: m[label], Fallback: requested != ""}, nil
}

// Common returns the labels present in every map, ranked ascending. It
// returns nil when maps is empty.
func Common(maps ...Map) []string {
	if len(maps) == 0 {
		return nil
	}

	var common []string
	for label := range maps[0] {
		inAll := true
		for _, m := range maps[1:] {
			if _, ok := m[label]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, label)
		}
	}

	sortLabels(common)
	return common
}

func sortLabels(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		li, lj := Parse(labels[i]), Parse(labels[j])
		if li == Other || lj == Other {
			if li != lj {
				return lj == Other
			}
			return labels[i] < labels[j]
		}
		return li < lj
	})
}
