// Package segment defines data structures for HLS media segments and the
// ordering key that keeps them in playback order on disk.
package segment

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// KeyWidth is the zero-padded width of an ordering key. Five digits keeps a
// lexicographic directory listing in playback order for up to 99999 segments.
const KeyWidth = 5

// Ext is the file extension given to downloaded segment files.
const Ext = ".ts"

// ErrNoSequence is returned when a segment file name carries no trailing
// digits, which means the index document is malformed.
var ErrNoSequence = errors.New("segment file name has no trailing sequence number")

// Segment represents a single media segment.
type Segment struct {
	// URL is the absolute segment URL
	URL string

	// Sequence is the number taken from the trailing digits of the file name.
	// It need not be contiguous or zero-based.
	Sequence int

	// Key is Sequence rendered zero-padded to KeyWidth (or wider when the
	// digit run itself is wider)
	Key string
}

// FileName returns the workspace file name for this segment.
func (s Segment) FileName() string {
	return s.Key + Ext
}

// Index is an ordered list of segments for one quality rendition.
type Index []Segment

// NewIndex derives the ordering key of every URL. It fails on the first URL
// without a trailing sequence number, or when two URLs would map to the same
// workspace file. All keys in an index share one width so that name order
// equals numeric order even past KeyWidth digits.
func NewIndex(urls []string) (Index, error) {
	idx := make(Index, 0, len(urls))
	width := KeyWidth

	for _, u := range urls {
		seg, err := New(u)
		if err != nil {
			return nil, err
		}
		if len(seg.Key) > width {
			width = len(seg.Key)
		}
		idx = append(idx, seg)
	}

	seen := make(map[string]string, len(idx))
	for i := range idx {
		idx[i].Key = padKey(strconv.Itoa(idx[i].Sequence), width)

		if prev, ok := seen[idx[i].Key]; ok {
			return nil, fmt.Errorf("segments %q and %q share sequence %s", prev, idx[i].URL, idx[i].Key)
		}
		seen[idx[i].Key] = idx[i].URL
	}

	return idx, nil
}

// URLs returns the segment URLs in index order.
func (idx Index) URLs() []string {
	urls := make([]string, len(idx))
	for i, s := range idx {
		urls[i] = s.URL
	}
	return urls
}

// New builds a Segment from its URL.
func New(rawURL string) (Segment, error) {
	digits, err := SequenceDigits(rawURL)
	if err != nil {
		return Segment{}, err
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return Segment{}, fmt.Errorf("invalid sequence %q in %s: %w", digits, rawURL, err)
	}

	return Segment{
		URL:      rawURL,
		Sequence: n,
		Key:      PadKey(digits),
	}, nil
}

// Stem returns the file name of a URL without directory, query or
// extension.
func Stem(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}

	base := path.Base(p)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}

	return base
}

// SequenceDigits extracts the longest trailing run of decimal digits from the
// file stem of rawURL.
func SequenceDigits(rawURL string) (string, error) {
	stem := Stem(rawURL)

	i := len(stem)
	for i > 0 && stem[i-1] >= '0' && stem[i-1] <= '9' {
		i--
	}

	if i == len(stem) {
		return "", fmt.Errorf("%w: %s", ErrNoSequence, rawURL)
	}

	return stem[i:], nil
}

// PadKey left-pads digits with zeros to KeyWidth. Leading zeros beyond the
// width are trimmed so that "0000012" and "12" produce the same key.
func PadKey(digits string) string {
	return padKey(digits, KeyWidth)
}

func padKey(digits string, width int) string {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		trimmed = "0"
	}

	if len(trimmed) >= width {
		return trimmed
	}

	return strings.Repeat("0", width-len(trimmed)) + trimmed
}
