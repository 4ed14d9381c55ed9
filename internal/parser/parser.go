// Package parser turns a fetched index document into an ordered list of
// absolute segment URLs.
package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agleyzer/hlsfetch/internal/segment"
	"github.com/grafov/m3u8"
)

// directiveMarker starts comment and tag lines.
const directiveMarker = "#"

// ErrEmptyIndex is returned when an index document lists no segments.
var ErrEmptyIndex = errors.New("index contains no segments")

// ErrMasterPlaylist is returned when a master playlist is given where a
// segment list is expected.
var ErrMasterPlaylist = errors.New("expected a segment list, got a master playlist")

// Load fetches the index document at indexURL and derives the ordering key
// of every segment. Any segment without a sequence number fails the whole
// load before a single segment is downloaded.
func Load(ctx context.Context, client *http.Client, indexURL string) (segment.Index, error) {
	urls, err := FetchIndex(ctx, client, indexURL)
	if err != nil {
		return nil, err
	}

	idx, err := segment.NewIndex(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to order segments: %w", err)
	}

	return idx, nil
}

// FetchIndex downloads an index document and parses it.
func FetchIndex(ctx context.Context, client *http.Client, indexURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch index: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	return ParseSegmentList(string(body), indexURL)
}

// ParseSegmentList returns the absolute URLs listed in body, in document
// order. Lines starting with '#' are dropped; relative lines are resolved
// against the directory of indexURL.
func ParseSegmentList(body, indexURL string) ([]string, error) {
	if isMaster(body) {
		return nil, ErrMasterPlaylist
	}

	base, err := baseDir(indexURL)
	if err != nil {
		return nil, err
	}

	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, directiveMarker) {
			continue
		}

		resolved, err := resolveURL(base, line)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment URL: %w", err)
		}

		urls = append(urls, resolved)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	if len(urls) == 0 {
		return nil, ErrEmptyIndex
	}

	return urls, nil
}

// isMaster reports whether body is an HLS master playlist. Documents that are
// not valid HLS are treated as flat segment lists.
func isMaster(body string) bool {
	if !strings.HasPrefix(strings.TrimSpace(body), "#EXTM3U") {
		return false
	}

	_, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return false
	}

	return listType == m3u8.MASTER
}

// baseDir returns indexURL with its query dropped and its last path element
// removed, always ending in '/'.
func baseDir(indexURL string) (*url.URL, error) {
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index URL: %w", err)
	}

	if !u.IsAbs() {
		return nil, fmt.Errorf("invalid index URL %q: not absolute", indexURL)
	}

	dir := u.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	}

	return &url.URL{
		Scheme: u.Scheme,
		User:   u.User,
		Host:   u.Host,
		Path:   dir + "/",
	}, nil
}

// resolveURL keeps absolute URLs verbatim and resolves anything else against
// base.
func resolveURL(base *url.URL, line string) (string, error) {
	rel, err := url.Parse(line)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	if rel.IsAbs() {
		return line, nil
	}

	return base.ResolveReference(rel).String(), nil
}
