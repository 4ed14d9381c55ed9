// Package manifest resolves a title's manifest into a map from quality label
// to index document URL.
//
// Two manifest forms are understood: a JSON object of label to URL, and an
// HLS master playlist whose variants are labelled by their vertical
// resolution.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agleyzer/hlsfetch/internal/quality"
	"github.com/grafov/m3u8"
)

// ErrUnknownFormat is returned for manifests that are neither JSON nor an
// HLS master playlist.
var ErrUnknownFormat = errors.New("unrecognized manifest format")

// Options tunes resolution.
type Options struct {
	// Probe1080 guesses a 1080 rendition URL from another rendition when the
	// manifest omits it, and keeps it if the guess answers with success.
	Probe1080 bool
}

// Resolve fetches manifestURL and decodes it.
func Resolve(ctx context.Context, client *http.Client, manifestURL string, opts Options) (quality.Map, error) {
	body, err := get(ctx, client, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	m, err := Decode(body, manifestURL)
	if err != nil {
		return nil, err
	}

	if opts.Probe1080 {
		probe1080(ctx, client, m)
	}

	return m, nil
}

// Decode parses a manifest body. Relative URLs are resolved against
// manifestURL.
func Decode(body []byte, manifestURL string) (quality.Map, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		return decodeJSON(trimmed, base)
	case bytes.HasPrefix(trimmed, []byte("#EXTM3U")):
		return decodeMaster(trimmed, base)
	default:
		return nil, ErrUnknownFormat
	}
}

// decodeJSON reads {"720p": "...", "1080p": "..."}. Labels lose a trailing
// "p"; keys starting with "a" name audio renditions and are skipped, as are
// non-string values.
func decodeJSON(body []byte, base *url.URL) (quality.Map, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := make(quality.Map, len(raw))
	for key, v := range raw {
		if strings.HasPrefix(key, "a") {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}

		resolved, err := resolve(base, s)
		if err != nil {
			return nil, err
		}
		m[quality.Normalize(key)] = resolved
	}

	return m, nil
}

// decodeMaster labels each variant of a master playlist with the height of
// its RESOLUTION. When several variants share a height the one with the
// highest bandwidth wins. Variants without a resolution are labelled by
// bandwidth and stay unranked.
func decodeMaster(body []byte, base *url.URL) (quality.Map, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if listType != m3u8.MASTER {
		return nil, fmt.Errorf("%w: media playlist, not a master playlist", ErrUnknownFormat)
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	m := make(quality.Map)
	bandwidth := make(map[string]uint32)
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}

		label := heightLabel(v.Resolution)
		if label == "" {
			label = quality.BandwidthPrefix + strconv.FormatUint(uint64(v.Bandwidth), 10)
		}

		if prev, ok := bandwidth[label]; ok && prev >= v.Bandwidth {
			continue
		}

		resolved, err := resolve(base, v.URI)
		if err != nil {
			return nil, err
		}
		m[label] = resolved
		bandwidth[label] = v.Bandwidth
	}

	if len(m) == 0 {
		return nil, fmt.Errorf("master playlist contains no variants")
	}

	return m, nil
}

// heightLabel turns "1920x1080" into "1080".
func heightLabel(resolution string) string {
	_, h, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok {
		return ""
	}
	if _, err := strconv.Atoi(h); err != nil {
		return ""
	}
	return h
}

// probe1080 derives a 1080 URL from the lowest ranked rendition by
// substituting its "<label>p" path element, and keeps it only if a GET of
// the guess succeeds.
func probe1080(ctx context.Context, client *http.Client, m quality.Map) {
	if _, ok := m["1080"]; ok {
		return
	}

	for _, label := range m.Labels() {
		if quality.Parse(label) == quality.Other {
			continue
		}

		candidate := strings.Replace(m[label], label+"p", "1080p", 1)
		if candidate == m[label] {
			return
		}

		if _, err := get(ctx, client, candidate); err == nil {
			m["1080"] = candidate
		}
		return
	}
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func resolve(base *url.URL, ref string) (string, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid rendition URL %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}
