package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/agleyzer/hlsfetch/internal/pipeline"
)

// fakeTool is a media tool stand-in that copies the last -i input to the
// output path.
const fakeTool = `#!/bin/sh
in=""
out=""
while [ $# -gt 0 ]; do
	case "$1" in
	-i) in="$2"; shift 2 ;;
	*) out="$1"; shift ;;
	esac
done
cp "$in" "$out"
`

func writeFakeTool(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake media tool is a shell script")
	}

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte(fakeTool), 0o755); err != nil {
		t.Fatalf("Failed to write fake tool: %v", err)
	}
	return path
}

func newOrigin(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HLSFETCH_CONFIG_FILE", "")

	var out bytes.Buffer
	app := newApp(strings.NewReader(stdin), &out)
	err := app.RunContext(context.Background(), append([]string{"hlsfetch"}, args...))
	return out.String(), err
}

func TestGet_EndToEnd(t *testing.T) {
	tool := writeFakeTool(t)
	root := t.TempDir()
	srv := newOrigin(t, map[string]string{
		"/v/index.m3u8": "#EXTM3U\n#EXTINF:4,\nseg0001.ts\n#EXTINF:4,\nseg0002.ts\n#EXT-X-ENDLIST\n",
		"/v/seg0001.ts": "one|",
		"/v/seg0002.ts": "two",
	})

	_, err := runApp(t, "",
		"--output", root, "--tool", tool, "--workers", "2",
		"get", "--name", "My Movie", "--index", srv.URL+"/v/index.m3u8",
	)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "My Movie", "My Movie.mp4"))
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if string(data) != "one|two" {
		t.Errorf("Expected %q, got %q", "one|two", data)
	}
}

func TestGet_FailedUnit(t *testing.T) {
	tool := writeFakeTool(t)
	srv := newOrigin(t, map[string]string{})

	_, err := runApp(t, "",
		"--output", t.TempDir(), "--tool", tool,
		"get", "--name", "Movie", "--index", srv.URL+"/missing.m3u8",
	)
	if err == nil {
		t.Fatal("Expected error for a failed unit, got nil")
	}
	if !strings.Contains(err.Error(), "1 of 1 units") {
		t.Errorf("Expected unit count in error, got %v", err)
	}
}

func TestGet_PromptsForExistingOutput(t *testing.T) {
	tool := writeFakeTool(t)
	root := t.TempDir()
	srv := newOrigin(t, map[string]string{
		"/index.m3u8": "seg1.ts\n",
		"/seg1.ts":    "new",
	})

	out := filepath.Join(root, "Movie", "Movie.mp4")
	os.MkdirAll(filepath.Dir(out), 0o755)

	tests := []struct {
		answer   string
		expected string
	}{
		{"n\n", "old"},
		{"", "old"},
		{"yes\n", "new"},
	}

	for _, tt := range tests {
		if err := os.WriteFile(out, []byte("old"), 0o644); err != nil {
			t.Fatalf("Failed to write output: %v", err)
		}

		stdout, err := runApp(t, tt.answer,
			"--output", root, "--tool", tool,
			"get", "--name", "Movie", "--index", srv.URL+"/index.m3u8",
		)
		if err != nil {
			t.Fatalf("Answer %q: expected no error, got %v", tt.answer, err)
		}
		if !strings.Contains(stdout, "already exists") {
			t.Errorf("Answer %q: expected a prompt, got %q", tt.answer, stdout)
		}

		data, _ := os.ReadFile(out)
		if string(data) != tt.expected {
			t.Errorf("Answer %q: expected output %q, got %q", tt.answer, tt.expected, data)
		}
	}
}

func TestBatch_EndToEnd(t *testing.T) {
	tool := writeFakeTool(t)
	root := t.TempDir()
	srv := newOrigin(t, map[string]string{
		"/ep1/master.json":    `{"480p": "480/index.m3u8", "720p": "720/index.m3u8"}`,
		"/ep1/480/index.m3u8": "seg1.ts\n",
		"/ep1/480/seg1.ts":    "ep1-480",
		"/ep1/720/index.m3u8": "seg1.ts\n",
		"/ep1/720/seg1.ts":    "ep1-720",
		"/ep2/master.json":    `{"480p": "480/index.m3u8"}`,
		"/ep2/480/index.m3u8": "seg1.ts\n",
		"/ep2/480/seg1.ts":    "ep2-480",
	})

	jobFile := filepath.Join(t.TempDir(), "jobs.yaml")
	jobYAML := "title: Show\nseason: 2\nquality: \"720\"\nunits:\n" +
		"  - episode: 1\n    manifest: " + srv.URL + "/ep1/master.json\n" +
		"  - episode: 2\n    manifest: " + srv.URL + "/ep2/master.json\n"
	if err := os.WriteFile(jobFile, []byte(jobYAML), 0o644); err != nil {
		t.Fatalf("Failed to write job file: %v", err)
	}

	_, err := runApp(t, "", "--output", root, "--tool", tool, "batch", "--skip-existing", jobFile)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// 720 is not available for every episode, so the season uses 480.
	for ep, expected := range map[string]string{"Episode 1.mp4": "ep1-480", "Episode 2.mp4": "ep2-480"} {
		data, err := os.ReadFile(filepath.Join(root, "Show", "Season 2", ep))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", ep, err)
		}
		if string(data) != expected {
			t.Errorf("%s: expected %q, got %q", ep, expected, data)
		}
	}
}

func TestGet_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing url", []string{"get", "--name", "X"}},
		{"missing name", []string{"get", "http://example.com/m.json"}},
		{"season without episode", []string{"get", "--name", "X", "--season", "1", "http://example.com/m.json"}},
		{"bad subtitle", []string{"get", "--name", "X", "--subtitle", "English", "http://example.com/m.json"}},
		{"conflicting policies", []string{"get", "--name", "X", "--overwrite", "--skip-existing", "http://example.com/m.json"}},
		{"bad workers", []string{"--workers", "-2", "get", "--name", "X", "http://example.com/m.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runApp(t, "", tt.args...); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseSubtitles(t *testing.T) {
	got, err := parseSubtitles([]string{"French=https://host/fr.vtt", " English = https://host/en.vtt?a=b "})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := []pipeline.SubtitleTrack{
		{Label: "French", URL: "https://host/fr.vtt"},
		{Label: "English", URL: "https://host/en.vtt?a=b"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}

	for _, bad := range []string{"French", "=https://host/x.vtt", "French="} {
		if _, err := parseSubtitles([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestPromptConfirmer(t *testing.T) {
	var out bytes.Buffer
	confirm := promptConfirmer(strings.NewReader("y\nN\n"), &out)
	u := pipeline.Unit{Title: "Movie"}

	first, err := confirm.ConfirmOverwrite(u, "/tmp/Movie.mp4")
	if err != nil || !first {
		t.Errorf("Expected yes, got %v, %v", first, err)
	}

	second, err := confirm.ConfirmOverwrite(u, "/tmp/Movie.mp4")
	if err != nil || second {
		t.Errorf("Expected no, got %v, %v", second, err)
	}

	third, err := confirm.ConfirmOverwrite(u, "/tmp/Movie.mp4")
	if err != nil || third {
		t.Errorf("Expected no at end of input, got %v, %v", third, err)
	}

	if strings.Count(out.String(), "[y/N]") != 3 {
		t.Errorf("Expected 3 prompts, got %q", out.String())
	}
}

func TestSummarize(t *testing.T) {
	logger := newLogger(io.Discard, false)

	ok := []pipeline.Report{{Status: pipeline.Succeeded}, {Status: pipeline.Skipped}, {Status: pipeline.Degraded}}
	if err := summarize(logger, ok); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	bad := append(ok, pipeline.Report{Status: pipeline.Failed})
	if err := summarize(logger, bad); err == nil {
		t.Error("Expected error when a unit failed")
	}

	unset := append(ok, pipeline.Report{})
	if err := summarize(logger, unset); err == nil {
		t.Error("Expected error when a unit has no status")
	}
}
