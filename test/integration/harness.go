// Package integration provides integration testing utilities for hlsfetch.
package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTool stands in for ffmpeg. Every -i input is appended to the output in
// order. With FAKE_TOOL_FAIL_MUX set, a subtitle mux writes a partial file
// and exits non-zero.
const fakeTool = `#!/bin/sh
tmp="$(mktemp)"
out=""
mux=0
[ "$1" = "-xerror" ] && mux=1
while [ $# -gt 0 ]; do
	case "$1" in
	-i) cat "$2" >> "$tmp"; shift 2 ;;
	*) out="$1"; shift ;;
	esac
done
if [ $mux -eq 1 ] && [ -n "$FAKE_TOOL_FAIL_MUX" ]; then
	rm -f "$tmp"
	echo partial > "$out"
	echo "subtitle stream rejected" >&2
	exit 1
fi
mv "$tmp" "$out"
`

// TestHarness manages the test environment for integration tests.
type TestHarness struct {
	t          *testing.T
	httpServer *http.Server
	httpPort   int
	originDir  string
	outputDir  string
	toolPath   string
	toolEnv    []string

	mu       sync.Mutex
	failing  map[string]int
	delay    time.Duration
	requests map[string]int

	hlsfetchCmd *exec.Cmd
	cancel      context.CancelFunc
}

// NewTestHarness creates a new test harness. The test is skipped when the
// hlsfetch binary has not been built.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:         t,
		httpPort:  findAvailablePort(t),
		originDir: t.TempDir(),
		outputDir: t.TempDir(),
		failing:   make(map[string]int),
		requests:  make(map[string]int),
	}

	h.toolPath = filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(h.toolPath, []byte(fakeTool), 0o755); err != nil {
		t.Fatalf("failed to write fake media tool: %v", err)
	}

	return h
}

// OriginURL returns the URL of name on the origin server.
func (h *TestHarness) OriginURL(name string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.httpPort, name)
}

// OutputDir is where hlsfetch places finished files.
func (h *TestHarness) OutputDir() string {
	return h.outputDir
}

// StartHTTPServer starts an HTTP server serving the origin directory.
func (h *TestHarness) StartHTTPServer() {
	h.t.Helper()

	fileServer := http.FileServer(http.Dir(h.originDir))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests[r.URL.Path]++
		status := h.failing[r.URL.Path]
		delay := h.delay
		h.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if delay > 0 && strings.HasSuffix(r.URL.Path, ".ts") {
			time.Sleep(delay)
		}
		fileServer.ServeHTTP(w, r)
	})

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: handler,
	}

	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	h.waitForServer(fmt.Sprintf("http://localhost:%d/", h.httpPort), 5*time.Second)
	h.t.Logf("HTTP server started on port %d", h.httpPort)
}

// AddFile writes a file to the origin.
func (h *TestHarness) AddFile(name, content string) {
	h.t.Helper()

	path := filepath.Join(h.originDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("failed to create origin directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("failed to write origin file %s: %v", name, err)
	}
}

// AddStream writes an index and n segments under dir and returns the bytes
// a correct download assembles to. Segment numbers start at first and are
// listed in playback order.
func (h *TestHarness) AddStream(dir string, first, n int) string {
	h.t.Helper()

	var index, expected strings.Builder
	index.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
	for i := first; i < first+n; i++ {
		name := fmt.Sprintf("media_%d.ts", i)
		content := fmt.Sprintf("<%s/%d>", dir, i)

		h.AddFile(dir+"/"+name, content)
		fmt.Fprintf(&index, "#EXTINF:4.0,\n%s\n", name)
		expected.WriteString(content)
	}
	index.WriteString("#EXT-X-ENDLIST\n")

	h.AddFile(dir+"/index.m3u8", index.String())
	return expected.String()
}

// Fail makes the origin answer path with status.
func (h *TestHarness) Fail(path string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing[path] = status
}

// SlowSegments delays every segment response.
func (h *TestHarness) SlowSegments(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
}

// Requests returns how often path was requested.
func (h *TestHarness) Requests(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[path]
}

// FailMux makes the fake media tool reject subtitle muxes.
func (h *TestHarness) FailMux() {
	h.toolEnv = append(h.toolEnv, "FAKE_TOOL_FAIL_MUX=1")
}

func (h *TestHarness) command(ctx context.Context, args ...string) *exec.Cmd {
	binaryPath := h.findHLSFetchBinary()

	full := append([]string{
		"--output", h.outputDir,
		"--tool", h.toolPath,
		"--workers", "4",
	}, args...)

	cmd := exec.CommandContext(ctx, binaryPath, full...)
	cmd.Env = append(os.Environ(), h.toolEnv...)
	return cmd
}

// RunHLSFetch runs hlsfetch to completion and returns its combined output
// and exit code.
func (h *TestHarness) RunHLSFetch(args ...string) (string, int) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := h.command(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Stdin = strings.NewReader("")

	err := cmd.Run()
	h.t.Logf("hlsfetch output:\n%s", out.String())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out.String(), 0
	case errors.As(err, &exitErr):
		return out.String(), exitErr.ExitCode()
	default:
		h.t.Fatalf("failed to run hlsfetch: %v", err)
		return "", -1
	}
}

// StartHLSFetch starts hlsfetch in the background. Use Wait to collect it.
func (h *TestHarness) StartHLSFetch(args ...string) {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.hlsfetchCmd = h.command(ctx, args...)
	h.hlsfetchCmd.Stdout = os.Stdout
	h.hlsfetchCmd.Stderr = os.Stderr

	if err := h.hlsfetchCmd.Start(); err != nil {
		h.t.Fatalf("failed to start hlsfetch: %v", err)
	}
}

// Interrupt sends SIGINT to the background hlsfetch.
func (h *TestHarness) Interrupt() {
	h.t.Helper()

	if h.hlsfetchCmd == nil || h.hlsfetchCmd.Process == nil {
		h.t.Fatal("hlsfetch is not running")
	}
	if err := h.hlsfetchCmd.Process.Signal(os.Interrupt); err != nil {
		h.t.Fatalf("failed to interrupt hlsfetch: %v", err)
	}
}

// Wait waits for the background hlsfetch and returns its exit code.
func (h *TestHarness) Wait(timeout time.Duration) int {
	h.t.Helper()

	done := make(chan error, 1)
	go func() { done <- h.hlsfetchCmd.Wait() }()

	select {
	case err := <-done:
		h.hlsfetchCmd = nil
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			h.t.Fatalf("hlsfetch failed: %v", err)
		}
		return 0
	case <-time.After(timeout):
		h.t.Fatalf("hlsfetch did not exit within %v", timeout)
		return -1
	}
}

// Fetch GETs url and returns the body.
func (h *TestHarness) Fetch(url string) string {
	h.t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		h.t.Fatalf("failed to fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read body: %v", err)
	}

	return string(body)
}

// ReadOutput reads a file under the output directory.
func (h *TestHarness) ReadOutput(parts ...string) (string, error) {
	data, err := os.ReadFile(filepath.Join(append([]string{h.outputDir}, parts...)...))
	return string(data), err
}

// Workspaces lists workspace directories left in the output directory.
func (h *TestHarness) Workspaces() []string {
	h.t.Helper()

	matches, err := filepath.Glob(filepath.Join(h.outputDir, ".hlsfetch-*"))
	if err != nil {
		h.t.Fatalf("failed to list workspaces: %v", err)
	}
	return matches
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	if h.cancel != nil {
		h.cancel()
	}
	if h.hlsfetchCmd != nil && h.hlsfetchCmd.Process != nil {
		h.hlsfetchCmd.Process.Kill()
		h.hlsfetchCmd.Wait()
	}

	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}
}

// findHLSFetchBinary locates the hlsfetch binary.
func (h *TestHarness) findHLSFetchBinary() string {
	h.t.Helper()

	candidates := []string{
		"../../hlsfetch",          // From test/integration
		"./hlsfetch",              // From project root
		"../hlsfetch",             // From test directory
		"./cmd/hlsfetch/hlsfetch", // Built in place
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, _ := filepath.Abs(path)
			return absPath
		}
	}

	h.t.Skip("hlsfetch binary not found. Run 'go build -o hlsfetch ./cmd/hlsfetch' first")
	return ""
}

// waitForServer waits for a server to become available.
func (h *TestHarness) waitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	h.t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// WaitForCondition polls until a condition is met or timeout occurs.
func (h *TestHarness) WaitForCondition(condition func() bool, timeout time.Duration, description string) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			h.t.Fatalf("timeout waiting for condition: %s", description)
		}
	}
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
