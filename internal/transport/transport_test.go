package transport

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func fastOptions(retries int) Options {
	return Options{
		Retries:      retries,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestNewClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(fastOptions(5), createTestLogger())

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", resp.StatusCode, body)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestNewClient_LogsRetriesAtWarn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client := NewClient(fastOptions(2), logger)

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected the last response, got error %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}

	out := buf.String()
	if n := strings.Count(out, "retrying request"); n != 2 {
		t.Errorf("Expected 2 retry warnings, got %d in %q", n, out)
	}
	if !strings.Contains(out, "giving up on request") || !strings.Contains(out, "status=502") {
		t.Errorf("Expected a give-up warning with the status, got %q", out)
	}
}

func TestNewClient_StatusPolicy(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
	}{
		{"500 retried", http.StatusInternalServerError, 3},
		{"502 retried", http.StatusBadGateway, 3},
		{"504 retried", http.StatusGatewayTimeout, 3},
		{"404 not retried", http.StatusNotFound, 1},
		{"501 not retried", http.StatusNotImplemented, 1},
		{"429 not retried", http.StatusTooManyRequests, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(fastOptions(2), createTestLogger())

			resp, err := client.Get(server.URL)
			if err != nil {
				t.Fatalf("Expected the final response, got error %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if n := attempts.Load(); n != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got %d", tt.wantAttempts, n)
			}
		})
	}
}

func TestNewClient_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(fastOptions(0), createTestLogger())

	resp, err := client.Get(server.URL + "/old")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "moved" {
		t.Errorf("Expected body %q, got %q", "moved", body)
	}
}

func TestNewClient_Headers(t *testing.T) {
	var got atomic.Pointer[http.Header]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Clone()
		got.Store(&h)
	}))
	defer server.Close()

	opts := fastOptions(0)
	opts.UserAgent = "hlsfetch-test"
	opts.Headers = map[string]string{"Referer": "https://example.com/"}

	resp, err := NewClient(opts, createTestLogger()).Get(server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()

	headers := got.Load()
	if headers == nil {
		t.Fatal("Expected the request to reach the server")
	}
	gotUA, gotReferer := headers.Get("User-Agent"), headers.Get("Referer")
	if gotUA != "hlsfetch-test" {
		t.Errorf("Expected User-Agent hlsfetch-test, got %q", gotUA)
	}
	if gotReferer != "https://example.com/" {
		t.Errorf("Expected Referer header, got %q", gotReferer)
	}
}

func TestNewHCLogger_WritesThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	hc := newHCLogger(logger, true)
	hc.Debug("retrying request", "attempt", 2)

	if !strings.Contains(buf.String(), "retrying request") {
		t.Errorf("Expected hclog output in slog stream, got %q", buf.String())
	}
}

func TestNewHCLogger_QuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	hc := newHCLogger(logger, false)
	hc.Debug("retrying request")

	if buf.Len() != 0 {
		t.Errorf("Expected no output at debug level, got %q", buf.String())
	}
}
