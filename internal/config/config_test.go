package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hlsfetch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestValidate_Defaults(t *testing.T) {
	c := &Config{}
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.Workers != 30 {
		t.Errorf("Expected 30 workers, got %d", c.Workers)
	}
	if c.ChunkSize != 10<<20 {
		t.Errorf("Expected 10 MiB chunks, got %d", c.ChunkSize)
	}
	if c.Retries != 5 {
		t.Errorf("Expected 5 retries, got %d", c.Retries)
	}
	if c.RetryWaitMin != 100*time.Millisecond || c.RetryWaitMax != 2*time.Second {
		t.Errorf("Unexpected retry waits %s..%s", c.RetryWaitMin, c.RetryWaitMax)
	}
	if c.Tool != "ffmpeg" {
		t.Errorf("Expected ffmpeg, got %s", c.Tool)
	}
	if c.Container != "mp4" {
		t.Errorf("Expected mp4, got %s", c.Container)
	}
	if c.OutputRoot != "." || c.WorkspaceRoot != "." {
		t.Errorf("Expected roots \".\", got %q and %q", c.OutputRoot, c.WorkspaceRoot)
	}
}

func TestValidate_KeepsValues(t *testing.T) {
	c := &Config{
		Workers:    4,
		Retries:    -1,
		Container:  ".mkv",
		OutputRoot: "/media",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", c.Workers)
	}
	if c.Retries != 0 {
		t.Errorf("Expected retries disabled, got %d", c.Retries)
	}
	if c.Container != "mkv" {
		t.Errorf("Expected mkv, got %s", c.Container)
	}
	if c.WorkspaceRoot != "/media" {
		t.Errorf("Expected workspace root to follow output root, got %s", c.WorkspaceRoot)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"negative workers", Config{Workers: -1}, "workers"},
		{"negative chunk size", Config{ChunkSize: -1}, "chunk-size"},
		{"negative rate limit", Config{RateLimit: -5}, "rate-limit"},
		{"inverted waits", Config{RetryWaitMin: time.Second, RetryWaitMax: time.Millisecond}, "exceeds"},
		{"negative timeout", Config{RequestTimeout: -time.Second}, "request-timeout"},
		{"container path", Config{Container: "../mp4"}, "invalid container"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
workers: 8
retryWaitMax: 5s
tool: /usr/local/bin/ffmpeg
headers:
  Referer: https://example.com/
`)

	t.Setenv("HLSFETCH_WORKERS", "12")
	t.Setenv("HLSFETCH_OUTPUT", "/downloads")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.Workers != 12 {
		t.Errorf("Expected environment to override workers, got %d", c.Workers)
	}
	if c.RetryWaitMax != 5*time.Second {
		t.Errorf("Expected 5s from file, got %s", c.RetryWaitMax)
	}
	if c.Tool != "/usr/local/bin/ffmpeg" {
		t.Errorf("Expected tool from file, got %s", c.Tool)
	}
	if c.OutputRoot != "/downloads" {
		t.Errorf("Expected output from environment, got %s", c.OutputRoot)
	}
	if c.Headers["Referer"] != "https://example.com/" {
		t.Errorf("Expected Referer header, got %v", c.Headers)
	}
}

func TestLoad_ConfigFileFromEnvironment(t *testing.T) {
	path := writeConfig(t, "rateLimit: 1048576\n")
	t.Setenv("HLSFETCH_CONFIG_FILE", path)

	c, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.RateLimit != 1<<20 {
		t.Errorf("Expected rate limit from file, got %d", c.RateLimit)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}

	if _, err := Load(writeConfig(t, "wokers: 3\n")); err == nil {
		t.Error("Expected error for an unknown key")
	}

	t.Setenv("HLSFETCH_WORKERS", "many")
	if _, err := Load(""); err == nil {
		t.Error("Expected error for a malformed environment variable")
	}
}

func TestConfig_Options(t *testing.T) {
	c := &Config{Workers: 3, RateLimit: 100, Probe1080: true, Verbose: true, OutputRoot: "out"}
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if f := c.Fetcher(); f.Workers != 3 || f.RateLimit != 100 || f.ChunkSize != 10<<20 {
		t.Errorf("Unexpected fetcher options %+v", f)
	}
	if tr := c.Transport(); tr.Retries != 5 || !tr.Verbose {
		t.Errorf("Unexpected transport options %+v", tr)
	}
	p := c.Pipeline()
	if p.OutputRoot != "out" || p.WorkspaceRoot != "out" || !p.Manifest.Probe1080 {
		t.Errorf("Unexpected pipeline options %+v", p)
	}
}
