package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_CreatesFreshDirectory(t *testing.T) {
	root := t.TempDir()

	// Leftovers from an interrupted run.
	stale := filepath.Join(root, DirName("Episode 1"))
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "00001.ts"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws, err := Acquire(root, "Episode 1", "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer ws.Release()

	entries, err := os.ReadDir(ws.Dir())
	if err != nil {
		t.Fatalf("Expected workspace to exist, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty workspace, got %d entries", len(entries))
	}
	if filepath.Base(ws.Dir()) != ".hlsfetch-episode-1" {
		t.Errorf("Expected directory .hlsfetch-episode-1, got %s", filepath.Base(ws.Dir()))
	}
}

func TestAcquire_Exclusive(t *testing.T) {
	root := t.TempDir()

	ws, err := Acquire(root, "Movie", "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := Acquire(root, "Movie", "run-2"); !errors.Is(err, ErrInUse) {
		t.Fatalf("Expected ErrInUse, got %v", err)
	}

	other, err := Acquire(root, "Other Movie", "run-3")
	if err != nil {
		t.Fatalf("Expected a different unit to get its own workspace, got %v", err)
	}
	other.Release()

	if err := ws.Release(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	again, err := Acquire(root, "Movie", "run-4")
	if err != nil {
		t.Fatalf("Expected workspace to be reusable after release, got %v", err)
	}
	again.Release()
}

func TestRelease_RemovesDirectory(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "Show", "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := os.WriteFile(ws.Path("00001.ts"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ws.Release(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Errorf("Expected workspace to be removed, got %v", err)
	}

	// Idempotent.
	if err := ws.Release(); err != nil {
		t.Errorf("Expected second release to be a no-op, got %v", err)
	}
	if err := ws.Reset(); err == nil {
		t.Error("Expected Reset after Release to fail")
	}
}

func TestReset_ClearsContents(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "Show", "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer ws.Release()

	if err := os.WriteFile(ws.Path("00001.ts"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ws.Reset(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	entries, _ := os.ReadDir(ws.Dir())
	if len(entries) != 0 {
		t.Errorf("Expected empty workspace after reset, got %d entries", len(entries))
	}
}

func TestAcquire_SetupFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// root is a regular file, so the workspace cannot be created beneath it.
	if _, err := Acquire(blocker, "Movie", "run-1"); err == nil {
		t.Fatal("Expected error when workspace cannot be created, got nil")
	}

	// A failed acquire does not keep ownership.
	if _, err := Acquire(blocker, "Movie", "run-2"); err == nil || errors.Is(err, ErrInUse) {
		t.Fatalf("Expected a setup error rather than ErrInUse, got %v", err)
	}
}

func TestDirName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Episode 3", ".hlsfetch-episode-3"},
		{"Some Movie (2019)", ".hlsfetch-some-movie-2019"},
		{"", ".hlsfetch-unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirName(tt.name); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
