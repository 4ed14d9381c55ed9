package pipeline

import (
	"fmt"
	"time"
)

// Status is the outcome of one unit.
type Status int

const (
	// Pending is the zero value; a finished unit never reports it.
	Pending Status = iota
	Succeeded
	// Degraded means the video was produced without its subtitles.
	Degraded
	Failed
	Skipped
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OK reports whether the unit's output exists at its canonical path.
func (s Status) OK() bool {
	return s == Succeeded || s == Degraded || s == Skipped
}

// Report describes what happened to one unit.
type Report struct {
	RunID  string
	Unit   Unit
	Output string
	Status Status
	// Quality is the label actually downloaded.
	Quality  string
	Segments int
	Bytes    int64
	Duration time.Duration
	// Warnings collects cleanup problems and dropped subtitles.
	Warnings []string
	Err      error
}

// Confirmer decides whether a unit whose output already exists is downloaded
// again. Returning false skips the unit.
type Confirmer interface {
	ConfirmOverwrite(u Unit, path string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(u Unit, path string) (bool, error)

func (f ConfirmerFunc) ConfirmOverwrite(u Unit, path string) (bool, error) {
	return f(u, path)
}

var (
	// Overwrite always downloads again.
	Overwrite = ConfirmerFunc(func(Unit, string) (bool, error) { return true, nil })
	// SkipExisting never does.
	SkipExisting = ConfirmerFunc(func(Unit, string) (bool, error) { return false, nil })
)

// Summary counts reports by status.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

func (s *Summary) add(st Status) {
	switch st {
	case Succeeded:
		s.Succeeded++
	case Degraded:
		s.Degraded++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	case Cancelled:
		s.Cancelled++
	}
}

// Summarize counts reports by status.
func Summarize(reports []Report) Summary {
	var s Summary
	for _, r := range reports {
		s.add(r.Status)
	}
	return s
}
