// Package transcoder repackages an assembled stream into its final container
// with an external media tool, optionally muxing subtitle tracks in.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTool is the media tool looked up on PATH.
const DefaultTool = "ffmpeg"

// Subtitle is a subtitle file already present on disk.
type Subtitle struct {
	// Label is the display language, e.g. "French".
	Label string
	// URL is where the file came from; its stem is the fallback for the
	// language code.
	URL string
	// Path is the local file.
	Path string
}

// Outcome describes what Produce delivered.
type Outcome int

const (
	// Remuxed means no subtitles were requested and the remux succeeded.
	Remuxed Outcome = iota
	// Muxed means the output carries every requested subtitle track.
	Muxed
	// Degraded means subtitle muxing failed and the subtitle-free remux was
	// delivered instead.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Remuxed:
		return "remuxed"
	case Muxed:
		return "muxed"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by Produce.
type Result struct {
	Outcome Outcome
	// Warnings lists cleanup problems and the reason for a degraded outcome.
	Warnings []string
}

// Transcoder invokes the media tool.
type Transcoder struct {
	tool   string
	runner Runner
	logger *slog.Logger
}

// New creates a Transcoder. An empty tool means DefaultTool; a nil runner
// means ExecRunner.
func New(tool string, runner Runner, logger *slog.Logger) *Transcoder {
	if tool == "" {
		tool = DefaultTool
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	return &Transcoder{
		tool:   tool,
		runner: runner,
		logger: logger,
	}
}

// Remux copies every stream of in into the container implied by out's
// extension.
func (t *Transcoder) Remux(ctx context.Context, in, out string) error {
	return t.runner.Run(ctx, t.tool, RemuxArgs(in, out))
}

// Mux writes out with the video and audio of in followed by one subtitle
// stream per entry of subs, in order.
func (t *Transcoder) Mux(ctx context.Context, in string, subs []Subtitle, out string) error {
	return t.runner.Run(ctx, t.tool, MuxArgs(in, subs, out))
}

// Produce turns the assembled stream into final.
//
// Output is always written to a hidden sibling of final and renamed into
// place, so final is either absent, untouched, or complete. With subtitles,
// a failed mux falls back to the subtitle-free remux and reports Degraded.
func (t *Transcoder) Produce(ctx context.Context, stream string, subs []Subtitle, final string) (Result, error) {
	partial := siblingPath(final, "partial")

	if len(subs) == 0 {
		if err := t.Remux(ctx, stream, partial); err != nil {
			os.Remove(partial)
			return Result{}, fmt.Errorf("failed to remux: %w", err)
		}
		if err := os.Rename(partial, final); err != nil {
			os.Remove(partial)
			return Result{}, fmt.Errorf("failed to move output into place: %w", err)
		}
		return Result{Outcome: Remuxed}, nil
	}

	var res Result
	warn := func(msg string, args ...any) {
		w := fmt.Sprintf(msg, args...)
		res.Warnings = append(res.Warnings, w)
		t.logger.Warn(w, "output", final)
	}

	plain := siblingPath(final, "nosubs")
	if err := t.Remux(ctx, stream, plain); err != nil {
		os.Remove(plain)
		return Result{}, fmt.Errorf("failed to remux: %w", err)
	}

	muxErr := t.Mux(ctx, plain, subs, partial)
	if muxErr == nil {
		if err := os.Rename(partial, final); err != nil {
			os.Remove(partial)
			os.Remove(plain)
			return Result{}, fmt.Errorf("failed to move output into place: %w", err)
		}
		if err := os.Remove(plain); err != nil && !errors.Is(err, os.ErrNotExist) {
			warn("could not delete intermediate file %s: %v", plain, err)
		}
		res.Outcome = Muxed
		return res, nil
	}

	// A canceled mux is not a subtitle problem; the unit is abandoned.
	if ctx.Err() != nil {
		os.Remove(partial)
		os.Remove(plain)
		return Result{}, ctx.Err()
	}

	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		warn("could not delete incomplete output %s: %v", partial, err)
	}
	if err := os.Rename(plain, final); err != nil {
		os.Remove(plain)
		return Result{}, fmt.Errorf("failed to keep subtitle-free output: %w", err)
	}

	warn("could not add subtitles: %v", muxErr)
	res.Outcome = Degraded
	return res, nil
}

// siblingPath returns a hidden file next to final that keeps final's
// extension, so the tool still infers the right container.
func siblingPath(final, tag string) string {
	dir, base := filepath.Split(final)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+"."+tag+ext)
}
