// Package pipeline drives units through index loading, download, assembly
// and transcoding.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/agleyzer/hlsfetch/internal/assembler"
	"github.com/agleyzer/hlsfetch/internal/fetcher"
	"github.com/agleyzer/hlsfetch/internal/manifest"
	"github.com/agleyzer/hlsfetch/internal/parser"
	"github.com/agleyzer/hlsfetch/internal/quality"
	"github.com/agleyzer/hlsfetch/internal/segment"
	"github.com/agleyzer/hlsfetch/internal/transcoder"
	"github.com/agleyzer/hlsfetch/internal/workspace"
	"github.com/google/uuid"
)

const (
	// DefaultContainer is the extension of produced files.
	DefaultContainer = "mp4"

	segmentsDir  = "segments"
	subtitlesDir = "subtitles"
)

// Options configures an Orchestrator.
type Options struct {
	// OutputRoot is where finished files are placed. Defaults to ".".
	OutputRoot string
	// WorkspaceRoot holds the per-unit workspaces. Defaults to OutputRoot.
	WorkspaceRoot string
	// Container is the output extension. Defaults to DefaultContainer.
	Container string
	// Manifest tunes manifest resolution for units that carry a manifest URL.
	Manifest manifest.Options
}

// Stats is a snapshot of a running orchestrator.
type Stats struct {
	Current    string  `json:"current,omitempty"`
	Stage      string  `json:"stage,omitempty"`
	JobsDone   int64   `json:"jobsDone"`
	JobsTotal  int64   `json:"jobsTotal"`
	JobsFailed int64   `json:"jobsFailed"`
	Bytes      int64   `json:"bytes"`
	Units      Summary `json:"units"`
}

// Orchestrator runs units one at a time.
type Orchestrator struct {
	client     *http.Client
	fetcher    *fetcher.Fetcher
	transcoder *transcoder.Transcoder
	opts       Options
	logger     *slog.Logger

	counter fetcher.Counter

	mu      sync.Mutex
	current string
	stage   string
	summary Summary
}

// New creates an Orchestrator. client is used for manifests and index
// documents; f downloads segments and subtitles.
func New(client *http.Client, f *fetcher.Fetcher, t *transcoder.Transcoder, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.OutputRoot == "" {
		opts.OutputRoot = "."
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = opts.OutputRoot
	}
	if opts.Container == "" {
		opts.Container = DefaultContainer
	}

	return &Orchestrator{
		client:     client,
		fetcher:    f,
		transcoder: t,
		opts:       opts,
		logger:     logger,
	}
}

// OutputPath returns where u's file is written.
func (o *Orchestrator) OutputPath(u Unit) string {
	return u.OutputPath(o.opts.OutputRoot, o.opts.Container)
}

// Stats returns the current progress. It is safe to call while a unit runs.
func (o *Orchestrator) Stats() Stats {
	done, total, failed, bytes := o.counter.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()

	return Stats{
		Current:    o.current,
		Stage:      o.stage,
		JobsDone:   done,
		JobsTotal:  total,
		JobsFailed: failed,
		Bytes:      bytes,
		Units:      o.summary,
	}
}

// RunBatch runs units in order. A failed unit does not stop the batch;
// cancelling ctx does, and every unit not yet started is reported as
// Cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, units []Unit, confirm Confirmer) []Report {
	units = o.Prepare(ctx, units)

	reports := make([]Report, 0, len(units))
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			for _, rest := range units[i:] {
				reports = append(reports, Report{
					Unit:   rest,
					Output: o.OutputPath(rest),
					Status: Cancelled,
					Err:    err,
				})
				o.finish(Cancelled)
			}
			break
		}

		reports = append(reports, o.Run(ctx, u, confirm))
	}

	o.setStage("", "")
	return reports
}

// Prepare resolves the manifests of units that need one and aligns the
// requested quality across them. A manifest that cannot be resolved is left
// for Run to retry and report.
func (o *Orchestrator) Prepare(ctx context.Context, units []Unit) []Unit {
	out := make([]Unit, len(units))
	copy(out, units)

	for i := range out {
		u := &out[i]
		if u.IndexURL != "" || len(u.Qualities) > 0 || u.ManifestURL == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		m, err := manifest.Resolve(ctx, o.client, u.ManifestURL, o.opts.Manifest)
		if err != nil {
			o.logger.Warn("could not resolve manifest", "unit", u.Name(), "error", err)
			continue
		}
		u.Qualities = m
	}

	return AlignQuality(out)
}

// AlignQuality picks one quality for every unit that selects from a quality
// map. When the requested label is missing from any map, the highest label
// all maps share is used instead. When the maps share no ranked label, units
// are left to fall back to their own highest quality.
func AlignQuality(units []Unit) []Unit {
	var maps []quality.Map
	for _, u := range units {
		if u.IndexURL == "" && len(u.Qualities) > 0 {
			maps = append(maps, u.Qualities)
		}
	}
	if len(maps) < 2 {
		return units
	}

	common := quality.Common(maps...)
	best := ""
	for _, label := range common {
		if quality.Parse(label) != quality.Other {
			best = label
		}
	}
	if best == "" {
		return units
	}

	for i := range units {
		u := &units[i]
		if u.IndexURL != "" || len(u.Qualities) == 0 {
			continue
		}
		if !contains(common, quality.Normalize(u.Quality)) {
			u.Quality = best
		}
	}

	return units
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// Run produces u's output. confirm decides what happens when the output
// already exists; a nil confirm skips such units.
func (o *Orchestrator) Run(ctx context.Context, u Unit, confirm Confirmer) Report {
	start := time.Now()
	rep := Report{
		RunID:  uuid.NewString(),
		Unit:   u,
		Output: o.OutputPath(u),
	}
	logger := o.logger.With("unit", u.Name(), "run", rep.RunID)

	o.setStage(u.Name(), "starting")
	err := o.run(ctx, logger, &rep, confirm)
	rep.Duration = time.Since(start)

	if err == nil && rep.Status == Pending {
		err = errors.New("unit finished without an outcome")
	}
	if err != nil {
		rep.Err = err
		rep.Status = Failed
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			rep.Status = Cancelled
		}
	}
	o.finish(rep.Status)

	switch rep.Status {
	case Failed:
		logger.Error("unit failed", "error", err, "duration", rep.Duration)
	case Cancelled:
		logger.Warn("unit cancelled", "duration", rep.Duration)
	case Degraded:
		logger.Warn("unit finished without subtitles", "path", rep.Output, "duration", rep.Duration)
	case Succeeded:
		logger.Info("unit finished", "path", rep.Output, "quality", rep.Quality, "duration", rep.Duration)
	}

	return rep
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, rep *Report, confirm Confirmer) error {
	u := rep.Unit

	if _, err := os.Stat(rep.Output); err == nil {
		overwrite := false
		if confirm != nil {
			overwrite, err = confirm.ConfirmOverwrite(u, rep.Output)
			if err != nil {
				return fmt.Errorf("failed to confirm overwrite: %w", err)
			}
		}
		if !overwrite {
			logger.Info("output exists, skipping", "path", rep.Output)
			rep.Status = Skipped
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check output: %w", err)
	}

	o.setStage(u.Name(), "resolving")
	indexURL, label, err := o.selectIndex(ctx, logger, u)
	if err != nil {
		return err
	}
	rep.Quality = label

	idx, err := parser.Load(ctx, o.client, indexURL)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	rep.Segments = len(idx)

	if err := os.MkdirAll(filepath.Dir(rep.Output), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ws, err := workspace.Acquire(o.opts.WorkspaceRoot, u.Name(), rep.RunID)
	if err != nil {
		return fmt.Errorf("failed to set up workspace: %w", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			rep.Warnings = append(rep.Warnings, err.Error())
			logger.Warn("could not remove workspace", "path", ws.Dir(), "error", err)
		}
	}()

	jobs, subs, err := buildJobs(ws, idx, u.Subtitles)
	if err != nil {
		return err
	}

	o.setStage(u.Name(), "downloading")
	logger.Info("downloading",
		"quality", label,
		"segments", len(idx),
		"subtitles", len(subs),
		"workers", o.fetcher.Workers(),
		"workspace", ws.Dir(),
	)

	o.counter.Reset(len(jobs))
	res, err := o.fetcher.Fetch(ctx, jobs, fetcher.Observers{
		fetcher.NewLogObserver(o.logger, u.Name()),
		&o.counter,
	})
	rep.Bytes = res.Bytes
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}

	o.setStage(u.Name(), "assembling")
	stream := ws.Path("stream" + segment.Ext)
	n, err := assembler.Concatenate(ws.Path(segmentsDir), segment.Ext, stream)
	if err != nil {
		return fmt.Errorf("failed to assemble: %w", err)
	}
	logger.Debug("assembled stream", "path", stream, "bytes", n)

	if err := ctx.Err(); err != nil {
		return err
	}

	o.setStage(u.Name(), "transcoding")
	out, err := o.transcoder.Produce(ctx, stream, subs, rep.Output)
	if err != nil {
		return err
	}
	rep.Warnings = append(rep.Warnings, out.Warnings...)

	rep.Status = Succeeded
	if out.Outcome == transcoder.Degraded {
		rep.Status = Degraded
	}

	return nil
}

// selectIndex returns the index document URL and quality label for u.
func (o *Orchestrator) selectIndex(ctx context.Context, logger *slog.Logger, u Unit) (string, string, error) {
	if u.IndexURL != "" {
		return u.IndexURL, quality.Normalize(u.Quality), nil
	}

	qualities := u.Qualities
	if len(qualities) == 0 {
		if u.ManifestURL == "" {
			return "", "", errors.New("unit has neither an index nor a manifest URL")
		}

		m, err := manifest.Resolve(ctx, o.client, u.ManifestURL, o.opts.Manifest)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve manifest: %w", err)
		}
		qualities = m
	}

	sel, err := qualities.Select(u.Quality)
	if err != nil {
		return "", "", err
	}

	if sel.Fallback {
		logger.Warn("requested quality unavailable, using highest",
			"requested", u.Quality,
			"quality", sel.Label,
			"available", qualities.Labels(),
		)
	}

	return sel.URL, sel.Label, nil
}

// buildJobs lays out the workspace: segments under segments/ named by their
// ordering key, subtitles under subtitles/ prefixed with their position.
func buildJobs(ws *workspace.Workspace, idx segment.Index, tracks []SubtitleTrack) ([]fetcher.Job, []transcoder.Subtitle, error) {
	for _, d := range []string{segmentsDir, subtitlesDir} {
		if err := os.MkdirAll(ws.Path(d), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	jobs := make([]fetcher.Job, 0, len(idx)+len(tracks))
	for _, s := range idx {
		jobs = append(jobs, fetcher.Job{
			SourceURL: s.URL,
			Dest:      filepath.Join(ws.Path(segmentsDir), s.FileName()),
			Streamed:  true,
		})
	}

	subs := make([]transcoder.Subtitle, 0, len(tracks))
	for i, t := range tracks {
		dest := filepath.Join(ws.Path(subtitlesDir), fmt.Sprintf("%02d-%s", i, fileName(t.URL)))
		jobs = append(jobs, fetcher.Job{SourceURL: t.URL, Dest: dest})
		subs = append(subs, transcoder.Subtitle{Label: t.Label, URL: t.URL, Path: dest})
	}

	return jobs, subs, nil
}

// fileName returns the last path element of rawURL.
func fileName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}

	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "subtitle"
	}
	return name
}

func (o *Orchestrator) setStage(current, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = current
	o.stage = stage
}

func (o *Orchestrator) finish(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.add(s)
}
