// The hlsfetch command downloads segmented HLS streams and packages them
// into single media files, optionally with subtitle tracks.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agleyzer/hlsfetch/internal/config"
	"github.com/agleyzer/hlsfetch/internal/fetcher"
	"github.com/agleyzer/hlsfetch/internal/job"
	"github.com/agleyzer/hlsfetch/internal/pipeline"
	"github.com/agleyzer/hlsfetch/internal/server"
	"github.com/agleyzer/hlsfetch/internal/transcoder"
	"github.com/agleyzer/hlsfetch/internal/transport"
	"github.com/urfave/cli/v2"
)

const (
	version = "1.0.0"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "received %s, stopping\n", sig)
		cancel()
	}()

	if err := newApp(os.Stdin, os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:    "hlsfetch",
		Usage:   "download HLS streams into single media files",
		Version: version,
		Reader:  in,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable verbose logging"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "concurrent downloads (default 30)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory finished files are placed under"},
			&cli.StringFlag{Name: "tool", Usage: "media tool executable (default ffmpeg)"},
			&cli.IntFlag{Name: "rate-limit", Usage: "total download rate in bytes per second, 0 for unlimited"},
			&cli.BoolFlag{Name: "probe-1080", Usage: "look for a 1080 rendition missing from the manifest"},
			&cli.StringFlag{Name: "status-addr", Usage: "serve /health and /status on this address, e.g. 127.0.0.1:8080"},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "download one movie or episode",
				ArgsUsage: "<manifest-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "title of the movie or show", Required: true},
					&cli.IntFlag{Name: "season", Usage: "season number of an episode"},
					&cli.IntFlag{Name: "episode", Usage: "episode number within the season"},
					&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Usage: "quality label, e.g. 720; falls back to the highest available"},
					&cli.StringSliceFlag{Name: "subtitle", Aliases: []string{"s"}, Usage: "subtitle track as Label=URL, repeatable"},
					&cli.BoolFlag{Name: "index", Usage: "the URL is a segment index, not a manifest"},
					&cli.BoolFlag{Name: "overwrite", Usage: "download again when the output exists"},
					&cli.BoolFlag{Name: "skip-existing", Usage: "skip when the output exists"},
				},
				Action: getAction,
			},
			{
				Name:      "batch",
				Usage:     "download every unit of a YAML job file",
				ArgsUsage: "<jobs.yaml>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Usage: "download again when an output exists"},
					&cli.BoolFlag{Name: "skip-existing", Usage: "skip units whose output exists"},
				},
				Action: batchAction,
			},
		},
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one manifest URL is required")
	}

	u, err := unitFromFlags(c)
	if err != nil {
		return err
	}

	return run(c, []pipeline.Unit{u})
}

func batchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job file is required")
	}

	f, err := job.Load(c.Args().First())
	if err != nil {
		return err
	}

	return run(c, f.Units())
}

// unitFromFlags builds the unit described by the get command line.
func unitFromFlags(c *cli.Context) (pipeline.Unit, error) {
	season, episode := c.Int("season"), c.Int("episode")
	if season < 0 || episode < 0 {
		return pipeline.Unit{}, errors.New("season and episode must not be negative")
	}
	if (season > 0) != (episode > 0) {
		return pipeline.Unit{}, errors.New("season and episode must be given together")
	}

	subs, err := parseSubtitles(c.StringSlice("subtitle"))
	if err != nil {
		return pipeline.Unit{}, err
	}

	u := pipeline.Unit{
		Title:     c.String("name"),
		Season:    season,
		Episode:   episode,
		Quality:   c.String("quality"),
		Subtitles: subs,
	}
	if c.Bool("index") {
		u.IndexURL = c.Args().First()
	} else {
		u.ManifestURL = c.Args().First()
	}

	return u, nil
}

// parseSubtitles parses Label=URL pairs.
func parseSubtitles(values []string) ([]pipeline.SubtitleTrack, error) {
	var tracks []pipeline.SubtitleTrack
	for _, v := range values {
		label, rawURL, ok := strings.Cut(v, "=")
		label, rawURL = strings.TrimSpace(label), strings.TrimSpace(rawURL)
		if !ok || label == "" || rawURL == "" {
			return nil, fmt.Errorf("invalid subtitle %q, expected Label=URL", v)
		}
		tracks = append(tracks, pipeline.SubtitleTrack{Label: label, URL: rawURL})
	}
	return tracks, nil
}

// loadConfig layers command-line flags over the file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("output") {
		cfg.OutputRoot = c.String("output")
	}
	if c.IsSet("tool") {
		cfg.Tool = c.String("tool")
	}
	if c.IsSet("rate-limit") {
		cfg.RateLimit = c.Int("rate-limit")
	}
	if c.IsSet("status-addr") {
		cfg.StatusAddr = c.String("status-addr")
	}
	if c.Bool("probe-1080") {
		cfg.Probe1080 = true
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// confirmer picks the existing-output policy from the command flags,
// prompting on the app's input when neither flag is set.
func confirmer(c *cli.Context) (pipeline.Confirmer, error) {
	overwrite, skip := c.Bool("overwrite"), c.Bool("skip-existing")
	switch {
	case overwrite && skip:
		return nil, errors.New("--overwrite and --skip-existing are mutually exclusive")
	case overwrite:
		return pipeline.Overwrite, nil
	case skip:
		return pipeline.SkipExisting, nil
	default:
		return promptConfirmer(c.App.Reader, c.App.Writer), nil
	}
}

// promptConfirmer asks on out and reads a y/N answer from in. Anything but
// yes, including end of input, skips the unit.
func promptConfirmer(in io.Reader, out io.Writer) pipeline.Confirmer {
	r := bufio.NewReader(in)

	return pipeline.ConfirmerFunc(func(u pipeline.Unit, path string) (bool, error) {
		fmt.Fprintf(out, "%s already exists. Download %s again? [y/N] ", path, u.Name())

		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}

func run(c *cli.Context, units []pipeline.Unit) error {
	confirm, err := confirmer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := newLogger(c.App.Writer, cfg.Verbose)
	logger.Info("hlsfetch starting", "version", version, "units", len(units), "workers", cfg.Workers)

	client := transport.NewClient(cfg.Transport(), logger)
	orch := pipeline.New(
		client,
		fetcher.New(client, cfg.Fetcher(), logger),
		transcoder.New(cfg.Tool, nil, logger),
		cfg.Pipeline(),
		logger,
	)

	if cfg.StatusAddr != "" {
		srvCtx, stop := context.WithCancel(c.Context)
		done := make(chan error, 1)
		go func() {
			done <- server.New(orch, cfg.StatusAddr, logger).Start(srvCtx)
		}()
		defer func() {
			stop()
			if err := <-done; err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	reports := orch.RunBatch(c.Context, units, confirm)
	return summarize(logger, reports)
}

// summarize logs the batch outcome and returns an error when any unit did
// not produce its output.
func summarize(logger *slog.Logger, reports []pipeline.Report) error {
	s := pipeline.Summarize(reports)

	for _, r := range reports {
		for _, w := range r.Warnings {
			logger.Warn("warning", "unit", r.Unit.Name(), "message", w)
		}
	}

	logger.Info("batch finished",
		"succeeded", s.Succeeded,
		"degraded", s.Degraded,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"cancelled", s.Cancelled,
	)

	if bad := len(reports) - s.Succeeded - s.Degraded - s.Skipped; bad > 0 {
		return fmt.Errorf("%d of %d units did not complete", bad, len(reports))
	}

	return nil
}
