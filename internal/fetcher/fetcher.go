// Package fetcher downloads a batch of remote files into a directory with a
// fixed number of concurrent workers.
//
// Jobs are independent. Completion order is whatever the network makes it;
// anything that needs a particular order must encode it in the destination
// file names.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	// DefaultWorkers is the number of transfers in flight when Options.Workers
	// is not set.
	DefaultWorkers = 30

	// DefaultChunkSize is the read/write unit for streamed transfers.
	DefaultChunkSize = 10 << 20
)

// Job is one file to download.
type Job struct {
	// SourceURL is fetched with GET.
	SourceURL string
	// Dest is the file the payload is written to.
	Dest string
	// Streamed copies the body in chunks instead of reading it whole. Used
	// for media segments; small auxiliary files are read whole.
	Streamed bool
}

// Options configures a Fetcher.
type Options struct {
	// Workers caps the number of transfers in flight.
	Workers int
	// ChunkSize is the buffer size for streamed transfers.
	ChunkSize int
	// RateLimit caps the combined throughput of all workers in bytes per
	// second. Zero means unlimited.
	RateLimit int
}

// Fetcher runs download batches.
type Fetcher struct {
	client    *http.Client
	workers   int
	chunkSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Fetcher. Zero option values take the defaults.
func New(client *http.Client, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	f := &Fetcher{
		client:    client,
		workers:   opts.Workers,
		chunkSize: opts.ChunkSize,
		logger:    logger,
	}

	if opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	return f
}

// Workers returns the concurrency ceiling.
func (f *Fetcher) Workers() int {
	return f.workers
}

// Result summarizes a batch.
type Result struct {
	// Total is the number of jobs submitted.
	Total int
	// Completed counts jobs that finished, successfully or not.
	Completed int
	// Bytes is the number of payload bytes written by successful jobs.
	Bytes int64
	// Failed lists every job that did not succeed, in completion order.
	Failed []JobError
	// PeakInFlight is the largest number of jobs that were transferring at
	// the same moment.
	PeakInFlight int
}

// Fetch runs every job with at most Workers in flight and blocks until all
// have finished. obs, if not nil, is told about each job exactly once as it
// completes; it is only ever called from the goroutine running Fetch.
//
// The returned error is a *BatchError when one or more jobs failed, or the
// context's error when ctx was cancelled before the batch finished.
func (f *Fetcher) Fetch(ctx context.Context, jobs []Job, obs Observer) (Result, error) {
	res := Result{Total: len(jobs)}
	if len(jobs) == 0 {
		return res, nil
	}

	queue := make(chan Job)
	done := make(chan Progress)

	var (
		wg       sync.WaitGroup
		inFlight atomic.Int64
		peak     atomic.Int64
	)

	workers := min(f.workers, len(jobs))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}

				written, err := f.download(ctx, job)
				inFlight.Add(-1)

				done <- Progress{Job: job, Bytes: written, Err: err}
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	var completed int64
	for p := range done {
		completed++
		p.Done = completed
		p.Total = len(jobs)

		if p.Err != nil {
			f.logger.Debug("job failed", "url", p.Job.SourceURL, "error", p.Err)
			res.Failed = append(res.Failed, JobError{Job: p.Job, Err: p.Err})
		} else {
			res.Bytes += p.Bytes
		}

		if obs != nil {
			obs.JobDone(p)
		}
	}

	res.Completed = int(completed)
	res.PeakInFlight = int(peak.Load())

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if len(res.Failed) > 0 {
		return res, &BatchError{Total: res.Total, Failed: res.Failed}
	}

	return res, nil
}

// download performs one job. A failed job never leaves its destination file
// behind.
func (f *Fetcher) download(ctx context.Context, job Job) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{URL: job.SourceURL, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(job.Dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	var written int64
	if job.Streamed {
		written, err = f.copyChunked(ctx, out, resp.Body)
	} else {
		written, err = f.copyWhole(ctx, out, resp.Body)
	}

	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}

	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close file: %w", cerr)
	}

	if err != nil {
		os.Remove(job.Dest)
		return 0, err
	}

	return written, nil
}

func (f *Fetcher) copyChunked(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)

	var written int64
	for {
		n, rerr := fill(r, buf)
		if n > 0 {
			if err := f.throttle(ctx, n); err != nil {
				return written, err
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write file: %w", err)
			}
			written += int64(n)
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("failed to read body: %w", rerr)
		}
	}
}

// fill reads into buf until it is full or r returns an error.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (f *Fetcher) copyWhole(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read body: %w", err)
	}

	if err := f.throttle(ctx, len(data)); err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write file: %w", err)
	}

	return int64(n), nil
}

// throttle blocks until the rate limiter admits n bytes.
func (f *Fetcher) throttle(ctx context.Context, n int) error {
	if f.limiter == nil {
		return nil
	}

	burst := f.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		if err := f.limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}

	return nil
}
