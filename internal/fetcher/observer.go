package fetcher

import (
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Progress describes one completed job.
type Progress struct {
	Job   Job
	Bytes int64
	Err   error
	// Done is the number of jobs completed so far in the batch, this one
	// included. It increases by exactly one per call.
	Done int64
	// Total is the number of jobs in the batch.
	Total int
}

// Observer is told about every completed job.
type Observer interface {
	JobDone(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress)

func (f ObserverFunc) JobDone(p Progress) { f(p) }

// Observers fans a completion out to several observers in order.
type Observers []Observer

func (o Observers) JobDone(p Progress) {
	for _, obs := range o {
		if obs != nil {
			obs.JobDone(p)
		}
	}
}

// LogObserver logs batch progress each time another tenth of the jobs has
// completed, and logs every failed job.
type LogObserver struct {
	logger *slog.Logger
	name   string
	bytes  int64
	step   int64
}

// NewLogObserver creates a LogObserver labelled with name.
func NewLogObserver(logger *slog.Logger, name string) *LogObserver {
	return &LogObserver{logger: logger, name: name}
}

func (o *LogObserver) JobDone(p Progress) {
	o.bytes += p.Bytes

	if p.Err != nil {
		o.logger.Warn("download failed", "unit", o.name, "url", p.Job.SourceURL, "error", p.Err)
	}

	if p.Total == 0 {
		return
	}

	step := p.Done * 10 / int64(p.Total)
	if step <= o.step && p.Done != int64(p.Total) {
		return
	}
	o.step = step

	o.logger.Info("downloading",
		"unit", o.name,
		"percent", p.Done*100/int64(p.Total),
		"done", p.Done,
		"total", p.Total,
		"size", humanize.Bytes(uint64(o.bytes)),
	)
}

// Counter tracks batch progress with atomics so it can be read from other
// goroutines while a batch runs.
type Counter struct {
	done   atomic.Int64
	total  atomic.Int64
	failed atomic.Int64
	bytes  atomic.Int64
}

// Reset prepares the counter for a batch of total jobs.
func (c *Counter) Reset(total int) {
	c.done.Store(0)
	c.failed.Store(0)
	c.bytes.Store(0)
	c.total.Store(int64(total))
}

func (c *Counter) JobDone(p Progress) {
	c.done.Add(1)
	c.bytes.Add(p.Bytes)
	if p.Err != nil {
		c.failed.Add(1)
	}
}

// Snapshot returns done, total, failed and byte counts.
func (c *Counter) Snapshot() (done, total, failed, bytes int64) {
	return c.done.Load(), c.total.Load(), c.failed.Load(), c.bytes.Load()
}
