package fetcher

import (
	"fmt"
	"net/http"
)

// StatusError reports a non-success HTTP response that survived the
// transport's retries.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// JobError ties a failure to the job that produced it.
type JobError struct {
	Job Job
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Job.SourceURL, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// BatchError is returned by Fetch when one or more jobs failed.
type BatchError struct {
	Total  int
	Failed []JobError
}

func (e *BatchError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("0 of %d jobs failed", e.Total)
	}
	return fmt.Sprintf("%d of %d jobs failed, first: %v", len(e.Failed), e.Total, &e.Failed[0])
}

// Unwrap exposes the individual job failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i := range e.Failed {
		errs[i] = &e.Failed[i]
	}
	return errs
}
