// Package acquire downloads ERA5 partitions from the archive, one request per
// partition, retrying failed requests a bounded number of times.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/rtm0/ivt/internal/cds"
	"github.com/rtm0/ivt/internal/observability"
)

const (
	// MaxAttempts is how many times a partition is requested before giving up.
	MaxAttempts = 5
	// RetryDelay is the wait between two attempts.
	RetryDelay = 10 * time.Second
)

// Retriever requests dataset from the archive and saves the result to target.
// *cds.Client implements it.
type Retriever interface {
	Retrieve(ctx context.Context, dataset string, req cds.Request, target string) error
}

// AcquisitionError reports a partition that could not be downloaded.
type AcquisitionError struct {
	Partition Partition
	Attempts  int
	Err       error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("fetching %s after %d attempts: %v", e.Partition.FileName(), e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one partition. Err is nil or an *AcquisitionError.
type Result struct {
	Partition Partition
	Path      string
	Err       error
}

// Stage fetches partitions sequentially.
type Stage struct {
	logger    *slog.Logger
	retriever Retriever
	metrics   *observability.Metrics
	clock     clockwork.Clock
	attempts  int
	delay     time.Duration
}

// Option configures a Stage.
type Option func(*Stage)

// WithClock sets the clock that times the delay between attempts.
func WithClock(c clockwork.Clock) Option {
	return func(s *Stage) {
		s.clock = c
	}
}

// WithRetry overrides MaxAttempts and RetryDelay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Stage) {
		s.attempts = max(attempts, 1)
		s.delay = delay
	}
}

// NewStage creates a stage requesting partitions through r.
func NewStage(logger *slog.Logger, r Retriever, metrics *observability.Metrics, opts ...Option) *Stage {
	s := &Stage{
		logger:    logger,
		retriever: r,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		attempts:  MaxAttempts,
		delay:     RetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads part into outDir as part.FileName(). A failed request is
// retried after the retry delay until the attempts are exhausted or ctx is
// done. The returned error is an *AcquisitionError.
func (s *Stage) Fetch(ctx context.Context, plan Plan, part Partition, outDir string) error {
	name := part.FileName()
	target := filepath.Join(outDir, name)
	req := plan.Request(part)

	attempt := 0
	op := func() error {
		attempt++
		s.metrics.FetchAttempts.Inc()
		return s.retriever.Retrieve(ctx, plan.Dataset, req, target)
	}
	notify := func(err error, d time.Duration) {
		s.logger.Warn("Attempt failed", "file", name, "attempt", attempt, "of", s.attempts, "err", err, "retry_in", d)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.delay), uint64(s.attempts-1)), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: s.clock}); err != nil {
		s.metrics.PartitionsFailed.Inc()
		s.logger.Error("Failed to download", "file", name, "attempts", attempt, "err", err)
		return &AcquisitionError{Partition: part, Attempts: attempt, Err: err}
	}
	s.metrics.PartitionsFetched.Inc()
	s.logger.Info("Successfully downloaded", "file", target, "attempts", attempt)
	return nil
}

// Run fetches every partition of plan into outDir, one after the other. A
// failed partition does not stop the others; failures are only reported in the
// results.
func (s *Stage) Run(ctx context.Context, plan Plan, outDir string) []Result {
	parts := plan.Partitions()
	results := make([]Result, 0, len(parts))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		s.logger.Error("Could not create output directory", "dir", outDir, "err", err)
		for _, p := range parts {
			s.metrics.PartitionsFailed.Inc()
			results = append(results, Result{Partition: p, Err: &AcquisitionError{Partition: p, Err: err}})
		}
		return results
	}
	for _, p := range parts {
		s.logger.Info("Requesting", "file", p.FileName())
		res := Result{Partition: p, Path: filepath.Join(outDir, p.FileName())}
		if err := s.Fetch(ctx, plan, p, outDir); err != nil {
			res.Path = ""
			res.Err = err
		}
		results = append(results, res)
	}
	return results
}

// clockTimer adapts a clockwork clock to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
