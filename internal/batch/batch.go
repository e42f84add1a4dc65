// Package batch integrates every ERA5 file of a directory on a fixed pool of
// workers, isolating per-file failures.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rtm0/ivt/internal/ivt"
	"github.com/rtm0/ivt/internal/observability"
)

// Extension is the file name suffix of the datasets picked up by Discover.
const Extension = ".nc"

// DiscoveryError reports that the batch could not be set up: the output
// directory could not be created or the input directory could not be read.
type DiscoveryError struct {
	Dir string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("batch setup %s: %v", e.Dir, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Integrator integrates a single file into outDir.
type Integrator interface {
	Integrate(inputPath, outDir string) ivt.Result
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Discovered int
	Succeeded  int
	Failed     int
}

// Orchestrator dispatches an Integrator over the files of a directory.
type Orchestrator struct {
	logger     *slog.Logger
	integrator Integrator
	metrics    *observability.Metrics
}

// New creates an orchestrator.
func New(logger *slog.Logger, integrator Integrator, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		integrator: integrator,
		metrics:    metrics,
	}
}

// Discover lists the files directly inside dir whose name ends with
// Extension, in lexicographic order. Subdirectories are ignored.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &DiscoveryError{Dir: dir, Err: err}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// Run integrates every file found by Discover in inputDir into outputDir,
// which is created if needed, using a pool of workers goroutines. A failed
// file is logged and skipped. Run returns once all dispatched files are done;
// it only fails when the batch cannot be set up. Cancelling ctx stops the
// dispatch of files not yet started.
func (o *Orchestrator) Run(ctx context.Context, inputDir, outputDir string, workers int) (Summary, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Summary{}, &DiscoveryError{Dir: outputDir, Err: err}
	}
	files, err := Discover(inputDir)
	if err != nil {
		return Summary{}, err
	}
	o.metrics.FilesDiscovered.Add(float64(len(files)))

	pool := NewPool(workers)
	o.logger.Info("Batch started", "input", inputDir, "output", outputDir, "files", len(files), "workers", pool.Size())

	resultsCh := make(chan ivt.Result)
	summaryCh := make(chan Summary)
	go o.collect(resultsCh, len(files), summaryCh)

	pool.Start(func(path string) {
		resultsCh <- o.integrate(path, outputDir)
	})
	for _, f := range files {
		if !pool.Submit(ctx, f) {
			o.logger.Warn("Batch cancelled, remaining files not dispatched", "err", ctx.Err())
			break
		}
	}
	pool.Wait()
	close(resultsCh)
	s := <-summaryCh
	s.Discovered = len(files)

	o.logger.Info("Batch processing complete", "succeeded", s.Succeeded, "failed", s.Failed)
	return s, nil
}

func (o *Orchestrator) integrate(path, outputDir string) ivt.Result {
	o.metrics.WorkersBusy.Inc()
	defer o.metrics.WorkersBusy.Dec()
	start := time.Now()
	res := o.integrator.Integrate(path, outputDir)
	o.metrics.IntegrationDuration.Observe(time.Since(start).Seconds())
	return res
}

// collect logs each result as it arrives together with the batch progress.
func (o *Orchestrator) collect(resultsCh <-chan ivt.Result, total int, summaryCh chan<- Summary) {
	var s Summary
	start := time.Now()
	for res := range resultsCh {
		if res.Err != nil {
			s.Failed++
			o.metrics.FilesFailed.Inc()
			o.logger.Error("Error processing file", "file", res.Input, "err", res.Err)
		} else {
			s.Succeeded++
			o.metrics.FilesSucceeded.Inc()
			o.logger.Info("Saved", "file", res.Output)
		}
		done := s.Succeeded + s.Failed
		percent := fmt.Sprintf("%.2f%%", 100*float64(done)/float64(total))
		duration := time.Since(start).Round(1 * time.Second)
		o.logger.Info("Progress", "processed", percent, "in", duration)
	}
	summaryCh <- s
}
