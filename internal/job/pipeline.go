package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
	"github.com/withObsrvr/netex-crossfile-validator/internal/source"
)

// Pipeline plays the orchestrator for a whole dataset on one machine: it
// feeds every file of a source through a Coordinator with a bounded number
// of workers and acknowledges each phase once its files are merged.
type Pipeline struct {
	coord   *Coordinator
	workers int
	timeout time.Duration
	log     *slog.Logger
}

// NewPipeline creates a pipeline running at most workers files at once.
// A positive timeout bounds each run.
func NewPipeline(coord *Coordinator, workers int, timeout time.Duration) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		coord:   coord,
		workers: workers,
		timeout: timeout,
		log:     slog.With("component", "pipeline"),
	}
}

// Run validates every file of src as job and returns the assembled report.
// The job's shared state is released before Run returns, whatever the
// outcome.
func (p *Pipeline) Run(ctx context.Context, job ids.ValidationJobID, src source.Source) (rep *report.Report, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	}
	log := logging.JobLogger(string(job), logging.CorrelationID(ctx))

	if err := p.coord.Start(ctx, job); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = p.coord.End(ctx, job)
			panic(r)
		}
		if endErr := p.coord.End(ctx, job); endErr != nil && err == nil {
			rep, err = nil, fmt.Errorf("end job: %w", endErr)
		}
	}()

	files, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	common, lines := source.Split(files)
	log.Info("job files listed", "common", len(common), "line", len(lines))

	if err := p.each(ctx, job, src, common, false); err != nil {
		return nil, err
	}
	if err := p.coord.AcknowledgeCommonPhase(ctx, job); err != nil {
		return nil, err
	}

	if err := p.each(ctx, job, src, lines, true); err != nil {
		return nil, err
	}
	if err := p.coord.AcknowledgeLinePhase(ctx, job); err != nil {
		return nil, err
	}

	if _, err := p.coord.RunFinalPass(ctx, job); err != nil {
		return nil, err
	}
	return p.coord.Report(ctx, job)
}

// each processes files concurrently. Line files are validated right after
// their own merge; the common phase was acknowledged before they start.
func (p *Pipeline) each(ctx context.Context, job ids.ValidationJobID, src source.Source, files []source.File, validate bool) error {
	var done atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, f := range files {
		workerID := i % p.workers
		g.Go(func() error {
			taskCtx := logging.WithCorrelationID(gctx, logging.GenerateCorrelationID())
			log := logging.WorkerLogger(workerID).With(
				"correlation_id", logging.CorrelationID(taskCtx),
				"file_name", string(f.Name),
			)

			doc, err := src.Read(taskCtx, f)
			if err != nil {
				logging.LogError(log, "file read failed", err)
				return fmt.Errorf("read %s: %w", f.Name, err)
			}
			if _, err := p.coord.ProcessFile(taskCtx, job, f.Name, f.Common(), doc); err != nil {
				return err
			}
			if validate {
				if _, err := p.coord.ValidateLineFile(taskCtx, job, f.Name); err != nil {
					return err
				}
			}
			log.Debug("file complete", "completed", done.Add(1), "total", len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(files) > 0 {
		p.log.Info("phase complete",
			"job_id", string(job),
			"files", len(files),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}
