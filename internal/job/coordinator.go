// Package job drives one validation job through its phases and guarantees
// that the job's shared state is released when it ends.
//
// A job runs in three phases. Every file is extracted and merged into the
// shared store, common files first. Once the orchestrator acknowledges the
// common phase, line files are validated against the merged common facts.
// A final dataset-wide pass then checks journeys and interchanges. Each
// step leaves its report entries as a job artifact so that steps can run
// on different workers; the report is assembled from those artifacts.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/withObsrvr/netex-crossfile-validator/internal/artifact"
	"github.com/withObsrvr/netex-crossfile-validator/internal/extract"
	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
	"github.com/withObsrvr/netex-crossfile-validator/internal/validation"
)

// ErrMissingCollaborator is returned when a coordinator is built without a
// required dependency.
var ErrMissingCollaborator = errors.New("job: missing collaborator")

// endTimeout bounds End when it runs on a detached context.
const endTimeout = time.Minute

// Artifact name prefixes, one per step.
const (
	extractArtifact  = "entries/extract/"
	validateArtifact = "entries/validate/"
	finalArtifact    = "entries/final"
)

// Options tune a Coordinator.
type Options struct {
	Limits validation.Limits
	Retry  RetryPolicy

	// CacheSize enables a read cache of that many tables.
	CacheSize int
	CacheTTL  time.Duration
}

// cleaner is the store, or the cache in front of it.
type cleaner interface {
	Cleanup(ctx context.Context, job ids.ValidationJobID) error
}

// Coordinator runs the steps of validation jobs. It is safe for concurrent
// use by several jobs.
type Coordinator struct {
	store     *store.Store
	cleaner   cleaner
	repo      *facts.Repository
	artifacts *artifact.Exchange
	validator *validation.Validator
	retry     RetryPolicy
	log       *slog.Logger

	mu     sync.Mutex
	active map[ids.ValidationJobID]time.Time
}

// NewCoordinator creates a coordinator over the shared store and the
// artifact exchange.
func NewCoordinator(s *store.Store, x *artifact.Exchange, opts Options) (*Coordinator, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingCollaborator)
	}
	if x == nil {
		return nil, fmt.Errorf("%w: artifact exchange", ErrMissingCollaborator)
	}

	c := &Coordinator{
		store:     s,
		cleaner:   s,
		artifacts: x,
		retry:     opts.Retry.withDefaults(),
		log:       logging.Component("job"),
		active:    make(map[ids.ValidationJobID]time.Time),
	}

	var fs facts.Store = s
	if opts.CacheSize > 0 {
		cached := store.NewCachedReader(s, opts.CacheSize, opts.CacheTTL)
		fs = cached
		c.cleaner = cached
	}
	c.repo = facts.NewRepository(fs)
	c.validator = validation.New(c.repo, opts.Limits, c.log)
	return c, nil
}

// Start registers job as in flight. Starting a job twice is harmless.
func (c *Coordinator) Start(ctx context.Context, job ids.ValidationJobID) error {
	if job == "" {
		return errors.New("job: empty job id")
	}
	c.mu.Lock()
	_, running := c.active[job]
	if !running {
		c.active[job] = time.Now()
	}
	c.mu.Unlock()

	if running {
		return nil
	}
	if m := metrics.Get(); m != nil {
		m.JobStarted()
	}
	logging.JobLogger(string(job), logging.CorrelationID(ctx)).Info("job started")
	return nil
}

// ProcessFile extracts the facts of one parsed file and merges them into the
// shared store. It returns the report entries of the extraction, which are
// also kept as a job artifact.
func (c *Coordinator) ProcessFile(ctx context.Context, job ids.ValidationJobID, file ids.FileName, common bool, doc *netex.Document) (entries []report.Entry, err error) {
	kind := "line"
	if common {
		kind = "common"
	}
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncFilesProcessed(kind, err)
		}
	}()
	log := logging.FileLogger(string(job), string(file), common)

	start := time.Now()
	res := extract.Extract(doc, extract.Input{Job: job, FileName: file, Common: common})

	err = c.retry.do(ctx, log, "merge_facts", func(ctx context.Context) error {
		return c.repo.MergeSet(ctx, job, res.Facts)
	})
	if err != nil {
		logging.LogError(log, "fact merge failed", err)
		return nil, fmt.Errorf("merge facts of %s: %w", file, err)
	}

	if err := c.putEntries(ctx, job, extractArtifact+string(file), res.Entries); err != nil {
		return nil, err
	}

	log.Info("file processed",
		"facts", res.Facts.Len(),
		"entries", len(res.Entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res.Entries, nil
}

// AcknowledgeCommonPhase records that every common file of job was merged.
// Line files must not be validated before this call; the coordinator does
// not enforce it.
func (c *Coordinator) AcknowledgeCommonPhase(ctx context.Context, job ids.ValidationJobID) error {
	return c.retry.do(ctx, c.log, "mark_phase", func(ctx context.Context) error {
		return c.store.MarkPhase(ctx, job, store.PhaseCommon)
	})
}

// AcknowledgeLinePhase records that every line file of job was merged.
func (c *Coordinator) AcknowledgeLinePhase(ctx context.Context, job ids.ValidationJobID) error {
	return c.retry.do(ctx, c.log, "mark_phase", func(ctx context.Context) error {
		return c.store.MarkPhase(ctx, job, store.PhaseLine)
	})
}

// ValidateLineFile resolves the cross-file references of one merged line
// file.
func (c *Coordinator) ValidateLineFile(ctx context.Context, job ids.ValidationJobID, file ids.FileName) ([]report.Entry, error) {
	log := logging.FileLogger(string(job), string(file), false)
	c.warnIfPhaseOpen(ctx, job, store.PhaseCommon, log)

	var entries []report.Entry
	err := c.retry.do(ctx, log, "validate_line_file", func(ctx context.Context) error {
		var err error
		entries, err = c.validator.LineFile(ctx, job, file)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", file, err)
	}
	if err := c.putEntries(ctx, job, validateArtifact+string(file), entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RunFinalPass runs the dataset-wide rules once every line file was merged.
func (c *Coordinator) RunFinalPass(ctx context.Context, job ids.ValidationJobID) ([]report.Entry, error) {
	log := logging.JobLogger(string(job), logging.CorrelationID(ctx))
	c.warnIfPhaseOpen(ctx, job, store.PhaseLine, log)

	var entries []report.Entry
	err := c.retry.do(ctx, log, "final_pass", func(ctx context.Context) error {
		var err error
		entries, err = c.validator.FinalPass(ctx, job)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("final pass: %w", err)
	}
	if err := c.putEntries(ctx, job, finalArtifact, entries); err != nil {
		return nil, err
	}
	log.Info("final pass complete", "entries", len(entries))
	return entries, nil
}

// Report assembles the entries every step of job left behind.
func (c *Coordinator) Report(ctx context.Context, job ids.ValidationJobID) (*report.Report, error) {
	names, err := c.artifacts.List(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of %s: %w", job, err)
	}
	sort.Strings(names)

	rep := report.New(job)
	for _, name := range names {
		if !strings.HasPrefix(name, "entries/") {
			continue
		}
		data, err := c.artifacts.Get(ctx, job, name)
		if errors.Is(err, artifact.ErrNotFound) {
			// Expired between List and Get.
			c.log.Warn("report artifact vanished", "job_id", string(job), "artifact", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		var entries []report.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", name, err)
		}
		rep.Add(entries...)
	}
	rep.Sort()
	return rep, nil
}

// End deletes every shared-store key and artifact of job. It runs on a
// context detached from ctx so that it completes after a cancellation or
// timeout, and it is safe to call any number of times, including for jobs
// that never wrote anything.
func (c *Coordinator) End(ctx context.Context, job ids.ValidationJobID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
	defer cancel()
	log := logging.JobLogger(string(job), logging.CorrelationID(ctx))

	c.mu.Lock()
	started, running := c.active[job]
	delete(c.active, job)
	c.mu.Unlock()
	if running {
		if m := metrics.Get(); m != nil {
			m.JobFinished()
		}
	}

	storeErr := c.retry.do(ctx, log, "cleanup", func(ctx context.Context) error {
		return c.cleaner.Cleanup(ctx, job)
	})
	n, artifactErr := c.artifacts.Delete(ctx, job)

	if err := errors.Join(storeErr, artifactErr); err != nil {
		logging.LogError(log, "job cleanup failed", err)
		return err
	}

	attrs := []any{"artifacts_deleted", n}
	if running {
		attrs = append(attrs, "duration_ms", time.Since(started).Milliseconds())
	}
	log.Info("job ended", attrs...)
	return nil
}

// Sweep removes expired artifacts and fact keys left by jobs that never
// ended.
func (c *Coordinator) Sweep(ctx context.Context) (artifacts, keys int, err error) {
	artifacts, aerr := c.artifacts.Sweep(ctx)
	keys, serr := c.store.PurgeExpired(ctx)
	return artifacts, keys, errors.Join(aerr, serr)
}

func (c *Coordinator) putEntries(ctx context.Context, job ids.ValidationJobID, name string, entries []report.Entry) error {
	if m := metrics.Get(); m != nil {
		for _, e := range entries {
			m.IncReportEntries(string(e.Code), string(e.Severity))
		}
	}
	if entries == nil {
		entries = []report.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode entries %s: %w", name, err)
	}
	if err := c.artifacts.Put(ctx, job, name, data); err != nil {
		return fmt.Errorf("store entries %s: %w", name, err)
	}
	return nil
}

func (c *Coordinator) warnIfPhaseOpen(ctx context.Context, job ids.ValidationJobID, phase store.Phase, log *slog.Logger) {
	done, err := c.store.PhaseDone(ctx, job, phase)
	if err != nil {
		log.Warn("could not check phase marker", "phase", string(phase), "error", err)
		return
	}
	if !done {
		log.Warn("phase not acknowledged yet, facts may be incomplete", "phase", string(phase))
	}
}
