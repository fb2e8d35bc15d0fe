package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/withObsrvr/netex-crossfile-validator/internal/artifact"
	"github.com/withObsrvr/netex-crossfile-validator/internal/config"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/job"
	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
	"github.com/withObsrvr/netex-crossfile-validator/internal/source"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
)

// Set at build time with -ldflags.
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// errFindings makes validate exit non-zero when the report holds errors.
var errFindings = errors.New("dataset has validation errors")

const usage = `usage:
  crossfile-validator validate <dataset dir or bucket url>
  crossfile-validator cleanup <job id>
  crossfile-validator sweep`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.MustLoad()
	logging.Setup(cfg.Logging)
	slog.Info("crossfile validator starting", "version", Version, "git_sha", GitSHA)

	if cfg.Metrics.Enabled {
		metrics.Init("netex_crossfile")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	coord, closeAll, err := newCoordinator(ctx, cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer closeAll()

	switch cmd := os.Args[1]; cmd {
	case "validate":
		err = validate(ctx, cfg, coord, argument(2))
	case "cleanup":
		err = coord.End(ctx, ids.ValidationJobID(argument(2)))
	case "sweep":
		var artifacts, keys int
		artifacts, keys, err = coord.Sweep(ctx)
		slog.Info("sweep complete", "artifacts", artifacts, "keys", keys)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		closeAll()
		os.Exit(2)
	}

	if errors.Is(err, errFindings) {
		closeAll()
		os.Exit(1)
	}
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("shutdown complete")
			return
		}
		closeAll()
		log.Fatalf("[main] %s failed: %v", os.Args[1], err)
	}
}

func argument(i int) string {
	if len(os.Args) <= i || os.Args[i] == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	return os.Args[i]
}

func newCoordinator(ctx context.Context, cfg config.Config) (*job.Coordinator, func(), error) {
	s, err := store.Open(ctx, cfg.Store.BackendConfig, cfg.Store.Options())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	key, err := artifact.LoadKey()
	var missing artifact.MissingKeyError
	if errors.As(err, &missing) {
		// Artifacts only need to outlive one process when workers are
		// spread over several machines.
		slog.Warn("no artifact key configured, using an ephemeral key", "env", artifact.KeyEnv)
		var hexKey string
		if hexKey, err = artifact.GenerateKey(); err == nil {
			key, err = artifact.ParseKey(hexKey)
		}
	}
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("artifact key: %w", err)
	}

	x, err := artifact.Open(ctx, cfg.Artifacts, key)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("open artifacts: %w", err)
	}

	coord, err := job.NewCoordinator(s, x, job.Options{
		Limits: cfg.Validation,
		Retry: job.RetryPolicy{
			Attempts: cfg.Pipeline.RetryAttempts,
			Backoff:  cfg.Pipeline.RetryBackoff,
		},
		CacheSize: cfg.Store.CacheSize,
		CacheTTL:  cfg.Store.CacheTTL,
	})
	if err != nil {
		x.Close()
		s.Close()
		return nil, nil, err
	}

	closed := false
	closeAll := func() {
		if closed {
			return
		}
		closed = true
		logging.SafeClose(x, slog.Default(), "close artifacts")
		logging.SafeClose(s, slog.Default(), "close store")
	}
	return coord, closeAll, nil
}

func validate(ctx context.Context, cfg config.Config, coord *job.Coordinator, location string) error {
	src, err := source.Open(ctx, location)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer logging.SafeClose(src, slog.Default(), "close source")

	jobID := ids.ValidationJobID(uuid.NewString())
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	start := time.Now()

	rep, err := job.NewPipeline(coord, cfg.Pipeline.Workers, cfg.Pipeline.JobTimeout).Run(ctx, jobID, src)
	if err != nil {
		return err
	}

	if err := writeReport(cfg.ReportDir, rep); err != nil {
		return err
	}

	bySeverity := rep.CountBySeverity()
	slog.Info("validation complete",
		"job_id", string(jobID),
		"entries", len(rep.Entries),
		"errors", bySeverity[report.SeverityError],
		"warnings", bySeverity[report.SeverityWarning],
		"duration_ms", time.Since(start).Milliseconds(),
	)
	summary := rep.Summary()
	for _, code := range slices.Sorted(maps.Keys(summary)) {
		fmt.Printf("%-40s %d\n", code, summary[code])
	}
	if rep.HasErrors() {
		return errFindings
	}
	return nil
}

// writeReport stores the report as JSON and Parquet under dir/<job id>.
func writeReport(dir string, rep *report.Report) error {
	dir = filepath.Join(dir, string(rep.JobID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	write := func(name string, fn func(*os.File) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		return f.Close()
	}

	if err := write("report.json", func(f *os.File) error { return rep.WriteJSON(f) }); err != nil {
		return err
	}
	if err := write("report.parquet", func(f *os.File) error { return rep.WriteParquet(f) }); err != nil {
		return err
	}
	slog.Info("report written", "dir", dir)
	return nil
}
