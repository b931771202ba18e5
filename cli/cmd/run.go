package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/adapter/cql"
	"github.com/pithecene-io/lmsmig/adapter/jsonl"
	"github.com/pithecene-io/lmsmig/adapter/kafka"
	"github.com/pithecene-io/lmsmig/adapter/redis"
	"github.com/pithecene-io/lmsmig/adapter/rest"
	"github.com/pithecene-io/lmsmig/archive"
	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/types"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitError        = 1
	exitConfigError  = 2
	exitStepFailures = 3
)

// phase describes one runnable migration command.
type phase struct {
	migration string
	name      string
	// sections are validated before anything is dispatched.
	sections []config.Section
	// backends are the dispatchers the phase's steps target, besides rest.
	backends []types.Backend
	// fileAlways opens the events file even in dry run.
	fileAlways bool
	run        func(ctx context.Context, s *session) (*migration.Result, error)
}

// session is the wiring one phase runs with.
type session struct {
	c       *cli.Context
	cfg     *config.Config
	runID   string
	started time.Time
	env     *migration.Env
	builder *lms.Builder
	archive *archive.Archive
	// events is the resolved JSONL path (--events or events.output).
	events string
}

// client returns a lookup client over the session's rest dispatcher.
func (s *session) client() *lms.Client {
	return lms.NewClient(s.env.Adapters[types.BackendREST], s.builder, s.env.Timeout)
}

// notify cancels the returned context on SIGINT or SIGTERM.
var notify = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// execute runs one phase end to end: config, wiring, run, report.
func execute(c *cli.Context, p phase) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return exitFor(err)
	}
	if err := cfg.Validate(p.sections...); err != nil {
		return exitFor(err)
	}

	dryRun := resolveBool(c, "dry-run", cfg.DryRunDefault())
	s := &session{
		c:       c,
		cfg:     cfg,
		runID:   uuid.NewString(),
		started: time.Now(),
		builder: lms.NewBuilder(cfg.API.Credentials()),
		events:  resolveString(c, "events", cfg.Events.Output),
	}

	logger := log.NewLogger(log.RunContext{
		RunID:     s.runID,
		Migration: p.migration,
		Phase:     p.name,
		DryRun:    dryRun,
	}, log.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer func() { _ = logger.Sync() }()
	collector := metrics.NewCollector(p.migration, p.name, s.runID, dryRun)

	adapters, err := buildAdapters(cfg, p, dryRun, s.events)
	if err != nil {
		logger.Error("cannot build backends", map[string]any{"error": err.Error()})
		return cli.Exit(err.Error(), exitConfigError)
	}
	closed := false
	closeAdapters := func() {
		if closed {
			return
		}
		closed = true
		if err := adapters.Close(); err != nil {
			logger.Warn("closing backends failed", map[string]any{"error": err.Error()})
		}
	}
	defer closeAdapters()

	s.env = &migration.Env{
		Logger:    logger,
		Collector: collector,
		Adapters:  adapters,
		DryRun:    dryRun,
		BatchSize: resolveInt(c, "batch-size", cfg.BatchSize),
		Delay:     resolveDuration(c, "batch-delay", cfg.BatchDelay.Duration),
		Timeout:   cfg.Timeout.Duration,
		Headers:   cfg.Columns,
	}

	ctx, cancel := notify(context.Background())
	defer cancel()

	s.archive = openArchive(ctx, cfg, p, s.runID, s.started, logger, collector)
	if s.archive != nil {
		s.env.Observers = append(s.env.Observers, s.archive.Observe)
		defer func() { _ = s.archive.Close() }()
	}

	logger.Info("starting migration", map[string]any{
		"config":     c.String("config"),
		"batch_size": s.env.BatchSize,
		"delay_ms":   s.env.Delay.Milliseconds(),
	})

	res, err := p.run(ctx, s)
	// Flushes the events file before it is archived.
	closeAdapters()
	if w, ok := adapters[types.BackendFile].(*jsonl.Dispatcher); ok && w.Lines() > 0 {
		logger.Info("events written", map[string]any{"path": w.Path(), "lines": w.Lines()})
	}
	if err != nil {
		logger.Error("migration aborted", map[string]any{"error": err.Error()})
		return exitFor(err)
	}

	snap := collector.Snapshot()
	code := exitCode(res, snap, c.Bool("strict"))
	rep := report.Build(report.Input{
		Input:     res.Input,
		StartedAt: s.started,
		Skips:     res.Skips,
		Run:       res.Run,
		Missing:   res.Missing,
		Snapshot:  snap,
		ExitCode:  code,
	})
	report.Log(logger, rep)
	if path := c.String("report"); path != "" {
		if err := report.Write(rep, path); err != nil {
			logger.Warn("cannot write report", map[string]any{"error": err.Error()})
		}
	}
	s.archiveRun(context.WithoutCancel(ctx), rep, res)

	switch code {
	case exitSuccess:
		return nil
	case exitStepFailures:
		return cli.Exit(fmt.Sprintf("%d step(s) failed", snap.StepsFailed), code)
	default:
		return cli.Exit(fmt.Sprintf("run canceled: %d record(s) not started", rep.Records.Pending), code)
	}
}

// exitFor maps a run error to its exit code. Fatal config errors exit 2
// before anything was dispatched.
func exitFor(err error) error {
	if types.IsFatal(err) {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return cli.Exit(err.Error(), exitError)
}

// exitCode is 0 for a completed run, even with step failures, unless
// strict is set.
func exitCode(res *migration.Result, snap metrics.Snapshot, strict bool) int {
	switch {
	case res.Canceled():
		return exitError
	case strict && snap.StepsFailed > 0:
		return exitStepFailures
	default:
		return exitSuccess
	}
}

// buildAdapters creates the dispatchers a phase needs. Backends that only
// receive mutations are skipped in dry run, where nothing is dispatched.
func buildAdapters(cfg *config.Config, p phase, dryRun bool, events string) (adapter.Set, error) {
	timeout := cfg.Timeout.Duration
	set := adapter.Set{}

	api, err := rest.New(rest.Config{BaseURL: cfg.API.Host, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	set[types.BackendREST] = api

	for _, b := range p.backends {
		var d adapter.Dispatcher
		var err error
		switch b {
		case types.BackendIndex:
			d, err = rest.New(rest.Config{BaseURL: cfg.Index.Host, Timeout: timeout})
		case types.BackendCQL:
			if dryRun {
				continue
			}
			d, err = newCQL(cfg, timeout)
		case types.BackendQueue:
			if dryRun {
				continue
			}
			d, err = newQueue(cfg.Queue, timeout)
		case types.BackendFile:
			if dryRun && !p.fileAlways {
				continue
			}
			d, err = jsonl.New(events)
		default:
			err = fmt.Errorf("unknown backend %q", b)
		}
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("%s backend: %w", b, err)
		}
		set[b] = d
	}
	return set, nil
}

func newCQL(cfg *config.Config, timeout time.Duration) (adapter.Dispatcher, error) {
	hosts, port, err := cfg.CassandraHosts()
	if err != nil {
		return nil, err
	}
	return cql.New(cql.Config{
		Hosts:       hosts,
		Port:        port,
		Keyspace:    cfg.Cassandra.Keyspace,
		Consistency: cfg.Cassandra.Consistency,
		Timeout:     timeout,
	})
}

func newQueue(q config.QueueConfig, timeout time.Duration) (adapter.Dispatcher, error) {
	switch q.Type {
	case config.QueueKafka:
		return kafka.New(kafka.Config{
			Brokers: q.Brokers,
			Topic:   q.Topic,
			Timeout: timeout,
		})
	case config.QueueRedis:
		return redis.New(redis.Config{
			URL:     q.URL,
			Channel: q.Topic,
			Mode:    redis.Mode(q.Mode),
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unknown queue type %q (want kafka or redis)", q.Type)
	}
}

// openArchive returns nil when no archive is configured or it cannot be
// opened. Archive problems never stop a run.
func openArchive(ctx context.Context, cfg *config.Config, p phase, runID string, started time.Time, logger *log.Logger, collector *metrics.Collector) *archive.Archive {
	ac := cfg.Archive
	if ac == nil {
		return nil
	}
	factory, err := archive.NewFactory(ctx, storageConfig(ac))
	if err != nil {
		logger.Warn("archive disabled", map[string]any{"error": err.Error()})
		return nil
	}
	a, err := archive.New(archive.Config{
		Dataset:   ac.Dataset,
		Migration: p.migration,
		Phase:     p.name,
		Day:       archive.DeriveDay(started),
		RunID:     runID,
	}, factory, logger, collector)
	if err != nil {
		logger.Warn("archive disabled", map[string]any{"error": err.Error()})
		return nil
	}
	return a
}

func storageConfig(ac *config.ArchiveConfig) archive.StorageConfig {
	return archive.StorageConfig{
		Backend:      ac.Backend,
		Path:         ac.Path,
		Region:       ac.Region,
		Endpoint:     ac.Endpoint,
		UsePathStyle: ac.S3PathStyle,
	}
}

// archiveRun stores the report and copies of the files the run read and
// wrote.
func (s *session) archiveRun(ctx context.Context, rep *report.RunReport, res *migration.Result) {
	if s.archive == nil {
		return
	}
	s.archive.WriteReport(ctx, rep)

	files := res.Outputs
	if res.Input != "" {
		files = append([]string{res.Input}, files...)
	}
	for _, path := range files {
		flog := s.env.Log().With(map[string]any{"file": path})
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				flog.Warn("cannot archive file", map[string]any{"error": err.Error()})
			}
			continue
		}
		if err := s.archive.PutFile(ctx, filepath.Base(path), data); err != nil {
			flog.Warn("cannot archive file", map[string]any{"error": err.Error()})
		}
	}
}
