// Package archive appends step results and run reports to a lode dataset
// so a migration's history survives the operator's terminal.
//
// Records are Hive-partitioned by migration/day/run_id/record_kind and
// stored as JSONL on the local filesystem or S3. Archive failures are
// logged and counted, never fatal to the run.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "lmsmig"

// DefaultFlushEvery is the number of buffered step records that triggers
// a write.
const DefaultFlushEvery = 100

// Config identifies the run being archived.
type Config struct {
	Dataset   string
	Migration string
	Phase     string
	Day       string
	RunID     string
	// FlushEvery bounds the step buffer (default DefaultFlushEvery).
	FlushEvery int
}

// Validate checks that every partition key is set.
func (c *Config) Validate() error {
	var missing []string
	if c.Migration == "" {
		missing = append(missing, "migration")
	}
	if c.Day == "" {
		missing = append(missing, "day")
	}
	if c.RunID == "" {
		missing = append(missing, "run_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("archive config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Archive writes run history to a lode dataset.
type Archive struct {
	config    Config
	dataset   lode.Dataset
	factory   lode.StoreFactory
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu      sync.Mutex
	pending []any

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// New creates an Archive over a store factory. Use lode.NewMemoryFactory()
// in tests.
func New(cfg Config, factory lode.StoreFactory, logger *log.Logger, collector *metrics.Collector) (*Archive, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, wrap("init", cfg.Dataset, err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Archive{
		config:    cfg,
		dataset:   ds,
		factory:   factory,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Observe buffers one step result. It has the sequencer observer
// signature and flushes once the buffer is full.
func (a *Archive) Observe(rec *types.ResolvedRecord, r types.StepResult) {
	a.mu.Lock()
	a.pending = append(a.pending, stepRecord(a.config, rec, r, a.now()))
	full := len(a.pending) >= a.config.FlushEvery
	a.mu.Unlock()

	if full {
		a.Flush(context.Background())
	}
}

// Flush writes buffered step records. Failures are logged and counted;
// the buffered records are dropped either way.
func (a *Archive) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	a.write(ctx, batch, RecordKindStep)
}

// WriteReport flushes pending steps and stores the run report.
func (a *Archive) WriteReport(ctx context.Context, rep *report.RunReport) {
	a.Flush(ctx)
	a.write(ctx, []any{reportRecord(a.config, rep, a.now())}, RecordKindReport)
}

func (a *Archive) write(ctx context.Context, records []any, kind string) {
	_, err := a.dataset.Write(ctx, records, lode.Metadata{})
	if err != nil {
		a.collector.IncArchiveWriteFailure()
		a.logger.Warn("archive write failed", map[string]any{
			"kind":    kind,
			"records": len(records),
			"error":   wrap("write", a.config.Dataset, err).Error(),
		})
		return
	}
	a.collector.IncArchiveWriteSuccess()
	a.logger.Debug("archived records", map[string]any{"kind": kind, "records": len(records)})
}

// PutFile stores a run file (input CSV, results CSV) next to the run's
// partitions, outside the dataset manifests.
func (a *Archive) PutFile(ctx context.Context, filename string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("invalid archive file name %q", filename)
	}
	store, err := a.getStore()
	if err != nil {
		return wrap("init", a.config.Dataset, err)
	}
	p := a.filePath(filename)
	if err := store.Put(ctx, p, bytes.NewReader(data)); err != nil {
		a.collector.IncArchiveWriteFailure()
		return wrap("put", p, err)
	}
	a.collector.IncArchiveWriteSuccess()
	return nil
}

func (a *Archive) getStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		if a.factory == nil {
			a.storeErr = errors.New("no store factory")
			return
		}
		a.store, a.storeErr = a.factory()
	})
	return a.store, a.storeErr
}

// filePath is datasets/<dataset>/partitions/migration=<m>/day=<d>/run_id=<r>/files/<name>.
func (a *Archive) filePath(filename string) string {
	return path.Join(
		"datasets", a.config.Dataset, "partitions",
		"migration="+a.config.Migration,
		"day="+a.config.Day,
		"run_id="+a.config.RunID,
		"files", filename,
	)
}

// Close flushes pending steps.
func (a *Archive) Close() error {
	a.Flush(context.Background())
	return nil
}
