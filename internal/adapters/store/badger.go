package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Default database configuration constants.
const (
	defaultGCInterval     = 5 * time.Minute
	defaultGCDiscardRatio = 0.5
)

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the database directory. Required unless InMemory is true.
	Path string

	// InMemory disables disk persistence (tests, dev).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often value-log garbage collection runs.
	// Zero disables it; it is always disabled in memory mode.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites
	// a value-log file.
	GCDiscardRatio float64

	// Logger receives badger's internal logging. Nil silences it.
	Logger logger.Logger
}

// DefaultConfig returns production defaults for a persistent store.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     defaultGCInterval,
		GCDiscardRatio: defaultGCDiscardRatio,
	}
}

// InMemoryConfig returns a non-persistent configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts our logger to badger's Logger interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// DB implements Store on an embedded badger database.
type DB struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open creates and opens the store with the given configuration.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: path required for persistent store", ErrOpen)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrOpen, cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	d := &DB{
		db:     db,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	} else {
		close(d.doneGC)
	}
	return d, nil
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.doneGC)
	if ratio <= 0 {
		ratio = defaultGCDiscardRatio
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there was
			// nothing to collect; that is not a failure.
			if err := d.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				metrics.RecordStoreError("gc")
			}
		}
	}
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	select {
	case <-d.stopGC:
	default:
		close(d.stopGC)
	}
	<-d.doneGC
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (d *DB) setJSON(op, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		metrics.RecordStoreError(op)
		return fmt.Errorf("%w: %s: %w", ErrWrite, key, err)
	}
	return nil
}

func (d *DB) getJSON(key string, v any) error {
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

// listJSON decodes every value under a prefix via the decode callback.
func (d *DB) listJSON(prefix string, decode func(val []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutJob persists a job record under its key.
func (d *DB) PutJob(_ context.Context, job *model.Job) error {
	return d.setJSON("put_job", jobPrefix+job.Key, job, 0)
}

// GetJob returns the job for a key, or ErrNotFound.
func (d *DB) GetJob(_ context.Context, key string) (*model.Job, error) {
	var job model.Job
	if err := d.getJSON(jobPrefix+key, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns every persisted job record.
func (d *DB) ListJobs(_ context.Context) ([]*model.Job, error) {
	var jobs []*model.Job
	err := d.listJSON(jobPrefix, func(val []byte) error {
		var job model.Job
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		jobs = append(jobs, &job)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// PutMemberResult persists a result under its scope key.
func (d *DB) PutMemberResult(_ context.Context, scope string, res *model.MemberResult) error {
	return d.setJSON("put_result", resultPrefix+scope, res, 0)
}

// GetMemberResult returns the result for a scope, or ErrNotFound.
func (d *DB) GetMemberResult(_ context.Context, scope string) (*model.MemberResult, error) {
	var res model.MemberResult
	if err := d.getJSON(resultPrefix+scope, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListMemberResults returns every persisted member result.
func (d *DB) ListMemberResults(_ context.Context) ([]*model.MemberResult, error) {
	var results []*model.MemberResult
	err := d.listJSON(resultPrefix, func(val []byte) error {
		var res model.MemberResult
		if err := json.Unmarshal(val, &res); err != nil {
			return err
		}
		results = append(results, &res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list member results: %w", err)
	}
	return results, nil
}

// PutSnapshot atomically replaces the canonical snapshot. The write happens
// in one transaction; readers see either the old or the new value.
func (d *DB) PutSnapshot(_ context.Context, snap *model.Snapshot) error {
	return d.setJSON("put_snapshot", snapshotKey, snap, 0)
}

// GetSnapshot returns the canonical snapshot, or ErrNotFound.
func (d *DB) GetSnapshot(_ context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := d.getJSON(snapshotKey, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutRoster replaces the cached roster.
func (d *DB) PutRoster(_ context.Context, members []model.Member) error {
	return d.setJSON("put_roster", rosterKey, members, 0)
}

// GetRoster returns the cached roster, or ErrNotFound.
func (d *DB) GetRoster(_ context.Context) ([]model.Member, error) {
	var members []model.Member
	if err := d.getJSON(rosterKey, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// PutPGCR caches one instance detail report with an expiry.
func (d *DB) PutPGCR(_ context.Context, instanceID string, data []byte, ttl time.Duration) error {
	return d.setJSON("put_pgcr", pgcrPrefix+instanceID, json.RawMessage(data), ttl)
}

// GetPGCR returns a cached report, or ErrNotFound once expired.
func (d *DB) GetPGCR(_ context.Context, instanceID string) ([]byte, error) {
	var raw json.RawMessage
	if err := d.getJSON(pgcrPrefix+instanceID, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
