// Package store implements the provenance store: the durable record of
// File, Process, IO Interval, and Fork Edge entities. Grounded on the
// teacher pack's
// roach88-nysm/brutalist/internal/store package: SQLite via
// github.com/mattn/go-sqlite3, WAL mode, single-writer connection pool, an
// embedded schema applied idempotently at Open.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

var logger = logging.GetLogger().WithPrefix("store")

// Store is the durable provenance backend. A single Store instance owns
// one SQLite connection pool capped at one connection: commits are
// serialized, and reads share that same connection, so a read waits
// while a transaction holds it. Reads see the last committed state.
type Store struct {
	db   *sql.DB
	opts Options

	// mu serializes the degraded/available transition so concurrent
	// callers observe a consistent view while a StoreUnavailable episode
	// is being handled.
	mu        sync.RWMutex
	available bool

	// bufMu guards the pending-write buffer a persistent StoreUnavailable
	// episode fills, under a bounded buffering and drop-with-warning
	// policy. probeLoop drains it once the store heals.
	bufMu         sync.Mutex
	buffered      []pendingWrite
	bufferDropped uint64
	notify        chan struct{}

	stopProbe chan struct{}
	wg        sync.WaitGroup

	metrics *metrics.Metrics
}

// Options configures withTx's bounded-retry and buffering behavior. The
// buffer window and attempt count are both configurable, with sane
// defaults for callers that don't care.
type Options struct {
	// RetryAttempts bounds how many times withTx retries a failed
	// transaction in place, for errors errs.IsTemporary judges transient
	// (e.g. a busy connection). Must be >= 1.
	RetryAttempts int
	// RetryBackoff is the base delay between in-place retries, scaled
	// linearly by attempt number.
	RetryBackoff time.Duration
	// BufferSize bounds how many writes queue in memory while the store
	// is unavailable. Oldest entries are dropped (with a warning) once
	// full, same policy as bureau-telemetry-relay's telemetry buffer.
	BufferSize int
	// BufferWindow is the maximum age a buffered write is kept before
	// being dropped rather than replayed, so a long outage doesn't replay
	// a burst of stale writes once the store heals.
	BufferWindow time.Duration
	// ProbeInterval is how often probeLoop pings a dead connection to
	// check whether it has recovered.
	ProbeInterval time.Duration
}

// DefaultOptions returns sane defaults for retry and buffering.
func DefaultOptions() Options {
	return Options{
		RetryAttempts: 3,
		RetryBackoff:  50 * time.Millisecond,
		BufferSize:    256,
		BufferWindow:  5 * time.Minute,
		ProbeInterval: 2 * time.Second,
	}
}

// pendingWrite is one buffered withTx closure awaiting replay once the
// store becomes available again.
type pendingWrite struct {
	fn       func(tx *sql.Tx) error
	enqueued time.Time
}

// WithMetrics attaches a Metrics collector set that withTx records
// commit latency and failure counts against. Passing nil (the default)
// disables recording.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Open creates or opens a SQLite-backed provenance store at path and
// applies the schema, using DefaultOptions' retry/buffer behavior. Safe to
// call on an existing database.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions is Open with explicit retry/buffer tuning, for callers
// (the engine's mount Options, tests) that need something other than
// DefaultOptions' sane defaults.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.New("store.open", path, errs.StoreUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New("store.open", path, errs.StoreUnavailable, err)
	}

	// SQLite permits exactly one writer; cap the pool so concurrent FS
	// operations queue for the connection rather than failing with
	// SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errs.New("store.open", path, errs.StoreUnavailable, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.New("store.open", path, errs.StoreUnavailable, err)
	}

	s := &Store{
		db:        db,
		opts:      opts,
		available: true,
		notify:    make(chan struct{}, 1),
		stopProbe: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.probeLoop()

	return s, nil
}

// Close stops the self-healing probe loop and releases the underlying
// connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if s.stopProbe != nil {
		close(s.stopProbe)
		s.wg.Wait()
	}
	return s.db.Close()
}

// Available reports whether the store is currently usable. The Tracker
// consults this before every write and disables provenance recording
// for the duration of an outage rather than blocking filesystem calls.
func (s *Store) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

func (s *Store) markUnavailable(err error) error {
	s.mu.Lock()
	s.available = false
	s.mu.Unlock()
	logger.Error("provenance store unavailable: %v", err)
	return errs.New("store", "", errs.StoreUnavailable, err)
}

func (s *Store) markAvailable() {
	s.mu.Lock()
	s.available = true
	s.mu.Unlock()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error. A transient failure (errs.IsTemporary, e.g. a busy
// connection) is retried in place up to opts.RetryAttempts times before
// giving up. A failure that exhausts retries or isn't transient marks the
// store unavailable and buffers fn for replay by probeLoop once the store
// heals. Any successful withTx call marks the store available again; the
// Tracker's Disabled() gate skips its calls while unavailable, so for the
// Tracker it is probeLoop that brings the store back, and the gate can't
// deadlock against its own recovery.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()

	var err error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !errs.IsTemporary(err) {
			break
		}
		if attempt < s.opts.RetryAttempts {
			time.Sleep(s.opts.RetryBackoff * time.Duration(attempt))
		}
	}

	if err != nil {
		s.recordCommitFailure()
		s.enqueueBuffered(fn)
		return s.markUnavailable(err)
	}

	s.markAvailable()
	if s.metrics != nil {
		s.metrics.StoreCommits.Inc()
		s.metrics.StoreCommitDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) recordCommitFailure() {
	if s.metrics != nil {
		s.metrics.StoreCommitFailures.Inc()
	}
}

// enqueueBuffered queues fn for replay, dropping the oldest buffered write
// (with a warning) if the buffer is already at opts.BufferSize.
func (s *Store) enqueueBuffered(fn func(tx *sql.Tx) error) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	for len(s.buffered) >= s.opts.BufferSize {
		s.buffered = s.buffered[1:]
		s.bufferDropped++
		logger.Warn("provenance write buffer full (%d), dropping oldest buffered write (%d dropped total)", s.opts.BufferSize, s.bufferDropped)
		if s.metrics != nil {
			s.metrics.StoreBufferDropped.Inc()
		}
	}

	s.buffered = append(s.buffered, pendingWrite{fn: fn, enqueued: time.Now()})
	if s.metrics != nil {
		s.metrics.StoreBufferedWrites.Set(float64(len(s.buffered)))
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// probeLoop periodically checks a dead connection for recovery and, once
// it's reachable again, flushes buffered writes. It marks the store
// available without waiting for another withTx call, so the Tracker's
// Disabled() gate — which skips every tracker call before withTx could
// run again — never blocks the store from self-healing.
func (s *Store) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopProbe:
			return
		case <-ticker.C:
			if s.Available() {
				continue
			}
			s.tryHeal()
		}
	}
}

func (s *Store) tryHeal() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeInterval)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return
	}

	logger.Info("provenance store reachable again, flushing buffered writes")
	s.markAvailable()
	s.flushBuffered(ctx)
}

// flushBuffered replays buffered writes in FIFO order, dropping (with a
// warning) any that aged past opts.BufferWindow. It stops at the first
// replay failure and marks the store unavailable again, leaving the
// remaining buffer for the next probe tick.
func (s *Store) flushBuffered(ctx context.Context) {
	for {
		s.bufMu.Lock()
		if len(s.buffered) == 0 {
			s.bufMu.Unlock()
			return
		}
		next := s.buffered[0]
		s.bufMu.Unlock()

		if time.Since(next.enqueued) > s.opts.BufferWindow {
			s.dropStaleBuffered()
			continue
		}

		if err := s.runTx(ctx, next.fn); err != nil {
			logger.Debug("replay of buffered provenance write failed, will retry on next probe: %v", err)
			s.markUnavailable(err)
			return
		}

		s.bufMu.Lock()
		s.buffered = s.buffered[1:]
		if s.metrics != nil {
			s.metrics.StoreBufferedWrites.Set(float64(len(s.buffered)))
		}
		s.bufMu.Unlock()
	}
}

func (s *Store) dropStaleBuffered() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if len(s.buffered) == 0 {
		return
	}
	s.buffered = s.buffered[1:]
	s.bufferDropped++
	if s.metrics != nil {
		s.metrics.StoreBufferDropped.Inc()
		s.metrics.StoreBufferedWrites.Set(float64(len(s.buffered)))
	}
	logger.Warn("dropping buffered provenance write aged past %s (%d dropped total)", s.opts.BufferWindow, s.bufferDropped)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return nil
}
