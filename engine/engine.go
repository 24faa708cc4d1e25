package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/backoff"
	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/ext"
	"github.com/soandrew/transaction-outbox/migrate"
	sqlstore "github.com/soandrew/transaction-outbox/store/sql"
	"github.com/soandrew/transaction-outbox/txn"
)

// errClaimLost marks an entry another worker advanced between claim and
// processing. Never returned to callers.
var errClaimLost = errors.New("claim lost")

// Engine coordinates submission, flushing, retry/backoff/blocking state
// transitions, and schema migration. Multiple engines may run against
// the same store concurrently; the database is the single source of
// truth for row ownership.
type Engine struct {
	txm       txn.Manager
	persistor entry.Persistor
	executor  outbox.Executor
	migrator  *migrate.Manager
	listeners *ext.Registry
	bo        backoff.Strategy
	cfg       outbox.Config
	clock     func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg outbox.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithListener registers a lifecycle listener.
func WithListener(l ext.Listener) Option {
	return func(e *Engine) { e.listeners.Register(l) }
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithLogger sets the structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMigrator replaces the migration manager, e.g. to append custom
// migrations after the built-in set.
func WithMigrator(m *migrate.Manager) Option {
	return func(e *Engine) { e.migrator = m }
}

// WithoutMigration disables schema migration entirely. The operator is
// responsible for provisioning the schema externally.
func WithoutMigration() Option {
	return func(e *Engine) { e.cfg.Migrate = false }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an Engine. The transaction manager, persistor, and
// executor are required.
func New(txm txn.Manager, persistor entry.Persistor, executor outbox.Executor, opts ...Option) (*Engine, error) {
	if txm == nil {
		return nil, outbox.ErrNoTransactionManager
	}
	if persistor == nil {
		return nil, outbox.ErrNoPersistor
	}
	if executor == nil {
		return nil, outbox.ErrNoExecutor
	}

	e := &Engine{
		txm:       txm,
		persistor: persistor,
		executor:  executor,
		cfg:       outbox.DefaultConfig(),
		bo:        backoff.DefaultStrategy(),
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	e.listeners = ext.NewRegistry(e.logger)
	for _, opt := range opts {
		opt(e)
	}

	// SQL persistors get the built-in migration set for their dialect
	// unless a custom migrator was supplied.
	if e.migrator == nil {
		if sp, ok := persistor.(*sqlstore.Persistor); ok {
			e.migrator = migrate.NewManager(sp.Dialect(), migrate.WithLogger(e.logger))
		}
	}

	return e, nil
}

// Listeners returns the listener registry, e.g. to register listeners
// after construction.
func (e *Engine) Listeners() *ext.Registry { return e.listeners }

// Initialize prepares the engine for use. With migration enabled it
// brings the schema to the latest version; a failure here is fatal and
// the application must not proceed.
func (e *Engine) Initialize(ctx context.Context) error {
	if !e.cfg.Migrate || e.migrator == nil {
		e.logger.Debug("outbox migration skipped")
		return nil
	}
	return e.migrator.Migrate(ctx, e.txm)
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	uniqueRequestID string
	delay           time.Duration
}

// WithUniqueRequestID sets the deduplication key for this submission.
// A second submission with the same id while the first entry exists
// fails with outbox.ErrDuplicateRequest.
func WithUniqueRequestID(id string) SubmitOption {
	return func(o *submitOptions) { o.uniqueRequestID = id }
}

// WithDelay schedules the first attempt after the given delay.
func WithDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.delay = d }
}

// Submit inserts an outbox entry for inv using the caller's active
// transaction. It must be called within the same local transaction as
// the business writes it accompanies: that transaction boundary is the
// correctness mechanism of the whole pattern. The returned entry's ID
// can be awaited with ext.Waiter.
//
// A supplied unique request id is pre-checked against the store, so the
// common duplicate case returns outbox.ErrDuplicateRequest without a
// failed INSERT. Two racing submitters can still hit the unique
// constraint itself; on PostgreSQL that constraint failure aborts the
// enclosing transaction, so callers receiving ErrDuplicateRequest from
// the constraint path should roll back rather than continue it.
func (e *Engine) Submit(ctx context.Context, tx txn.Transaction, inv outbox.Invocation, opts ...SubmitOption) (*entry.Entry, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	if so.uniqueRequestID != "" {
		exists, err := e.persistor.ExistsUnique(ctx, tx, so.uniqueRequestID)
		if err != nil {
			return nil, fmt.Errorf("outbox/engine: submit: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %q", outbox.ErrDuplicateRequest, so.uniqueRequestID)
		}
	}

	now := e.clock()
	entryOpts := make([]entry.Option, 0, 2)
	if so.uniqueRequestID != "" {
		entryOpts = append(entryOpts, entry.WithUniqueRequestID(so.uniqueRequestID))
	}
	if so.delay > 0 {
		entryOpts = append(entryOpts, entry.WithNextAttemptTime(now.Add(so.delay)))
	}

	en := entry.New(inv, now, entryOpts...)
	if err := e.persistor.Insert(ctx, tx, en); err != nil {
		if errors.Is(err, outbox.ErrDuplicateRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("outbox/engine: submit: %w", err)
	}

	e.logger.Debug("outbox entry submitted",
		slog.String("entry_id", en.ID),
		slog.String("target", inv.Target),
	)
	e.listeners.EmitEntrySubmitted(ctx, en)
	return en, nil
}

// Flush claims one batch of due entries and processes each in its own
// transaction. It reports whether any entry was claimed, so callers can
// drain by flushing until false. One entry's failure never aborts
// another's processing.
func (e *Engine) Flush(ctx context.Context) (bool, error) {
	now := e.clock()

	var batch []*entry.Entry
	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
		batch = batch[:0]

		due, selErr := e.persistor.SelectBatch(ctx, tx, e.cfg.BatchSize, now)
		if selErr != nil {
			return selErr
		}
		// Claim by pushing the due time forward: concurrent flushers
		// that race past the row locks lose the version check instead.
		for _, en := range due {
			en.NextAttemptTime = now.Add(e.cfg.AttemptFrequency)
			if updErr := e.persistor.Update(ctx, tx, en); updErr != nil {
				if errors.Is(updErr, outbox.ErrOptimisticLock) {
					continue
				}
				return updErr
			}
			batch = append(batch, en)
		}

		if e.cfg.RetainProcessedFor > 0 {
			if _, delErr := e.persistor.DeleteProcessedBefore(ctx, tx, now.Add(-e.cfg.RetainProcessedFor)); delErr != nil {
				return delErr
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("outbox/engine: flush: %w", err)
	}
	if len(batch) == 0 {
		return false, nil
	}

	e.processBatch(ctx, batch)
	return true, nil
}

// processBatch processes claimed entries with bounded concurrency.
func (e *Engine) processBatch(ctx context.Context, batch []*entry.Entry) {
	sem := make(chan struct{}, max(e.cfg.Concurrency, 1))
	var wg sync.WaitGroup

	for _, en := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(en *entry.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("panic processing outbox entry",
						slog.String("entry_id", en.ID),
						slog.Any("panic", p),
					)
				}
			}()
			e.processEntry(ctx, en)
		}(en)
	}
	wg.Wait()
}

// processEntry executes one claimed entry in its own transaction. On
// success the invocation's business writes and the terminal processed
// flag commit together; on invocation failure everything rolls back and
// the retry state is recorded in a separate transaction.
func (e *Engine) processEntry(ctx context.Context, en *entry.Entry) {
	start := time.Now()

	var invErr error
	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
		locked, lockErr := e.persistor.Lock(ctx, tx, en)
		if lockErr != nil {
			return lockErr
		}
		if !locked {
			return errClaimLost
		}

		if execErr := e.executor.Execute(ctx, tx, en.Invocation); execErr != nil {
			invErr = execErr
			return execErr
		}

		now := e.clock()
		en.Attempts++
		en.LastAttemptTime = &now
		en.Processed = true
		return e.persistor.Update(ctx, tx, en)
	})

	switch {
	case err == nil:
		e.logger.Debug("outbox entry processed",
			slog.String("entry_id", en.ID),
			slog.String("target", en.Invocation.Target),
			slog.Int("attempts", en.Attempts),
		)
		e.listeners.EmitEntryProcessed(ctx, en, time.Since(start))

	case errors.Is(err, errClaimLost):
		// Another worker advanced the entry since we claimed it.

	case invErr != nil:
		e.recordFailure(ctx, en, invErr)

	default:
		// Storage failed; the entry stays claimed and becomes due again
		// once the attempt frequency window passes.
		e.logger.Error("outbox entry state update failed",
			slog.String("entry_id", en.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recordFailure commits the retry/blocking state transition for a
// failed attempt in its own transaction, regardless of the rolled-back
// invocation.
func (e *Engine) recordFailure(ctx context.Context, en *entry.Entry, cause error) {
	now := e.clock()
	en.Attempts++
	en.LastAttemptTime = &now
	en.NextAttemptTime = now.Add(e.bo.Delay(en.Attempts))
	blockedNow := false
	if e.cfg.BlockAfterAttempts > 0 && en.Attempts >= e.cfg.BlockAfterAttempts {
		en.Blocked = true
		blockedNow = true
	}

	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
		return e.persistor.Update(ctx, tx, en)
	})
	if err != nil {
		e.logger.Error("failed to record outbox attempt",
			slog.String("entry_id", en.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if blockedNow {
		e.logger.Warn("outbox entry blocked",
			slog.String("entry_id", en.ID),
			slog.String("target", en.Invocation.Target),
			slog.Int("attempts", en.Attempts),
			slog.String("error", cause.Error()),
		)
		e.listeners.EmitEntryBlocked(ctx, en, cause)
		return
	}

	e.logger.Warn("outbox entry attempt failed, scheduled for retry",
		slog.String("entry_id", en.ID),
		slog.String("target", en.Invocation.Target),
		slog.Int("attempts", en.Attempts),
		slog.Time("next_attempt", en.NextAttemptTime),
		slog.String("error", cause.Error()),
	)
	e.listeners.EmitEntryRetrying(ctx, en, cause, en.NextAttemptTime)
}

// UnblockInTransaction clears a blocked entry using the caller's active
// transaction, resetting its attempt counter so it resumes normal
// selection.
func (e *Engine) UnblockInTransaction(ctx context.Context, tx txn.Transaction, entryID string) error {
	if err := e.persistor.Unblock(ctx, tx, entryID); err != nil {
		return err
	}
	e.listeners.EmitEntryUnblocked(ctx, entryID)
	return nil
}

// Unblock clears a blocked entry in its own transaction.
func (e *Engine) Unblock(ctx context.Context, entryID string) error {
	return e.txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
		return e.UnblockInTransaction(ctx, tx, entryID)
	})
}

// Start launches the background flusher. It returns immediately.
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.logger.Info("outbox flusher starting",
		slog.Duration("interval", e.cfg.FlushInterval),
		slog.Int("batch_size", e.cfg.BatchSize),
	)

	e.wg.Add(1)
	go e.flushLoop(e.stopCh)
	return nil
}

// Stop signals the flusher to stop and waits for it to finish, up to
// the context deadline.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stopCh := e.stopCh
	e.mu.Unlock()

	close(stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("outbox flusher stopped")
	case <-ctx.Done():
		e.logger.Warn("outbox flusher shutdown timed out")
	}

	e.listeners.EmitShutdown(ctx)
	return nil
}

// flushLoop drains due entries once per flush interval.
func (e *Engine) flushLoop(stopCh <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.drain(stopCh)
		}
	}
}

// drain flushes until no work remains or stop is signalled.
func (e *Engine) drain(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		did, err := e.Flush(context.Background())
		if err != nil {
			e.logger.Error("outbox flush failed", slog.String("error", err.Error()))
			return
		}
		if !did {
			return
		}
	}
}
