package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/backoff"
	"github.com/soandrew/transaction-outbox/engine"
	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/ext"
	"github.com/soandrew/transaction-outbox/store/memory"
	"github.com/soandrew/transaction-outbox/txn"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestEngine assembles an engine over the in-memory store with a
// fake clock and a constant one-minute backoff.
func newTestEngine(t *testing.T, reg *engine.Registry, opts ...engine.Option) (*engine.Engine, *memory.Store, *memory.TxManager, *fakeClock) {
	t.Helper()
	store := memory.New()
	mgr := memory.NewTxManager()
	clock := newFakeClock()

	opts = append([]engine.Option{
		engine.WithClock(clock.Now),
		engine.WithBackoff(backoff.NewConstant(time.Minute)),
	}, opts...)
	eng, err := engine.New(mgr, store, reg, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, store, mgr, clock
}

func submit(t *testing.T, eng *engine.Engine, mgr txn.Manager, target string, args any, opts ...engine.SubmitOption) *entry.Entry {
	t.Helper()
	inv, err := outbox.NewInvocation(target, args)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	var en *entry.Entry
	err = mgr.InTransaction(context.Background(), func(ctx context.Context, tx txn.Transaction) error {
		var subErr error
		en, subErr = eng.Submit(ctx, tx, inv, opts...)
		return subErr
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return en
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := memory.New()
	mgr := memory.NewTxManager()
	reg := engine.NewRegistry()

	if _, err := engine.New(nil, store, reg); !errors.Is(err, outbox.ErrNoTransactionManager) {
		t.Errorf("nil manager: %v", err)
	}
	if _, err := engine.New(mgr, nil, reg); !errors.Is(err, outbox.ErrNoPersistor) {
		t.Errorf("nil persistor: %v", err)
	}
	if _, err := engine.New(mgr, store, nil); !errors.Is(err, outbox.ErrNoExecutor) {
		t.Errorf("nil executor: %v", err)
	}
}

func TestSubmitAndFlush_ProcessesEntry(t *testing.T) {
	reg := engine.NewRegistry()
	var calls atomic.Int32
	var gotTo string
	engine.RegisterTyped(reg, "email.send", func(_ context.Context, _ txn.Transaction, args struct {
		To string `json:"to"`
	}) error {
		calls.Add(1)
		gotTo = args.To
		return nil
	})
	eng, store, mgr, _ := newTestEngine(t, reg)

	en := submit(t, eng, mgr, "email.send", map[string]string{"to": "a@example.com"})

	did, err := eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !did {
		t.Fatal("Flush = false, want work done")
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	if gotTo != "a@example.com" {
		t.Errorf("args.To = %q", gotTo)
	}

	got, ok := store.Get(en.ID)
	if !ok {
		t.Fatal("entry vanished")
	}
	if !got.Processed {
		t.Error("entry not marked processed")
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastAttemptTime == nil {
		t.Error("LastAttemptTime not set")
	}

	// Nothing left to do.
	did, err = eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if did {
		t.Error("second Flush = true, want idle")
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls after idle flush = %d, want 1", calls.Load())
	}
}

func TestFlush_IdleReturnsFalse(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, engine.NewRegistry())

	did, err := eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if did {
		t.Error("Flush on empty store = true, want false")
	}
}

func TestSubmit_DuplicateUniqueRequestID(t *testing.T) {
	reg := engine.NewRegistry()
	eng, store, mgr, _ := newTestEngine(t, reg)

	submit(t, eng, mgr, "email.send", nil, engine.WithUniqueRequestID("order-42"))

	inv, _ := outbox.NewInvocation("email.send", nil)
	err := mgr.InTransaction(context.Background(), func(ctx context.Context, tx txn.Transaction) error {
		_, subErr := eng.Submit(ctx, tx, inv, engine.WithUniqueRequestID("order-42"))
		return subErr
	})
	if !errors.Is(err, outbox.ErrDuplicateRequest) {
		t.Fatalf("duplicate Submit = %v, want ErrDuplicateRequest", err)
	}
	if got := store.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestSubmit_WithDelay(t *testing.T) {
	reg := engine.NewRegistry()
	var calls atomic.Int32
	reg.Register("later", func(context.Context, txn.Transaction, []byte) error {
		calls.Add(1)
		return nil
	})
	eng, _, mgr, clock := newTestEngine(t, reg)

	submit(t, eng, mgr, "later", nil, engine.WithDelay(10*time.Minute))

	did, err := eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if did || calls.Load() != 0 {
		t.Fatal("delayed entry processed before its due time")
	}

	clock.Advance(10 * time.Minute)
	did, err = eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush after delay: %v", err)
	}
	if !did || calls.Load() != 1 {
		t.Fatalf("did=%v calls=%d, want the entry processed once due", did, calls.Load())
	}
}

func TestFlush_RetriesWithBackoffThenBlocks(t *testing.T) {
	reg := engine.NewRegistry()
	var calls atomic.Int32
	reg.Register("flaky", func(context.Context, txn.Transaction, []byte) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	})

	cfg := outbox.DefaultConfig()
	cfg.BlockAfterAttempts = 3
	eng, store, mgr, clock := newTestEngine(t, reg, engine.WithConfig(cfg))

	en := submit(t, eng, mgr, "flaky", nil)

	// First attempt fails and reschedules one backoff step out.
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, _ := store.Get(en.ID)
	if got.Attempts != 1 || got.Blocked {
		t.Fatalf("after attempt 1: attempts=%d blocked=%v", got.Attempts, got.Blocked)
	}
	wantNext := clock.Now().Add(time.Minute)
	if !got.NextAttemptTime.Equal(wantNext) {
		t.Errorf("NextAttemptTime = %v, want %v", got.NextAttemptTime, wantNext)
	}

	// Not due again until the backoff delay passes.
	if did, _ := eng.Flush(context.Background()); did {
		t.Fatal("entry selected before its backoff delay elapsed")
	}

	// Attempts 2 and 3; the third crosses the threshold.
	for i := 0; i < 2; i++ {
		clock.Advance(time.Minute)
		if _, err := eng.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	got, _ = store.Get(en.ID)
	if got.Attempts != 3 || !got.Blocked {
		t.Fatalf("after attempt 3: attempts=%d blocked=%v, want blocked", got.Attempts, got.Blocked)
	}

	// Blocked entries are invisible to the flusher.
	clock.Advance(time.Hour)
	if did, _ := eng.Flush(context.Background()); did {
		t.Fatal("blocked entry was selected")
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestUnblock_ResumesProcessing(t *testing.T) {
	reg := engine.NewRegistry()
	var healthy atomic.Bool
	reg.Register("flaky", func(context.Context, txn.Transaction, []byte) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("downstream unavailable")
	})

	cfg := outbox.DefaultConfig()
	cfg.BlockAfterAttempts = 1
	eng, store, mgr, clock := newTestEngine(t, reg, engine.WithConfig(cfg))

	en := submit(t, eng, mgr, "flaky", nil)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, _ := store.Get(en.ID)
	if !got.Blocked {
		t.Fatal("entry not blocked after threshold")
	}

	healthy.Store(true)
	if err := eng.Unblock(context.Background(), en.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	got, _ = store.Get(en.ID)
	if got.Blocked || got.Attempts != 0 {
		t.Fatalf("after unblock: blocked=%v attempts=%d, want a fresh attempt budget", got.Blocked, got.Attempts)
	}

	clock.Advance(time.Hour)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after unblock: %v", err)
	}
	got, _ = store.Get(en.ID)
	if !got.Processed {
		t.Error("entry not processed after unblock")
	}
}

func TestUnblock_UnknownEntry(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, engine.NewRegistry())

	err := eng.Unblock(context.Background(), "does-not-exist")
	if !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Fatalf("Unblock = %v, want ErrEntryNotFound", err)
	}
}

func TestFlush_FailureIsolation(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("good", func(context.Context, txn.Transaction, []byte) error { return nil })
	reg.Register("bad", func(context.Context, txn.Transaction, []byte) error {
		return errors.New("boom")
	})
	eng, store, mgr, _ := newTestEngine(t, reg)

	goodEntry := submit(t, eng, mgr, "good", nil)
	badEntry := submit(t, eng, mgr, "bad", nil)

	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, _ := store.Get(goodEntry.ID)
	if !got.Processed {
		t.Error("good entry not processed; a sibling failure must not affect it")
	}
	got, _ = store.Get(badEntry.ID)
	if got.Processed || got.Attempts != 1 {
		t.Errorf("bad entry: processed=%v attempts=%d, want a recorded failure", got.Processed, got.Attempts)
	}
}

func TestFlush_PanicIsolation(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("good", func(context.Context, txn.Transaction, []byte) error { return nil })
	reg.Register("panicky", func(context.Context, txn.Transaction, []byte) error {
		panic("handler exploded")
	})
	eng, store, mgr, _ := newTestEngine(t, reg)

	goodEntry := submit(t, eng, mgr, "good", nil)
	submit(t, eng, mgr, "panicky", nil)

	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, _ := store.Get(goodEntry.ID)
	if !got.Processed {
		t.Error("good entry not processed despite sibling panic")
	}
}

func TestFlush_UnknownTargetIsRetried(t *testing.T) {
	eng, store, mgr, _ := newTestEngine(t, engine.NewRegistry())

	en := submit(t, eng, mgr, "nobody.home", nil)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, _ := store.Get(en.ID)
	if got.Processed || got.Attempts != 1 {
		t.Errorf("processed=%v attempts=%d, want a recorded failed attempt", got.Processed, got.Attempts)
	}
}

func TestFlush_Retention(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("noop", func(context.Context, txn.Transaction, []byte) error { return nil })

	cfg := outbox.DefaultConfig()
	cfg.RetainProcessedFor = time.Hour
	eng, store, mgr, clock := newTestEngine(t, reg, engine.WithConfig(cfg))

	en := submit(t, eng, mgr, "noop", nil)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got, _ := store.Get(en.ID); !got.Processed {
		t.Fatal("entry not processed")
	}

	// Within the retention window the processed entry survives.
	clock.Advance(30 * time.Minute)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := store.Get(en.ID); !ok {
		t.Fatal("entry deleted inside the retention window")
	}

	clock.Advance(2 * time.Hour)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := store.Get(en.ID); ok {
		t.Error("processed entry survived past its retention window")
	}
}

func TestWaiter_EndToEnd(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("noop", func(context.Context, txn.Transaction, []byte) error { return nil })
	waiter := ext.NewWaiter()
	eng, _, mgr, _ := newTestEngine(t, reg, engine.WithListener(waiter))

	en := submit(t, eng, mgr, "noop", nil)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := waiter.Wait(ctx, en.ID); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestWaiter_ReportsBlockedCause(t *testing.T) {
	reg := engine.NewRegistry()
	cause := errors.New("downstream unavailable")
	reg.Register("flaky", func(context.Context, txn.Transaction, []byte) error { return cause })
	waiter := ext.NewWaiter()

	cfg := outbox.DefaultConfig()
	cfg.BlockAfterAttempts = 1
	eng, _, mgr, _ := newTestEngine(t, reg, engine.WithConfig(cfg), engine.WithListener(waiter))

	en := submit(t, eng, mgr, "flaky", nil)
	if _, err := eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := waiter.Wait(ctx, en.ID); !errors.Is(err, cause) {
		t.Errorf("Wait = %v, want the blocking cause", err)
	}
}

func TestStartStop_BackgroundFlusher(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("noop", func(context.Context, txn.Transaction, []byte) error { return nil })
	waiter := ext.NewWaiter()

	store := memory.New()
	mgr := memory.NewTxManager()
	cfg := outbox.DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	eng, err := engine.New(mgr, store, reg,
		engine.WithConfig(cfg),
		engine.WithListener(waiter),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	en := submit(t, eng, mgr, "noop", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waiter.Wait(ctx, en.ID); err != nil {
		t.Fatalf("Wait = %v, want the background flusher to process the entry", err)
	}
}

func TestInitialize_SkipsWithoutMigrator(t *testing.T) {
	// The in-memory store has no schema; Initialize must be a no-op.
	eng, _, _, _ := newTestEngine(t, engine.NewRegistry())
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}
