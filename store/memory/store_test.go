package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/store/memory"
)

func newEntry(t *testing.T, opts ...entry.Option) *entry.Entry {
	t.Helper()
	inv, err := outbox.NewInvocation("noop", nil)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	return entry.New(inv, time.Now().UTC(), opts...)
}

func TestInsert_DuplicateUniqueRequestID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Insert(ctx, nil, newEntry(t, entry.WithUniqueRequestID("order-42"))); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	err := s.Insert(ctx, nil, newEntry(t, entry.WithUniqueRequestID("order-42")))
	if !errors.Is(err, outbox.ErrDuplicateRequest) {
		t.Fatalf("second Insert = %v, want ErrDuplicateRequest", err)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestUpdate_OptimisticLock(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := newEntry(t)

	if err := s.Insert(ctx, nil, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	first := *e
	second := *e

	if err := s.Update(ctx, nil, &first); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("winner version = %d, want 1", first.Version)
	}

	if err := s.Update(ctx, nil, &second); !errors.Is(err, outbox.ErrOptimisticLock) {
		t.Fatalf("second Update = %v, want ErrOptimisticLock", err)
	}
	if second.Version != 0 {
		t.Errorf("loser version = %d, want 0", second.Version)
	}
}

func TestSelectBatch_OrderAndExclusions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	older := newEntry(t)
	older.NextAttemptTime = now.Add(-2 * time.Hour)
	newer := newEntry(t)
	newer.NextAttemptTime = now.Add(-1 * time.Hour)
	future := newEntry(t)
	future.NextAttemptTime = now.Add(time.Hour)
	blocked := newEntry(t)
	blocked.NextAttemptTime = now.Add(-3 * time.Hour)
	blocked.Blocked = true

	for _, e := range []*entry.Entry{older, newer, future, blocked} {
		if err := s.Insert(ctx, nil, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.SelectBatch(ctx, nil, 10, now)
	if err != nil {
		t.Fatalf("SelectBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Errorf("order = [%s %s], want oldest due first", got[0].ID, got[1].ID)
	}

	got, err = s.SelectBatch(ctx, nil, 1, now)
	if err != nil {
		t.Fatalf("SelectBatch: %v", err)
	}
	if len(got) != 1 || got[0].ID != older.ID {
		t.Errorf("batch size 1 returned %d entries", len(got))
	}
}

func TestDelete_OnlyProcessed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := newEntry(t)

	if err := s.Insert(ctx, nil, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, nil, e); !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Fatalf("Delete pending = %v, want ErrEntryNotFound", err)
	}

	e.Processed = true
	if err := s.Update(ctx, nil, e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Delete(ctx, nil, e); err != nil {
		t.Fatalf("Delete processed: %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestUnblock_ResetsAttempts(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := newEntry(t)
	e.Blocked = true
	e.Attempts = 5

	if err := s.Insert(ctx, nil, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Unblock(ctx, nil, e.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	got, ok := s.Get(e.ID)
	if !ok {
		t.Fatal("entry vanished")
	}
	if got.Blocked || got.Attempts != 0 {
		t.Errorf("after unblock: blocked=%v attempts=%d", got.Blocked, got.Attempts)
	}

	if err := s.Unblock(ctx, nil, e.ID); !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Errorf("Unblock of unblocked entry = %v, want ErrEntryNotFound", err)
	}
}

func TestDeleteProcessedBefore(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	done := newEntry(t)
	done.Processed = true
	done.LastAttemptTime = &old
	pending := newEntry(t)

	for _, e := range []*entry.Entry{done, pending} {
		if err := s.Insert(ctx, nil, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	deleted, err := s.DeleteProcessedBefore(ctx, nil, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteProcessedBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, ok := s.Get(pending.ID); !ok {
		t.Error("pending entry must survive retention")
	}
}
