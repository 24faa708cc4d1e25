package redishook_test

import (
	"context"
	"testing"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/entry"
	redishook "github.com/soandrew/transaction-outbox/redis_hook"
)

// A filtered event returns before any Redis access, so a nil client is
// safe here. Publishing itself is covered by integration environments
// with a real server.
func TestWithEvents_FiltersDisabledEvents(t *testing.T) {
	h := redishook.New(nil, redishook.WithEvents(redishook.EventEntryBlocked))

	inv, _ := outbox.NewInvocation("email.send", nil)
	e := entry.New(inv, time.Now().UTC())
	ctx := context.Background()

	if err := h.OnEntrySubmitted(ctx, e); err != nil {
		t.Errorf("OnEntrySubmitted (disabled) = %v, want nil", err)
	}
	if err := h.OnEntryProcessed(ctx, e, time.Millisecond); err != nil {
		t.Errorf("OnEntryProcessed (disabled) = %v, want nil", err)
	}
	if err := h.OnEntryUnblocked(ctx, e.ID); err != nil {
		t.Errorf("OnEntryUnblocked (disabled) = %v, want nil", err)
	}
}

func TestHook_Name(t *testing.T) {
	h := redishook.New(nil)
	if got := h.Name(); got != "redis-hook" {
		t.Errorf("Name() = %q", got)
	}
}
