package entry_test

import (
	"testing"
	"time"

	outbox "github.com/soandrew/transaction-outbox"
	"github.com/soandrew/transaction-outbox/entry"
)

func TestNew_Defaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv, err := outbox.NewInvocation("email.send", map[string]string{"to": "a@example.com"})
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}

	e := entry.New(inv, now)

	if e.ID == "" {
		t.Error("ID is empty")
	}
	if !e.CreatedTime.Equal(now) {
		t.Errorf("CreatedTime = %v, want %v", e.CreatedTime, now)
	}
	if !e.NextAttemptTime.Equal(now) {
		t.Errorf("NextAttemptTime = %v, want %v (due immediately)", e.NextAttemptTime, now)
	}
	if e.Attempts != 0 || e.Blocked || e.Processed {
		t.Errorf("new entry not pending: attempts=%d blocked=%v processed=%v", e.Attempts, e.Blocked, e.Processed)
	}
	if e.LastAttemptTime != nil {
		t.Errorf("LastAttemptTime = %v, want nil", e.LastAttemptTime)
	}
	if e.Version != 0 {
		t.Errorf("Version = %d, want 0", e.Version)
	}
	if e.UniqueRequestID != "" {
		t.Errorf("UniqueRequestID = %q, want empty", e.UniqueRequestID)
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	now := time.Now().UTC()
	inv, _ := outbox.NewInvocation("noop", nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := entry.New(inv, now)
		if seen[e.ID] {
			t.Fatalf("duplicate ID %q", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestNew_Options(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	inv, _ := outbox.NewInvocation("noop", nil)

	e := entry.New(inv, now,
		entry.WithUniqueRequestID("order-42"),
		entry.WithNextAttemptTime(later),
	)

	if e.UniqueRequestID != "order-42" {
		t.Errorf("UniqueRequestID = %q, want %q", e.UniqueRequestID, "order-42")
	}
	if !e.NextAttemptTime.Equal(later) {
		t.Errorf("NextAttemptTime = %v, want %v", e.NextAttemptTime, later)
	}
	if !e.CreatedTime.Equal(now) {
		t.Errorf("CreatedTime = %v, want %v", e.CreatedTime, now)
	}
}
