package outbox

import "time"

// Config holds configuration for the dispatch engine.
type Config struct {
	// Migrate controls whether Initialize runs schema migrations.
	// When false the schema is assumed to be provisioned externally.
	Migrate bool

	// BatchSize is the maximum number of due entries claimed per flush.
	BatchSize int

	// Concurrency is the maximum number of entries processed
	// concurrently within a single flush batch.
	Concurrency int

	// BlockAfterAttempts is the number of failed attempts after which
	// an entry is blocked and excluded from further selection until
	// manually unblocked.
	BlockAfterAttempts int

	// AttemptFrequency is how far a claimed entry's next attempt time
	// is pushed forward. A worker that crashes mid-flush releases its
	// claim implicitly once this window passes.
	AttemptFrequency time.Duration

	// FlushInterval is how often the background flusher runs.
	FlushInterval time.Duration

	// RetainProcessedFor is how long processed entries are kept before
	// the flush loop deletes them. Zero disables deletion.
	RetainProcessedFor time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Migrate:            true,
		BatchSize:          4096,
		Concurrency:        8,
		BlockAfterAttempts: 5,
		AttemptFrequency:   2 * time.Minute,
		FlushInterval:      30 * time.Second,
		RetainProcessedFor: 0,
	}
}
