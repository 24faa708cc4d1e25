package outbox

import "errors"

var (
	// Engine configuration errors.
	ErrNoTransactionManager = errors.New("outbox: no transaction manager configured")
	ErrNoPersistor          = errors.New("outbox: no persistor configured")
	ErrNoExecutor           = errors.New("outbox: no invocation executor configured")

	// Submission errors.
	ErrDuplicateRequest = errors.New("outbox: duplicate unique request id")

	// Persistence errors.
	ErrOptimisticLock = errors.New("outbox: optimistic lock failure")
	ErrEntryNotFound  = errors.New("outbox: entry not found")

	// Startup errors.
	ErrMigrationFailed = errors.New("outbox: migration failed")

	// Execution errors.
	ErrUnknownTarget = errors.New("outbox: no handler registered for target")
)
