// Package outbox implements the transactional outbox pattern for Go
// applications backed by a relational database.
//
// A unit of work performed inside a database transaction and an
// asynchronous side effect either both become visible or neither does:
// the side effect is recorded as a durable outbox entry in the same
// transaction as the business write, then executed (and retried) out of
// band by the dispatch engine.
//
// Outbox is designed as a library, not a service. Bring your own
// *sql.DB, pick a dialect, register handlers, and submit invocations
// from inside your own transactions.
//
// # Quick Start
//
//	registry := engine.NewRegistry()
//	registry.Register("order.confirm", sendConfirmation)
//
//	txm := txn.NewManager(db)
//	eng, err := engine.New(txm, sqlstore.New(dialect.Postgres()), registry)
//	if err != nil { ... }
//	if err := eng.Initialize(ctx); err != nil { ... }
//
//	err = txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
//	    if err := placeOrder(ctx, tx, order); err != nil {
//	        return err
//	    }
//	    _, err := eng.Submit(ctx, tx, confirmInvocation,
//	        engine.WithUniqueRequestID(order.Ref))
//	    return err
//	})
//
// # Architecture
//
// The root package holds shared leaf types only. Each concern lives in
// its own subpackage: txn (transaction abstraction), dialect (engine
// specific SQL), entry (the outbox row and its Persistor interface),
// migrate (schema evolution), backoff (retry delay strategies), ext
// (lifecycle hooks), store/* (persistor implementations and database
// adapters), and engine (submit/flush dispatch).
package outbox
