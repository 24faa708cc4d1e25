// Package engine wires the outbox subsystems together and provides the
// primary application-level API: Submit inside the caller's own
// transaction, Flush outside any business transaction, Unblock for
// operator intervention, and a background flusher.
//
// The engine package exists to keep the dependency order clean: the
// root outbox package defines the shared leaf types (Invocation,
// errors, Config) imported by entry, migrate, and the stores, so it
// cannot import those packages back. Engine sits above all subsystem
// packages and below the application layer.
//
// # Building an Engine
//
//	txm := txn.NewManager(db)
//	eng, err := engine.New(txm, sqlstore.New(dialect.Postgres()), registry,
//	    engine.WithListener(ext.NewWaiter()),
//	    engine.WithBackoff(backoff.NewExponential(time.Minute, time.Hour)),
//	)
//
// # Submitting Work
//
//	inv, _ := outbox.NewInvocation("order.confirm", ConfirmArgs{Ref: "order-42"})
//
//	err = txm.InTransaction(ctx, func(ctx context.Context, tx txn.Transaction) error {
//	    // ... business writes on tx ...
//	    _, err := eng.Submit(ctx, tx, inv, engine.WithUniqueRequestID("order-42"))
//	    return err
//	})
//
// # Processing
//
//	eng.Start(ctx)        // background flusher, or
//	eng.Flush(ctx)        // one explicit pass
package engine
