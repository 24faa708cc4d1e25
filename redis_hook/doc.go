// Package redishook bridges outbox lifecycle events to Redis pub/sub.
// When registered as a listener, it publishes a JSON message for every
// lifecycle point so downstream consumers (dashboards, alerting,
// relays) can observe outbox activity without polling the table.
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	hook := redishook.New(rdb)
//	eng, _ := engine.New(txm, persistor, registry,
//	    engine.WithListener(hook),
//	)
//
// To restrict which events are published:
//
//	hook := redishook.New(rdb,
//	    redishook.WithEvents(
//	        redishook.EventEntryBlocked,
//	        redishook.EventEntryUnblocked,
//	    ),
//	)
//
// Publishing is fire-and-forget: a publish failure is reported through
// the listener registry's log, never into outbox processing.
package redishook
