package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soandrew/transaction-outbox/txn"
)

// Invocation is the serialized payload of an outbox entry: what to
// execute once the enclosing business transaction has committed. The
// outbox treats it as opaque; only the Executor interprets it.
type Invocation struct {
	// Target names the handler to invoke.
	Target string `json:"t"`

	// Args is the JSON-encoded argument payload for the handler.
	Args json.RawMessage `json:"a,omitempty"`
}

// NewInvocation builds an Invocation for target with JSON-encoded args.
// Pass nil args for handlers that take no payload.
func NewInvocation(target string, args any) (Invocation, error) {
	if args == nil {
		return Invocation{Target: target}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Invocation{}, fmt.Errorf("outbox: marshal args for %q: %w", target, err)
	}
	return Invocation{Target: target, Args: raw}, nil
}

// UnmarshalArgs decodes the argument payload into v.
func (i Invocation) UnmarshalArgs(v any) error {
	if len(i.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(i.Args, v); err != nil {
		return fmt.Errorf("outbox: unmarshal args for %q: %w", i.Target, err)
	}
	return nil
}

// Executor re-executes a stored invocation. The active transaction is
// injected so handlers can perform further business writes that commit
// or roll back together with the entry's state transition.
type Executor interface {
	Execute(ctx context.Context, tx txn.Transaction, inv Invocation) error
}
