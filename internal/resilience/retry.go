package resilience

import (
	"context"
	"time"
)

// ErrorKind classifies a component-boundary failure for retry decisions.
type ErrorKind string

const (
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindBackendTimeout     ErrorKind = "backend_timeout"
	KindSchemaViolation    ErrorKind = "schema_violation"
	KindInternal           ErrorKind = "internal"
)

// Policy describes how a single ErrorKind is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	Backoff     time.Duration // delay before each retry, doubled per attempt
}

// PolicyTable maps error kinds to retry policies. Kinds absent from the
// table are never retried.
type PolicyTable map[ErrorKind]Policy

// DefaultPolicyTable is the single retry policy table for the advisory core:
// unavailable backends get one bounded retry with backoff, timeouts are
// retried exactly once, schema violations are never retried.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		KindBackendUnavailable: {MaxAttempts: 2, Backoff: 500 * time.Millisecond},
		KindBackendTimeout:     {MaxAttempts: 2, Backoff: time.Second},
	}
}

// Retry executes fn according to the policy for its classified error kind.
// classify maps the returned error to an ErrorKind; fn is re-executed only
// while the table grants attempts for that kind. The context cancels waits
// between attempts.
func Retry(ctx context.Context, table PolicyTable, classify func(error) ErrorKind, fn func() error) error {
	var err error
	backoff := time.Duration(0)

	for attempt := 1; ; attempt++ {
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}

		policy, ok := table[classify(err)]
		if !ok || attempt >= policy.MaxAttempts {
			return err
		}

		backoff = policy.Backoff * time.Duration(1<<(attempt-1))
	}
}
