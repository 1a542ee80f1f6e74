// Package broker abstracts the shared ordered store that coordinates
// producers and workers. All queue state (pending/processing/completed/
// failed collections, job records, the worker registry) is broker-resident;
// each operation is a single broker round-trip with the broker's own
// internal serialization providing atomicity.
package broker

import (
	"context"
	"time"
)

// Broker is the connection to the shared store. Lists are FIFO at the
// broker's granularity: Push appends at one end, Pop removes from the
// other, and Range reads newest-first. A value popped from a list goes to
// exactly one caller.
type Broker interface {
	// Ping issues a lightweight liveness round-trip.
	Ping(ctx context.Context) error

	// ListPush appends a value to a list.
	ListPush(ctx context.Context, key, value string) error

	// ListPop removes the oldest value from a list, blocking up to timeout
	// for one to become available. Returns ok=false on timeout.
	ListPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error)

	// ListRange returns up to count values, newest first.
	ListRange(ctx context.Context, key string, count int64) ([]string, error)

	// ListTrim discards all but the maxLen most recently pushed values.
	ListTrim(ctx context.Context, key string, maxLen int64) error

	// ListLen returns the number of values in a list.
	ListLen(ctx context.Context, key string) (int64, error)

	// SetAdd adds a member to an unordered set.
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes a member from a set. Removing an absent member is
	// not an error.
	SetRemove(ctx context.Context, key, member string) error

	// SetCard returns the number of members in a set.
	SetCard(ctx context.Context, key string) (int64, error)

	// SetMembers returns all members of a set.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// HashSet writes fields into a hash, preserving unspecified fields.
	HashSet(ctx context.Context, key string, fields map[string]string) error

	// HashGet reads a single hash field. Returns ok=false when the field
	// or hash is absent.
	HashGet(ctx context.Context, key, field string) (string, bool, error)

	// HashGetAll returns all fields of a hash. An absent hash yields an
	// empty map, not an error.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashDelete removes fields from a hash.
	HashDelete(ctx context.Context, key string, fields ...string) error

	// Close releases the broker connection.
	Close() error
}

// Keys builds the broker-resident key layout. The unprefixed layout is the
// persisted-state contract other tooling may rely on:
//
//	jobs:pending    ordered list of job ids awaiting claim
//	jobs:processing set of job ids currently claimed
//	jobs:completed  ordered list of recently completed job ids
//	jobs:failed     ordered list of recently failed job ids
//	job:<id>        hash holding the job detail record
//	workers         hash of worker_id -> serialized worker record
type Keys struct {
	// Namespace is an optional prefix applied to every key, e.g. "formqueue:".
	Namespace string
}

// Pending returns the pending queue key.
func (k Keys) Pending() string {
	return k.Namespace + "jobs:pending"
}

// Processing returns the processing set key.
func (k Keys) Processing() string {
	return k.Namespace + "jobs:processing"
}

// Completed returns the completed list key.
func (k Keys) Completed() string {
	return k.Namespace + "jobs:completed"
}

// Failed returns the failed list key.
func (k Keys) Failed() string {
	return k.Namespace + "jobs:failed"
}

// Job returns the detail record key for a job.
func (k Keys) Job(jobID string) string {
	return k.Namespace + "job:" + jobID
}

// Workers returns the worker registry hash key.
func (k Keys) Workers() string {
	return k.Namespace + "workers"
}
