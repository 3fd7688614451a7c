// Package kv defines the backing store the issuance pipeline runs on: ordered
// lists used as FIFO queues and a key/value space with optional expiry.
//
// Every method is a single atomic operation against the store. The pipeline
// never needs a multi-step critical section, so no additional locking is
// offered here.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// End names one end of a list.
type End int

const (
	// Head is the removal end of a FIFO queue.
	Head End = iota
	// Tail is the insertion end of a FIFO queue.
	Tail
)

func (e End) String() string {
	if e == Head {
		return "LEFT"
	}
	return "RIGHT"
}

// Backend is the contract the pipeline requires from the shared store.
type Backend interface {
	// Push appends value at the tail of list.
	Push(ctx context.Context, list string, value []byte) error
	// Move atomically removes an element from one end of src and inserts it
	// at one end of dst. ok is false when src is empty.
	Move(ctx context.Context, src, dst string, from, to End) (value []byte, ok bool, err error)
	// Len returns the number of elements in list.
	Len(ctx context.Context, list string) (int64, error)
	// Range returns every element of list from head to tail without removing them.
	Range(ctx context.Context, list string) ([][]byte, error)
	// Remove deletes the first element equal to value and reports how many were removed.
	Remove(ctx context.Context, list string, value []byte) (int64, error)

	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. A ttl <= 0 stores the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
