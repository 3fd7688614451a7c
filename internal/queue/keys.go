// Package queue owns the well-known queue names, the envelope carried through
// them, and request admission.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// Keys names the three pipeline queues in the backing store.
type Keys struct {
	Pending string
	Retry   string
	DLQ     string
}

// DefaultKeys returns the names used when none are configured.
func DefaultKeys() Keys {
	return Keys{
		Pending: "coupon:queue:pending",
		Retry:   "coupon:queue:retry",
		DLQ:     "coupon:queue:dlq",
	}
}

// Workers is the registry of worker instances that may hold in-flight lists.
func (k Keys) Workers() string { return k.Pending + ":workers" }

// WorkerLease is the key whose presence marks instance as alive.
func (k Keys) WorkerLease(instance string) string { return k.Workers() + ":" + instance }

// Inflight is the holding list for items owner claimed from queue but has not
// yet acknowledged. Every worker instance has its own.
func Inflight(queue, owner string) string { return queue + ":inflight:" + owner }

// Encode serializes a request for a queue.
func Encode(req issuance.Request) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.RequestID, err)
	}
	return raw, nil
}

// Decode parses a queue item. An envelope without a request id is malformed.
func Decode(raw []byte) (issuance.Request, error) {
	var req issuance.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return issuance.Request{}, fmt.Errorf("decode envelope: %w", err)
	}
	if req.RequestID == "" {
		return issuance.Request{}, fmt.Errorf("decode envelope: missing request_id")
	}
	return req, nil
}
