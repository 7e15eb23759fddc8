package node

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -package mocks -destination mocks/handle.go . Handle,Session

var (
	ErrNodeUnavailable = errors.New("node is unavailable")
	ErrHandleDestroyed = errors.New("node handle is destroyed")
	ErrSessionClosed   = errors.New("subscription session is closed")
	ErrEmptyPayload    = errors.New("empty payload")
)

// Callback receives every message the node delivers for a request or a
// subscription. It is called from node-owned goroutines, possibly
// concurrently, and must not block.
type Callback func(payload []byte)

// Session is an open subscription. Closing it stops further callbacks.
type Session interface {
	ID() string
	Close() error
}

// Handle is a running node reachable through asynchronous requests.
type Handle interface {
	// SubmitRequest issues a one-shot request. A returned error means the
	// request was never issued. Otherwise cb is called at most once with the
	// response, unless timeout elapses first.
	SubmitRequest(ctx context.Context, payload []byte, timeout time.Duration, cb Callback) error
	// OpenSubscription opens a streaming session and delivers every message
	// on it to cb until the session is closed.
	OpenSubscription(ctx context.Context, payload []byte, cb Callback) (Session, error)
	// Destroy releases the node. Subsequent calls are no-ops.
	Destroy() error
}
