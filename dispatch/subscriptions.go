package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openethereum/rpcharness/completion"
	"github.com/openethereum/rpcharness/node"
)

var errNoSession = errors.New("no session returned")

// RunSubscriptions opens every subscription and reports how many were not
// acknowledged within the observation window. Every session opened by the
// batch is closed before returning, including when an open fails; in that
// case the remaining subscriptions are not issued and the returned error
// wraps ErrBatchAborted.
func (d *Dispatcher) RunSubscriptions(ctx context.Context, h node.Handle, payloads []string) (Result, error) {
	tracker := completion.NewTracker(completion.Streaming, len(payloads), completion.WithLogger(d.logger))
	logger := d.logger.With(zap.Stringer("batch_id", tracker.ID()))
	cb := tracker.Callback()
	registry := NewRegistry()
	defer func() {
		n := registry.Len()
		if err := registry.CloseAll(); err != nil {
			logger.Warn("closing subscriptions", zap.Error(err))
		}
		logger.Debug("subscriptions closed", zap.Int("count", n))
	}()
	start := time.Now()

	logger.Info("opening subscriptions", zap.Int("count", len(payloads)))
	for i, payload := range payloads {
		session, err := h.OpenSubscription(ctx, []byte(payload), cb)
		if err == nil && session == nil {
			err = errNoSession
		}
		if err != nil {
			logger.Error("opening subscription failed", zap.Int("index", i), zap.Error(err))
			return d.aborted(tracker, start), fmt.Errorf("%w: subscription %d: %v", ErrBatchAborted, i, err)
		}
		registry.Add(session)
	}

	res := d.observe(ctx, tracker, start)
	logger.Info("subscriptions judged", zap.Object("result", res))
	return res, nil
}
