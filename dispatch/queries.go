package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openethereum/rpcharness/completion"
	"github.com/openethereum/rpcharness/node"
)

// RunQueries submits every request and reports how many responses did not
// arrive within the observation window. If a submission fails the remaining
// requests are not issued and the returned error wraps ErrBatchAborted.
func (d *Dispatcher) RunQueries(ctx context.Context, h node.Handle, reqs []Request) (Result, error) {
	tracker := completion.NewTracker(completion.OneShot, len(reqs), completion.WithLogger(d.logger))
	logger := d.logger.With(zap.Stringer("batch_id", tracker.ID()))
	cb := tracker.Callback()
	start := time.Now()

	logger.Info("submitting rpc queries", zap.Int("count", len(reqs)))
	for i, req := range reqs {
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		if err := h.SubmitRequest(ctx, []byte(req.Payload), timeout, cb); err != nil {
			logger.Error("submitting query failed", zap.Int("index", i), zap.Error(err))
			return d.aborted(tracker, start), fmt.Errorf("%w: query %d: %v", ErrBatchAborted, i, err)
		}
	}

	res := d.observe(ctx, tracker, start)
	logger.Info("rpc queries judged", zap.Object("result", res))
	return res, nil
}
