package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/openethereum/rpcharness/dispatch"
	"github.com/openethereum/rpcharness/logging"
	"github.com/openethereum/rpcharness/node"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Diagnostic lines printed when a run fails.
const (
	NodeFailed          = "node startup failed"
	RPCQueriesFailed    = "rpc_queries failed"
	SubscriptionsFailed = "ws_queries failed"
)

type Config struct {
	Node          node.Config
	Dispatch      dispatch.Config
	RPCTimeout    time.Duration
	Queries       []string
	Subscriptions []string
}

// Factory creates the node handle of a run.
type Factory func(ctx context.Context, cfg node.Config) (node.Handle, error)

type Harness struct {
	cfg     Config
	factory Factory
	out     io.Writer
}

type newHarnessOptions struct {
	factory Factory
	out     io.Writer
}

type newHarnessOptionFunc func(*newHarnessOptions)

// WithFactory replaces node.Create.
func WithFactory(factory Factory) newHarnessOptionFunc {
	return func(o *newHarnessOptions) {
		o.factory = factory
	}
}

// WithOutput sets where diagnostic lines are printed. Defaults to stdout.
func WithOutput(out io.Writer) newHarnessOptionFunc {
	return func(o *newHarnessOptions) {
		o.out = out
	}
}

func New(cfg Config, opts ...newHarnessOptionFunc) *Harness {
	options := newHarnessOptions{
		factory: node.Create,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Harness{
		cfg:     cfg,
		factory: options.factory,
		out:     options.out,
	}
}

// Run executes both batches and returns the process exit code. The
// subscription batch is skipped if the RPC batch fails.
func (h *Harness) Run(ctx context.Context) int {
	base := logging.FromContext(ctx)
	directive, level := h.cfg.Node.LogDirective, h.cfg.Node.LogLevel
	logger := directive.Named(base, "harness", level)

	handle, err := h.factory(ctx, h.cfg.Node)
	if err == nil && handle == nil {
		err = node.ErrNodeUnavailable
	}
	if err != nil {
		logger.Error("failed to create node handle", zap.Error(err))
		h.report(NodeFailed)
		return ExitFailure
	}
	defer func() {
		if err := handle.Destroy(); err != nil {
			logger.Warn("failed to destroy node handle", zap.Error(err))
		}
		logger.Info("node handle destroyed")
	}()

	d := dispatch.New(
		dispatch.WithConfig(h.cfg.Dispatch),
		dispatch.WithLogger(directive.Named(base, "dispatch", level)),
	)

	reqs := make([]dispatch.Request, len(h.cfg.Queries))
	for i, q := range h.cfg.Queries {
		reqs[i] = dispatch.Request{Payload: q, Timeout: h.cfg.RPCTimeout}
	}
	res, err := d.RunQueries(ctx, handle, reqs)
	if err != nil || !res.OK() {
		logger.Error("rpc batch failed", zap.Object("result", res), zap.Error(err))
		h.report(RPCQueriesFailed)
		return ExitFailure
	}

	res, err = d.RunSubscriptions(ctx, handle, h.cfg.Subscriptions)
	if err != nil || !res.OK() {
		logger.Error("subscription batch failed", zap.Object("result", res), zap.Error(err))
		h.report(SubscriptionsFailed)
		return ExitFailure
	}

	logger.Info("all batches completed")
	return ExitSuccess
}

func (h *Harness) report(line string) {
	_, _ = fmt.Fprintf(h.out, "%s\r\n", line)
}
