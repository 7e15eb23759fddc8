package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openethereum/rpcharness/completion"
)

var ErrBatchAborted = errors.New("batch aborted")

var (
	batchesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpcharness",
		Subsystem: "batch",
		Name:      "total",
		Help:      "Number of batches run by result",
	}, []string{"kind", "result"})

	shortfallMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rpcharness",
		Subsystem: "batch",
		Name:      "shortfall",
		Help:      "Callbacks still outstanding when the last batch was judged",
	}, []string{"kind"})

	batchDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpcharness",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Time from issuing the first request until the batch was judged",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"kind"})
)

// WaitMode selects how the observation window ends.
type WaitMode string

const (
	// WaitFixed always waits the full window.
	WaitFixed WaitMode = "fixed"
	// WaitEarly ends the window as soon as every expected callback arrived.
	WaitEarly WaitMode = "early"
)

const (
	DefaultWindow         = 15 * time.Second
	DefaultRequestTimeout = time.Minute
)

type Config struct {
	Window time.Duration
	Wait   WaitMode
}

func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Wait:   WaitFixed,
	}
}

// Request is one one-shot query.
type Request struct {
	Payload string
	Timeout time.Duration
}

// Result is the verdict of one batch.
type Result struct {
	BatchID   uuid.UUID
	Kind      completion.Kind
	Expected  int64
	Shortfall int64
	Ignored   int64
	Overruns  int64
	Elapsed   time.Duration
}

// OK reports whether every expected callback was observed.
func (r Result) OK() bool {
	return r.Shortfall == 0
}

// implement zap.ObjectMarshaler interface.
func (r Result) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("batch_id", r.BatchID.String())
	enc.AddString("kind", r.Kind.String())
	enc.AddInt64("expected", r.Expected)
	enc.AddInt64("shortfall", r.Shortfall)
	enc.AddInt64("ignored", r.Ignored)
	enc.AddInt64("overruns", r.Overruns)
	enc.AddDuration("elapsed", r.Elapsed)
	return nil
}

// Dispatcher issues batches against a node handle and judges them by
// counting callbacks.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
}

type newDispatcherOptions struct {
	cfg    Config
	logger *zap.Logger
}

type newDispatcherOptionFunc func(*newDispatcherOptions)

func WithConfig(cfg Config) newDispatcherOptionFunc {
	return func(o *newDispatcherOptions) {
		o.cfg = cfg
	}
}

func WithLogger(logger *zap.Logger) newDispatcherOptionFunc {
	return func(o *newDispatcherOptions) {
		o.logger = logger
	}
}

func New(opts ...newDispatcherOptionFunc) *Dispatcher {
	options := newDispatcherOptions{
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Dispatcher{
		cfg:    options.cfg,
		logger: options.logger,
	}
}

// observe blocks for the observation window, then judges the batch. The
// window ends early if ctx is done or, in WaitEarly mode, once the tracker
// completes.
func (d *Dispatcher) observe(ctx context.Context, tracker *completion.Tracker, start time.Time) Result {
	var done <-chan struct{}
	if d.cfg.Wait == WaitEarly {
		done = tracker.Done()
	}

	timer := time.NewTimer(d.cfg.Window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-done:
	case <-ctx.Done():
		d.logger.Info("observation window interrupted", zap.Error(ctx.Err()))
	}

	res := resultOf(tracker, start)
	result := "ok"
	if !res.OK() {
		result = "shortfall"
	}
	batchesMetric.WithLabelValues(res.Kind.String(), result).Inc()
	shortfallMetric.WithLabelValues(res.Kind.String()).Set(float64(res.Shortfall))
	batchDurationMetric.WithLabelValues(res.Kind.String()).Observe(res.Elapsed.Seconds())
	return res
}

func (d *Dispatcher) aborted(tracker *completion.Tracker, start time.Time) Result {
	res := resultOf(tracker, start)
	batchesMetric.WithLabelValues(res.Kind.String(), "aborted").Inc()
	return res
}

func resultOf(tracker *completion.Tracker, start time.Time) Result {
	return Result{
		BatchID:   tracker.ID(),
		Kind:      tracker.Kind(),
		Expected:  tracker.Expected(),
		Shortfall: tracker.Remaining(),
		Ignored:   tracker.Ignored(),
		Overruns:  tracker.Overruns(),
		Elapsed:   time.Since(start),
	}
}
