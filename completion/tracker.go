package completion

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/openethereum/rpcharness/node"
)

const (
	outcomeQualified = "qualified"
	outcomeIgnored   = "ignored"
	outcomeOverrun   = "overrun"
)

var callbacksMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rpcharness",
	Subsystem: "completion",
	Name:      "callbacks_total",
	Help:      "Number of callbacks delivered to batch trackers",
}, []string{"kind", "outcome"})

// Tracker is the callback context of one batch. It owns the batch's
// Counter and is safe for concurrent use by callback goroutines.
type Tracker struct {
	id       uuid.UUID
	kind     Kind
	expected int64
	counter  *Counter
	logger   *zap.Logger

	ignored  atomic.Int64
	overruns atomic.Int64
}

type TrackerOption func(*Tracker)

func WithLogger(logger *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker returns a tracker expecting n qualifying callbacks.
func NewTracker(kind Kind, n int, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		id:       uuid.New(),
		kind:     kind,
		expected: int64(n),
		counter:  NewCounter(int64(n)),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.Stringer("batch_id", t.id), zap.Stringer("kind", kind))
	return t
}

// OnEvent accounts for one delivered message.
func (t *Tracker) OnEvent(payload []byte) {
	if !Qualifies(t.kind, payload) {
		t.ignored.Add(1)
		callbacksMetric.WithLabelValues(t.kind.String(), outcomeIgnored).Inc()
		t.logger.Debug("ignoring non-qualifying message", zap.ByteString("payload", payload))
		return
	}
	if !t.counter.Decrement() {
		t.overruns.Add(1)
		callbacksMetric.WithLabelValues(t.kind.String(), outcomeOverrun).Inc()
		t.logger.Warn("qualifying callback after batch completed", zap.ByteString("payload", payload))
		return
	}
	callbacksMetric.WithLabelValues(t.kind.String(), outcomeQualified).Inc()
	t.logger.Debug("callback", zap.Int64("remaining", t.counter.Remaining()))
}

// Callback returns the node callback bound to this tracker.
func (t *Tracker) Callback() node.Callback {
	return t.OnEvent
}

func (t *Tracker) ID() uuid.UUID {
	return t.id
}

func (t *Tracker) Kind() Kind {
	return t.kind
}

func (t *Tracker) Expected() int64 {
	return t.expected
}

// Remaining is the number of qualifying callbacks not yet observed.
func (t *Tracker) Remaining() int64 {
	return t.counter.Remaining()
}

// Done is closed once every expected callback was observed.
func (t *Tracker) Done() <-chan struct{} {
	return t.counter.Done()
}

// Ignored is the number of non-qualifying messages seen.
func (t *Tracker) Ignored() int64 {
	return t.ignored.Load()
}

// Overruns is the number of qualifying callbacks that arrived after the
// counter had already reached zero.
func (t *Tracker) Overruns() int64 {
	return t.overruns.Load()
}
