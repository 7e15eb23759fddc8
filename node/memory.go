package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errInjected = errors.New("injected failure")

// InMemory is a node handle that answers from its own goroutines, the way a
// real node delivers callbacks from internal worker threads. Requests are
// answered with a result envelope; subscriptions receive an acknowledgement
// followed by one stream update.
//
// Failures can be injected per call, counting from 1 in issue order.
type InMemory struct {
	delay time.Duration

	failSubmit   map[int]bool
	failOpen     map[int]bool
	dropResponse map[int]bool
	withholdAck  map[int]bool
	redeliver    map[int]bool

	mu        sync.Mutex
	submits   int
	opens     int
	nextSubID uint64
	destroyed bool
	sessions  map[string]*memSession
	opened    []string
	closed    []string

	quit       chan struct{}
	deliveries sync.WaitGroup
}

type InMemoryOption func(*InMemory)

// WithDelay delays every delivery by d.
func WithDelay(d time.Duration) InMemoryOption {
	return func(m *InMemory) {
		m.delay = d
	}
}

// WithFailedSubmit makes the n-th SubmitRequest fail synchronously.
func WithFailedSubmit(n int) InMemoryOption {
	return func(m *InMemory) {
		m.failSubmit[n] = true
	}
}

// WithFailedOpen makes the n-th OpenSubscription fail synchronously.
func WithFailedOpen(n int) InMemoryOption {
	return func(m *InMemory) {
		m.failOpen[n] = true
	}
}

// WithDroppedResponse accepts the n-th request but never answers it.
func WithDroppedResponse(n int) InMemoryOption {
	return func(m *InMemory) {
		m.dropResponse[n] = true
	}
}

// WithWithheldAck opens the n-th subscription but sends only a stream
// update on it, never the acknowledgement.
func WithWithheldAck(n int) InMemoryOption {
	return func(m *InMemory) {
		m.withholdAck[n] = true
	}
}

// WithRedelivery delivers the response to the n-th request twice.
func WithRedelivery(n int) InMemoryOption {
	return func(m *InMemory) {
		m.redeliver[n] = true
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		failSubmit:   make(map[int]bool),
		failOpen:     make(map[int]bool),
		dropResponse: make(map[int]bool),
		withholdAck:  make(map[int]bool),
		redeliver:    make(map[int]bool),
		sessions:     make(map[string]*memSession),
		quit:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemory) SubmitRequest(ctx context.Context, payload []byte, timeout time.Duration, cb Callback) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrHandleDestroyed
	}
	m.submits++
	n := m.submits
	if m.failSubmit[n] {
		return fmt.Errorf("submit %d: %w", n, errInjected)
	}
	if m.dropResponse[n] {
		return nil
	}

	resp := envelope(requestID(payload), `"0x0"`)
	times := 1
	if m.redeliver[n] {
		times = 2
	}
	for i := 0; i < times; i++ {
		m.deliver(timeout, func() { cb(resp) }, nil)
	}
	return nil
}

func (m *InMemory) OpenSubscription(ctx context.Context, payload []byte, cb Callback) (Session, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrHandleDestroyed
	}
	m.opens++
	n := m.opens
	if m.failOpen[n] {
		return nil, fmt.Errorf("open %d: %w", n, errInjected)
	}

	m.nextSubID++
	subID := fmt.Sprintf("0x%016x", m.nextSubID)
	s := &memSession{id: uuid.NewString(), owner: m, closed: make(chan struct{})}
	m.sessions[s.id] = s
	m.opened = append(m.opened, s.id)

	ack := envelope(requestID(payload), fmt.Sprintf("%q", subID))
	update := []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":%q,"result":{"number":"0x1"}}}`,
		subID,
	))
	withhold := m.withholdAck[n]
	m.deliver(0, func() {
		if !withhold {
			cb(ack)
		}
		cb(update)
	}, s.closed)
	return s, nil
}

// deliver runs fn on a new goroutine after the configured delay, unless the
// node is destroyed, the session closes or timeout elapses first. It must be
// called with m.mu held.
func (m *InMemory) deliver(timeout time.Duration, fn func(), closed <-chan struct{}) {
	m.deliveries.Add(1)
	go func() {
		defer m.deliveries.Done()
		if timeout > 0 && m.delay >= timeout {
			return
		}
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.quit:
			return
		case <-closed:
			return
		}
		fn()
	}()
}

// Destroy stops pending deliveries and closes remaining sessions.
func (m *InMemory) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	close(m.quit)
	for id, s := range m.sessions {
		close(s.closed)
		m.closed = append(m.closed, id)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	m.deliveries.Wait()
	return nil
}

// Destroyed reports whether Destroy was called.
func (m *InMemory) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Submits returns how many requests were issued, including failed ones.
func (m *InMemory) Submits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// Opens returns how many subscriptions were attempted, including failed ones.
func (m *InMemory) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Opened returns the ids of successfully opened sessions in open order.
func (m *InMemory) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

// Closed returns the ids of closed sessions in close order.
func (m *InMemory) Closed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}

type memSession struct {
	id     string
	owner  *InMemory
	closed chan struct{}
}

func (s *memSession) ID() string {
	return s.id
}

func (s *memSession) Close() error {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.id]; !ok {
		return ErrSessionClosed
	}
	close(s.closed)
	delete(m.sessions, s.id)
	m.closed = append(m.closed, s.id)
	return nil
}

func envelope(id json.RawMessage, result string) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":%s,"id":%s}`, result, id))
}

// requestID extracts the JSON-RPC id of a request, defaulting to 1.
func requestID(payload []byte) json.RawMessage {
	var req struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || len(req.ID) == 0 {
		return json.RawMessage("1")
	}
	return req.ID
}
