package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxResponseSize   = 16 << 20
	closeWriteTimeout = time.Second
)

// SubmitRequest POSTs payload to the JSON-RPC endpoint in the background and
// hands the response body to cb. Transport failures and timeouts are logged
// and produce no callback. A non-positive timeout means DefaultRequestTimeout.
func (n *Node) SubmitRequest(ctx context.Context, payload []byte, timeout time.Duration, cb Callback) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	req, err := http.NewRequest(http.MethodPost, n.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrHandleDestroyed
	}
	n.inflight.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.inflight.Done()
		reqCtx, cancel := context.WithTimeout(n.ctx, timeout)
		defer cancel()

		resp, err := n.http.Do(req.WithContext(reqCtx))
		if err != nil {
			n.rpcLogger.Warn("request failed", zap.ByteString("payload", payload), zap.Error(err))
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			n.rpcLogger.Warn("reading response", zap.ByteString("payload", payload), zap.Error(err))
			return
		}
		body = bytes.TrimSpace(body)
		n.rpcLogger.Debug("response", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		cb(body)
	}()
	return nil
}

// OpenSubscription dials a dedicated WebSocket connection, sends payload on
// it and delivers every subsequent message to cb.
func (n *Node) OpenSubscription(ctx context.Context, payload []byte, cb Callback) (Session, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	n.mu.Lock()
	destroyed := n.destroyed
	n.mu.Unlock()
	if destroyed {
		return nil, ErrHandleDestroyed
	}

	conn, resp, err := n.dialer.DialContext(ctx, n.wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", n.wsURL, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending subscription: %w", err)
	}

	s := &wsSession{
		id:     uuid.NewString(),
		conn:   conn,
		logger: n.pubsubLogger,
		done:   make(chan struct{}),
		forget: n.forget,
	}
	s.logger = s.logger.With(zap.String("session", s.id))

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		_ = conn.Close()
		return nil, ErrHandleDestroyed
	}
	n.sessions[s.id] = s
	n.mu.Unlock()

	s.logger.Debug("subscription opened", zap.ByteString("payload", payload))
	go s.readLoop(cb)
	return s, nil
}

func (n *Node) forget(id string) {
	n.mu.Lock()
	delete(n.sessions, id)
	n.mu.Unlock()
}

type wsSession struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
	forget func(id string)

	// done is closed once the read loop returns.
	done chan struct{}

	closeMu sync.Mutex
	closed  bool
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) readLoop(cb Callback) {
	defer close(s.done)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.logger.Warn("subscription read failed", zap.Error(err))
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.logger.Debug("message", zap.ByteString("data", data))
		cb(data)
	}
}

func (s *wsSession) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// Close ends the session and waits for its read loop. Closing an already
// closed session returns ErrSessionClosed.
func (s *wsSession) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true
	s.closeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	err := s.conn.Close()
	<-s.done
	s.forget(s.id)
	s.logger.Debug("subscription closed")

	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return fmt.Errorf("sending close frame: %w", werr)
	}
	return err
}
