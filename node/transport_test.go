package node_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openethereum/rpcharness/node"
)

const ack = `{"jsonrpc":"2.0","result":"0xcd0c3e8af590364c","id":1}`

func newRPCServer(t *testing.T, delay time.Duration) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":` + string(body) + `,"id":1}` + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newWSServer acknowledges every subscription and then streams one update.
func newWSServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(ack))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func attach(t *testing.T, rpc, ws *httptest.Server) node.Handle {
	cfg := node.Config{Mode: node.ModeAttach, RPCURL: rpc.URL}
	if ws != nil {
		cfg.WSURL = wsURL(ws)
	}
	h, err := node.Create(context.Background(), cfg)
	require.NoError(t, err)
	return h
}

func TestNodeSubmitRequest(t *testing.T) {
	t.Run("response is delivered", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 0), nil)
		var rec recorder
		require.NoError(t, h.SubmitRequest(context.Background(), []byte(`"ping"`), time.Second, rec.callback))
		require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, time.Millisecond)
		require.Equal(t, `{"jsonrpc":"2.0","result":"ping","id":1}`, rec.messages()[0])
		require.NoError(t, h.Destroy())
	})
	t.Run("zero timeout uses the default", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 20*time.Millisecond), nil)
		var rec recorder
		require.NoError(t, h.SubmitRequest(context.Background(), []byte(`"ping"`), 0, rec.callback))
		require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, time.Millisecond)
		require.NoError(t, h.Destroy())
	})
	t.Run("timeout produces no callback", func(t *testing.T) {
		h := attach(t, newRPCServer(t, time.Second), nil)
		var rec recorder
		require.NoError(t, h.SubmitRequest(context.Background(), []byte(`1`), 20*time.Millisecond, rec.callback))
		time.Sleep(100 * time.Millisecond)
		require.Empty(t, rec.messages())
		require.NoError(t, h.Destroy())
	})
	t.Run("rejected after destroy", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 0), nil)
		require.NoError(t, h.Destroy())
		require.NoError(t, h.Destroy())
		err := h.SubmitRequest(context.Background(), []byte(`1`), time.Second, func([]byte) {})
		require.ErrorIs(t, err, node.ErrHandleDestroyed)
	})
	t.Run("empty payload", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 0), nil)
		require.ErrorIs(t, h.SubmitRequest(context.Background(), nil, time.Second, func([]byte) {}), node.ErrEmptyPayload)
		require.NoError(t, h.Destroy())
	})
}

func TestNodeOpenSubscription(t *testing.T) {
	t.Run("every message is delivered", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 0), newWSServer(t))
		var rec recorder
		s, err := h.OpenSubscription(context.Background(), []byte(`{"method":"eth_subscribe"}`), rec.callback)
		require.NoError(t, err)
		require.NotEmpty(t, s.ID())
		require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, time.Second, time.Millisecond)
		require.Equal(t, ack, rec.messages()[0])

		require.NoError(t, s.Close())
		require.ErrorIs(t, s.Close(), node.ErrSessionClosed)
		require.NoError(t, h.Destroy())
	})
	t.Run("dial failure", func(t *testing.T) {
		rpc := newRPCServer(t, 0)
		h, err := node.Create(context.Background(), node.Config{
			Mode:   node.ModeAttach,
			RPCURL: rpc.URL,
			WSURL:  "ws://127.0.0.1:1",
		})
		require.NoError(t, err)
		s, err := h.OpenSubscription(context.Background(), []byte(`{}`), func([]byte) {})
		require.Error(t, err)
		require.Nil(t, s)
		require.NoError(t, h.Destroy())
	})
	t.Run("destroy closes sessions", func(t *testing.T) {
		h := attach(t, newRPCServer(t, 0), newWSServer(t))
		s, err := h.OpenSubscription(context.Background(), []byte(`{}`), func([]byte) {})
		require.NoError(t, err)
		require.NoError(t, h.Destroy())
		require.ErrorIs(t, s.Close(), node.ErrSessionClosed)
	})
}

func TestCreate(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		h, err := node.Create(context.Background(), node.Config{Mode: node.ModeMemory})
		require.NoError(t, err)
		require.IsType(t, &node.InMemory{}, h)
		require.NoError(t, h.Destroy())
	})
	t.Run("attach to nothing", func(t *testing.T) {
		_, err := node.Create(context.Background(), node.Config{Mode: node.ModeAttach, RPCURL: "http://127.0.0.1:1"})
		require.ErrorIs(t, err, node.ErrNodeUnavailable)
	})
	t.Run("unknown mode", func(t *testing.T) {
		_, err := node.Create(context.Background(), node.Config{Mode: "embedded"})
		require.ErrorIs(t, err, node.ErrNodeUnavailable)
	})
	t.Run("invalid arguments", func(t *testing.T) {
		_, err := node.Create(context.Background(), node.Config{Mode: node.ModeMemory, Args: []string{"--ws-port=x"}})
		require.ErrorIs(t, err, node.ErrNodeUnavailable)
	})
	t.Run("missing executable", func(t *testing.T) {
		_, err := node.Create(context.Background(), node.Config{Mode: node.ModeProcess})
		require.ErrorIs(t, err, node.ErrNodeUnavailable)
	})
	t.Run("executable does not exist", func(t *testing.T) {
		_, err := node.Create(context.Background(), node.Config{
			Mode:       node.ModeProcess,
			Executable: "/nonexistent/openethereum",
		})
		require.ErrorIs(t, err, node.ErrNodeUnavailable)
	})
}
