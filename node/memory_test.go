package node_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openethereum/rpcharness/node"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) callback(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(payload))
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestInMemorySubmit(t *testing.T) {
	t.Run("answers with result envelope", func(t *testing.T) {
		m := node.NewInMemory()
		var rec recorder
		require.NoError(t, m.SubmitRequest(context.Background(), []byte(`{"method":"x","id":7}`), time.Second, rec.callback))
		require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, time.Millisecond)
		require.Equal(t, `{"jsonrpc":"2.0","result":"0x0","id":7}`, rec.messages()[0])
		require.NoError(t, m.Destroy())
	})
	t.Run("failed submit", func(t *testing.T) {
		m := node.NewInMemory(node.WithFailedSubmit(2))
		require.NoError(t, m.SubmitRequest(context.Background(), []byte("{}"), time.Second, func([]byte) {}))
		require.Error(t, m.SubmitRequest(context.Background(), []byte("{}"), time.Second, func([]byte) {}))
		require.Equal(t, 2, m.Submits())
		require.NoError(t, m.Destroy())
	})
	t.Run("delay beyond timeout drops response", func(t *testing.T) {
		m := node.NewInMemory(node.WithDelay(50 * time.Millisecond))
		var rec recorder
		require.NoError(t, m.SubmitRequest(context.Background(), []byte("{}"), 10*time.Millisecond, rec.callback))
		time.Sleep(100 * time.Millisecond)
		require.Empty(t, rec.messages())
		require.NoError(t, m.Destroy())
	})
	t.Run("empty payload", func(t *testing.T) {
		m := node.NewInMemory()
		require.ErrorIs(t, m.SubmitRequest(context.Background(), nil, time.Second, func([]byte) {}), node.ErrEmptyPayload)
	})
	t.Run("destroyed", func(t *testing.T) {
		m := node.NewInMemory()
		require.NoError(t, m.Destroy())
		require.NoError(t, m.Destroy())
		require.True(t, m.Destroyed())
		require.ErrorIs(t, m.SubmitRequest(context.Background(), []byte("{}"), time.Second, func([]byte) {}), node.ErrHandleDestroyed)
	})
}

func TestInMemorySubscription(t *testing.T) {
	t.Run("acknowledgement then update", func(t *testing.T) {
		m := node.NewInMemory()
		var rec recorder
		s, err := m.OpenSubscription(context.Background(), []byte(`{"method":"eth_subscribe","id":1}`), rec.callback)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, time.Second, time.Millisecond)
		msgs := rec.messages()
		require.Equal(t, `{"jsonrpc":"2.0","result":"0x0000000000000001","id":1}`, msgs[0])
		require.Contains(t, msgs[1], `"method":"eth_subscription"`)

		require.NoError(t, s.Close())
		require.ErrorIs(t, s.Close(), node.ErrSessionClosed)
		require.Equal(t, []string{s.ID()}, m.Closed())
		require.NoError(t, m.Destroy())
	})
	t.Run("withheld acknowledgement", func(t *testing.T) {
		m := node.NewInMemory(node.WithWithheldAck(1))
		var rec recorder
		_, err := m.OpenSubscription(context.Background(), []byte(`{}`), rec.callback)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, time.Millisecond)
		require.Contains(t, rec.messages()[0], `"method":"eth_subscription"`)
		require.NoError(t, m.Destroy())
	})
	t.Run("failed open", func(t *testing.T) {
		m := node.NewInMemory(node.WithFailedOpen(1))
		s, err := m.OpenSubscription(context.Background(), []byte(`{}`), func([]byte) {})
		require.Error(t, err)
		require.Nil(t, s)
		require.Empty(t, m.Opened())
	})
	t.Run("destroy closes open sessions", func(t *testing.T) {
		m := node.NewInMemory(node.WithDelay(time.Hour))
		s, err := m.OpenSubscription(context.Background(), []byte(`{}`), func([]byte) {})
		require.NoError(t, err)
		require.NoError(t, m.Destroy())
		require.Equal(t, []string{s.ID()}, m.Closed())
		require.ErrorIs(t, s.Close(), node.ErrSessionClosed)
	})
}
