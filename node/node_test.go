package node

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openethereum/rpcharness/logging"
)

func TestDestroyIgnoresSessionsAlreadyClosing(t *testing.T) {
	n := newNode("http://127.0.0.1:1", "ws://127.0.0.1:1", zap.NewNop(), logging.Directive{}, zapcore.InfoLevel)
	// Close marks a session closed before it is forgotten by the node.
	n.sessions["closing"] = &wsSession{id: "closing", closed: true}

	require.NoError(t, n.Destroy())
	require.NoError(t, n.Destroy())
}
