package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		opts, err := ParseArgs(nil)
		require.NoError(t, err)
		require.Equal(t, "foundation", opts.Chain)
		require.Equal(t, "http://127.0.0.1:8545", opts.RPCURL())
		require.Equal(t, "ws://127.0.0.1:8546", opts.WSURL())
		require.Empty(t, opts.Args(""))
	})
	t.Run("empty", func(t *testing.T) {
		opts, err := ParseArgs([]string{})
		require.NoError(t, err)
		require.False(t, opts.NoIPC)
		require.Empty(t, opts.Unrecognized)
	})
	t.Run("known options", func(t *testing.T) {
		opts, err := ParseArgs([]string{"--no-ipc", "--jsonrpc-apis=all", "--chain", "kovan", "--ws-port=9546"})
		require.NoError(t, err)
		require.True(t, opts.NoIPC)
		require.Equal(t, "all", opts.JSONRPCAPIs)
		require.Equal(t, "kovan", opts.Chain)
		require.Equal(t, "ws://127.0.0.1:9546", opts.WSURL())
	})
	t.Run("unknown options are forwarded", func(t *testing.T) {
		args := []string{"--chain=kovan", "--pruning=fast", "--base-path", "/tmp/node"}
		opts, err := ParseArgs(args)
		require.NoError(t, err)
		require.Contains(t, opts.Unrecognized, "--pruning=fast")
		require.Equal(t, args, opts.Args(""))
	})
	t.Run("invalid value", func(t *testing.T) {
		_, err := ParseArgs([]string{"--jsonrpc-port=not-a-port"})
		require.Error(t, err)
	})
	t.Run("input is not modified", func(t *testing.T) {
		args := []string{"--no-ipc", "--chain", "kovan"}
		_, err := ParseArgs(args)
		require.NoError(t, err)
		require.Equal(t, []string{"--no-ipc", "--chain", "kovan"}, args)
	})
}

func TestOptionsArgsDirective(t *testing.T) {
	opts, err := ParseArgs([]string{"--no-ipc"})
	require.NoError(t, err)
	require.Equal(t, []string{"--no-ipc", "--logging=rpc,pubsub=trace"}, opts.Args("rpc,pubsub=trace"))

	opts, err = ParseArgs([]string{"-l", "sync=debug"})
	require.NoError(t, err)
	require.Equal(t, "sync=debug", opts.Logging)
	require.Equal(t, []string{"-l", "sync=debug"}, opts.Args("rpc,pubsub=trace"))
}
