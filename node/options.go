package node

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Options holds the node startup arguments the harness needs to understand.
// Everything else is forwarded to the node untouched.
type Options struct {
	NoIPC            bool   `long:"no-ipc"            description:"Disable the IPC endpoint"`
	JSONRPCAPIs      string `long:"jsonrpc-apis"      description:"APIs exposed over JSON-RPC"       default:"web3,eth,pubsub,net,parity,parity_pubsub,traces"`
	Chain            string `long:"chain"             description:"Chain specification"              default:"foundation"`
	JSONRPCInterface string `long:"jsonrpc-interface" description:"HTTP JSON-RPC interface"          default:"127.0.0.1"`
	JSONRPCPort      uint16 `long:"jsonrpc-port"      description:"HTTP JSON-RPC port"               default:"8545"`
	WSInterface      string `long:"ws-interface"      description:"WebSockets JSON-RPC interface"    default:"127.0.0.1"`
	WSPort           uint16 `long:"ws-port"           description:"WebSockets JSON-RPC port"         default:"8546"`
	Logging          string `long:"logging"           description:"Node log directive"               short:"l"`

	// Unrecognized holds arguments the parser does not know about.
	Unrecognized []string `no-flag:"true"`

	args []string
}

// ParseArgs parses node startup arguments. A nil or empty list is valid and
// yields the defaults.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.IgnoreUnknown|flags.PassDoubleDash)
	rest, err := parser.ParseArgs(append([]string(nil), args...))
	if err != nil {
		return nil, fmt.Errorf("parsing node arguments %q: %w", strings.Join(args, " "), err)
	}
	opts.Unrecognized = rest
	opts.args = append([]string(nil), args...)
	return opts, nil
}

// Args returns the arguments the node should be started with. A non-empty
// directive is appended unless the arguments already carry one.
func (o *Options) Args(directive string) []string {
	args := make([]string, 0, len(o.args)+1)
	args = append(args, o.args...)
	if directive != "" && o.Logging == "" {
		args = append(args, "--logging="+directive)
	}
	return args
}

// RPCAddr is the host:port of the HTTP JSON-RPC endpoint.
func (o *Options) RPCAddr() string {
	return net.JoinHostPort(o.JSONRPCInterface, strconv.Itoa(int(o.JSONRPCPort)))
}

// RPCURL is the URL of the HTTP JSON-RPC endpoint.
func (o *Options) RPCURL() string {
	return "http://" + o.RPCAddr()
}

// WSURL is the URL of the WebSockets JSON-RPC endpoint.
func (o *Options) WSURL() string {
	return "ws://" + net.JoinHostPort(o.WSInterface, strconv.Itoa(int(o.WSPort)))
}
