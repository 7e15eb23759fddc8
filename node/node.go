package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openethereum/rpcharness/logging"
)

// Mode selects how the harness reaches a node.
type Mode string

const (
	// ModeProcess spawns the node executable and talks to it over its
	// JSON-RPC endpoints.
	ModeProcess Mode = "process"
	// ModeAttach talks to an already running node.
	ModeAttach Mode = "attach"
	// ModeMemory uses the in-memory node.
	ModeMemory Mode = "memory"
)

const (
	DefaultStartupTimeout   = 2 * time.Minute
	DefaultRequestTimeout   = time.Minute
	defaultHandshakeTimeout = 10 * time.Second
)

// Config describes how to create a node handle.
type Config struct {
	Mode       Mode
	Executable string
	// Args are the node startup arguments.
	Args []string
	// LogDirective is forwarded to the node; see logging.ParseDirective.
	LogDirective logging.Directive
	// LogLevel applies to log targets the directive does not name.
	LogLevel zapcore.Level
	// RPCURL and WSURL override the endpoints derived from Args.
	RPCURL string
	WSURL  string

	StartupTimeout time.Duration
}

// Create starts or attaches to a node as described by cfg. Every error it
// returns wraps ErrNodeUnavailable.
func Create(ctx context.Context, cfg Config) (Handle, error) {
	logger := logging.FromContext(ctx)

	opts, err := ParseArgs(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
	}
	args := opts.Args(cfg.LogDirective.String())

	switch cfg.Mode {
	case ModeMemory:
		logger.Info("using in-memory node", zap.Strings("args", args))
		return NewInMemory(), nil
	case ModeAttach, ModeProcess, "":
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrNodeUnavailable, cfg.Mode)
	}

	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = opts.RPCURL()
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = opts.WSURL()
	}
	rpcAddr, err := hostPort(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
	}

	if cfg.Mode == ModeAttach {
		if !isListening(rpcAddr) {
			return nil, fmt.Errorf("%w: nothing listening on %s", ErrNodeUnavailable, rpcAddr)
		}
		return newNode(rpcURL, wsURL, logger, cfg.LogDirective, cfg.LogLevel), nil
	}

	if cfg.Executable == "" {
		return nil, fmt.Errorf("%w: no node executable configured", ErrNodeUnavailable)
	}
	proc, err := startProcess(cfg.Executable, args, cfg.LogDirective.Named(logger, "node", cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
	}

	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := proc.waitReady(readyCtx, rpcAddr); err != nil {
		_ = proc.stop()
		return nil, fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
	}
	n := newNode(rpcURL, wsURL, logger, cfg.LogDirective, cfg.LogLevel)
	n.proc = proc
	return n, nil
}

func hostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https", "wss":
		return u.Host + ":443", nil
	}
	return u.Host + ":80", nil
}

// Node is a handle to a node reachable over HTTP and WebSockets JSON-RPC.
// One-shot requests are HTTP POSTs; every subscription gets its own
// WebSocket connection.
type Node struct {
	rpcURL string
	wsURL  string
	http   *http.Client
	dialer *websocket.Dialer

	rpcLogger    *zap.Logger
	pubsubLogger *zap.Logger

	proc *process

	// ctx bounds in-flight requests and is canceled on Destroy.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	destroyed bool
	sessions  map[string]*wsSession
	inflight  sync.WaitGroup
}

func newNode(rpcURL, wsURL string, logger *zap.Logger, directive logging.Directive, level zapcore.Level) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		rpcURL:       rpcURL,
		wsURL:        wsURL,
		http:         &http.Client{},
		dialer:       &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		rpcLogger:    directive.Named(logger, "rpc", level),
		pubsubLogger: directive.Named(logger, "pubsub", level),
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*wsSession),
	}
}

// Destroy cancels in-flight requests, closes every session still open and
// stops the node process if the handle started one.
func (n *Node) Destroy() error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return nil
	}
	n.destroyed = true
	sessions := make([]*wsSession, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		// A session closing concurrently is already on its way out.
		if err := s.Close(); err != nil && !errors.Is(err, ErrSessionClosed) {
			result = multierror.Append(result, fmt.Errorf("closing session %s: %w", s.id, err))
		}
	}
	n.cancel()
	n.inflight.Wait()
	n.http.CloseIdleConnections()

	if n.proc != nil {
		if err := n.proc.stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
