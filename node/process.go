package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readinessPollInterval = 100 * time.Millisecond

// process houses the state required to launch and manage a node process.
type process struct {
	exe    string
	args   []string
	logger *zap.Logger
	cmd    *exec.Cmd

	// processExit is closed once the process has exited and its output
	// has been drained.
	processExit chan struct{}
	exitErr     error

	stopOnce sync.Once
	stopErr  error
}

// startProcess launches exe with args and pipes its output into logger.
func startProcess(exe string, args []string, logger *zap.Logger) (*process, error) {
	p := &process{
		exe:         exe,
		args:        args,
		logger:      logger,
		processExit: make(chan struct{}),
	}

	p.cmd = exec.Command(exe, args...)
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("node stdout: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("node stderr: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", exe, err)
	}
	logger.Info("node process started", zap.Int("pid", p.cmd.Process.Pid), zap.Strings("args", args))

	var pumps errgroup.Group
	pumps.Go(func() error { return p.pump("stdout", stdout) })
	pumps.Go(func() error { return p.pump("stderr", stderr) })

	go func() {
		// Wait must not be called before the pipes are drained.
		if err := pumps.Wait(); err != nil {
			logger.Debug("reading node output", zap.Error(err))
		}
		p.exitErr = p.cmd.Wait()
		close(p.processExit)
	}()

	return p, nil
}

func (p *process) pump(stream string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug(scanner.Text(), zap.String("stream", stream))
	}
	return scanner.Err()
}

// waitReady blocks until addr accepts TCP connections, the process exits or
// ctx is done.
func (p *process) waitReady(ctx context.Context, addr string) error {
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()
	for {
		if isListening(addr) {
			return nil
		}
		select {
		case <-p.processExit:
			return fmt.Errorf("node exited before listening on %s: %v", addr, p.exitErr)
		case <-ctx.Done():
			return fmt.Errorf("waiting for node on %s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// stop kills the process and waits for it to exit. It is safe to call more
// than once.
func (p *process) stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.processExit:
		default:
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.stopErr = fmt.Errorf("failed to kill node process: %w", err)
				return
			}
			<-p.processExit
		}
		// An exit caused by the kill above is expected.
		if p.exitErr != nil && !strings.Contains(p.exitErr.Error(), "signal: killed") {
			p.logger.Warn("node process exited with error", zap.Error(p.exitErr))
		}
		p.logger.Info("node process stopped")
	})
	return p.stopErr
}

func isListening(addr string) bool {
	conn, _ := net.DialTimeout("tcp", addr, time.Second)
	if conn != nil {
		_ = conn.Close()
		return true
	}
	return false
}
