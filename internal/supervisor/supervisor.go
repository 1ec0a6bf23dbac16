// Package supervisor implements spec §4.6: the acceptor's single-process
// and multi-worker (inherited-socket fork and SO_REUSEPORT) lifecycles,
// graceful drain, and child-exit-code-discriminated respawn.
package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pagi-server/pagi/internal/bridge"
	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/lifespan"
	"github.com/pagi-server/pagi/pkg/pagi"
)

// workerFDEnv/workerReuseportEnv are the re-exec sentinels a child process
// inspects at startup to know it's an inherited-socket (or SO_REUSEPORT)
// worker rather than the top-level supervisor.
const (
	workerFDEnv        = "PAGI_WORKER_FD"
	workerReusePortEnv = "PAGI_WORKER_REUSEPORT"
)

// Options configures one supervisor run.
type Options struct {
	Host            string
	Port            int
	Workers         int
	ListenerBacklog int
	ReusePort       bool
	ShutdownTimeout time.Duration

	App        pagi.App
	Version    string
	ServerName string
	Scheme     string
	Limits     conn.Limits
	TLSConfig  *tls.Config
	AccessLog  func(bridge.AccessLogEntry)
	RateLimit  interface{ Allow(net.Addr) bool }
	Logger     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// IsWorkerChild reports whether this process was re-exec'd by a parent
// supervisor as a multi-worker child, per either strategy of spec §4.6.
func IsWorkerChild() bool {
	_, hasFD := os.LookupEnv(workerFDEnv)
	_, hasReuse := os.LookupEnv(workerReusePortEnv)
	return hasFD || hasReuse
}

// Run dispatches to single-process or multi-worker mode based on
// opts.Workers, and to the worker-child path if this process was re-exec'd
// by a parent. It returns the process exit code to use.
func Run(ctx context.Context, opts Options) int {
	if IsWorkerChild() {
		return runWorkerChild(ctx, opts)
	}
	if opts.Workers <= 1 {
		return runSingleProcess(ctx, opts)
	}
	return runMultiWorkerParent(ctx, opts)
}

// runSingleProcess implements spec §4.6's "Single-process mode".
func runSingleProcess(ctx context.Context, opts Options) int {
	l, err := Listen(opts.Host, opts.Port, opts.ListenerBacklog)
	if err != nil {
		opts.logger().Error("failed to bind listener", "error", err)
		return 1
	}
	return runAcceptorLifecycle(ctx, opts, l)
}

// runWorkerChild is entered by a process re-exec'd with either
// workerFDEnv (inherited-socket strategy: the listening fd is already
// open at the given descriptor number) or workerReusePortEnv (this child
// binds its own SO_REUSEPORT socket on the same host:port).
func runWorkerChild(ctx context.Context, opts Options) int {
	var l *net.TCPListener
	var err error

	if fdStr, ok := os.LookupEnv(workerFDEnv); ok {
		fd, perr := strconv.Atoi(fdStr)
		if perr != nil {
			opts.logger().Error("malformed worker fd", "value", fdStr)
			return 1
		}
		l, err = FileListener(os.NewFile(uintptr(fd), "inherited-listener"))
	} else {
		l, err = ListenReusePort(opts.Host, opts.Port, opts.ListenerBacklog)
	}
	if err != nil {
		// A worker that can't bind its inherited socket will never bind it
		// on retry either: report a startup failure so the parent stops
		// respawning this slot instead of looping forever.
		opts.logger().Error("worker failed to obtain listener", "error", err)
		return 2
	}

	return runAcceptorLifecycle(ctx, opts, l)
}

// runAcceptorLifecycle is the body shared by single-process mode and every
// worker child: lifespan startup, accept loop, signal-triggered drain,
// lifespan shutdown.
func runAcceptorLifecycle(ctx context.Context, opts Options, l *net.TCPListener) int {
	logger := opts.logger()
	state := pagi.State{}

	runner, supported, err := lifespan.Start(ctx, opts.App, opts.Version, state)
	if err != nil {
		logger.Error("lifespan startup failed", "error", err)
		l.Close()
		return 2
	}

	handler := &bridge.Handler{
		App:        opts.App,
		Logger:     logger,
		State:      state,
		Version:    opts.Version,
		ServerName: opts.ServerName,
		AccessLog:  opts.AccessLog,
		Scheme:     opts.Scheme,
	}

	acceptor := &Acceptor{
		Listener:    l,
		Handler:     handler,
		Limits:      opts.Limits,
		TLSConfig:   opts.TLSConfig,
		RateLimiter: opts.RateLimit,
		Logger:      logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runErr := make(chan error, 1)
	go func() { runErr <- acceptor.Run(ctx) }()

	select {
	case <-sigCh:
		logger.Info("shutting down: signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("accept loop failed", "error", err)
		}
	}

	l.Close()
	acceptor.Drain(opts.ShutdownTimeout)

	if supported {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logger.Error("lifespan shutdown failed", "error", err)
		}
	}
	return 0
}

// runMultiWorkerParent implements spec §4.6's multi-worker orchestration:
// fork `workers` children (inherited-socket or SO_REUSEPORT strategy),
// respawn on unexpected exit while running, stop respawning once
// shutting_down.
func runMultiWorkerParent(ctx context.Context, opts Options) int {
	logger := opts.logger()

	var listenerFile *os.File
	if !opts.ReusePort {
		l, err := Listen(opts.Host, opts.Port, opts.ListenerBacklog)
		if err != nil {
			logger.Error("failed to bind listener", "error", err)
			return 1
		}
		f, err := ListenerFile(l)
		if err != nil {
			logger.Error("failed to extract listener fd", "error", err)
			return 1
		}
		listenerFile = f
		l.Close() // the duplicated fd keeps the socket alive for the children
	} else {
		// SO_REUSEPORT: the parent only validates the port is bindable.
		probe, err := ListenReusePort(opts.Host, opts.Port, opts.ListenerBacklog)
		if err != nil {
			logger.Error("port not bindable", "error", err)
			return 1
		}
		probe.Close()
	}

	var mu sync.Mutex
	shuttingDown := false
	children := make([]*exec.Cmd, opts.Workers)

	var spawn func(slot int) error
	spawn = func(slot int) error {
		cmd := exec.Command(os.Args[0], os.Args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if listenerFile != nil {
			cmd.ExtraFiles = []*os.File{listenerFile}
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=3", workerFDEnv))
		} else {
			cmd.Env = append(cmd.Env, workerReusePortEnv+"=1")
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		mu.Lock()
		children[slot] = cmd
		mu.Unlock()

		go func() {
			waitErr := cmd.Wait()
			code := exitCodeOf(waitErr)

			mu.Lock()
			down := shuttingDown
			mu.Unlock()

			if down {
				return
			}
			if code == 2 {
				logger.Error("worker exited with startup failure, not respawning", "slot", slot)
				return
			}
			logger.Warn("worker exited unexpectedly, respawning", "slot", slot, "code", code)
			if err := spawn(slot); err != nil {
				logger.Error("failed to respawn worker", "slot", slot, "error", err)
			}
		}()
		return nil
	}

	for i := 0; i < opts.Workers; i++ {
		if err := spawn(i); err != nil {
			logger.Error("failed to spawn worker", "slot", i, "error", err)
			return 1
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	mu.Lock()
	shuttingDown = true
	snapshot := append([]*exec.Cmd(nil), children...)
	mu.Unlock()

	if listenerFile != nil {
		listenerFile.Close()
	}

	for _, c := range snapshot {
		if c != nil && c.Process != nil {
			c.Process.Signal(syscall.SIGTERM)
		}
	}
	for _, c := range snapshot {
		if c != nil {
			c.Wait()
		}
	}
	return 0
}
