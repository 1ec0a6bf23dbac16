// Package lifespan implements the process-lifecycle exchange of spec §4.7:
// a single long-lived scope invocation that receives lifespan.startup
// before the acceptor starts accepting connections, then later receives
// lifespan.shutdown once the acceptor has finished draining.
package lifespan

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagi-server/pagi/pkg/pagi"
)

// ErrUnsupportedScope is the sentinel applications raise from within the
// lifespan scope to mean "I don't implement lifespan" — a distinct error
// kind per spec §9, never detected by matching message text. The core
// reacts by continuing without lifespan support rather than treating it
// as a startup failure.
var ErrUnsupportedScope = errors.New("lifespan: application does not support the lifespan scope type")

// StartupFailed reports that the application explicitly failed startup via
// lifespan.startup.failed, carrying the message it supplied.
type StartupFailed struct{ Message string }

func (e *StartupFailed) Error() string { return fmt.Sprintf("lifespan: startup failed: %s", e.Message) }

// ShutdownFailed mirrors StartupFailed for lifespan.shutdown.failed.
type ShutdownFailed struct{ Message string }

func (e *ShutdownFailed) Error() string {
	return fmt.Sprintf("lifespan: shutdown failed: %s", e.Message)
}

// Runner drives one application's lifespan scope for the lifetime of the
// process: a single App invocation spanning both the startup and the
// (much later) shutdown event.
type Runner struct {
	shutdownRequested chan struct{}
	startupResult     chan error
	shutdownResult    chan error
	appReturned       chan error
	startupSent       bool
	shutdownSent      bool
}

// Start invokes app against a lifespan scope and immediately delivers
// lifespan.startup. It returns once the application has responded to
// startup (or the application itself returned/panic-equivalent-errored
// first) — it does not wait for shutdown.
//
// supported is false, err is nil when the application raised
// ErrUnsupportedScope: per spec §4.7 the core must then continue without
// lifespan support and must not attempt a shutdown exchange later.
func Start(ctx context.Context, app pagi.App, version string, state pagi.State) (r *Runner, supported bool, err error) {
	r = &Runner{
		shutdownRequested: make(chan struct{}),
		startupResult:     make(chan error, 1),
		shutdownResult:    make(chan error, 1),
		appReturned:       make(chan error, 1),
	}

	scope := &pagi.Scope{
		Type:  pagi.ScopeLifespan,
		PAGI:  pagi.PAGIMeta{Version: version, Loop: ctx},
		State: state,
	}

	go func() {
		r.appReturned <- app(ctx, scope, r.receive, r.send)
	}()

	select {
	case sendErr := <-r.startupResult:
		if sendErr != nil {
			return r, false, sendErr
		}
		return r, true, nil
	case e := <-r.appReturned:
		if errors.Is(e, ErrUnsupportedScope) {
			return r, false, nil
		}
		if e != nil {
			return r, false, e
		}
		return r, false, errors.New("lifespan: application returned before completing startup")
	case <-ctx.Done():
		return r, false, ctx.Err()
	}
}

// Shutdown unblocks the still-running App call with lifespan.shutdown and
// waits for its response. Only called when Start reported supported ==
// true.
func (r *Runner) Shutdown(ctx context.Context) error {
	close(r.shutdownRequested)
	select {
	case err := <-r.shutdownResult:
		return err
	case e := <-r.appReturned:
		if e != nil {
			return e
		}
		return errors.New("lifespan: application returned before completing shutdown")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) receive(ctx context.Context) (pagi.Event, error) {
	if !r.startupSent {
		r.startupSent = true
		return pagi.Event{Type: pagi.EventLifespanStartup}, nil
	}
	if !r.shutdownSent {
		select {
		case <-r.shutdownRequested:
			r.shutdownSent = true
			return pagi.Event{Type: pagi.EventLifespanShutdown}, nil
		case <-ctx.Done():
			return pagi.Event{}, ctx.Err()
		}
	}
	<-ctx.Done()
	return pagi.Event{}, ctx.Err()
}

func (r *Runner) send(ctx context.Context, evt pagi.Event) error {
	switch evt.Type {
	case pagi.EventLifespanStartupOK:
		r.startupResult <- nil
	case pagi.EventLifespanStartupFail:
		r.startupResult <- &StartupFailed{Message: evt.Message}
	case pagi.EventLifespanShutdownOK:
		r.shutdownResult <- nil
	case pagi.EventLifespanShutdownFail:
		r.shutdownResult <- &ShutdownFailed{Message: evt.Message}
	default:
		return fmt.Errorf("lifespan: unexpected event %s on lifespan scope", evt.Type)
	}
	return nil
}
