package service

import (
	"context"
	"log/slog"
	"time"
)

// SupervisorFunc builds the Supervisor for a new server path.
type SupervisorFunc func(path string) (*Supervisor, error)

// Router serializes intents against a Supervisor. It is the only owner of the
// Supervisor once Do is running.
type Router struct {
	sup           *Supervisor
	newSupervisor SupervisorFunc
	logger        *slog.Logger
	drainTimeout  time.Duration
}

// NewRouter returns a Router driving sup. newSupervisor is called for every
// UpdatePath intent.
func NewRouter(logger *slog.Logger, sup *Supervisor, newSupervisor SupervisorFunc) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sup:           sup,
		newSupervisor: newSupervisor,
		logger:        logger,
		drainTimeout:  DefaultGracePeriod,
	}
}

// Supervisor returns the current supervisor. It must not be used while Do is
// running.
func (r *Router) Supervisor() *Supervisor {
	return r.sup
}

// Do runs the router loop. It handles one intent at a time, in the order they
// were sent, and returns nil after an Exit intent, when intents is closed or
// when ctx is cancelled. In all three cases the server is stopped first.
// Failures of individual intents are logged and never end the loop.
func (r *Router) Do(ctx context.Context, intents <-chan Intent) error {
	r.logger.DebugContext(ctx, "starting a router")
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "shutting down", "reason", context.Cause(ctx))
			r.exit(context.WithoutCancel(ctx))
			return nil
		case intent, ok := <-intents:
			if !ok {
				r.logger.DebugContext(ctx, "input closed")
				r.exit(ctx)
				return nil
			}
			if r.handle(ctx, intent) {
				return nil
			}
		}
	}
}

// handle executes one intent and reports whether the loop should end.
func (r *Router) handle(ctx context.Context, intent Intent) bool {
	r.logger.DebugContext(ctx, "handling intent", "intent", intent.String())
	switch intent.Kind() {
	case IntentStart:
		if err := r.start(ctx); err != nil {
			r.logger.ErrorContext(ctx, "failed to start server", "error", err)
		}
	case IntentStop:
		r.sup.Stop(ctx)
	case IntentRestart:
		r.logger.InfoContext(ctx, "restarting server")
		r.sup.Stop(ctx)
		if err := r.start(ctx); err != nil {
			r.logger.ErrorContext(ctx, "failed to restart server", "error", err)
		}
	case IntentSend:
		if err := r.sup.SendCommand(ctx, intent.Text()); err != nil {
			r.logger.ErrorContext(ctx, "failed to send command to server", "error", err)
		}
	case IntentUpdatePath:
		r.updatePath(ctx, intent.Text())
	case IntentExit:
		r.exit(ctx)
		return true
	default:
		r.logger.WarnContext(ctx, "intent not supported: ignoring", "intent", intent.String())
	}
	return false
}

func (r *Router) start(ctx context.Context) error {
	if err := r.sup.Start(ctx); err != nil {
		return err
	}
	r.sup.PipeOutput(ctx)
	return nil
}

func (r *Router) updatePath(ctx context.Context, path string) {
	r.sup.Stop(ctx)
	next, err := r.newSupervisor(path)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to start server with new path", "path", path, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "server path changed", "old", r.sup.Path(), "new", next.Path())
	r.sup = next
	if err := r.start(ctx); err != nil {
		r.logger.ErrorContext(ctx, "failed to start server", "error", err)
	}
}

func (r *Router) exit(ctx context.Context) {
	r.sup.Stop(ctx)
	drainCtx, cancel := context.WithTimeout(ctx, r.drainTimeout)
	defer cancel()
	r.sup.Wait(drainCtx)
}
