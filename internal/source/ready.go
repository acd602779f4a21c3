package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned when a backend did not become reachable in time.
var ErrNotReady = errors.New("backend not ready")

// ReadyConfig bounds the readiness wait.
type ReadyConfig struct {
	// Timeout caps the whole wait.
	Timeout time.Duration

	// MaxAttempts is the maximum number of probes.
	MaxAttempts int

	// BackoffBase is the delay after the first failed probe.
	BackoffBase time.Duration

	// MaxBackoff caps the delay between probes.
	MaxBackoff time.Duration
}

// DefaultReadyConfig returns the readiness defaults.
func DefaultReadyConfig() ReadyConfig {
	return ReadyConfig{
		Timeout:     15 * time.Second,
		MaxAttempts: 5,
		BackoffBase: 500 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
	}
}

// Readiness is the pending result of a readiness wait.
type Readiness struct {
	done chan struct{}
	err  error
}

// Done is closed once the wait has finished.
func (r *Readiness) Done() <-chan struct{} { return r.done }

// Err returns the result. It is only meaningful after Done is closed.
func (r *Readiness) Err() error { return r.err }

// Wait blocks until the result is known or ctx ends.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReady probes the backend in the background and returns immediately.
// The probe is retried with doubling delays until it succeeds, the attempts
// run out, the timeout passes or ctx is cancelled.
func StartReady(ctx context.Context, cfg ReadyConfig, probe func(context.Context) error) *Readiness {
	r := &Readiness{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = waitReady(ctx, cfg, probe)
	}()
	return r
}

// WaitReady is the blocking form of StartReady.
func WaitReady(ctx context.Context, cfg ReadyConfig, probe func(context.Context) error) error {
	return StartReady(ctx, cfg, probe).Wait(ctx)
}

func waitReady(ctx context.Context, cfg ReadyConfig, probe func(context.Context) error) error {
	def := DefaultReadyConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.MaxBackoff < cfg.BackoffBase {
		cfg.MaxBackoff = cfg.BackoffBase
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	delay := cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = probe(ctx); lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v (last error: %v)", ErrNotReady, ctx.Err(), lastErr)
		case <-timer.C:
		}
		delay *= 2
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrNotReady, cfg.MaxAttempts, lastErr)
}
