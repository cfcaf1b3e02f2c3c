// Package shutdown provides the cancellation token threaded through every
// long-running loop in the node and keeper binaries (listeners,
// connect-retry backoff, periodic ticks), plus the SIGINT/SIGTERM handler
// that cancels it. Grounded on the original node's
// blacklight-node/src/shutdown.rs and the teacher's signal.Notify-based
// shutdown sequence in main.go.
package shutdown

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Token wraps a context.Context used purely for cancellation propagation:
// every select loop in the supervisor and keeper watches Done() alongside
// its own timers and channels.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken creates an un-cancelled Token.
func NewToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the underlying context.Context, for passing to anything
// that accepts one (chain RPC calls, HTTP requests, time.Sleep equivalents).
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done returns the channel that closes when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancelled reports whether the token has already been cancelled.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Cancel cancels the token, waking every loop waiting on Done().
func (t *Token) Cancel() {
	t.cancel()
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives, then cancels token
// and returns. Intended to run in its own goroutine from main().
func WaitForSignal(token *Token, logger *log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal received (%s)", sig)
		token.Cancel()
	case <-token.Done():
	}
}
