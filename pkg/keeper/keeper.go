package keeper

import (
	"context"
	"log"

	"github.com/certen/independant-validator/pkg/shutdown"
)

// Run starts the L1 emissions loop and the L2 round-lifecycle loop
// concurrently and waits for both to finish. Either loop exits only on
// shutdown (token cancelled) or an unrecoverable dial failure during
// shutdown; a transient connection or subscription error is handled
// internally by that loop's own reconnect backoff. Grounded on the
// original source's keeper/src/main.rs, which spawns run_l1_supervisor
// and run_l2_supervisor as independent tasks sharing one shutdown signal.
func Run(ctx context.Context, l2cfg Config, l1cfg EmissionsConfig, token *shutdown.Token, logger *log.Logger) error {
	state := NewState()

	errs := make(chan error, 2)
	go func() { errs <- RunL2(ctx, l2cfg, state, token) }()
	go func() { errs <- RunL1(ctx, l1cfg, token) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			logger.Printf("keeper: ERROR: supervisor loop exited with error: %v", err)
		}
	}
	return firstErr
}
