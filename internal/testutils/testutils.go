// Package testutils holds small helpers shared by this module's package
// tests: polling for an asynchronous condition, and gating tests that
// need a real Postgres/Redis/NATS instance behind an environment
// variable rather than running them by default.
package testutils

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jrsynow/dune/internal/task"
)

// WaitForCondition polls condition every 10ms until it returns true or
// timeout elapses.
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForState polls t until it reports want as its EntityState or
// timeout elapses, for tests that exercise a task.Task through a real
// Run goroutine rather than calling its handlers directly.
func WaitForState(t *task.Task, want task.EntityState, timeout time.Duration) error {
	return WaitForCondition(func() bool { return t.State() == want }, timeout)
}

// IntegrationTestsEnabled reports whether tests requiring a live
// Postgres, Redis, or NATS instance should run. Controlled by
// VANGUARD_INTEGRATION_TESTS=1 so the default test run stays hermetic.
func IntegrationTestsEnabled() bool {
	v := os.Getenv("VANGUARD_INTEGRATION_TESTS")
	return v == "1" || v == "true"
}
