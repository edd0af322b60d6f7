// Package worker hosts the background jobs that run alongside the API:
// currently the cache expiry sweeper.
package worker

import (
	"context"
)

// Worker is one long-running background job.
type Worker interface {
	// Start blocks until the worker stops or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop signals the worker to finish. Safe to call more than once.
	Stop() error

	// Name identifies the worker in logs.
	Name() string
}
