package worker

import (
	"sync"

	"go.uber.org/zap"
)

// BaseWorker carries the stop plumbing shared by all workers. Embedders
// select on Quit() in their run loops.
type BaseWorker struct {
	name   string
	logger *zap.Logger
	quit   chan struct{}
	once   sync.Once
}

func NewBaseWorker(name string, logger *zap.Logger) *BaseWorker {
	return &BaseWorker{
		name:   name,
		logger: logger.With(zap.String("worker", name)),
		quit:   make(chan struct{}),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

// Stop is idempotent; the first call closes the quit channel.
func (w *BaseWorker) Stop() error {
	w.once.Do(func() {
		w.logger.Info("Stopping worker")
		close(w.quit)
	})
	return nil
}

func (w *BaseWorker) IsStopped() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// Quit closes when Stop is called.
func (w *BaseWorker) Quit() <-chan struct{} {
	return w.quit
}

func (w *BaseWorker) Logger() *zap.Logger {
	return w.logger
}
