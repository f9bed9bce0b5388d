package bootstrap

import (
	"context"

	"triage_server/config"
	"triage_server/pkg/logger"
)

// Worker runs the background side of the service: the watchdog with its
// probes and cleaners. It shares the dependency container with the API.
type Worker struct {
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{deps: deps, ctx: ctx, cancel: cancel}, cleanup, nil
}

// Start runs until Stop is called.
func (w *Worker) Start() {
	if w.deps.Watchdog != nil {
		w.deps.Watchdog.Start()
	} else {
		logger.Warn("Watchdog disabled, worker has nothing to schedule")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	if w.deps.Watchdog != nil {
		w.deps.Watchdog.Stop()
	}
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
