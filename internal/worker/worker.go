package worker

import (
	"context"
	"log"
	"time"
)

// Worker runs a job on a fixed interval. A failing or panicking job is
// logged and the worker keeps going.
type Worker struct {
	name     string
	interval time.Duration
	job      func(ctx context.Context) error
	stopChan chan struct{}
	ticker   *time.Ticker
}

func New(name string, interval time.Duration, job func(ctx context.Context) error) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		job:      job,
		stopChan: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	defer w.ticker.Stop()

	log.Printf("%s: running every %s", w.name, w.interval)
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) Stop() {
	if w == nil {
		return
	}
	close(w.stopChan)
}

func (w *Worker) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s: job panicked: %v", w.name, r)
		}
	}()
	if err := w.job(ctx); err != nil {
		log.Printf("%s: %v", w.name, err)
	}
}
