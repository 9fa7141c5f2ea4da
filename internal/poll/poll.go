package poll

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	DefaultInterval      = 3 * time.Second
	DefaultMaxAttempts   = 40
	DefaultProgressEvery = 5
)

// Checker reports whether an upstream request has been fulfilled.
type Checker interface {
	CheckRequest(ctx context.Context, requestID string) (bool, error)
}

// ProgressFunc is called every ProgressEvery attempts. Its failures are
// logged and never stop polling.
type ProgressFunc func(attempt int) error

type Result struct {
	Confirmed bool
	Attempts  int
}

type Poller struct {
	Checker       Checker
	Interval      time.Duration
	MaxAttempts   int
	ProgressEvery int

	sleep func(ctx context.Context, d time.Duration) error
}

func New(checker Checker, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		Checker:       checker,
		Interval:      interval,
		MaxAttempts:   maxAttempts,
		ProgressEvery: DefaultProgressEvery,
		sleep:         sleepCtx,
	}
}

// Poll asks the checker up to MaxAttempts times and stops at the first
// confirmation. A checker error counts as an unconfirmed attempt. Only
// context cancellation is returned as an error.
func (p *Poller) Poll(ctx context.Context, requestID string, progress ProgressFunc) (Result, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		confirmed, err := p.Checker.CheckRequest(ctx, requestID)
		if err != nil {
			log.Printf("poll: [%d/%d] check %s failed: %v", attempt, p.MaxAttempts, requestID, err)
		} else if confirmed {
			log.Printf("poll: [%d/%d] %s confirmed", attempt, p.MaxAttempts, requestID)
			return Result{Confirmed: true, Attempts: attempt}, nil
		}

		if progress != nil && p.ProgressEvery > 0 && attempt%p.ProgressEvery == 0 {
			p.notify(progress, attempt)
		}

		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return Result{Attempts: attempt}, err
		}
	}

	log.Printf("poll: %s not confirmed after %d attempts", requestID, p.MaxAttempts)
	return Result{Attempts: p.MaxAttempts}, nil
}

func (p *Poller) notify(progress ProgressFunc, attempt int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("poll: progress callback panicked: %v", r)
		}
	}()
	if err := progress(attempt); err != nil {
		log.Printf("poll: progress callback failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
