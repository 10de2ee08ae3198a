// Package poller provides a cancellable repeating-call primitive with a
// single in-flight guard. It exists so polling loops are cooperative
// scheduling constructs, not fire-and-forget timers.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when a poll loop is active.
var ErrAlreadyRunning = errors.New("poller: already running")

// Kind classifies a poll outcome.
type Kind int

const (
	// KindPending means the remote side has nothing yet; keep polling.
	KindPending Kind = iota
	// KindProgress carries interim progress details; keep polling.
	KindProgress
	// KindDone is terminal with a result.
	KindDone
	// KindFailed is terminal with an error.
	KindFailed
)

// Outcome is the result of one poll invocation.
type Outcome struct {
	Kind     Kind
	Progress interface{}
	Result   interface{}
	Err      error
}

// Pending reports that the remote side has nothing yet.
func Pending() Outcome { return Outcome{Kind: KindPending} }

// Progress reports interim progress details.
func Progress(details interface{}) Outcome {
	return Outcome{Kind: KindProgress, Progress: details}
}

// Done reports terminal success with a result.
func Done(result interface{}) Outcome {
	return Outcome{Kind: KindDone, Result: result}
}

// Failed reports terminal failure.
func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

// Terminal reports whether the outcome ends the poll loop.
func (o Outcome) Terminal() bool {
	return o.Kind == KindDone || o.Kind == KindFailed
}

// Func is one poll invocation. The poller never runs two invocations
// concurrently: a slow call simply delays the next tick.
type Func func(ctx context.Context) Outcome

// Poller runs a Func at a fixed interval until the Func returns a terminal
// outcome or Cancel is called.
type Poller struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates an idle poller.
func New() *Poller {
	return &Poller{}
}

// Start begins polling. fn runs on a dedicated goroutine; invocations never
// overlap. The loop stops when fn returns a terminal outcome, when ctx is
// cancelled, or when Cancel is called.
func (p *Poller) Start(ctx context.Context, interval time.Duration, fn Func) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer p.markStopped()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}

			// Re-check before invoking: a Cancel that raced the tick must win.
			if loopCtx.Err() != nil {
				return
			}

			if out := fn(loopCtx); out.Terminal() {
				return
			}
		}
	}()

	return nil
}

// Cancel stops the poll loop and waits for any in-flight invocation to
// return. After Cancel returns, fn will not be invoked again, including an
// invocation that was already scheduled. Cancel is idempotent.
func (p *Poller) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) markStopped() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}
