// Package scan guards the receiving scan flow: single-flight submission,
// duplicate suppression, and pausing while the operator is looking at a
// prompt. It sits between the decoded-code source and the reconciliation
// engine.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/receiving"
)

// Gate state errors. Rejected input is ignored, never queued.
var (
	// ErrBusy means a previous scan is still being resolved.
	ErrBusy = errors.New("scan: resolution in flight")
	// ErrPaused means a prompt or confirmation is on screen.
	ErrPaused = errors.New("scan: paused for operator")
	// ErrDuplicate means the code equals the most recent resolved event and
	// the caller did not force re-submission.
	ErrDuplicate = errors.New("scan: duplicate of last scan")
)

// State is the gate's single authoritative state. There are no parallel
// busy/prompt booleans; every consumer reads this one enum.
type State int

const (
	// StateReady accepts the next scan.
	StateReady State = iota
	// StateResolving has a scan in flight.
	StateResolving
	// StatePrompting is paused on a disambiguation prompt.
	StatePrompting
	// StateConfirming is paused on a success confirmation.
	StateConfirming
)

// Resolver is the reconciliation call the gate fronts.
type Resolver interface {
	Resolve(ctx context.Context, code string, hint receiving.Hint) (*receiving.Outcome, error)
}

// Options modifies one submission.
type Options struct {
	// Hint is passed through to the resolver.
	Hint receiving.Hint
	// Force bypasses duplicate suppression and the prompt pause. Manual
	// entry, a disambiguation retry, and an ad-hoc override always force.
	Force bool
}

// Gate enforces the scan flow rules in front of a Resolver.
type Gate struct {
	logger   *observability.Logger
	resolver Resolver
	history  *History

	state chan State // 1-buffered; owning the token is owning the state
}

// NewGate creates a ready gate recording into the given history.
func NewGate(logger *observability.Logger, resolver Resolver, history *History) *Gate {
	state := make(chan State, 1)
	state <- StateReady
	return &Gate{
		logger:   logger.WithComponent("scan"),
		resolver: resolver,
		history:  history,
		state:    state,
	}
}

// State reports the current gate state.
func (g *Gate) State() State {
	s := <-g.state
	g.state <- s
	return s
}

// History returns the session's scan history.
func (g *Gate) History() *History {
	return g.history
}

// Submit runs one scan through the gate. Camera submissions use zero
// Options; manual entry and disambiguation retries set Force.
func (g *Gate) Submit(ctx context.Context, code string, opts Options) (*receiving.Outcome, error) {
	s := <-g.state
	switch s {
	case StateResolving:
		g.state <- s
		return nil, ErrBusy
	case StatePrompting, StateConfirming:
		if !opts.Force {
			g.state <- s
			return nil, ErrPaused
		}
	case StateReady:
		// proceed
	}

	if !opts.Force {
		if last := g.history.Last(); last != nil && last.Code == code {
			g.state <- s
			return nil, ErrDuplicate
		}
	}

	g.state <- StateResolving

	out, err := g.resolver.Resolve(ctx, code, opts.Hint)
	if err != nil {
		// Resolution failure leaves the gate ready for the next scan.
		g.setState(StateReady)
		return nil, fmt.Errorf("resolve scan: %w", err)
	}

	switch out.Kind {
	case receiving.KindMultiplePOs:
		// Pause until the operator picks an order or dismisses.
		g.setState(StatePrompting)
	case receiving.KindResolved:
		g.record(code, out)
		// Pause on the success confirmation until explicit dismissal.
		g.setState(StateConfirming)
	default:
		// Not found: reported to the operator, nothing recorded.
		g.setState(StateReady)
	}

	return out, nil
}

// Dismiss closes the current prompt or confirmation and resumes scanning.
// Dismissing a ready gate is a no-op.
func (g *Gate) Dismiss() {
	<-g.state
	g.state <- StateReady
}

// Run consumes decoded codes from the source until ctx is cancelled or the
// source closes. Rejected codes (busy, paused, duplicate) are dropped, and
// outcomes are delivered to sink. Tie Run's lifetime to the scanner view.
func (g *Gate) Run(ctx context.Context, source *Source, sink func(*receiving.Outcome)) {
	for {
		select {
		case <-ctx.Done():
			return
		case code, ok := <-source.Codes():
			if !ok {
				return
			}
			out, err := g.Submit(ctx, code, Options{})
			if err != nil {
				if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrPaused) && !errors.Is(err, ErrDuplicate) {
					g.logger.Warn().Err(err).Str("code", code).Msg("Scan failed")
				}
				continue
			}
			if sink != nil {
				sink(out)
			}
		}
	}
}

func (g *Gate) setState(s State) {
	<-g.state
	g.state <- s
}

func (g *Gate) record(code string, out *receiving.Outcome) {
	event := Event{
		Code:      code,
		Timestamp: time.Now(),
		Outcome:   string(out.Kind),
	}
	if out.Product != nil {
		event.ResolvedSKU = out.Product.SKU
		event.Title = out.Product.Title
		event.ImagePath = out.Product.ImagePath
	}
	if out.Receipt != nil {
		event.ResolvedPOID = &out.Receipt.POID
		event.QtyReceived = out.Receipt.QtyReceived
		event.QtyOrdered = out.Receipt.QtyOrdered
	}
	g.history.Add(event)
}
