// Package ingest drives catalog extraction jobs.
//
// The client side is a Coordinator that sequences upload, trigger, and
// poll against a Collaborator, exposing one authoritative state machine.
// The server side is a Store over a shared directory that the extraction
// worker reads from and writes manifests into.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/poller"
	"github.com/backroomhq/backroom/internal/storage"
)

// ErrAlreadyInProgress is returned by Submit while a job is active.
var ErrAlreadyInProgress = errors.New("ingest: extraction already in progress")

// ErrCancelled is returned by Submit when Cancel ended the run before
// polling started.
var ErrCancelled = errors.New("ingest: extraction cancelled")

// DefaultPollInterval is how often the coordinator polls job status.
const DefaultPollInterval = 2 * time.Second

// State is the coordinator's lifecycle position. PREVIEW_READY and FAILED
// are terminal; a new Submit resets them to a fresh run.
type State string

const (
	StateIdle         State = "IDLE"
	StateUploading    State = "UPLOADING"
	StateTriggering   State = "TRIGGERING"
	StatePolling      State = "POLLING"
	StatePreviewReady State = "PREVIEW_READY"
	StateFailed       State = "FAILED"
)

// Job is the client-side view of one extraction run. It is created on
// Submit and mutated only by poll responses.
type Job struct {
	SourceFilename string
	SupplierID     *int64
	CurrentPage    int
	TotalPages     int
	Message        string
}

// Preview is the terminal payload of a successful job.
type Preview struct {
	Products    []storage.Product `json:"products"`
	MissingSKUs []string          `json:"missing_skus"`
	Mode        string            `json:"mode,omitempty"`
}

// PollResult is one poll response, normalized from the wire.
// NotRegistered means the server has no status for the file yet, which is
// not an error: the coordinator keeps polling.
type PollResult struct {
	NotRegistered bool
	Status        string
	CurrentPage   int
	TotalPages    int
	Message       string
	Preview       *Preview
}

// Collaborator is the server surface the coordinator drives. Upload and
// trigger failures are terminal for the current operation; only polling
// retries, and only by virtue of its next tick.
type Collaborator interface {
	Upload(ctx context.Context, filename string, r io.Reader, supplierID *int64) error
	Trigger(ctx context.Context, filename string, supplierID *int64) error
	Poll(ctx context.Context, filename string) (*PollResult, error)
}

// Coordinator runs at most one extraction job at a time.
type Coordinator struct {
	logger   *observability.Logger
	collab   Collaborator
	poller   *poller.Poller
	interval time.Duration

	mu       sync.Mutex
	state    State
	job      Job
	preview  *Preview
	failure  error
	onUpdate func(State, Job)

	// gen identifies the live run. Cancel bumps it, so a Submit goroutine
	// still working through upload or trigger finds its run dead and makes
	// no further transitions. runCancel aborts that run's outstanding calls.
	gen       uint64
	runCancel context.CancelFunc
}

// NewCoordinator creates an idle coordinator. A non-positive interval
// falls back to DefaultPollInterval.
func NewCoordinator(logger *observability.Logger, collab Collaborator, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		logger:   logger.WithComponent("ingest"),
		collab:   collab,
		poller:   poller.New(),
		interval: interval,
		state:    StateIdle,
	}
}

// OnUpdate registers a callback invoked after every state or progress
// change. Set it before Submit; it runs on the coordinator's goroutines,
// always after the change is published, in change order.
func (c *Coordinator) OnUpdate(fn func(State, Job)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Submit starts a new extraction run: upload, trigger, then poll until the
// server reports a preview or a failure. It returns once polling has
// started (or with the upload/trigger error); the terminal result is
// observed via State, Preview, and Err.
func (c *Coordinator) Submit(ctx context.Context, filename string, r io.Reader, supplierID *int64) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StatePreviewReady, StateFailed:
	default:
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.job = Job{SourceFilename: filename, SupplierID: supplierID}
	c.preview = nil
	c.failure = nil
	notify := c.transitionLocked(StateUploading)
	c.mu.Unlock()
	notify()

	if err := c.collab.Upload(runCtx, filename, r, supplierID); err != nil {
		return c.failRun(gen, fmt.Errorf("upload %s: %w", filename, err))
	}
	if !c.advance(gen, StateTriggering) {
		return ErrCancelled
	}

	if err := c.collab.Trigger(runCtx, filename, supplierID); err != nil {
		return c.failRun(gen, fmt.Errorf("trigger extraction for %s: %w", filename, err))
	}
	if !c.advance(gen, StatePolling) {
		return ErrCancelled
	}
	c.logger.Info().Str("file", filename).Dur("interval", c.interval).Msg("Extraction triggered, polling for status")

	// runCtx carries the cancellation into the poll loop: a Cancel that
	// races this Start leaves the loop dead on arrival.
	if err := c.poller.Start(runCtx, c.interval, func(ctx context.Context) poller.Outcome {
		return c.pollOnce(ctx, gen)
	}); err != nil {
		return c.failRun(gen, fmt.Errorf("start status poller: %w", err))
	}
	return nil
}

func (c *Coordinator) pollOnce(ctx context.Context, gen uint64) poller.Outcome {
	c.mu.Lock()
	filename := c.job.SourceFilename
	c.mu.Unlock()

	res, err := c.collab.Poll(ctx, filename)
	if err != nil {
		err = fmt.Errorf("poll status for %s: %w", filename, err)
		c.failRun(gen, err)
		return poller.Failed(err)
	}

	switch {
	case res.NotRegistered:
		// The server has not seen the job yet, or lost it. The two are
		// indistinguishable on the wire, so both mean keep polling.
		return poller.Pending()

	case res.Status == "processing":
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return poller.Failed(ErrCancelled)
		}
		c.job.CurrentPage = res.CurrentPage
		c.job.TotalPages = res.TotalPages
		c.job.Message = res.Message
		job := c.job
		fn := c.onUpdate
		c.mu.Unlock()
		if fn != nil {
			fn(StatePolling, job)
		}
		return poller.Progress(job)

	case res.Status == "preview" && res.Preview != nil:
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return poller.Failed(ErrCancelled)
		}
		c.preview = res.Preview
		c.releaseRunLocked()
		notify := c.transitionLocked(StatePreviewReady)
		c.mu.Unlock()
		notify()
		c.logger.Info().
			Str("file", filename).
			Int("products", len(res.Preview.Products)).
			Int("missing_skus", len(res.Preview.MissingSKUs)).
			Msg("Preview ready")
		return poller.Done(res.Preview)

	default:
		err := fmt.Errorf("unexpected job status %q for %s", res.Status, filename)
		c.failRun(gen, err)
		return poller.Failed(err)
	}
}

// Cancel ends the current run unconditionally: outstanding upload, trigger,
// and poll calls are aborted, and the run's goroutines find it dead before
// their next transition. After Cancel returns, no further state changes
// occur until the next Submit.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.releaseRunLocked()
	c.gen++
	var notify func()
	if c.state == StatePolling || c.state == StateUploading || c.state == StateTriggering {
		c.job = Job{}
		notify = c.transitionLocked(StateIdle)
	}
	c.mu.Unlock()

	c.poller.Cancel()
	if notify != nil {
		notify()
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Job returns a snapshot of the active job.
func (c *Coordinator) Job() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// Preview returns the terminal preview, or nil before PREVIEW_READY.
func (c *Coordinator) Preview() *Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Err returns the terminal failure, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// advance moves the run to s if it is still the live run. A false return
// means Cancel won the race and the caller must stop.
func (c *Coordinator) advance(gen uint64, s State) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	notify := c.transitionLocked(s)
	c.mu.Unlock()
	notify()
	return true
}

// failRun marks the run failed unless Cancel already ended it. The error is
// returned either way so callers can propagate it.
func (c *Coordinator) failRun(gen uint64, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return err
	}
	c.failure = err
	c.releaseRunLocked()
	notify := c.transitionLocked(StateFailed)
	c.mu.Unlock()
	notify()
	c.logger.Error().Err(err).Msg("Extraction run failed")
	return err
}

// releaseRunLocked cancels and clears the run context. Requires c.mu held.
func (c *Coordinator) releaseRunLocked() {
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
}

// transitionLocked records the new state and returns the update
// notification to run once c.mu is released. Delivering on the calling
// goroutine, after the unlock, keeps notifications in change order.
func (c *Coordinator) transitionLocked(s State) func() {
	c.state = s
	fn := c.onUpdate
	job := c.job
	if fn == nil {
		return func() {}
	}
	return func() { fn(s, job) }
}
