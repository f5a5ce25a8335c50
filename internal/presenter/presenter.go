// Package presenter turns bursty job progress into a smooth, monotonic
// progress bar with a time estimate and rotating hints.
//
// A Presenter owns one State. Every mutation happens under its lock, so
// the stepper, the hint ticker and the caller never interleave writes.
// Subscribers receive copies of the State after each change.
package presenter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dusk-indust/picturebook/internal/remote"
)

// Presenter is the progress state machine for one run at a time.
type Presenter struct {
	cfg Config

	mu      sync.Mutex
	state   State
	limiter *rate.Limiter
	subs    []chan State
	closed  bool

	// run is bumped whenever a run is torn down; goroutines of an older
	// run see the mismatch and stop.
	run        uint64
	runCtx     context.Context
	runCancel  context.CancelFunc
	stepCancel context.CancelFunc
	hintCancel context.CancelFunc

	outcomes chan Outcome
	closing  chan struct{}
	wg       sync.WaitGroup
}

// New creates an idle Presenter.
func New(cfg Config) *Presenter {
	cfg = cfg.withDefaults()
	return &Presenter{
		cfg:      cfg,
		state:    State{Phase: PhaseIdle},
		limiter:  newLimiter(cfg.SnapshotInterval),
		outcomes: make(chan Outcome, 8),
		closing:  make(chan struct{}),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Subscribe returns a stream of states. When a subscriber falls behind
// the oldest queued state is dropped, so the latest one always arrives.
// The channel is closed by Close.
func (p *Presenter) Subscribe() <-chan State {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan State, p.cfg.StreamBuffer)
	if p.closed {
		close(ch)
		return ch
	}
	ch <- p.state.clone()
	p.subs = append(p.subs, ch)
	return ch
}

// Outcomes delivers one value per run that completes or fails.
func (p *Presenter) Outcomes() <-chan Outcome {
	return p.outcomes
}

// State returns a copy of the current state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Begin tears down any active run and starts a new one from zero. The
// story share of the bar starts animating right away.
func (p *Presenter) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.teardownLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.runCtx, p.runCancel = ctx, cancel
	p.limiter = newLimiter(p.cfg.SnapshotInterval)
	p.state = State{
		Phase:          PhaseRunning,
		TargetFraction: p.cfg.StoryFraction,
		StepMessage:    p.cfg.Messages.Story,
		StartedAt:      p.cfg.Now(),
		Previews:       map[int]string{},
	}
	if len(p.cfg.Hints) > 0 {
		p.state.Hint = p.cfg.Hints[0]
	}
	p.cfg.Logger.Debug("presentation started")

	p.restartStepperLocked(ctx, p.cfg.StoryDuration)
	p.startHintsLocked(ctx)
	p.publishLocked()
}

// SetJobID records the job being presented.
func (p *Presenter) SetJobID(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Active() {
		return
	}
	p.state.JobID = id
	p.publishLocked()
}

// OnSnapshot folds one polled snapshot into the state. Non-terminal
// snapshots arriving faster than the configured interval only contribute
// their previews and a fresh estimate.
func (p *Presenter) OnSnapshot(snap remote.ProgressSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Phase != PhaseRunning {
		return
	}
	snap = snap.Normalize()
	if snap.JobID != 0 {
		p.state.JobID = snap.JobID
	}
	for page, url := range snap.Previews {
		p.state.Previews[page] = url
	}

	if !snap.Status.IsTerminal() && !p.limiter.AllowN(p.cfg.Now(), 1) {
		p.updateEstimateLocked()
		p.publishLocked()
		return
	}

	prev := p.state.TargetFraction
	next := MapTarget(p.cfg, prev, snap)
	if next > prev {
		p.state.TargetFraction = next
		p.restartStepperLocked(p.runCtx, p.cfg.CatchUpDuration)
	}
	p.state.StepMessage = stepMessage(p.cfg.Messages, p.cfg, snap)
	p.updateEstimateLocked()
	p.publishLocked()
}

// Complete drives the bar to 1.0. After the completion dwell an Outcome
// carrying jobID is delivered and the presenter goes idle. Only the first
// call of a run has any effect.
func (p *Presenter) Complete(jobID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Phase != PhaseRunning {
		return
	}
	p.state.Phase = PhaseCompleting
	if jobID != 0 {
		p.state.JobID = jobID
	}
	p.state.TargetFraction = 1
	p.state.StepMessage = p.cfg.Messages.Completed
	p.state.EstimatedRemaining = 0
	p.state.HasEstimate = true
	p.cfg.Logger.WithField("job_id", p.state.JobID).Debug("presentation completing")

	ctx := p.runCtx
	if p.state.DisplayedFraction >= 1 {
		p.stopStepperLocked()
		p.dwellLocked(ctx)
	} else {
		p.restartStepperLocked(ctx, p.cfg.CompletionDuration)
	}
	p.publishLocked()
}

// Fail stops the bar in place and reports a failed job.
func (p *Presenter) Fail(message string) {
	p.FailWith(remote.JobFailed(message))
}

// FailWith stops the bar in place, shows the user message for err and
// delivers a failed Outcome. It has no effect unless a run is animating.
func (p *Presenter) FailWith(err error) {
	p.mu.Lock()
	if !p.state.Active() || p.closed {
		p.mu.Unlock()
		return
	}
	msg := remote.UserMessage(err)
	p.teardownLocked()
	p.state.Phase = PhaseFailed
	p.state.ErrorMessage = msg
	p.state.StepMessage = msg
	p.state.HasEstimate = false
	p.state.EstimatedRemaining = 0
	p.publishLocked()

	out := Outcome{JobID: p.state.JobID, Err: err, Message: msg}
	p.state.Phase = PhaseIdle
	p.publishLocked()
	p.mu.Unlock()

	p.cfg.Logger.WithError(err).Debug("presentation failed")
	p.deliver(out)
}

// Cancel stops the stepper, then the hint timer, and leaves the presenter
// idle. It is safe to call any number of times.
func (p *Presenter) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	if p.state.Phase == PhaseIdle {
		return
	}
	p.state.Phase = PhaseIdle
	p.state.HasEstimate = false
	p.publishLocked()
}

// Close cancels any run, waits for every presenter goroutine to exit and
// closes subscriber streams.
func (p *Presenter) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.teardownLocked()
	if p.state.Phase != PhaseIdle {
		p.state.Phase = PhaseIdle
		p.publishLocked()
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
	p.mu.Unlock()
}

// teardownLocked cancels the stepper, then the hint timer, then anything
// else scoped to the run.
func (p *Presenter) teardownLocked() {
	p.run++
	p.stopStepperLocked()
	if p.hintCancel != nil {
		p.hintCancel()
		p.hintCancel = nil
	}
	if p.runCancel != nil {
		p.runCancel()
		p.runCancel = nil
	}
}

func (p *Presenter) stopStepperLocked() {
	if p.stepCancel != nil {
		p.stepCancel()
		p.stepCancel = nil
	}
}

// restartStepperLocked replaces any in-flight stepper with one that moves
// the displayed fraction to the current target over roughly hint.
func (p *Presenter) restartStepperLocked(parent context.Context, hint time.Duration) {
	p.stopStepperLocked()
	if p.state.DisplayedFraction >= p.state.TargetFraction {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	p.stepCancel = cancel
	delay := stepDelay(p.state.DisplayedFraction, p.state.TargetFraction, p.cfg.StepSize, hint, p.cfg.DefaultStepDelay)

	run := p.run
	p.wg.Add(1)
	go p.step(ctx, run, delay)
}

func (p *Presenter) step(ctx context.Context, run uint64, delay time.Duration) {
	defer p.wg.Done()
	t := time.NewTicker(delay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		p.mu.Lock()
		if ctx.Err() != nil || p.run != run {
			p.mu.Unlock()
			return
		}
		s := &p.state
		s.DisplayedFraction = math.Min(s.DisplayedFraction+p.cfg.StepSize, s.TargetFraction)
		reached := s.DisplayedFraction >= s.TargetFraction
		if reached && s.Phase == PhaseCompleting && s.DisplayedFraction >= 1 {
			p.dwellLocked(p.runCtx)
		}
		p.publishLocked()
		p.mu.Unlock()

		if reached {
			return
		}
	}
}

// dwellLocked holds the finished bar on screen, then delivers the
// completion outcome and goes idle.
func (p *Presenter) dwellLocked(ctx context.Context) {
	run := p.run
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTimer(p.cfg.CompletionDwell)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		p.mu.Lock()
		if p.run != run || p.state.Phase != PhaseCompleting {
			p.mu.Unlock()
			return
		}
		out := Outcome{JobID: p.state.JobID, Message: p.state.StepMessage}
		p.teardownLocked()
		p.state.Phase = PhaseIdle
		p.publishLocked()
		p.mu.Unlock()

		p.cfg.Logger.WithField("job_id", out.JobID).Debug("presentation completed")
		p.deliver(out)
	}()
}

func (p *Presenter) startHintsLocked(ctx context.Context) {
	if len(p.cfg.Hints) < 2 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.hintCancel = cancel

	run := p.run
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.cfg.HintInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			p.mu.Lock()
			if ctx.Err() != nil || p.run != run {
				p.mu.Unlock()
				return
			}
			p.state.HintIndex = (p.state.HintIndex + 1) % len(p.cfg.Hints)
			p.state.Hint = p.cfg.Hints[p.state.HintIndex]
			p.publishLocked()
			p.mu.Unlock()
		}
	}()
}

func (p *Presenter) updateEstimateLocked() {
	if p.state.StartedAt.IsZero() {
		return
	}
	elapsed := p.cfg.Now().Sub(p.state.StartedAt)
	p.state.EstimatedRemaining, p.state.HasEstimate = estimate(elapsed, p.state.DisplayedFraction, p.cfg.EstimateThreshold)
}

// publishLocked fans the current state out without ever blocking.
func (p *Presenter) publishLocked() {
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		s := p.state.clone()
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (p *Presenter) deliver(out Outcome) {
	select {
	case p.outcomes <- out:
	case <-p.closing:
	}
}
