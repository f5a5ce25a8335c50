// Package poller repeatedly fetches the progress of a remote image
// generation job until it reaches a terminal state or is stopped.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/picturebook/internal/logging"
	"github.com/dusk-indust/picturebook/internal/metrics"
	"github.com/dusk-indust/picturebook/internal/remote"
)

const (
	DefaultSuccessInterval = time.Second
	DefaultErrorInterval   = 2 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
)

// Fetcher is the slice of remote.Client the poller needs.
type Fetcher interface {
	FetchProgress(ctx context.Context, jobID int64) (*remote.ProgressSnapshot, error)
}

// Config tunes a Poller. Zero values fall back to the defaults.
type Config struct {
	SuccessInterval time.Duration
	ErrorInterval   time.Duration
	FetchTimeout    time.Duration
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.SuccessInterval <= 0 {
		c.SuccessInterval = DefaultSuccessInterval
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = DefaultErrorInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// Callbacks receive the results of one poll loop. All of them run on the
// loop's goroutine, in fetch order. Any of them may be nil.
//
// Callbacks must not call Stop; a terminal callback already ends the loop.
type Callbacks struct {
	OnSnapshot  func(remote.ProgressSnapshot)
	OnCompleted func(jobID int64)
	OnFailed    func(message string)

	// OnFetchError observes fetch failures. They are retried and never
	// end the loop.
	OnFetchError func(err error)
}

// Poller runs at most one poll loop at a time.
type Poller struct {
	fetcher Fetcher
	cfg     Config

	mu  sync.Mutex
	cur *loop
}

type loop struct {
	jobID  int64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller that fetches through f.
func New(f Fetcher, cfg Config) *Poller {
	return &Poller{fetcher: f, cfg: cfg.withDefaults()}
}

// Start begins polling jobID. It returns false without doing anything if a
// loop is already running. Cancelling ctx stops the loop like Stop does.
func (p *Poller) Start(ctx context.Context, jobID int64, cb Callbacks) bool {
	p.mu.Lock()
	if p.cur != nil {
		running := p.cur.jobID
		p.mu.Unlock()
		p.cfg.Logger.WithFields(logrus.Fields{
			"job_id":     jobID,
			"running_id": running,
		}).Warn("poller already running; start ignored")
		return false
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &loop{jobID: jobID, cancel: cancel, done: make(chan struct{})}
	p.cur = l
	p.mu.Unlock()

	p.cfg.Metrics.PollerStarted()
	go p.run(lctx, l, cb)
	return true
}

// Stop cancels the running loop and waits for it to exit. No callback
// runs after Stop returns. Stop is idempotent and safe after the loop
// ended on its own.
func (p *Poller) Stop() {
	p.mu.Lock()
	l := p.cur
	p.mu.Unlock()
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// Wait blocks until the current loop, if any, exits.
func (p *Poller) Wait() {
	p.mu.Lock()
	l := p.cur
	p.mu.Unlock()
	if l != nil {
		<-l.done
	}
}

func (p *Poller) run(ctx context.Context, l *loop, cb Callbacks) {
	log := p.cfg.Logger.WithField("job_id", l.jobID)
	defer func() {
		l.cancel()
		p.mu.Lock()
		if p.cur == l {
			p.cur = nil
		}
		p.mu.Unlock()
		p.cfg.Metrics.PollerStopped()
		close(l.done)
	}()

	log.Debug("poll loop started")
	for {
		if ctx.Err() != nil {
			log.Debug("poll loop cancelled")
			return
		}

		snap, err := p.fetch(ctx, l.jobID, cb, log)
		if err != nil || ctx.Err() != nil {
			log.Debug("poll loop cancelled")
			return
		}

		if cb.OnSnapshot != nil {
			cb.OnSnapshot(*snap)
		}

		switch snap.Status {
		case remote.JobStatusCompleted:
			p.cfg.Metrics.Terminal(string(snap.Status))
			log.Info("job completed")
			if cb.OnCompleted != nil {
				cb.OnCompleted(l.jobID)
			}
			return
		case remote.JobStatusFailed:
			p.cfg.Metrics.Terminal(string(snap.Status))
			msg := remote.UserMessage(remote.JobFailed(snap.Message))
			log.WithField("message", snap.Message).Warn("job failed")
			if cb.OnFailed != nil {
				cb.OnFailed(msg)
			}
			return
		}

		if !sleep(ctx, p.cfg.SuccessInterval) {
			log.Debug("poll loop cancelled")
			return
		}
	}
}

// fetch retries until a snapshot arrives or ctx ends. The only error it
// returns is the context's.
func (p *Poller) fetch(ctx context.Context, jobID int64, cb Callbacks, log logrus.FieldLogger) (*remote.ProgressSnapshot, error) {
	op := func() (*remote.ProgressSnapshot, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()

		snap, err := p.fetcher.FetchProgress(fctx, jobID)
		if err == nil && snap == nil {
			err = remote.Network(errors.New("empty progress response"))
		}
		p.cfg.Metrics.Fetch(err)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, backoff.Permanent(cerr)
			}
			return nil, err
		}
		return snap, nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   wait,
		}).Warn("progress fetch failed; retrying")
		if cb.OnFetchError != nil {
			cb.OnFetchError(err)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(p.cfg.ErrorInterval), ctx)
	return backoff.RetryNotifyWithData(op, b, notify)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
