// Package generation is the UI-facing entry point: it runs the workflow,
// polls the resulting job and streams presentation states until the run
// completes, fails or is cancelled.
package generation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/picturebook/internal/logging"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/poller"
	"github.com/dusk-indust/picturebook/internal/presenter"
	"github.com/dusk-indust/picturebook/internal/remote"
)

// Outcome is the terminal signal of a session.
type Outcome = presenter.Outcome

// Runner executes the setup workflow and returns the job id to poll.
type Runner interface {
	Run(ctx context.Context, in orchestrator.Input) (int64, error)
}

// Config carries the per-session tuning.
type Config struct {
	Presenter presenter.Config
	Poller    poller.Config
	Logger    logrus.FieldLogger
}

// Service starts generation sessions. Only one session is active at a
// time; starting another cancels the previous one first.
type Service struct {
	runner  Runner
	fetcher poller.Fetcher
	cfg     Config

	// startMu serialises replacing the active session so that no two
	// starts can both install one.
	startMu sync.Mutex
	mu      sync.Mutex
	active  *Session
}

// NewService creates a Service.
func NewService(runner Runner, fetcher poller.Fetcher, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Presenter.Logger == nil {
		cfg.Presenter.Logger = cfg.Logger
	}
	if cfg.Poller.Logger == nil {
		cfg.Poller.Logger = cfg.Logger
	}
	return &Service{runner: runner, fetcher: fetcher, cfg: cfg}
}

// StartGeneration cancels any active session and starts a new one for in.
// Cancelling ctx cancels the session.
func (s *Service) StartGeneration(ctx context.Context, in orchestrator.Input) *Session {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	prev := s.active
	s.active = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	sess := newSession(ctx, s.fetcher, s.cfg)
	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()

	sess.wg.Add(1)
	go sess.run(s.runner, in)
	return sess
}

// Active returns the running session, if any.
func (s *Service) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel tears down the active session. It is a no-op when none runs.
func (s *Service) Cancel() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
}

// Session is one generation run.
type Session struct {
	id        string
	log       logrus.FieldLogger
	ctx       context.Context
	cancel    context.CancelFunc
	presenter *presenter.Presenter
	poller    *poller.Poller
	states    <-chan presenter.State

	jobID atomic.Int64

	once    sync.Once
	done    chan Outcome
	result  atomic.Pointer[Outcome]
	wg      sync.WaitGroup
	stopped sync.Once
}

func newSession(ctx context.Context, fetcher poller.Fetcher, cfg Config) *Session {
	id := uuid.NewString()
	log := cfg.Logger.WithField("session_id", id)

	pcfg := cfg.Presenter
	pcfg.Logger = log
	qcfg := cfg.Poller
	qcfg.Logger = log

	sctx, cancel := context.WithCancel(ctx)
	p := presenter.New(pcfg)
	return &Session{
		id:        id,
		log:       log,
		ctx:       sctx,
		cancel:    cancel,
		presenter: p,
		poller:    poller.New(fetcher, qcfg),
		states:    p.Subscribe(),
		done:      make(chan Outcome, 1),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// States streams presentation states. It is closed once the session ends.
func (s *Session) States() <-chan presenter.State { return s.states }

// Done delivers exactly one Outcome.
func (s *Session) Done() <-chan Outcome { return s.done }

// Result returns the outcome once the session has ended.
func (s *Session) Result() (Outcome, bool) {
	out := s.result.Load()
	if out == nil {
		return Outcome{}, false
	}
	return *out, true
}

// JobID returns the storybook id, or zero before the workflow produced one.
func (s *Session) JobID() int64 { return s.jobID.Load() }

// State returns the current presentation state.
func (s *Session) State() presenter.State { return s.presenter.State() }

// Cancel stops the poller, then the presenter's stepper and hint timer,
// and leaves the presentation idle. It waits for the session to wind
// down and is safe to call repeatedly.
func (s *Session) Cancel() {
	s.cancel()
	s.teardown()
	s.wg.Wait()
}

func (s *Session) run(runner Runner, in orchestrator.Input) {
	defer s.wg.Done()
	defer s.teardown()

	s.presenter.Begin()
	s.log.WithFields(logrus.Fields{
		"setting_id": in.SettingID,
		"page_count": in.PageCount,
	}).Info("generation started")

	jobID, err := runner.Run(s.ctx, in)
	if err != nil {
		if s.ctx.Err() != nil {
			s.finish(cancelled())
			return
		}
		s.log.WithError(err).Warn("workflow failed")
		s.presenter.FailWith(err)
		s.await()
		return
	}

	s.jobID.Store(jobID)
	if s.ctx.Err() != nil {
		s.finish(cancelled())
		return
	}
	s.presenter.SetJobID(jobID)
	s.log = s.log.WithField("job_id", jobID)

	s.poller.Start(s.ctx, jobID, poller.Callbacks{
		OnSnapshot:  s.presenter.OnSnapshot,
		OnCompleted: s.presenter.Complete,
		OnFailed:    s.presenter.Fail,
		OnFetchError: func(err error) {
			s.log.WithError(err).Debug("progress fetch failed")
		},
	})
	s.await()
}

// await blocks until the presenter reports an outcome or the session is
// cancelled.
func (s *Session) await() {
	select {
	case out := <-s.presenter.Outcomes():
		s.finish(out)
	case <-s.ctx.Done():
		s.finish(cancelled())
	}
}

func (s *Session) finish(out Outcome) {
	s.once.Do(func() {
		if out.JobID == 0 {
			out.JobID = s.jobID.Load()
		}
		s.result.Store(&out)
		s.done <- out

		entry := s.log.WithField("job_id", out.JobID)
		if out.OK() {
			entry.Info("generation completed")
		} else {
			entry.WithError(out.Err).Info("generation ended")
		}
	})
}

// teardown cancels the poller, then the presenter, in that order.
func (s *Session) teardown() {
	s.stopped.Do(func() {
		s.cancel()
		s.poller.Stop()
		s.presenter.Cancel()
		s.presenter.Close()
	})
}

func cancelled() Outcome {
	err := remote.Cancelled(context.Canceled)
	return Outcome{Err: err, Message: remote.UserMessage(err)}
}
