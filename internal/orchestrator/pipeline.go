package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dusk-indust/picturebook/internal/remote"
	"github.com/dusk-indust/picturebook/internal/telemetry"
)

// Compile-time interface check.
var _ Orchestrator = (*Pipeline)(nil)

// Pipeline runs the workflow steps strictly in sequence against a
// remote.Client. The image-generation kick and any compensation run on
// detached goroutines tracked by Wait.
type Pipeline struct {
	client   remote.Client
	cfg      Config
	progress *ProgressReporter
	detached sync.WaitGroup
}

// NewPipeline creates a Pipeline for client.
func NewPipeline(client remote.Client, cfg Config) *Pipeline {
	return &Pipeline{
		client:   client,
		cfg:      cfg.withDefaults(),
		progress: NewProgressReporter(),
	}
}

// Run validates in, generates the story, creates the storybook, kicks off
// image generation without waiting, and returns the storybook id as the
// job id. A failure in the first two steps is returned unchanged after
// the compensation hook has been scheduled.
func (p *Pipeline) Run(ctx context.Context, in Input) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	log := p.cfg.Logger.WithFields(logrus.Fields{
		"setting_id": in.SettingID,
		"theme":      in.Theme,
		"page_count": in.PageCount,
	})

	names := make([]string, 0, 3)
	for _, s := range Steps() {
		names = append(names, s.String())
		p.progress.Emit(ProgressEvent{Step: s, Status: ProgressPending})
	}
	op := telemetry.Start(ctx, p.cfg.Tracer, "workflow.run", names,
		attribute.Int64("picturebook.setting_id", in.SettingID),
		attribute.Int("picturebook.page_count", in.PageCount),
	)
	ctx = op.Context()
	run := &WorkflowRun{}

	story := p.runStep(ctx, op, StepGenerateStory, func(ctx context.Context) (map[string]int64, error) {
		res, err := p.client.GenerateStory(ctx, remote.StoryRequest{
			SettingID: in.SettingID,
			Theme:     in.Theme,
			PageCount: in.PageCount,
		})
		if err != nil {
			return nil, err
		}
		if res.StoryPlotID == 0 {
			return nil, remote.Network(fmt.Errorf("story generation returned no plot id"))
		}
		return map[string]int64{IDStoryPlot: res.StoryPlotID}, nil
	})
	run.Apply(story)
	if !story.OK() {
		return p.fail(op, run, story, log)
	}
	log = log.WithField("story_plot_id", run.StoryPlotID)

	book := p.runStep(ctx, op, StepCreateStorybook, func(ctx context.Context) (map[string]int64, error) {
		res, err := p.client.CreateStorybook(ctx, remote.StorybookRequest{
			StoryPlotID: run.StoryPlotID,
			Theme:       in.Theme,
			ChildID:     in.ChildID,
			PageCount:   in.PageCount,
		})
		if err != nil {
			return nil, err
		}
		if res.StorybookID == 0 {
			return nil, remote.Network(fmt.Errorf("storybook creation returned no id"))
		}
		return map[string]int64{IDStorybook: res.StorybookID}, nil
	})
	run.Apply(book)
	if !book.OK() {
		return p.fail(op, run, book, log)
	}

	jobID := run.StorybookID
	op.SetJobID(jobID)
	log = log.WithField("storybook_id", jobID)

	p.kick(ctx, op, jobID, log)

	op.End(nil)
	log.Info("workflow setup complete; image generation kicked off")
	return jobID, nil
}

// Progress returns a channel that emits step events.
func (p *Pipeline) Progress() <-chan ProgressEvent {
	return p.progress.Subscribe()
}

// Wait blocks until every detached kick and compensation task has returned.
func (p *Pipeline) Wait() {
	p.detached.Wait()
}

// Close waits for detached tasks and shuts down the progress reporter.
func (p *Pipeline) Close() {
	p.Wait()
	p.progress.Close()
}

// runStep executes one synchronous step inside its own span and reports
// its progress.
func (p *Pipeline) runStep(ctx context.Context, op *telemetry.Operation, step Step, fn func(context.Context) (map[string]int64, error)) StepResult {
	p.progress.Emit(ProgressEvent{Step: step, Status: ProgressWorking})

	var ids map[string]int64
	err := op.RunStep(ctx, step.String(), func(ctx context.Context) error {
		var err error
		ids, err = fn(ctx)
		return err
	})
	p.cfg.Metrics.StepDone(step.String(), err)

	if err != nil {
		p.progress.Emit(ProgressEvent{Step: step, Status: ProgressFailed, Message: err.Error()})
		return StepResult{Step: step, Err: err}
	}
	p.progress.Emit(ProgressEvent{Step: step, Status: ProgressComplete, JobID: ids[IDStorybook]})
	return StepResult{Step: step, IDs: ids}
}

// kick fires the image-generation request on a detached context. Its
// failure is logged only: the poller observes the job's real outcome.
func (p *Pipeline) kick(ctx context.Context, op *telemetry.Operation, jobID int64, log logrus.FieldLogger) {
	p.progress.Emit(ProgressEvent{Step: StepKickImageGeneration, Status: ProgressWorking, JobID: jobID})

	detached := context.WithoutCancel(ctx)
	p.detached.Add(1)
	go func() {
		defer p.detached.Done()

		kctx, cancel := context.WithTimeout(detached, p.cfg.KickTimeout)
		defer cancel()

		err := op.RunStep(kctx, StepKickImageGeneration.String(), func(ctx context.Context) error {
			return p.client.KickImageGeneration(ctx, jobID)
		})
		p.cfg.Metrics.StepDone(StepKickImageGeneration.String(), err)
		if err != nil {
			p.cfg.Metrics.KickFailed()
			log.WithError(err).Warn("image generation kick failed; polling will report the job outcome")
			p.progress.Emit(ProgressEvent{Step: StepKickImageGeneration, Status: ProgressFailed, JobID: jobID, Message: err.Error()})
			return
		}
		p.progress.Emit(ProgressEvent{Step: StepKickImageGeneration, Status: ProgressComplete, JobID: jobID})
	}()
}

// fail schedules compensation and returns the step error unchanged.
func (p *Pipeline) fail(op *telemetry.Operation, run *WorkflowRun, res StepResult, log logrus.FieldLogger) (int64, error) {
	log.WithError(res.Err).WithField("step", res.Step.String()).Error("workflow step failed")
	op.End(res.Err)

	c := Compensation{
		FailedStep:  res.Step,
		StoryPlotID: run.StoryPlotID,
		StorybookID: run.StorybookID,
		Completed:   append([]Step(nil), run.Completed...),
		Err:         res.Err,
	}

	p.detached.Add(1)
	go func() {
		defer p.detached.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CompensationTimeout)
		defer cancel()

		err := p.cfg.Compensator.Compensate(ctx, c)
		p.cfg.Metrics.CompensationDone(err)
		if err != nil {
			log.WithError(err).Warn("compensation failed")
		}
	}()

	return 0, res.Err
}
