package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Step identifies a workflow step.
type Step int

const (
	StepGenerateStory       Step = 0
	StepCreateStorybook     Step = 1
	StepKickImageGeneration Step = 2
)

func (s Step) String() string {
	names := [...]string{
		"generate-story",
		"create-storybook",
		"kick-image-generation",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Steps lists the workflow steps in execution order.
func Steps() []Step {
	return []Step{StepGenerateStory, StepCreateStorybook, StepKickImageGeneration}
}

// Keys for StepResult.IDs.
const (
	IDStoryPlot = "story_plot_id"
	IDStorybook = "storybook_id"
)

// MaxPageCount is the largest book the backend accepts.
const MaxPageCount = 30

// ErrInvalidInput is returned by Run before any remote call is made.
var ErrInvalidInput = errors.New("orchestrator: invalid input")

// Input carries the validated parameters for the first step.
type Input struct {
	SettingID int64
	Theme     string
	PageCount int
	ChildID   *int64 // optional
}

// Validate checks the input without touching the network.
func (in Input) Validate() error {
	switch {
	case in.SettingID <= 0:
		return fmt.Errorf("%w: setting id must be positive, got %d", ErrInvalidInput, in.SettingID)
	case strings.TrimSpace(in.Theme) == "":
		return fmt.Errorf("%w: theme is required", ErrInvalidInput)
	case in.PageCount < 1 || in.PageCount > MaxPageCount:
		return fmt.Errorf("%w: page count must be 1-%d, got %d", ErrInvalidInput, MaxPageCount, in.PageCount)
	case in.ChildID != nil && *in.ChildID <= 0:
		return fmt.Errorf("%w: child id must be positive, got %d", ErrInvalidInput, *in.ChildID)
	}
	return nil
}

// StepResult is the output of one workflow step.
type StepResult struct {
	Step Step
	IDs  map[string]int64 // remote ids produced by the step
	Err  error
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool {
	return r.Err == nil
}

// WorkflowRun accumulates the ids created during one Run call so a failure
// knows what to compensate.
type WorkflowRun struct {
	StoryPlotID int64 // zero until created
	StorybookID int64 // zero until created
	Completed   []Step
}

// Apply records a successful step result. Failed results are ignored.
func (w *WorkflowRun) Apply(r StepResult) {
	if !r.OK() {
		return
	}
	if id, ok := r.IDs[IDStoryPlot]; ok {
		w.StoryPlotID = id
	}
	if id, ok := r.IDs[IDStorybook]; ok {
		w.StorybookID = id
	}
	w.Completed = append(w.Completed, r.Step)
}

// ProgressEvent is emitted as each step changes state.
type ProgressEvent struct {
	Step    Step
	Status  ProgressStatus
	JobID   int64 // set once the storybook exists
	Message string
}

// ProgressStatus is the state of a step.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// Orchestrator runs the story → storybook → image-kick workflow.
type Orchestrator interface {
	// Run executes the workflow and returns the job id to poll. Image
	// generation is kicked off but not awaited.
	Run(ctx context.Context, in Input) (int64, error)

	// Progress returns a channel that emits step events.
	Progress() <-chan ProgressEvent
}
