package presenter

import (
	"math"
	"time"
)

// Phase is the presenter's position in its per-run state machine:
// Idle → Running → {Completing → Idle, Failed → Idle}.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleting
	PhaseFailed
)

func (p Phase) String() string {
	names := [...]string{"idle", "running", "completing", "failed"}
	if p >= 0 && int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// State is one published view of the progress bar.
type State struct {
	Phase Phase
	JobID int64

	// DisplayedFraction never decreases during a run and never exceeds 1.
	DisplayedFraction float64
	TargetFraction    float64

	StepMessage string

	// EstimatedRemaining is meaningful only when HasEstimate is set.
	EstimatedRemaining time.Duration
	HasEstimate        bool

	Hint      string
	HintIndex int

	StartedAt time.Time

	// Previews maps a page index to its preview URL.
	Previews map[int]string

	ErrorMessage string
}

// Percent returns the displayed fraction as a whole percentage.
func (s State) Percent() int {
	return int(math.Round(s.DisplayedFraction * 100))
}

// Active reports whether a run is animating.
func (s State) Active() bool {
	return s.Phase == PhaseRunning || s.Phase == PhaseCompleting
}

func (s State) clone() State {
	if s.Previews != nil {
		previews := make(map[int]string, len(s.Previews))
		for k, v := range s.Previews {
			previews[k] = v
		}
		s.Previews = previews
	}
	return s
}

// Outcome is the terminal signal of a run. Err is nil on success.
type Outcome struct {
	JobID   int64
	Err     error
	Message string
}

// OK reports whether the run completed.
func (o Outcome) OK() bool {
	return o.Err == nil
}
