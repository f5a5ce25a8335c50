package presenter

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/picturebook/internal/logging"
)

// DefaultHints rotate under the progress bar while a book is drawn.
var DefaultHints = []string{
	"Our illustrator is sharpening the crayons...",
	"Every page is drawn just for your little one.",
	"Good stories take a moment. Great ones take two.",
	"Tip: you can read the finished book offline.",
	"Mixing the perfect colors for each scene...",
}

// Config tunes the presenter. Zero durations and fractions fall back to
// the defaults applied by New.
type Config struct {
	// StoryFraction is the share of the bar given to story creation,
	// animated over StoryDuration as soon as a run begins.
	StoryFraction float64
	StoryDuration time.Duration

	// GenerationBand maps polled progress p to StoryFraction+band*p,
	// capped at GenerationCap while the job is still running.
	GenerationBand float64
	GenerationCap  float64

	// A generating job at or above FinishingThreshold pins the target to
	// FinishingFraction.
	FinishingThreshold float64
	FinishingFraction  float64

	StepSize           float64
	DefaultStepDelay   time.Duration
	CatchUpDuration    time.Duration
	CompletionDuration time.Duration
	CompletionDwell    time.Duration

	HintInterval time.Duration
	Hints        []string

	// No estimate is published until the displayed fraction exceeds
	// EstimateThreshold.
	EstimateThreshold float64

	// SnapshotInterval limits how often non-terminal snapshots move the
	// target. Negative disables the limit.
	SnapshotInterval time.Duration

	// StreamBuffer is the per-subscriber channel size.
	StreamBuffer int

	Messages Messages

	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Messages are the step messages shown above the bar.
type Messages struct {
	Story     string
	Pending   string
	Page      string // formatted with current and total page
	Drawing   string
	Finishing string
	Completed string
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		StoryFraction:      0.15,
		StoryDuration:      10 * time.Second,
		GenerationBand:     0.80,
		GenerationCap:      0.95,
		FinishingThreshold: 0.95,
		FinishingFraction:  0.99,
		StepSize:           0.01,
		DefaultStepDelay:   50 * time.Millisecond,
		CatchUpDuration:    500 * time.Millisecond,
		CompletionDuration: 500 * time.Millisecond,
		CompletionDwell:    1200 * time.Millisecond,
		HintInterval:       5 * time.Second,
		Hints:              DefaultHints,
		EstimateThreshold:  0.10,
		SnapshotInterval:   500 * time.Millisecond,
		StreamBuffer:       16,
		Messages: Messages{
			Story:     "Writing your story...",
			Pending:   "Waiting for the illustrator...",
			Page:      "Drawing page %d of %d...",
			Drawing:   "Drawing your pictures...",
			Finishing: "Adding the finishing touches...",
			Completed: "Your book is ready!",
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StoryFraction <= 0 {
		c.StoryFraction = d.StoryFraction
	}
	if c.StoryDuration <= 0 {
		c.StoryDuration = d.StoryDuration
	}
	if c.GenerationBand <= 0 {
		c.GenerationBand = d.GenerationBand
	}
	if c.GenerationCap <= 0 {
		c.GenerationCap = d.GenerationCap
	}
	if c.FinishingThreshold <= 0 {
		c.FinishingThreshold = d.FinishingThreshold
	}
	if c.FinishingFraction <= 0 {
		c.FinishingFraction = d.FinishingFraction
	}
	if c.StepSize <= 0 {
		c.StepSize = d.StepSize
	}
	if c.DefaultStepDelay <= 0 {
		c.DefaultStepDelay = d.DefaultStepDelay
	}
	if c.CatchUpDuration <= 0 {
		c.CatchUpDuration = d.CatchUpDuration
	}
	if c.CompletionDuration <= 0 {
		c.CompletionDuration = d.CompletionDuration
	}
	if c.CompletionDwell <= 0 {
		c.CompletionDwell = d.CompletionDwell
	}
	if c.HintInterval <= 0 {
		c.HintInterval = d.HintInterval
	}
	if len(c.Hints) == 0 {
		c.Hints = d.Hints
	}
	if c.EstimateThreshold <= 0 {
		c.EstimateThreshold = d.EstimateThreshold
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	if c.Messages == (Messages{}) {
		c.Messages = d.Messages
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
