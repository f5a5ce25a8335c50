package presenter

import (
	"fmt"
	"math"
	"time"

	"github.com/dusk-indust/picturebook/internal/remote"
)

// MapTarget maps a snapshot onto the whole-journey bar and never returns
// less than prev.
func MapTarget(cfg Config, prev float64, snap remote.ProgressSnapshot) float64 {
	p := snap.Fraction()
	next := math.Min(cfg.StoryFraction+cfg.GenerationBand*p, cfg.GenerationCap)
	if snap.Status == remote.JobStatusGenerating && p >= cfg.FinishingThreshold {
		next = cfg.FinishingFraction
	}
	return math.Max(prev, next)
}

// stepsRemaining counts the StepSize increments between from and to.
func stepsRemaining(from, to, step float64) int {
	if to <= from || step <= 0 {
		return 0
	}
	// Tolerate float drift so 0.15/0.01 is 15 steps, not 16.
	return int(math.Ceil((to-from)/step - 1e-9))
}

// stepDelay spreads hint across the remaining steps.
func stepDelay(from, to, step float64, hint, fallback time.Duration) time.Duration {
	n := stepsRemaining(from, to, step)
	if hint <= 0 || n == 0 {
		return fallback
	}
	d := hint / time.Duration(n)
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

// estimate extrapolates the remaining time from the displayed fraction.
func estimate(elapsed time.Duration, displayed, threshold float64) (time.Duration, bool) {
	if displayed <= threshold || elapsed <= 0 {
		return 0, false
	}
	total := time.Duration(float64(elapsed) / displayed)
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func stepMessage(m Messages, cfg Config, snap remote.ProgressSnapshot) string {
	switch {
	case snap.Status == remote.JobStatusPending:
		return m.Pending
	case snap.Status == remote.JobStatusGenerating && snap.Fraction() >= cfg.FinishingThreshold:
		return m.Finishing
	case snap.TotalUnits > 0 && snap.CurrentUnit > 0:
		return fmt.Sprintf(m.Page, min(snap.CurrentUnit, snap.TotalUnits), snap.TotalUnits)
	default:
		return m.Drawing
	}
}
