// Package render draws presentation states and workflow events for the
// terminal.
package render

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/presenter"
	"github.com/dusk-indust/picturebook/internal/status"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	dim    = lipgloss.Color("243")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
)

// ConfigureColor enables colors for interactive terminals and strips them
// otherwise.
func ConfigureColor(interactive bool) {
	if interactive {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// DetectInteractive reports whether stderr is a terminal that can be
// redrawn in place. CI, NO_INTERACTION and TERM=dumb disable it.
func DetectInteractive(disabled bool) bool {
	if disabled || envTruthy("NO_INTERACTION") || envTruthy("CI") {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Renderer turns presentation states into terminal lines.
type Renderer struct {
	bar progress.Model
}

// New creates a Renderer whose bar is width cells wide.
func New(width int) *Renderer {
	if width <= 0 {
		width = 40
	}
	return &Renderer{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(width),
			progress.WithoutPercentage(),
		),
	}
}

// State renders s as a block of lines without a trailing newline.
func (r *Renderer) State(s presenter.State) string {
	var b strings.Builder
	b.WriteString(r.bar.ViewAs(s.DisplayedFraction))
	b.WriteString(" ")
	b.WriteString(BoldStyle.Render(fmt.Sprintf("%3d%%", s.Percent())))

	if s.ErrorMessage != "" {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("✗") + " " + s.ErrorMessage)
		return b.String()
	}
	if s.StepMessage != "" {
		b.WriteString("\n")
		b.WriteString(s.StepMessage)
	}
	if s.Active() {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render(Remaining(s.EstimatedRemaining, s.HasEstimate)))
	}
	if s.Hint != "" && s.Phase == presenter.PhaseRunning {
		b.WriteString("\n")
		b.WriteString(AccentStyle.Render(s.Hint))
	}
	return b.String()
}

// Line renders s on a single line, suitable for log-style output.
func (r *Renderer) Line(s presenter.State) string {
	line := fmt.Sprintf("%s %3d%%", r.bar.ViewAs(s.DisplayedFraction), s.Percent())
	if s.StepMessage != "" {
		line += " " + s.StepMessage
	}
	if s.Active() {
		line += " " + MutedStyle.Render("("+Remaining(s.EstimatedRemaining, s.HasEstimate)+")")
	}
	return line
}

// Remaining formats an estimate. Without one it reports that the estimate
// is still being calculated.
func Remaining(d time.Duration, ok bool) string {
	if !ok {
		return "calculating..."
	}
	switch {
	case d < time.Second:
		return "almost done"
	case d < time.Minute:
		return fmt.Sprintf("about %d seconds left", int(math.Round(d.Seconds())))
	default:
		minutes := int(math.Round(d.Minutes()))
		if minutes == 1 {
			return "about a minute left"
		}
		return fmt.Sprintf("about %d minutes left", minutes)
	}
}

// Step renders a workflow step event.
func Step(ev orchestrator.ProgressEvent) string {
	label := status.StepLabel(ev.Step)
	switch ev.Status {
	case orchestrator.ProgressWorking:
		return AccentStyle.Render("●") + " " + label + "..."
	case orchestrator.ProgressComplete:
		return SuccessStyle.Render("✓") + " " + label
	case orchestrator.ProgressFailed:
		return ErrorStyle.Render("✗") + " " + label + ": " + ev.Message
	default:
		return MutedStyle.Render("○ " + label)
	}
}

// Outcome renders the terminal result of a session.
func Outcome(out presenter.Outcome) string {
	if out.OK() {
		return SuccessStyle.Render("✓") + fmt.Sprintf(" storybook %d is ready", out.JobID)
	}
	return ErrorStyle.Render("✗") + " " + out.Message
}
