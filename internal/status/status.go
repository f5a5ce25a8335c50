package status

import (
	"fmt"
	"sort"

	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/remote"
)

// JobInfo describes one observed state of a generation job.
type JobInfo struct {
	JobID      int64
	Status     remote.JobStatus
	Label      string // human-readable status (e.g. "Drawing")
	Page       int
	TotalPages int
	Percent    int
	Terminal   bool
	Message    string
	Previews   []int // page indexes with a preview, ascending
}

var statusLabels = map[remote.JobStatus]string{
	remote.JobStatusPending:    "Queued",
	remote.JobStatusGenerating: "Drawing",
	remote.JobStatusCompleted:  "Ready",
	remote.JobStatusFailed:     "Failed",
}

var stepLabels = [3]string{
	"Writing the story",
	"Preparing the storybook",
	"Starting the illustrations",
}

// Label returns the display label of a job status.
func Label(s remote.JobStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

// StepLabel returns the display label of a workflow step.
func StepLabel(s orchestrator.Step) string {
	if s >= 0 && int(s) < len(stepLabels) {
		return stepLabels[s]
	}
	return s.String()
}

// Describe summarizes a snapshot.
func Describe(snap remote.ProgressSnapshot) JobInfo {
	snap = snap.Normalize()
	info := JobInfo{
		JobID:      snap.JobID,
		Status:     snap.Status,
		Label:      Label(snap.Status),
		Page:       snap.CurrentUnit,
		TotalPages: snap.TotalUnits,
		Percent:    snap.Percent,
		Terminal:   snap.Status.IsTerminal(),
		Message:    snap.Message,
	}
	for page := range snap.Previews {
		info.Previews = append(info.Previews, page)
	}
	sort.Ints(info.Previews)
	return info
}

// Summary renders info as one line, e.g.
// "storybook 20: Drawing page 3 of 5 (60%)".
func (i JobInfo) Summary() string {
	line := fmt.Sprintf("storybook %d: %s", i.JobID, i.Label)
	if i.Status == remote.JobStatusGenerating && i.TotalPages > 0 {
		line += fmt.Sprintf(" page %d of %d", i.Page, i.TotalPages)
	}
	line += fmt.Sprintf(" (%d%%)", i.Percent)
	if i.Message != "" {
		line += ": " + i.Message
	}
	return line
}
