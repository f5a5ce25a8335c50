package remote

// JobStatus is the lifecycle state of a remote image-generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true if no further progress will be reported.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusGenerating, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ProgressSnapshot is one polled observation of a job. Treat it as
// immutable once returned by a Client.
type ProgressSnapshot struct {
	JobID       int64          `json:"storybook_id"`
	CurrentUnit int            `json:"current_page"`
	TotalUnits  int            `json:"total_pages"`
	Percent     int            `json:"percent"`
	Status      JobStatus      `json:"status"`
	Message     string         `json:"message,omitempty"`
	Previews    map[int]string `json:"previews,omitempty"`
}

// Normalize clamps Percent to [0,100] and returns the snapshot.
func (s ProgressSnapshot) Normalize() ProgressSnapshot {
	switch {
	case s.Percent < 0:
		s.Percent = 0
	case s.Percent > 100:
		s.Percent = 100
	}
	return s
}

// Fraction returns the image-generation progress in [0,1].
func (s ProgressSnapshot) Fraction() float64 {
	return float64(s.Normalize().Percent) / 100
}

// StoryRequest is the input of the story-generation step.
type StoryRequest struct {
	SettingID int64  `json:"setting_id"`
	Theme     string `json:"theme"`
	PageCount int    `json:"page_count"`
}

// StoryResult is the output of the story-generation step.
type StoryResult struct {
	StoryPlotID int64 `json:"story_plot_id"`
}

// StorybookRequest creates a storybook record from a generated plot.
type StorybookRequest struct {
	StoryPlotID int64  `json:"story_plot_id"`
	Theme       string `json:"theme"`
	ChildID     *int64 `json:"child_id,omitempty"`
	PageCount   int    `json:"page_count"`
}

// StorybookResult identifies the created storybook. Its id doubles as the
// job id for progress tracking.
type StorybookResult struct {
	StorybookID int64 `json:"storybook_id"`
}

// errorBody is the JSON error envelope returned by the API.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
