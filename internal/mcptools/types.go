package mcptools

// --- MCP Tool Input Types ---
// The MCP Go SDK generates each tool's JSON schema from these struct tags.

// StartGenerationInput is the input for the start_generation MCP tool.
type StartGenerationInput struct {
	SettingID int64  `json:"settingId" jsonschema:"id of the story setting to use"`
	Theme     string `json:"theme" jsonschema:"story theme, e.g. dragons or space"`
	PageCount int    `json:"pageCount" jsonschema:"number of pages (1-30)"`
	ChildID   int64  `json:"childId,omitempty" jsonschema:"optional child profile id to personalize the book"`
}

// StartGenerationOutput is the result of the start_generation MCP tool.
type StartGenerationOutput struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"` // "started"
}

// GetProgressInput is the input for the get_progress MCP tool.
type GetProgressInput struct {
	JobID int64 `json:"jobId,omitempty" jsonschema:"storybook id to query directly; omit to report the active session"`
}

// GetProgressOutput is the result of the get_progress MCP tool.
type GetProgressOutput struct {
	SessionID string `json:"sessionId,omitempty"`
	JobID     int64  `json:"jobId,omitempty"`
	Phase     string `json:"phase"`
	Percent   int    `json:"percent"`
	Message   string `json:"message,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Previews  []int  `json:"previews,omitempty"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}

// CancelGenerationInput is the input for the cancel_generation MCP tool.
type CancelGenerationInput struct{}

// CancelGenerationOutput is the result of the cancel_generation MCP tool.
type CancelGenerationOutput struct {
	SessionID string `json:"sessionId,omitempty"`
	Cancelled bool   `json:"cancelled"`
}
