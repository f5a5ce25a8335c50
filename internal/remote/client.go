package remote

import "context"

// Client issues the pipeline requests against the storybook backend.
// Authentication is attached by the implementation; callers only see
// KindAuthenticationRequired when it fails.
type Client interface {
	// GenerateStory creates a story plot for the chosen setting and theme.
	GenerateStory(ctx context.Context, req StoryRequest) (*StoryResult, error)

	// CreateStorybook creates the storybook record from a plot.
	CreateStorybook(ctx context.Context, req StorybookRequest) (*StorybookResult, error)

	// KickImageGeneration starts image generation without waiting for it.
	KickImageGeneration(ctx context.Context, storybookID int64) error

	// FetchProgress returns the current progress of an image-generation job.
	FetchProgress(ctx context.Context, jobID int64) (*ProgressSnapshot, error)
}

// Deleter removes remote records left behind by a failed workflow.
type Deleter interface {
	DeleteStoryPlot(ctx context.Context, storyPlotID int64) error
	DeleteStorybook(ctx context.Context, storybookID int64) error
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
