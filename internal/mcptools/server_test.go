package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/picturebook/internal/generation"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/poller"
	"github.com/dusk-indust/picturebook/internal/presenter"
	"github.com/dusk-indust/picturebook/internal/remote"
)

type mockRunner struct {
	run func(ctx context.Context, in orchestrator.Input) (int64, error)
}

func (m *mockRunner) Run(ctx context.Context, in orchestrator.Input) (int64, error) {
	return m.run(ctx, in)
}

// mockFetcher returns the same snapshot for every job.
type mockFetcher struct {
	mu   sync.Mutex
	snap remote.ProgressSnapshot
	err  error
}

func (f *mockFetcher) FetchProgress(_ context.Context, jobID int64) (*remote.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.snap
	s.JobID = jobID
	return &s, nil
}

func fastConfig() generation.Config {
	return generation.Config{
		Presenter: presenter.Config{
			StoryDuration:      10 * time.Millisecond,
			CatchUpDuration:    5 * time.Millisecond,
			CompletionDuration: 5 * time.Millisecond,
			CompletionDwell:    time.Millisecond,
			DefaultStepDelay:   time.Millisecond,
			SnapshotInterval:   -1,
		},
		Poller: poller.Config{
			SuccessInterval: time.Millisecond,
			ErrorInterval:   time.Millisecond,
		},
	}
}

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T, runner generation.Runner, fetcher poller.Fetcher) *mcp.ClientSession {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	gen := generation.NewService(runner, fetcher, fastConfig())
	server := NewMCPServer(NewGenerationService(ctx, gen, fetcher))

	st, ct := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		gen.Cancel()
		cancel()
	})
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	if result.IsError || result.StructuredContent == nil {
		return out, result
	}
	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))
	return out, result
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t, &mockRunner{}, &mockFetcher{})

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"cancel_generation", "get_progress", "start_generation"}, names)
}

func TestMCPStartGeneration_RunsToCompletion(t *testing.T) {
	var got orchestrator.Input
	runner := &mockRunner{run: func(_ context.Context, in orchestrator.Input) (int64, error) {
		got = in
		return 20, nil
	}}
	fetcher := &mockFetcher{snap: remote.ProgressSnapshot{TotalUnits: 3, CurrentUnit: 3, Percent: 100, Status: remote.JobStatusCompleted}}
	session := setupServerClient(t, runner, fetcher)

	started, res := callTool[StartGenerationOutput](t, session, "start_generation", StartGenerationInput{
		SettingID: 3, Theme: "space", PageCount: 3, ChildID: 7,
	})
	require.False(t, res.IsError)
	assert.Equal(t, "started", started.Status)
	assert.NotEmpty(t, started.SessionID)

	var progress GetProgressOutput
	require.Eventually(t, func() bool {
		progress, _ = callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{})
		return progress.Done
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, started.SessionID, progress.SessionID)
	assert.Equal(t, int64(20), progress.JobID)
	assert.Equal(t, 100, progress.Percent)
	assert.Empty(t, progress.Error)
	assert.Equal(t, "Your book is ready!", progress.Message)

	require.NotNil(t, got.ChildID)
	assert.Equal(t, int64(7), *got.ChildID)
	assert.Equal(t, "space", got.Theme)
}

func TestMCPGetProgress_FailedRunReportsError(t *testing.T) {
	runner := &mockRunner{run: func(context.Context, orchestrator.Input) (int64, error) { return 20, nil }}
	fetcher := &mockFetcher{snap: remote.ProgressSnapshot{
		TotalUnits: 3, CurrentUnit: 2, Percent: 33, Status: remote.JobStatusFailed, Message: "page 2 could not be drawn",
	}}
	session := setupServerClient(t, runner, fetcher)

	_, res := callTool[StartGenerationOutput](t, session, "start_generation", StartGenerationInput{SettingID: 3, Theme: "space", PageCount: 3})
	require.False(t, res.IsError)

	var progress GetProgressOutput
	require.Eventually(t, func() bool {
		progress, _ = callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{})
		return progress.Done
	}, 3*time.Second, 10*time.Millisecond)

	assert.Contains(t, progress.Error, "page 2 could not be drawn")
	assert.Less(t, progress.Percent, 100)
}

func TestMCPStartGeneration_InvalidInput(t *testing.T) {
	called := false
	runner := &mockRunner{run: func(context.Context, orchestrator.Input) (int64, error) {
		called = true
		return 1, nil
	}}
	session := setupServerClient(t, runner, &mockFetcher{})

	_, res := callTool[StartGenerationOutput](t, session, "start_generation", StartGenerationInput{SettingID: 3, Theme: "", PageCount: 3})
	assert.True(t, res.IsError)
	assert.False(t, called)
}

func TestMCPGetProgress_ByJobID(t *testing.T) {
	fetcher := &mockFetcher{snap: remote.ProgressSnapshot{
		TotalUnits: 5, CurrentUnit: 3, Percent: 40, Status: remote.JobStatusGenerating,
		Previews: map[int]string{1: "a", 2: "b"},
	}}
	session := setupServerClient(t, &mockRunner{}, fetcher)

	out, res := callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{JobID: 42})
	require.False(t, res.IsError)
	assert.Equal(t, int64(42), out.JobID)
	assert.Equal(t, "Drawing", out.Phase)
	assert.Equal(t, 40, out.Percent)
	assert.Equal(t, []int{1, 2}, out.Previews)
	assert.False(t, out.Done)
}

func TestMCPGetProgress_FetchError(t *testing.T) {
	fetcher := &mockFetcher{err: remote.AuthenticationRequired(errors.New("HTTP 401"))}
	session := setupServerClient(t, &mockRunner{}, fetcher)

	_, res := callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{JobID: 42})
	assert.True(t, res.IsError)
}

func TestMCPGetProgress_Idle(t *testing.T) {
	session := setupServerClient(t, &mockRunner{}, &mockFetcher{})

	out, _ := callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{})
	assert.Equal(t, "idle", out.Phase)
	assert.True(t, out.Done)
}

func TestMCPCancelGeneration(t *testing.T) {
	runner := &mockRunner{run: func(ctx context.Context, _ orchestrator.Input) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	session := setupServerClient(t, runner, &mockFetcher{})

	out, _ := callTool[CancelGenerationOutput](t, session, "cancel_generation", CancelGenerationInput{})
	assert.False(t, out.Cancelled, "nothing to cancel")

	started, _ := callTool[StartGenerationOutput](t, session, "start_generation", StartGenerationInput{SettingID: 1, Theme: "x", PageCount: 1})
	out, _ = callTool[CancelGenerationOutput](t, session, "cancel_generation", CancelGenerationInput{})
	assert.True(t, out.Cancelled)
	assert.Equal(t, started.SessionID, out.SessionID)

	progress, _ := callTool[GetProgressOutput](t, session, "get_progress", GetProgressInput{})
	assert.Equal(t, "idle", progress.Phase)
}
