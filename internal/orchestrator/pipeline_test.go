package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dusk-indust/picturebook/internal/metrics"
	"github.com/dusk-indust/picturebook/internal/remote"
)

// mockClient implements remote.Client with function fields for testing.
type mockClient struct {
	mu    sync.Mutex
	calls []string

	generateStory   func(ctx context.Context, req remote.StoryRequest) (*remote.StoryResult, error)
	createStorybook func(ctx context.Context, req remote.StorybookRequest) (*remote.StorybookResult, error)
	kick            func(ctx context.Context, id int64) error
}

func (m *mockClient) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockClient) GenerateStory(ctx context.Context, req remote.StoryRequest) (*remote.StoryResult, error) {
	m.record("GenerateStory")
	if m.generateStory != nil {
		return m.generateStory(ctx, req)
	}
	return &remote.StoryResult{StoryPlotID: 10}, nil
}

func (m *mockClient) CreateStorybook(ctx context.Context, req remote.StorybookRequest) (*remote.StorybookResult, error) {
	m.record("CreateStorybook")
	if m.createStorybook != nil {
		return m.createStorybook(ctx, req)
	}
	return &remote.StorybookResult{StorybookID: 20}, nil
}

func (m *mockClient) KickImageGeneration(ctx context.Context, id int64) error {
	m.record("KickImageGeneration")
	if m.kick != nil {
		return m.kick(ctx, id)
	}
	return nil
}

func (m *mockClient) FetchProgress(context.Context, int64) (*remote.ProgressSnapshot, error) {
	m.record("FetchProgress")
	return nil, errors.New("not used by the pipeline")
}

// recordingCompensator captures every Compensation it receives.
type recordingCompensator struct {
	mu   sync.Mutex
	got  []Compensation
	gate chan struct{}
}

func (r *recordingCompensator) Compensate(ctx context.Context, c Compensation) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
	return nil
}

func (r *recordingCompensator) Got() []Compensation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Compensation(nil), r.got...)
}

func validInput() Input {
	return Input{SettingID: 1, Theme: "friendship", PageCount: 5}
}

func TestPipeline_HappyPath(t *testing.T) {
	var gotStory remote.StoryRequest
	var gotBook remote.StorybookRequest
	kicked := make(chan int64, 1)

	client := &mockClient{
		generateStory: func(_ context.Context, req remote.StoryRequest) (*remote.StoryResult, error) {
			gotStory = req
			return &remote.StoryResult{StoryPlotID: 10}, nil
		},
		createStorybook: func(_ context.Context, req remote.StorybookRequest) (*remote.StorybookResult, error) {
			gotBook = req
			return &remote.StorybookResult{StorybookID: 20}, nil
		},
		kick: func(_ context.Context, id int64) error {
			kicked <- id
			return nil
		},
	}

	p := NewPipeline(client, Config{})
	defer p.Close()

	child := int64(3)
	in := validInput()
	in.ChildID = &child

	jobID, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(20), jobID)

	assert.Equal(t, remote.StoryRequest{SettingID: 1, Theme: "friendship", PageCount: 5}, gotStory)
	assert.Equal(t, int64(10), gotBook.StoryPlotID)
	require.NotNil(t, gotBook.ChildID)
	assert.Equal(t, int64(3), *gotBook.ChildID)

	select {
	case id := <-kicked:
		assert.Equal(t, int64(20), id)
	case <-time.After(2 * time.Second):
		t.Fatal("image generation was never kicked")
	}

	p.Wait()
	assert.Equal(t, []string{"GenerateStory", "CreateStorybook", "KickImageGeneration"}, client.Calls())
}

func TestPipeline_InvalidInput_NoRemoteCalls(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"zero setting", Input{Theme: "x", PageCount: 1}},
		{"blank theme", Input{SettingID: 1, Theme: "  ", PageCount: 1}},
		{"zero pages", Input{SettingID: 1, Theme: "x"}},
		{"too many pages", Input{SettingID: 1, Theme: "x", PageCount: MaxPageCount + 1}},
		{"bad child", Input{SettingID: 1, Theme: "x", PageCount: 1, ChildID: new(int64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			p := NewPipeline(client, Config{})
			defer p.Close()

			_, err := p.Run(context.Background(), tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, client.Calls())
		})
	}
}

func TestPipeline_StoryFailure_StopsAndCompensates(t *testing.T) {
	stepErr := remote.RemoteValidation(400, "bad setting")
	client := &mockClient{
		generateStory: func(context.Context, remote.StoryRequest) (*remote.StoryResult, error) {
			return nil, stepErr
		},
	}
	comp := &recordingCompensator{}

	p := NewPipeline(client, Config{Compensator: comp})
	defer p.Close()

	jobID, err := p.Run(context.Background(), validInput())
	require.Error(t, err)
	assert.Same(t, stepErr, err)
	assert.Zero(t, jobID)
	assert.Equal(t, []string{"GenerateStory"}, client.Calls())

	p.Wait()
	got := comp.Got()
	require.Len(t, got, 1)
	assert.Equal(t, StepGenerateStory, got[0].FailedStep)
	assert.False(t, got[0].HasOrphans())
	assert.Empty(t, got[0].Completed)
}

func TestPipeline_StorybookFailure_ReportsOrphanedPlot(t *testing.T) {
	client := &mockClient{
		createStorybook: func(context.Context, remote.StorybookRequest) (*remote.StorybookResult, error) {
			return nil, remote.Network(errors.New("connection reset"))
		},
	}
	comp := &recordingCompensator{}

	p := NewPipeline(client, Config{Compensator: comp})
	defer p.Close()

	_, err := p.Run(context.Background(), validInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetwork)
	assert.Equal(t, []string{"GenerateStory", "CreateStorybook"}, client.Calls())

	p.Wait()
	got := comp.Got()
	require.Len(t, got, 1)
	assert.Equal(t, StepCreateStorybook, got[0].FailedStep)
	assert.Equal(t, int64(10), got[0].StoryPlotID)
	assert.Zero(t, got[0].StorybookID)
	assert.Equal(t, []Step{StepGenerateStory}, got[0].Completed)
}

func TestPipeline_CompensationDoesNotBlockRun(t *testing.T) {
	client := &mockClient{
		createStorybook: func(context.Context, remote.StorybookRequest) (*remote.StorybookResult, error) {
			return nil, remote.RemoteValidation(422, "page count rejected")
		},
	}
	comp := &recordingCompensator{gate: make(chan struct{})}

	p := NewPipeline(client, Config{Compensator: comp})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), validInput())
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, remote.ErrRemoteValidation)
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on the compensation hook")
	}

	assert.Empty(t, comp.Got())
	close(comp.gate)
	p.Close()
	assert.Len(t, comp.Got(), 1)
}

func TestPipeline_ZeroIDIsAFailure(t *testing.T) {
	client := &mockClient{
		generateStory: func(context.Context, remote.StoryRequest) (*remote.StoryResult, error) {
			return &remote.StoryResult{}, nil
		},
	}
	p := NewPipeline(client, Config{})
	defer p.Close()

	_, err := p.Run(context.Background(), validInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetwork)
	assert.Equal(t, []string{"GenerateStory"}, client.Calls())
}

func TestPipeline_KickFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client := &mockClient{
		kick: func(context.Context, int64) error {
			return remote.Network(errors.New("gateway timeout"))
		},
	}
	p := NewPipeline(client, Config{Metrics: m})

	jobID, err := p.Run(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, int64(20), jobID)

	p.Close()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KickFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkflowSteps.WithLabelValues("kick-image-generation", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkflowSteps.WithLabelValues("create-storybook", "success")))
}

func TestPipeline_KickOutlivesCallerContext(t *testing.T) {
	release := make(chan struct{})
	kickErr := make(chan error, 1)

	client := &mockClient{
		kick: func(ctx context.Context, _ int64) error {
			<-release
			kickErr <- ctx.Err()
			return nil
		},
	}
	p := NewPipeline(client, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.Run(ctx, validInput())
	require.NoError(t, err)

	cancel()
	close(release)
	p.Close()

	assert.NoError(t, <-kickErr)
}

func TestPipeline_ProgressEvents(t *testing.T) {
	p := NewPipeline(&mockClient{}, Config{})
	events := p.Progress()

	_, err := p.Run(context.Background(), validInput())
	require.NoError(t, err)
	p.Close()

	var complete []Step
	for ev := range events {
		if ev.Status == ProgressComplete {
			complete = append(complete, ev.Step)
		}
	}
	assert.Equal(t, Steps(), complete)
}

func TestPipeline_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	p := NewPipeline(&mockClient{}, Config{Tracer: tp.Tracer("test")})
	_, err := p.Run(context.Background(), validInput())
	require.NoError(t, err)
	p.Close()

	names := make(map[string]bool)
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	assert.True(t, names["workflow.run"])
	assert.True(t, names["generate-story"])
	assert.True(t, names["create-storybook"])
	assert.True(t, names["kick-image-generation"])
}

// fakeDeleter records delete calls.
type fakeDeleter struct {
	calls     []string
	failPlots bool
}

func (f *fakeDeleter) DeleteStoryPlot(_ context.Context, id int64) error {
	f.calls = append(f.calls, "plot")
	if f.failPlots {
		return errors.New("plot locked")
	}
	return nil
}

func (f *fakeDeleter) DeleteStorybook(_ context.Context, id int64) error {
	f.calls = append(f.calls, "storybook")
	return nil
}

func TestDeletingCompensator(t *testing.T) {
	t.Run("deletes storybook before plot", func(t *testing.T) {
		d := &fakeDeleter{}
		err := DeletingCompensator{Deleter: d}.Compensate(context.Background(), Compensation{StoryPlotID: 1, StorybookID: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"storybook", "plot"}, d.calls)
	})

	t.Run("skips records that were never created", func(t *testing.T) {
		d := &fakeDeleter{}
		err := DeletingCompensator{Deleter: d}.Compensate(context.Background(), Compensation{StoryPlotID: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"plot"}, d.calls)
	})

	t.Run("reports delete failures", func(t *testing.T) {
		d := &fakeDeleter{failPlots: true}
		err := DeletingCompensator{Deleter: d}.Compensate(context.Background(), Compensation{StoryPlotID: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plot locked")
	})

	t.Run("requires a deleter", func(t *testing.T) {
		err := DeletingCompensator{}.Compensate(context.Background(), Compensation{StoryPlotID: 1})
		assert.Error(t, err)
	})
}

func TestLogCompensator_NoError(t *testing.T) {
	err := LogCompensator{}.Compensate(context.Background(), Compensation{StoryPlotID: 1})
	assert.NoError(t, err)
}
