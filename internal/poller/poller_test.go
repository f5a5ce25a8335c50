package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/picturebook/internal/metrics"
	"github.com/dusk-indust/picturebook/internal/remote"
)

type response struct {
	snap *remote.ProgressSnapshot
	err  error
}

// scriptedFetcher replays responses in order and repeats the last one.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []response
	calls  int
}

func (f *scriptedFetcher) FetchProgress(_ context.Context, jobID int64) (*remote.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	r := f.script[i]
	if r.snap != nil {
		s := *r.snap
		s.JobID = jobID
		return &s, nil
	}
	return nil, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snapshotOf(percent int, status remote.JobStatus) response {
	return response{snap: &remote.ProgressSnapshot{Percent: percent, Status: status}}
}

func fast() Config {
	return Config{
		SuccessInterval: time.Millisecond,
		ErrorInterval:   time.Millisecond,
		FetchTimeout:    time.Second,
	}
}

// recorder collects callback invocations.
type recorder struct {
	mu        sync.Mutex
	snapshots []remote.ProgressSnapshot
	completed []int64
	failed    []string
	fetchErrs []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSnapshot: func(s remote.ProgressSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.snapshots = append(r.snapshots, s)
		},
		OnCompleted: func(id int64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, id)
		},
		OnFailed: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, msg)
		},
		OnFetchError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fetchErrs = append(r.fetchErrs, err)
		},
	}
}

func (r *recorder) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestPoller_CompletesOnce(t *testing.T) {
	f := &scriptedFetcher{script: []response{
		snapshotOf(20, remote.JobStatusGenerating),
		snapshotOf(100, remote.JobStatusCompleted),
	}}
	rec := &recorder{}
	p := New(f, fast())

	require.True(t, p.Start(context.Background(), 20, rec.callbacks()))
	p.Wait()

	assert.False(t, p.Running())
	require.Len(t, rec.snapshots, 2)
	assert.Equal(t, 20, rec.snapshots[0].Percent)
	assert.Equal(t, remote.JobStatusCompleted, rec.snapshots[1].Status)
	assert.Equal(t, []int64{20}, rec.completed)
	assert.Empty(t, rec.failed)
	assert.Equal(t, 2, f.Calls(), "no fetch after a terminal status")
}

func TestPoller_FailedReportsUserMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"server message", "page 3 could not be drawn", "page 3 could not be drawn"},
		{"no message", "", "Something went wrong while drawing your book."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{script: []response{
				snapshotOf(20, remote.JobStatusGenerating),
				snapshotOf(20, remote.JobStatusGenerating),
				{snap: &remote.ProgressSnapshot{Percent: 40, Status: remote.JobStatusFailed, Message: tt.message}},
			}}
			rec := &recorder{}
			p := New(f, fast())

			require.True(t, p.Start(context.Background(), 7, rec.callbacks()))
			p.Wait()

			assert.Equal(t, []string{tt.want}, rec.failed)
			assert.Empty(t, rec.completed)
			assert.Len(t, rec.snapshots, 3)
		})
	}
}

func TestPoller_RetriesFetchErrorsForever(t *testing.T) {
	f := &scriptedFetcher{script: []response{
		{err: remote.Network(errors.New("connection refused"))},
		{err: remote.AuthenticationRequired(errors.New("token expired"))},
		{err: remote.Network(errors.New("503"))},
		snapshotOf(100, remote.JobStatusCompleted),
	}}
	rec := &recorder{}
	p := New(f, fast())

	require.True(t, p.Start(context.Background(), 1, rec.callbacks()))
	p.Wait()

	assert.Len(t, rec.fetchErrs, 3)
	assert.Empty(t, rec.failed, "fetch errors are never surfaced as failures")
	assert.Equal(t, []int64{1}, rec.completed)
	assert.Len(t, rec.snapshots, 1)
}

func TestPoller_StartWhileRunningIsIgnored(t *testing.T) {
	f := &scriptedFetcher{script: []response{snapshotOf(10, remote.JobStatusGenerating)}}
	p := New(f, fast())
	defer p.Stop()

	require.True(t, p.Start(context.Background(), 1, Callbacks{}))
	assert.False(t, p.Start(context.Background(), 2, Callbacks{}))
	assert.True(t, p.Running())
}

func TestPoller_StopIsIdempotentAndSilencesCallbacks(t *testing.T) {
	f := &scriptedFetcher{script: []response{snapshotOf(10, remote.JobStatusGenerating)}}
	rec := &recorder{}
	p := New(f, fast())

	require.True(t, p.Start(context.Background(), 1, rec.callbacks()))
	require.Eventually(t, func() bool { return rec.snapshotCount() >= 2 }, 2*time.Second, time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	n := rec.snapshotCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.snapshotCount())
}

func TestPoller_StopAfterCompletion(t *testing.T) {
	f := &scriptedFetcher{script: []response{snapshotOf(100, remote.JobStatusCompleted)}}
	p := New(f, fast())

	require.True(t, p.Start(context.Background(), 1, Callbacks{}))
	p.Wait()

	assert.NotPanics(t, p.Stop)
	assert.True(t, p.Start(context.Background(), 2, Callbacks{}), "a finished poller can start again")
	p.Wait()
}

func TestPoller_ContextCancellationStopsLoop(t *testing.T) {
	f := &scriptedFetcher{script: []response{{err: remote.Network(errors.New("down"))}}}
	var fetchErrs atomic.Int32
	p := New(f, fast())

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, p.Start(ctx, 1, Callbacks{
		OnFetchError: func(error) { fetchErrs.Add(1) },
	}))
	require.Eventually(t, func() bool { return fetchErrs.Load() > 0 }, 2*time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, time.Millisecond)
}

func TestPoller_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	cfg := fast()
	cfg.Metrics = m

	f := &scriptedFetcher{script: []response{
		{err: remote.Network(errors.New("blip"))},
		snapshotOf(100, remote.JobStatusCompleted),
	}}
	p := New(f, cfg)
	require.True(t, p.Start(context.Background(), 1, Callbacks{}))
	p.Wait()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollFetches.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollFetches.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollTerminals.WithLabelValues("completed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActivePollers))
}
