package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/models"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    int
	err      error
	requests []models.Request
	projects []models.Project
	acts     []models.Activity
}

func (f *fakeSource) EnsureNetwork(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSource) GetAllRequests(context.Context) ([]models.Request, error) {
	return append([]models.Request(nil), f.requests...), nil
}

func (f *fakeSource) GetAllProjects(context.Context) ([]models.Project, error) {
	return append([]models.Project(nil), f.projects...), nil
}

func (f *fakeSource) GetActivities(context.Context) ([]models.Activity, error) {
	return append([]models.Activity(nil), f.acts...), nil
}

func (f *fakeSource) syncCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu   sync.Mutex
	snap db.Snapshot
	runs []models.SyncRun
}

func (f *fakeSink) ReplaceSnapshot(_ context.Context, snap db.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	return nil
}

func (f *fakeSink) StartSyncRun(context.Context) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeSink) FinishSyncRun(_ context.Context, run models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func TestSync_JoinsCreatedAtAndRecordsRun(t *testing.T) {
	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		requests: []models.Request{{ID: "req_1", Amount: big.NewInt(1), Description: "<b>Food</b> for kids"}},
		projects: []models.Project{{ID: "proj_1", Title: "Well<script>alert(1)</script>", DecisionMade: true, Approved: true}},
		acts: []models.Activity{
			{ID: "req_1", Kind: models.ActivityRequest, CreatedAt: created},
			{ID: "proj_1", Kind: models.ActivityProject, CreatedAt: created.Add(time.Hour)},
		},
	}
	sink := &fakeSink{}
	reg := prometheus.NewRegistry()
	p := NewPipeline(src, sink, NewMetrics(reg), zap.NewNop())

	stats, err := p.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 1, stats.Projects)
	assert.Equal(t, 2, stats.Activities)

	require.Len(t, sink.snap.Requests, 1)
	require.NotNil(t, sink.snap.Requests[0].CreatedAt)
	assert.Equal(t, created, *sink.snap.Requests[0].CreatedAt)
	assert.Equal(t, "Food for kids", sink.snap.Requests[0].Description)
	assert.Equal(t, "Well", sink.snap.Projects[0].Title)
	require.NotNil(t, sink.snap.Projects[0].CreatedAt)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, models.SyncCompleted, sink.runs[0].Status)

	// plain text survives unescaped
	src.requests[0].Description = `Food & water for "Tom's" kids, 5 < 6`
	src.projects[0].Title = "Wells & pumps"
	_, err = p.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `Food & water for "Tom's" kids, 5 < 6`, sink.snap.Requests[0].Description)
	assert.Equal(t, "Wells & pumps", sink.snap.Projects[0].Title)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.syncs))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.statuses.WithLabelValues("project", "approved")))
}

func TestSync_FailureRecordsFailedRun(t *testing.T) {
	src := &fakeSource{err: errors.New("wrong network")}
	sink := &fakeSink{}
	p := NewPipeline(src, sink, nil, zap.NewNop())

	_, err := p.Sync(context.Background())
	require.Error(t, err)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, models.SyncFailed, sink.runs[0].Status)
	assert.Equal(t, "wrong network", sink.runs[0].Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.failures))
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	p := NewPipeline(src, &fakeSink{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.syncCalls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_KeepsGoingAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{err: errors.New("rpc down")}
	p := NewPipeline(src, &fakeSink{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.syncCalls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Clean water", "Clean water"},
		{"ampersand and quotes", `Food & water for "Tom's" kids`, `Food & water for "Tom's" kids`},
		{"less than", "5 < 6", "5 < 6"},
		{"tags stripped", "<b>Bold</b> <script>x()</script>claim", "Bold claim"},
		{"entity decoded", "AT&amp;T", "AT&T"},
		{"invalid utf8", "ok\xffok", "okok"},
		{"trimmed", "  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
