package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/mocks"
)

// recordingSink captures every update pushed by the poller.
type recordingSink struct {
	mu       sync.Mutex
	updates  []core.JobUpdate
	notFound bool
}

func (s *recordingSink) Update(ctx context.Context, jobID string, upd core.JobUpdate) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notFound {
		return model.Snapshot{}, apperrors.NotFoundf("job %s is not tracked", jobID)
	}
	s.updates = append(s.updates, upd)
	return model.Snapshot{JobID: jobID}, nil
}

func (s *recordingSink) last() core.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return core.JobUpdate{}
	}
	return s.updates[len(s.updates)-1]
}

func newPollerForTest(t *testing.T, adapter core.ProviderAdapter, sink ProgressSink, maxAttempts int) *Poller {
	t.Helper()
	p, err := New(Options{
		Adapter:                adapter,
		Sink:                   sink,
		Interval:               time.Millisecond,
		MaxAttempts:            maxAttempts,
		MaxConsecutiveFailures: 3,
	})
	require.NoError(t, err)
	return p
}

func newMockAdapter(t *testing.T) *mocks.MockProviderAdapter {
	t.Helper()
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockProviderAdapter(ctrl)
	adapter.EXPECT().Name().Return(model.ProviderWuyin).AnyTimes()
	return adapter
}

func TestNew_RequiresAdapterAndSink(t *testing.T) {
	_, err := New(Options{Sink: &recordingSink{}})
	assert.Error(t, err)

	_, err = New(Options{Adapter: newMockAdapter(t)})
	assert.Error(t, err)
}

func TestRun_StopsOnCompletedObservation(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "success",
		Status:    model.JobStatusCompleted,
		Progress:  100,
		VideoURL:  "https://cdn.example/v.mp4",
	}, nil)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))

	assert.Equal(t, StateCompleted, p.State())
	upd := sink.last()
	require.NotNil(t, upd.Status)
	assert.Equal(t, model.JobStatusCompleted, *upd.Status)
	require.NotNil(t, upd.VideoURL)
	assert.Equal(t, "https://cdn.example/v.mp4", *upd.VideoURL)
	require.NotNil(t, upd.Progress)
	assert.Equal(t, 100, *upd.Progress)
}

func TestRun_UnreportedProgressLeavesFieldNil(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "processing",
		Status:    model.JobStatusProcessing,
		Progress:  -1,
	}, nil)
	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "succeed",
		Status:    model.JobStatusCompleted,
		Progress:  -1,
		VideoURL:  "https://cdn.example/k.mp4",
	}, nil)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))

	require.Len(t, sink.updates, 2)
	assert.Nil(t, sink.updates[0].Progress)
	assert.Nil(t, sink.updates[1].Progress)
}

func TestRun_FailsAfterConsecutiveQueryErrors(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").
		Return(core.StatusResult{}, apperrors.PollingNetwork("wuyin", errors.New("eof"))).
		Times(3)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))

	assert.Equal(t, StateFailed, p.State())
	upd := sink.last()
	require.NotNil(t, upd.Status)
	assert.Equal(t, model.JobStatusFailed, *upd.Status)
	require.NotNil(t, upd.Error)
	assert.Contains(t, *upd.Error, "3 consecutive errors")
}

func TestRun_SuccessResetsFailureCounter(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	netErr := apperrors.PollingNetwork("wuyin", errors.New("eof"))
	processing := core.StatusResult{RawStatus: "generating", Status: model.JobStatusProcessing, Progress: 50}
	completed := core.StatusResult{
		RawStatus: "success",
		Status:    model.JobStatusCompleted,
		Progress:  100,
		VideoURL:  "https://cdn.example/v.mp4",
	}

	gomock.InOrder(
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{}, netErr),
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{}, netErr),
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(processing, nil),
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{}, netErr),
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{}, netErr),
		adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(completed, nil),
	)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))
	assert.Equal(t, StateCompleted, p.State())
}

func TestRun_TimesOutAfterAttemptBudget(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "generating",
		Status:    model.JobStatusProcessing,
		Progress:  10,
	}, nil).Times(2)

	p := newPollerForTest(t, adapter, sink, 2)
	require.NoError(t, p.Run(context.Background(), "task-1"))

	assert.Equal(t, StateTimeout, p.State())
	upd := sink.last()
	require.NotNil(t, upd.Status)
	assert.Equal(t, model.JobStatusFailed, *upd.Status)
	require.NotNil(t, upd.Error)
	assert.Contains(t, *upd.Error, "timed out after 2 polling attempts")
}

func TestRun_ReturnsContextErrorOnCancellation(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").DoAndReturn(
		func(context.Context, string) (core.StatusResult, error) {
			cancel()
			return core.StatusResult{RawStatus: "generating", Status: model.JobStatusProcessing, Progress: 5}, nil
		},
	).AnyTimes()

	p := newPollerForTest(t, adapter, sink, 60)
	err := p.Run(ctx, "task-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StopsWhenJobNoLongerTracked(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{notFound: true}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "generating",
		Status:    model.JobStatusProcessing,
		Progress:  10,
	}, nil)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))
	assert.Equal(t, StateFailed, p.State())
}

func TestRun_SingleUse(t *testing.T) {
	adapter := newMockAdapter(t)
	sink := &recordingSink{}

	adapter.EXPECT().QueryStatus(gomock.Any(), "task-1").Return(core.StatusResult{
		RawStatus: "success",
		Status:    model.JobStatusCompleted,
		Progress:  100,
		VideoURL:  "https://cdn.example/v.mp4",
	}, nil)

	p := newPollerForTest(t, adapter, sink, 60)
	require.NoError(t, p.Run(context.Background(), "task-1"))

	err := p.Run(context.Background(), "task-1")
	assert.True(t, apperrors.IsConflict(err))
}
