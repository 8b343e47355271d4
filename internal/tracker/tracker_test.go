package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/data"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/retry"
)

// memStore is an in-memory JobStore that records every upsert.
type memStore struct {
	mu      sync.Mutex
	upserts []model.UpsertFields
	ids     []string
	failN   int
}

func (s *memStore) GetJob(ctx context.Context, id string) (*model.Record, error) {
	return nil, apperrors.NotFoundf("job %s", id)
}

func (s *memStore) UpsertJob(ctx context.Context, id string, fields model.UpsertFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("store unavailable")
	}
	s.ids = append(s.ids, id)
	s.upserts = append(s.upserts, fields)
	return nil
}

func (s *memStore) ListJobsByStatus(ctx context.Context, userScope string, status model.JobStatus) ([]*model.Record, error) {
	return nil, nil
}

func (s *memStore) DeleteJob(ctx context.Context, id string) error { return nil }

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

func (s *memStore) lastUpsert() (string, model.UpsertFields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.upserts) == 0 {
		return "", model.UpsertFields{}
	}
	return s.ids[len(s.ids)-1], s.upserts[len(s.upserts)-1]
}

// memCache is an in-memory SnapshotCache.
type memCache struct {
	mu        sync.Mutex
	snapshots map[string]model.Snapshot
	deleted   []string
}

func newMemCache() *memCache {
	return &memCache{snapshots: make(map[string]model.Snapshot)}
}

func (c *memCache) Save(ctx context.Context, snapshot model.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[snapshot.JobID] = snapshot
	return nil
}

func (c *memCache) LoadAll(ctx context.Context) ([]model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Snapshot, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s)
	}
	return out, nil
}

func (c *memCache) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, jobID)
	c.deleted = append(c.deleted, jobID)
	return nil
}

func (c *memCache) has(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snapshots[jobID]
	return ok
}

// timingSink records Timing emissions by metric name.
type timingSink struct {
	mu      sync.Mutex
	timings map[string]time.Duration
}

func (s *timingSink) Count(name string, value int64, tags map[string]string)   {}
func (s *timingSink) Gauge(name string, value float64, tags map[string]string) {}

func (s *timingSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timings == nil {
		s.timings = make(map[string]time.Duration)
	}
	s.timings[name] = value
}

func (s *timingSink) timing(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.timings[name]
	return d, ok
}

type trackerFixture struct {
	tracker *Tracker
	store   *memStore
	cache   *memCache
	clock   *data.FixedTimeProvider
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	store := &memStore{}
	cache := newMemCache()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	tr, err := New(Options{
		Store:              store,
		Cache:              cache,
		Time:               clock,
		DebounceWindow:     5 * time.Second,
		SnapshotExpiry:     30 * time.Minute,
		TerminalGrace:      2 * time.Minute,
		TerminalWriteRetry: retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	return &trackerFixture{tracker: tr, store: store, cache: cache, clock: clock}
}

func (f *trackerFixture) startJob(t *testing.T, id string, status model.JobStatus) model.Snapshot {
	t.Helper()
	return f.tracker.StartTracking(context.Background(), model.Job{
		ID:        id,
		UserID:    "user-1",
		Provider:  model.ProviderWuyin,
		Status:    status,
		CreatedAt: f.clock.Now(),
	})
}

func statusPtr(s model.JobStatus) *model.JobStatus { return &s }

func TestNew_RequiresStoreAndCache(t *testing.T) {
	_, err := New(Options{Cache: newMemCache()})
	assert.Error(t, err)

	_, err = New(Options{Store: &memStore{}})
	assert.Error(t, err)
}

func TestStartTracking_WritesSnapshotThrough(t *testing.T) {
	f := newTrackerFixture(t)

	snapshot := f.startJob(t, "job-1", model.JobStatusPending)

	assert.Equal(t, "job-1", snapshot.JobID)
	assert.Equal(t, model.JobStatusPending, snapshot.Status)
	assert.True(t, f.cache.has("job-1"))
	assert.True(t, f.tracker.Tracked("job-1"))

	got, ok := f.tracker.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, snapshot.JobID, got.JobID)
}

func TestUpdate_UnknownJob(t *testing.T) {
	f := newTrackerFixture(t)

	_, err := f.tracker.Update(context.Background(), "missing", core.StatusUpdate(model.JobStatusProcessing))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdate_ProgressNeverDecreases(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	p60 := 60
	snapshot, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p60})
	require.NoError(t, err)
	assert.Equal(t, 60, snapshot.Progress)

	p40 := 40
	snapshot, err = f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p40})
	require.NoError(t, err)
	assert.Equal(t, 60, snapshot.Progress)
}

func TestUpdate_RejectsBackwardStatusButAppliesRest(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	p70 := 70
	snapshot, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{
		Status:   statusPtr(model.JobStatusPending),
		Progress: &p70,
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusProcessing, snapshot.Status)
	assert.Equal(t, 70, snapshot.Progress)
}

func TestUpdate_TerminalWritesSynchronously(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	video := "https://cdn.example/v.mp4"
	p80 := 80
	snapshot, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{
		Status:   statusPtr(model.JobStatusCompleted),
		Progress: &p80,
		VideoURL: &video,
	})
	require.NoError(t, err)

	// Completion forces progress to 100 regardless of the last report.
	assert.Equal(t, model.JobStatusCompleted, snapshot.Status)
	assert.Equal(t, 100, snapshot.Progress)
	assert.Equal(t, video, snapshot.VideoURL)

	// The terminal write happened before Update returned.
	require.Equal(t, 1, f.store.upsertCount())
	id, fields := f.store.lastUpsert()
	assert.Equal(t, "job-1", id)
	assert.Equal(t, model.JobStatusCompleted, fields.Status)
	require.NotNil(t, fields.Progress)
	assert.Equal(t, 100, *fields.Progress)
	require.NotNil(t, fields.VideoURL)
	assert.Equal(t, video, *fields.VideoURL)
	require.NotNil(t, fields.CompletedAt)
}

func TestUpdate_SetsStartedAtOnLeavingPending(t *testing.T) {
	store := &memStore{}
	cache := newMemCache()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := &timingSink{}

	tr, err := New(Options{
		Store:              store,
		Cache:              cache,
		Time:               clock,
		Metrics:            sink,
		TerminalWriteRetry: retry.Policy{Attempts: 1},
	})
	require.NoError(t, err)

	tr.StartTracking(context.Background(), model.Job{
		ID:        "job-1",
		UserID:    "user-1",
		Provider:  model.ProviderWuyin,
		Status:    model.JobStatusPending,
		CreatedAt: clock.Now(),
	})

	started := clock.Now()
	_, err = tr.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusProcessing))
	require.NoError(t, err)

	clock.AddTime(90 * time.Second)
	snapshot, err := tr.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, 90, snapshot.ElapsedSeconds)

	// The terminal upsert carries the start time even though the initial
	// persist never ran.
	_, fields := store.lastUpsert()
	require.NotNil(t, fields.StartedAt)
	assert.True(t, fields.StartedAt.Equal(started))
	require.NotNil(t, fields.CompletedAt)

	d, ok := sink.timing("job.duration")
	require.True(t, ok, "expected a job.duration timing on completion")
	assert.Equal(t, 90*time.Second, d)
}

func TestUpdate_StartedAtSetOnce(t *testing.T) {
	f := newTrackerFixture(t)
	earlier := f.clock.Now().Add(-10 * time.Minute)
	f.tracker.StartTracking(context.Background(), model.Job{
		ID:        "job-1",
		UserID:    "user-1",
		Provider:  model.ProviderWuyin,
		Status:    model.JobStatusPending,
		CreatedAt: earlier,
		StartedAt: &earlier,
	})

	_, err := f.tracker.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusFailed))
	require.NoError(t, err)

	// A seeded start time survives the transition untouched.
	_, fields := f.store.lastUpsert()
	require.NotNil(t, fields.StartedAt)
	assert.True(t, fields.StartedAt.Equal(earlier))
}

func TestUpdate_TerminalWriteRetries(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)
	f.store.failN = 2

	_, err := f.tracker.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusFailed))
	require.NoError(t, err)

	// Two failures then success inside the retry budget.
	assert.Equal(t, 1, f.store.upsertCount())
}

func TestUpdate_TerminalTransitionsAreFinal(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	_, err := f.tracker.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusCancelled))
	require.NoError(t, err)

	snapshot, err := f.tracker.Update(context.Background(), "job-1", core.StatusUpdate(model.JobStatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, snapshot.Status)

	// Only the first terminal transition wrote to the store.
	assert.Equal(t, 1, f.store.upsertCount())
}

func TestFlushDirty_DebouncesNonTerminalWrites(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	p10 := 10
	_, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p10})
	require.NoError(t, err)
	p20 := 20
	_, err = f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p20})
	require.NoError(t, err)

	// Inside the window nothing reaches the store.
	f.tracker.FlushDirty(context.Background())
	assert.Equal(t, 0, f.store.upsertCount())

	f.clock.AddTime(6 * time.Second)
	f.tracker.FlushDirty(context.Background())
	require.Equal(t, 1, f.store.upsertCount())

	_, fields := f.store.lastUpsert()
	require.NotNil(t, fields.Progress)
	assert.Equal(t, 20, *fields.Progress)

	// Clean entries are not rewritten.
	f.clock.AddTime(6 * time.Second)
	f.tracker.FlushDirty(context.Background())
	assert.Equal(t, 1, f.store.upsertCount())
}

func TestFlushDirty_RequeuesFailedWrites(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	p10 := 10
	_, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p10})
	require.NoError(t, err)

	f.store.failN = 1
	f.clock.AddTime(6 * time.Second)
	f.tracker.FlushDirty(context.Background())
	assert.Equal(t, 0, f.store.upsertCount())

	// The entry went dirty again and flushes on a later tick.
	f.clock.AddTime(6 * time.Second)
	f.tracker.FlushDirty(context.Background())
	assert.Equal(t, 1, f.store.upsertCount())
}

func TestSubscribe_ReplaysAndDelivers(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	events, cancel, err := f.tracker.Subscribe("job-1")
	require.NoError(t, err)
	defer cancel()

	// Fresh snapshot is replayed immediately.
	replay := <-events
	assert.Equal(t, "job-1", replay.JobID)

	p50 := 50
	_, err = f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p50})
	require.NoError(t, err)

	next := <-events
	assert.Equal(t, 50, next.Progress)
}

func TestSubscribe_UnknownJob(t *testing.T) {
	f := newTrackerFixture(t)

	_, _, err := f.tracker.Subscribe("missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	events, cancel, err := f.tracker.Subscribe("job-1")
	require.NoError(t, err)

	<-events // drain the replay
	cancel()
	cancel() // idempotent

	_, open := <-events
	assert.False(t, open)
}

func TestSubscribe_CancelReleasesAfterRename(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "tracking-1", model.JobStatusPending)

	events, cancel, err := f.tracker.Subscribe("tracking-1")
	require.NoError(t, err)
	<-events // drain the replay

	require.True(t, f.tracker.Rename(context.Background(), "tracking-1", "task-1"))
	<-events // drain the renamed snapshot

	// Unsubscribing by the pre-rename handle still releases the entry.
	cancel()
	_, open := <-events
	assert.False(t, open)

	f.tracker.mu.Lock()
	e := f.tracker.jobs["task-1"]
	f.tracker.mu.Unlock()
	require.NotNil(t, e)
	assert.Empty(t, e.subscribers)
}

func TestSubscribe_DeliveryOrderedUnderConcurrentUpdates(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	events, cancel, err := f.tracker.Subscribe("job-1")
	require.NoError(t, err)
	<-events // drain the replay

	// Progress is monotone per job, so any delivery inversion shows up as
	// a snapshot with lower progress than one already received.
	done := make(chan struct{})
	go func() {
		defer close(done)
		prev := 0
		for s := range events {
			assert.GreaterOrEqual(t, s.Progress, prev)
			prev = s.Progress
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 1; p <= 50; p++ {
				progress := p
				_, uerr := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &progress})
				assert.NoError(t, uerr)
			}
		}()
	}
	wg.Wait()

	cancel()
	<-done
}

func TestRename_SubscribersFollow(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "tracking-1", model.JobStatusPending)

	events, cancel, err := f.tracker.Subscribe("tracking-1")
	require.NoError(t, err)
	defer cancel()
	<-events // drain the replay

	require.True(t, f.tracker.Rename(context.Background(), "tracking-1", "task-1"))

	assert.False(t, f.tracker.Tracked("tracking-1"))
	assert.True(t, f.tracker.Tracked("task-1"))
	assert.False(t, f.cache.has("tracking-1"))
	assert.True(t, f.cache.has("task-1"))

	renamed := <-events
	assert.Equal(t, "task-1", renamed.JobID)

	_, err = f.tracker.Update(context.Background(), "task-1", core.StatusUpdate(model.JobStatusProcessing))
	require.NoError(t, err)

	got := <-events
	assert.Equal(t, "task-1", got.JobID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
}

func TestRename_UnknownJob(t *testing.T) {
	f := newTrackerFixture(t)
	assert.False(t, f.tracker.Rename(context.Background(), "nope", "task-1"))
}

func TestRestore_SeedsFromCacheSkippingStale(t *testing.T) {
	f := newTrackerFixture(t)
	now := f.clock.Now()

	require.NoError(t, f.cache.Save(context.Background(), model.Snapshot{
		JobID:     "fresh",
		Provider:  model.ProviderWuyin,
		Status:    model.JobStatusProcessing,
		Progress:  30,
		UpdatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, f.cache.Save(context.Background(), model.Snapshot{
		JobID:     "stale",
		Provider:  model.ProviderWuyin,
		Status:    model.JobStatusProcessing,
		UpdatedAt: now.Add(-time.Hour),
	}))

	restored, err := f.tracker.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.True(t, f.tracker.Tracked("fresh"))
	assert.False(t, f.tracker.Tracked("stale"))

	got, ok := f.tracker.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, 30, got.Progress)
}

func TestRestore_DoesNotOverwriteLiveState(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	p90 := 90
	_, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p90})
	require.NoError(t, err)

	restored, err := f.tracker.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, restored)

	got, _ := f.tracker.Get("job-1")
	assert.Equal(t, 90, got.Progress)
}

func TestEvictExpired(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "terminal", model.JobStatusProcessing)
	f.startJob(t, "live", model.JobStatusProcessing)

	_, err := f.tracker.Update(context.Background(), "terminal", core.StatusUpdate(model.JobStatusCompleted))
	require.NoError(t, err)

	events, cancel, err := f.tracker.Subscribe("terminal")
	require.NoError(t, err)
	defer cancel()
	<-events // drain the replay

	// Inside the grace period nothing is evicted.
	f.clock.AddTime(time.Minute)
	f.tracker.EvictExpired(context.Background())
	assert.True(t, f.tracker.Tracked("terminal"))

	f.clock.AddTime(2 * time.Minute)
	f.tracker.EvictExpired(context.Background())
	assert.False(t, f.tracker.Tracked("terminal"))
	assert.True(t, f.tracker.Tracked("live"))
	assert.False(t, f.cache.has("terminal"))

	_, open := <-events
	assert.False(t, open)
}

func TestEvictExpired_StaleNonTerminal(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "abandoned", model.JobStatusProcessing)

	f.clock.AddTime(31 * time.Minute)
	f.tracker.EvictExpired(context.Background())

	assert.False(t, f.tracker.Tracked("abandoned"))
	assert.False(t, f.cache.has("abandoned"))
}

func TestEvict_ClosesSubscribersAndDropsCache(t *testing.T) {
	f := newTrackerFixture(t)
	f.startJob(t, "job-1", model.JobStatusProcessing)

	events, _, err := f.tracker.Subscribe("job-1")
	require.NoError(t, err)
	<-events // drain the replay

	f.tracker.Evict(context.Background(), "job-1")

	assert.False(t, f.tracker.Tracked("job-1"))
	assert.False(t, f.cache.has("job-1"))
	_, open := <-events
	assert.False(t, open)
}

func TestSnapshot_ElapsedAndRemaining(t *testing.T) {
	f := newTrackerFixture(t)

	started := f.clock.Now()
	f.tracker.StartTracking(context.Background(), model.Job{
		ID:        "job-1",
		Provider:  model.ProviderWuyin,
		Status:    model.JobStatusProcessing,
		CreatedAt: started,
		StartedAt: &started,
	})

	f.clock.AddTime(30 * time.Second)
	p25 := 25
	snapshot, err := f.tracker.Update(context.Background(), "job-1", core.JobUpdate{Progress: &p25})
	require.NoError(t, err)

	assert.Equal(t, 30, snapshot.ElapsedSeconds)
	// 25% took 30s, so the remaining 75% projects to 90s.
	assert.Equal(t, 90, snapshot.EstimatedRemainingSeconds)
}
