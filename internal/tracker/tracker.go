// Package tracker holds the authoritative in-memory view of every tracked
// generation job and projects it to subscribers, the local snapshot cache,
// and the remote store.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/data"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/observability/metrics"
	"github.com/vidora/genjobs/internal/observability/statsd"
	"github.com/vidora/genjobs/internal/retry"

	"github.com/vidora/genjobs/internal/domain/model"
)

const subscriberBuffer = 8

// Options configures a Tracker.
type Options struct {
	Logger *slog.Logger
	Store  core.JobStore
	Cache  core.SnapshotCache
	Time   data.TimeProvider

	Metrics statsd.Sink

	// DebounceWindow coalesces non-terminal remote writes per job.
	DebounceWindow time.Duration
	// SnapshotExpiry marks how old a snapshot may be before it is stale.
	SnapshotExpiry time.Duration
	// TerminalGrace keeps terminal entries in memory so late readers still
	// observe the final state before eviction.
	TerminalGrace time.Duration

	// TerminalWriteRetry overrides the retry policy for synchronous terminal
	// writes. Zero value means retry.DefaultPolicy.
	TerminalWriteRetry retry.Policy
}

// entry is the tracked state for one job plus its bookkeeping.
type entry struct {
	job       model.Job
	updatedAt time.Time

	// dirtySince is non-zero while a non-terminal change is waiting for the
	// debounced remote write.
	dirtySince time.Time

	// terminalAt is set when the job reached a terminal status; the janitor
	// evicts the entry TerminalGrace after this instant.
	terminalAt time.Time

	subscribers map[string]chan model.Snapshot
}

// Tracker is the authoritative owner of in-flight job state. The in-memory
// map always wins over the remote store within the debounce window; only the
// reconciler may pull memory back toward persisted terminal facts.
type Tracker struct {
	logger *slog.Logger
	store  core.JobStore
	cache  core.SnapshotCache
	time   data.TimeProvider
	sink   statsd.Sink

	debounce      time.Duration
	expiry        time.Duration
	terminalGrace time.Duration
	terminalRetry retry.Policy

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a Tracker. Store and Cache are required; Logger, Time, and
// Metrics fall back to defaults when nil.
func New(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, apperrors.Validation("tracker requires a job store")
	}
	if opts.Cache == nil {
		return nil, apperrors.Validation("tracker requires a snapshot cache")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = data.NewRealTimeProvider()
	}

	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	expiry := opts.SnapshotExpiry
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	grace := opts.TerminalGrace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	terminalRetry := opts.TerminalWriteRetry
	if terminalRetry.Attempts == 0 {
		terminalRetry = retry.DefaultPolicy
	}

	return &Tracker{
		logger:        logger.With("component", "tracker"),
		store:         opts.Store,
		cache:         opts.Cache,
		time:          tp,
		sink:          opts.Metrics,
		debounce:      debounce,
		expiry:        expiry,
		terminalGrace: grace,
		terminalRetry: terminalRetry,
		jobs:          make(map[string]*entry),
	}, nil
}

// StartTracking registers a job in the authoritative map, replacing any
// previous state for the same id, and writes the initial snapshot through to
// the local cache.
func (t *Tracker) StartTracking(ctx context.Context, job model.Job) model.Snapshot {
	now := t.time.Now()

	t.mu.Lock()
	e := &entry{
		job:         job,
		updatedAt:   now,
		subscribers: make(map[string]chan model.Snapshot),
	}
	if prev, ok := t.jobs[job.ID]; ok {
		// Keep existing subscribers across a resume of the same job id.
		e.subscribers = prev.subscribers
	}
	if job.Status.Terminal() {
		e.terminalAt = now
	}
	t.jobs[job.ID] = e
	snapshot := t.snapshotLocked(e)
	t.mu.Unlock()

	t.saveSnapshot(ctx, snapshot)
	return snapshot
}

// Rename reassigns a tracked job to a new id, typically when the provider
// task id replaces the local tracking id after creation succeeds. Subscribers
// follow the job to its new id.
func (t *Tracker) Rename(ctx context.Context, oldID, newID string) bool {
	t.mu.Lock()
	e, ok := t.jobs[oldID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.jobs, oldID)
	e.job.ID = newID
	e.updatedAt = t.time.Now()
	t.jobs[newID] = e
	snapshot := t.snapshotLocked(e)
	t.notifyLocked(e, snapshot)
	t.mu.Unlock()

	if err := t.cache.Delete(ctx, oldID); err != nil {
		t.logger.DebugContext(ctx, "snapshot cache delete failed", "job_id", oldID, "error", err)
	}
	t.saveSnapshot(ctx, snapshot)
	return true
}

// Update merges a partial update into the tracked job. Status moves are
// monotone and progress never decreases; violating updates are dropped
// field-wise rather than failing the call. Terminal transitions are written
// to the remote store synchronously with retry before Update returns;
// non-terminal changes are coalesced into the debounced outbox.
func (t *Tracker) Update(ctx context.Context, jobID string, upd core.JobUpdate) (model.Snapshot, error) {
	t.mu.Lock()
	e, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return model.Snapshot{}, apperrors.NotFoundf("job %s is not tracked", jobID)
	}

	now := t.time.Now()
	prevStatus := e.job.Status
	becameTerminal := false

	if upd.Status != nil && *upd.Status != e.job.Status {
		if e.job.Status.CanTransition(*upd.Status) {
			e.job.Status = *upd.Status
			if prevStatus == model.JobStatusPending && e.job.StartedAt == nil {
				// Set once, on the first move out of pending; elapsed-time
				// accounting anchors here.
				started := now
				e.job.StartedAt = &started
			}
			if e.job.Status.Terminal() {
				becameTerminal = true
				e.terminalAt = now
				if e.job.CompletedAt == nil {
					completed := now
					e.job.CompletedAt = &completed
				}
			}
		} else {
			t.logger.DebugContext(ctx, "rejected status transition",
				"job_id", jobID, "from", prevStatus, "to", *upd.Status)
		}
	}
	if upd.Progress != nil && *upd.Progress > e.job.Progress {
		e.job.Progress = *upd.Progress
	}
	if e.job.Status == model.JobStatusCompleted && e.job.Progress < 100 {
		e.job.Progress = 100
	}
	if upd.VideoURL != nil && *upd.VideoURL != "" {
		e.job.VideoURL = *upd.VideoURL
	}
	if upd.Error != nil && *upd.Error != "" {
		e.job.Error = *upd.Error
	}
	if upd.PollingAttempts != nil {
		e.job.PollingAttempts = *upd.PollingAttempts
	}
	if upd.LastPollingStatus != nil {
		e.job.LastPollingStatus = *upd.LastPollingStatus
	}

	e.updatedAt = now
	if !e.job.Status.Terminal() {
		if e.dirtySince.IsZero() {
			e.dirtySince = now
		}
	} else {
		e.dirtySince = time.Time{}
	}

	snapshot := t.snapshotLocked(e)
	job := e.job
	t.notifyLocked(e, snapshot)
	t.mu.Unlock()

	t.saveSnapshot(ctx, snapshot)

	if becameTerminal {
		t.writeTerminal(ctx, job)
		metrics.EmitJobLifecycle(t.sink, metrics.JobMetric{
			Provider:   string(job.Provider),
			Transition: string(job.Status),
			Result:     metrics.ResultSuccess,
			Duration:   t.jobDuration(job),
		})
	}

	return snapshot, nil
}

// Get returns the current snapshot for a tracked job.
func (t *Tracker) Get(jobID string) (model.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[jobID]
	if !ok {
		return model.Snapshot{}, false
	}
	return t.snapshotLocked(e), true
}

// Snapshots returns a snapshot of every tracked job, used by the reconciler
// to diff memory against the persisted records.
func (t *Tracker) Snapshots() []model.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Snapshot, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, t.snapshotLocked(e))
	}
	return out
}

// Tracked reports whether jobID currently has in-memory state.
func (t *Tracker) Tracked(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[jobID]
	return ok
}

// Subscribe attaches a listener for snapshot updates of one job. If the
// tracked snapshot is fresh it is replayed immediately on the returned
// channel. The cancel function must be called to release the subscription.
func (t *Tracker) Subscribe(jobID string) (<-chan model.Snapshot, func(), error) {
	t.mu.Lock()
	e, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return nil, nil, apperrors.NotFoundf("job %s is not tracked", jobID)
	}

	token := uuid.NewString()
	ch := make(chan model.Snapshot, subscriberBuffer)
	e.subscribers[token] = ch

	// Replay under the lock so no concurrent update can slip in between
	// registration and the replayed snapshot. The fresh channel has room.
	if t.time.Now().Sub(e.updatedAt) <= t.expiry {
		ch <- t.snapshotLocked(e)
	}
	t.mu.Unlock()

	// The entry is captured directly: it survives a Rename, so cancelling
	// still releases the subscription after the job id changed.
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, live := e.subscribers[token]; live {
			delete(e.subscribers, token)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Evict removes a job from memory and deletes its cached snapshot. Used by
// the reconciler when the persisted record disappeared upstream.
func (t *Tracker) Evict(ctx context.Context, jobID string) {
	t.mu.Lock()
	e, ok := t.jobs[jobID]
	var closing []chan model.Snapshot
	if ok {
		delete(t.jobs, jobID)
		closing = detachSubscribersLocked(e)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	for _, ch := range closing {
		close(ch)
	}
	if err := t.cache.Delete(ctx, jobID); err != nil {
		t.logger.DebugContext(ctx, "snapshot cache delete failed", "job_id", jobID, "error", err)
	}
}

// Restore seeds the tracker from the local snapshot cache after a restart.
// Stale snapshots are discarded instead of resurrected. It returns the number
// of snapshots restored.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	snapshots, err := t.cache.LoadAll(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodePersistence, "load cached snapshots")
	}

	now := t.time.Now()
	restored := 0

	t.mu.Lock()
	for _, s := range snapshots {
		if now.Sub(s.UpdatedAt) > t.expiry {
			continue
		}
		if _, exists := t.jobs[s.JobID]; exists {
			continue
		}
		t.jobs[s.JobID] = &entry{
			job: model.Job{
				ID:       s.JobID,
				Provider: s.Provider,
				Status:   s.Status,
				Progress: s.Progress,
				VideoURL: s.VideoURL,
				Error:    s.Error,
			},
			updatedAt:   s.UpdatedAt,
			subscribers: make(map[string]chan model.Snapshot),
		}
		if s.Status.Terminal() {
			t.jobs[s.JobID].terminalAt = s.UpdatedAt
		}
		restored++
	}
	t.mu.Unlock()

	return restored, nil
}

// Run drives the debounced outbox and the janitor until ctx ends. It is
// intended to run in its own goroutine for the lifetime of the process.
func (t *Tracker) Run(ctx context.Context) {
	tick := t.debounce
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	t.logger.InfoContext(ctx, "tracker loop started",
		"debounce", t.debounce.String(),
		"snapshot_expiry", t.expiry.String(),
		"terminal_grace", t.terminalGrace.String())

	for {
		select {
		case <-ctx.Done():
			// Final flush so a clean shutdown does not strand dirty state.
			t.flush(context.WithoutCancel(ctx), true)
			t.logger.Info("tracker loop stopped")
			return
		case <-ticker.C:
			t.FlushDirty(ctx)
			t.EvictExpired(ctx)
		}
	}
}

// FlushDirty writes every entry whose debounce window has elapsed to the
// remote store. Persistence failures are logged and retried on the next tick;
// they never affect the in-memory state.
func (t *Tracker) FlushDirty(ctx context.Context) {
	t.flush(ctx, false)
}

func (t *Tracker) flush(ctx context.Context, force bool) {
	now := t.time.Now()

	t.mu.Lock()
	due := make([]model.Job, 0)
	for _, e := range t.jobs {
		if e.dirtySince.IsZero() {
			continue
		}
		if !force && now.Sub(e.dirtySince) < t.debounce {
			continue
		}
		due = append(due, e.job)
		e.dirtySince = time.Time{}
	}
	t.mu.Unlock()

	for _, job := range due {
		if err := t.store.UpsertJob(ctx, job.ID, upsertFieldsFor(job)); err != nil {
			t.logger.ErrorContext(ctx, "debounced job write failed",
				"job_id", job.ID, "error", err)
			t.markDirty(job.ID)
		}
	}
}

// EvictExpired removes terminal entries past the grace period and stale
// non-terminal entries past the snapshot expiry window.
func (t *Tracker) EvictExpired(ctx context.Context) {
	now := t.time.Now()

	t.mu.Lock()
	expired := make([]string, 0)
	closing := make([]chan model.Snapshot, 0)
	for id, e := range t.jobs {
		evict := false
		switch {
		case !e.terminalAt.IsZero():
			evict = now.Sub(e.terminalAt) >= t.terminalGrace
		default:
			evict = now.Sub(e.updatedAt) >= t.expiry
		}
		if !evict {
			continue
		}
		expired = append(expired, id)
		closing = append(closing, detachSubscribersLocked(e)...)
		delete(t.jobs, id)
	}
	t.mu.Unlock()

	for _, ch := range closing {
		close(ch)
	}
	for _, id := range expired {
		if err := t.cache.Delete(ctx, id); err != nil {
			t.logger.DebugContext(ctx, "snapshot cache delete failed", "job_id", id, "error", err)
		}
		t.logger.InfoContext(ctx, "evicted job snapshot", "job_id", id)
	}
}

func (t *Tracker) markDirty(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[jobID]; ok && !e.job.Status.Terminal() && e.dirtySince.IsZero() {
		e.dirtySince = t.time.Now()
	}
}

// writeTerminal persists a terminal transition synchronously with retry.
// Even an exhausted retry budget never fails the job; the reconciler will
// repair the gap on its next pass.
func (t *Tracker) writeTerminal(ctx context.Context, job model.Job) {
	err := retry.Do(ctx, t.terminalRetry, func(ctx context.Context) error {
		return t.store.UpsertJob(ctx, job.ID, upsertFieldsFor(job))
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "terminal job write failed",
			"job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (t *Tracker) saveSnapshot(ctx context.Context, s model.Snapshot) {
	if err := t.cache.Save(ctx, s); err != nil {
		t.logger.ErrorContext(ctx, "snapshot cache write failed",
			"job_id", s.JobID, "error", err)
	}
}

// notifyLocked delivers a snapshot to every subscriber of an entry. Sending
// while the caller holds mu keeps per-job delivery in update order; the sends
// never block, so slow consumers with a full buffer miss intermediate
// snapshots rather than stall updates.
func (t *Tracker) notifyLocked(e *entry, s model.Snapshot) {
	for _, ch := range e.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// detachSubscribersLocked removes every subscriber from an entry and returns
// the channels for the caller to close outside the lock. Detaching under mu
// keeps a concurrent unsubscribe from double-closing a channel.
func detachSubscribersLocked(e *entry) []chan model.Snapshot {
	channels := make([]chan model.Snapshot, 0, len(e.subscribers))
	for token, ch := range e.subscribers {
		channels = append(channels, ch)
		delete(e.subscribers, token)
	}
	return channels
}

// snapshotLocked derives the externally observable snapshot. Caller holds mu.
func (t *Tracker) snapshotLocked(e *entry) model.Snapshot {
	job := e.job
	now := t.time.Now()

	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	elapsed := 0
	if !start.IsZero() {
		end := now
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		if d := end.Sub(start); d > 0 {
			elapsed = int(d / time.Second)
		}
	}

	remaining := 0
	if job.Status == model.JobStatusProcessing && job.Progress > 0 && job.Progress < 100 {
		remaining = elapsed * (100 - job.Progress) / job.Progress
	}

	return model.Snapshot{
		JobID:                     job.ID,
		Provider:                  job.Provider,
		Status:                    job.Status,
		StatusText:                model.StatusText(job.Status, job.Progress),
		Progress:                  job.Progress,
		VideoURL:                  job.VideoURL,
		Error:                     job.Error,
		ElapsedSeconds:            elapsed,
		EstimatedRemainingSeconds: remaining,
		UpdatedAt:                 e.updatedAt,
	}
}

func (t *Tracker) jobDuration(job model.Job) time.Duration {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt)
}

func upsertFieldsFor(job model.Job) model.UpsertFields {
	fields := model.UpsertFields{
		UserID:   job.UserID,
		Provider: job.Provider,
		Status:   job.Status,
		Progress: intPtr(job.Progress),
	}
	if job.VideoURL != "" {
		fields.VideoURL = strPtr(job.VideoURL)
	}
	if job.Error != "" {
		fields.Error = strPtr(job.Error)
	}
	fields.StartedAt = job.StartedAt
	fields.CompletedAt = job.CompletedAt
	return fields
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
