// Package orchestrator coordinates the full lifecycle of video generation
// jobs: provider selection, task creation with fallback, persistence,
// registration, and polling.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/data"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/observability/metrics"
	"github.com/vidora/genjobs/internal/observability/statsd"
	"github.com/vidora/genjobs/internal/poller"
	"github.com/vidora/genjobs/internal/providers"
	"github.com/vidora/genjobs/internal/registry"
	"github.com/vidora/genjobs/internal/retry"
	"github.com/vidora/genjobs/internal/tracker"
)

// resumeConcurrency bounds the provider fan-out during startup resumption.
const resumeConcurrency = 8

// Options configures an Orchestrator.
type Options struct {
	Logger    *slog.Logger
	Providers *providers.Set
	Registry  *registry.Registry
	Tracker   *tracker.Tracker
	Store     core.JobStore
	Time      data.TimeProvider
	Metrics   statsd.Sink

	// BaseContext parents every poller context so registry cancellation and
	// process shutdown reach running polls. Defaults to context.Background().
	BaseContext context.Context

	PollInterval               time.Duration
	PollMaxAttempts            int
	PollMaxConsecutiveFailures int

	// CreationPersistRetry overrides the retry policy for the initial remote
	// record write. Zero value means retry.DefaultPolicy.
	CreationPersistRetry retry.Policy
}

// Orchestrator owns job submission and the per-job polling goroutines.
type Orchestrator struct {
	logger    *slog.Logger
	providers *providers.Set
	registry  *registry.Registry
	tracker   *tracker.Tracker
	store     core.JobStore
	time      data.TimeProvider
	sink      statsd.Sink

	baseCtx      context.Context
	pollInterval time.Duration
	pollAttempts int
	pollFailures int
	persistRetry retry.Policy
}

// New creates an Orchestrator. Providers, Registry, Tracker, and Store are
// required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Providers == nil {
		return nil, apperrors.Validation("orchestrator requires a provider set")
	}
	if opts.Registry == nil {
		return nil, apperrors.Validation("orchestrator requires a job registry")
	}
	if opts.Tracker == nil {
		return nil, apperrors.Validation("orchestrator requires a progress tracker")
	}
	if opts.Store == nil {
		return nil, apperrors.Validation("orchestrator requires a job store")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = data.NewRealTimeProvider()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	persistRetry := opts.CreationPersistRetry
	if persistRetry.Attempts == 0 {
		persistRetry = retry.DefaultPolicy
	}

	return &Orchestrator{
		logger:       logger.With("component", "orchestrator"),
		providers:    opts.Providers,
		registry:     opts.Registry,
		tracker:      opts.Tracker,
		store:        opts.Store,
		time:         tp,
		sink:         opts.Metrics,
		baseCtx:      baseCtx,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollMaxAttempts,
		pollFailures: opts.PollMaxConsecutiveFailures,
		persistRetry: persistRetry,
	}, nil
}

// Submit creates a remote generation task and starts tracking and polling
// it. The returned snapshot carries the provider task id as the job id.
//
// Task creation gets exactly one fallback attempt on the designated fallback
// vendor when the original provider is unavailable or rejects the request.
// If the fallback fails as well, the original provider's error is returned.
func (o *Orchestrator) Submit(ctx context.Context, req model.GenerationRequest) (model.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return model.Snapshot{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid generation request")
	}

	resolved := o.providers.Resolve(req.Provider)
	now := o.time.Now()

	// Track under a local id while creation is in flight so the snapshot
	// cache and subscribers have state before the vendor assigns a task id.
	trackingID := uuid.NewString()
	o.tracker.StartTracking(ctx, model.Job{
		ID:        trackingID,
		UserID:    req.UserID,
		Provider:  resolved,
		Status:    model.JobStatusPending,
		CreatedAt: now,
	})

	taskID, usedProvider, err := o.createTask(ctx, resolved, req)
	if err != nil {
		msg := "task creation failed"
		failed := model.JobStatusFailed
		if _, uerr := o.tracker.Update(ctx, trackingID, core.JobUpdate{
			Status: &failed,
			Error:  &msg,
		}); uerr != nil {
			o.logger.ErrorContext(ctx, "record creation failure", "tracking_id", trackingID, "error", uerr)
		}
		return model.Snapshot{}, err
	}

	if usedProvider != resolved {
		// The fallback vendor took the task; retag the tracked job before it
		// becomes visible under the provider task id.
		o.tracker.StartTracking(ctx, model.Job{
			ID:        trackingID,
			UserID:    req.UserID,
			Provider:  usedProvider,
			Status:    model.JobStatusPending,
			CreatedAt: now,
		})
	}
	o.tracker.Rename(ctx, trackingID, taskID)

	started := o.time.Now()
	processing := model.JobStatusProcessing
	snapshot, err := o.tracker.Update(ctx, taskID, core.JobUpdate{Status: &processing})
	if err != nil {
		return model.Snapshot{}, err
	}

	o.persistNewJob(ctx, model.Job{
		ID:        taskID,
		UserID:    req.UserID,
		Provider:  usedProvider,
		Status:    model.JobStatusProcessing,
		CreatedAt: now,
		StartedAt: &started,
	})

	if !o.startPolling(taskID, usedProvider) {
		// Another submission already polls this task id; the first poller wins.
		o.logger.WarnContext(ctx, "job already registered", "job_id", taskID)
	}

	o.logger.InfoContext(ctx, "job submitted",
		"job_id", taskID,
		"provider", usedProvider,
		"user_id", req.UserID)
	metrics.EmitJobLifecycle(o.sink, metrics.JobMetric{
		Provider:   string(usedProvider),
		Transition: "submitted",
		Result:     metrics.ResultSuccess,
	})

	return snapshot, nil
}

// createTask runs task creation against the resolved provider with the
// one-shot fallback.
func (o *Orchestrator) createTask(
	ctx context.Context,
	resolved model.Provider,
	req model.GenerationRequest,
) (string, model.Provider, error) {
	params := core.CreateTaskParams{
		Prompt:          req.Prompt,
		ImageURL:        req.ImageURL,
		DurationSeconds: req.DurationSeconds,
		AspectRatio:     req.AspectRatio,
	}

	adapter, err := o.providers.Get(resolved)
	if err != nil {
		return "", resolved, err
	}

	taskID, origErr := adapter.CreateTask(ctx, params)
	if origErr == nil {
		return taskID, resolved, nil
	}
	if !apperrors.IsCreationFailure(origErr) || ctx.Err() != nil {
		return "", resolved, origErr
	}

	fallbackProvider, ok := o.providers.Fallback(resolved)
	if !ok {
		return "", resolved, origErr
	}
	fallbackAdapter, err := o.providers.Get(fallbackProvider)
	if err != nil {
		return "", resolved, origErr
	}

	o.logger.WarnContext(ctx, "provider failed, trying fallback",
		"provider", resolved,
		"fallback", fallbackProvider,
		"error", origErr)
	metrics.EmitJobLifecycle(o.sink, metrics.JobMetric{
		Provider:   string(resolved),
		Transition: "fallback",
		Result:     metrics.ResultError,
		Err:        origErr,
	})

	taskID, fallbackErr := fallbackAdapter.CreateTask(ctx, params)
	if fallbackErr != nil {
		o.logger.ErrorContext(ctx, "fallback provider failed",
			"fallback", fallbackProvider, "error", fallbackErr)
		// Surface the original provider's error; the fallback failure is a
		// secondary symptom.
		return "", resolved, origErr
	}
	return taskID, fallbackProvider, nil
}

// persistNewJob writes the initial record with retry. A write failure is
// logged, never surfaced: the reconciler repairs the gap.
func (o *Orchestrator) persistNewJob(ctx context.Context, job model.Job) {
	progress := job.Progress
	err := retry.Do(ctx, o.persistRetry, func(ctx context.Context) error {
		return o.store.UpsertJob(ctx, job.ID, model.UpsertFields{
			UserID:    job.UserID,
			Provider:  job.Provider,
			Status:    job.Status,
			Progress:  &progress,
			StartedAt: job.StartedAt,
		})
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "initial job write failed",
			"job_id", job.ID, "error", apperrors.Persistence("persist new job", err))
	}
}

// startPolling registers the job and launches its polling goroutine. Returns
// false when the id already has an active poller.
func (o *Orchestrator) startPolling(jobID string, provider model.Provider) bool {
	adapter, err := o.providers.Get(provider)
	if err != nil {
		o.logger.Error("unknown provider for polling", "job_id", jobID, "provider", provider)
		return false
	}

	jobCtx, ok := o.registry.Register(o.baseCtx, jobID)
	if !ok {
		return false
	}

	p, err := poller.New(poller.Options{
		Logger:                 o.logger,
		Adapter:                adapter,
		Sink:                   o.tracker,
		Metrics:                o.sink,
		Interval:               o.pollInterval,
		MaxAttempts:            o.pollAttempts,
		MaxConsecutiveFailures: o.pollFailures,
	})
	if err != nil {
		o.registry.Deregister(jobID)
		o.logger.Error("build poller", "job_id", jobID, "error", err)
		return false
	}

	go func() {
		defer o.registry.Deregister(jobID)
		if err := p.Run(jobCtx, jobID); err != nil && !isContextCancellation(err) {
			o.logger.Error("poller exited with error", "job_id", jobID, "error", err)
		}
	}()
	return true
}

// GetStatus returns the current snapshot for a job, preferring the
// authoritative in-memory state and falling back to the persisted record for
// jobs that have already been evicted.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (model.Snapshot, error) {
	if snapshot, ok := o.tracker.Get(jobID); ok {
		return snapshot, nil
	}

	record, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return snapshotFromRecord(record), nil
}

// Subscribe attaches a snapshot listener for one tracked job.
func (o *Orchestrator) Subscribe(jobID string) (<-chan model.Snapshot, func(), error) {
	return o.tracker.Subscribe(jobID)
}

// Cancel stops polling and marks the job cancelled. Cancelling an already
// terminal job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	snapshot, ok := o.tracker.Get(jobID)
	if !ok {
		return apperrors.NotFoundf("job %s is not tracked", jobID)
	}
	if snapshot.Status.Terminal() {
		return nil
	}

	o.registry.Cancel(jobID)

	cancelled := model.JobStatusCancelled
	reason := "cancelled by user"
	if _, err := o.tracker.Update(ctx, jobID, core.JobUpdate{
		Status: &cancelled,
		Error:  &reason,
	}); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "job cancelled", "job_id", jobID)
	return nil
}

// ResumeAll restarts tracking and polling for every non-terminal persisted
// job in the given user scope (empty scope means all users). Jobs that are
// already registered are skipped; jobs whose remote task already finished are
// finalized directly without starting a poller. Returns the number of jobs
// acted on.
func (o *Orchestrator) ResumeAll(ctx context.Context, userScope string) (int, error) {
	var records []*model.Record
	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing} {
		batch, err := o.store.ListJobsByStatus(ctx, userScope, status)
		if err != nil {
			return 0, err
		}
		records = append(records, batch...)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(resumeConcurrency)

	resumed := make(chan struct{}, len(records))
	for _, record := range records {
		if o.registry.Has(record.JobID) {
			continue
		}
		group.Go(func() error {
			if o.resumeJob(groupCtx, record) {
				resumed <- struct{}{}
			}
			return nil
		})
	}

	err := group.Wait()
	close(resumed)
	count := len(resumed)

	if count > 0 {
		o.logger.InfoContext(ctx, "resumed jobs", "count", count, "user_scope", userScope)
	}
	return count, err
}

// resumeJob restores one persisted job. The persisted start time is kept so
// elapsed-time accounting survives the restart; polling counters start fresh.
func (o *Orchestrator) resumeJob(ctx context.Context, record *model.Record) bool {
	job := model.Job{
		ID:        record.JobID,
		UserID:    record.UserID,
		Provider:  record.Provider,
		Status:    record.Status,
		Progress:  record.Progress,
		CreatedAt: record.CreatedAt,
		StartedAt: record.StartedAt,
	}

	adapter, err := o.providers.Get(record.Provider)
	if err != nil {
		o.logger.ErrorContext(ctx, "cannot resume job for unknown provider",
			"job_id", record.JobID, "provider", record.Provider)
		return false
	}

	o.tracker.StartTracking(ctx, job)

	// One immediate query: a task that finished while we were down is
	// finalized here instead of spinning up a poller.
	result, err := adapter.QueryStatus(ctx, record.JobID)
	if err == nil && result.Status.Terminal() {
		upd := core.JobUpdate{Status: &result.Status, LastPollingStatus: &result.RawStatus}
		if result.Progress >= 0 {
			upd.Progress = &result.Progress
		}
		if result.VideoURL != "" {
			upd.VideoURL = &result.VideoURL
		}
		if result.Error != "" {
			upd.Error = &result.Error
		}
		if _, uerr := o.tracker.Update(ctx, record.JobID, upd); uerr != nil {
			o.logger.ErrorContext(ctx, "finalize resumed job", "job_id", record.JobID, "error", uerr)
		}
		o.logger.InfoContext(ctx, "resumed job already terminal",
			"job_id", record.JobID, "status", result.Status)
		return true
	}
	if err != nil && apperrors.IsNotFound(err) {
		// The remote task is gone; nothing to poll.
		failed := model.JobStatusFailed
		reason := "task no longer exists at the provider"
		if _, uerr := o.tracker.Update(ctx, record.JobID, core.JobUpdate{
			Status: &failed,
			Error:  &reason,
		}); uerr != nil {
			o.logger.ErrorContext(ctx, "finalize missing resumed job", "job_id", record.JobID, "error", uerr)
		}
		return true
	}

	return o.startPolling(record.JobID, record.Provider)
}

func snapshotFromRecord(record *model.Record) model.Snapshot {
	elapsed := 0
	start := record.CreatedAt
	if record.StartedAt != nil {
		start = *record.StartedAt
	}
	if record.CompletedAt != nil && record.CompletedAt.After(start) {
		elapsed = int(record.CompletedAt.Sub(start) / time.Second)
	}
	return model.Snapshot{
		JobID:          record.JobID,
		Provider:       record.Provider,
		Status:         record.Status,
		StatusText:     model.StatusText(record.Status, record.Progress),
		Progress:       record.Progress,
		VideoURL:       record.VideoURL,
		Error:          record.Error,
		ElapsedSeconds: elapsed,
		UpdatedAt:      record.UpdatedAt,
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
