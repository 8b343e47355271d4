// Package reconciler runs the periodic consistency pass that pulls the
// in-memory job state back toward the persisted record when the two diverge.
package reconciler

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/vidora/genjobs/config"
	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/observability/metrics"
	"github.com/vidora/genjobs/internal/observability/statsd"
)

// StateView is the in-memory side the reconciler inspects and repairs.
// Implemented by the progress tracker.
type StateView interface {
	Snapshots() []model.Snapshot
	Update(ctx context.Context, jobID string, upd core.JobUpdate) (model.Snapshot, error)
	Evict(ctx context.Context, jobID string)
}

// Resumer restarts tracking and polling for persisted in-flight jobs.
// Implemented by the orchestrator.
type Resumer interface {
	ResumeAll(ctx context.Context, userScope string) (int, error)
}

// PollCanceller stops the active poller for a job id. Implemented by the
// job registry.
type PollCanceller interface {
	Cancel(jobID string) bool
}

// Options groups dependencies for the Service.
type Options struct {
	Store    core.JobStore
	State    StateView
	Resumer  Resumer
	Registry PollCanceller
	Config   config.ReconcilerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// Service periodically diffs tracked jobs against their persisted records.
// Repairs only ever move memory toward a persisted terminal fact; the
// happy path is never advanced from here.
type Service struct {
	store    core.JobStore
	state    StateView
	resumer  Resumer
	registry PollCanceller
	config   config.ReconcilerConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// New constructs a reconciler Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.State == nil {
		return nil, errors.New("state view is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    opts.Store,
		state:    opts.State,
		resumer:  opts.Resumer,
		registry: opts.Registry,
		config:   opts.Config,
		logger:   logger.With("component", "reconciler"),
		metrics:  opts.Metrics,
	}, nil
}

// Run executes startup resumption and then the reconciliation loop until the
// context is cancelled. Returns nil on graceful shutdown.
func (s *Service) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reconciler", "interval", s.config.Interval)

	if s.resumer != nil {
		count, err := s.resumer.ResumeAll(ctx, s.config.ResumeScope)
		if err != nil && !isContextCancellation(err) {
			s.logger.ErrorContext(ctx, "startup resumption failed", "error", err)
		} else if count > 0 {
			s.logger.InfoContext(ctx, "startup resumption finished", "count", count)
		}
	}

	// Jitter so multiple instances starting together do not hammer the store
	// in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reconciler stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil && !isContextCancellation(err) {
				s.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *Service) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Reconcile runs one consistency pass over every tracked job.
func (s *Service) Reconcile(ctx context.Context) error {
	start := time.Now()
	snapshots := s.state.Snapshots()

	var repaired, evicted int64
	var errs []error
	for _, snapshot := range snapshots {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		action, err := s.reconcileJob(ctx, snapshot)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch action {
		case actionRepaired:
			repaired++
		case actionEvicted:
			evicted++
		}
	}

	s.emitPassMetrics(len(snapshots), repaired, evicted, time.Since(start), firstError(errs))

	if repaired > 0 || evicted > 0 {
		s.logger.InfoContext(ctx, "reconciliation pass",
			"tracked", len(snapshots),
			"repaired", repaired,
			"evicted", evicted)
	}
	return errors.Join(errs...)
}

type reconcileAction int

const (
	actionNone reconcileAction = iota
	actionRepaired
	actionEvicted
)

// reconcileJob diffs one tracked job against its persisted record.
func (s *Service) reconcileJob(ctx context.Context, snapshot model.Snapshot) (reconcileAction, error) {
	// Terminal in memory means memory already has the final word.
	if snapshot.Status.Terminal() {
		return actionNone, nil
	}

	record, err := s.store.GetJob(ctx, snapshot.JobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Deleted upstream: stop the poller and drop the state.
			if s.registry != nil {
				s.registry.Cancel(snapshot.JobID)
			}
			s.state.Evict(ctx, snapshot.JobID)
			s.logger.InfoContext(ctx, "evicted job deleted upstream", "job_id", snapshot.JobID)
			return actionEvicted, nil
		}
		return actionNone, err
	}

	// Only a persisted terminal fact can override live memory; within the
	// debounce window memory is ahead of the store and that is fine.
	if !record.Status.Terminal() {
		return actionNone, nil
	}

	// A completed record without its video URL is a half-written fact;
	// leave memory alone until the URL lands.
	if record.Status == model.JobStatusCompleted && record.VideoURL == "" {
		return actionNone, nil
	}

	if s.registry != nil {
		s.registry.Cancel(snapshot.JobID)
	}

	upd := core.JobUpdate{Status: &record.Status}
	if record.Progress > snapshot.Progress {
		upd.Progress = &record.Progress
	}
	if record.VideoURL != "" {
		upd.VideoURL = &record.VideoURL
	}
	if record.Error != "" {
		upd.Error = &record.Error
	}
	if _, err := s.state.Update(ctx, snapshot.JobID, upd); err != nil {
		return actionNone, err
	}

	s.logger.InfoContext(ctx, "repaired job toward persisted state",
		"job_id", snapshot.JobID,
		"from", snapshot.Status,
		"to", record.Status)
	return actionRepaired, nil
}

func (s *Service) emitPassMetrics(tracked int, repaired, evicted int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if repaired == 0 && evicted == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if code := apperrors.GetCode(err); code != "" {
			tags["error_class"] = string(code)
		}
	}

	s.metrics.Count("reconciler.pass", 1, tags)
	s.metrics.Gauge("reconciler.tracked_jobs", float64(tracked), nil)
	if repaired > 0 {
		s.metrics.Count("reconciler.repaired", repaired, metrics.CloneTags(tags))
	}
	if evicted > 0 {
		s.metrics.Count("reconciler.evicted", evicted, metrics.CloneTags(tags))
	}
	if elapsed > 0 {
		s.metrics.Timing("reconciler.pass_duration", elapsed, metrics.CloneTags(tags))
	}
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
