// Package poller drives the status polling loop for one remote generation
// task, translating vendor status observations into tracker updates.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/observability/metrics"
	"github.com/vidora/genjobs/internal/observability/statsd"
)

// State is the polling loop's lifecycle state.
type State string

const (
	// StateUnstarted means Run has not been called yet.
	StateUnstarted State = "unstarted"
	// StatePolling means the loop is actively querying the provider.
	StatePolling State = "polling"
	// StateCompleted means the remote task finished with a video.
	StateCompleted State = "completed"
	// StateFailed means the remote task failed or polling gave up on errors.
	StateFailed State = "failed"
	// StateTimeout means the attempt budget ran out before a terminal status.
	StateTimeout State = "timeout"
)

// ProgressSink receives the merged status observations. Implemented by the
// progress tracker.
type ProgressSink interface {
	Update(ctx context.Context, jobID string, upd core.JobUpdate) (model.Snapshot, error)
}

// Options configures a Poller for one job.
type Options struct {
	Logger  *slog.Logger
	Adapter core.ProviderAdapter
	Sink    ProgressSink
	Metrics statsd.Sink

	Interval               time.Duration
	MaxAttempts            int
	MaxConsecutiveFailures int
}

// Poller polls one remote task until it reaches a terminal state, the
// attempt budget runs out, or the context is cancelled. A Poller is
// single-use: Run may be called once.
type Poller struct {
	logger  *slog.Logger
	adapter core.ProviderAdapter
	sink    ProgressSink
	metrics statsd.Sink

	interval    time.Duration
	maxAttempts int
	maxFailures int

	mu    sync.Mutex
	state State
}

// New creates a Poller. Adapter and Sink are required.
func New(opts Options) (*Poller, error) {
	if opts.Adapter == nil {
		return nil, apperrors.Validation("poller requires a provider adapter")
	}
	if opts.Sink == nil {
		return nil, apperrors.Validation("poller requires a progress sink")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	maxFailures := opts.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	return &Poller{
		logger:      logger.With("component", "poller", "provider", opts.Adapter.Name()),
		adapter:     opts.Adapter,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		interval:    interval,
		maxAttempts: maxAttempts,
		maxFailures: maxFailures,
		state:       StateUnstarted,
	}, nil
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run polls the task until it terminates. It returns nil when the loop ended
// in a terminal observation (including failure and timeout, which are job
// outcomes rather than poller errors), and the context error on cancellation.
func (p *Poller) Run(ctx context.Context, jobID string) error {
	p.mu.Lock()
	if p.state != StateUnstarted {
		p.mu.Unlock()
		return apperrors.Conflict("poller already started")
	}
	p.state = StatePolling
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "polling started",
		"job_id", jobID,
		"interval", p.interval.String(),
		"max_attempts", p.maxAttempts)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "polling cancelled", "job_id", jobID, "attempts", attempt-1)
			return ctx.Err()
		case <-ticker.C:
		}

		if attempt > p.maxAttempts {
			p.setState(StateTimeout)
			p.failJob(ctx, jobID, attempt-1,
				fmt.Sprintf("generation timed out after %d polling attempts", p.maxAttempts))
			p.emit(jobID, "timeout", apperrors.PollingTimeout(string(p.adapter.Name()), p.maxAttempts))
			return nil
		}

		result, err := p.adapter.QueryStatus(ctx, jobID)
		if err != nil {
			if isContextCancellation(err) {
				return ctx.Err()
			}
			consecutiveFailures++
			p.logger.WarnContext(ctx, "status query failed",
				"job_id", jobID,
				"attempt", attempt,
				"consecutive_failures", consecutiveFailures,
				"error", err)
			if consecutiveFailures >= p.maxFailures {
				p.setState(StateFailed)
				p.failJob(ctx, jobID, attempt,
					fmt.Sprintf("lost contact with the generation service (%d consecutive errors)", consecutiveFailures))
				p.emit(jobID, "failed", err)
				return nil
			}
			continue
		}
		consecutiveFailures = 0

		done := p.applyObservation(ctx, jobID, attempt, result)
		if done {
			return nil
		}
	}
}

// applyObservation pushes one normalized observation into the sink and
// reports whether the loop should stop.
func (p *Poller) applyObservation(ctx context.Context, jobID string, attempt int, result core.StatusResult) bool {
	upd := core.JobUpdate{
		Status:            &result.Status,
		PollingAttempts:   &attempt,
		LastPollingStatus: &result.RawStatus,
	}
	if result.Progress >= 0 {
		upd.Progress = &result.Progress
	}
	if result.VideoURL != "" {
		upd.VideoURL = &result.VideoURL
	}
	if result.Error != "" {
		upd.Error = &result.Error
	}

	if _, err := p.sink.Update(ctx, jobID, upd); err != nil {
		// The job may have been evicted or cancelled underneath the loop.
		if apperrors.IsNotFound(err) {
			p.logger.InfoContext(ctx, "job no longer tracked, stopping poll", "job_id", jobID)
			p.setState(StateFailed)
			return true
		}
		p.logger.ErrorContext(ctx, "tracker update failed", "job_id", jobID, "error", err)
	}

	switch result.Status {
	case model.JobStatusCompleted:
		p.setState(StateCompleted)
		p.logger.InfoContext(ctx, "generation completed",
			"job_id", jobID, "attempts", attempt, "video_url", result.VideoURL)
		p.emit(jobID, "completed", nil)
		return true
	case model.JobStatusFailed:
		p.setState(StateFailed)
		p.logger.InfoContext(ctx, "generation failed",
			"job_id", jobID, "attempts", attempt, "reason", result.Error)
		p.emit(jobID, "failed", nil)
		return true
	default:
		return false
	}
}

// failJob marks the job failed in the sink after the loop gave up.
func (p *Poller) failJob(ctx context.Context, jobID string, attempts int, reason string) {
	failed := model.JobStatusFailed
	upd := core.JobUpdate{
		Status:          &failed,
		Error:           &reason,
		PollingAttempts: &attempts,
	}
	if _, err := p.sink.Update(context.WithoutCancel(ctx), jobID, upd); err != nil && !apperrors.IsNotFound(err) {
		p.logger.ErrorContext(ctx, "fail job update error", "job_id", jobID, "error", err)
	}
}

func (p *Poller) emit(jobID, transition string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(p.metrics, metrics.JobMetric{
		Provider:   string(p.adapter.Name()),
		Transition: transition,
		Result:     result,
		Err:        err,
		Tags:       map[string]string{"job_id": jobID},
	})
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
