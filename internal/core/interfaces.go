// Package core defines the ports between the orchestration layer and its
// collaborators (vendor clients, the persistent store, the local cache).
// Service implementations depend on these interfaces, not concrete types.
package core

import (
	"context"

	"github.com/vidora/genjobs/internal/domain/model"
)

// CreateTaskParams carries the normalized parameters a provider adapter
// needs to create a remote generation task.
type CreateTaskParams struct {
	Prompt          string
	ImageURL        string
	DurationSeconds int
	AspectRatio     string
}

// StatusResult is one normalized status observation for a remote task.
type StatusResult struct {
	// RawStatus is the vendor's own status vocabulary, kept for diagnostics.
	RawStatus string
	// Status is the normalized status.
	Status model.JobStatus
	// Progress is 0-100 when the vendor reports it, otherwise -1.
	Progress int
	VideoURL string
	Error    string
}

// ProviderAdapter normalizes one vendor's task-creation and status API.
// Adapters perform network I/O only; they never touch the registry or the
// stores.
type ProviderAdapter interface {
	// Name returns the provider tag this adapter serves.
	Name() model.Provider

	// CreateTask creates a remote generation task and returns the vendor
	// task id. Fails with a provider_unavailable or provider_request error.
	CreateTask(ctx context.Context, params CreateTaskParams) (string, error)

	// QueryStatus fetches and normalizes the current task status.
	QueryStatus(ctx context.Context, taskID string) (StatusResult, error)
}

// JobStore is the remote persistent store for job records.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*model.Record, error)
	UpsertJob(ctx context.Context, id string, fields model.UpsertFields) error
	ListJobsByStatus(ctx context.Context, userScope string, status model.JobStatus) ([]*model.Record, error)
	DeleteJob(ctx context.Context, id string) error
}

// SnapshotCache is the local durable cache used for restart survival.
// Writes are synchronous with tracker updates; LoadAll seeds the tracker
// after a restart.
type SnapshotCache interface {
	Save(ctx context.Context, snapshot model.Snapshot) error
	LoadAll(ctx context.Context) ([]model.Snapshot, error)
	Delete(ctx context.Context, jobID string) error
}

// JobUpdate is a partial update merged into the tracked job state.
// Nil fields are left unchanged.
type JobUpdate struct {
	Status            *model.JobStatus
	Progress          *int
	VideoURL          *string
	Error             *string
	PollingAttempts   *int
	LastPollingStatus *string
}

// StatusUpdate returns a JobUpdate that only moves the status.
func StatusUpdate(status model.JobStatus) JobUpdate {
	return JobUpdate{Status: &status}
}
