// Package model defines the core data types for the genjobs video-generation
// job orchestration system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies one of the statically known generation vendors.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Provider string

// JobStatus represents the current status of a generation job.
type JobStatus string

const (
	// ProviderWuyin is the primary video-generation vendor.
	ProviderWuyin Provider = "wuyin"
	// ProviderKeling is the designated fallback vendor.
	ProviderKeling Provider = "keling"

	// JobStatusPending indicates the remote task has been accepted but not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates the vendor is generating the video.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates generation finished and a video URL is available.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates generation failed or polling gave up.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the caller cancelled the job.
	JobStatusCancelled JobStatus = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for Provider to allow env parsing.
func (p *Provider) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	pr := Provider(v)
	if pr.Valid() {
		*p = pr
		return nil
	}
	return fmt.Errorf("invalid Provider: %q", v)
}

// Valid returns true if the Provider is one of the known vendors.
func (p Provider) Valid() bool {
	return p == ProviderWuyin || p == ProviderKeling
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusCancelled
}

// Terminal returns true if no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// statusRank orders statuses along the permitted transition path so that
// monotonicity can be enforced with a comparison. Terminal states share the
// highest rank; transitions between them are rejected separately.
func statusRank(s JobStatus) int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 2
	default:
		return -1
	}
}

// ErrTerminalTransition is returned when an update would leave a terminal state.
var ErrTerminalTransition = errors.New("job is in a terminal state")

// CanTransition reports whether a job may move from s to next.
// Transitions are monotone along pending → processing → terminal and
// never leave a terminal state. Self-transitions are allowed for
// non-terminal states (repeated polling ticks).
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return statusRank(next) >= statusRank(s)
}

// Job is the unit of tracked work for one generation request.
// The ID equals the provider task id for orchestrator-created jobs, or a
// locally generated tracking id while task creation is still in flight.
type Job struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Provider Provider  `json:"provider"`
	Status   JobStatus `json:"status"`

	// Progress is 0-100 and never decreases while the job is non-terminal.
	Progress int `json:"progress"`

	// VideoURL and Error are populated only in the corresponding terminal state.
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Diagnostic counters for the current polling run.
	PollingAttempts   int    `json:"polling_attempts"`
	LastPollingStatus string `json:"last_polling_status,omitempty"`
}

// GenerationRequest carries the caller-supplied parameters for one video.
type GenerationRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`

	// ImageURL is an optional source image. Inline data URIs are converted by
	// the provider adapter into a hosted URL before task creation.
	ImageURL string `json:"image_url,omitempty"`

	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`

	// Provider is an optional explicit vendor selection; empty means the
	// configured default.
	Provider Provider `json:"provider,omitempty"`
}

// Validate validates the GenerationRequest fields.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if r.Provider != "" && !r.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	if r.DurationSeconds < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Snapshot is the externally observable projection of a Job. It is derived
// from the tracked job and never authoritative.
type Snapshot struct {
	JobID      string    `json:"job_id"`
	Provider   Provider  `json:"provider"`
	Status     JobStatus `json:"status"`
	StatusText string    `json:"status_text"`
	Progress   int       `json:"progress"`
	VideoURL   string    `json:"video_url,omitempty"`
	Error      string    `json:"error,omitempty"`

	ElapsedSeconds            int `json:"elapsed_seconds"`
	EstimatedRemainingSeconds int `json:"estimated_remaining_seconds,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StatusText returns the human status text for a status/progress pair.
func StatusText(status JobStatus, progress int) string {
	switch status {
	case JobStatusPending:
		return "Waiting for the generation service"
	case JobStatusProcessing:
		return fmt.Sprintf("Generating video (%d%%)", progress)
	case JobStatusCompleted:
		return "Video ready"
	case JobStatusFailed:
		return "Generation failed"
	case JobStatusCancelled:
		return "Cancelled"
	default:
		return string(status)
	}
}

// Record is the remote store's copy of a Job. It may lag the in-memory copy
// within the debounce window except at terminal transitions.
type Record struct {
	JobID       string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Provider    Provider   `json:"provider"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	VideoURL    string     `json:"video_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UpsertFields carries the subset of record fields written by one upsert.
// Nil pointers leave the stored column untouched, which keeps retried
// writes idempotent regardless of delivery order.
type UpsertFields struct {
	UserID      string
	Provider    Provider
	Status      JobStatus
	Progress    *int
	VideoURL    *string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
