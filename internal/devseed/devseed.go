// Package devseed populates the job store with sample generation records
// for local development. It only runs when dev mode is enabled and is a
// no-op if the sample jobs already exist.
package devseed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
)

const seedUserID = "dev-user"

// Seed inserts a small set of generation jobs covering each lifecycle
// state so the HTTP API has data to serve out of the box.
func Seed(ctx context.Context, store core.JobStore, logger *slog.Logger) error {
	if store == nil {
		return nil
	}
	log := logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "devseed")

	now := time.Now().UTC()
	for _, job := range sampleJobs(now) {
		existing, err := store.GetJob(ctx, job.id)
		if err == nil && existing != nil {
			continue
		}
		if upsertErr := store.UpsertJob(ctx, job.id, job.fields); upsertErr != nil {
			return fmt.Errorf("seed job %s: %w", job.id, upsertErr)
		}
		log.InfoContext(ctx, "seeded sample job", "job_id", job.id, "status", job.fields.Status)
	}
	return nil
}

type seedJob struct {
	id     string
	fields model.UpsertFields
}

func sampleJobs(now time.Time) []seedJob {
	started := now.Add(-10 * time.Minute)
	finished := now.Add(-5 * time.Minute)
	videoURL := "https://cdn.example.com/dev/sample.mp4"
	failReason := "provider rejected the prompt"

	return []seedJob{
		{
			id: "dev-completed-0001",
			fields: model.UpsertFields{
				UserID:      seedUserID,
				Provider:    model.ProviderWuyin,
				Status:      model.JobStatusCompleted,
				Progress:    intp(100),
				VideoURL:    &videoURL,
				StartedAt:   &started,
				CompletedAt: &finished,
			},
		},
		{
			id: "dev-failed-0001",
			fields: model.UpsertFields{
				UserID:      seedUserID,
				Provider:    model.ProviderKeling,
				Status:      model.JobStatusFailed,
				Progress:    intp(0),
				Error:       &failReason,
				StartedAt:   &started,
				CompletedAt: &finished,
			},
		},
		{
			id: "dev-processing-0001",
			fields: model.UpsertFields{
				UserID:    seedUserID,
				Provider:  model.ProviderWuyin,
				Status:    model.JobStatusProcessing,
				Progress:  intp(40),
				StartedAt: &started,
			},
		},
	}
}

func intp(v int) *int { return &v }
