package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
)

// Keling status vocabulary.
const (
	kelingStatusSubmitted  = "submitted"
	kelingStatusProcessing = "processing"
	kelingStatusSucceed    = "succeed"
	kelingStatusFailed     = "failed"
)

// KelingAdapter normalizes the keling video-generation API. Keling does not
// report numeric progress, so QueryStatus returns -1 and the tracker keeps
// the last known percentage.
type KelingAdapter struct {
	client vendorClient

	taskID    extractor
	status    extractor
	videoURL  extractor
	statusMsg extractor
}

// KelingOptions configures a KelingAdapter.
type KelingOptions struct {
	BaseURL string
	APIKey  string

	// HTTPClient overrides the default client (useful for tests).
	HTTPClient *http.Client
}

// NewKelingAdapter constructs a keling adapter.
func NewKelingAdapter(opts KelingOptions) (*KelingAdapter, error) {
	var doer httpDoer
	if opts.HTTPClient != nil {
		doer = opts.HTTPClient
	}

	a := &KelingAdapter{
		client: newVendorClient(opts.BaseURL, opts.APIKey, doer),
	}

	var errs []error
	for _, e := range []struct {
		dst  *extractor
		expr string
	}{
		{&a.taskID, "data.task.id"},
		{&a.status, "data.task.status"},
		{&a.videoURL, "data.task.result.videos[0].url"},
		{&a.statusMsg, "data.task.status_msg"},
	} {
		ex, err := newExtractor(e.expr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*e.dst = ex
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return a, nil
}

// Name returns the provider tag this adapter serves.
func (a *KelingAdapter) Name() model.Provider {
	return model.ProviderKeling
}

// CreateTask creates a keling generation task and returns the vendor task id.
// Keling accepts inline data-URI images directly, so no preprocessing is
// required.
func (a *KelingAdapter) CreateTask(ctx context.Context, params core.CreateTaskParams) (string, error) {
	if !a.client.configured() {
		return "", apperrors.ProviderUnavailable(string(model.ProviderKeling), "keling credentials are not configured")
	}

	payload := map[string]any{
		"prompt": params.Prompt,
		"mode":   "std",
	}
	if params.ImageURL != "" {
		payload["image"] = params.ImageURL
	}
	if params.DurationSeconds > 0 {
		payload["duration"] = fmt.Sprintf("%d", params.DurationSeconds)
	}
	if params.AspectRatio != "" {
		payload["aspect_ratio"] = params.AspectRatio
	}

	doc, err := a.client.postJSON(ctx, "/v1/videos/generations", payload)
	if err != nil {
		return "", classifyCreateError(string(model.ProviderKeling), err)
	}

	taskID := a.taskID.str(doc)
	if taskID == "" {
		return "", apperrors.ProviderRequest(
			string(model.ProviderKeling),
			"keling response contained no task id",
			nil,
		)
	}
	return taskID, nil
}

// QueryStatus fetches and normalizes the current task status.
func (a *KelingAdapter) QueryStatus(ctx context.Context, taskID string) (core.StatusResult, error) {
	if !a.client.configured() {
		return core.StatusResult{}, apperrors.ProviderUnavailable(
			string(model.ProviderKeling),
			"keling credentials are not configured",
		)
	}

	doc, err := a.client.getJSON(ctx, "/v1/videos/generations/"+taskID)
	if err != nil {
		return core.StatusResult{}, classifyQueryError(string(model.ProviderKeling), err)
	}

	raw := a.status.str(doc)
	normalized, ok := normalizeKelingStatus(raw)
	if !ok {
		return core.StatusResult{}, apperrors.UnknownResponse(
			string(model.ProviderKeling),
			fmt.Sprintf("unrecognized keling status %q", raw),
		)
	}

	result := core.StatusResult{
		RawStatus: raw,
		Status:    normalized,
		Progress:  -1,
	}

	switch normalized {
	case model.JobStatusCompleted:
		result.VideoURL = a.videoURL.str(doc)
		if result.VideoURL == "" {
			return core.StatusResult{}, apperrors.UnknownResponse(
				string(model.ProviderKeling),
				"keling reported success without a video url",
			)
		}
	case model.JobStatusFailed:
		result.Error = a.statusMsg.str(doc)
		if result.Error == "" {
			result.Error = "keling reported failure without a reason"
		}
	}

	return result, nil
}

func normalizeKelingStatus(raw string) (model.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case kelingStatusSubmitted:
		return model.JobStatusPending, true
	case kelingStatusProcessing:
		return model.JobStatusProcessing, true
	case kelingStatusSucceed:
		return model.JobStatusCompleted, true
	case kelingStatusFailed:
		return model.JobStatusFailed, true
	default:
		return "", false
	}
}

var _ core.ProviderAdapter = (*KelingAdapter)(nil)
