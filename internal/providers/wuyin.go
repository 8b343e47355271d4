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

// Wuyin status vocabulary.
const (
	wuyinStatusQueueing   = "queueing"
	wuyinStatusGenerating = "generating"
	wuyinStatusSuccess    = "success"
	wuyinStatusFail       = "fail"
)

// WuyinAdapter normalizes the wuyin video-generation API.
//
// Wuyin only accepts hosted image URLs, so inline data-URI images are
// uploaded to the vendor asset endpoint before task creation.
type WuyinAdapter struct {
	client vendorClient

	taskID   extractor
	status   extractor
	progress extractor
	videoURL extractor
	failMsg  extractor
	assetURL extractor
}

// WuyinOptions configures a WuyinAdapter.
type WuyinOptions struct {
	BaseURL string
	APIKey  string

	// HTTPClient overrides the default client (useful for tests).
	HTTPClient *http.Client
}

// NewWuyinAdapter constructs a wuyin adapter.
func NewWuyinAdapter(opts WuyinOptions) (*WuyinAdapter, error) {
	var doer httpDoer
	if opts.HTTPClient != nil {
		doer = opts.HTTPClient
	}

	a := &WuyinAdapter{
		client: newVendorClient(opts.BaseURL, opts.APIKey, doer),
	}

	var errs []error
	for _, e := range []struct {
		dst  *extractor
		expr string
	}{
		{&a.taskID, "data.task_id"},
		{&a.status, "data.status"},
		{&a.progress, "data.progress"},
		{&a.videoURL, "data.video_url"},
		{&a.failMsg, "data.fail_reason"},
		{&a.assetURL, "data.url"},
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
func (a *WuyinAdapter) Name() model.Provider {
	return model.ProviderWuyin
}

// CreateTask creates a wuyin generation task and returns the vendor task id.
func (a *WuyinAdapter) CreateTask(ctx context.Context, params core.CreateTaskParams) (string, error) {
	if !a.client.configured() {
		return "", apperrors.ProviderUnavailable(string(model.ProviderWuyin), "wuyin credentials are not configured")
	}

	imageURL := params.ImageURL
	if isDataURI(imageURL) {
		hosted, err := a.uploadAsset(ctx, imageURL)
		if err != nil {
			return "", err
		}
		imageURL = hosted
	}

	payload := map[string]any{
		"prompt": params.Prompt,
	}
	if imageURL != "" {
		payload["image_url"] = imageURL
	}
	if params.DurationSeconds > 0 {
		payload["duration"] = params.DurationSeconds
	}
	if params.AspectRatio != "" {
		payload["aspect_ratio"] = params.AspectRatio
	}

	doc, err := a.client.postJSON(ctx, "/v1/video/tasks", payload)
	if err != nil {
		return "", classifyCreateError(string(model.ProviderWuyin), err)
	}

	taskID := a.taskID.str(doc)
	if taskID == "" {
		return "", apperrors.ProviderRequest(
			string(model.ProviderWuyin),
			"wuyin response contained no task id",
			nil,
		)
	}
	return taskID, nil
}

// QueryStatus fetches and normalizes the current task status.
func (a *WuyinAdapter) QueryStatus(ctx context.Context, taskID string) (core.StatusResult, error) {
	if !a.client.configured() {
		return core.StatusResult{}, apperrors.ProviderUnavailable(
			string(model.ProviderWuyin),
			"wuyin credentials are not configured",
		)
	}

	doc, err := a.client.getJSON(ctx, "/v1/video/tasks/"+taskID)
	if err != nil {
		return core.StatusResult{}, classifyQueryError(string(model.ProviderWuyin), err)
	}

	raw := a.status.str(doc)
	normalized, ok := normalizeWuyinStatus(raw)
	if !ok {
		return core.StatusResult{}, apperrors.UnknownResponse(
			string(model.ProviderWuyin),
			fmt.Sprintf("unrecognized wuyin status %q", raw),
		)
	}

	result := core.StatusResult{
		RawStatus: raw,
		Status:    normalized,
		Progress:  a.progress.num(doc),
	}

	switch normalized {
	case model.JobStatusCompleted:
		result.VideoURL = a.videoURL.str(doc)
		if result.VideoURL == "" {
			return core.StatusResult{}, apperrors.UnknownResponse(
				string(model.ProviderWuyin),
				"wuyin reported success without a video url",
			)
		}
	case model.JobStatusFailed:
		result.Error = a.failMsg.str(doc)
		if result.Error == "" {
			result.Error = "wuyin reported failure without a reason"
		}
	}

	return result, nil
}

// uploadAsset pushes inline image content to the vendor asset endpoint and
// returns the hosted URL wuyin expects in task creation.
func (a *WuyinAdapter) uploadAsset(ctx context.Context, dataURI string) (string, error) {
	doc, err := a.client.postJSON(ctx, "/v1/assets", map[string]any{"content": dataURI})
	if err != nil {
		return "", classifyCreateError(string(model.ProviderWuyin), err)
	}

	hosted := a.assetURL.str(doc)
	if hosted == "" {
		return "", apperrors.ProviderRequest(
			string(model.ProviderWuyin),
			"wuyin asset upload returned no url",
			nil,
		)
	}
	return hosted, nil
}

func normalizeWuyinStatus(raw string) (model.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case wuyinStatusQueueing:
		return model.JobStatusPending, true
	case wuyinStatusGenerating:
		return model.JobStatusProcessing, true
	case wuyinStatusSuccess:
		return model.JobStatusCompleted, true
	case wuyinStatusFail:
		return model.JobStatusFailed, true
	default:
		return "", false
	}
}

var _ core.ProviderAdapter = (*WuyinAdapter)(nil)
