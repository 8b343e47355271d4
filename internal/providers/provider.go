// Package providers contains the vendor adapters that normalize each
// generation vendor's task-creation and status API into the core
// ProviderAdapter port. Adapters perform network I/O only; they never touch
// the job registry or the stores.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/vidora/genjobs/internal/errors"
)

const maxResponseBodyBytes = 64 * 1024

// httpDoer is the subset of *http.Client the adapters need.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// vendorClient handles the HTTP plumbing shared by every adapter: bearer
// auth, JSON encoding, and bounded response reads.
type vendorClient struct {
	baseURL string
	apiKey  string
	http    httpDoer
}

func newVendorClient(baseURL, apiKey string, client httpDoer) vendorClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return vendorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

func (c vendorClient) configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// postJSON sends a JSON POST and decodes the response body into a generic
// document for jmespath extraction. Non-2xx responses are returned as
// *httpStatusError so callers can classify them.
func (c vendorClient) postJSON(ctx context.Context, path string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

// getJSON sends a GET and decodes the response body.
func (c vendorClient) getJSON(ctx context.Context, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

func (c vendorClient) do(req *http.Request) (any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return doc, nil
}

// httpStatusError carries a non-2xx vendor response.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("vendor returned HTTP %d: %s", e.Status, body)
}

// extractor pulls normalized fields out of a vendor JSON document using a
// JMESPath expression, so each adapter declares its response shape instead
// of hand-walking nested maps. Expressions are validated at adapter
// construction via jmespath.Compile.
type extractor struct {
	expression string
}

func newExtractor(expression string) (extractor, error) {
	if _, err := jmespath.Compile(expression); err != nil {
		return extractor{}, fmt.Errorf("compile jmespath %q: %w", expression, err)
	}
	return extractor{expression: expression}, nil
}

// str evaluates the expression and returns the result as a string, or ""
// when the path is absent or not a string.
func (e extractor) str(doc any) string {
	v, err := jmespath.Search(e.expression, doc)
	if err != nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// num evaluates the expression and returns the result as an int, or -1 when
// the path is absent or not numeric. Vendor JSON numbers decode as float64.
func (e extractor) num(doc any) int {
	v, err := jmespath.Search(e.expression, doc)
	if err != nil {
		return -1
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return -1
	}
}

// classifyQueryError converts a status-query failure into the polling error
// taxonomy: transport failures and 5xx are transient network errors; an
// unparseable body is an unknown-response error handled the same way.
func classifyQueryError(provider string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return apperrors.NotFoundf("task not found at %s", provider)
	}
	if strings.Contains(err.Error(), "decode response") {
		return apperrors.UnknownResponse(provider, err.Error())
	}
	return apperrors.PollingNetwork(provider, err)
}

// classifyCreateError converts a task-creation failure into the creation
// error taxonomy so the orchestrator can decide on fallback.
func classifyCreateError(provider string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden {
			return apperrors.ProviderUnavailable(provider, "vendor rejected credentials")
		}
		return apperrors.ProviderRequest(provider, "task creation rejected", err)
	}
	return apperrors.ProviderRequest(provider, "task creation failed", err)
}

// isDataURI reports whether the image reference is inline content that needs
// uploading before task creation.
func isDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}
