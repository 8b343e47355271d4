// Package metrics defines the lifecycle metrics emitted by the job
// orchestration pipeline.
package metrics

import (
	"time"

	apperrors "github.com/vidora/genjobs/internal/errors"
	"github.com/vidora/genjobs/internal/observability/statsd"
)

// Result values tagged onto job lifecycle metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures one lifecycle event of a generation job.
type JobMetric struct {
	Provider   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
	Tags       map[string]string
}

// EmitJobLifecycle emits a transition counter plus an optional duration
// timing for a job lifecycle event. A nil sink is a no-op.
func EmitJobLifecycle(sink statsd.Sink, m JobMetric) {
	if sink == nil {
		return
	}

	tags := CloneTags(m.Tags)
	if m.Provider != "" {
		tags["provider"] = m.Provider
	}
	if m.Transition != "" {
		tags["transition"] = m.Transition
	}
	result := m.Result
	if result == "" {
		result = ResultSuccess
	}
	tags["result"] = result
	if m.Err != nil {
		tags["error_class"] = string(apperrors.GetCode(m.Err))
	}

	sink.Count("job.transition", 1, tags)
	if m.Duration > 0 {
		sink.Timing("job.duration", m.Duration, tags)
	}
}

// CloneTags copies a tag map so emitters can mutate without aliasing.
func CloneTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}
