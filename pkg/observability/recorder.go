package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

var (
	globalRecorder Recorder
	recorderMu     sync.RWMutex
)

// Recorder records the same events Tracer spans, for callers that want
// a cheap event count/duration log without standing up a trace
// exporter. The production implementation logs through slog; tests and
// disabled configurations use NoopRecorder.
type Recorder interface {
	RecordAgentRun(ctx context.Context, agentKind string, duration time.Duration, success bool)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error)
}

// SlogRecorder logs each recorded event at Info (or Warn on error)
// level through the given logger.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder builds a SlogRecorder. A nil logger uses slog.Default().
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

func (r *SlogRecorder) RecordAgentRun(_ context.Context, agentKind string, duration time.Duration, success bool) {
	r.logger.Info("agent run recorded", "agent_kind", agentKind, "duration_ms", duration.Milliseconds(), "success", success)
}

func (r *SlogRecorder) RecordLLMCall(_ context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if err != nil {
		r.logger.Warn("llm call recorded", "model", model, "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	r.logger.Info("llm call recorded", "model", model, "duration_ms", duration.Milliseconds(),
		"input_tokens", inputTokens, "output_tokens", outputTokens)
}

func (r *SlogRecorder) RecordToolExecution(_ context.Context, toolName string, duration time.Duration, err error) {
	if err != nil {
		r.logger.Warn("tool execution recorded", "tool", toolName, "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	r.logger.Info("tool execution recorded", "tool", toolName, "duration_ms", duration.Milliseconds())
}

// SetGlobalRecorder installs the process-wide Recorder.
func SetGlobalRecorder(r Recorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	globalRecorder = r
}

// GetGlobalRecorder returns the process-wide Recorder, defaulting to
// NoopRecorder if none was installed.
func GetGlobalRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	if globalRecorder == nil {
		return NoopRecorder{}
	}
	return globalRecorder
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*SlogRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
