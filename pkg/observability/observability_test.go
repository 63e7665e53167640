package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlogRecorder_RecordAgentRun(t *testing.T) {
	ctx := context.Background()
	r := NewSlogRecorder(nil)

	r.RecordAgentRun(ctx, "developer", 100*time.Millisecond, true)
	r.RecordAgentRun(ctx, "reviewer", 200*time.Millisecond, false)
}

func TestSlogRecorder_RecordToolExecution(t *testing.T) {
	ctx := context.Background()
	r := NewSlogRecorder(nil)

	r.RecordToolExecution(ctx, "search", 50*time.Millisecond, nil)
	r.RecordToolExecution(ctx, "write_file", 100*time.Millisecond, errors.New("permission denied"))
}

func TestSlogRecorder_RecordLLMCall(t *testing.T) {
	ctx := context.Background()
	r := NewSlogRecorder(nil)

	r.RecordLLMCall(ctx, "claude-sonnet", 500*time.Millisecond, 100, 50, nil)
	r.RecordLLMCall(ctx, "claude-sonnet", 600*time.Millisecond, 150, 0, errors.New("rate limited"))
}

func TestNoopRecorder(t *testing.T) {
	ctx := context.Background()
	var r Recorder = NoopRecorder{}

	r.RecordAgentRun(ctx, "developer", 100*time.Millisecond, true)
	r.RecordToolExecution(ctx, "test", 50*time.Millisecond, nil)
	r.RecordLLMCall(ctx, "test-model", 300*time.Millisecond, 10, 5, nil)
}

func TestNoopTracer(t *testing.T) {
	var tracer SpanRecorder = NoopTracer{}

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test_span")
	defer span.End()

	_, agentSpan := tracer.StartAgentRun(ctx, "agent-1", "developer", "implement feature")
	tracer.AddLLMUsage(agentSpan, 10, 5)
	tracer.RecordError(agentSpan, errors.New("boom"))
	agentSpan.End()

	if tracer.DebugExporter() != nil {
		t.Error("expected NoopTracer.DebugExporter() to be nil")
	}
	if err := tracer.Shutdown(ctx); err != nil {
		t.Errorf("expected NoopTracer.Shutdown to be a no-op, got %v", err)
	}
}

func TestGlobalRecorder(t *testing.T) {
	ctx := context.Background()

	_ = GetGlobalRecorder()

	SetGlobalRecorder(NoopRecorder{})
	retrieved := GetGlobalRecorder()
	if retrieved == nil {
		t.Fatal("expected non-nil recorder after SetGlobalRecorder")
	}
	retrieved.RecordAgentRun(ctx, "developer", 100*time.Millisecond, true)
}

func TestStringTruncation(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
		{"test", 4, "test"},
		{"toolongstring", 4, "tool..."},
	}

	for _, tt := range tests {
		result := truncateString(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestNewManager_DisabledByDefault(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{}

	m, err := NewManager(ctx, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.TracingEnabled() {
		t.Error("expected tracing disabled when TracingConfig.Enabled is false")
	}
	if m.RecordingEnabled() {
		t.Error("expected recording disabled when MetricsConfig.Enabled is false")
	}
	if _, ok := m.Tracer().(NoopTracer); !ok {
		t.Error("expected Manager.Tracer() to return NoopTracer when disabled")
	}
	if _, ok := m.Recorder().(NoopRecorder); !ok {
		t.Error("expected Manager.Recorder() to return NoopRecorder when disabled")
	}
}

func TestNewManager_NilConfig(t *testing.T) {
	m, err := NewManager(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewManager(nil): %v", err)
	}
	if m.TracingEnabled() || m.RecordingEnabled() {
		t.Error("expected a nil config to disable everything")
	}
}

func TestNewManager_TracingEnabledStdout(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Tracing: TracingConfig{Enabled: true, Exporter: "stdout"}}

	m, err := NewManager(ctx, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.TracingEnabled() {
		t.Error("expected tracing enabled")
	}
	if m.DebugExporter() == nil {
		t.Error("expected debug exporter to default on when tracing is enabled")
	}
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{"disabled skips validation", TracingConfig{Enabled: false, Exporter: "bogus"}, false},
		{"stdout needs no endpoint", TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"otlp needs endpoint", TracingConfig{Enabled: true, Exporter: "otlp", SamplingRate: 1}, true},
		{"otlp with endpoint ok", TracingConfig{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", SamplingRate: 1}, false},
		{"unknown exporter rejected", TracingConfig{Enabled: true, Exporter: "jaeger", SamplingRate: 1}, true},
		{"sampling rate out of range", TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDebugExporter_CapturesRelevantSpans(t *testing.T) {
	exp := NewDebugExporter()
	if exp.Count() != 0 {
		t.Errorf("expected empty exporter, got %d spans", exp.Count())
	}
	exp.Clear()
	if got := exp.GetAllSpans(); len(got) != 0 {
		t.Errorf("expected no spans after Clear, got %d", len(got))
	}
}
