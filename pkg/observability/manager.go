// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager owns the lifecycle of the tracer and recorder the controller
// and agent loop runner emit spans/events through.
type Manager struct {
	config   *Config
	tracer   *Tracer
	recorder Recorder
}

// NewManager builds a Manager from configuration. A nil cfg disables
// both tracing and recording.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		return &Manager{}, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	m := &Manager{config: cfg}

	if cfg.Tracing.Enabled {
		var opts []TracerOption
		if cfg.Tracing.IsDebugExporterEnabled() {
			opts = append(opts, WithDebugExporter(NewDebugExporter()))
		}
		if cfg.Tracing.CapturePayloads {
			opts = append(opts, WithCapturePayloads(true))
		}

		tracer, err := NewTracer(ctx, &cfg.Tracing, opts...)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		m.tracer = tracer
		slog.Info("observability: tracing initialized", "exporter", cfg.Tracing.Exporter,
			"endpoint", cfg.Tracing.Endpoint, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	if cfg.Metrics.Enabled {
		m.recorder = NewSlogRecorder(nil)
	}

	return m, nil
}

// Tracer returns the SpanRecorder, defaulting to NoopTracer when disabled.
func (m *Manager) Tracer() SpanRecorder {
	if m == nil || m.tracer == nil {
		return NoopTracer{}
	}
	return m.tracer
}

// Recorder returns the event Recorder, defaulting to NoopRecorder when disabled.
func (m *Manager) Recorder() Recorder {
	if m == nil || m.recorder == nil {
		return NoopRecorder{}
	}
	return m.recorder
}

// DebugExporter returns the in-memory span exporter, or nil if not enabled.
func (m *Manager) DebugExporter() *DebugExporter {
	if m == nil || m.tracer == nil {
		return nil
	}
	return m.tracer.DebugExporter()
}

// TracingEnabled reports whether tracing is active.
func (m *Manager) TracingEnabled() bool {
	return m != nil && m.tracer != nil
}

// RecordingEnabled reports whether the event recorder is active.
func (m *Manager) RecordingEnabled() bool {
	return m != nil && m.recorder != nil
}

// Shutdown flushes and stops the tracer, if any.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.tracer == nil {
		return nil
	}
	if err := m.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	slog.Info("observability: tracing shutdown complete")
	return nil
}

// MustNewManager builds a Manager and panics on error. Useful in main()
// where a misconfigured observability stack should fail fast.
func MustNewManager(ctx context.Context, cfg *Config) *Manager {
	m, err := NewManager(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create observability manager: %v", err))
	}
	return m
}
