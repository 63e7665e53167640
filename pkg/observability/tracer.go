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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func strAttr(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func intAttr(key string, value int) attribute.KeyValue { return attribute.Int(key, value) }

// SpanRecorder is the span surface every caller in this module drives
// the controller's iterations, agent runs, and chat API calls through.
// Tracer is the production implementation; NoopTracer disables it.
type SpanRecorder interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	StartAgentRun(ctx context.Context, agentID, agentKind, task string) (context.Context, trace.Span)
	StartLLMCall(ctx context.Context, model string, inputTokens int) (context.Context, trace.Span)
	StartToolExecution(ctx context.Context, agentID, toolName string) (context.Context, trace.Span)
	AddLLMUsage(span trace.Span, inputTokens, outputTokens int)
	AddPayload(span trace.Span, key, value string)
	RecordError(span trace.Span, err error)
	DebugExporter() *DebugExporter
	Shutdown(ctx context.Context) error
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*Tracer)

// WithDebugExporter attaches an in-memory span exporter alongside the
// configured OTLP/stdout one, readable through Manager.DebugExporter.
func WithDebugExporter(exp *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debugExporter = exp }
}

// WithCapturePayloads enables recording full request/response text as
// span attributes. Only meant for local debugging; spans get large.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) { t.capturePayloads = capture }
}

// Tracer wraps an OpenTelemetry TracerProvider with the handful of span
// shapes the agent loop and controller actually emit.
type Tracer struct {
	provider        *sdktrace.TracerProvider
	tracer          trace.Tracer
	debugExporter   *DebugExporter
	capturePayloads bool
}

// NewTracer builds a Tracer from TracingConfig. cfg.Enabled must be true.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if t.debugExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(t.debugExporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	return t, nil
}

func newSpanExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.IsInsecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// Start opens a span with the given name.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartAgentRun opens the span enclosing one agentloop.Runner.Run call.
func (t *Tracer) StartAgentRun(ctx context.Context, agentID, agentKind, task string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanAgentRun, trace.WithAttributes(
		strAttr(AttrAgentID, agentID),
		strAttr(AttrAgentKind, agentKind),
	))
	if t.capturePayloads {
		span.SetAttributes(strAttr("agent.task", task))
	}
	return ctx, span
}

// StartLLMCall opens the span enclosing one chat API round trip.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, inputTokens int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall, trace.WithAttributes(
		strAttr(AttrModel, model),
		intAttr(AttrTokensInput, inputTokens),
	))
}

// StartToolExecution opens the span enclosing one tool.Registry.Execute call.
func (t *Tracer) StartToolExecution(ctx context.Context, agentID, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanToolExecution, trace.WithAttributes(
		strAttr(AttrAgentID, agentID),
		strAttr(AttrToolName, toolName),
	))
}

// AddLLMUsage records token usage on an already-open LLM call span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(intAttr(AttrTokensInput, inputTokens), intAttr(AttrTokensOutput, outputTokens))
}

// AddPayload attaches a request/response payload attribute when payload
// capture is enabled; otherwise it is a no-op.
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if !t.capturePayloads {
		return
	}
	span.SetAttributes(strAttr(key, truncateString(value, 4000)))
}

// RecordError marks the span as errored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(strAttr(AttrErrorType, err.Error()))
}

// DebugExporter returns the attached in-memory span exporter, or nil.
func (t *Tracer) DebugExporter() *DebugExporter {
	return t.debugExporter
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
