// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopManager returns a Manager with tracing and recording disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// NoopTracer is a SpanRecorder that does nothing; used when tracing is disabled.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

func (NoopTracer) StartAgentRun(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

func (NoopTracer) StartLLMCall(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

func (NoopTracer) StartToolExecution(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

func (NoopTracer) AddLLMUsage(_ trace.Span, _, _ int)         {}
func (NoopTracer) AddPayload(_ trace.Span, _, _ string)       {}
func (NoopTracer) RecordError(_ trace.Span, _ error)          {}
func (NoopTracer) DebugExporter() *DebugExporter              { return nil }
func (NoopTracer) Shutdown(_ context.Context) error           { return nil }

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) RecordAgentRun(_ context.Context, _ string, _ time.Duration, _ bool)             {}
func (NoopRecorder) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error)   {}
func (NoopRecorder) RecordToolExecution(_ context.Context, _ string, _ time.Duration, _ error)       {}

var _ SpanRecorder = NoopTracer{}
