// Package telemetry wires the otel tracer and prometheus counters the
// Journal's traceId/spanId/parentSpanId fields and the Plan Executor's
// resource caps imply (spec §3 Entry shape, §5 resource caps).
//
// Grounded on pkg/observability/{tracer.go,metrics.go,manager.go},
// trimmed of the OTLP gRPC exporter and semconv resource attributes
// the teacher wires (no otlptracegrpc/semconv dependency is declared
// for this module — see DESIGN.md) since the spec never asks for an
// exporter destination, only for the span-correlation fields
// themselves and the counters §8's testable properties reference.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles a TracerProvider and the process-wide Prometheus
// registry for one thinksuit process.
type Telemetry struct {
	Provider *sdktrace.TracerProvider
	Registry *prometheus.Registry

	ExecutionsStarted *prometheus.CounterVec
	LLMCalls          *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	BudgetExceeded    *prometheus.CounterVec
}

// New constructs a Telemetry with an in-process (no exporter) tracer
// provider — spans are still created and correlated (trace/span IDs
// populate Journal entries), they are simply not shipped anywhere,
// matching the spec's silence on an export destination — plus five
// counters registered on Registry. Only ExecutionsStarted is
// incremented in this module (by the CLI, once per turn); the Plan
// Executor and Tool Mediator do not increment LLMCalls, LLMTokens,
// ToolCalls or BudgetExceeded.
func New() *Telemetry {
	provider := sdktrace.NewTracerProvider()
	registry := prometheus.NewRegistry()

	t := &Telemetry{
		Provider: provider,
		Registry: registry,
		ExecutionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinksuit",
			Name:      "executions_started_total",
			Help:      "Executions started, labeled by strategy.",
		}, []string{"strategy"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinksuit",
			Name:      "llm_calls_total",
			Help:      "callLLM invocations, labeled by model and finish reason.",
		}, []string{"model", "finish_reason"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinksuit",
			Name:      "llm_tokens_total",
			Help:      "Token usage, labeled by model and kind (prompt/completion).",
		}, []string{"model", "kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinksuit",
			Name:      "tool_calls_total",
			Help:      "Tool invocations, labeled by tool name and success.",
		}, []string{"tool", "success"}),
		BudgetExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinksuit",
			Name:      "budget_exceeded_total",
			Help:      "system.budget.exceeded occurrences, labeled by resource kind.",
		}, []string{"resource"}),
	}

	registry.MustRegister(t.ExecutionsStarted, t.LLMCalls, t.LLMTokens, t.ToolCalls, t.BudgetExceeded)
	return t
}

// Tracer returns a named tracer from the provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.Provider.Tracer(name)
}

// IDs extracts the hex trace/span IDs from a span context, for
// populating Journal Entry.TraceID/SpanID (spec §3).
func IDs(span trace.Span) (traceID, spanID string) {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// Shutdown flushes and releases the tracer provider's resources.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Provider.Shutdown(ctx)
}
