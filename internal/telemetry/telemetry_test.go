package telemetry

import (
	"context"
	"testing"
)

func TestNew_RegistersCounters(t *testing.T) {
	tel := New()
	defer tel.Shutdown(context.Background())

	// A CounterVec is gathered only once it has a child, so create one
	// child per registered vector before counting families.
	tel.ExecutionsStarted.WithLabelValues("direct")
	tel.LLMCalls.WithLabelValues("m", "complete")
	tel.LLMTokens.WithLabelValues("m", "prompt")
	tel.ToolCalls.WithLabelValues("t", "true")
	tel.BudgetExceeded.WithLabelValues("cycles")

	metricFamilies, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metricFamilies) != 5 {
		t.Errorf("got %d metric families, want 5", len(metricFamilies))
	}
}

func TestIDs_SpanContext(t *testing.T) {
	tel := New()
	defer tel.Shutdown(context.Background())

	ctx, span := tel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	_ = ctx

	traceID, spanID := IDs(span)
	if traceID == "" || spanID == "" {
		t.Error("expected non-empty traceID/spanID from a started span")
	}
}
