package llm

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type stubProvider struct {
	resp *Response
	err  error
}

func (s stubProvider) Generate(context.Context, *Request) (*Response, error) {
	return s.resp, s.err
}

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func attrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTraced_RecordsUsage(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.
	exporter := installRecorder(t)

	p := Traced(stubProvider{resp: &Response{
		Content: `{}`,
		Model:   "gpt-4o",
		Usage:   Usage{InputTokens: 120, OutputTokens: 40},
	}}, "triage")

	resp, err := p.Generate(context.Background(), &Request{SchemaName: "triage_summary", MaxTokens: 1000})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("model = %q", resp.Model)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "llm.call" {
		t.Errorf("span name = %q, want llm.call", spans[0].Name)
	}

	a := attrs(spans[0])
	if got := a["dogtor.stage"].AsString(); got != "triage" {
		t.Errorf("dogtor.stage = %q, want triage", got)
	}
	if got := a["gen_ai.output.schema"].AsString(); got != "triage_summary" {
		t.Errorf("gen_ai.output.schema = %q", got)
	}
	if got := a["gen_ai.usage.input_tokens"].AsInt64(); got != 120 {
		t.Errorf("input tokens = %d, want 120", got)
	}
	if got := a["gen_ai.usage.output_tokens"].AsInt64(); got != 40 {
		t.Errorf("output tokens = %d, want 40", got)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("span status = error, want unset")
	}
}

func TestTraced_RecordsError(t *testing.T) {
	exporter := installRecorder(t)

	boom := errors.New("rate limited")
	p := Traced(stubProvider{err: boom}, "analysis")

	if _, err := p.Generate(context.Background(), &Request{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "rate limited" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected an exception event from RecordError")
	}
}
