package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingProviderFetchSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracingProvider(TracingConfig{ServiceName: "test", Exporter: exporter})
	if err != nil {
		t.Fatalf("NewTracingProvider() error = %v", err)
	}
	defer tp.Shutdown(context.Background())

	req, _ := http.NewRequest(http.MethodPost, "http://example.com/mcp", nil)
	ctx, span := tp.StartFetch(req, 1)
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("expected a valid span context")
	}
	if req.Header.Get("Traceparent") == "" {
		t.Error("trace context was not injected into request headers")
	}
	tp.EndFetch(span, http.StatusNotFound, nil)

	req2, _ := http.NewRequest(http.MethodGet, "http://example.com/mcp", nil)
	_, span2 := tp.StartFetch(req2, 0)
	tp.EndFetch(span2, 0, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	if spans[0].Name != "HTTP POST" || spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("span = %s %v", spans[0].Name, spans[0].SpanKind)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("404 span status = %v", spans[0].Status)
	}

	var hop, status attribute.Value
	for _, kv := range spans[0].Attributes {
		switch kv.Key {
		case "mcp.redirect_hop":
			hop = kv.Value
		case "http.response.status_code":
			status = kv.Value
		}
	}
	if hop.AsInt64() != 1 || status.AsInt64() != 404 {
		t.Errorf("hop = %v, status = %v", hop.AsInt64(), status.AsInt64())
	}
	if len(spans[1].Events) == 0 || spans[1].Status.Code != codes.Error {
		t.Errorf("error span = %+v", spans[1])
	}
}

func TestTracingProviderNil(t *testing.T) {
	var tp *TracingProvider
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	ctx, span := tp.StartFetch(req, 0)
	tp.EndFetch(span, 200, nil)
	tp.AddEvent(ctx, "ignored")
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if req.Header.Get("Traceparent") != "" {
		t.Error("nil provider should not inject headers")
	}
}

func TestCreateExporterUnsupported(t *testing.T) {
	if _, err := NewTracingProvider(TracingConfig{ExporterType: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}
