package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitTracer(t *testing.T) {
	shutdown, err := InitTracer("livestats-test", zerolog.Nop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, span := Tracer().Start(context.Background(), "test")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span after init")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
