// internal/tracing/tracing.go
// Package tracing starts OpenTelemetry spans correlated to a single
// request_id as it crosses the event loop, the HTTP forwarder and the
// WebSocket bridge. Unlike the teacher's goroutine-ID-to-span correlation
// hack (meaningful only for a runtime profiler), a gateway already has a
// natural correlation key — request_id — so spans are started directly
// against it. A ULID is attached as a span attribute so two gateway
// processes can be cross-referenced in logs even when span context
// propagation across the overlay is lost (the overlay only carries opaque
// bytes, not trace headers).
package tracing

import (
	"context"
	"crypto/rand"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/apron-network/apron-gateway-go"

var entropy *ulid.MonotonicEntropy

func init() {
	var seed int64
	b := make([]byte, 8)
	if _, err := rand.Read(b); err == nil {
		for _, c := range b {
			seed = seed<<8 | int64(c)
		}
	}
	entropy = ulid.Monotonic(mrand.New(mrand.NewSource(seed)), 0)
}

// CorrelationID returns a fresh ULID suitable for cross-process log
// correlation (sortable by generation time, unlike request_id).
func CorrelationID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// StartRequestSpan starts a span named "apron." + op, tagged with the
// request's correlation attributes. Callers should defer span.End().
func StartRequestSpan(ctx context.Context, op, requestID, serviceID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, "apron."+op, trace.WithAttributes(
		attribute.String("apron.request_id", requestID),
		attribute.String("apron.service_id", serviceID),
		attribute.String("apron.correlation_id", CorrelationID()),
	))
}
