package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies tcpserv spans. Spans are exported through whatever
// provider the embedding process installs with otel.SetTracerProvider.
const TracerName = "github.com/danmuck/tcpserv"

func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// EndSpan records err on span, sets its status, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
