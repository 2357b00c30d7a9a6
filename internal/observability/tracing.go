package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rl1809/stock-ledger"

// Tracer uses the global provider, which is a no-op until a host installs one.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
