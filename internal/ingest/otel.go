package ingest

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/breakage/internal/ingest"

type instruments struct {
	breaks  metric.Int64Counter
	vetoes  metric.Int64Counter
	retries metric.Int64Counter
}

func newInstruments() instruments {
	m := otel.Meter(instrumentationName)
	fallback := noop.Meter{}

	breaks, err := m.Int64Counter("breakage.breaks",
		metric.WithDescription("Break events applied, by kind"))
	if err != nil {
		breaks, _ = fallback.Int64Counter("breakage.breaks")
	}
	vetoes, err := m.Int64Counter("breakage.vetoes",
		metric.WithDescription("Collision responses vetoed by immediate callbacks"))
	if err != nil {
		vetoes, _ = fallback.Int64Counter("breakage.vetoes")
	}
	retries, err := m.Int64Counter("breakage.retries",
		metric.WithDescription("Plane breaks deferred to the next tick"))
	if err != nil {
		retries, _ = fallback.Int64Counter("breakage.retries")
	}
	return instruments{breaks: breaks, vetoes: vetoes, retries: retries}
}
