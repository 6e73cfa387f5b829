package worker

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/breakage/internal/worker"

type instruments struct {
	tickDuration metric.Float64Histogram
	snapshots    metric.Int64Counter
	offered      metric.Int64Counter
}

func newInstruments() instruments {
	m := otel.Meter(instrumentationName)
	fallback := noop.Meter{}

	tick, err := m.Float64Histogram("breakage.tick.duration",
		metric.WithDescription("Wall time of one session tick"),
		metric.WithUnit("s"))
	if err != nil {
		tick, _ = fallback.Float64Histogram("breakage.tick.duration")
	}
	snaps, err := m.Int64Counter("breakage.snapshots",
		metric.WithDescription("Snapshots saved and loaded, by direction"))
	if err != nil {
		snaps, _ = fallback.Int64Counter("breakage.snapshots")
	}
	offered, err := m.Int64Counter("breakage.immediate.offered",
		metric.WithDescription("Immediate callbacks handled without the session lock"))
	if err != nil {
		offered, _ = fallback.Int64Counter("breakage.immediate.offered")
	}
	return instruments{tickDuration: tick, snapshots: snaps, offered: offered}
}
