package scheduler

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/breakage/internal/scheduler"

type instruments struct {
	inFlight  metric.Int64UpDownCounter
	submitted metric.Int64Counter
	coalesced metric.Int64Counter
	fallbacks metric.Int64Counter
}

func newInstruments() instruments {
	m := otel.Meter(instrumentationName)
	var fallback metric.Meter = noop.Meter{}
	var in instruments
	var err error

	if in.inFlight, err = m.Int64UpDownCounter("breakage.scheduler.inflight",
		metric.WithDescription("Island extractions running on workers")); err != nil {
		in.inFlight, _ = fallback.Int64UpDownCounter("breakage.scheduler.inflight")
	}
	if in.submitted, err = m.Int64Counter("breakage.scheduler.submitted",
		metric.WithDescription("Island extractions handed to workers")); err != nil {
		in.submitted, _ = fallback.Int64Counter("breakage.scheduler.submitted")
	}
	if in.coalesced, err = m.Int64Counter("breakage.scheduler.coalesced",
		metric.WithDescription("Requests attached to an in-flight extraction")); err != nil {
		in.coalesced, _ = fallback.Int64Counter("breakage.scheduler.coalesced")
	}
	if in.fallbacks, err = m.Int64Counter("breakage.scheduler.sync_fallbacks",
		metric.WithDescription("Requests run synchronously because every slot was busy")); err != nil {
		in.fallbacks, _ = fallback.Int64Counter("breakage.scheduler.sync_fallbacks")
	}
	return in
}
