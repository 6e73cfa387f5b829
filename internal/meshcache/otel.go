package meshcache

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/breakage/internal/meshcache"

type instruments struct {
	evictions metric.Int64Counter
	expired   metric.Int64Counter
	sizeKB    metric.Int64Gauge
}

func newInstruments() instruments {
	m := otel.Meter(instrumentationName)
	fallback := noop.Meter{}

	evictions, err := m.Int64Counter("breakage.meshcache.evictions",
		metric.WithDescription("Broken meshes evicted under budget pressure"))
	if err != nil {
		evictions, _ = fallback.Int64Counter("breakage.meshcache.evictions")
	}
	expired, err := m.Int64Counter("breakage.meshcache.expired",
		metric.WithDescription("Broken meshes freed on timeout"))
	if err != nil {
		expired, _ = fallback.Int64Counter("breakage.meshcache.expired")
	}
	sizeKB, err := m.Int64Gauge("breakage.meshcache.size",
		metric.WithDescription("Tracked broken mesh memory"),
		metric.WithUnit("KBy"))
	if err != nil {
		sizeKB, _ = fallback.Int64Gauge("breakage.meshcache.size")
	}
	return instruments{evictions: evictions, expired: expired, sizeKB: sizeKB}
}
