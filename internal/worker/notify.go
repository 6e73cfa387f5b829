package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/OCAP2/breakage/internal/influx"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Notifiers fans one notification out to several receivers in order.
type Notifiers []core.Notifier

func (n Notifiers) ObjectBroke(e core.BreakEvent, index int) {
	for _, r := range n {
		if r != nil {
			r.ObjectBroke(e, index)
		}
	}
}

func (n Notifiers) EntitySpawned(h, source core.PhysHandle) {
	for _, r := range n {
		if r != nil {
			r.EntitySpawned(h, source)
		}
	}
}

// PointWriter is the part of the influx manager the recorder needs.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
	Bucket() string
}

// BreakRecorder writes one influx point per recorded break.
type BreakRecorder struct {
	Writer PointWriter
	Level  *level.Context
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *BreakRecorder) ObjectBroke(e core.BreakEvent, index int) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	p := influx.NewBreakPoint(r.Level.Name(), index, e, now())
	if err := r.Writer.WritePoint(context.Background(), r.Writer.Bucket(), p); err != nil && r.Logger != nil {
		r.Logger.Warn("Failed to record break", "index", index, "error", err)
	}
}

// EntitySpawned is not recorded.
func (r *BreakRecorder) EntitySpawned(core.PhysHandle, core.PhysHandle) {}
