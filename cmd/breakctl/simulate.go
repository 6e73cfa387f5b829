package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/dispatcher"
	"github.com/OCAP2/breakage/internal/influx"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/logging"
	"github.com/OCAP2/breakage/internal/monitor"
	"github.com/OCAP2/breakage/internal/sandbox"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/internal/worker"
	"github.com/OCAP2/breakage/pkg/core"
)

const (
	tickStep       = 16 * time.Millisecond
	publishEvery   = 60
	maxDrainTicks  = 500
	drainWaitDelay = time.Millisecond
)

// levelStreamer is implemented by backends that bracket a level's traffic.
type levelStreamer interface {
	StartLevel(ctx context.Context, level string) error
	EndLevel(ctx context.Context) error
}

// randomImpact picks one of the yard's targets and builds a collision that
// hits it.
func (y *yard) randomImpact(rng *rand.Rand) core.CollisionEvent {
	switch rng.IntN(3) {
	case 0:
		i := rng.IntN(len(y.panes))
		x := float64(i)*3 + rng.Float64() - 0.5
		return sandbox.Impact(0, y.panes[i], sandbox.MatSteel, sandbox.MatGlass,
			core.V(x, -0.05, 1+rng.Float64()-0.5), core.V(0, -1, 0), 300, 0.01)
	case 1:
		i := rng.IntN(len(y.walls))
		mat := sandbox.MatWood
		if i > 0 {
			mat = sandbox.MatConcrete
		}
		x := float64(i)*15 + rng.Float64()*6 - 3
		return sandbox.Impact(y.rock, y.walls[i], sandbox.MatSteel, mat,
			core.V(x, 9.5, 1+rng.Float64()*2), core.V(0, -1, 0), 20, 50)
	default:
		i := rng.IntN(len(y.trees))
		return sandbox.Impact(y.rock, y.trees[i], sandbox.MatSteel, sandbox.MatWood,
			core.V(float64(i)*6, 19.7, 3), core.V(0, -1, 0), 20, 50)
	}
}

// simulate throws n random impacts at the sandbox yard, prints the final
// status and stores the resulting history under levelName.
func simulate(ctx context.Context, out io.Writer, n int, levelName string) error {
	bc, err := config.GetBreakageConfig()
	if err != nil {
		return err
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Warn("Failed to close storage backend", "error", err)
		}
	}()

	y := buildYard()
	notifiers := worker.Notifiers{y.world}
	if bn, ok := backend.(core.Notifier); ok {
		notifiers = append(notifiers, bn)
	}

	var points worker.PointWriter
	if ic := config.GetInfluxConfig(); ic.Enabled {
		backup := filepath.Join(config.GetLoggingConfig().Dir, "breakage_influx_backup.lp.gz")
		im := influx.NewManager(ic, ZLogger, backup)
		if err := im.Connect(ctx); err != nil {
			Logger.Warn("InfluxDB unavailable", "error", err)
		} else {
			defer func() {
				if err := im.Close(); err != nil {
					Logger.Warn("Failed to close InfluxDB", "error", err)
				}
			}()
			points = im
			notifiers = append(notifiers, &worker.BreakRecorder{Writer: im, Level: LevelContext, Logger: Logger})
		}
	}

	session, err := newYardSession(y, notifiers)
	if err != nil {
		return err
	}
	w, err := worker.NewManager(worker.Dependencies{
		Session:  session,
		Physics:  y.world,
		Renderer: y.world,
		Backend:  backend,
		Level:    LevelContext,
		Logger:   Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(ctx); err != nil {
			Logger.Warn("Failed to close session", "error", err)
		}
	}()

	d, err := dispatcher.New(logging.NewDispatcherLogger(ZLogger))
	if err != nil {
		return err
	}
	defer d.Close()
	w.RegisterHandlers(d)

	mdeps := monitor.Dependencies{Worker: w, Influx: points, TopN: bc.DebugOverlay, Logger: Logger}
	if rec, ok := backend.(storage.TickRecorder); ok {
		mdeps.Recorder = rec
	}
	if pub, ok := backend.(monitor.StatusPublisher); ok {
		mdeps.Publisher = pub
	}
	mon := monitor.NewService(mdeps)

	LevelContext.Set(level.Level{Name: levelName, Host: true})
	defer LevelContext.Clear()
	if ls, ok := backend.(levelStreamer); ok {
		if err := ls.StartLevel(ctx, levelName); err != nil {
			return fmt.Errorf("start level: %w", err)
		}
		defer func() {
			if err := ls.EndLevel(ctx); err != nil {
				Logger.Warn("Failed to end level", "error", err)
			}
		}()
	}

	step := func(ticks int) {
		y.world.AdvanceFrame(1)
		for _, h := range y.world.Handles() {
			y.world.Draw(h)
		}
		w.Tick(ctx, tickStep)
		if ticks%publishEvery == 0 {
			if err := mon.Publish(ctx); err != nil {
				Logger.Warn("Failed to publish status", "error", err)
			}
		}
	}

	rng := rand.New(rand.NewPCG(bc.Seed, uint64(n)))
	vetoes, ticks := 0, 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := y.randomImpact(rng)
		for _, mode := range []core.DeliveryMode{core.Immediate, core.Logged} {
			veto, err := d.Dispatch(ctx, core.PhysicsEvent{Kind: core.EventCollision, Mode: mode, Collision: &c})
			if err != nil {
				return fmt.Errorf("dispatch impact %d: %w", i, err)
			}
			if veto {
				vetoes++
			}
		}
		ticks++
		step(ticks)
	}
	for i := 0; i < maxDrainTicks && w.Stats().Pending > 0; i++ {
		time.Sleep(drainWaitDelay)
		ticks++
		step(ticks)
	}
	if err := mon.Publish(ctx); err != nil {
		Logger.Warn("Failed to publish status", "error", err)
	}

	st := mon.Status()
	Logger.Info("Simulation finished",
		"impacts", n,
		"vetoes", vetoes,
		"ticks", ticks,
		"events", st.Events,
		"objects", st.Objects)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))

	if bc.DebugOverlay > 0 {
		overlay, err := mon.Overlay()
		if err != nil {
			return err
		}
		path := filepath.Join(config.GetLoggingConfig().Dir, levelName+".overlay.geojson")
		if err := os.WriteFile(path, overlay, 0o644); err != nil {
			return fmt.Errorf("write overlay: %w", err)
		}
		Logger.Info("Wrote debug overlay", "path", path)
	}

	id, err := w.SaveSnapshot(ctx, breaklog.SnapshotOptions{FreshWorld: true})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	fmt.Fprintf(out, "saved snapshot %s for level %s\n", id, levelName)
	return nil
}
