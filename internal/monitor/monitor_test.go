package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/sandbox"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/internal/worker"
	"github.com/OCAP2/breakage/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInflux struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
}

func (f *fakeInflux) WritePoint(_ context.Context, _ string, p *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
	return nil
}

func (f *fakeInflux) Bucket() string { return "breakage" }

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fakeRecorder struct {
	samples []storage.TickSample
	err     error
}

func (f *fakeRecorder) RecordTick(_ context.Context, s storage.TickSample) error {
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, s)
	return nil
}

type fakePublisher struct {
	docs []any
}

func (f *fakePublisher) PublishStatus(status any) error {
	f.docs = append(f.docs, status)
	return nil
}

// brokenWorld returns a worker with one shattered pane at (3, 4, 1).
func brokenWorld(t *testing.T) (*worker.Manager, *sandbox.World) {
	t.Helper()
	w := sandbox.New()
	w.AddStockMaterials()
	pane := w.AddPane(core.V(3, 4, 1))

	cfg := ingest.DefaultConfig()
	cfg.Fade = fade.Config{}
	s, err := ingest.New(cfg, ingest.Dependencies{
		Physics: w, Renderer: w, Effects: w, Geometry: w, Materials: w, Notifier: w,
	})
	require.NoError(t, err)
	m, err := worker.NewManager(worker.Dependencies{Session: s, Physics: w, Renderer: w})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	c := sandbox.Impact(0, pane, sandbox.MatSteel, sandbox.MatGlass,
		core.V(3, 3.95, 1), core.V(0, -1, 0), 300, 0.01)
	m.WithSession(func(s *ingest.Session) {
		s.HandleEvent(context.Background(), core.PhysicsEvent{Kind: core.EventCollision, Collision: &c})
	})
	return m, w
}

func TestStatus(t *testing.T) {
	m, _ := brokenWorld(t)
	m.Level().Set(level.Level{Name: "docks"})

	svc := NewService(Dependencies{Worker: m, TopN: 5})
	st := svc.Status()

	assert.Equal(t, "docks", st.Level.Name)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, 1, st.Objects)
	assert.Equal(t, 1, st.CacheEntries)
	assert.Positive(t, st.CacheKB)
	assert.Equal(t, 8<<10, st.BudgetKB)
	require.Len(t, st.Top, 1)
	assert.Equal(t, "glass_shatter", st.Top[0].FX)

	sample := st.TickSample()
	assert.Equal(t, "docks", sample.Level)
	assert.Equal(t, st.CacheKB, sample.CacheKB)
}

func TestStatus_NoTopWithoutOverlay(t *testing.T) {
	m, _ := brokenWorld(t)
	st := NewService(Dependencies{Worker: m}).Status()
	assert.Empty(t, st.Top)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"top"`)
}

func TestOverlay_GeoJSON(t *testing.T) {
	m, _ := brokenWorld(t)
	m.Level().Set(level.Level{Name: "docks"})

	data, err := NewService(Dependencies{Worker: m}).Overlay()
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Equal(t, "docks", fc.Properties["level"])
	require.Len(t, fc.Features, 2)

	point := fc.Features[0]
	assert.Equal(t, "Point", point.Geometry.Type)
	var xyz []float64
	require.NoError(t, json.Unmarshal(point.Geometry.Coordinates, &xyz))
	assert.Equal(t, []float64{3, 4, 1}, xyz)
	assert.Equal(t, "glass_shatter", point.Properties["fx"])

	ring := fc.Features[1]
	assert.Equal(t, "LineString", ring.Geometry.Type)
	var coords [][]float64
	require.NoError(t, json.Unmarshal(ring.Geometry.Coordinates, &coords))
	require.Len(t, coords, 5)
	assert.Equal(t, coords[0], coords[4])
	assert.InDelta(t, 2, coords[0][0], 1e-9)
	assert.InDelta(t, 3.95, coords[0][1], 1e-9)
	assert.Equal(t, "footprint", ring.Properties["kind"])
}

func TestOverlay_Empty(t *testing.T) {
	w := sandbox.New()
	s, err := ingest.New(ingest.DefaultConfig(), ingest.Dependencies{Physics: w, Renderer: w, Geometry: w, Materials: w})
	require.NoError(t, err)
	m, err := worker.NewManager(worker.Dependencies{Session: s, Physics: w, Renderer: w})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	data, err := NewService(Dependencies{Worker: m}).Overlay()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"features":[]`)
}

func TestPublish_SkipsWithoutLevel(t *testing.T) {
	m, _ := brokenWorld(t)
	fi := &fakeInflux{}
	svc := NewService(Dependencies{Worker: m, Influx: fi})

	require.NoError(t, svc.Publish(context.Background()))
	assert.Zero(t, fi.count())
}

func TestPublish_AllSinks(t *testing.T) {
	m, _ := brokenWorld(t)
	m.Level().Set(level.Level{Name: "docks"})
	fi, rec, pub := &fakeInflux{}, &fakeRecorder{}, &fakePublisher{}
	svc := NewService(Dependencies{Worker: m, Influx: fi, Recorder: rec, Publisher: pub})

	require.NoError(t, svc.Publish(context.Background()))
	assert.Equal(t, 1, fi.count())
	assert.Equal(t, "breakage_tick", fi.points[0].Name())
	require.Len(t, rec.samples, 1)
	assert.Equal(t, 1, rec.samples[0].Events)
	require.Len(t, pub.docs, 1)
	assert.IsType(t, Status{}, pub.docs[0])
}

func TestPublish_JoinsErrors(t *testing.T) {
	m, _ := brokenWorld(t)
	m.Level().Set(level.Level{Name: "docks"})
	boom := errors.New("boom")
	fi := &fakeInflux{}
	svc := NewService(Dependencies{Worker: m, Influx: fi, Recorder: &fakeRecorder{err: boom}})

	err := svc.Publish(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, fi.count())
}

func TestStartStop_WritesFiles(t *testing.T) {
	m, _ := brokenWorld(t)
	m.Level().Set(level.Level{Name: "docks"})
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.json")
	overlayPath := filepath.Join(dir, "overlay.geojson")
	fi := &fakeInflux{}

	svc := NewService(Dependencies{
		Worker:      m,
		Influx:      fi,
		StatusPath:  statusPath,
		OverlayPath: overlayPath,
		Interval:    5 * time.Millisecond,
	})
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool {
		_, err1 := os.Stat(statusPath)
		_, err2 := os.Stat(overlayPath)
		return err1 == nil && err2 == nil && fi.count() > 0
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	svc.Stop()

	raw, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, "docks", st.Level.Name)
	assert.Equal(t, 1, st.Events)
}
