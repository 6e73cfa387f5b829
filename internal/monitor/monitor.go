// Package monitor reports breakage load: a status document, a GeoJSON
// overlay of the broken-mesh cache and periodic performance samples.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/breakage/internal/geo"
	"github.com/OCAP2/breakage/internal/influx"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/internal/worker"
	geom "github.com/peterstace/simplefeatures/geom"
)

// StatusPublisher pushes status documents to a relay.
type StatusPublisher interface {
	PublishStatus(status any) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Worker *worker.Manager
	// Influx, Recorder and Publisher are optional sinks for Publish.
	Influx    worker.PointWriter
	Recorder  storage.TickRecorder
	Publisher StatusPublisher
	// StatusPath and OverlayPath are rewritten every interval when set.
	StatusPath  string
	OverlayPath string
	// TopN limits the debug report to the largest cache entries. Zero
	// leaves the report out.
	TopN     int
	Interval time.Duration
	Logger   *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	log       *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		log:      logger.With("component", "monitor"),
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TopEntry is one line of the debug overlay report.
type TopEntry struct {
	Owner    uint64  `json:"owner"`
	Part     int     `json:"part"`
	Entity   uint64  `json:"entity"`
	SizeKB   int     `json:"sizeKB"`
	Visible  bool    `json:"visible"`
	TimeoutS float64 `json:"timeoutS,omitempty"`
	FX       string  `json:"fx,omitempty"`
}

// Status is the monitoring document.
type Status struct {
	Time         time.Time   `json:"time"`
	Level        level.Level `json:"level"`
	Events       int         `json:"events"`
	Objects      int         `json:"objects"`
	Pending      int         `json:"pending"`
	Retries      int         `json:"retries"`
	Queued       int         `json:"queued"`
	CacheKB      int         `json:"cacheKB"`
	BudgetKB     int         `json:"budgetKB"`
	CacheEntries int         `json:"cacheEntries"`
	TreeHits     int         `json:"treeHits"`
	TreeMisses   int         `json:"treeMisses"`
	HitRecords   int         `json:"hitRecords"`
	Fading       int         `json:"fading"`
	TreeCounter  float64     `json:"treeCounter"`
	GlassCounter float64     `json:"glassCounter"`
	LastTickMs   float64     `json:"lastTickMs"`
	Top          []TopEntry  `json:"top,omitempty"`
}

// Status returns the current status.
func (s *Service) Status() Status {
	w := s.deps.Worker
	st := w.Stats()
	out := Status{
		Time:         time.Now().UTC(),
		Level:        w.Level().Get(),
		Events:       st.Events,
		Objects:      st.Objects,
		Pending:      st.Pending,
		Retries:      st.Retries,
		Queued:       st.Queued,
		CacheKB:      st.CacheKB,
		BudgetKB:     st.BudgetKB,
		CacheEntries: st.CacheEntries,
		TreeHits:     st.TreeHits,
		TreeMisses:   st.TreeMisses,
		HitRecords:   st.HitRecords,
		Fading:       st.Fading,
		TreeCounter:  st.TreeCounter,
		GlassCounter: st.GlassCounter,
		LastTickMs:   float64(w.LastTickDuration().Microseconds()) / 1000,
	}
	if s.deps.TopN > 0 {
		for _, it := range w.CacheItems(s.deps.TopN) {
			out.Top = append(out.Top, TopEntry{
				Owner:    uint64(it.Owner),
				Part:     it.Part,
				Entity:   uint64(it.Entity),
				SizeKB:   it.SizeKB,
				Visible:  it.Visible,
				TimeoutS: it.Timeout.Seconds(),
				FX:       it.FX,
			})
		}
	}
	return out
}

// TickSample converts a status into a performance sample.
func (st Status) TickSample() storage.TickSample {
	return storage.TickSample{
		Time:         st.Time,
		Level:        st.Level.Name,
		Events:       st.Events,
		Objects:      st.Objects,
		Pending:      st.Pending,
		CacheKB:      st.CacheKB,
		BudgetKB:     st.BudgetKB,
		TreeCounter:  st.TreeCounter,
		GlassCounter: st.GlassCounter,
	}
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geom.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type featureCollection struct {
	Type       string         `json:"type"`
	Features   []feature      `json:"features"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Overlay renders the broken-mesh cache as a GeoJSON FeatureCollection in
// level coordinates. Each entry yields a point at its owner and the ground
// outline of its bounding box. Entries whose owner is gone are skipped.
func (s *Service) Overlay() ([]byte, error) {
	w := s.deps.Worker
	st := w.Stats()
	fc := featureCollection{
		Type:     "FeatureCollection",
		Features: []feature{},
		Properties: map[string]any{
			"level":    w.Level().Name(),
			"cacheKB":  st.CacheKB,
			"budgetKB": st.BudgetKB,
		},
	}
	for _, it := range w.CacheItems(s.deps.TopN) {
		if !it.HasStatus {
			continue
		}
		props := map[string]any{
			"owner":    uint64(it.Owner),
			"part":     it.Part,
			"entity":   uint64(it.Entity),
			"sizeKB":   it.SizeKB,
			"visible":  it.Visible,
			"timeoutS": it.Timeout.Seconds(),
		}
		if it.FX != "" {
			props["fx"] = it.FX
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Geometry:   geo.PointFromVec3(it.Transform.Pos).AsGeometry(),
			Properties: props,
		})
		fc.Features = append(fc.Features, feature{
			Type:     "Feature",
			Geometry: geo.FootprintRing(it.BBox, it.Transform).AsGeometry(),
			Properties: map[string]any{
				"owner": uint64(it.Owner),
				"part":  it.Part,
				"kind":  "footprint",
			},
		})
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal overlay: %w", err)
	}
	return data, nil
}

// Publish sends one status sample to every configured sink. Nothing is
// published while no level is loaded.
func (s *Service) Publish(ctx context.Context) error {
	st := s.Status()
	if !st.Level.Loaded() {
		return nil
	}

	var errs []error
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(ctx, s.deps.Influx.Bucket(), influx.NewTickPoint(st.TickSample())); err != nil {
			errs = append(errs, fmt.Errorf("influx: %w", err))
		}
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordTick(ctx, st.TickSample()); err != nil {
			errs = append(errs, fmt.Errorf("record tick: %w", err))
		}
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishStatus(st); err != nil {
			errs = append(errs, fmt.Errorf("publish status: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		s.log.Debug("Starting status monitor goroutine")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.step(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) step(ctx context.Context) {
	if s.deps.StatusPath != "" {
		data, err := json.MarshalIndent(s.Status(), "", "  ")
		if err == nil {
			err = writeFile(s.deps.StatusPath, data)
		}
		if err != nil {
			s.log.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.OverlayPath != "" {
		data, err := s.Overlay()
		if err == nil {
			err = writeFile(s.deps.OverlayPath, data)
		}
		if err != nil {
			s.log.Error("Error writing overlay file", "error", err)
		}
	}
	if err := s.Publish(ctx); err != nil {
		s.log.Error("Error publishing status", "error", err)
	}
}

// writeFile replaces path through a temporary file so readers never see a
// partial document.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
