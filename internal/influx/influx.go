package influx

import (
	"cmp"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	// MeasurementTick is the per-tick session load sample.
	MeasurementTick = "breakage_tick"
	// MeasurementBreak is written once per recorded break.
	MeasurementBreak = "breakage_event"

	retention = 90 * 24 * time.Hour
)

var ErrDisabled = errors.New("influx: disabled in config")

// Manager writes points to one InfluxDB bucket. When the server is not
// reachable at Connect, points go to a gzip'd line protocol file instead so
// they can be imported later.
type Manager struct {
	cfg        config.InfluxConfig
	log        zerolog.Logger
	backupPath string

	client influxdb2.Client
	live   api.WriteAPI

	mu     sync.Mutex
	file   *os.File
	backup *gzip.Writer
}

func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	cfg.Bucket = cmp.Or(cfg.Bucket, "breakage")
	return &Manager{cfg: cfg, log: log, backupPath: backupPath}
}

func (m *Manager) Bucket() string {
	return m.cfg.Bucket
}

// Live reports whether points go to the server rather than the backup file.
func (m *Manager) Live() bool {
	return m.live != nil
}

func (m *Manager) serverURL() string {
	u := url.URL{
		Scheme: cmp.Or(m.cfg.Protocol, "http"),
		Host:   net.JoinHostPort(m.cfg.Host, m.cfg.Port),
	}
	return u.String()
}

func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(m.serverURL(), m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(2500).SetFlushInterval(1000))

	if up, err := m.client.Ping(ctx); err != nil || !up {
		m.log.Warn().Err(err).Str("backupPath", m.backupPath).Msg("InfluxDB unreachable, writing to backup file")
		return m.OpenBackup()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	m.live = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errs <-chan error) {
		for err := range errs {
			m.log.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("InfluxDB write failed")
		}
	}(m.live.Errors())

	m.log.Info().Str("url", m.serverURL()).Str("bucket", m.cfg.Bucket).Msg("InfluxDB connected")
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Creating InfluxDB organization")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating influx org %q: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.log.Info().Str("bucket", m.cfg.Bucket).Dur("retention", retention).Msg("Creating InfluxDB bucket")
	expire := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &expire,
		EverySeconds: int64(retention / time.Second),
	})
	if err != nil {
		return fmt.Errorf("creating influx bucket %q: %w", m.cfg.Bucket, err)
	}
	return nil
}

// OpenBackup starts appending line protocol to the backup file. Each run
// adds a gzip member, which readers treat as one stream.
func (m *Manager) OpenBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		return nil
	}
	f, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening influx backup: %w", err)
	}
	m.file, m.backup = f, gzip.NewWriter(f)
	return nil
}

func (m *Manager) WritePoint(_ context.Context, bucket string, p *write.Point) error {
	if bucket != m.cfg.Bucket {
		return fmt.Errorf("influx bucket %q not registered", bucket)
	}
	if m.live != nil {
		m.live.WritePoint(p)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return errors.New("influx not connected and no backup file open")
	}
	if _, err := m.backup.Write([]byte(write.PointToLineProtocol(p, time.Nanosecond) + "\n")); err != nil {
		return fmt.Errorf("writing influx backup: %w", err)
	}
	return nil
}

// Close flushes pending writes. It is safe to call more than once.
func (m *Manager) Close() error {
	if m.live != nil {
		m.live.Flush()
		m.live = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil
	}
	err := errors.Join(m.backup.Close(), m.file.Close())
	m.backup, m.file = nil, nil
	return err
}

// NewTickPoint converts a session load sample.
func NewTickPoint(s storage.TickSample) *write.Point {
	return write.NewPoint(MeasurementTick,
		map[string]string{"level": s.Level},
		map[string]any{
			"events":        s.Events,
			"objects":       s.Objects,
			"pending":       s.Pending,
			"cache_kb":      s.CacheKB,
			"budget_kb":     s.BudgetKB,
			"tree_counter":  s.TreeCounter,
			"glass_counter": s.GlassCounter,
		},
		s.Time)
}

// NewBreakPoint converts a recorded break.
func NewBreakPoint(level string, index int, e core.BreakEvent, at time.Time) *write.Point {
	return write.NewPoint(MeasurementBreak,
		map[string]string{
			"level":       level,
			"kind":        e.Kind.String(),
			"participant": e.Participant.String(),
			"explosion":   fmt.Sprint(e.Explosion()),
		},
		map[string]any{
			"index":        index,
			"entity":       int64(e.Entity),
			"energy":       e.Energy,
			"size":         e.Size,
			"auto_shatter": e.AutoShatter,
		},
		at)
}
