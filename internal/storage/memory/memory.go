package memory

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/google/uuid"
)

const (
	extCompressed = ".bsnap.gz"
	extPlain      = ".bsnap"
	timeLayout    = "20060102T150405.000000000Z"
)

var unsafeLevelChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type record struct {
	info storage.SnapshotInfo
	data []byte
}

// Backend keeps snapshots in memory and mirrors them to files when an
// output directory is configured.
type Backend struct {
	cfg config.MemoryConfig

	snapshots map[string][]record // keyed by level, oldest first
	mu        sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:       cfg,
		snapshots: make(map[string][]record),
	}
}

// Init creates the output directory.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SaveSnapshot stores data under level.
func (b *Backend) SaveSnapshot(_ context.Context, level string, data []byte) (string, error) {
	rec := record{
		info: storage.SnapshotInfo{
			ID:        uuid.NewString(),
			Level:     level,
			CreatedAt: time.Now().UTC(),
			Size:      len(data),
		},
		data: append([]byte(nil), data...),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir != "" {
		if err := b.writeFile(rec); err != nil {
			return "", err
		}
	}
	b.snapshots[level] = append(b.snapshots[level], rec)
	return rec.info.ID, nil
}

// LoadSnapshot returns the newest snapshot of level, reading the output
// directory when nothing was saved in this process.
func (b *Backend) LoadSnapshot(_ context.Context, level string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if recs := b.snapshots[level]; len(recs) > 0 {
		return append([]byte(nil), recs[len(recs)-1].data...), nil
	}
	files, err := b.levelFiles(level)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: level %s", storage.ErrNotFound, level)
	}
	return readFile(files[0].path)
}

// ListSnapshots returns snapshots for level, newest first.
func (b *Backend) ListSnapshots(_ context.Context, level string) ([]storage.SnapshotInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	var out []storage.SnapshotInfo
	recs := b.snapshots[level]
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i].info)
		seen[recs[i].info.ID] = true
	}
	files, err := b.levelFiles(level)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if !seen[f.info.ID] {
			out = append(out, f.info)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ReadFile decodes a snapshot file written by this backend.
func ReadFile(path string) ([]byte, error) {
	return readFile(path)
}

func fileBase(level string) string {
	return unsafeLevelChars.ReplaceAllString(level, "_")
}

func (b *Backend) fileName(info storage.SnapshotInfo) string {
	ext := extPlain
	if b.cfg.CompressOutput {
		ext = extCompressed
	}
	return fmt.Sprintf("%s_%s_%s%s", fileBase(info.Level), info.CreatedAt.Format(timeLayout), info.ID, ext)
}

func (b *Backend) writeFile(rec record) error {
	path := filepath.Join(b.cfg.OutputDir, b.fileName(rec.info))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if b.cfg.CompressOutput {
		gz = gzip.NewWriter(f)
		gz.Name = rec.info.Level
		w = gz
	}
	_, err = w.Write(rec.data)
	if gz != nil {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

type levelFile struct {
	path string
	info storage.SnapshotInfo
}

// levelFiles lists files for level, newest first.
func (b *Backend) levelFiles(level string) ([]levelFile, error) {
	if b.cfg.OutputDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(b.cfg.OutputDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading output dir: %w", err)
	}

	prefix := fileBase(level) + "_"
	var out []levelFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		var rest string
		switch {
		case strings.HasSuffix(name, extCompressed):
			rest = strings.TrimSuffix(strings.TrimPrefix(name, prefix), extCompressed)
		case strings.HasSuffix(name, extPlain):
			rest = strings.TrimSuffix(strings.TrimPrefix(name, prefix), extPlain)
		default:
			continue
		}
		stamp, id, ok := strings.Cut(rest, "_")
		if !ok {
			continue
		}
		created, err := time.Parse(timeLayout, stamp)
		if err != nil {
			continue
		}
		size := 0
		if fi, err := e.Info(); err == nil {
			size = int(fi.Size())
		}
		out = append(out, levelFile{
			path: filepath.Join(b.cfg.OutputDir, name),
			info: storage.SnapshotInfo{ID: id, Level: level, CreatedAt: created, Size: size},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.CreatedAt.After(out[j].info.CreatedAt) })
	return out, nil
}

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("opening gzip snapshot: %w", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	return data, nil
}
