// Package scheduler runs island extractions on worker goroutines and hands
// the results back to the simulation goroutine once per tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/OCAP2/breakage/pkg/core"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrRetryNextTick is returned to non-authoritative participants when
	// every task slot is busy.
	ErrRetryNextTick = errors.New("task slots exhausted, retry next tick")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("scheduler closed")
)

// State is the lifecycle of a pending break.
type State uint8

const (
	StateNone State = iota
	StateStarted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateDone:
		return "done"
	default:
		return "none"
	}
}

// Service is the geometry collaborator used by workers.
type Service interface {
	ExtractIsland(ctx context.Context, req core.IslandRequest) (core.IslandResult, error)
	Release(g core.GeometryID)
}

// Key identifies requests that produce the same result.
type Key struct {
	Geometry core.GeometryID
	Seed     int32
}

// Request is one island extraction for a break event.
type Request struct {
	Island core.IslandRequest
	Event  int
	Owner  core.PhysHandle
	// Cheap requests run inline.
	Cheap bool
}

// Completion is a finished extraction and every event waiting on it.
type Completion struct {
	Key     Key
	Seq     uint64
	Owner   core.PhysHandle
	Events  []int
	Request core.IslandRequest
	Result  core.IslandResult
	Err     error
}

// Outcome describes what Submit did with a request.
type Outcome struct {
	// Sync is set when the extraction already ran; Completion holds it.
	Sync       bool
	Coalesced  bool
	Seq        uint64
	Completion Completion
}

// Config sizes the task pool.
type Config struct {
	Slots int
	Role  core.Role
}

type taskResult struct {
	res core.IslandResult
	err error
}

type task struct {
	key       Key
	seq       uint64
	state     State
	req       Request
	events    []int
	done      chan taskResult
	result    taskResult
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler owns the worker pool. Submit, Poll and Cancel must be called from
// the simulation goroutine.
type Scheduler struct {
	cfg   Config
	svc   Service
	log   *slog.Logger
	inst  instruments
	slots *semaphore.Weighted

	ctx      context.Context
	stop     context.CancelFunc
	workers  *pool.Pool
	inflight map[Key]*task
	order    []*task
	seq      uint64
	closed   bool
}

// New starts a scheduler with cfg.Slots concurrent extractions.
func New(cfg Config, svc Service, logger *slog.Logger) *Scheduler {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		svc:      svc,
		log:      logger,
		inst:     newInstruments(),
		slots:    semaphore.NewWeighted(int64(cfg.Slots)),
		ctx:      ctx,
		stop:     stop,
		workers:  pool.New().WithMaxGoroutines(cfg.Slots),
		inflight: make(map[Key]*task),
	}
}

// SetRole switches the exhaustion policy.
func (s *Scheduler) SetRole(r core.Role) {
	s.cfg.Role = r
}

// Submit runs cheap requests inline, attaches requests to an in-flight task
// with the same key, and otherwise hands them to a worker.
func (s *Scheduler) Submit(ctx context.Context, req Request) (Outcome, error) {
	if s.closed {
		return Outcome{}, ErrClosed
	}
	key := Key{Geometry: req.Island.Geometry, Seed: req.Island.Seed}

	if req.Cheap {
		return s.runSync(ctx, key, req), nil
	}

	if t, ok := s.inflight[key]; ok {
		t.events = append(t.events, req.Event)
		s.inst.coalesced.Add(ctx, 1)
		return Outcome{Coalesced: true, Seq: t.seq}, nil
	}

	if !s.slots.TryAcquire(1) {
		if s.cfg.Role == core.RoleAuthoritative {
			s.inst.fallbacks.Add(ctx, 1)
			s.log.Debug("task slots exhausted, extracting inline", "geometry", key.Geometry, "seed", key.Seed)
			return s.runSync(ctx, key, req), nil
		}
		return Outcome{}, ErrRetryNextTick
	}

	s.seq++
	tctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		key:    key,
		seq:    s.seq,
		state:  StateStarted,
		req:    req,
		events: []int{req.Event},
		done:   make(chan taskResult, 1),
		cancel: cancel,
	}
	s.inflight[key] = t
	s.order = append(s.order, t)
	s.inst.submitted.Add(ctx, 1)
	s.inst.inFlight.Add(ctx, 1)

	island := req.Island
	svc := s.svc
	s.workers.Go(func() {
		res, err := svc.ExtractIsland(tctx, island)
		t.done <- taskResult{res: res, err: err}
	})
	return Outcome{Seq: t.seq}, nil
}

func (s *Scheduler) runSync(ctx context.Context, key Key, req Request) Outcome {
	s.seq++
	res, err := s.svc.ExtractIsland(ctx, req.Island)
	return Outcome{
		Sync: true,
		Seq:  s.seq,
		Completion: Completion{
			Key:     key,
			Seq:     s.seq,
			Owner:   req.Owner,
			Events:  []int{req.Event},
			Request: req.Island,
			Result:  res,
			Err:     err,
		},
	}
}

// Poll collects finished tasks without blocking and returns them in
// submission order. Results of cancelled tasks are released and dropped.
func (s *Scheduler) Poll() []Completion {
	var out []Completion
	keep := s.order[:0]
	for _, t := range s.order {
		if t.state == StateStarted {
			select {
			case r := <-t.done:
				t.result = r
				t.state = StateDone
			default:
			}
		}
		if t.state != StateDone {
			keep = append(keep, t)
			continue
		}
		s.finish(t)
		if t.cancelled {
			s.discard(t.result.res)
			continue
		}
		out = append(out, Completion{
			Key:     t.key,
			Seq:     t.seq,
			Owner:   t.req.Owner,
			Events:  append([]int(nil), t.events...),
			Request: t.req.Island,
			Result:  t.result.res,
			Err:     t.result.err,
		})
	}
	for i := len(keep); i < len(s.order); i++ {
		s.order[i] = nil
	}
	s.order = keep
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Scheduler) finish(t *task) {
	t.state = StateNone
	t.cancel()
	if cur, ok := s.inflight[t.key]; ok && cur == t {
		delete(s.inflight, t.key)
	}
	s.slots.Release(1)
	s.inst.inFlight.Add(context.Background(), -1)
}

func (s *Scheduler) discard(res core.IslandResult) {
	if res.Remainder != 0 {
		s.svc.Release(res.Remainder)
	}
	if res.Fragment != 0 {
		s.svc.Release(res.Fragment)
	}
}

// Cancel drops the pending results of tasks owned by owner. Their slots are
// freed once the worker returns.
func (s *Scheduler) Cancel(owner core.PhysHandle) int {
	n := 0
	for _, t := range s.order {
		if t.req.Owner != owner || t.cancelled {
			continue
		}
		s.cancelTask(t)
		n++
	}
	return n
}

// CancelAll drops every pending result.
func (s *Scheduler) CancelAll() int {
	n := 0
	for _, t := range s.order {
		if !t.cancelled {
			s.cancelTask(t)
			n++
		}
	}
	return n
}

func (s *Scheduler) cancelTask(t *task) {
	t.cancelled = true
	t.cancel()
	if cur, ok := s.inflight[t.key]; ok && cur == t {
		delete(s.inflight, t.key)
	}
}

// Pending returns the number of tasks not yet merged or reclaimed.
func (s *Scheduler) Pending() int {
	return len(s.order)
}

// InFlight reports whether a task for key is running.
func (s *Scheduler) InFlight(key Key) bool {
	_, ok := s.inflight[key]
	return ok
}

// Shutdown cancels outstanding work and waits for the workers to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.CancelAll()
	s.stop()

	waited := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for break workers: %w", ctx.Err())
	}
	s.Poll()
	return nil
}
