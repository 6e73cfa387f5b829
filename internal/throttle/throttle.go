// Package throttle implements the saturating counters that rate-limit
// breakage per category.
package throttle

// Controller is a counter that grows by Increment on each qualifying break and
// decays by Decrement every tick, never below zero.
type Controller struct {
	Ceiling   float64
	Increment float64
	Decrement float64

	counter float64
}

// New returns a controller with the given knobs.
func New(ceiling, increment, decrement float64) *Controller {
	return &Controller{Ceiling: ceiling, Increment: increment, Decrement: decrement}
}

// Record counts one qualifying break.
func (c *Controller) Record() {
	c.counter += c.Increment
}

// Add counts an arbitrary amount, used for cross-category pressure.
func (c *Controller) Add(amount float64) {
	c.counter += amount
	if c.counter < 0 {
		c.counter = 0
	}
}

// Tick applies one tick of decay.
func (c *Controller) Tick() {
	c.counter -= c.Decrement
	if c.counter < 0 {
		c.counter = 0
	}
}

// Exceeded reports whether the counter is above the ceiling.
func (c *Controller) Exceeded() bool {
	return c.counter > c.Ceiling
}

// Counter returns the current value.
func (c *Controller) Counter() float64 {
	return c.counter
}

// Reset zeroes the counter.
func (c *Controller) Reset() {
	c.counter = 0
}

// FrameCap is a hard per-frame limit, independent of decay.
type FrameCap struct {
	Max   int
	count int
}

// Take counts one use and reports whether the cap is now exceeded.
// A non-positive Max disables the cap.
func (f *FrameCap) Take() bool {
	f.count++
	return f.Max > 0 && f.count > f.Max
}

// Count returns uses this frame.
func (f *FrameCap) Count() int {
	return f.count
}

// Tick starts a new frame.
func (f *FrameCap) Tick() {
	f.count = 0
}

// Set groups the controllers a session uses.
type Set struct {
	Trees *Controller
	Glass *Controller
	Panes FrameCap

	// GlassCrossIncrement is added to the tree controller for every glass
	// pane broken without auto-shatter.
	GlassCrossIncrement float64
}

// Config holds the knobs for a Set.
type Config struct {
	TreeCeiling         float64
	TreeIncrement       float64
	TreeDecrement       float64
	GlassCrossIncrement float64
	GlassCeiling        float64
	GlassIncrement      float64
	GlassDecrement      float64
	MaxPanesPerFrame    int
}

// NewSet builds the tree and glass controllers.
func NewSet(cfg Config) *Set {
	return &Set{
		Trees:               New(cfg.TreeCeiling, cfg.TreeIncrement, cfg.TreeDecrement),
		Glass:               New(cfg.GlassCeiling, cfg.GlassIncrement, cfg.GlassDecrement),
		Panes:               FrameCap{Max: cfg.MaxPanesPerFrame},
		GlassCrossIncrement: cfg.GlassCrossIncrement,
	}
}

// Tick decays every controller and resets the frame cap.
func (s *Set) Tick() {
	s.Trees.Tick()
	s.Glass.Tick()
	s.Panes.Tick()
}

// GlassPane accounts one glass break and reports whether it must be
// downgraded to a full auto-shatter. Panes already smashed by configuration
// are not counted against any budget.
func (s *Set) GlassPane(smashed bool) (forceShatter bool) {
	if smashed {
		return true
	}
	s.Glass.Record()
	s.Trees.Add(s.GlassCrossIncrement)
	capped := s.Panes.Take()
	return capped || s.Glass.Exceeded()
}

// Reset zeroes all counters.
func (s *Set) Reset() {
	s.Trees.Reset()
	s.Glass.Reset()
	s.Panes.Tick()
}
