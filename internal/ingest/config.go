package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/internal/throttle"
	"github.com/OCAP2/breakage/internal/treecache"
	"github.com/OCAP2/breakage/pkg/core"
)

// Mode is the breakability flag set.
type Mode uint8

const (
	// ModeDisabled turns every break off.
	ModeDisabled Mode = 1 << iota
	// ModeObeyGlobal requires the global procedural-breaking switch.
	ModeObeyGlobal
	// ModeAllow permits structural breaks. Glass is allowed regardless.
	ModeAllow
)

// ParseMode reads a comma separated flag list such as "allow,obey-global".
func ParseMode(s string) (Mode, error) {
	var m Mode
	for _, f := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(f)) {
		case "":
		case "disabled":
			m |= ModeDisabled
		case "obey-global":
			m |= ModeObeyGlobal
		case "allow":
			m |= ModeAllow
		default:
			return 0, fmt.Errorf("unknown breakage mode %q", f)
		}
	}
	return m, nil
}

func (m Mode) String() string {
	if m&ModeDisabled != 0 {
		return "disabled"
	}
	var parts []string
	if m&ModeAllow != 0 {
		parts = append(parts, "allow")
	}
	if m&ModeObeyGlobal != 0 {
		parts = append(parts, "obey-global")
	}
	return strings.Join(parts, ",")
}

// Allows applies the mode gate to a material class.
func (m Mode) Allows(class core.Breakability, procedural bool) bool {
	if m&ModeDisabled != 0 {
		return false
	}
	if m&ModeAllow == 0 && class != core.BreakGlass {
		return false
	}
	return m&ModeObeyGlobal == 0 || procedural
}

// GlassConfig tunes plane breaks.
type GlassConfig struct {
	// ForcedTimeout overrides the material destroy timeout when positive.
	ForcedTimeout       time.Duration
	ForcedTimeoutSpread time.Duration

	AutoShatter             bool
	AutoShatterOnExplosions bool
	// AutoShatterMinArea shatters panes smaller than this face area whole.
	AutoShatterMinArea float64
}

// Config is everything a Session needs besides its collaborators.
type Config struct {
	Mode                Mode
	ProceduralBreaking  bool
	JointBreaking       bool
	NoSecondaryBreaking bool
	NoBreakingByObjects bool

	Role        core.Role
	Multiplayer bool

	Glass    GlassConfig
	Throttle throttle.Config
	Mesh     meshcache.Config
	Tree     treecache.Config
	Fade     fade.Config

	// Slots bounds concurrent island extractions.
	Slots int
	// QueueLimit bounds work queued from immediate callbacks.
	QueueLimit int
	// Seed starts the event seed sequence.
	Seed uint64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeAllow | ModeObeyGlobal,
		ProceduralBreaking: true,
		JointBreaking:      true,
		Role:               core.RoleAuthoritative,
		Throttle: throttle.Config{
			TreeCeiling:         8,
			TreeIncrement:       1,
			TreeDecrement:       0.1,
			GlassCrossIncrement: 0.5,
			GlassCeiling:        10,
			GlassIncrement:      1,
			GlassDecrement:      0.2,
			MaxPanesPerFrame:    6,
		},
		Mesh: meshcache.Config{
			BudgetKB:         8 << 10,
			VisibilityFrames: 10,
			Order:            meshcache.OrderVisibility,
		},
		Tree: treecache.Config{
			HeightTolerance: 0.5,
			SizeTolerance:   0.1,
		},
		Fade: fade.Config{
			Delay: 5 * time.Second,
			Time:  2 * time.Second,
		},
		Slots:      4,
		QueueLimit: 4096,
	}
}

// Decision is the outcome of filtering one collision.
type Decision uint8

const (
	Ignore Decision = iota
	// BreakNow runs a glass plane break.
	BreakNow
	// RecordAndBreak logs and runs a structural deformation.
	RecordAndBreak
)

func (d Decision) String() string {
	switch d {
	case BreakNow:
		return "break-now"
	case RecordAndBreak:
		return "record-and-break"
	default:
		return "ignore"
	}
}

// Verdict is returned to the physics engine for every callback. Only
// immediate callbacks may act on Veto.
type Verdict struct {
	Veto bool
}
