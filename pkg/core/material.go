// pkg/core/material.go
package core

import "time"

// Breakability is the surface class of a material.
type Breakability uint8

const (
	BreakNone Breakability = iota
	BreakGlass
	BreakStructural
)

func (b Breakability) String() string {
	switch b {
	case BreakGlass:
		return "glass"
	case BreakStructural:
		return "structural"
	default:
		return "none"
	}
}

// GlassParams tune plane breaking for glass-like surfaces.
type GlassParams struct {
	DestroyTimeout       time.Duration
	DestroyTimeoutSpread time.Duration
	FractureFX           string
	BlastRadius          float64
	BlastRadiusFirst     float64
}

// Material holds the surface properties the breakage system consults.
type Material struct {
	ID           int
	Name         string
	Breakability Breakability

	BreakEnergy float64

	// Hit point accumulation. Zero HitPoints disables accumulation.
	HitPoints          float64
	HitPointsSecondary float64
	HitMaxDamage       float64
	HitRadius          float64
	HitLifetime        time.Duration

	HoleSize          float64
	HoleSizeExplosion float64

	NoCollide bool

	Glass GlassParams
}

// SecondaryHitPoints falls back to the primary threshold when no secondary
// value is set.
func (m Material) SecondaryHitPoints() float64 {
	if m.HitPointsSecondary > 0 {
		return m.HitPointsSecondary
	}
	return m.HitPoints
}

// MaterialLibrary resolves material ids to properties.
type MaterialLibrary interface {
	Material(id int) (Material, bool)
}
