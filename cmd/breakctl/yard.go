package main

import (
	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/sandbox"
	"github.com/OCAP2/breakage/pkg/core"
)

// yard is the fixed sandbox layout simulate breaks and replay rebuilds. Its
// entities must be created in the same order every time so entity ids in a
// saved snapshot resolve against a fresh yard.
type yard struct {
	world *sandbox.World
	panes []core.PhysHandle
	walls []core.PhysHandle
	trees []core.PhysHandle
	rock  core.PhysHandle
}

const (
	yardPanes = 8
	yardTrees = 4
)

func buildYard() *yard {
	w := sandbox.New()
	w.AddStockMaterials()
	y := &yard{world: w}

	for i := 0; i < yardPanes; i++ {
		y.panes = append(y.panes, w.AddPane(core.V(float64(i)*3, 0, 1)))
	}
	y.walls = append(y.walls,
		w.AddWall(core.V(0, 10, 0)),
		w.AddWall(core.V(15, 10, 0)),
	)
	mesh := w.NewGeometry(16 << 10)
	for i := 0; i < yardTrees; i++ {
		y.trees = append(y.trees, w.AddTree(core.V(float64(i)*6, 20, 0), mesh))
	}
	y.rock = w.AddBody(core.PhysRigid, core.V(0, 5, 3), 0)
	return y
}

// newYardSession builds a session over the yard from the breakage config.
func newYardSession(y *yard, notifier core.Notifier) (*ingest.Session, error) {
	bc, err := config.GetBreakageConfig()
	if err != nil {
		return nil, err
	}
	cfg, err := bc.Session()
	if err != nil {
		return nil, err
	}
	return ingest.New(cfg, ingest.Dependencies{
		Physics:   y.world,
		Renderer:  y.world,
		Effects:   y.world,
		Geometry:  y.world,
		Materials: y.world,
		Notifier:  notifier,
		Logger:    Logger,
	})
}
