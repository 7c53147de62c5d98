// Package simulation drives a growth.Tree built from configuration and keeps
// the last valid frame around for consumers.
package simulation

import (
	"context"
	"fmt"
	"log"
	"sync"

	"cogentcore.org/core/base/randx"
	"cogentcore.org/core/math32"

	"arbor/internal/config"
	"arbor/internal/growth"
	"arbor/internal/meshio"
)

// Frame is an immutable snapshot emitted after a growth step.
type Frame struct {
	Iteration int              `json:"iteration"`
	Mesh      growth.Mesh      `json:"-"`
	Segments  []growth.Segment `json:"-"`
	Leaves    []math32.Vector3 `json:"-"`
	Stats     growth.Stats     `json:"stats"`
}

// Session owns one tree for the lifetime of a run. Step, Run and Latest may
// be called from different goroutines.
type Session struct {
	mu     sync.Mutex
	tree   *growth.Tree
	latest Frame
	logger *log.Logger
}

// New builds and seeds a tree from cfg. The crown mesh is loaded when
// crown.meshPath is set.
func New(cfg *config.Config, logger *log.Logger) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "simulation ", log.LstdFlags|log.Lmicroseconds)
	}

	opts := []growth.Option{growth.WithLogger(logger)}
	if cfg.Crown.Seed != 0 {
		opts = append(opts, growth.WithRand(randx.NewSysRand(cfg.Crown.Seed)))
	}
	if cfg.Crown.MeshPath != "" {
		mesh, err := meshio.LoadFile(cfg.Crown.MeshPath)
		if err != nil {
			return nil, err
		}
		logger.Printf("loaded crown mesh %s with %d vertices", cfg.Crown.MeshPath, mesh.VertexCount)
		opts = append(opts, growth.WithMesh(mesh.Vertices))
	}

	root := math32.Vec3(cfg.Tree.Root.X, cfg.Tree.Root.Y, cfg.Tree.Root.Z)
	tree, err := growth.New(root, cfg.Params(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	if err := tree.GenerateCrown(); err != nil {
		return nil, fmt.Errorf("generate crown: %w", err)
	}
	tree.GenerateTrunk()

	s := &Session{tree: tree, logger: logger}
	s.latest = s.snapshot(growth.ExtractMesh(tree.Graph()))
	return s, nil
}

func (s *Session) snapshot(mesh growth.Mesh) Frame {
	leaves := s.tree.Leaves()
	positions := make([]math32.Vector3, len(leaves))
	for i, leaf := range leaves {
		positions[i] = leaf.Position
	}
	stats := s.tree.Stats()
	return Frame{
		Iteration: stats.Iteration,
		Mesh:      mesh,
		Segments:  s.tree.Graph().Segments(),
		Leaves:    positions,
		Stats:     stats,
	}
}

// Step advances the tree by one step. It returns false once the tree is done;
// the previous frame then stays the latest one, with refreshed stats.
func (s *Session) Step() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mesh, ok := s.tree.Grow()
	if !ok {
		s.latest.Stats = s.tree.Stats()
		return s.latest, false
	}
	s.latest = s.snapshot(mesh)
	return s.latest, true
}

// Latest returns the most recent frame.
func (s *Session) Latest() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Done reports whether the tree stopped growing.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.DoneGrowing()
}

// Stats returns the current tree counters.
func (s *Session) Stats() growth.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Stats()
}

// Run steps the tree until it is done, maxSteps frames were produced (zero
// means no limit) or ctx is cancelled. onFrame, when set, sees every frame.
func (s *Session) Run(ctx context.Context, maxSteps int, onFrame func(Frame)) (Frame, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return s.Latest(), err
		}
		if maxSteps > 0 && steps >= maxSteps {
			return s.Latest(), nil
		}
		frame, ok := s.Step()
		if !ok {
			return frame, nil
		}
		steps++
		if onFrame != nil {
			onFrame(frame)
		}
	}
}
