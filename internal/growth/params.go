package growth

import "fmt"

// Params captures the tunables of a single growth run.
type Params struct {
	LeafCount    int
	TreeWidth    float32
	TreeHeight   float32
	TrunkHeight  float32
	MinDistance  float32
	MaxDistance  float32
	BranchLength float32
	RepeatNum    int

	// MeshProvided switches crown seeding from random sampling to the
	// vertices handed over with WithMesh.
	MeshProvided bool
	Scale        float32
	Offset       float32

	// DedupEpsilon is the per-axis tolerance under which two branch
	// positions are treated as the same growth target.
	DedupEpsilon float32

	// SymmetricExtension scales every axis of a new branch offset by
	// BranchLength. When false the Y and Z components are divided by it.
	SymmetricExtension bool
}

// DefaultParams returns the stock tree: an 80x150 crown of 800 leaves on a
// 40 unit trunk.
func DefaultParams() Params {
	return Params{
		LeafCount:    800,
		TreeWidth:    80,
		TreeHeight:   150,
		TrunkHeight:  40,
		MinDistance:  2,
		MaxDistance:  15,
		BranchLength: 2,
		RepeatNum:    200,
		Scale:        20,
		Offset:       0,
		DedupEpsilon: 1e-4,
	}
}

// Validate rejects parameter sets that would only fail mid-simulation.
func (p Params) Validate() error {
	switch {
	case p.BranchLength <= 0:
		return fmt.Errorf("%w: branch length must be positive", ErrConfiguration)
	case p.MinDistance < 0 || p.MaxDistance < 0:
		return fmt.Errorf("%w: distances cannot be negative", ErrConfiguration)
	case p.MinDistance > p.MaxDistance:
		return fmt.Errorf("%w: min distance %g exceeds max distance %g", ErrConfiguration, p.MinDistance, p.MaxDistance)
	case p.LeafCount < 0:
		return fmt.Errorf("%w: leaf count cannot be negative", ErrConfiguration)
	case p.RepeatNum < 0:
		return fmt.Errorf("%w: repeat limit cannot be negative", ErrConfiguration)
	case p.TrunkHeight < 0:
		return fmt.Errorf("%w: trunk height cannot be negative", ErrConfiguration)
	case p.TreeWidth <= 0 || p.TreeHeight <= 0:
		return fmt.Errorf("%w: crown dimensions must be positive", ErrConfiguration)
	case p.MeshProvided && p.Scale == 0:
		return fmt.Errorf("%w: mesh scale cannot be zero", ErrConfiguration)
	case p.DedupEpsilon <= 0:
		return fmt.Errorf("%w: dedup epsilon must be positive", ErrConfiguration)
	}
	return nil
}
