package growth

import (
	"cogentcore.org/core/math32"
)

// BranchID indexes a branch inside its BranchGraph.
type BranchID int

// NoBranch marks a missing parent or an unattached leaf.
const NoBranch BranchID = -1

// Leaf is an attractor point. Closest is recomputed on every step.
type Leaf struct {
	Position math32.Vector3
	Closest  BranchID
}

// Branch is a node of the growing structure.
type Branch struct {
	Parent                BranchID
	Position              math32.Vector3
	GrowDirection         math32.Vector3
	OriginalGrowDirection math32.Vector3
	GrowCount             int
}

func newBranch(parent BranchID, pos, dir math32.Vector3) Branch {
	return Branch{
		Parent:                parent,
		Position:              pos,
		GrowDirection:         dir,
		OriginalGrowDirection: dir,
	}
}

// Reset drops the direction accumulated during the current step.
func (b *Branch) Reset() {
	b.GrowCount = 0
	b.GrowDirection = b.OriginalGrowDirection
}

type cellKey struct {
	x, y, z int64
}

// BranchGraph stores branches in insertion order and rejects a branch whose
// position falls within epsilon of an existing one on every axis.
type BranchGraph struct {
	branches []Branch
	cells    map[cellKey][]BranchID
	epsilon  float32
}

// NewBranchGraph creates an empty graph with the given dedup tolerance.
func NewBranchGraph(epsilon float32) *BranchGraph {
	return &BranchGraph{
		cells:   make(map[cellKey][]BranchID),
		epsilon: epsilon,
	}
}

func (g *BranchGraph) cellOf(pos math32.Vector3) cellKey {
	return cellKey{
		x: int64(math32.Floor(pos.X / g.epsilon)),
		y: int64(math32.Floor(pos.Y / g.epsilon)),
		z: int64(math32.Floor(pos.Z / g.epsilon)),
	}
}

// Lookup returns the branch occupying pos, if any.
func (g *BranchGraph) Lookup(pos math32.Vector3) (BranchID, bool) {
	c := g.cellOf(pos)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				for _, id := range g.cells[cellKey{c.x + dx, c.y + dy, c.z + dz}] {
					if g.same(g.branches[id].Position, pos) {
						return id, true
					}
				}
			}
		}
	}
	return NoBranch, false
}

func (g *BranchGraph) same(a, b math32.Vector3) bool {
	return math32.Abs(a.X-b.X) <= g.epsilon &&
		math32.Abs(a.Y-b.Y) <= g.epsilon &&
		math32.Abs(a.Z-b.Z) <= g.epsilon
}

// Insert appends b unless its position is already taken.
func (g *BranchGraph) Insert(b Branch) (BranchID, bool) {
	if id, ok := g.Lookup(b.Position); ok {
		return id, false
	}
	id := BranchID(len(g.branches))
	g.branches = append(g.branches, b)
	c := g.cellOf(b.Position)
	g.cells[c] = append(g.cells[c], id)
	return id, true
}

// Len reports the number of branches.
func (g *BranchGraph) Len() int {
	return len(g.branches)
}

// At returns the branch with the given id. The pointer is invalidated by the
// next Insert.
func (g *BranchGraph) At(id BranchID) *Branch {
	return &g.branches[id]
}

// Each visits branches in insertion order until fn returns false.
func (g *BranchGraph) Each(fn func(id BranchID, b Branch) bool) {
	for i, b := range g.branches {
		if !fn(BranchID(i), b) {
			return
		}
	}
}

// Positions flattens every branch position, in insertion order, into a
// vertex buffer.
func (g *BranchGraph) Positions() math32.ArrayF32 {
	out := make(math32.ArrayF32, 3*len(g.branches))
	for i, b := range g.branches {
		out.SetVector3(3*i, b.Position)
	}
	return out
}

// Segment connects a branch to its parent.
type Segment struct {
	From math32.Vector3
	To   math32.Vector3
}

// Segments returns one parent to child segment per non-root branch.
func (g *BranchGraph) Segments() []Segment {
	segs := make([]Segment, 0, len(g.branches))
	for _, b := range g.branches {
		if b.Parent == NoBranch {
			continue
		}
		segs = append(segs, Segment{From: g.branches[b.Parent].Position, To: b.Position})
	}
	return segs
}
