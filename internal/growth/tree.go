// Package growth implements space colonization: a branch structure grown
// step by step toward a cloud of attractor leaves.
package growth

import (
	"fmt"
	"log"

	"cogentcore.org/core/base/randx"
	"cogentcore.org/core/math32"
)

var trunkDirection = math32.Vec3(0, -1, 0)

// Stats summarises the state of a tree between steps.
type Stats struct {
	Iteration   int  `json:"iteration"`
	Leaves      int  `json:"leaves"`
	Branches    int  `json:"branches"`
	Repeat      int  `json:"repeat"`
	DoneGrowing bool `json:"doneGrowing"`
}

// Option customises a Tree at construction.
type Option func(*Tree)

// WithRand injects the random source used for procedural crowns.
func WithRand(rnd randx.Rand) Option {
	return func(t *Tree) {
		t.rand = rnd
	}
}

// WithMesh hands over the flat vertex buffer used when MeshProvided is set.
func WithMesh(vertices []float32) Option {
	return func(t *Tree) {
		t.mesh = vertices
	}
}

// WithLogger overrides the lifecycle logger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// Tree owns the leaf set and the branch graph of one growth run. It is not
// safe for concurrent use.
type Tree struct {
	params Params
	root   math32.Vector3
	rand   randx.Rand
	mesh   []float32
	logger *log.Logger

	leaves   []Leaf
	branches *BranchGraph

	leafCount     int
	prevLeafCount int
	repeat        int
	iteration     int
	doneGrowing   bool
}

// New validates params and returns a tree rooted at root. Crown and trunk
// must be seeded before the first Grow.
func New(root math32.Vector3, params Params, opts ...Option) (*Tree, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{
		params:    params,
		root:      root,
		leafCount: params.LeafCount,
		branches:  NewBranchGraph(params.DedupEpsilon),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.rand == nil {
		t.rand = randx.NewGlobalRand()
	}
	if t.logger == nil {
		t.logger = log.New(log.Writer(), "growth ", log.LstdFlags|log.Lmicroseconds)
	}
	return t, nil
}

// GenerateCrown replaces the leaf set with LeafCount attractors.
func (t *Tree) GenerateCrown() error {
	p := t.params
	leaves := make([]Leaf, 0, p.LeafCount)
	if p.MeshProvided {
		if t.mesh == nil {
			return fmt.Errorf("%w: mesh-biased crown requested without a mesh", ErrConfiguration)
		}
		if len(t.mesh) < 3*p.LeafCount {
			return fmt.Errorf("%w: crown needs %d vertices, mesh has %d", ErrIndexOutOfRange, p.LeafCount, len(t.mesh)/3)
		}
		for i := 0; i < p.LeafCount; i++ {
			v := math32.Vec3(t.mesh[3*i], t.mesh[3*i+1], t.mesh[3*i+2])
			pos := math32.Vec3(
				v.X/p.Scale*p.TreeWidth,
				v.Y/p.Scale*p.TreeHeight-p.Offset,
				v.Z/p.Scale*p.TreeWidth,
			)
			leaves = append(leaves, Leaf{Position: pos, Closest: NoBranch})
		}
	} else {
		for i := 0; i < p.LeafCount; i++ {
			pos := math32.Vec3(
				t.root.X+t.rand.Float32()*p.TreeWidth-p.TreeWidth/2,
				t.root.Y+t.rand.Float32()*p.TreeHeight-p.TreeHeight/2,
				t.root.Z+t.rand.Float32()*p.TreeWidth-p.TreeWidth/2,
			)
			leaves = append(leaves, Leaf{Position: pos, Closest: NoBranch})
		}
	}
	t.leaves = leaves
	t.logger.Printf("crown seeded with %d leaves (mesh=%t)", len(leaves), p.MeshProvided)
	return nil
}

// SetLeaves replaces the leaf set with explicit attractor positions and
// resets the leaf count to match.
func (t *Tree) SetLeaves(positions []math32.Vector3) {
	t.leaves = make([]Leaf, len(positions))
	for i, pos := range positions {
		t.leaves[i] = Leaf{Position: pos, Closest: NoBranch}
	}
	t.leafCount = len(positions)
}

// GenerateTrunk seeds a vertical chain of branches below the root.
func (t *Tree) GenerateTrunk() {
	graph := NewBranchGraph(t.params.DedupEpsilon)
	parent, _ := graph.Insert(newBranch(NoBranch, t.root, trunkDirection))
	pos := t.root
	for {
		pos = math32.Vec3(pos.X, pos.Y-t.params.BranchLength, pos.Z)
		id, _ := graph.Insert(newBranch(parent, pos, trunkDirection))
		parent = id
		if t.root.Sub(pos).Length() > t.params.TrunkHeight {
			break
		}
	}
	t.branches = graph
	t.logger.Printf("trunk seeded with %d branches", graph.Len())
}

// Grow runs one step and returns the resulting mesh. It returns false when
// the tree is done and has nothing new to show.
func (t *Tree) Grow() (Mesh, bool) {
	if t.doneGrowing {
		return Mesh{}, false
	}
	t.prevLeafCount = t.leafCount

	if t.leafCount == 0 || t.repeat > t.params.RepeatNum {
		t.finish()
		return Mesh{}, false
	}
	t.iteration++

	t.assignLeaves()
	grown := t.extendBranches()

	branchAdded := false
	for _, b := range grown {
		if _, ok := t.branches.Insert(b); ok {
			branchAdded = true
		}
	}
	// Leaves that balance each other out keep a branch oscillating without
	// ever reaching them.
	if !branchAdded {
		t.finish()
	}

	if t.prevLeafCount == t.leafCount {
		t.repeat++
	}
	return ExtractMesh(t.branches), true
}

func (t *Tree) assignLeaves() {
	kept := t.leaves[:0]
	for _, leaf := range t.leaves {
		leaf.Closest = NoBranch
		consumed := false

		for id := range t.branches.branches {
			raw := leaf.Position.Sub(t.branches.branches[id].Position).Length()
			distance := math32.Round(raw)

			if raw == 0 || distance <= t.params.MinDistance {
				consumed = true
				break
			}
			if distance <= t.params.MaxDistance {
				if leaf.Closest == NoBranch {
					leaf.Closest = BranchID(id)
				} else if leaf.Position.Sub(t.branches.branches[leaf.Closest].Position).Length() > distance {
					leaf.Closest = BranchID(id)
				}
			}
		}

		if consumed {
			t.leafCount--
			continue
		}
		if leaf.Closest != NoBranch {
			b := &t.branches.branches[leaf.Closest]
			dir := leaf.Position.Sub(b.Position).Normal()
			b.GrowDirection = b.GrowDirection.Add(dir)
			b.GrowCount++
		}
		kept = append(kept, leaf)
	}
	t.leaves = kept
}

func (t *Tree) extendBranches() []Branch {
	length := t.params.BranchLength
	var grown []Branch
	for id := range t.branches.branches {
		b := &t.branches.branches[id]
		if b.GrowCount == 0 {
			continue
		}
		sum := b.GrowDirection.DivScalar(float32(b.GrowCount))
		if sum.Length() == 0 {
			// Opposing pulls cancel out; there is no direction to grow in.
			b.Reset()
			continue
		}
		avg := sum.Normal()
		var offset math32.Vector3
		if t.params.SymmetricExtension {
			offset = avg.MulScalar(length)
		} else {
			offset = math32.Vec3(avg.X*length, avg.Y/length, avg.Z/length)
		}
		grown = append(grown, newBranch(BranchID(id), b.Position.Add(offset), avg))
		b.Reset()
	}
	return grown
}

func (t *Tree) finish() {
	t.doneGrowing = true
	t.logger.Printf("growth finished after %d steps: %d branches, %d leaves left", t.iteration, t.branches.Len(), t.leafCount)
}

// DoneGrowing reports whether the tree reached its terminal state.
func (t *Tree) DoneGrowing() bool { return t.doneGrowing }

// LeafCount reports the number of leaves not yet consumed.
func (t *Tree) LeafCount() int { return t.leafCount }

// BranchCount reports the number of branches in the graph.
func (t *Tree) BranchCount() int { return t.branches.Len() }

// Repeat reports how many steps consumed no leaf. The count is never reset.
func (t *Tree) Repeat() int { return t.repeat }

// Iteration reports how many steps produced a mesh.
func (t *Tree) Iteration() int { return t.iteration }

// Graph exposes the branch graph for read-only inspection.
func (t *Tree) Graph() *BranchGraph { return t.branches }

// Leaves returns a copy of the remaining leaves.
func (t *Tree) Leaves() []Leaf {
	return append([]Leaf(nil), t.leaves...)
}

// Params returns the parameters the tree was built with.
func (t *Tree) Params() Params { return t.params }

// Stats returns a snapshot of the bookkeeping counters.
func (t *Tree) Stats() Stats {
	return Stats{
		Iteration:   t.iteration,
		Leaves:      t.leafCount,
		Branches:    t.branches.Len(),
		Repeat:      t.repeat,
		DoneGrowing: t.doneGrowing,
	}
}
