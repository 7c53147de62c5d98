package growth

import (
	"bytes"
	"io"
	"log"
	"strings"
	"testing"

	"cogentcore.org/core/base/randx"
	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// shortTrunkParams yields a two branch trunk at (0,0,0) and (0,-1,0).
func shortTrunkParams() Params {
	p := DefaultParams()
	p.TrunkHeight = 0
	p.BranchLength = 1
	return p
}

func newTestTree(t *testing.T, p Params, leaves ...math32.Vector3) *Tree {
	t.Helper()
	tree, err := New(math32.Vec3(0, 0, 0), p, WithLogger(quietLogger()))
	require.NoError(t, err)
	tree.SetLeaves(leaves)
	tree.GenerateTrunk()
	return tree
}

func TestGrowWithoutLeavesFinishesImmediately(t *testing.T) {
	p := shortTrunkParams()
	p.LeafCount = 0
	tree, err := New(math32.Vec3(0, 0, 0), p, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, tree.GenerateCrown())
	tree.GenerateTrunk()

	mesh, ok := tree.Grow()
	assert.False(t, ok)
	assert.Zero(t, mesh.VertexCount)
	assert.True(t, tree.DoneGrowing())
}

func TestGrowConsumesLeafAtMinDistance(t *testing.T) {
	p := shortTrunkParams()
	tree := newTestTree(t, p, math32.Vec3(p.MinDistance, 0, 0))

	mesh, ok := tree.Grow()
	require.True(t, ok)
	assert.Equal(t, 0, tree.LeafCount())
	assert.Equal(t, 2, tree.BranchCount())
	assert.Equal(t, 2, mesh.VertexCount)
	assert.True(t, tree.DoneGrowing())

	_, ok = tree.Grow()
	assert.False(t, ok)
}

func TestGrowExtendsTowardLeafJustInsideMaxDistance(t *testing.T) {
	p := shortTrunkParams()
	tree := newTestTree(t, p, math32.Vec3(0, -1-(p.MaxDistance-0.1), 0))

	mesh, ok := tree.Grow()
	require.True(t, ok)
	assert.False(t, tree.DoneGrowing())
	assert.Equal(t, 1, tree.LeafCount())
	require.Equal(t, 3, mesh.VertexCount)
	require.Len(t, mesh.Vertices, 9)

	tip := mesh.Vertex(2)
	assert.InDelta(t, 0, tip.X, 1e-5)
	assert.InDelta(t, -2, tip.Y, 1e-5)
	assert.InDelta(t, 0, tip.Z, 1e-5)
	assert.Equal(t, BranchID(1), tree.Graph().At(2).Parent)
	assert.Equal(t, 1, tree.Repeat())
}

func TestGrowExtensionScaling(t *testing.T) {
	tests := []struct {
		name      string
		symmetric bool
		wantY     float32
	}{
		{name: "asymmetric divides y", symmetric: false, wantY: -2.5},
		{name: "symmetric multiplies y", symmetric: true, wantY: -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.TrunkHeight = 0
			p.BranchLength = 2
			p.SymmetricExtension = tt.symmetric
			tree := newTestTree(t, p, math32.Vec3(0, -2-(p.MaxDistance-0.1), 0))

			mesh, ok := tree.Grow()
			require.True(t, ok)
			require.Equal(t, 3, mesh.VertexCount)
			assert.InDelta(t, tt.wantY, mesh.Vertex(2).Y, 1e-5)
		})
	}
}

func TestGrowStopsAfterRepeatLimit(t *testing.T) {
	p := shortTrunkParams()
	p.MinDistance = 0
	p.MaxDistance = 60
	p.RepeatNum = 2
	tree := newTestTree(t, p, math32.Vec3(50, 0, 0))

	for call := 1; call <= p.RepeatNum+1; call++ {
		mesh, ok := tree.Grow()
		require.Truef(t, ok, "call %d", call)
		assert.Equal(t, 1, tree.LeafCount())
		assert.Equal(t, call, tree.Repeat())
		assert.Equal(t, 2+call, mesh.VertexCount)
		assert.False(t, tree.DoneGrowing())
	}

	_, ok := tree.Grow()
	assert.False(t, ok)
	assert.True(t, tree.DoneGrowing())
	assert.Equal(t, p.RepeatNum+1, tree.Iteration())
}

func TestGrowAlwaysGrowsFromClosestChain(t *testing.T) {
	p := shortTrunkParams()
	p.MinDistance = 0
	p.MaxDistance = 60
	tree := newTestTree(t, p, math32.Vec3(50, 0, 0))

	for i := 0; i < 3; i++ {
		_, ok := tree.Grow()
		require.True(t, ok)
	}
	// The first step grows from the root, later steps from the newest tip.
	g := tree.Graph()
	assert.Equal(t, BranchID(0), g.At(2).Parent)
	assert.Equal(t, BranchID(2), g.At(3).Parent)
	assert.Equal(t, BranchID(3), g.At(4).Parent)
	for id := BranchID(3); id <= 4; id++ {
		assert.Greater(t, g.At(id).Position.X, g.At(id-1).Position.X)
	}
}

func TestGrowConsumesCoincidentLeaf(t *testing.T) {
	p := shortTrunkParams()
	p.MinDistance = 0
	tree := newTestTree(t, p, math32.Vec3(0, -1, 0))

	mesh, ok := tree.Grow()
	require.True(t, ok)
	assert.Equal(t, 0, tree.LeafCount())
	for _, v := range mesh.Vertices {
		assert.False(t, math32.IsNaN(v))
	}
}

func TestGrowIgnoresLeavesOutOfRange(t *testing.T) {
	p := shortTrunkParams()
	tree := newTestTree(t, p, math32.Vec3(500, 0, 0), math32.Vec3(-500, 0, 0))

	mesh, ok := tree.Grow()
	require.True(t, ok)
	assert.Equal(t, 2, mesh.VertexCount)
	assert.True(t, tree.DoneGrowing())
	assert.Equal(t, 2, tree.LeafCount())
}

func TestGrowProperties(t *testing.T) {
	p := Params{
		LeafCount:    200,
		TreeWidth:    40,
		TreeHeight:   60,
		TrunkHeight:  10,
		MinDistance:  2,
		MaxDistance:  15,
		BranchLength: 2,
		RepeatNum:    50,
		DedupEpsilon: 1e-4,
	}
	tree, err := New(math32.Vec3(0, 0, 0), p, WithRand(randx.NewSysRand(7)), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, tree.GenerateCrown())
	tree.GenerateTrunk()

	before := tree.LeafCount()
	calls := 0
	for !tree.DoneGrowing() {
		calls++
		require.Less(t, calls, 5000, "growth did not terminate")

		mesh, ok := tree.Grow()
		assert.LessOrEqual(t, tree.LeafCount(), before)
		before = tree.LeafCount()
		if !ok {
			continue
		}
		require.Equal(t, tree.BranchCount(), mesh.VertexCount)
		require.Len(t, mesh.Vertices, 3*mesh.VertexCount)
	}
	assertUniquePositions(t, tree.Graph())

	leaves, branches := tree.LeafCount(), tree.BranchCount()
	for i := 0; i < 3; i++ {
		mesh, ok := tree.Grow()
		assert.False(t, ok)
		assert.Zero(t, mesh.VertexCount)
		assert.Equal(t, leaves, tree.LeafCount())
		assert.Equal(t, branches, tree.BranchCount())
	}
}

func assertUniquePositions(t *testing.T, g *BranchGraph) {
	t.Helper()
	seen := make([]math32.Vector3, 0, g.Len())
	g.Each(func(id BranchID, b Branch) bool {
		for _, other := range seen {
			if g.same(other, b.Position) {
				t.Fatalf("branch %d duplicates position %v", id, b.Position)
			}
		}
		seen = append(seen, b.Position)
		return true
	})
}

func TestGenerateTrunk(t *testing.T) {
	tests := []struct {
		name         string
		trunkHeight  float32
		branchLength float32
		want         int
	}{
		{name: "defaults", trunkHeight: 40, branchLength: 2, want: 22},
		{name: "fractional", trunkHeight: 5, branchLength: 2, want: 4},
		{name: "flat", trunkHeight: 0, branchLength: 1, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.TrunkHeight = tt.trunkHeight
			p.BranchLength = tt.branchLength
			root := math32.Vec3(3, 10, -1)
			tree, err := New(root, p, WithLogger(quietLogger()))
			require.NoError(t, err)
			tree.GenerateTrunk()

			g := tree.Graph()
			require.Equal(t, tt.want, g.Len())
			assert.Equal(t, NoBranch, g.At(0).Parent)
			for i := 1; i < g.Len(); i++ {
				b := g.At(BranchID(i))
				assert.Equal(t, BranchID(i-1), b.Parent)
				assert.Equal(t, root.X, b.Position.X)
				assert.Equal(t, root.Z, b.Position.Z)
				assert.InDelta(t, root.Y-float32(i)*tt.branchLength, b.Position.Y, 1e-4)
				assert.Equal(t, math32.Vec3(0, -1, 0), b.GrowDirection)
			}
		})
	}
}

func TestGenerateCrownProcedural(t *testing.T) {
	p := DefaultParams()
	p.LeafCount = 300
	root := math32.Vec3(5, 20, 0)

	build := func() *Tree {
		tree, err := New(root, p, WithRand(randx.NewSysRand(42)), WithLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, tree.GenerateCrown())
		return tree
	}
	a, b := build(), build()
	require.Equal(t, a.Leaves(), b.Leaves())
	assert.Equal(t, p.LeafCount, a.LeafCount())

	for _, leaf := range a.Leaves() {
		assert.InDelta(t, root.X, leaf.Position.X, float64(p.TreeWidth/2))
		assert.InDelta(t, root.Y, leaf.Position.Y, float64(p.TreeHeight/2))
		assert.InDelta(t, root.Z, leaf.Position.Z, float64(p.TreeWidth/2))
		assert.Equal(t, NoBranch, leaf.Closest)
	}
}

func TestGenerateCrownFromMesh(t *testing.T) {
	p := DefaultParams()
	p.LeafCount = 2
	p.MeshProvided = true
	p.Scale = 20
	p.Offset = 10
	mesh := []float32{20, 20, 20, -20, 0, 10}

	tree, err := New(math32.Vec3(0, 0, 0), p, WithMesh(mesh), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, tree.GenerateCrown())

	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, math32.Vec3(80, 140, 80), leaves[0].Position)
	assert.Equal(t, math32.Vec3(-80, -10, 40), leaves[1].Position)
}

func TestGenerateCrownMeshErrors(t *testing.T) {
	p := DefaultParams()
	p.LeafCount = 3
	p.MeshProvided = true

	short, err := New(math32.Vec3(0, 0, 0), p, WithMesh([]float32{1, 2, 3, 4, 5, 6}), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, short.GenerateCrown(), ErrIndexOutOfRange)
	assert.Empty(t, short.Leaves())

	missing, err := New(math32.Vec3(0, 0, 0), p, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, missing.GenerateCrown(), ErrConfiguration)
}

func TestNewRejectsInvalidParams(t *testing.T) {
	tests := map[string]func(*Params){
		"zero branch length":    func(p *Params) { p.BranchLength = 0 },
		"negative min distance": func(p *Params) { p.MinDistance = -1 },
		"min above max":         func(p *Params) { p.MinDistance = 20; p.MaxDistance = 10 },
		"negative leaf count":   func(p *Params) { p.LeafCount = -5 },
		"negative repeat limit": func(p *Params) { p.RepeatNum = -1 },
		"flat crown":            func(p *Params) { p.TreeHeight = 0 },
		"zero mesh scale":       func(p *Params) { p.MeshProvided = true; p.Scale = 0 },
		"zero epsilon":          func(p *Params) { p.DedupEpsilon = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			_, err := New(math32.Vec3(0, 0, 0), p)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestGrowLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	p := shortTrunkParams()
	p.LeafCount = 0
	tree, err := New(math32.Vec3(0, 0, 0), p, WithLogger(log.New(&buf, "", 0)))
	require.NoError(t, err)
	tree.GenerateTrunk()
	tree.Grow()

	assert.True(t, strings.Contains(buf.String(), "growth finished after 0 steps: 2 branches, 0 leaves left"), buf.String())
}

func TestGrowTieBreakComparesRawAgainstRounded(t *testing.T) {
	// Both trunk branches round to 10 from the leaf. The raw 10.4 to branch 0
	// exceeds branch 1's rounded 10, so branch 1 takes the leaf.
	tree := newTestTree(t, shortTrunkParams(), math32.Vec3(10.4, 0, 0))

	mesh, ok := tree.Grow()
	require.True(t, ok)
	require.Equal(t, 3, mesh.VertexCount)
	assert.Equal(t, BranchID(1), tree.Graph().At(2).Parent)
}

func TestGrowFinishesWhenEveryCandidateIsDuplicate(t *testing.T) {
	// With a long branch length the Y offset shrinks to avg.Y/L, which lands
	// inside the dedup tolerance of the growing branch itself.
	p := DefaultParams()
	p.TrunkHeight = 0
	p.BranchLength = 1000
	p.DedupEpsilon = 0.01
	tree := newTestTree(t, p, math32.Vec3(0, 5, 0))
	require.Equal(t, 2, tree.BranchCount())

	mesh, ok := tree.Grow()
	require.True(t, ok)
	assert.Equal(t, 2, mesh.VertexCount)
	assert.Equal(t, 1, tree.LeafCount())
	assert.True(t, tree.DoneGrowing())

	_, ok = tree.Grow()
	assert.False(t, ok)
}
