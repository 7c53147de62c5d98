package growth

import "cogentcore.org/core/math32"

// Mesh is a flat point cloud of branch positions.
type Mesh struct {
	Vertices    math32.ArrayF32
	VertexCount int
}

// ExtractMesh projects the graph into a vertex buffer.
func ExtractMesh(g *BranchGraph) Mesh {
	return Mesh{
		Vertices:    g.Positions(),
		VertexCount: g.Len(),
	}
}

// Vertex returns the i-th vertex of the mesh.
func (m Mesh) Vertex(i int) math32.Vector3 {
	return math32.Vec3(m.Vertices[3*i], m.Vertices[3*i+1], m.Vertices[3*i+2])
}
