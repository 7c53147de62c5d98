// Package meshio reads crown shapes from Wavefront OBJ files and writes grown
// trees back out in the same format.
package meshio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cogentcore.org/core/math32"

	"arbor/internal/growth"
)

// Mesh is a flat vertex buffer as handed to mesh-biased crown seeding.
type Mesh struct {
	Vertices    math32.ArrayF32
	Normals     math32.ArrayF32
	Indices     []uint32
	VertexCount int
}

// LoadFile opens path and parses it as OBJ.
func LoadFile(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mesh: %w", err)
	}
	defer f.Close()

	mesh, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load mesh %s: %w", path, err)
	}
	return mesh, nil
}

// Load parses the v, vn and f records of an OBJ stream. Other records are
// skipped. Face entries keep only their vertex index.
func Load(r io.Reader) (*Mesh, error) {
	mesh := &Mesh{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			v, err := parseTriplet(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: vertex: %w", line, err)
			}
			mesh.Vertices = append(mesh.Vertices, v.X, v.Y, v.Z)
		case "vn":
			n, err := parseTriplet(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: normal: %w", line, err)
			}
			mesh.Normals = append(mesh.Normals, n.X, n.Y, n.Z)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			for _, ref := range fields[1:4] {
				idx, err := strconv.ParseUint(strings.SplitN(ref, "/", 2)[0], 10, 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: face index %q: %w", line, ref, err)
				}
				mesh.Indices = append(mesh.Indices, uint32(idx))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan obj: %w", err)
	}
	mesh.VertexCount = len(mesh.Vertices) / 3
	return mesh, nil
}

func parseTriplet(fields []string) (math32.Vector3, error) {
	if len(fields) < 3 {
		return math32.Vector3{}, fmt.Errorf("expected 3 components, got %d", len(fields))
	}
	var out [3]float32
	for i := range out {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return math32.Vector3{}, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return math32.Vec3(out[0], out[1], out[2]), nil
}

// WriteOBJ writes the mesh as a point cloud of v records.
func WriteOBJ(w io.Writer, mesh growth.Mesh) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# arbor point cloud, %d vertices\n", mesh.VertexCount)
	for i := 0; i < mesh.VertexCount; i++ {
		writeVertex(bw, mesh.Vertex(i))
	}
	return bw.Flush()
}

// WriteSegmentsOBJ writes the branch skeleton as vertices joined by l
// records, one per parent to child segment.
func WriteSegmentsOBJ(w io.Writer, segs []growth.Segment) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# arbor skeleton, %d segments\n", len(segs))
	for _, s := range segs {
		writeVertex(bw, s.From)
		writeVertex(bw, s.To)
	}
	for i := range segs {
		fmt.Fprintf(bw, "l %d %d\n", 2*i+1, 2*i+2)
	}
	return bw.Flush()
}

func writeVertex(w io.Writer, v math32.Vector3) {
	fmt.Fprintf(w, "v %s %s %s\n", formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z))
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
