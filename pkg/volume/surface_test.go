package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
)

// assertClosed checks that every directed edge is matched by its reverse
// exactly once, which holds for a closed consistently wound surface.
func assertClosed(t *testing.T, s models.Surface) {
	t.Helper()
	edges := make(map[[2]int]int)
	for _, tri := range s.Triangles {
		for i := 0; i < 3; i++ {
			edges[[2]int{tri[i], tri[(i+1)%3]}]++
		}
	}
	for e, n := range edges {
		assert.Equal(t, 1, n, "edge %v repeated", e)
		assert.Equal(t, 1, edges[[2]int{e[1], e[0]}], "edge %v has no twin", e)
	}
}

// assertOutward checks every triangle normal points away from center
func assertOutward(t *testing.T, s models.Surface, center r3.Vec) {
	t.Helper()
	for _, tri := range s.Triangles {
		a, b, c := s.Vertices[tri[0]], s.Vertices[tri[1]], s.Vertices[tri[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		centroid := r3.Scale(1.0/3, r3.Add(r3.Add(a, b), c))
		assert.Greater(t, r3.Dot(n, r3.Sub(centroid, center)), 0.0, "triangle %v faces inward", tri)
	}
}

func TestVoxelSurfaceSingle(t *testing.T) {
	size := [3]float64{0.5, 1, 2}
	s, err := VoxelSurface([]models.Point3D{{X: 1, Y: 1, Z: 1}}, size)
	require.NoError(t, err)
	assert.Len(t, s.Vertices, 8)
	assert.Len(t, s.Triangles, 12)

	for _, v := range s.Vertices {
		assert.InDelta(t, 0.25, abs(v.X-1), 1e-12)
		assert.InDelta(t, 0.5, abs(v.Y-1), 1e-12)
		assert.InDelta(t, 1.0, abs(v.Z-1), 1e-12)
	}
	assertClosed(t, s)
	assertOutward(t, s, r3.Vec{X: 1, Y: 1, Z: 1})
}

func TestVoxelSurfaceSharedFace(t *testing.T) {
	centers := []models.Point3D{{X: 0.5, Y: 0.5, Z: 0.5}, {X: 1.5, Y: 0.5, Z: 0.5}}
	s, err := VoxelSurface(centers, [3]float64{1, 1, 1})
	require.NoError(t, err)
	assert.Len(t, s.Vertices, 12)
	assert.Len(t, s.Triangles, 20)
	assertClosed(t, s)
	assertOutward(t, s, r3.Vec{X: 1, Y: 0.5, Z: 0.5})
	assert.Equal(t, models.BoundingBox{XMin: 0, XMax: 2, YMin: 0, YMax: 1, ZMin: 0, ZMax: 1}, s.Bounds())
}

func TestVoxelSurfaceDuplicateCenters(t *testing.T) {
	centers := []models.Point3D{{X: 3, Y: 3, Z: 3}, {X: 3, Y: 3, Z: 3}, {X: 3.0000001, Y: 3, Z: 3}}
	s, err := VoxelSurface(centers, [3]float64{1, 1, 1})
	require.NoError(t, err)
	assert.Len(t, s.Triangles, 12)
}

func TestVoxelSurfaceErrors(t *testing.T) {
	_, err := VoxelSurface(nil, [3]float64{1, 1, 1})
	assert.ErrorIs(t, err, ErrEmptyPoints)

	_, err = VoxelSurface([]models.Point3D{{}}, [3]float64{1, 0, 1})
	assert.ErrorIs(t, err, ErrNonPositiveSpacing)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
