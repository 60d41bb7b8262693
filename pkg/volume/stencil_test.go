package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/affine"
)

// onesGrid covers [-2, 6]^3 at unit spacing with every scalar set to 1
func onesGrid() *Grid {
	g := &Grid{Origin: [3]float64{-2, -2, -2}, Spacing: [3]float64{1, 1, 1}, Dims: [3]int{9, 9, 9}}
	g.Scalars = make([]float64, g.Len())
	for i := range g.Scalars {
		g.Scalars[i] = 1
	}
	return g
}

// cube spans [0, 4]^3
func cube(t *testing.T) models.Surface {
	s, err := VoxelSurface([]models.Point3D{{X: 2, Y: 2, Z: 2}}, [3]float64{4, 4, 4})
	require.NoError(t, err)
	return s
}

func TestStencilCube(t *testing.T) {
	g := onesGrid()
	out, err := Stencil(g, cube(t), DefaultStencilTolerance)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	inside := 0
	for idx, v := range out.Scalars {
		x, y, z := out.Coords(idx)
		p := out.PointAt(x, y, z)
		want := p[0] >= 0 && p[0] <= 4 && p[1] >= 0 && p[1] <= 4 && p[2] >= 0 && p[2] <= 4
		assert.Equal(t, want, out.Stencil[idx], "point %v", p)
		if want {
			inside++
			assert.Equal(t, 1.0, v)
		} else {
			assert.Equal(t, 0.0, v)
		}
	}
	assert.Equal(t, 125, inside)

	// the input is left untouched
	assert.Nil(t, g.Stencil)
	assert.Equal(t, 1.0, g.At(0, 0, 0))
}

func TestStencilOffsetGrid(t *testing.T) {
	// half-spacing offset puts no grid point on the surface
	g := onesGrid()
	g.Origin = [3]float64{-1.5, -1.5, -1.5}
	out, err := Stencil(g, cube(t), DefaultStencilTolerance)
	require.NoError(t, err)

	inside := 0
	for _, in := range out.Stencil {
		if in {
			inside++
		}
	}
	// points at 0.5, 1.5, 2.5, 3.5 on each axis
	assert.Equal(t, 64, inside)
}

func TestStencilVoxelUnion(t *testing.T) {
	// an L of three unit voxels
	centers := []models.Point3D{{X: 0.5, Y: 0.5, Z: 0.5}, {X: 1.5, Y: 0.5, Z: 0.5}, {X: 0.5, Y: 1.5, Z: 0.5}}
	surface, err := VoxelSurface(centers, [3]float64{1, 1, 1})
	require.NoError(t, err)

	g := &Grid{Origin: [3]float64{0.25, 0.25, 0.5}, Spacing: [3]float64{0.5, 0.5, 1}, Dims: [3]int{4, 4, 1}}
	g.Scalars = make([]float64, g.Len())
	out, err := Stencil(g, surface, DefaultStencilTolerance)
	require.NoError(t, err)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := x < 2 || y < 2
			assert.Equal(t, want, out.Stencil[out.Index(x, y, 0)], "x=%d y=%d", x, y)
		}
	}
}

func TestStencilOctahedronVertices(t *testing.T) {
	// |x|+|y|+|z| <= 2; every apex lies on a grid point
	surface := models.Surface{
		Vertices: []r3.Vec{
			{X: 2}, {X: -2}, {Y: 2}, {Y: -2}, {Z: 2}, {Z: -2},
		},
		Triangles: [][3]int{
			{0, 2, 4}, {2, 1, 4}, {1, 3, 4}, {3, 0, 4},
			{2, 0, 5}, {1, 2, 5}, {3, 1, 5}, {0, 3, 5},
		},
	}
	g := &Grid{Origin: [3]float64{-2, -2, -2}, Spacing: [3]float64{0.5, 0.5, 0.5}, Dims: [3]int{9, 9, 9}}
	g.Scalars = make([]float64, g.Len())
	out, err := Stencil(g, surface, DefaultStencilTolerance)
	require.NoError(t, err)

	inside := 0
	for idx, in := range out.Stencil {
		x, y, z := out.Coords(idx)
		p := out.PointAt(x, y, z)
		want := math.Abs(p[0])+math.Abs(p[1])+math.Abs(p[2]) <= 2+1e-9
		assert.Equal(t, want, in, "point %v", p)
		if in {
			inside++
		}
	}
	assert.Equal(t, 129, inside)

	for _, apex := range [][3]int{{0, 4, 4}, {8, 4, 4}, {4, 0, 4}, {4, 8, 4}, {4, 4, 0}, {4, 4, 8}} {
		assert.True(t, out.Stencil[out.Index(apex[0], apex[1], apex[2])], "apex %v", apex)
	}
}

func TestStencilErrors(t *testing.T) {
	g := onesGrid()

	_, err := Stencil(g, models.Surface{}, DefaultStencilTolerance)
	assert.ErrorIs(t, err, ErrEmptySurface)

	far, err := VoxelSurface([]models.Point3D{{X: 100, Y: 100, Z: 100}}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	_, err = Stencil(g, far, DefaultStencilTolerance)
	assert.ErrorIs(t, err, ErrExtentMismatch)

	broken := cube(t)
	broken.Triangles = append(broken.Triangles, [3]int{0, 1, 99})
	_, err = Stencil(g, broken, DefaultStencilTolerance)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestVoxelPipelineKeepsEveryCenter(t *testing.T) {
	points := []models.Point3D{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1},
	}
	size := [3]float64{1, 1, 1}
	centers := affine.VoxelCenter(points, size)
	surface, err := VoxelSurface(centers, size)
	require.NoError(t, err)

	g, err := FromSurface(surface, size)
	require.NoError(t, err)
	out, err := Stencil(g, surface, DefaultStencilTolerance)
	require.NoError(t, err)

	for _, p := range points {
		x := int(p.X - out.Origin[0])
		y := int(p.Y - out.Origin[1])
		z := int(p.Z - out.Origin[2])
		assert.Equal(t, float64(Foreground), out.At(x, y, z), "corner %v", p)
	}
}
