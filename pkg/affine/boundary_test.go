package affine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomto3d/internal/models"
)

func TestVoxelCenter(t *testing.T) {
	size := [3]float64{0.5, 1.25, 3}
	points := []models.Point3D{{X: 0, Y: 0, Z: 0}, {X: -2, Y: 7.5, Z: 1}}

	centers := VoxelCenter(points, size)
	require.Len(t, centers, len(points))
	for i, p := range points {
		assert.InDelta(t, size[0]/2, centers[i].X-p.X, 1e-12)
		assert.InDelta(t, size[1]/2, centers[i].Y-p.Y, 1e-12)
		assert.InDelta(t, size[2]/2, centers[i].Z-p.Z, 1e-12)
	}
}

func TestVoxelCenterEmpty(t *testing.T) {
	centers := VoxelCenter(nil, [3]float64{1, 1, 1})
	assert.NotNil(t, centers)
	assert.Empty(t, centers)
}

func TestFindBoundary(t *testing.T) {
	points := []models.Point3D{
		{X: 0.2, Y: -1.5, Z: 3},
		{X: 4.1, Y: 2, Z: 3},
		{X: -0.3, Y: 0, Z: 5.0001},
	}
	box, ok := FindBoundary(points)
	require.True(t, ok)
	assert.Equal(t, models.BoundingBox{XMin: -1, XMax: 5, YMin: -2, YMax: 2, ZMin: 3, ZMax: 6}, box)
}

func TestFindBoundaryContainsEveryPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	points := make([]models.Point3D, 500)
	for i := range points {
		points[i] = models.Point3D{
			X: rng.Float64()*200 - 100,
			Y: rng.Float64()*50 - 10,
			Z: rng.NormFloat64() * 30,
		}
	}
	box, ok := FindBoundary(points)
	require.True(t, ok)
	lo, hi := box.Min(), box.Max()
	for _, p := range points {
		for axis, c := range [3]float64{p.X, p.Y, p.Z} {
			assert.True(t, c >= lo[axis] && c <= hi[axis], "point %v outside %v", p, box)
		}
	}
}

func TestFindBoundaryEmpty(t *testing.T) {
	box, ok := FindBoundary(nil)
	assert.False(t, ok)
	assert.Equal(t, models.BoundingBox{}, box)
}

func TestStackBounds(t *testing.T) {
	slices := axialSlices(3)
	box, ok := StackBounds(slices)
	require.True(t, ok)
	// 4 rows x 5 cols, unit spacing, z from 0 to 2
	assert.Equal(t, models.BoundingBox{XMin: 0, XMax: 4, YMin: 0, YMax: 3, ZMin: 0, ZMax: 2}, box)

	_, ok = StackBounds(nil)
	assert.False(t, ok)
}

func TestStackOrigin(t *testing.T) {
	slices := axialSlices(3)
	for i := range slices {
		slices[i].Position[0] += 0.5
		slices[i].Position[1] -= 0.3
	}
	origin, ok := StackOrigin(slices)
	require.True(t, ok)
	assert.InDelta(t, 0.5, origin[0], 1e-12)
	assert.InDelta(t, -0.3, origin[1], 1e-12)
	assert.InDelta(t, 0.0, origin[2], 1e-12)

	box, ok := StackBounds(slices)
	require.True(t, ok)
	assert.Equal(t, [3]float64{0, -1, 0}, box.Min(), "the box floors the origin")

	_, ok = StackOrigin(nil)
	assert.False(t, ok)
}
