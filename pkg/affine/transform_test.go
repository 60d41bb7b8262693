package affine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
)

func axialSlices(n int) []models.Slice {
	slices := make([]models.Slice, n)
	for i := range slices {
		slices[i] = models.Slice{
			InstanceIndex: i + 1,
			PixelSpacing:  [2]float64{1, 1},
			Orientation:   [6]float64{1, 0, 0, 0, 1, 0},
			Position:      [3]float64{0, 0, float64(i)},
			Rows:          4,
			Cols:          5,
			Pixels:        make([]int16, 20),
		}
	}
	return slices
}

// obliqueSlice has anisotropic spacing and a rotated, orthonormal orientation
func obliqueSlice() models.Slice {
	c, s := math.Cos(0.3), math.Sin(0.3)
	return models.Slice{
		PixelSpacing: [2]float64{0.7, 1.3},
		Orientation:  [6]float64{c, s, 0, 0, 0, -1},
		Position:     [3]float64{-120.5, 33.25, 18},
		Rows:         8,
		Cols:         8,
		Pixels:       make([]int16, 64),
	}
}

func assertVecInDelta(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}

func TestBuildTransform(t *testing.T) {
	s := obliqueSlice()
	m := BuildTransform(&s)

	r, c := m.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)

	want := mat.NewDense(4, 4, []float64{
		s.Orientation[0] * 1.3, s.Orientation[3] * 0.7, 0, -120.5,
		s.Orientation[1] * 1.3, s.Orientation[4] * 0.7, 0, 33.25,
		s.Orientation[2] * 1.3, s.Orientation[5] * 0.7, 0, 18,
		0, 0, 0, 1,
	})
	assert.True(t, mat.Equal(want, m))
}

func TestToPhysicalOriginIsPosition(t *testing.T) {
	s := obliqueSlice()
	p := ToPhysical(&s, 0, 0)
	assert.Equal(t, models.Point3D{X: -120.5, Y: 33.25, Z: 18}, p)
}

func TestToPhysicalUnitSteps(t *testing.T) {
	s := obliqueSlice()
	origin := ToPhysical(&s, 0, 0).Vec()

	rowStep := r3.Sub(ToPhysical(&s, 1, 0).Vec(), origin)
	assertVecInDelta(t, r3.Scale(s.PixelSpacing[0], s.ColCosine()), rowStep)

	colStep := r3.Sub(ToPhysical(&s, 0, 1).Vec(), origin)
	assertVecInDelta(t, r3.Scale(s.PixelSpacing[1], s.RowCosine()), colStep)
}

func TestToPhysicalScenario(t *testing.T) {
	slices := axialSlices(3)
	p := ToPhysical(&slices[1], 2, 3)
	assert.Equal(t, models.Point3D{X: 3, Y: 2, Z: 1}, p)
}

func TestBatchConvertOrder(t *testing.T) {
	slices := axialSlices(4)
	groups := []models.IndexGroup{
		{SliceIndex: 0, Indices: []models.PixelIndex{{Row: 0, Col: 1}, {Row: 3, Col: 0}}},
		{SliceIndex: 1, Indices: nil},
		{SliceIndex: 2, Indices: []models.PixelIndex{{Row: 1, Col: 1}}},
		{SliceIndex: 3, Indices: []models.PixelIndex{{Row: 2, Col: 4}, {Row: 0, Col: 0}, {Row: 1, Col: 2}}},
	}
	want := []models.Point3D{
		{X: 1, Y: 0, Z: 0}, {X: 0, Y: 3, Z: 0},
		{X: 1, Y: 1, Z: 2},
		{X: 4, Y: 2, Z: 3}, {X: 0, Y: 0, Z: 3}, {X: 2, Y: 1, Z: 3},
	}

	for _, workers := range []int{1, 2, 3, 16, 0} {
		got, err := BatchConvert(slices, groups, workers)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestBatchConvertMatchesToPhysical(t *testing.T) {
	s := obliqueSlice()
	slices := []models.Slice{s}
	var idx []models.PixelIndex
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			idx = append(idx, models.PixelIndex{Row: r, Col: c})
		}
	}
	points, err := BatchConvert(slices, []models.IndexGroup{{SliceIndex: 0, Indices: idx}}, 4)
	require.NoError(t, err)
	require.Len(t, points, len(idx))
	for i, pi := range idx {
		assert.Equal(t, ToPhysical(&s, pi.Row, pi.Col), points[i])
	}
}

func TestBatchConvertUnknownSlice(t *testing.T) {
	_, err := BatchConvert(axialSlices(2), []models.IndexGroup{{SliceIndex: 2}}, 1)
	assert.ErrorIs(t, err, ErrUnknownSlice)
}

func TestBatchConvertEmpty(t *testing.T) {
	points, err := BatchConvert(axialSlices(2), nil, 2)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestVoxelSize(t *testing.T) {
	s := obliqueSlice()
	g := VoxelSize(&s, 2.5)
	assert.Equal(t, [3]float64{0.7, 1.3, 2.5}, g.Size())
	assert.Equal(t, [3]float64{1.3, 0.7, 2.5}, g.GridSpacing())
}

func TestPointsFromMatrix(t *testing.T) {
	points, err := PointsFromMatrix(mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	assert.Equal(t, []models.Point3D{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, points)

	_, err = PointsFromMatrix(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	assert.ErrorIs(t, err, ErrDimension)
}
