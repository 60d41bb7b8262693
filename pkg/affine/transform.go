// Package affine maps slice pixel indices into the patient coordinate system.
//
// Each slice carries its own transform, derived only from that slice's
// metadata:
//
//	[ Xx·Δc  Yx·Δr  0  Sx ]
//	[ Xy·Δc  Yy·Δr  0  Sy ]
//	[ Xz·Δc  Yz·Δr  0  Sz ]
//	[ 0      0      0  1  ]
//
// where (Xx,Xy,Xz) is the row direction cosine, (Yx,Yy,Yz) the column
// direction cosine, Δr/Δc the row/column pixel spacing and S the position of
// pixel (0,0). The matrix is applied to the pixel vector (col, row, 0, 1): the
// column index walks along the row direction cosine and the row index walks
// down the column direction cosine.
package affine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/config"
)

var log = config.NamedLogger("affine")

// Conversion errors
var (
	ErrUnknownSlice = errors.New("index group references an unknown slice")
	ErrDimension    = errors.New("points must be 3-dimensional")
)

// BuildTransform returns the 4x4 pixel-to-patient matrix of a slice
func BuildTransform(s *models.Slice) *mat.Dense {
	rowSpacing, colSpacing := s.PixelSpacing[0], s.PixelSpacing[1]
	o := s.Orientation
	p := s.Position
	return mat.NewDense(4, 4, []float64{
		o[0] * colSpacing, o[3] * rowSpacing, 0, p[0],
		o[1] * colSpacing, o[4] * rowSpacing, 0, p[1],
		o[2] * colSpacing, o[5] * rowSpacing, 0, p[2],
		0, 0, 0, 1,
	})
}

// apply multiplies m with the homogeneous pixel vector of (row, col)
func apply(m *mat.Dense, row, col int) models.Point3D {
	in := mat.NewVecDense(4, []float64{float64(col), float64(row), 0, 1})
	var out mat.VecDense
	out.MulVec(m, in)
	return models.Point3D{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// ToPhysical returns the patient-space location of pixel (row, col)
func ToPhysical(s *models.Slice, row, col int) models.Point3D {
	return apply(BuildTransform(s), row, col)
}

// BatchConvert converts every index of every group to patient space. The
// output is flat and ordered slice-major, then in each group's scan order.
// Groups are converted concurrently on up to workers goroutines; each writes
// to its own precomputed range so the order never depends on scheduling.
func BatchConvert(slices []models.Slice, groups []models.IndexGroup, workers int) ([]models.Point3D, error) {
	offsets := make([]int, len(groups)+1)
	for i, g := range groups {
		if g.SliceIndex < 0 || g.SliceIndex >= len(slices) {
			return nil, fmt.Errorf("group %d references slice %d of %d: %w",
				i, g.SliceIndex, len(slices), ErrUnknownSlice)
		}
		offsets[i+1] = offsets[i] + len(g.Indices)
	}
	points := make([]models.Point3D, offsets[len(groups)])

	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for gi := range jobs {
				g := groups[gi]
				m := BuildTransform(&slices[g.SliceIndex])
				out := points[offsets[gi]:offsets[gi+1]]
				for k, idx := range g.Indices {
					out[k] = apply(m, idx.Row, idx.Col)
				}
			}
		}()
	}
	for gi := range groups {
		jobs <- gi
	}
	close(jobs)
	wg.Wait()

	log.Debugf("converted %d points from %d slices on %d workers", len(points), len(groups), workers)
	return points, nil
}

// VoxelSize returns the voxel geometry implied by the first slice and the
// slice thickness
func VoxelSize(s *models.Slice, thickness float64) models.VoxelGeometry {
	return models.VoxelGeometry{
		RowSpacing: s.PixelSpacing[0],
		ColSpacing: s.PixelSpacing[1],
		Thickness:  thickness,
	}
}

// PointsFromMatrix reads an n x 3 coordinate matrix, one point per row
func PointsFromMatrix(m mat.Matrix) ([]models.Point3D, error) {
	r, c := m.Dims()
	if c != 3 {
		return nil, fmt.Errorf("got %d columns: %w", c, ErrDimension)
	}
	points := make([]models.Point3D, r)
	for i := range points {
		points[i] = models.Point3D{X: m.At(i, 0), Y: m.At(i, 1), Z: m.At(i, 2)}
	}
	return points, nil
}
