package affine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
)

// VoxelCenter shifts corner-sampled points by half a voxel along each axis
func VoxelCenter(points []models.Point3D, size [3]float64) []models.Point3D {
	centers := make([]models.Point3D, len(points))
	if len(points) == 0 {
		log.Warn("voxel centers requested for an empty point set")
		return centers
	}
	half := r3.Vec{X: size[0] / 2, Y: size[1] / 2, Z: size[2] / 2}
	for i, p := range points {
		centers[i] = models.PointFromVec(r3.Add(p.Vec(), half))
	}
	return centers
}

// FindBoundary returns the integer box enclosing every point: floor of the
// minimum and ceil of the maximum along each axis. It reports false for an
// empty point set.
func FindBoundary(points []models.Point3D) (models.BoundingBox, bool) {
	if len(points) == 0 {
		log.Warn("boundary requested for an empty point set")
		return models.BoundingBox{}, false
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return models.BoundingBox{
		XMin: int(math.Floor(floats.Min(xs))), XMax: int(math.Ceil(floats.Max(xs))),
		YMin: int(math.Floor(floats.Min(ys))), YMax: int(math.Ceil(floats.Max(ys))),
		ZMin: int(math.Floor(floats.Min(zs))), ZMax: int(math.Ceil(floats.Max(zs))),
	}, true
}

// StackBounds returns the box spanned by the corner pixels of the first and
// last slice, i.e. the physical extent of the whole pixel stack
func StackBounds(slices []models.Slice) (models.BoundingBox, bool) {
	if len(slices) == 0 {
		return models.BoundingBox{}, false
	}
	return FindBoundary(stackCorners(slices))
}

// StackOrigin returns the exact, unrounded minimum corner of the pixel
// stack. StackBounds floors the same value.
func StackOrigin(slices []models.Slice) ([3]float64, bool) {
	if len(slices) == 0 {
		return [3]float64{}, false
	}
	corners := stackCorners(slices)
	lo := corners[0].Vec()
	for _, c := range corners[1:] {
		lo = r3.Vec{X: math.Min(lo.X, c.X), Y: math.Min(lo.Y, c.Y), Z: math.Min(lo.Z, c.Z)}
	}
	return [3]float64{lo.X, lo.Y, lo.Z}, true
}

func stackCorners(slices []models.Slice) []models.Point3D {
	var corners []models.Point3D
	for _, i := range []int{0, len(slices) - 1} {
		s := &slices[i]
		m := BuildTransform(s)
		for _, rc := range [][2]int{{0, 0}, {0, s.Cols - 1}, {s.Rows - 1, 0}, {s.Rows - 1, s.Cols - 1}} {
			corners = append(corners, apply(m, rc[0], rc[1]))
		}
	}
	return corners
}
