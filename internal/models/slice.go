package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Slice represents a single cross-section image with its physical geometry metadata
type Slice struct {
	// InstanceIndex is the acquisition ordering key of this slice
	InstanceIndex int

	// PixelSpacing is the physical distance between pixel centers in mm,
	// ordered (row spacing, column spacing)
	PixelSpacing [2]float64

	// Orientation holds the row direction cosine (Xx, Xy, Xz) followed by
	// the column direction cosine (Yx, Yy, Yz)
	Orientation [6]float64

	// Position is the physical location (Sx, Sy, Sz) of pixel (0, 0)
	Position [3]float64

	// Thickness is the declared slice thickness in mm; zero when absent
	Thickness float64

	// RescaleSlope and RescaleIntercept map raw intensities to Hounsfield units
	RescaleSlope     float64
	RescaleIntercept float64

	// Rows and Cols are the dimensions of the pixel plane
	Rows int
	Cols int

	// Pixels is the intensity plane in row-major order
	Pixels []int16
}

// At returns the intensity at the given pixel index
func (s *Slice) At(row, col int) int16 {
	return s.Pixels[row*s.Cols+col]
}

// RowCosine returns the direction cosine along which the column index increases
func (s *Slice) RowCosine() r3.Vec {
	return r3.Vec{X: s.Orientation[0], Y: s.Orientation[1], Z: s.Orientation[2]}
}

// ColCosine returns the direction cosine along which the row index increases
func (s *Slice) ColCosine() r3.Vec {
	return r3.Vec{X: s.Orientation[3], Y: s.Orientation[4], Z: s.Orientation[5]}
}

// PixelIndex is a (row, col) location inside a slice
type PixelIndex struct {
	Row int
	Col int
}

// IndexGroup pairs a slice position with pixel indices taken from it, in scan order
type IndexGroup struct {
	SliceIndex int
	Indices    []PixelIndex
}

// Point3D is a location in the patient coordinate system
type Point3D struct {
	X, Y, Z float64
}

// Vec returns the point as a gonum vector
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// PointFromVec converts a gonum vector into a Point3D
func PointFromVec(v r3.Vec) Point3D {
	return Point3D{X: v.X, Y: v.Y, Z: v.Z}
}

// VoxelGeometry is the physical size of one voxel, shared by every point of a
// volume under the uniform-geometry assumption
type VoxelGeometry struct {
	RowSpacing float64
	ColSpacing float64
	Thickness  float64
}

// Size returns (row spacing, column spacing, thickness)
func (v VoxelGeometry) Size() [3]float64 {
	return [3]float64{v.RowSpacing, v.ColSpacing, v.Thickness}
}

// GridSpacing returns the voxel size ordered along the x-fastest grid axes,
// where x follows the column index and y follows the row index
func (v VoxelGeometry) GridSpacing() [3]float64 {
	return [3]float64{v.ColSpacing, v.RowSpacing, v.Thickness}
}

// BoundingBox is an integer axis-aligned box, floor/ceil of point extremes
type BoundingBox struct {
	XMin, XMax int
	YMin, YMax int
	ZMin, ZMax int
}

// Min returns the minimum corner of the box
func (b BoundingBox) Min() [3]float64 {
	return [3]float64{float64(b.XMin), float64(b.YMin), float64(b.ZMin)}
}

// Max returns the maximum corner of the box
func (b BoundingBox) Max() [3]float64 {
	return [3]float64{float64(b.XMax), float64(b.YMax), float64(b.ZMax)}
}

// BoundsOf returns the integer box around a set of vectors. The caller must
// pass at least one vector.
func BoundsOf(vs []r3.Vec) BoundingBox {
	lo := vs[0]
	hi := vs[0]
	for _, v := range vs[1:] {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return BoundingBox{
		XMin: int(math.Floor(lo.X)), XMax: int(math.Ceil(hi.X)),
		YMin: int(math.Floor(lo.Y)), YMax: int(math.Ceil(hi.Y)),
		ZMin: int(math.Floor(lo.Z)), ZMax: int(math.Ceil(hi.Z)),
	}
}

// Surface is a closed triangulated surface with outward-facing winding
type Surface struct {
	Vertices  []r3.Vec
	Triangles [][3]int
}

// Bounds returns the integer box around the surface vertices
func (s Surface) Bounds() BoundingBox {
	return BoundsOf(s.Vertices)
}

// Stack is a pre-sampled intensity volume stored with x varying fastest
type Stack struct {
	Dims   [3]int
	Values []float64
}
