// Package visualization renders axis-aligned planes of a volume grid as
// grayscale images for quick inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/config"
	"dicomto3d/pkg/volume"
)

var log = config.NamedLogger("visualization")

// Viewer extracts planes from a volume grid
type Viewer struct {
	grid *volume.Grid

	// lo and hi window the scalars onto the 16-bit gray range
	lo, hi float64
}

// NewViewer creates a viewer windowed on the grid's scalar range
func NewViewer(grid *volume.Grid) *Viewer {
	v := &Viewer{grid: grid}
	if len(grid.Scalars) > 0 {
		v.lo = floats.Min(grid.Scalars)
		v.hi = floats.Max(grid.Scalars)
	}
	return v
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	n := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, n)) * 65535))}
}

func axisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts the plane of grid points at position along axis.
// An x plane is laid out (z, y), a y plane (x, z) and a z plane (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	g := v.grid
	if position < 0 || position >= g.Dims[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, g.Dims[a], axis)
	}
	nx, ny, nz := g.Dims[0], g.Dims[1], g.Dims[2]

	var img *image.Gray16
	switch a {
	case 0:
		img = image.NewGray16(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray16(z, y, v.gray(g.At(position, y, z)))
			}
		}
	case 1:
		img = image.NewGray16(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, z, v.gray(g.At(x, position, z)))
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, y, v.gray(g.At(x, y, position)))
			}
		}
	}
	return img, nil
}

// ExtractRegion copies a box of grid points into a new grid whose origin is
// the physical location of the box's first point.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*volume.Grid, error) {
	g := v.grid
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > g.Dims[0] || startY+sizeY > g.Dims[1] || startZ+sizeZ > g.Dims[2] {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := &volume.Grid{
		Origin:  g.PointAt(startX, startY, startZ),
		Spacing: g.Spacing,
		Dims:    [3]int{sizeX, sizeY, sizeZ},
	}
	region.Scalars = make([]float64, region.Len())
	if g.Stencil != nil {
		region.Stencil = make([]bool, region.Len())
	}
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				src := g.Index(startX+x, startY+y, startZ+z)
				dst := region.Index(x, y, z)
				region.Scalars[dst] = g.Scalars[src]
				if g.Stencil != nil {
					region.Stencil[dst] = g.Stencil[src]
				}
			}
		}
	}
	return region, nil
}

// RegionAround crops the grid to the points covering a physical box, clamped
// to the grid. The box's faces are rounded outward to grid points.
func (v *Viewer) RegionAround(box models.BoundingBox) (*volume.Grid, error) {
	g := v.grid
	lo, hi := box.Min(), box.Max()
	var start, size [3]int
	for axis := 0; axis < 3; axis++ {
		first := int(math.Floor((lo[axis] - g.Origin[axis]) / g.Spacing[axis]))
		last := int(math.Ceil((hi[axis] - g.Origin[axis]) / g.Spacing[axis]))
		if first < 0 {
			first = 0
		}
		if last > g.Dims[axis]-1 {
			last = g.Dims[axis] - 1
		}
		if first > last {
			return nil, fmt.Errorf("box %v does not overlap the volume on axis %d", box, axis)
		}
		start[axis], size[axis] = first, last-first+1
	}
	return v.ExtractRegion(start[0], start[1], start[2], size[0], size[1], size[2])
}

// physicalAspect stretches a plane image so one pixel covers the same
// physical distance horizontally and vertically
func (v *Viewer) physicalAspect(img image.Image, axis int) image.Image {
	s := v.grid.Spacing
	var sw, sh float64
	switch axis {
	case 0:
		sw, sh = s[2], s[1]
	case 1:
		sw, sh = s[0], s[2]
	default:
		sw, sh = s[0], s[1]
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if sw > sh {
		w = int(math.Round(float64(w) * sw / sh))
	} else if sh > sw {
		h = int(math.Round(float64(h) * sh / sw))
	}
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

// SaveSlice saves an extracted plane; the format follows the file extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return imaging.Save(img, filename)
}

// SaveSliceSequence extracts every plane along axis and saves it as a PNG
// scaled to the grid's physical aspect ratio
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.grid.Dims[a]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(v.physicalAspect(img, a), filename); err != nil {
			return err
		}
	}
	log.Debugf("saved %d %s planes to %s", v.grid.Dims[a], axis, outputDir)
	return nil
}
