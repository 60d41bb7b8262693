// Package volume builds regular volumetric grids from point sets, closed
// surfaces or intensity stacks, and prepares them for isosurface extraction.
//
// Every scalar field in this package is flattened with x varying fastest,
// then y, then z: index = x + nx*(y + ny*z). No other ordering is used.
package volume

import (
	"errors"
	"fmt"
	"math"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/affine"
	"dicomto3d/pkg/config"
)

var log = config.NamedLogger("volume")

// Foreground is the value given to occupied cells of geometry-built grids
const Foreground = 255

// Grid construction and stencil errors
var (
	ErrNonPositiveSpacing = errors.New("spacing must be positive")
	ErrDegenerateBox      = errors.New("bounding box has zero extent")
	ErrShapeMismatch      = errors.New("scalar count does not match grid dimensions")
	ErrExtentMismatch     = errors.New("surface does not overlap the grid")
	ErrEmptySurface       = errors.New("surface has no triangles")
	ErrEmptyPoints        = errors.New("no points to rasterize")
)

// Grid is a regular volumetric grid of scalars
type Grid struct {
	// Origin is the physical location of grid point (0, 0, 0)
	Origin [3]float64

	// Spacing is the physical distance between grid points along x, y, z
	Spacing [3]float64

	// Dims is the number of grid points along x, y, z
	Dims [3]int

	// Scalars holds Dims[0]*Dims[1]*Dims[2] values, x fastest
	Scalars []float64

	// Stencil, when set, marks grid points inside the stenciling surface
	Stencil []bool
}

// Len returns the number of grid points
func (g *Grid) Len() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Index returns the flat index of grid point (x, y, z)
func (g *Grid) Index(x, y, z int) int {
	return x + g.Dims[0]*(y+g.Dims[1]*z)
}

// Coords returns the grid point of a flat index
func (g *Grid) Coords(idx int) (x, y, z int) {
	x = idx % g.Dims[0]
	idx /= g.Dims[0]
	y = idx % g.Dims[1]
	z = idx / g.Dims[1]
	return x, y, z
}

// At returns the scalar at grid point (x, y, z)
func (g *Grid) At(x, y, z int) float64 {
	return g.Scalars[g.Index(x, y, z)]
}

// Set stores v at grid point (x, y, z)
func (g *Grid) Set(x, y, z int, v float64) {
	g.Scalars[g.Index(x, y, z)] = v
}

// PointAt returns the physical location of grid point (x, y, z)
func (g *Grid) PointAt(x, y, z int) [3]float64 {
	return [3]float64{
		g.Origin[0] + float64(x)*g.Spacing[0],
		g.Origin[1] + float64(y)*g.Spacing[1],
		g.Origin[2] + float64(z)*g.Spacing[2],
	}
}

// Bounds returns the physical extent covered by the grid points
func (g *Grid) Bounds() (lo, hi [3]float64) {
	lo = g.Origin
	hi = g.PointAt(g.Dims[0]-1, g.Dims[1]-1, g.Dims[2]-1)
	return lo, hi
}

// Validate checks the grid's internal consistency
func (g *Grid) Validate() error {
	if err := checkSpacing(g.Spacing); err != nil {
		return err
	}
	for axis, d := range g.Dims {
		if d < 1 {
			return fmt.Errorf("axis %d has %d points: %w", axis, d, ErrShapeMismatch)
		}
	}
	if len(g.Scalars) != g.Len() {
		return fmt.Errorf("%d scalars for dims %v: %w", len(g.Scalars), g.Dims, ErrShapeMismatch)
	}
	if g.Stencil != nil && len(g.Stencil) != g.Len() {
		return fmt.Errorf("%d stencil entries for dims %v: %w", len(g.Stencil), g.Dims, ErrShapeMismatch)
	}
	return nil
}

// Clone returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	c := *g
	c.Scalars = append([]float64(nil), g.Scalars...)
	if g.Stencil != nil {
		c.Stencil = append([]bool(nil), g.Stencil...)
	}
	return &c
}

func checkSpacing(spacing [3]float64) error {
	for axis, s := range spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("axis %d spacing %g: %w", axis, s, ErrNonPositiveSpacing)
		}
	}
	return nil
}

// GeometryFor returns the origin and dimensions of a grid covering box at the
// given spacing: dim = ceil((max-min)/spacing) + 1, never below 1.
func GeometryFor(box models.BoundingBox, spacing [3]float64) (origin [3]float64, dims [3]int, err error) {
	if err := checkSpacing(spacing); err != nil {
		return origin, dims, err
	}
	lo, hi := box.Min(), box.Max()
	for axis := 0; axis < 3; axis++ {
		if hi[axis] <= lo[axis] {
			return origin, dims, fmt.Errorf("axis %d spans [%g, %g]: %w", axis, lo[axis], hi[axis], ErrDegenerateBox)
		}
		dims[axis] = int(math.Ceil((hi[axis]-lo[axis])/spacing[axis])) + 1
		if dims[axis] < 1 {
			dims[axis] = 1
		}
	}
	return lo, dims, nil
}

// FromSurface builds a grid around a closed surface with every point set to
// Foreground. Stencil carves it down to the surface interior.
func FromSurface(surface models.Surface, spacing [3]float64) (*Grid, error) {
	if len(surface.Vertices) == 0 || len(surface.Triangles) == 0 {
		return nil, ErrEmptySurface
	}
	origin, dims, err := GeometryFor(surface.Bounds(), spacing)
	if err != nil {
		return nil, err
	}
	g := &Grid{Origin: origin, Spacing: spacing, Dims: dims}
	g.Scalars = make([]float64, g.Len())
	for i := range g.Scalars {
		g.Scalars[i] = Foreground
	}
	log.Debugf("surface grid origin %v spacing %v dims %v", origin, spacing, dims)
	return g, nil
}

// FromPoints builds a grid around a point set and marks the grid point
// nearest to each input point as Foreground.
func FromPoints(points []models.Point3D, spacing [3]float64) (*Grid, error) {
	if len(points) == 0 {
		return nil, ErrEmptyPoints
	}
	box, _ := affine.FindBoundary(points)
	origin, dims, err := GeometryFor(box, spacing)
	if err != nil {
		return nil, err
	}
	g := &Grid{Origin: origin, Spacing: spacing, Dims: dims}
	g.Scalars = make([]float64, g.Len())
	for _, p := range points {
		c := [3]float64{p.X, p.Y, p.Z}
		var ijk [3]int
		for axis := 0; axis < 3; axis++ {
			ijk[axis] = int(math.Round((c[axis] - origin[axis]) / spacing[axis]))
			if ijk[axis] >= dims[axis] {
				ijk[axis] = dims[axis] - 1
			}
		}
		g.Set(ijk[0], ijk[1], ijk[2], Foreground)
	}
	return g, nil
}

// FromStack builds a grid whose dimensions are the stack's shape, whose
// origin is the box minimum and whose scalars are the stack values as-is.
func FromStack(stack models.Stack, box models.BoundingBox, spacing [3]float64) (*Grid, error) {
	if err := checkSpacing(spacing); err != nil {
		return nil, err
	}
	g := &Grid{Origin: box.Min(), Spacing: spacing, Dims: stack.Dims}
	for axis, d := range stack.Dims {
		if d < 1 {
			return nil, fmt.Errorf("stack axis %d has %d samples: %w", axis, d, ErrShapeMismatch)
		}
	}
	if len(stack.Values) != g.Len() {
		return nil, fmt.Errorf("%d values for stack dims %v: %w", len(stack.Values), stack.Dims, ErrShapeMismatch)
	}
	g.Scalars = append([]float64(nil), stack.Values...)
	log.Debugf("stack grid origin %v spacing %v dims %v", g.Origin, spacing, g.Dims)
	return g, nil
}
