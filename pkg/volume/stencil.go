package volume

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
)

// DefaultStencilTolerance is the distance, in fractions of the grid spacing,
// within which a grid point lying on the surface is treated as inside
const DefaultStencilTolerance = 1e-3

// Stencil rasterizes a closed surface onto the grid and returns a copy in
// which every point outside the surface is set to 0. Points inside keep their
// value. The returned grid records the coverage mask in Stencil.
//
// Each (y, z) row of grid points is scanned along x: the crossings of the row
// with the surface are sorted and paired, and points between a pair are
// inside. The row is scanned at four small offsets (tolerance*spacing in y,
// half of that in z, so a shifted row never runs along a face diagonal) and a
// point is inside if any shifted row says so. Points on the surface, vertices included,
// count as inside: crossings of the unshifted row mark the points within
// tolerance of them without taking part in the parity.
func Stencil(g *Grid, surface models.Surface, tolerance float64) (*Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(surface.Triangles) == 0 || len(surface.Vertices) == 0 {
		return nil, ErrEmptySurface
	}
	for i, tri := range surface.Triangles {
		for _, v := range tri {
			if v < 0 || v >= len(surface.Vertices) {
				return nil, fmt.Errorf("triangle %d references vertex %d of %d: %w",
					i, v, len(surface.Vertices), ErrShapeMismatch)
			}
		}
	}
	if tolerance < 0 {
		tolerance = 0
	}

	lo, hi := g.Bounds()
	sb := surface.Bounds()
	smin, smax := sb.Min(), sb.Max()
	for axis := 0; axis < 3; axis++ {
		if smax[axis] < lo[axis] || smin[axis] > hi[axis] {
			return nil, fmt.Errorf("axis %d surface [%g, %g] grid [%g, %g]: %w",
				axis, smin[axis], smax[axis], lo[axis], hi[axis], ErrExtentMismatch)
		}
	}

	out := g.Clone()
	out.Stencil = make([]bool, out.Len())

	dy := tolerance * g.Spacing[1]
	dz := 0.5 * tolerance * g.Spacing[2]
	shifts := [][2]float64{{dy, dz}, {-dy, dz}, {dy, -dz}, {-dy, -dz}}
	if tolerance == 0 {
		shifts = [][2]float64{{0, 0}}
	}
	xTol := tolerance * g.Spacing[0]

	var crossings []float64
	inside := 0
	for z := 0; z < g.Dims[2]; z++ {
		for y := 0; y < g.Dims[1]; y++ {
			p := g.PointAt(0, y, z)
			for _, off := range shifts {
				crossings = rowCrossings(crossings[:0], surface, p[1]+off[0], p[2]+off[1])
				for i := 0; i+1 < len(crossings); i += 2 {
					markSpan(out, y, z, crossings[i]-xTol, crossings[i+1]+xTol)
				}
			}
			// the row itself only marks points lying on the surface; vertices
			// such as an apex are missed by every shifted row
			crossings = rowCrossings(crossings[:0], surface, p[1], p[2])
			for _, x := range crossings {
				markSpan(out, y, z, x-xTol, x+xTol)
			}
		}
	}

	for i, in := range out.Stencil {
		if in {
			inside++
			continue
		}
		out.Scalars[i] = 0
	}
	log.Debugf("stencil kept %d of %d grid points", inside, out.Len())
	return out, nil
}

// rowCrossings appends the sorted x positions where the line {y = py, z = pz}
// crosses the surface. A crossing shared by two triangles of one face is
// reported once.
func rowCrossings(dst []float64, surface models.Surface, py, pz float64) []float64 {
	for _, tri := range surface.Triangles {
		a := surface.Vertices[tri[0]]
		b := surface.Vertices[tri[1]]
		c := surface.Vertices[tri[2]]
		if x, ok := crossX(a, b, c, py, pz); ok {
			dst = append(dst, x)
		}
	}
	sort.Float64s(dst)

	merged := dst[:0]
	for _, x := range dst {
		if n := len(merged); n > 0 && math.Abs(merged[n-1]-x) <= 1e-9*math.Max(1, math.Abs(x)) {
			continue
		}
		merged = append(merged, x)
	}
	return merged
}

// crossX intersects the x-parallel line through (py, pz) with triangle abc.
// Triangles seen edge-on from the x axis are skipped.
func crossX(a, b, c r3.Vec, py, pz float64) (float64, bool) {
	e1y, e1z := b.Y-a.Y, b.Z-a.Z
	e2y, e2z := c.Y-a.Y, c.Z-a.Z
	det := e1y*e2z - e1z*e2y
	if math.Abs(det) < 1e-15 {
		return 0, false
	}
	qy, qz := py-a.Y, pz-a.Z
	u := (qy*e2z - qz*e2y) / det
	v := (e1y*qz - e1z*qy) / det
	if u < 0 || v < 0 || u+v > 1 {
		return 0, false
	}
	return a.X + u*(b.X-a.X) + v*(c.X-a.X), true
}

// markSpan flags the grid points of row (y, z) whose x lies in [x0, x1]
func markSpan(g *Grid, y, z int, x0, x1 float64) {
	first := int(math.Ceil((x0 - g.Origin[0]) / g.Spacing[0]))
	last := int(math.Floor((x1 - g.Origin[0]) / g.Spacing[0]))
	if first < 0 {
		first = 0
	}
	if last > g.Dims[0]-1 {
		last = g.Dims[0] - 1
	}
	base := g.Index(0, y, z)
	for x := first; x <= last; x++ {
		g.Stencil[base+x] = true
	}
}
