package volume

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomto3d/internal/models"
)

type cell [3]int

// VoxelSurface builds the closed outer surface of a set of voxels of the
// given size centered on centers. Voxels are snapped to a lattice anchored
// at the smallest center; every voxel face without an occupied neighbour
// becomes two outward-wound triangles, and shared corners are emitted once
// so the result is watertight.
func VoxelSurface(centers []models.Point3D, size [3]float64) (models.Surface, error) {
	if len(centers) == 0 {
		return models.Surface{}, ErrEmptyPoints
	}
	if err := checkSpacing(size); err != nil {
		return models.Surface{}, err
	}

	minC := [3]float64{centers[0].X, centers[0].Y, centers[0].Z}
	for _, c := range centers[1:] {
		minC[0] = math.Min(minC[0], c.X)
		minC[1] = math.Min(minC[1], c.Y)
		minC[2] = math.Min(minC[2], c.Z)
	}

	occupied := make(map[cell]bool, len(centers))
	for _, c := range centers {
		p := [3]float64{c.X, c.Y, c.Z}
		var k cell
		for axis := 0; axis < 3; axis++ {
			k[axis] = int(math.Round((p[axis] - minC[axis]) / size[axis]))
		}
		occupied[k] = true
	}
	cells := make([]cell, 0, len(occupied))
	for k := range occupied {
		cells = append(cells, k)
	}
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a[2] != b[2] {
			return a[2] < b[2]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})

	var surface models.Surface
	vertexOf := make(map[cell]int)
	corner := func(k cell) int {
		if i, ok := vertexOf[k]; ok {
			return i
		}
		i := len(surface.Vertices)
		vertexOf[k] = i
		surface.Vertices = append(surface.Vertices, r3.Vec{
			X: minC[0] - size[0]/2 + float64(k[0])*size[0],
			Y: minC[1] - size[1]/2 + float64(k[1])*size[1],
			Z: minC[2] - size[2]/2 + float64(k[2])*size[2],
		})
		return i
	}

	for _, k := range cells {
		for axis := 0; axis < 3; axis++ {
			u, v := (axis+1)%3, (axis+2)%3
			for _, dir := range [2]int{-1, 1} {
				n := k
				n[axis] += dir
				if occupied[n] {
					continue
				}
				// quad corners in (u, v) order; e_u x e_v = e_axis
				var q [4]int
				for i, uv := range [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}} {
					c := k
					if dir > 0 {
						c[axis]++
					}
					c[u] += uv[0]
					c[v] += uv[1]
					q[i] = corner(c)
				}
				if dir > 0 {
					surface.Triangles = append(surface.Triangles, [3]int{q[0], q[1], q[2]}, [3]int{q[0], q[2], q[3]})
				} else {
					surface.Triangles = append(surface.Triangles, [3]int{q[0], q[2], q[1]}, [3]int{q[0], q[3], q[2]})
				}
			}
		}
	}
	log.Debugf("voxel surface: %d voxels, %d vertices, %d triangles",
		len(cells), len(surface.Vertices), len(surface.Triangles))
	return surface, nil
}
