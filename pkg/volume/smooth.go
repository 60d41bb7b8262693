package volume

import (
	"fmt"
	"math"
)

const (
	// DefaultDeviation is the Gaussian standard deviation, in voxels
	DefaultDeviation = 8.0

	// DefaultRadiusFactor bounds the kernel to deviation*factor voxels
	DefaultRadiusFactor = 1.5
)

// Smooth returns a copy of the grid blurred by a separable 3D Gaussian.
// The kernel is truncated at ceil(deviation*radiusFactor) voxels and
// renormalized where it runs past the grid border. Geometry and the stencil
// are carried over unchanged.
func Smooth(g *Grid, deviation, radiusFactor float64) (*Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if !(deviation > 0) || !(radiusFactor > 0) {
		return nil, fmt.Errorf("invalid gaussian deviation %g / radius factor %g", deviation, radiusFactor)
	}
	radius := int(math.Ceil(deviation * radiusFactor))
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * deviation * deviation))
	}

	out := g.Clone()
	tmp := make([]float64, len(out.Scalars))
	strides := [3]int{1, g.Dims[0], g.Dims[0] * g.Dims[1]}
	for axis := 0; axis < 3; axis++ {
		if g.Dims[axis] == 1 {
			continue
		}
		convolveAxis(tmp, out.Scalars, g.Dims, axis, strides[axis], kernel, radius)
		out.Scalars, tmp = tmp, out.Scalars
	}
	log.Debugf("smoothed %d points with deviation %g radius %d", out.Len(), deviation, radius)
	return out, nil
}

// convolveAxis filters src along one axis into dst
func convolveAxis(dst, src []float64, dims [3]int, axis, stride int, kernel []float64, radius int) {
	n := dims[axis]
	for idx := range src {
		pos := (idx / stride) % n
		lo := pos - radius
		if lo < 0 {
			lo = 0
		}
		hi := pos + radius
		if hi > n-1 {
			hi = n - 1
		}
		var sum, weight float64
		base := idx - pos*stride
		for p := lo; p <= hi; p++ {
			w := kernel[p-pos+radius]
			sum += w * src[base+p*stride]
			weight += w
		}
		dst[idx] = sum / weight
	}
}
