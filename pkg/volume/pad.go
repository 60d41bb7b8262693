package volume

// Pad returns a copy of the grid with one all-zero plane added before the
// first and after the last z plane. The origin moves back by one z spacing so
// every original point keeps its physical position. Without the extra planes
// a surface touching the first or last sampled plane would be left open.
func Pad(g *Grid) *Grid {
	plane := g.Dims[0] * g.Dims[1]
	out := &Grid{
		Origin:  g.Origin,
		Spacing: g.Spacing,
		Dims:    [3]int{g.Dims[0], g.Dims[1], g.Dims[2] + 2},
	}
	out.Origin[2] -= g.Spacing[2]

	out.Scalars = make([]float64, out.Len())
	copy(out.Scalars[plane:], g.Scalars)
	if g.Stencil != nil {
		out.Stencil = make([]bool, out.Len())
		copy(out.Stencil[plane:], g.Stencil)
	}
	return out
}
