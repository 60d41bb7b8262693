// Package reconstruction turns an ordered series of cross-section slices into
// a point cloud or a regular volume grid ready for isosurface extraction.
package reconstruction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/affine"
	"dicomto3d/pkg/config"
	"dicomto3d/pkg/slicestore"
	"dicomto3d/pkg/visualization"
	"dicomto3d/pkg/volume"
)

var log = config.NamedLogger("reconstruction")

// Source selects what the volume is built from
type Source string

const (
	// SourcePoints stops after the physical point cloud
	SourcePoints Source = "pc"

	// SourceImage samples the HU stack directly onto the grid
	SourceImage Source = "img"

	// SourceVoxel rasterizes the outer surface of the foreground voxels
	SourceVoxel Source = "vox"

	// SourceImageVoxel samples the HU stack and keeps only what lies inside
	// the foreground voxel surface
	SourceImageVoxel Source = "iv"
)

// ErrUnknownSource is returned for a source name other than pc, img, vox or iv
var ErrUnknownSource = errors.New("unknown source")

// ParseSource validates a source name
func ParseSource(name string) (Source, error) {
	switch s := Source(name); s {
	case SourcePoints, SourceImage, SourceVoxel, SourceImageVoxel:
		return s, nil
	}
	return "", fmt.Errorf("%q (want pc, img, vox or iv): %w", name, ErrUnknownSource)
}

// Params holds the reconstruction parameters
type Params struct {
	// Source selects the pipeline branch
	Source Source

	// NumCores is the worker count for per-slice point conversion
	NumCores int

	// ForegroundThreshold is the HU value a pixel must exceed to be foreground
	ForegroundThreshold int16

	// UniformTolerance bounds the spacing and orientation drift between slices
	UniformTolerance float64

	// StencilTolerance is the on-surface distance, in voxels, counted as inside
	StencilTolerance float64

	// Smooth applies a Gaussian blur to the grid before padding
	Smooth             bool
	SmoothDeviation    float64
	SmoothRadiusFactor float64

	// PreviewDir, when set, receives a mid-plane PNG of every grid stage
	PreviewDir string
}

// DefaultParams returns the parameters of an img run without smoothing
func DefaultParams() *Params {
	return &Params{
		Source:             SourceImage,
		NumCores:           runtime.NumCPU(),
		UniformTolerance:   slicestore.DefaultTolerance,
		StencilTolerance:   volume.DefaultStencilTolerance,
		SmoothDeviation:    volume.DefaultDeviation,
		SmoothRadiusFactor: volume.DefaultRadiusFactor,
	}
}

// ParamsFromConfig derives pipeline parameters from a loaded configuration
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	src, err := ParseSource(cfg.Processing.Source)
	if err != nil {
		return nil, err
	}
	p := &Params{
		Source:              src,
		NumCores:            cfg.Processing.NumCores,
		ForegroundThreshold: cfg.Processing.ForegroundThreshold,
		UniformTolerance:    cfg.Geometry.UniformTolerance,
		StencilTolerance:    cfg.Geometry.StencilTolerance,
		Smooth:              cfg.Processing.Smooth,
		SmoothDeviation:     cfg.Processing.SmoothDeviation,
		SmoothRadiusFactor:  cfg.Processing.SmoothRadiusFactor,
	}
	if cfg.Output.SavePreviews {
		p.PreviewDir = filepath.Join(cfg.Output.PreviewDir, "stages")
	}
	return p, nil
}

// Result is the output of one reconstruction run. Only Points, Intensity
// and Voxel are set for SourcePoints.
type Result struct {
	// Points are the physical positions of the foreground pixels, in slice
	// then row-major order
	Points []models.Point3D

	// Intensity summarizes the normalized HU values of the whole stack
	Intensity slicestore.Summary

	// Voxel is the physical size of one voxel
	Voxel models.VoxelGeometry

	// Centers are the foreground voxel centers (vox and iv)
	Centers []models.Point3D

	// Surface is the outer surface of the foreground voxels (vox and iv)
	Surface models.Surface

	// Bounds is the box the grid was built on
	Bounds models.BoundingBox

	// Grid is the final padded volume
	Grid *volume.Grid
}

// Reconstructor runs the slice-to-volume pipeline
type Reconstructor struct {
	params *Params
}

// NewReconstructor creates a reconstructor; a nil params uses DefaultParams
func NewReconstructor(params *Params) *Reconstructor {
	if params == nil {
		params = DefaultParams()
	}
	return &Reconstructor{params: params}
}

// Process validates and normalizes the slices, converts the foreground to
// physical points and, unless the source is pc, builds the padded grid.
// The caller's slices are not modified.
func (r *Reconstructor) Process(slices []models.Slice) (*Result, error) {
	start := time.Now()
	p := r.params
	if _, err := ParseSource(string(p.Source)); err != nil {
		return nil, err
	}

	log.Info("Step 1: validating slice series")
	own := make([]models.Slice, len(slices))
	for i := range slices {
		own[i] = slices[i]
		own[i].Pixels = append([]int16(nil), slices[i].Pixels...)
	}
	opts := []slicestore.Option{slicestore.WithForegroundThreshold(p.ForegroundThreshold)}
	if p.UniformTolerance > 0 {
		opts = append(opts, slicestore.WithTolerance(p.UniformTolerance))
	}
	store, err := slicestore.New(own, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid slice series: %w", err)
	}

	log.Info("Step 2: normalizing intensities")
	store.NormalizeIntensity()
	res := &Result{Intensity: store.Summary()}
	log.Debugf("HU mean %.1f std %.1f range [%g, %g]",
		res.Intensity.Mean, res.Intensity.StdDev, res.Intensity.Min, res.Intensity.Max)

	thickness, err := store.VoxelThickness()
	if err != nil {
		return nil, fmt.Errorf("voxel thickness: %w", err)
	}
	res.Voxel = affine.VoxelSize(&store.Slices()[0], thickness)

	log.Info("Step 3: converting foreground pixels to physical points")
	groups, err := store.ExtractForegroundIndices()
	if err != nil {
		return nil, err
	}
	res.Points, err = affine.BatchConvert(store.Slices(), groups, p.NumCores)
	if err != nil {
		return nil, fmt.Errorf("point conversion: %w", err)
	}
	log.Infof("%d foreground points, voxel %v", len(res.Points), res.Voxel.Size())

	if p.Source == SourcePoints {
		log.Infof("Reconstruction completed in %v", time.Since(start))
		return res, nil
	}

	log.Infof("Step 4: building %s grid", p.Source)
	grid, err := r.rasterize(store, res)
	if err != nil {
		return nil, err
	}
	r.preview("01_raster", grid)

	if p.Smooth {
		log.Info("Step 5: smoothing")
		if grid, err = volume.Smooth(grid, p.SmoothDeviation, p.SmoothRadiusFactor); err != nil {
			return nil, fmt.Errorf("smoothing: %w", err)
		}
		r.preview("02_smoothed", grid)
	}

	res.Grid = volume.Pad(grid)
	r.preview("03_padded", res.Grid)
	log.Infof("grid origin %v spacing %v dims %v", res.Grid.Origin, res.Grid.Spacing, res.Grid.Dims)
	log.Infof("Reconstruction completed in %v", time.Since(start))
	return res, nil
}

// rasterize builds the unpadded grid for the grid-producing sources
func (r *Reconstructor) rasterize(store *slicestore.Store, res *Result) (*volume.Grid, error) {
	p := r.params
	spacing := res.Voxel.GridSpacing()

	if p.Source == SourceVoxel || p.Source == SourceImageVoxel {
		res.Centers = affine.VoxelCenter(res.Points, spacing)
		surface, err := volume.VoxelSurface(res.Centers, spacing)
		if err != nil {
			return nil, fmt.Errorf("voxel surface: %w", err)
		}
		res.Surface = surface
		log.Debugf("voxel surface with %d triangles", len(surface.Triangles))
	}

	var grid *volume.Grid
	var err error
	switch p.Source {
	case SourceVoxel:
		res.Bounds = res.Surface.Bounds()
		if grid, err = volume.FromSurface(res.Surface, spacing); err != nil {
			return nil, fmt.Errorf("surface grid: %w", err)
		}
	default:
		var ok bool
		if res.Bounds, ok = affine.StackBounds(store.Slices()); !ok {
			return nil, slicestore.ErrNoSlices
		}
		if grid, err = volume.FromStack(store.IntensityStack(), res.Bounds, spacing); err != nil {
			return nil, fmt.Errorf("stack grid: %w", err)
		}
	}

	switch p.Source {
	case SourceImage:
		return grid, nil
	case SourceImageVoxel:
		return r.stencilStack(store, grid, res.Surface)
	}
	if grid, err = volume.Stencil(grid, res.Surface, p.StencilTolerance); err != nil {
		return nil, fmt.Errorf("stencil: %w", err)
	}
	return grid, nil
}

// stencilStack carves a box-origin stack grid with a surface in exact
// physical coordinates. The stencil runs on the grid placed at the stack's
// true origin and the result is moved back onto the box origin.
func (r *Reconstructor) stencilStack(store *slicestore.Store, grid *volume.Grid, surface models.Surface) (*volume.Grid, error) {
	origin, ok := affine.StackOrigin(store.Slices())
	if !ok {
		return nil, slicestore.ErrNoSlices
	}
	placed := *grid
	placed.Origin = origin
	out, err := volume.Stencil(&placed, surface, r.params.StencilTolerance)
	if err != nil {
		return nil, fmt.Errorf("stencil: %w", err)
	}
	out.Origin = grid.Origin
	return out, nil
}

// preview saves the middle z plane of a grid stage. Failures are logged.
func (r *Reconstructor) preview(stage string, g *volume.Grid) {
	if r.params.PreviewDir == "" {
		return
	}
	if err := os.MkdirAll(r.params.PreviewDir, 0755); err != nil {
		log.Warnf("Failed to create preview directory: %v", err)
		return
	}
	v := visualization.NewViewer(g)
	img, err := v.ExtractSlice("z", g.Dims[2]/2)
	if err == nil {
		err = v.SaveSlice(img, filepath.Join(r.params.PreviewDir, stage+".png"))
	}
	if err != nil {
		log.Warnf("Failed to save %s preview: %v", stage, err)
	}
}
