// Package slicestore holds an ordered stack of slices, converts raw intensities
// to Hounsfield units and extracts foreground pixel locations.
package slicestore

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/config"
)

var log = config.NamedLogger("slicestore")

// DefaultTolerance is the accepted spacing and orientation drift between slices
const DefaultTolerance = 1e-4

// Validation and state errors returned by the store
var (
	ErrNoSlices            = errors.New("no slices")
	ErrUnordered           = errors.New("slices are not in ascending instance order")
	ErrNonUniformGeometry  = errors.New("slice geometry differs from the first slice")
	ErrPlaneMismatch       = errors.New("pixel plane size mismatch")
	ErrNotNormalized       = errors.New("intensities have not been normalized")
	ErrTooFewSlices        = errors.New("at least 2 slices are needed to infer thickness")
	ErrDegenerateThickness = errors.New("inferred slice thickness is zero")
)

// Store owns the slice stack. Slices are read-only after New, except for the
// one-time intensity normalization.
type Store struct {
	slices     []models.Slice
	normalized bool
	threshold  int16
	tolerance  float64
}

// Option configures a Store
type Option func(*Store)

// WithTolerance sets the largest accepted spacing/orientation difference
// between a slice and the first slice
func WithTolerance(tol float64) Option {
	return func(s *Store) { s.tolerance = tol }
}

// WithForegroundThreshold sets the HU value a pixel must exceed to be foreground
func WithForegroundThreshold(hu int16) Option {
	return func(s *Store) { s.threshold = hu }
}

// New validates the stack and takes ownership of it. Slices must already be
// sorted by instance index and share spacing, orientation and plane size.
func New(slices []models.Slice, opts ...Option) (*Store, error) {
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}
	s := &Store{slices: slices, tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) validate() error {
	ref := &s.slices[0]
	for i := range s.slices {
		sl := &s.slices[i]
		if sl.Rows <= 0 || sl.Cols <= 0 || len(sl.Pixels) != sl.Rows*sl.Cols {
			return fmt.Errorf("slice %d: %dx%d plane with %d pixels: %w",
				i, sl.Rows, sl.Cols, len(sl.Pixels), ErrPlaneMismatch)
		}
		if sl.Rows != ref.Rows || sl.Cols != ref.Cols {
			return fmt.Errorf("slice %d is %dx%d, first slice is %dx%d: %w",
				i, sl.Rows, sl.Cols, ref.Rows, ref.Cols, ErrPlaneMismatch)
		}
		if sl.PixelSpacing[0] <= 0 || sl.PixelSpacing[1] <= 0 {
			return fmt.Errorf("slice %d: pixel spacing %v must be positive", i, sl.PixelSpacing)
		}
		if i == 0 {
			continue
		}
		if sl.InstanceIndex <= s.slices[i-1].InstanceIndex {
			return fmt.Errorf("slice %d has instance %d after %d: %w",
				i, sl.InstanceIndex, s.slices[i-1].InstanceIndex, ErrUnordered)
		}
		if !floats.EqualApprox(sl.PixelSpacing[:], ref.PixelSpacing[:], s.tolerance) {
			return fmt.Errorf("slice %d spacing %v vs %v: %w",
				i, sl.PixelSpacing, ref.PixelSpacing, ErrNonUniformGeometry)
		}
		if !floats.EqualApprox(sl.Orientation[:], ref.Orientation[:], s.tolerance) {
			return fmt.Errorf("slice %d orientation %v vs %v: %w",
				i, sl.Orientation, ref.Orientation, ErrNonUniformGeometry)
		}
		if sl.RescaleSlope != ref.RescaleSlope || sl.RescaleIntercept != ref.RescaleIntercept {
			log.Warnf("slice %d rescale %g/%g differs from first slice %g/%g; using the first",
				i, sl.RescaleSlope, sl.RescaleIntercept, ref.RescaleSlope, ref.RescaleIntercept)
		}
	}
	return nil
}

// Len returns the number of slices
func (s *Store) Len() int { return len(s.slices) }

// Slices returns the ordered slice stack. Callers must not modify it.
func (s *Store) Slices() []models.Slice { return s.slices }

// Normalized reports whether NormalizeIntensity has run
func (s *Store) Normalized() bool { return s.normalized }

// NormalizeIntensity converts every pixel to Hounsfield units using the first
// slice's rescale slope and intercept. It runs at most once; later calls log
// and return false.
func (s *Store) NormalizeIntensity() bool {
	if s.normalized {
		log.Warn("intensities already normalized, skipping")
		return false
	}
	slope := s.slices[0].RescaleSlope
	intercept := s.slices[0].RescaleIntercept
	for i := range s.slices {
		px := s.slices[i].Pixels
		for j, raw := range px {
			px[j] = clampInt16(slope*float64(raw) + intercept)
		}
	}
	s.normalized = true
	log.Debugf("normalized %d slices with slope %g intercept %g", len(s.slices), slope, intercept)
	return true
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ExtractForegroundIndices returns, per slice, the row-major list of pixels
// whose HU exceeds the foreground threshold.
func (s *Store) ExtractForegroundIndices() ([]models.IndexGroup, error) {
	if !s.normalized {
		log.Error("foreground requested before intensity normalization")
		return nil, ErrNotNormalized
	}
	groups := make([]models.IndexGroup, len(s.slices))
	total := 0
	for i := range s.slices {
		sl := &s.slices[i]
		var idx []models.PixelIndex
		for r := 0; r < sl.Rows; r++ {
			row := sl.Pixels[r*sl.Cols : (r+1)*sl.Cols]
			for c, hu := range row {
				if hu > s.threshold {
					idx = append(idx, models.PixelIndex{Row: r, Col: c})
				}
			}
		}
		groups[i] = models.IndexGroup{SliceIndex: i, Indices: idx}
		total += len(idx)
	}
	log.Debugf("found %d foreground pixels in %d slices", total, len(groups))
	return groups, nil
}

// VoxelThickness returns the declared slice thickness, or the z distance
// between the first two slices when none is declared.
func (s *Store) VoxelThickness() (float64, error) {
	t := s.slices[0].Thickness
	if t > 0 && !math.IsInf(t, 0) && !math.IsNaN(t) {
		return t, nil
	}
	if len(s.slices) < 2 {
		return 0, ErrTooFewSlices
	}
	t = math.Abs(s.slices[1].Position[2] - s.slices[0].Position[2])
	if t == 0 {
		return 0, ErrDegenerateThickness
	}
	log.Debugf("no declared thickness, inferred %g from slice positions", t)
	return t, nil
}

// IntensityStack returns the pixel planes as a stack with x following the
// column index, y the row index and z the slice order.
func (s *Store) IntensityStack() models.Stack {
	ref := &s.slices[0]
	plane := ref.Rows * ref.Cols
	values := make([]float64, plane*len(s.slices))
	for z := range s.slices {
		for i, v := range s.slices[z].Pixels {
			values[z*plane+i] = float64(v)
		}
	}
	return models.Stack{Dims: [3]int{ref.Cols, ref.Rows, len(s.slices)}, Values: values}
}

// Summary describes the intensity distribution of the stack
type Summary struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summary computes intensity statistics over every pixel
func (s *Store) Summary() Summary {
	values := s.IntensityStack().Values
	mean, std := stat.MeanStdDev(values, nil)
	return Summary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
	}
}
