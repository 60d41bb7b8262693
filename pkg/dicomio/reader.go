// Package dicomio loads DICOM files into slices
package dicomio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomto3d/internal/models"
	"dicomto3d/pkg/config"
)

var log = config.NamedLogger("dicomio")

// Decoding errors
var (
	ErrMissingTag  = errors.New("required tag missing")
	ErrNoPixelData = errors.New("no native pixel data")
	ErrNoFiles     = errors.New("no DICOM files found")
)

// LoadFile parses one DICOM file into a slice
func LoadFile(path string) (models.Slice, error) {
	ds, err := safelyParseFile(path)
	if err != nil {
		return models.Slice{}, fmt.Errorf("parse %s: %w", path, err)
	}
	s, err := SliceFromDataset(ds)
	if err != nil {
		return models.Slice{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadDir parses every DICOM file directly under dir and returns the slices
// sorted by instance number. Files that do not parse are skipped with a
// warning.
func LoadDir(dir string) ([]models.Slice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var slices []models.Slice
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := LoadFile(path)
		if err != nil {
			log.Warnf("skipping %s: %v", e.Name(), err)
			continue
		}
		slices = append(slices, s)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFiles)
	}

	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].InstanceIndex < slices[j].InstanceIndex
	})
	log.Infof("loaded %d slices from %s", len(slices), dir)
	return slices, nil
}

// safelyParseFile turns panics raised by the dicom parser on malformed input
// into errors.
func safelyParseFile(path string) (ds dicom.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return dicom.ParseFile(path, nil)
}

// SliceFromDataset reads the geometry, rescale and pixel plane of a parsed
// dataset. Slope and intercept default to 1 and 0 when absent; a missing
// slice thickness is left at 0 to be inferred from positions later. Samples
// are read as unsigned unless PixelRepresentation is 1.
func SliceFromDataset(ds dicom.Dataset) (models.Slice, error) {
	s, err := geometryFromDataset(ds)
	if err != nil {
		return s, err
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return s, fmt.Errorf("pixel data: %w", ErrNoPixelData)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return s, ErrNoPixelData
	}
	f := info.Frames[0]
	if f.Encapsulated {
		return s, fmt.Errorf("encapsulated frame: %w", ErrNoPixelData)
	}
	native, err := f.GetNativeFrame()
	if err != nil {
		return s, fmt.Errorf("%v: %w", err, ErrNoPixelData)
	}
	signed := false
	if v, err := intOf(ds, tag.PixelRepresentation); err == nil {
		signed = v == 1
	}
	if s.Pixels, err = pixelsFromNative(native, s.Rows, s.Cols, signed); err != nil {
		return s, err
	}
	return s, nil
}

func geometryFromDataset(ds dicom.Dataset) (models.Slice, error) {
	s := models.Slice{RescaleSlope: 1}

	instance, err := floatsOf(ds, tag.InstanceNumber, 1)
	if err != nil {
		return s, err
	}
	s.InstanceIndex = int(instance[0])

	spacing, err := floatsOf(ds, tag.PixelSpacing, 2)
	if err != nil {
		return s, err
	}
	copy(s.PixelSpacing[:], spacing)

	orientation, err := floatsOf(ds, tag.ImageOrientationPatient, 6)
	if err != nil {
		return s, err
	}
	copy(s.Orientation[:], orientation)

	position, err := floatsOf(ds, tag.ImagePositionPatient, 3)
	if err != nil {
		return s, err
	}
	copy(s.Position[:], position)

	if v, err := floatsOf(ds, tag.SliceThickness, 1); err == nil {
		s.Thickness = v[0]
	}
	if v, err := floatsOf(ds, tag.RescaleSlope, 1); err == nil {
		s.RescaleSlope = v[0]
	}
	if v, err := floatsOf(ds, tag.RescaleIntercept, 1); err == nil {
		s.RescaleIntercept = v[0]
	}

	if s.Rows, err = intOf(ds, tag.Rows); err != nil {
		return s, err
	}
	if s.Cols, err = intOf(ds, tag.Columns); err != nil {
		return s, err
	}
	return s, nil
}

// floatsOf reads the first n numeric strings of a DS or IS element
func floatsOf(ds dicom.Dataset, t tag.Tag, n int) ([]float64, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", t, ErrMissingTag)
	}
	raw, ok := el.Value.GetValue().([]string)
	if !ok || len(raw) < n {
		return nil, fmt.Errorf("%v has %v, want %d values: %w", t, el.Value.GetValue(), n, ErrMissingTag)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("%v value %q: %w", t, raw[i], err)
		}
		out[i] = v
	}
	return out, nil
}

// intOf reads a US element such as Rows or Columns
func intOf(ds dicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", t, ErrMissingTag)
	}
	v, ok := el.Value.GetValue().([]int)
	if !ok || len(v) == 0 {
		return 0, fmt.Errorf("%v has %v: %w", t, el.Value.GetValue(), ErrMissingTag)
	}
	return v[0], nil
}

// pixelsFromNative copies the first sample of every pixel into a row-major
// int16 plane. The parser hands 16-bit samples over as unsigned words, so
// signed samples are reinterpreted as two's complement. Unsigned samples
// above math.MaxInt16 are clamped to it.
func pixelsFromNative(nf *frame.NativeFrame, rows, cols int, signed bool) ([]int16, error) {
	if nf.Rows != rows || nf.Cols != cols || len(nf.Data) != rows*cols {
		return nil, fmt.Errorf("frame %dx%d with %d pixels, header says %dx%d: %w",
			nf.Rows, nf.Cols, len(nf.Data), rows, cols, ErrNoPixelData)
	}
	out := make([]int16, len(nf.Data))
	clamped := 0
	for i, px := range nf.Data {
		if len(px) == 0 {
			return nil, fmt.Errorf("pixel %d has no samples: %w", i, ErrNoPixelData)
		}
		v := px[0]
		switch {
		case signed:
		case v > math.MaxInt16:
			v = math.MaxInt16
			clamped++
		case v < 0:
			v = 0
		}
		out[i] = int16(v)
	}
	if clamped > 0 {
		log.Warnf("clamped %d unsigned samples above %d", clamped, math.MaxInt16)
	}
	return out, nil
}
