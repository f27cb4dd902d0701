// Package dicomslice turns one DICOM file into a models.SliceRecord: identity
// keys, patient-space geometry and pixel values in physical units.
package dicomslice

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"medvol/internal/models"
	"medvol/pkg/suv"
)

// Option configures parsing.
type Option func(*options)

type options struct {
	logger log.Interface
}

// WithLogger sets the logger used for degraded-geometry warnings.
func WithLogger(l log.Interface) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.Log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// anonymous numbers studies that carry neither a UID nor a patient name
var anonymous uint64

// Parse reads path and builds its SliceRecord. Decoder panics are returned
// as *models.ParseError.
func Parse(path string, opts ...Option) (rec *models.SliceRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec = nil
			err = &models.ParseError{Path: path, Reason: "decoder panic", Err: fmt.Errorf("%v", p)}
		}
	}()

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "invalid DICOM", Err: err}
	}
	return FromDataset(ds, path, opts...)
}

// FromDataset maps an already parsed dataset to a SliceRecord.
func FromDataset(ds dicom.Dataset, path string, opts ...Option) (*models.SliceRecord, error) {
	meta := ReadMetadata(ds)

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "missing PixelData"}
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, &models.ParseError{Path: path, Reason: "PixelData has no frames"}
	}

	return NewRecord(meta, info.Frames, path, opts...)
}

// NewRecord builds a SliceRecord from metadata and the decoded frames.
func NewRecord(meta models.SliceMetadata, frames []*frame.Frame, path string, opts ...Option) (*models.SliceRecord, error) {
	o := newOptions(opts)
	logger := o.logger.WithField("file", filepath.Base(path))

	if !meta.Rows.Valid || meta.Rows.Int64 <= 0 {
		return nil, &models.ParseError{Path: path, Reason: "missing Rows"}
	}
	if !meta.Columns.Valid || meta.Columns.Int64 <= 0 {
		return nil, &models.ParseError{Path: path, Reason: "missing Columns"}
	}
	if len(frames) == 0 {
		return nil, &models.ParseError{Path: path, Reason: "missing PixelData"}
	}

	rows, cols := int(meta.Rows.Int64), int(meta.Columns.Int64)
	channels := 1
	if meta.SamplesPerPixel.Valid {
		channels = int(meta.SamplesPerPixel.Int64)
	}
	if channels != 1 && channels != 3 {
		return nil, &models.ParseError{Path: path, Reason: fmt.Sprintf("unsupported SamplesPerPixel %d", channels)}
	}

	pixels, err := framePixels(frames, rows, cols, channels, signedBits(meta))
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "unreadable PixelData", Err: err}
	}

	rec := &models.SliceRecord{
		Path:              path,
		StudyKey:          studyKey(meta),
		SeriesKey:         fmt.Sprintf("%s_%d_%d", meta.SeriesInstanceUID.ValueOrZero(), rows, cols),
		Shape:             models.FrameShape{Rows: rows, Cols: cols},
		Direction:         direction(meta),
		SliceLocation:     meta.SliceLocation,
		InstanceNumber:    meta.InstanceNumber,
		Modality:          models.ParseModality(meta.Modality.ValueOrZero()),
		Channels:          channels,
		Frames:            len(frames),
		PatientName:       meta.PatientName.ValueOrZero(),
		StudyDescription:  strings.TrimSpace(meta.StudyDate.ValueOrZero() + " " + meta.StudyTime.ValueOrZero()),
		SeriesDescription: meta.SeriesDescription.ValueOrZero(),
		Meta:              meta,
	}

	if len(meta.ImagePosition) >= 3 {
		rec.Origin = models.Vec3{meta.ImagePosition[0], meta.ImagePosition[1], meta.ImagePosition[2]}
	}

	rec.Spacing, rec.DegradedGeometry = spacing(meta)
	if rec.DegradedGeometry {
		logger.WithField("spacing", rec.Spacing).Warn("pixel spacing or slice thickness missing, using defaults")
	}

	rec.Pixels, err = toPhysical(pixels, meta, rec.Modality)
	if err != nil {
		return nil, errors.Wrapf(err, "quantify %s", path)
	}

	return rec, nil
}

func studyKey(meta models.SliceMetadata) string {
	if meta.StudyInstanceUID.Valid {
		return meta.StudyInstanceUID.String
	}
	if meta.PatientName.Valid {
		return meta.PatientName.String
	}
	return fmt.Sprintf("study-%d", atomic.AddUint64(&anonymous, 1))
}

// spacing returns (column spacing, row spacing, thickness). Pixel spacing
// and slice thickness default to 1 independently when missing or
// non-positive.
func spacing(meta models.SliceMetadata) (models.Vec3, bool) {
	s := models.Vec3{1, 1, 1}
	degraded := false

	if len(meta.PixelSpacing) >= 2 && meta.PixelSpacing[0] > 0 && meta.PixelSpacing[1] > 0 {
		s[0], s[1] = meta.PixelSpacing[1], meta.PixelSpacing[0]
	} else {
		degraded = true
	}

	if meta.SliceThickness.Valid && meta.SliceThickness.Float64 > 0 {
		s[2] = meta.SliceThickness.Float64
	} else {
		degraded = true
	}
	return s, degraded
}

func direction(meta models.SliceMetadata) models.Direction {
	if len(meta.ImageOrientation) < 6 {
		return models.IdentityDirection
	}
	o := meta.ImageOrientation
	d := models.DirectionFromAxes(models.Vec3{o[0], o[1], o[2]}, models.Vec3{o[3], o[4], o[5]})
	if n := d.Axis(2); n == (models.Vec3{}) {
		return models.IdentityDirection
	}
	return d
}

// toPhysical applies the modality rescale and, for PET, the SUVbw correction.
func toPhysical(raw []float64, meta models.SliceMetadata, modality models.Modality) ([]float64, error) {
	out := raw
	if meta.RescaleSlope.Valid && meta.RescaleIntercept.Valid {
		slope, intercept := meta.RescaleSlope.Float64, meta.RescaleIntercept.Float64
		out = make([]float64, len(raw))
		for i, v := range raw {
			out[i] = v*slope + intercept
		}
	}

	if modality != models.PT {
		return out, nil
	}

	p, err := suvParams(meta)
	if err != nil {
		return nil, err
	}
	return suv.Correct(out, p)
}

// suvParams derives decay parameters from the PET attributes. Missing
// attributes are a QuantificationError, never a silent default.
func suvParams(meta models.SliceMetadata) (suv.Params, error) {
	rp := meta.Radiopharmaceutical
	switch {
	case !meta.PatientWeight.Valid:
		return suv.Params{}, &models.QuantificationError{Reason: "missing PatientWeight"}
	case !rp.TotalDose.Valid:
		return suv.Params{}, &models.QuantificationError{Reason: "missing RadionuclideTotalDose"}
	case !rp.HalfLife.Valid:
		return suv.Params{}, &models.QuantificationError{Reason: "missing RadionuclideHalfLife"}
	case !meta.SeriesDate.Valid || !meta.SeriesTime.Valid:
		return suv.Params{}, &models.QuantificationError{Reason: "missing SeriesDate or SeriesTime"}
	}

	seriesTime := meta.SeriesDate.String + meta.SeriesTime.String
	var injection string
	switch {
	case rp.StartDateTime.Valid:
		injection = rp.StartDateTime.String
	case rp.StartTime.Valid:
		injection = meta.SeriesDate.String + rp.StartTime.String
	default:
		return suv.Params{}, &models.QuantificationError{Reason: "missing RadiopharmaceuticalStartTime"}
	}

	decay, err := suv.DecaySeconds(seriesTime, injection)
	if err != nil {
		return suv.Params{}, err
	}
	return suv.Params{
		WeightKg:        meta.PatientWeight.Float64,
		DoseAtInjection: rp.TotalDose.Float64,
		HalfLifeSeconds: rp.HalfLife.Float64,
		DecaySeconds:    decay,
	}, nil
}

// signedBits returns the number of significant bits of a two's complement
// sample, or 0 for unsigned pixel data.
func signedBits(meta models.SliceMetadata) int {
	if !meta.PixelRepresentation.Valid || meta.PixelRepresentation.Int64 != 1 {
		return 0
	}
	if meta.BitsStored.Valid && meta.BitsStored.Int64 > 0 {
		return int(meta.BitsStored.Int64)
	}
	if meta.BitsAllocated.Valid && meta.BitsAllocated.Int64 > 0 {
		return int(meta.BitsAllocated.Int64)
	}
	return 16
}

// signExtend reads the low bits of v as a two's complement integer.
func signExtend(v, bits int) int {
	if bits <= 0 || bits >= 64 {
		return v
	}
	v &= 1<<bits - 1
	if v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

// framePixels flattens native frames into (frame, row, col, channel) order.
// The decoder returns samples unsigned; signed > 0 sign-extends them from
// that many bits.
func framePixels(frames []*frame.Frame, rows, cols, channels, signed int) ([]float64, error) {
	plane := rows * cols * channels
	out := make([]float64, 0, plane*len(frames))
	for i, fr := range frames {
		if fr == nil {
			return nil, fmt.Errorf("frame %d is empty", i)
		}
		if fr.Encapsulated || fr.NativeData == nil {
			return nil, fmt.Errorf("frame %d is encapsulated; compressed transfer syntaxes are not supported", i)
		}
		nf := fr.NativeData
		if nf.Rows() != rows || nf.Cols() != cols {
			return nil, fmt.Errorf("frame %d is %dx%d, header says %dx%d", i, nf.Rows(), nf.Cols(), rows, cols)
		}
		if nf.SamplesPerPixel() != channels {
			return nil, fmt.Errorf("frame %d has %d samples per pixel, header says %d", i, nf.SamplesPerPixel(), channels)
		}

		bits := signed
		if bits > nf.BitsPerSample() && nf.BitsPerSample() > 0 {
			bits = nf.BitsPerSample()
		}
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				px, err := nf.GetPixel(x, y)
				if err != nil {
					return nil, errors.Wrapf(err, "frame %d pixel (%d,%d)", i, x, y)
				}
				for c := 0; c < channels; c++ {
					v := px[c]
					if bits > 0 {
						v = signExtend(v, bits)
					}
					out = append(out, float64(v))
				}
			}
		}
	}
	return out, nil
}

// Siblings lists the files next to path that share its extension, sorted by
// name. path itself is included.
func Siblings(path string) ([]string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ext) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
