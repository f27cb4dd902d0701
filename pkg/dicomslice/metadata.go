package dicomslice

import (
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gopkg.in/guregu/null.v3"

	"medvol/internal/models"
)

// ReadMetadata populates a SliceMetadata from a parsed dataset in one pass.
// Absent or malformed attributes are left null.
func ReadMetadata(ds dicom.Dataset) models.SliceMetadata {
	r := reader{ds: ds}
	return models.SliceMetadata{
		StudyInstanceUID:  r.str(tag.StudyInstanceUID),
		SeriesInstanceUID: r.str(tag.SeriesInstanceUID),
		PatientName:       r.str(tag.PatientName),
		StudyDate:         r.str(tag.StudyDate),
		StudyTime:         r.str(tag.StudyTime),
		SeriesDate:        r.str(tag.SeriesDate),
		SeriesTime:        r.str(tag.SeriesTime),
		SeriesDescription: r.str(tag.SeriesDescription),
		Modality:          r.str(tag.Modality),

		Rows:            r.integer(tag.Rows),
		Columns:         r.integer(tag.Columns),
		SamplesPerPixel: r.integer(tag.SamplesPerPixel),
		NumberOfFrames:  r.integer(tag.NumberOfFrames),

		PixelRepresentation: r.integer(tag.PixelRepresentation),
		BitsAllocated:       r.integer(tag.BitsAllocated),
		BitsStored:          r.integer(tag.BitsStored),

		PixelSpacing:     r.floats(tag.PixelSpacing),
		SliceThickness:   r.float(tag.SliceThickness),
		ImagePosition:    r.floats(tag.ImagePositionPatient),
		ImageOrientation: r.floats(tag.ImageOrientationPatient),
		SliceLocation:    r.float(tag.SliceLocation),
		InstanceNumber:   r.integer(tag.InstanceNumber),

		RescaleSlope:     r.float(tag.RescaleSlope),
		RescaleIntercept: r.float(tag.RescaleIntercept),

		PatientWeight: r.float(tag.PatientWeight),
		PatientSize:   r.float(tag.PatientSize),
		PatientSex:    r.str(tag.PatientSex),

		// The isotope attributes live inside RadiopharmaceuticalInformationSequence
		Radiopharmaceutical: models.Radiopharmaceutical{
			TotalDose:     r.nestedFloat(tag.RadionuclideTotalDose),
			HalfLife:      r.nestedFloat(tag.RadionuclideHalfLife),
			StartTime:     r.nestedStr(tag.RadiopharmaceuticalStartTime),
			StartDateTime: r.nestedStr(tag.RadiopharmaceuticalStartDateTime),
		},
	}
}

type reader struct {
	ds dicom.Dataset
}

func (r *reader) values(t tag.Tag, nested bool) interface{} {
	var (
		elem *dicom.Element
		err  error
	)
	if nested {
		elem, err = r.ds.FindElementByTagNested(t)
	} else {
		elem, err = r.ds.FindElementByTag(t)
	}
	if err != nil || elem == nil || elem.Value == nil {
		return nil
	}
	return elem.Value.GetValue()
}

// texts returns the element as trimmed strings regardless of its VR.
func (r *reader) texts(t tag.Tag, nested bool) []string {
	switch v := r.values(t, nested).(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			// Multi-valued DS/IS may arrive as a single backslash-joined string
			for _, part := range strings.Split(s, "\\") {
				out = append(out, strings.TrimSpace(strings.TrimRight(part, "\x00")))
			}
		}
		return out
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	}
	return nil
}

func (r *reader) str(t tag.Tag) null.String {
	return firstString(r.texts(t, false))
}

func (r *reader) nestedStr(t tag.Tag) null.String {
	return firstString(r.texts(t, true))
}

func (r *reader) integer(t tag.Tag) null.Int {
	switch v := r.values(t, false).(type) {
	case []int:
		if len(v) > 0 {
			return null.IntFrom(int64(v[0]))
		}
		return null.Int{}
	}
	s := r.str(t)
	if !s.Valid {
		return null.Int{}
	}
	n, err := strconv.ParseInt(s.String, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s.String, 64)
		if ferr != nil {
			return null.Int{}
		}
		n = int64(f)
	}
	return null.IntFrom(n)
}

func (r *reader) float(t tag.Tag) null.Float {
	fs := parseFloats(r.texts(t, false))
	if len(fs) == 0 {
		return null.Float{}
	}
	return null.FloatFrom(fs[0])
}

func (r *reader) nestedFloat(t tag.Tag) null.Float {
	fs := parseFloats(r.texts(t, true))
	if len(fs) == 0 {
		return null.Float{}
	}
	return null.FloatFrom(fs[0])
}

func (r *reader) floats(t tag.Tag) []float64 {
	return parseFloats(r.texts(t, false))
}

func firstString(v []string) null.String {
	if len(v) == 0 || v[0] == "" {
		return null.String{}
	}
	return null.StringFrom(v[0])
}

// parseFloats parses every value, returning nil if any is malformed.
func parseFloats(v []string) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, 0, len(v))
	for _, s := range v {
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
