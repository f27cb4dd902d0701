package models

import (
	"gopkg.in/guregu/null.v3"
)

// FrameShape is the in-plane shape of a slice in pixels
type FrameShape struct {
	Rows int
	Cols int
}

// Radiopharmaceutical holds the PET isotope block of a slice.
type Radiopharmaceutical struct {
	// TotalDose is the injected activity in Bq
	TotalDose null.Float

	// HalfLife is the radionuclide half life in seconds
	HalfLife null.Float

	// StartTime is the injection time of day (HHMMSS[.ffffff])
	StartTime null.String

	// StartDateTime is the full injection timestamp when the scanner records one
	StartDateTime null.String
}

// SliceMetadata is the subset of DICOM attributes needed for geometry and
// PET quantification, read in a single pass. Optional attributes are explicit
// null values; defaults are applied when the SliceRecord is built, never here.
type SliceMetadata struct {
	StudyInstanceUID  null.String
	SeriesInstanceUID null.String
	PatientName       null.String
	StudyDate         null.String
	StudyTime         null.String
	SeriesDate        null.String
	SeriesTime        null.String
	SeriesDescription null.String
	Modality          null.String

	Rows            null.Int
	Columns         null.Int
	SamplesPerPixel null.Int
	NumberOfFrames  null.Int

	// PixelRepresentation is 1 for two's complement samples
	PixelRepresentation null.Int
	BitsAllocated       null.Int
	BitsStored          null.Int

	// PixelSpacing is (row spacing, column spacing) as stored in the file
	PixelSpacing     []float64
	SliceThickness   null.Float
	ImagePosition    []float64
	ImageOrientation []float64
	SliceLocation    null.Float
	InstanceNumber   null.Int

	RescaleSlope     null.Float
	RescaleIntercept null.Float

	PatientWeight null.Float
	PatientSize   null.Float
	PatientSex    null.String

	Radiopharmaceutical Radiopharmaceutical
}

// SliceRecord represents one parsed DICOM file: identity keys, geometry and
// pixel values already converted to physical units (HU, SUVbw or raw).
// It is immutable once constructed.
type SliceRecord struct {
	// Path is the file the record was parsed from
	Path string

	// StudyKey groups records of one study (UID, patient name or generated id)
	StudyKey string

	// SeriesKey is the series UID joined with rows and columns
	SeriesKey string

	// Shape is the in-plane pixel shape
	Shape FrameShape

	// Origin is the patient-space position of pixel [0,0]
	Origin Vec3

	// Spacing is (column spacing, row spacing, slice thickness) in mm
	Spacing Vec3

	// Direction holds row, column and normal cosines
	Direction Direction

	// SliceLocation and InstanceNumber are the two candidate ordering keys
	SliceLocation  null.Float
	InstanceNumber null.Int

	Modality Modality

	// Channels is 1 for grayscale and 3 for RGB
	Channels int

	// Frames is the number of planes held in Pixels (multi-frame files)
	Frames int

	// Pixels holds Frames*Rows*Cols*Channels values in (frame, row, col, channel) order
	Pixels []float64

	// DegradedGeometry is set when a spacing component fell back to its default of 1
	DegradedGeometry bool

	PatientName       string
	StudyDescription  string
	SeriesDescription string

	// Meta is the metadata the record was derived from
	Meta SliceMetadata
}

// PlaneLen returns the number of values in one frame of the record.
func (s *SliceRecord) PlaneLen() int {
	return s.Shape.Rows * s.Shape.Cols * s.Channels
}
