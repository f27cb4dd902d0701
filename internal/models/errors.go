package models

import (
	"fmt"
	"strings"
)

// ParseError reports a file that is missing required data or could not be
// decoded.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors is the batch of per-file failures collected while loading a
// directory. One bad file never aborts the others.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	lines := make([]string, 0, len(e))
	for _, pe := range e {
		lines = append(lines, pe.Error())
	}
	return fmt.Sprintf("%d files failed to parse:\n  %s", len(e), strings.Join(lines, "\n  "))
}

// TimeFormatError reports a DICOM date/time that matches no accepted layout.
type TimeFormatError struct {
	Value string
}

func (e *TimeFormatError) Error() string {
	return fmt.Sprintf("unrecognized timestamp %q", e.Value)
}

// QuantificationError reports decay parameters that cannot produce a valid SUV.
type QuantificationError struct {
	Reason string
}

func (e *QuantificationError) Error() string {
	return "suv quantification: " + e.Reason
}

// OrderingError reports a multi-slice series with neither slice locations
// nor instance numbers.
type OrderingError struct {
	StudyKey  string
	SeriesKey string
	Count     int
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("series %s/%s: none of %d slices has a slice location or instance number", e.StudyKey, e.SeriesKey, e.Count)
}

// GeometryMismatchError reports degenerate volume geometry.
type GeometryMismatchError struct {
	Reason string
}

func (e *GeometryMismatchError) Error() string {
	return "geometry: " + e.Reason
}

// ModalityMismatchError reports a fusion request on anything but a CT/PT pair.
type ModalityMismatchError struct {
	Primary   Modality
	Secondary Modality
}

func (e *ModalityMismatchError) Error() string {
	return fmt.Sprintf("fusion needs a CT primary and a PT secondary, got %s and %s", e.Primary, e.Secondary)
}
