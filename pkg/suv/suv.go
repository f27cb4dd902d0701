// Package suv converts raw PET activity concentrations into Standardized
// Uptake Values.
//
// The body-weight variant (SUVbw) follows the QIBA definition:
//
//	decayedDose = dose * 2^(-decaySeconds/halfLife)
//	SUVbw       = pixel * weightKg * 1000 / decayedDose
//
// Body-surface-area and lean-body-mass variants are available for reporting.
package suv

import (
	"fmt"
	"math"
	"strings"
	"time"

	"medvol/internal/models"
)

// Accepted DICOM datetime layouts, tried in order
var layouts = []string{
	"20060102150405",
	"20060102150405.999999",
}

// ParseDateTime parses a DICOM date+time string (YYYYMMDDHHMMSS with optional
// fractional seconds). Any other form yields a *models.TimeFormatError.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &models.TimeFormatError{Value: s}
}

// DecaySeconds returns seriesTime - injectionTime in seconds. The result may
// be negative when the series reference precedes the injection.
func DecaySeconds(seriesTime, injectionTime string) (float64, error) {
	st, err := ParseDateTime(seriesTime)
	if err != nil {
		return 0, err
	}
	it, err := ParseDateTime(injectionTime)
	if err != nil {
		return 0, err
	}
	return st.Sub(it).Seconds(), nil
}

// Params holds the per-slice decay correction inputs.
type Params struct {
	// WeightKg is the patient weight in kilograms
	WeightKg float64

	// DoseAtInjection is the injected activity in Bq
	DoseAtInjection float64

	// HalfLifeSeconds is the radionuclide half life
	HalfLifeSeconds float64

	// DecaySeconds is the time elapsed from injection to series start
	DecaySeconds float64
}

// DecayedDose returns the activity remaining at series start.
func (p Params) DecayedDose() (float64, error) {
	if !(p.HalfLifeSeconds > 0) {
		return 0, &models.QuantificationError{Reason: fmt.Sprintf("half life must be positive, got %g", p.HalfLifeSeconds)}
	}
	d := p.DoseAtInjection * math.Pow(2, -p.DecaySeconds/p.HalfLifeSeconds)
	if !(d > 0) || math.IsInf(d, 0) {
		return 0, &models.QuantificationError{Reason: fmt.Sprintf("decayed dose must be positive, got %g", d)}
	}
	return d, nil
}

// ScaleFactor returns the multiplier that turns a rescaled pixel into SUVbw.
func ScaleFactor(p Params) (float64, error) {
	if !(p.WeightKg > 0) {
		return 0, &models.QuantificationError{Reason: fmt.Sprintf("patient weight must be positive, got %g", p.WeightKg)}
	}
	d, err := p.DecayedDose()
	if err != nil {
		return 0, err
	}
	return p.WeightKg * 1000 / d, nil
}

// Correct returns a new slice holding pixels converted to SUVbw.
func Correct(pixels []float64, p Params) ([]float64, error) {
	f, err := ScaleFactor(p)
	if err != nil {
		return nil, err
	}
	return scale(pixels, f), nil
}

// CorrectFromTimes converts pixels to SUVbw from raw DICOM timestamps.
func CorrectFromTimes(pixels []float64, weightKg, doseAtInjection, halfLifeSeconds float64, injectionTime, seriesTime string) ([]float64, error) {
	decay, err := DecaySeconds(seriesTime, injectionTime)
	if err != nil {
		return nil, err
	}
	return Correct(pixels, Params{
		WeightKg:        weightKg,
		DoseAtInjection: doseAtInjection,
		HalfLifeSeconds: halfLifeSeconds,
		DecaySeconds:    decay,
	})
}

// BodySurfaceArea returns the Du Bois body surface area in m².
func BodySurfaceArea(weightKg, heightM float64) float64 {
	return 0.007184 * math.Pow(weightKg, 0.425) * math.Pow(heightM*100, 0.725)
}

// LeanBodyMass returns the James lean body mass in kg. sex is the DICOM
// PatientSex value; anything but "M" uses the female coefficients.
func LeanBodyMass(weightKg, heightM float64, sex string) float64 {
	r := weightKg / (heightM * 100)
	if strings.EqualFold(strings.TrimSpace(sex), "M") {
		return 1.10*weightKg - 120*r*r
	}
	return 1.07*weightKg - 148*r*r
}

// ScaleFactorBSA returns the SUVbsa multiplier (cm²/ml) for a body surface
// area in m².
func ScaleFactorBSA(p Params, bsaM2 float64) (float64, error) {
	if !(bsaM2 > 0) {
		return 0, &models.QuantificationError{Reason: fmt.Sprintf("body surface area must be positive, got %g", bsaM2)}
	}
	d, err := p.DecayedDose()
	if err != nil {
		return 0, err
	}
	return bsaM2 * 10000 / d, nil
}

// ScaleFactorLBM returns the SUVlbm multiplier (g/ml) for a lean body mass
// in kg.
func ScaleFactorLBM(p Params, lbmKg float64) (float64, error) {
	if !(lbmKg > 0) {
		return 0, &models.QuantificationError{Reason: fmt.Sprintf("lean body mass must be positive, got %g", lbmKg)}
	}
	d, err := p.DecayedDose()
	if err != nil {
		return 0, err
	}
	return lbmKg * 1000 / d, nil
}

func scale(pixels []float64, f float64) []float64 {
	out := make([]float64, len(pixels))
	for i, p := range pixels {
		out[i] = p * f
	}
	return out
}
