// Package normalize maps physical intensities to 8-bit display values.
//
// Normalization never mutates its input: every call derives a new buffer, so
// any number of viewers may window the same volume concurrently.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"medvol/internal/models"
)

// MidGray is the output for a window of zero width
const MidGray = 128

// Window is an intensity range mapped onto [0, 255]. The zero value is an
// automatic window spanning the data's own minimum and maximum.
type Window struct {
	Min float64
	Max float64
	Set bool
}

// Auto returns a window that follows the data range.
func Auto() Window {
	return Window{}
}

// Range returns an explicit [min, max] window.
func Range(min, max float64) Window {
	return Window{Min: min, Max: max, Set: true}
}

// CenterWidth returns the window centred on center with the given width,
// the form DICOM and radiology presets use.
func CenterWidth(center, width float64) Window {
	return Range(center-width/2, center+width/2)
}

// Resolve returns the concrete bounds for data.
func (w Window) Resolve(data []float64) (float64, float64) {
	if w.Set {
		return w.Min, w.Max
	}
	return models.MinMax(data)
}

func (w Window) String() string {
	if !w.Set {
		return "auto"
	}
	return fmt.Sprintf("[%g, %g]", w.Min, w.Max)
}

// View is an 8-bit display buffer derived from a volume
type View struct {
	Pix      []uint8
	Size     models.Size
	Channels int
}

// Normalize maps data to 8-bit values under w:
//
//	clip(round((x - min) / (max - min) * 255), 0, 255)
//
// Three-channel (RGB) data is never windowed; values are only clipped and cast.
// A zero-width window yields MidGray everywhere and NaN maps to 0.
func Normalize(data []float64, channels int, w Window) []uint8 {
	out := make([]uint8, len(data))

	if channels == 3 {
		for i, x := range data {
			out[i] = toByte(x)
		}
		return out
	}

	min, max := w.Resolve(data)
	if max == min || math.IsNaN(max-min) {
		for i, x := range data {
			if math.IsNaN(x) {
				continue
			}
			out[i] = MidGray
		}
		return out
	}

	scale := 255 / (max - min)
	for i, x := range data {
		out[i] = toByte((x - min) * scale)
	}
	return out
}

// NormalizeVolume normalizes a whole volume.
func NormalizeVolume(v *models.Volume, w Window) View {
	return View{
		Pix:      Normalize(v.Data, v.Channels, w),
		Size:     v.Size,
		Channels: v.Channels,
	}
}

// Denormalize maps 8-bit values back into w. It inverts Normalize to within
// one quantization step for values inside the window.
func Denormalize(pix []uint8, w Window) []float64 {
	out := make([]float64, len(pix))
	step := (w.Max - w.Min) / 255
	for i, p := range pix {
		out[i] = w.Min + float64(p)*step
	}
	return out
}

// Percentile returns a window from the lo and hi quantiles (0..1) of the
// finite values in data, a robust alternative to the raw min/max.
func Percentile(data []float64, lo, hi float64) Window {
	sorted := make([]float64, 0, len(data))
	for _, d := range data {
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			sorted = append(sorted, d)
		}
	}
	if len(sorted) == 0 {
		return Range(0, 0)
	}
	sort.Float64s(sorted)

	lo = clamp01(lo)
	hi = clamp01(hi)
	if lo > hi {
		lo, hi = hi, lo
	}
	return Range(
		stat.Quantile(lo, stat.Empirical, sorted, nil),
		stat.Quantile(hi, stat.Empirical, sorted, nil),
	)
}

func toByte(x float64) uint8 {
	if math.IsNaN(x) {
		return 0
	}
	x = math.Round(x)
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
