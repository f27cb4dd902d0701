// Package metrics scores how well two co-registered arrays agree. It is used
// to sanity-check a PET/CT fusion and to compare resampling strategies.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the histogram resolution used for entropy and mutual information
const DefaultBins = 64

// Alignment describes the statistical dependency between two modalities
// sampled on the same grid. Mutual information is high when the intensity
// of one predicts the intensity of the other, which holds for well-aligned
// PET/CT even though their values are unrelated in scale.
type Alignment struct {
	// MutualInformation is I(A;B) in bits
	MutualInformation float64

	// NormalizedMI is (H(A)+H(B))/H(A,B), between 1 and 2
	NormalizedMI float64

	// Correlation is Pearson's r
	Correlation float64

	EntropyA float64
	EntropyB float64
}

func (a Alignment) String() string {
	return fmt.Sprintf("MI=%.3f bits, NMI=%.3f, r=%.3f", a.MutualInformation, a.NormalizedMI, a.Correlation)
}

// Similarity compares two arrays of the same quantity, such as the same
// volume resampled two different ways.
type Similarity struct {
	// RMSE is the root mean square difference
	RMSE float64

	// SSIM is the global structural similarity index, from -1 to 1
	SSIM float64

	// EntropyDiff is |H(A) - H(B)| in bits
	EntropyDiff float64
}

func (s Similarity) String() string {
	return fmt.Sprintf("RMSE=%.4f, SSIM=%.3f, entropy diff=%.3f", s.RMSE, s.SSIM, s.EntropyDiff)
}

// Align computes the alignment metrics of a and b over positions where both
// are finite. bins <= 0 selects DefaultBins.
func Align(a, b []float64, bins int) (Alignment, error) {
	x, y, err := finitePairs(a, b)
	if err != nil {
		return Alignment{}, err
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	ha := histogram(x, bins)
	hb := histogram(y, bins)
	joint := jointHistogram(x, y, bins)

	al := Alignment{
		EntropyA: entropy(ha, len(x)),
		EntropyB: entropy(hb, len(y)),
	}
	hab := entropy(joint, len(x))
	al.MutualInformation = math.Max(0, al.EntropyA+al.EntropyB-hab)
	if hab > 0 {
		al.NormalizedMI = (al.EntropyA + al.EntropyB) / hab
	} else {
		al.NormalizedMI = 1
	}

	if stat.Variance(x, nil) > 0 && stat.Variance(y, nil) > 0 {
		al.Correlation = stat.Correlation(x, y, nil)
	}
	return al, nil
}

// Compare computes the similarity metrics of a and b over positions where
// both are finite.
func Compare(a, b []float64) (Similarity, error) {
	x, y, err := finitePairs(a, b)
	if err != nil {
		return Similarity{}, err
	}

	diff := make([]float64, len(x))
	floats.SubTo(diff, x, y)
	s := Similarity{
		RMSE:        floats.Norm(diff, 2) / math.Sqrt(float64(len(x))),
		SSIM:        ssim(x, y),
		EntropyDiff: math.Abs(Entropy(x, DefaultBins) - Entropy(y, DefaultBins)),
	}
	return s, nil
}

// Entropy returns the Shannon entropy of data in bits, from a histogram of
// the given number of bins over the data range.
func Entropy(data []float64, bins int) float64 {
	if len(data) == 0 {
		return 0
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	return entropy(histogram(data, bins), len(data))
}

func finitePairs(a, b []float64) ([]float64, []float64, error) {
	if len(a) != len(b) {
		return nil, nil, fmt.Errorf("arrays differ in length: %d and %d", len(a), len(b))
	}
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if isFinite(a[i]) && isFinite(b[i]) {
			x = append(x, a[i])
			y = append(y, b[i])
		}
	}
	if len(x) == 0 {
		return nil, nil, fmt.Errorf("no finite value pairs")
	}
	return x, y, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// bin maps v into [0, bins) over [min, max]; a constant array uses bin 0
func bin(v, min, width float64, bins int) int {
	if width <= 0 {
		return 0
	}
	i := int((v - min) / width)
	if i >= bins {
		i = bins - 1
	} else if i < 0 {
		i = 0
	}
	return i
}

func histogram(data []float64, bins int) []float64 {
	hist := make([]float64, bins)
	min, max := floats.Min(data), floats.Max(data)
	width := (max - min) / float64(bins)
	for _, v := range data {
		hist[bin(v, min, width, bins)]++
	}
	return hist
}

func jointHistogram(x, y []float64, bins int) []float64 {
	hist := make([]float64, bins*bins)
	minX, maxX := floats.Min(x), floats.Max(x)
	minY, maxY := floats.Min(y), floats.Max(y)
	wx := (maxX - minX) / float64(bins)
	wy := (maxY - minY) / float64(bins)
	for i := range x {
		hist[bin(x[i], minX, wx, bins)*bins+bin(y[i], minY, wy, bins)]++
	}
	return hist
}

func entropy(hist []float64, n int) float64 {
	h := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			h -= p * math.Log2(p)
		}
	}
	return h
}

// ssim is the single-window structural similarity with the dynamic range
// taken from the data
func ssim(x, y []float64) float64 {
	const (
		k1 = 0.01
		k2 = 0.03
	)
	l := math.Max(floats.Max(x), floats.Max(y)) - math.Min(floats.Min(x), floats.Min(y))
	if l == 0 {
		l = 1
	}
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	var sigmaX, sigmaY, sigmaXY float64
	if len(x) > 1 {
		sigmaX = stat.Variance(x, nil)
		sigmaY = stat.Variance(y, nil)
		sigmaXY = stat.Covariance(x, y, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
