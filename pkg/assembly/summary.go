package assembly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"medvol/internal/models"
)

// Summary holds the intensity statistics printed when listing a series.
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64

	// Voxels is the number of finite values the statistics were computed over
	Voxels int
}

func (s Summary) String() string {
	return fmt.Sprintf("min=%.2f max=%.2f mean=%.2f sd=%.2f", s.Min, s.Max, s.Mean, s.StdDev)
}

// Summarize computes intensity statistics over the finite voxels of v.
func Summarize(v *models.Volume) Summary {
	data := make([]float64, 0, len(v.Data))
	for _, d := range v.Data {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		data = append(data, d)
	}
	if len(data) == 0 {
		return Summary{}
	}

	mean, std := stat.MeanStdDev(data, nil)
	if len(data) == 1 {
		std = 0
	}
	return Summary{
		Min:    floats.Min(data),
		Max:    floats.Max(data),
		Mean:   mean,
		StdDev: std,
		Voxels: len(data),
	}
}
