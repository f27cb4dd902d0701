// Package interpolation samples a volume at fractional voxel coordinates.
package interpolation

import (
	"fmt"
	"math"
	"strings"

	"medvol/internal/models"
)

// Sampler reads channel c of v at the continuous index (x, y, z). ok is false
// when the point lies outside the volume.
type Sampler interface {
	Sample(v *models.Volume, x, y, z float64, c int) (value float64, ok bool)
}

// Nearest picks the closest voxel.
type Nearest struct{}

// Sample implements Sampler.
func (Nearest) Sample(v *models.Volume, x, y, z float64, c int) (float64, bool) {
	ix, okx := nearestIndex(x, v.Size.Width)
	iy, oky := nearestIndex(y, v.Size.Height)
	iz, okz := nearestIndex(z, v.Size.Depth)
	if !okx || !oky || !okz {
		return 0, false
	}
	return v.At(ix, iy, iz, c), true
}

// Trilinear blends the eight surrounding voxels.
type Trilinear struct{}

// Sample implements Sampler.
func (Trilinear) Sample(v *models.Volume, x, y, z float64, c int) (float64, bool) {
	x0, x1, fx, okx := bracket(x, v.Size.Width)
	y0, y1, fy, oky := bracket(y, v.Size.Height)
	z0, z1, fz, okz := bracket(z, v.Size.Depth)
	if !okx || !oky || !okz {
		return 0, false
	}

	c000 := v.At(x0, y0, z0, c)
	c100 := v.At(x1, y0, z0, c)
	c010 := v.At(x0, y1, z0, c)
	c110 := v.At(x1, y1, z0, c)
	c001 := v.At(x0, y0, z1, c)
	c101 := v.At(x1, y0, z1, c)
	c011 := v.At(x0, y1, z1, c)
	c111 := v.At(x1, y1, z1, c)

	// Interpolate along x, then y, then z
	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz, true
}

// ByName returns the sampler for "linear"/"trilinear" or "nearest".
func ByName(name string) (Sampler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear", "trilinear", "":
		return Trilinear{}, nil
	case "nearest":
		return Nearest{}, nil
	}
	return nil, fmt.Errorf("unknown interpolation %q (must be linear or nearest)", name)
}

// inside reports whether x lies in the half-open band [-0.5, n-0.5) covered
// by n voxel centres.
func inside(x float64, n int) bool {
	return !math.IsNaN(x) && x >= -0.5 && x < float64(n)-0.5
}

func nearestIndex(x float64, n int) (int, bool) {
	if !inside(x, n) {
		return 0, false
	}
	i := int(math.Round(x))
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	return i, true
}

// bracket returns the neighbouring indices of x and the weight of the upper
// one. Within half a voxel of the outer centres both neighbours clamp to the
// edge voxel.
func bracket(x float64, n int) (int, int, float64, bool) {
	if !inside(x, n) {
		return 0, 0, 0, false
	}
	if x <= 0 || n == 1 {
		return 0, 0, 0, true
	}
	if x >= float64(n-1) {
		return n - 1, n - 1, 0, true
	}
	i0 := int(math.Floor(x))
	return i0, i0 + 1, x - float64(i0), true
}
