package resample

import (
	"gonum.org/v1/gonum/mat"

	"medvol/internal/models"
)

// Affine maps continuous voxel indices to patient-space millimetres:
//
//	P = origin + D * diag(spacing) * index
//
// where the columns of D are the volume's axis cosines.
type Affine struct {
	origin  models.Vec3
	forward *mat.Dense
	inverse *mat.Dense

	// Singular is set when the direction matrix could not be inverted and
	// identity axes were substituted
	Singular bool
}

// NewAffine builds the index<->physical transform of v.
func NewAffine(v *models.Volume) *Affine {
	a := &Affine{origin: v.Origin}

	a.forward = linearPart(v.Direction, v.Spacing)
	a.inverse = mat.NewDense(3, 3, nil)
	if err := a.inverse.Inverse(a.forward); err != nil {
		a.Singular = true
		a.forward = linearPart(models.IdentityDirection, v.Spacing)
		if err := a.inverse.Inverse(a.forward); err != nil {
			// Spacing itself is degenerate; callers reject this case earlier
			a.inverse = mat.NewDense(3, 3, nil)
		}
	}
	return a
}

func linearPart(d models.Direction, spacing models.Vec3) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, d[3*c+r]*spacing[c])
		}
	}
	return m
}

// IndexToPhysical maps a (fractional) voxel index to patient space.
func (a *Affine) IndexToPhysical(idx models.Vec3) models.Vec3 {
	var out models.Vec3
	for r := 0; r < 3; r++ {
		out[r] = a.origin[r]
		for c := 0; c < 3; c++ {
			out[r] += a.forward.At(r, c) * idx[c]
		}
	}
	return out
}

// PhysicalToIndex maps a patient-space point to a fractional voxel index.
func (a *Affine) PhysicalToIndex(p models.Vec3) models.Vec3 {
	d := models.Vec3{p[0] - a.origin[0], p[1] - a.origin[1], p[2] - a.origin[2]}
	var out models.Vec3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r] += a.inverse.At(r, c) * d[c]
		}
	}
	return out
}

// indexMap composes primary index -> physical -> secondary index into a single
// linear map plus offset.
type indexMap struct {
	m      [3][3]float64
	offset models.Vec3
}

func newIndexMap(primary, secondary *Affine) indexMap {
	var prod mat.Dense
	prod.Mul(secondary.inverse, primary.forward)

	var im indexMap
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			im.m[r][c] = prod.At(r, c)
		}
	}
	im.offset = secondary.PhysicalToIndex(primary.origin)
	return im
}

func (im *indexMap) apply(x, y, z float64) (float64, float64, float64) {
	return im.m[0][0]*x + im.m[0][1]*y + im.m[0][2]*z + im.offset[0],
		im.m[1][0]*x + im.m[1][1]*y + im.m[1][2]*z + im.offset[1],
		im.m[2][0]*x + im.m[2][1]*y + im.m[2][2]*z + im.offset[2]
}
