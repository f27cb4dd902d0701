package models

import (
	"fmt"
	"math"
	"strings"
)

// Vec3 is an (x, y, z) triple in patient space, millimetres
type Vec3 [3]float64

// Direction holds the row cosines (x axis), the column cosines (y axis) and
// the slice normal (z axis), three values each.
type Direction [9]float64

// IdentityDirection is the direction of an axis-aligned volume
var IdentityDirection = Direction{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Axis returns the direction cosines of axis i (0=x, 1=y, 2=z).
func (d Direction) Axis(i int) Vec3 {
	return Vec3{d[3*i], d[3*i+1], d[3*i+2]}
}

// DirectionFromAxes builds a direction from the row and column cosines. The
// normal is always their cross product.
func DirectionFromAxes(row, col Vec3) Direction {
	n := Cross(row, col)
	return Direction{row[0], row[1], row[2], col[0], col[1], col[2], n[0], n[1], n[2]}
}

// Normalized returns the direction with each axis scaled to unit length.
// Zero-length axes are replaced by the matching identity axis.
func (d Direction) Normalized() Direction {
	var out Direction
	for i := 0; i < 3; i++ {
		a := d.Axis(i)
		n := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
		for j := 0; j < 3; j++ {
			if n == 0 || math.IsNaN(n) {
				out[3*i+j] = IdentityDirection[3*i+j]
				continue
			}
			out[3*i+j] = a[j] / n
		}
	}
	return out
}

// Cross returns a × b.
func Cross(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Size is the extent of a volume in voxels
type Size struct {
	Width  int
	Height int
	Depth  int
}

// Voxels returns Width*Height*Depth.
func (s Size) Voxels() int {
	return s.Width * s.Height * s.Depth
}

func (s Size) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Width, s.Height, s.Depth)
}

// Modality is the DICOM modality tag of an image
type Modality string

const (
	CT Modality = "CT"
	PT Modality = "PT"
	NM Modality = "NM"
	MR Modality = "MR"
	OT Modality = "OT"
)

// ParseModality normalizes a modality tag. Empty values map to OT; unknown
// values are kept verbatim.
func ParseModality(s string) Modality {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return OT
	}
	return Modality(s)
}

// View is one of the three orthogonal planes
type View string

const (
	Sagittal   View = "s"
	Coronal    View = "c"
	Transverse View = "t"
)

// Views lists the planes in display order
var Views = []View{Sagittal, Coronal, Transverse}

// ParseView accepts the one-letter codes and the full plane names.
func ParseView(s string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "sagittal", "x":
		return Sagittal, nil
	case "c", "coronal", "y":
		return Coronal, nil
	case "t", "transverse", "axial", "z":
		return Transverse, nil
	}
	return "", fmt.Errorf("invalid view: %q (must be s, c or t)", s)
}

func (v View) String() string {
	switch v {
	case Sagittal:
		return "sagittal"
	case Coronal:
		return "coronal"
	case Transverse:
		return "transverse"
	}
	return string(v)
}

// Volume represents an assembled 3D image
type Volume struct {
	// Data holds the voxels in (depth, height, width[, channel]) row-major order
	Data []float64

	// Size is the extent in voxels
	Size Size

	// Origin is the patient-space position of voxel [0,0,0]
	Origin Vec3

	// Spacing is the physical size of one voxel along x, y and z
	Spacing Vec3

	// Direction holds the axis cosines
	Direction Direction

	Modality Modality

	// Channels is 1 (grayscale) or 3 (RGB)
	Channels int

	// Files lists the source files in stacking order
	Files []string

	Description string
}

// Validate checks the volume invariants.
func (v *Volume) Validate() error {
	if v.Channels != 1 && v.Channels != 3 {
		return &GeometryMismatchError{Reason: fmt.Sprintf("unsupported channel count %d", v.Channels)}
	}
	if v.Size.Width <= 0 || v.Size.Height <= 0 || v.Size.Depth <= 0 {
		return &GeometryMismatchError{Reason: fmt.Sprintf("empty size %s", v.Size)}
	}
	for i, s := range v.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return &GeometryMismatchError{Reason: fmt.Sprintf("spacing[%d] = %g is not strictly positive", i, s)}
		}
	}
	if want := v.Size.Voxels() * v.Channels; len(v.Data) != want {
		return &GeometryMismatchError{Reason: fmt.Sprintf("data has %d values, size %s x %d channels needs %d", len(v.Data), v.Size, v.Channels, want)}
	}
	return nil
}

// Shape returns (depth, height, width, channels).
func (v *Volume) Shape() [4]int {
	return [4]int{v.Size.Depth, v.Size.Height, v.Size.Width, v.Channels}
}

// Index returns the position of voxel (x, y, z) channel c in Data.
func (v *Volume) Index(x, y, z, c int) int {
	return ((z*v.Size.Height+y)*v.Size.Width+x)*v.Channels + c
}

// At returns the value of voxel (x, y, z) channel c.
func (v *Volume) At(x, y, z, c int) float64 {
	return v.Data[v.Index(x, y, z, c)]
}

// MinMax returns the smallest and largest values in Data.
func (v *Volume) MinMax() (min, max float64) {
	return MinMax(v.Data)
}

// Physical returns the patient-space coordinate of a (possibly fractional)
// voxel index.
func (v *Volume) Physical(x, y, z float64) Vec3 {
	idx := [3]float64{x * v.Spacing[0], y * v.Spacing[1], z * v.Spacing[2]}
	var p Vec3
	for r := 0; r < 3; r++ {
		p[r] = v.Origin[r]
		for a := 0; a < 3; a++ {
			p[r] += v.Direction[3*a+r] * idx[a]
		}
	}
	return p
}

// MinMax returns the smallest and largest values of data, ignoring NaN.
// Both are zero for empty input.
func MinMax(data []float64) (min, max float64) {
	first := true
	for _, d := range data {
		if math.IsNaN(d) {
			continue
		}
		if first {
			min, max = d, d
			first = false
			continue
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}
