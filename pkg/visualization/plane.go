package visualization

import (
	"medvol/internal/models"
)

// Plane is a 2D cut through a volume, row-major with interleaved channels.
// Index is the 1-based position along the fixed axis after clamping.
type Plane[T any] struct {
	Pix      []T
	Width    int
	Height   int
	Channels int
	Index    int
}

// At returns channel c of the pixel at column x, row y.
func (p Plane[T]) At(x, y, c int) T {
	return p.Pix[(y*p.Width+x)*p.Channels+c]
}

// Extent is the number of planes available in a view: the size of the axis
// the view fixes.
func Extent(size models.Size, view models.View) int {
	switch view {
	case models.Sagittal:
		return size.Width
	case models.Coronal:
		return size.Height
	}
	return size.Depth
}

// ClampIndex limits a 1-based plane index to [1, Extent].
func ClampIndex(size models.Size, view models.View, index int) int {
	n := Extent(size, view)
	if index > n {
		index = n
	}
	if index < 1 {
		index = 1
	}
	return index
}

// ExtractPlane cuts one plane out of data laid out like models.Volume.Data.
// The 1-based index is clamped, never rejected, so scrolling past either end
// keeps returning the edge plane.
//
// Sagittal fixes x and yields rows of z by columns of y, coronal fixes y and
// yields z by x, transverse fixes z and yields y by x.
func ExtractPlane[T any](data []T, size models.Size, channels int, view models.View, index int) Plane[T] {
	index = ClampIndex(size, view, index)
	fixed := index - 1
	w, h, d := size.Width, size.Height, size.Depth

	src := func(x, y, z int) int {
		return ((z*h+y)*w + x) * channels
	}

	var p Plane[T]
	p.Channels = channels
	p.Index = index

	switch view {
	case models.Sagittal:
		p.Width, p.Height = h, d
		p.Pix = make([]T, h*d*channels)
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				copy(p.Pix[(z*h+y)*channels:(z*h+y+1)*channels], data[src(fixed, y, z):])
			}
		}
	case models.Coronal:
		p.Width, p.Height = w, d
		p.Pix = make([]T, w*d*channels)
		row := w * channels
		for z := 0; z < d; z++ {
			start := src(0, fixed, z)
			copy(p.Pix[z*row:(z+1)*row], data[start:start+row])
		}
	default:
		p.Width, p.Height = w, h
		n := w * h * channels
		start := src(0, 0, fixed)
		p.Pix = make([]T, n)
		copy(p.Pix, data[start:start+n])
	}

	return p
}

// AspectRatio is the physical height of one displayed pixel divided by its
// physical width. Rendering a plane with this ratio keeps anisotropic voxels
// undistorted.
func AspectRatio(view models.View, spacing models.Vec3) float64 {
	var rows, cols float64
	switch view {
	case models.Sagittal:
		rows, cols = spacing[2], spacing[1]
	case models.Coronal:
		rows, cols = spacing[2], spacing[0]
	default:
		rows, cols = spacing[1], spacing[0]
	}
	if cols == 0 {
		return 1
	}
	return rows / cols
}

// FlipVertical returns a copy of p with its rows in reverse order.
func (p Plane[T]) FlipVertical() Plane[T] {
	out := p
	out.Pix = make([]T, len(p.Pix))
	row := p.Width * p.Channels
	for y := 0; y < p.Height; y++ {
		copy(out.Pix[y*row:(y+1)*row], p.Pix[(p.Height-1-y)*row:(p.Height-y)*row])
	}
	return out
}

// FlipHorizontal returns a copy of p with each row mirrored.
func (p Plane[T]) FlipHorizontal() Plane[T] {
	out := p
	out.Pix = make([]T, len(p.Pix))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			dst := (y*p.Width + x) * p.Channels
			src := (y*p.Width + p.Width - 1 - x) * p.Channels
			copy(out.Pix[dst:dst+p.Channels], p.Pix[src:src+p.Channels])
		}
	}
	return out
}
