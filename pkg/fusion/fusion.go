// Package fusion pairs a CT volume with a PET volume resampled onto the CT
// grid, and renders the two as a single overlay.
package fusion

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"

	"medvol/internal/models"
	"medvol/pkg/colormap"
	"medvol/pkg/normalize"
	"medvol/pkg/resample"
)

// DefaultAlpha is the CT weight of a blended overlay; PET gets the rest.
const DefaultAlpha = 0.3

// DefaultPETWindow displays SUV 0 to 2.5.
var DefaultPETWindow = normalize.Range(0, 2.5)

// Channel selects one half of a fused volume.
type Channel int

const (
	Primary Channel = iota
	Secondary
)

func (c Channel) String() string {
	if c == Secondary {
		return "secondary"
	}
	return "primary"
}

// FusedVolume holds a CT volume and a PET array sampled on the same voxel
// grid. Primary owns the geometry for both.
type FusedVolume struct {
	Primary           *models.Volume
	Secondary         []float64
	SecondaryChannels int
	SecondaryModality models.Modality
}

// Fuse resamples a PT secondary onto a CT primary's grid. Any other modality
// pair is rejected with *models.ModalityMismatchError.
func Fuse(primary, secondary *models.Volume, opts ...resample.Option) (*FusedVolume, error) {
	if primary.Modality != models.CT || secondary.Modality != models.PT {
		return nil, &models.ModalityMismatchError{Primary: primary.Modality, Secondary: secondary.Modality}
	}

	data, err := resample.Resample(secondary, primary, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "resample secondary onto primary grid")
	}

	return &FusedVolume{
		Primary:           primary,
		Secondary:         data,
		SecondaryChannels: secondary.Channels,
		SecondaryModality: secondary.Modality,
	}, nil
}

// Channel returns the data and channel count of one half.
func (f *FusedVolume) Channel(which Channel) ([]float64, int) {
	if which == Secondary {
		return f.Secondary, f.SecondaryChannels
	}
	return f.Primary.Data, f.Primary.Channels
}

// SecondaryVolume wraps the resampled array in a volume sharing the primary
// geometry, so it can be handed to anything that takes a *models.Volume.
func (f *FusedVolume) SecondaryVolume() *models.Volume {
	return &models.Volume{
		Data:        f.Secondary,
		Size:        f.Primary.Size,
		Origin:      f.Primary.Origin,
		Spacing:     f.Primary.Spacing,
		Direction:   f.Primary.Direction,
		Modality:    f.SecondaryModality,
		Channels:    f.SecondaryChannels,
		Description: f.Primary.Description,
	}
}

// Normalize windows each half independently.
func (f *FusedVolume) Normalize(ctWin, ptWin normalize.Window) (normalize.View, normalize.View) {
	ct := normalize.NormalizeVolume(f.Primary, ctWin)
	pt := normalize.View{
		Pix:      normalize.Normalize(f.Secondary, f.SecondaryChannels, ptWin),
		Size:     f.Primary.Size,
		Channels: f.SecondaryChannels,
	}
	return ct, pt
}

// Blend colours two single-channel planes of equal size and mixes them:
//
//	out = alpha*ctMap(ct) + (1-alpha)*ptMap(pt)
func Blend(ct, pt []uint8, width, height int, ctMap, ptMap *colormap.Colormap, alpha float64) (*image.RGBA, error) {
	n := width * height
	if len(ct) != n || len(pt) != n {
		return nil, errors.Errorf("blend: planes have %d and %d pixels, want %dx%d", len(ct), len(pt), width, height)
	}
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, errors.Errorf("blend: alpha %g outside [0, 1]", alpha)
	}
	if ctMap == nil {
		ctMap = &colormap.Gray
	}
	if ptMap == nil {
		ptMap = &colormap.Hot
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			a := ctMap.At(ct[i])
			b := ptMap.At(pt[i])
			img.SetRGBA(x, y, color.RGBA{
				R: mix(a.R, b.R, alpha),
				G: mix(a.G, b.G, alpha),
				B: mix(a.B, b.B, alpha),
				A: 255,
			})
		}
	}
	return img, nil
}

func mix(a, b uint8, alpha float64) uint8 {
	return uint8(math.Round(alpha*float64(a) + (1-alpha)*float64(b)))
}
