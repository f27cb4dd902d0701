// Package colormap provides 256-entry lookup tables for rendering 8-bit planes.
package colormap

import (
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"strings"

	"github.com/pkg/errors"
)

// Colormap maps an 8-bit intensity to a colour.
type Colormap [256]color.RGBA

// At returns the colour for intensity v.
func (m *Colormap) At(v uint8) color.RGBA {
	return m[v]
}

var (
	// Gray is the identity ramp
	Gray = build(func(t float64) (float64, float64, float64) { return t, t, t })

	// Hot runs black, red, yellow, white
	Hot = build(hot)
)

// ByName resolves a colormap from its configuration name.
func ByName(name string) (*Colormap, error) {
	switch strings.ToLower(name) {
	case "", "gray", "grey":
		return &Gray, nil
	case "hot":
		return &Hot, nil
	}
	return nil, errors.Errorf("unknown colormap %q", name)
}

func build(f func(t float64) (float64, float64, float64)) Colormap {
	var m Colormap
	for i := range m {
		r, g, b := f(float64(i) / 255)
		m[i] = color.RGBA{R: unit(r), G: unit(g), B: unit(b), A: 255}
	}
	return m
}

// Piecewise-linear segments of the classic "hot" map
func hot(t float64) (float64, float64, float64) {
	const (
		redEnd   = 0.365079
		greenEnd = 0.746032
		redStart = 0.0416
	)
	r := 1.0
	if t < redEnd {
		r = redStart + (1-redStart)*t/redEnd
	}
	g := 0.0
	if t >= greenEnd {
		g = 1
	} else if t > redEnd {
		g = (t - redEnd) / (greenEnd - redEnd)
	}
	b := 0.0
	if t > greenEnd {
		b = (t - greenEnd) / (1 - greenEnd)
	}
	return r, g, b
}

// LabelColors returns n visually distinct colours with hues evenly spaced
// around the wheel and lightness/saturation jittered by a generator seeded
// from seed. The same (n, seed) always yields the same palette.
func LabelColors(n int, seed uint64) []color.RGBA {
	if n <= 0 {
		return nil
	}
	rng := randv2.New(randv2.NewPCG(seed, seed))

	colors := make([]color.RGBA, n)
	for i := range colors {
		hue := float64(i) / float64(n)
		lightness := (50 + rng.Float64()*10) / 100
		saturation := (90 + rng.Float64()*10) / 100
		r, g, b := hlsToRGB(hue, lightness, saturation)
		colors[i] = color.RGBA{R: unit(r), G: unit(g), B: unit(b), A: 255}
	}
	return colors
}

func hlsToRGB(h, l, s float64) (float64, float64, float64) {
	if s == 0 {
		return l, l, l
	}
	var m2 float64
	if l <= 0.5 {
		m2 = l * (1 + s)
	} else {
		m2 = l + s - l*s
	}
	m1 := 2*l - m2
	return hueChannel(m1, m2, h+1.0/3), hueChannel(m1, m2, h), hueChannel(m1, m2, h-1.0/3)
}

func hueChannel(m1, m2, h float64) float64 {
	h = h - math.Floor(h)
	switch {
	case h < 1.0/6:
		return m1 + (m2-m1)*h*6
	case h < 0.5:
		return m2
	case h < 2.0/3:
		return m1 + (m2-m1)*(2.0/3-h)*6
	}
	return m1
}

func unit(x float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, x)) * 255))
}
