// Package visualization extracts orthogonal planes from volumes and renders
// them as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"medvol/internal/models"
	"medvol/pkg/colormap"
	"medvol/pkg/normalize"
)

// DefaultCacheSize is the number of normalized planes a Viewer keeps
const DefaultCacheSize = 256

type planeKey struct {
	view   models.View
	index  int
	window normalize.Window
}

// Viewer renders windowed planes of one volume. The volume is never
// modified; each plane is normalized on demand and cached.
type Viewer struct {
	volume    *models.Volume
	cmap      *colormap.Colormap
	flipDepth bool
	logger    log.Interface

	mu     sync.RWMutex
	window normalize.Window

	cache *lru.Cache[planeKey, Plane[uint8]]
}

// Option configures a Viewer.
type Option func(*viewerOptions)

type viewerOptions struct {
	window    normalize.Window
	cmap      *colormap.Colormap
	cacheSize int
	flipDepth bool
	logger    log.Interface
}

// WithWindow sets the initial display window (default: the volume range).
func WithWindow(w normalize.Window) Option {
	return func(o *viewerOptions) {
		o.window = w
	}
}

// WithColormap renders single-channel planes through m instead of as gray.
func WithColormap(m *colormap.Colormap) Option {
	return func(o *viewerOptions) {
		o.cmap = m
	}
}

// WithCacheSize sets the number of cached planes.
func WithCacheSize(n int) Option {
	return func(o *viewerOptions) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithDepthFlip draws sagittal and coronal planes with the last slice on
// the top row.
func WithDepthFlip(flip bool) Option {
	return func(o *viewerOptions) {
		o.flipDepth = flip
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(o *viewerOptions) {
		o.logger = l
	}
}

// NewViewer creates a viewer for v.
func NewViewer(v *models.Volume, opts ...Option) (*Viewer, error) {
	o := &viewerOptions{cacheSize: DefaultCacheSize, logger: log.Log}
	for _, opt := range opts {
		opt(o)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	cache, err := lru.New[planeKey, Plane[uint8]](o.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create plane cache")
	}

	vw := &Viewer{
		volume:    v,
		cmap:      o.cmap,
		flipDepth: o.flipDepth,
		logger:    o.logger,
		cache:     cache,
	}
	vw.SetWindow(o.window)
	return vw, nil
}

// Volume returns the displayed volume.
func (vw *Viewer) Volume() *models.Volume {
	return vw.volume
}

// Window returns the current display window, resolved to concrete bounds.
func (vw *Viewer) Window() normalize.Window {
	vw.mu.RLock()
	defer vw.mu.RUnlock()
	return vw.window
}

// SetWindow changes the display window. An automatic window is resolved
// against the whole volume so every plane shares the same scale.
func (vw *Viewer) SetWindow(w normalize.Window) {
	if !w.Set {
		w = normalize.Range(w.Resolve(vw.volume.Data))
	}
	vw.mu.Lock()
	vw.window = w
	vw.mu.Unlock()
}

// Extent returns the number of planes in view.
func (vw *Viewer) Extent(view models.View) int {
	return Extent(vw.volume.Size, view)
}

// AspectRatio returns the display aspect ratio of view.
func (vw *Viewer) AspectRatio(view models.View) float64 {
	return AspectRatio(view, vw.volume.Spacing)
}

// Plane returns the normalized plane at the 1-based index of view.
func (vw *Viewer) Plane(view models.View, index int) Plane[uint8] {
	index = ClampIndex(vw.volume.Size, view, index)
	key := planeKey{view: view, index: index, window: vw.Window()}

	if p, ok := vw.cache.Get(key); ok {
		return p
	}

	raw := ExtractPlane(vw.volume.Data, vw.volume.Size, vw.volume.Channels, view, index)
	p := Plane[uint8]{
		Pix:      normalize.Normalize(raw.Pix, raw.Channels, key.window),
		Width:    raw.Width,
		Height:   raw.Height,
		Channels: raw.Channels,
		Index:    raw.Index,
	}
	if vw.flipDepth && view != models.Transverse {
		p = p.FlipVertical()
	}

	vw.cache.Add(key, p)
	return p
}

// Image renders the plane at index of view, stretched so that one screen
// pixel covers the same physical distance in both directions.
func (vw *Viewer) Image(view models.View, index int) image.Image {
	img := vw.render(vw.Plane(view, index))

	aspect := vw.AspectRatio(view)
	if aspect == 1 || aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if aspect > 1 {
		h = int(math.Round(float64(h) * aspect))
	} else {
		w = int(math.Round(float64(w) / aspect))
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

func (vw *Viewer) render(p Plane[uint8]) image.Image {
	rect := image.Rect(0, 0, p.Width, p.Height)

	if p.Channels == 3 {
		img := image.NewRGBA(rect)
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				img.SetRGBA(x, y, color.RGBA{R: p.At(x, y, 0), G: p.At(x, y, 1), B: p.At(x, y, 2), A: 255})
			}
		}
		return img
	}

	if vw.cmap != nil {
		img := image.NewRGBA(rect)
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				img.SetRGBA(x, y, vw.cmap.At(p.At(x, y, 0)))
			}
		}
		return img
	}

	img := image.NewGray(rect)
	for y := 0; y < p.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+p.Width], p.Pix[y*p.Width:(y+1)*p.Width])
	}
	return img
}

// SaveSlice writes the rendered plane at index of view as an image file. The
// format follows the file extension.
func (vw *Viewer) SaveSlice(view models.View, index int, filename string) error {
	if err := imaging.Save(vw.Image(view, index), filename); err != nil {
		return errors.Wrapf(err, "save %s", filename)
	}
	return nil
}

// SaveSliceSequence writes every plane of view to outputDir as PNG files
// named slice_<view>_<index>.png.
func (vw *Viewer) SaveSliceSequence(view models.View, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	n := vw.Extent(view)
	for pos := 1; pos <= n; pos++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", string(view), pos))
		if err := vw.SaveSlice(view, pos, filename); err != nil {
			return err
		}
	}

	vw.logger.WithFields(log.Fields{
		"view":   view.String(),
		"slices": n,
		"dir":    outputDir,
	}).Info("saved slice sequence")
	return nil
}
