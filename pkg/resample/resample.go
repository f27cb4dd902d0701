// Package resample projects one volume onto another volume's voxel grid.
package resample

import (
	"fmt"
	"math"
	"sync"

	"github.com/apex/log"

	"medvol/internal/models"
	"medvol/pkg/interpolation"
)

// ProgressCallback reports completed output slices
type ProgressCallback func(completed, total int, message string)

// Option configures Resample.
type Option func(*options)

type options struct {
	sampler  interpolation.Sampler
	workers  int
	logger   log.Interface
	progress ProgressCallback
}

// WithSampler sets the interpolation (default trilinear).
func WithSampler(s interpolation.Sampler) Option {
	return func(o *options) {
		if s != nil {
			o.sampler = s
		}
	}
}

// WithWorkers splits the output depth axis into n disjoint bands computed
// concurrently. The default is a single synchronous pass.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProgress registers a callback invoked after each output slice.
func WithProgress(cb ProgressCallback) Option {
	return func(o *options) {
		o.progress = cb
	}
}

// Resample samples secondary at the physical position of every voxel centre
// of primary. The result has primary's width, height and depth with
// secondary's channel count, laid out like models.Volume.Data.
//
// Points outside secondary take secondary's minimum value. Degenerate
// secondary spacing is the only geometry that fails; a singular direction
// matrix is replaced by identity axes and logged.
func Resample(secondary, primary *models.Volume, opts ...Option) ([]float64, error) {
	o := &options{sampler: interpolation.Trilinear{}, workers: 1, logger: log.Log}
	for _, opt := range opts {
		opt(o)
	}

	for i, s := range secondary.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, &models.GeometryMismatchError{Reason: fmt.Sprintf("secondary spacing[%d] = %g", i, s)}
		}
	}
	if err := secondary.Validate(); err != nil {
		return nil, err
	}

	pa := NewAffine(primary)
	sa := NewAffine(secondary)
	if pa.Singular {
		o.logger.Warn("primary direction matrix is singular, using identity axes")
	}
	if sa.Singular {
		o.logger.Warn("secondary direction matrix is singular, using identity axes")
	}
	im := newIndexMap(pa, sa)

	channels := secondary.Channels
	background := channelMinimum(secondary)

	size := primary.Size
	plane := size.Width * size.Height * channels
	out := make([]float64, size.Voxels()*channels)

	var (
		mu        sync.Mutex
		completed int
	)
	report := func() {
		if o.progress == nil {
			return
		}
		mu.Lock()
		completed++
		o.progress(completed, size.Depth, "")
		mu.Unlock()
	}

	resampleSlice := func(z int) {
		base := z * plane
		for y := 0; y < size.Height; y++ {
			for x := 0; x < size.Width; x++ {
				sx, sy, sz := im.apply(float64(x), float64(y), float64(z))
				idx := base + (y*size.Width+x)*channels
				for c := 0; c < channels; c++ {
					v, ok := o.sampler.Sample(secondary, sx, sy, sz, c)
					if !ok {
						v = background[c]
					}
					out[idx+c] = v
				}
			}
		}
		report()
	}

	numWorkers := o.workers
	if numWorkers > size.Depth {
		numWorkers = size.Depth
	}
	if numWorkers <= 1 {
		for z := 0; z < size.Depth; z++ {
			resampleSlice(z)
		}
		return out, nil
	}

	// Each worker owns a contiguous band of output slices
	slicesPerWorker := (size.Depth + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * slicesPerWorker
		end := start + slicesPerWorker
		if end > size.Depth {
			end = size.Depth
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for z := start; z < end; z++ {
				resampleSlice(z)
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}

// ToVolume resamples secondary and wraps the result in a volume that shares
// primary's geometry.
func ToVolume(secondary, primary *models.Volume, opts ...Option) (*models.Volume, error) {
	data, err := Resample(secondary, primary, opts...)
	if err != nil {
		return nil, err
	}
	return &models.Volume{
		Data:        data,
		Size:        primary.Size,
		Origin:      primary.Origin,
		Spacing:     primary.Spacing,
		Direction:   primary.Direction,
		Modality:    secondary.Modality,
		Channels:    secondary.Channels,
		Files:       secondary.Files,
		Description: secondary.Description,
	}, nil
}

func channelMinimum(v *models.Volume) []float64 {
	mins := make([]float64, v.Channels)
	for c := range mins {
		mins[c] = math.Inf(1)
	}
	for i, d := range v.Data {
		c := i % v.Channels
		if d < mins[c] {
			mins[c] = d
		}
	}
	for c := range mins {
		if math.IsInf(mins[c], 1) {
			mins[c] = 0
		}
	}
	return mins
}
