// Package inference runs detection models against volumes off the caller's
// goroutine. Models are opaque: anything implementing Detector can be run.
package inference

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"medvol/internal/models"
	"medvol/pkg/label"
)

// Detection is one finding reported by a Detector
type Detection struct {
	Label string
	Score float64
	Box   label.Box
}

// Detector finds regions of interest in a volume.
type Detector interface {
	Detect(ctx context.Context, v *models.Volume) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, v *models.Volume) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, v *models.Volume) ([]Detection, error) {
	return f(ctx, v)
}

// Result carries the outcome of one Run
type Result struct {
	Detections []Detection
	Err        error
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger log.Interface
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run starts d on v in a new goroutine and returns a channel that receives
// exactly one Result and is then closed. A panicking detector is reported as
// an error, and cancelling ctx delivers ctx.Err() without waiting for the
// detector to return.
func Run(ctx context.Context, d Detector, v *models.Volume, opts ...Option) <-chan Result {
	o := &options{logger: log.Log}
	for _, opt := range opts {
		opt(o)
	}

	out := make(chan Result, 1)
	done := make(chan Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		dets, err := d.Detect(ctx, v)
		if err != nil {
			err = errors.Wrap(err, "detect")
		}
		done <- Result{Detections: dets, Err: err}
	}()

	go func() {
		defer close(out)
		select {
		case r := <-done:
			if r.Err != nil {
				o.logger.WithError(r.Err).Warn("detection failed")
			} else {
				o.logger.WithField("detections", len(r.Detections)).Debug("detection finished")
			}
			out <- r
		case <-ctx.Done():
			out <- Result{Err: ctx.Err()}
		}
	}()

	return out
}

// MaskDetector reports every connected component of an annotation mask as a
// detection with score 1. Mask must share the input volume's grid.
type MaskDetector struct {
	Mask *models.Volume

	// Names maps class numbers to labels; unnamed classes use the number
	Names map[int]string
}

func (m *MaskDetector) Detect(ctx context.Context, v *models.Volume) ([]Detection, error) {
	if m.Mask.Size != v.Size {
		return nil, &models.GeometryMismatchError{Reason: fmt.Sprintf("mask size %s does not match volume size %s", m.Mask.Size, v.Size)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := label.BoundingBoxes(m.Mask)
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, len(boxes))
	for i, b := range boxes {
		name, ok := m.Names[b.Class]
		if !ok {
			name = strconv.Itoa(b.Class)
		}
		dets[i] = Detection{Label: name, Score: 1, Box: b}
	}
	return dets, nil
}
