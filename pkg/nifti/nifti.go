// Package nifti loads pre-built NIfTI-1 volumes (.nii, .nii.gz) into
// models.Volume with geometry in the same patient frame as DICOM series.
package nifti

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	henghuang "github.com/henghuang/nifti"

	"medvol/internal/models"
	"medvol/pkg/assembly"
)

// Option configures loading.
type Option func(*options)

type options struct {
	modality models.Modality
	logger   log.Interface
}

// WithModality tags the loaded volume. NIfTI carries no modality; the
// default is OT.
func WithModality(m models.Modality) Option {
	return func(o *options) {
		o.modality = m
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(o *options) {
		o.logger = l
	}
}

// IsNIfTI reports whether path has a NIfTI extension.
func IsNIfTI(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".nii") || strings.HasSuffix(p, ".nii.gz")
}

// Load reads a NIfTI file into a single-channel volume. Voxels are decoded
// by the header datatype and byte order, then scaled by scl_slope and
// scl_inter when the slope is set. Only the first time point of 4D images is
// kept.
func Load(path string, opts ...Option) (*models.Volume, error) {
	o := &options{modality: models.OT, logger: log.Log}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.WithField("file", filepath.Base(path))

	h, order, err := readHeader(path)
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "invalid NIfTI header", Err: err}
	}
	if string(h.Magic[:3]) == "ni1" {
		return nil, &models.ParseError{Path: path, Reason: "detached .hdr/.img pairs are not supported"}
	}
	c, err := newCodec(h.Datatype, h.Bitpix, order)
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "unsupported voxel type", Err: err}
	}

	size := h.Size()
	if size.Width <= 0 || size.Height <= 0 || size.Depth <= 0 {
		return nil, &models.ParseError{Path: path, Reason: fmt.Sprintf("invalid dimensions %s", size)}
	}
	if h.Dim[0] > 3 && h.Dim[4] > 1 {
		logger.WithField("timepoints", h.Dim[4]).Warn("keeping only the first time point")
	}

	var stored []uint64
	if c.size <= 4 && order == binary.LittleEndian && henghuangReadable(path) {
		stored, err = safelyLoadBits(path, c, size)
	} else {
		stored, err = loadBits(path, h, c, size)
	}
	if err != nil {
		return nil, &models.ParseError{Path: path, Reason: "unreadable NIfTI data", Err: err}
	}

	origin, spacing, direction := h.Geometry()
	vol := &models.Volume{
		Size:        size,
		Origin:      origin,
		Spacing:     spacing,
		Direction:   direction,
		Modality:    o.modality,
		Channels:    1,
		Files:       []string{path},
		Description: strings.TrimRight(string(h.Descrip[:]), "\x00 "),
		Data:        make([]float64, len(stored)),
	}

	slope, inter, scaled := h.Scaling()
	for i, b := range stored {
		v := c.value(b)
		if scaled {
			v = v*slope + inter
		}
		vol.Data[i] = v
	}
	if scaled {
		logger.WithFields(log.Fields{"slope": slope, "intercept": inter}).Debug("applied NIfTI scaling")
	}

	if err := vol.Validate(); err != nil {
		return nil, err
	}
	return vol, nil
}

// LoadAsResult wraps a NIfTI volume in the assembler's result shape, keyed by
// generated study and series keys derived from the file name.
func LoadAsResult(path string, opts ...Option) (assembly.Result, error) {
	vol, err := Load(path, opts...)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".nii")

	return assembly.Result{
		"nifti-" + base: {base: vol},
	}, nil
}

// henghuangReadable reports whether the decoder's own gzip detection, which
// is case-sensitive, agrees with ours.
func henghuangReadable(path string) bool {
	return strings.HasSuffix(path, ".gz") || !strings.HasSuffix(strings.ToLower(path), ".gz")
}

// safelyLoadBits reads the first time point through the decoder and recovers
// the little-endian bit pattern of each voxel. Its 8, 16 and 32 bit readers
// convert to float32 without loss; decoder panics, including those from a
// truncated data block, become errors.
func safelyLoadBits(path string, c codec, size models.Size) (out []uint64, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("truncated or unreadable voxel data: %v", p)
		}
	}()

	var img henghuang.Nifti1Image
	img.LoadImage(path, true)

	dims := img.GetDims()
	for i, want := range []int{size.Width, size.Height, size.Depth} {
		if dims[i] != want {
			return nil, fmt.Errorf("decoder dimensions %v differ from header %s", dims[:3], size)
		}
	}

	// One entry per complete volume in the data block
	if len(img.GetTimeSeries(0, 0, 0)) == 0 {
		return nil, fmt.Errorf("truncated voxel data: less than one %s volume", size)
	}

	out = make([]uint64, 0, size.Voxels())
	for z := 0; z < size.Depth; z++ {
		for y := 0; y < size.Height; y++ {
			for x := 0; x < size.Width; x++ {
				v := img.GetAt(x, y, z, 0)
				switch c.size {
				case 1:
					out = append(out, uint64(uint8(v)))
				case 2:
					out = append(out, uint64(uint16(v)))
				default:
					out = append(out, uint64(math.Float32bits(v)))
				}
			}
		}
	}
	return out, nil
}

// loadBits reads the first time point directly, for big-endian files and
// 64-bit voxels, which the decoder narrows to float32.
func loadBits(path string, h *Header, c codec, size models.Size) ([]uint64, error) {
	data, err := readVoxelBytes(path, int64(h.VoxOffset))
	if err != nil {
		return nil, err
	}
	n := size.Voxels()
	if len(data) < n*c.size {
		return nil, fmt.Errorf("truncated voxel data: %d bytes, need %d", len(data), n*c.size)
	}

	out := make([]uint64, n)
	for i := range out {
		b := data[i*c.size : (i+1)*c.size]
		switch c.size {
		case 1:
			out[i] = uint64(b[0])
		case 2:
			out[i] = uint64(binary.LittleEndian.Uint16(b))
		case 4:
			out[i] = uint64(binary.LittleEndian.Uint32(b))
		default:
			out[i] = binary.LittleEndian.Uint64(b)
		}
	}
	return out, nil
}
