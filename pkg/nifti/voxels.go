package nifti

import (
	"encoding/binary"
	"io"
	"math"
	"math/bits"

	"github.com/pkg/errors"
)

// NIfTI-1 datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

// codec turns the little-endian bit pattern of one stored voxel into its
// value. swap is set for big-endian files.
type codec struct {
	datatype int16
	size     int
	swap     bool
}

func newCodec(datatype, bitpix int16, order binary.ByteOrder) (codec, error) {
	c := codec{datatype: datatype, swap: order == binary.BigEndian}
	switch datatype {
	case dtUint8, dtInt8:
		c.size = 1
	case dtInt16, dtUint16:
		c.size = 2
	case dtInt32, dtUint32, dtFloat32:
		c.size = 4
	case dtFloat64, dtInt64, dtUint64:
		c.size = 8
	default:
		return codec{}, errors.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	if int(bitpix) != 8*c.size {
		return codec{}, errors.Errorf("bitpix %d does not match datatype %d", bitpix, datatype)
	}
	return c, nil
}

func (c codec) value(b uint64) float64 {
	switch c.size {
	case 2:
		v := uint16(b)
		if c.swap {
			v = bits.ReverseBytes16(v)
		}
		if c.datatype == dtInt16 {
			return float64(int16(v))
		}
		return float64(v)

	case 4:
		v := uint32(b)
		if c.swap {
			v = bits.ReverseBytes32(v)
		}
		switch c.datatype {
		case dtInt32:
			return float64(int32(v))
		case dtFloat32:
			return float64(math.Float32frombits(v))
		}
		return float64(v)

	case 8:
		if c.swap {
			b = bits.ReverseBytes64(b)
		}
		switch c.datatype {
		case dtInt64:
			return float64(int64(b))
		case dtFloat64:
			return math.Float64frombits(b)
		}
		return float64(b)
	}

	if c.datatype == dtInt8 {
		return float64(int8(b))
	}
	return float64(uint8(b))
}

// readVoxelBytes returns the stored data block of path, starting at
// vox_offset.
func readVoxelBytes(path string, offset int64) ([]byte, error) {
	r, closeFn, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if _, err := io.CopyN(io.Discard, r, offset); err != nil {
		return nil, errors.Wrap(err, "skip to voxel data")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read voxel data")
	}
	return data, nil
}
