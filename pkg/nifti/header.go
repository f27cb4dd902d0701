package nifti

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"medvol/internal/models"
)

const headerSize = 348

// Header is the fixed 348-byte NIfTI-1 header.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// ReadHeader reads the header of a .nii or .nii.gz file.
func ReadHeader(path string) (*Header, error) {
	h, _, err := readHeader(path)
	return h, err
}

func readHeader(path string) (*Header, binary.ByteOrder, error) {
	r, closeFn, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer closeFn()
	return decodeHeader(r)
}

// open returns a reader over the uncompressed file contents.
func open(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, func() { f.Close() }, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return zr, func() {
		zr.Close()
		f.Close()
	}, nil
}

// DecodeHeader decodes a header from r, detecting the byte order from the
// sizeof_hdr field.
func DecodeHeader(r io.Reader) (*Header, error) {
	h, _, err := decodeHeader(r)
	return h, err
}

func decodeHeader(r io.Reader) (*Header, binary.ByteOrder, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, errors.Wrap(err, "read NIfTI header")
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(buf)) != headerSize {
		order = binary.BigEndian
		if int32(binary.BigEndian.Uint32(buf)) != headerSize {
			return nil, nil, errors.New("not a NIfTI-1 header: sizeof_hdr is not 348")
		}
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(buf), order, h); err != nil {
		return nil, nil, errors.Wrap(err, "decode NIfTI header")
	}

	magic := string(bytes.TrimRight(h.Magic[:], "\x00"))
	if magic != "n+1" && magic != "ni1" {
		return nil, nil, errors.Errorf("unexpected NIfTI magic %q", magic)
	}
	return h, order, nil
}

// Scaling returns scl_slope and scl_inter, and whether they apply. A zero or
// non-finite slope means the stored values are used as they are.
func (h *Header) Scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, true
}

// Size returns the first three dimensions.
func (h *Header) Size() models.Size {
	s := models.Size{Width: 1, Height: 1, Depth: 1}
	n := int(h.Dim[0])
	if n >= 1 {
		s.Width = int(h.Dim[1])
	}
	if n >= 2 {
		s.Height = int(h.Dim[2])
	}
	if n >= 3 {
		s.Depth = int(h.Dim[3])
	}
	return s
}

// Geometry returns origin, spacing and direction in LPS patient space, the
// frame DICOM uses. The sform is preferred, then the qform quaternion, then
// pixdim alone.
func (h *Header) Geometry() (models.Vec3, models.Vec3, models.Direction) {
	var (
		origin  models.Vec3
		spacing models.Vec3
		dir     models.Direction
	)

	switch {
	case h.SformCode > 0:
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for a := 0; a < 3; a++ {
			col := models.Vec3{float64(rows[0][a]), float64(rows[1][a]), float64(rows[2][a])}
			n := math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
			spacing[a] = n
			for r := 0; r < 3; r++ {
				if n > 0 {
					dir[3*a+r] = col[r] / n
				}
			}
		}
		origin = models.Vec3{float64(rows[0][3]), float64(rows[1][3]), float64(rows[2][3])}

	case h.QformCode > 0:
		dir = h.quaternionDirection()
		spacing = h.pixdimSpacing()
		origin = models.Vec3{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}

	default:
		return models.Vec3{}, h.pixdimSpacing(), models.IdentityDirection
	}

	// RAS to LPS
	for a := 0; a < 3; a++ {
		dir[3*a] = -dir[3*a]
		dir[3*a+1] = -dir[3*a+1]
	}
	origin[0], origin[1] = -origin[0], -origin[1]

	return origin, spacing, dir.Normalized()
}

func (h *Header) pixdimSpacing() models.Vec3 {
	s := models.Vec3{}
	for i := 0; i < 3; i++ {
		s[i] = math.Abs(float64(h.Pixdim[i+1]))
		if s[i] == 0 {
			s[i] = 1
		}
	}
	return s
}

// quaternionDirection converts the qform quaternion to axis cosines. qfac
// (pixdim[0]) flips the slice axis.
func (h *Header) quaternionDirection() models.Direction {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Pure 180 degree rotation; renormalize (b, c, d)
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d, a = b/n, c/n, d/n, 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}

	// Columns of the rotation matrix are the i, j and k axes
	return models.Direction{
		a*a + b*b - c*c - d*d, 2 * (b*c + a*d), 2 * (b*d - a*c),
		2 * (b*c - a*d), a*a + c*c - b*b - d*d, 2 * (c*d + a*b),
		qfac * 2 * (b*d + a*c), qfac * 2 * (c*d - a*b), qfac * (a*a + d*d - c*c - b*b),
	}
}
