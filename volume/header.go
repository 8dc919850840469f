package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	headerSize = 348
	voxOffset  = 352

	// DTFloat32 is the NIFTI_TYPE_FLOAT32 datatype code.
	DTFloat32 = 16
)

var magicSingleFile = [4]byte{'n', '+', '1', 0}

// Header is the on-disk NIfTI-1 header. Field order and widths follow
// nifti1.h so that encoding/binary can read and write it directly.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	DataType   int16
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32

	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QOffsetX  float32
	QOffsetY  float32
	QOffsetZ  float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// ReadHeader decodes a NIfTI-1 header from r, detecting the byte order from
// sizeof_hdr.
func ReadHeader(r io.Reader) (Header, binary.ByteOrder, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, fmt.Errorf("reading nifti header: %w", err)
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, err
		}
		if h.SizeOfHdr != headerSize {
			continue
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return Header{}, nil, fmt.Errorf("nifti header dim[0]=%d not in [1, 7]", h.Dim[0])
		}
		return h, order, nil
	}

	return Header{}, nil, fmt.Errorf("cannot infer byte order: sizeof_hdr is not %d in either order", headerSize)
}

// Description returns the descrip field as a string.
func (h Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00")
}

// SetDescription stores s in the descrip field, truncating it to 79 bytes.
func (h *Header) SetDescription(s string) {
	h.Descrip = [80]byte{}
	copy(h.Descrip[:79], s)
}

// forFloat32 returns a copy of h describing a float32 single-file image with
// the given dimensions. The spatial transform is kept.
func (h Header) forFloat32(dims [4]int) Header {
	out := h
	out.SizeOfHdr = headerSize
	out.Magic = magicSingleFile

	out.Dim = [8]int16{3, int16(dims[0]), int16(dims[1]), int16(dims[2]), 1, 1, 1, 1}
	if dims[3] > 1 {
		out.Dim[0] = 4
		out.Dim[4] = int16(dims[3])
	}

	for i := 1; i <= 3; i++ {
		if out.PixDim[i] == 0 {
			out.PixDim[i] = 1
		}
	}
	if out.PixDim[0] != -1 {
		out.PixDim[0] = 1
	}

	out.DataType = DTFloat32
	out.BitPix = 32
	out.VoxOffset = voxOffset
	out.SclSlope = 1
	out.SclInter = 0
	out.CalMax = 0
	out.CalMin = 0
	out.GLMax = 0
	out.GLMin = 0

	return out
}
