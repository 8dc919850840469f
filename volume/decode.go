package volume

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NIfTI-1 datatype codes that can be decoded.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
	DTInt64   = 1024
	DTUint64  = 1280
)

// voxelWidth returns the size in bytes of one voxel of the given datatype, or
// 0 when it cannot be decoded.
func voxelWidth(dt int16) int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	}

	return 0
}

func decodeVoxel(dt int16, b []byte, order binary.ByteOrder) float64 {
	switch dt {
	case DTUint8:
		return float64(b[0])
	case DTInt8:
		return float64(int8(b[0]))
	case DTInt16:
		return float64(int16(order.Uint16(b)))
	case DTUint16:
		return float64(order.Uint16(b))
	case DTInt32:
		return float64(int32(order.Uint32(b)))
	case DTUint32:
		return float64(order.Uint32(b))
	case DTFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case DTInt64:
		return float64(int64(order.Uint64(b)))
	case DTUint64:
		return float64(order.Uint64(b))
	case DTFloat64:
		return math.Float64frombits(order.Uint64(b))
	}

	return math.NaN()
}

// dims returns the x, y, z, t extents. Dimensions past t must be 1.
func (h Header) dims() ([4]int, error) {
	dims := [4]int{1, 1, 1, 1}
	for i := 1; i <= int(h.Dim[0]); i++ {
		d := int(h.Dim[i])
		if d < 1 {
			return dims, fmt.Errorf("nifti header dim[%d]=%d", i, d)
		}
		if i > 4 {
			if d != 1 {
				return dims, fmt.Errorf("nifti images with more than 4 dimensions are not supported (dim[%d]=%d)", i, d)
			}
			continue
		}
		dims[i-1] = d
	}

	return dims, nil
}

// decodeVoxels fills out from the voxel block of raw, which holds the whole
// file starting with the header.
func decodeVoxels(out []float32, raw []byte, h Header, order binary.ByteOrder) error {
	width := voxelWidth(h.DataType)
	if width == 0 {
		return fmt.Errorf("nifti datatype %d is not supported", h.DataType)
	}

	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = voxOffset
	}

	need := offset + len(out)*width
	if len(raw) < need {
		return fmt.Errorf("nifti data is truncated: have %d bytes, need %d", len(raw), need)
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	scaled := slope != 0 && !math.IsNaN(slope) && !math.IsInf(slope, 0)
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}

	for i := range out {
		start := offset + i*width
		value := decodeVoxel(h.DataType, raw[start:start+width], order)
		if scaled {
			value = value*slope + inter
		}
		out[i] = float32(value)
	}

	return nil
}
