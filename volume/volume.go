// Package volume reads and writes NIfTI-1 images as float32 voxel grids.
package volume

import (
	"fmt"
	"math"
)

// Volume is a 3D or 4D image. Voxels are stored with x varying fastest, then
// y, z and t.
type Volume struct {
	Header Header
	Dims   [4]int
	Data   []float32
}

// New allocates a zeroed volume. A zero-valued header is given unit spacing on
// save.
func New(dims [4]int, header Header) (*Volume, error) {
	for i := 0; i < 3; i++ {
		if dims[i] < 1 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", i, dims[i])
		}
	}
	if dims[3] < 1 {
		dims[3] = 1
	}

	return &Volume{
		Header: header,
		Dims:   dims,
		Data:   make([]float32, dims[0]*dims[1]*dims[2]*dims[3]),
	}, nil
}

// NewLike allocates a zeroed volume on the same grid as v with nt frames.
func NewLike(v *Volume, nt int) *Volume {
	dims := v.Dims
	dims[3] = nt
	if dims[3] < 1 {
		dims[3] = 1
	}

	return &Volume{
		Header: v.Header,
		Dims:   dims,
		Data:   make([]float32, dims[0]*dims[1]*dims[2]*dims[3]),
	}
}

// Clone returns a deep copy of v.
func (v *Volume) Clone() *Volume {
	out := &Volume{Header: v.Header, Dims: v.Dims, Data: make([]float32, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Shape returns the spatial dimensions.
func (v *Volume) Shape() [3]int {
	return [3]int{v.Dims[0], v.Dims[1], v.Dims[2]}
}

// Frames returns the number of volumes along t.
func (v *Volume) Frames() int {
	return v.Dims[3]
}

// FrameSize is the number of voxels in one 3D frame.
func (v *Volume) FrameSize() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

func (v *Volume) Index(x, y, z, t int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*(z+v.Dims[2]*t))
}

func (v *Volume) At(x, y, z, t int) float32 {
	return v.Data[v.Index(x, y, z, t)]
}

func (v *Volume) Set(x, y, z, t int, value float32) {
	v.Data[v.Index(x, y, z, t)] = value
}

// Frame returns a view of frame t as a 3D volume sharing v's storage.
func (v *Volume) Frame(t int) *Volume {
	n := v.FrameSize()
	dims := v.Dims
	dims[3] = 1

	return &Volume{
		Header: v.Header,
		Dims:   dims,
		Data:   v.Data[t*n : (t+1)*n],
	}
}

// Spacing returns the voxel size in mm along x, y and z.
func (v *Volume) Spacing() [3]float64 {
	out := [3]float64{1, 1, 1}
	for i := 0; i < 3; i++ {
		if d := float64(v.Header.PixDim[i+1]); d > 0 && !math.IsNaN(d) {
			out[i] = d
		}
	}

	return out
}

// SameGrid reports whether a and b share spatial dimensions.
func SameGrid(a, b *Volume) bool {
	return a.Dims[0] == b.Dims[0] && a.Dims[1] == b.Dims[1] && a.Dims[2] == b.Dims[2]
}
