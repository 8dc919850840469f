package sdc

import (
	"fmt"
	"math"

	"github.com/carbocation/sdcprep/volume"
	"gonum.org/v1/gonum/interp"
)

// line addresses the voxels of one row of a frame along an axis.
type line struct {
	start, stride, n int
}

func (l line) at(k int) int {
	return l.start + k*l.stride
}

// lines enumerates every row of a 3D grid along axis.
func lines(shape [3]int, axis int) []line {
	strides := [3]int{1, shape[0], shape[0] * shape[1]}
	a, b := (axis+1)%3, (axis+2)%3

	out := make([]line, 0, shape[a]*shape[b])
	for i := 0; i < shape[a]; i++ {
		for j := 0; j < shape[b]; j++ {
			out = append(out, line{
				start:  i*strides[a] + j*strides[b],
				stride: strides[axis],
				n:      shape[axis],
			})
		}
	}

	return out
}

// jacobian returns 1 + d(vsm)/dk along one line, clamped at zero. Central
// differences are used in the interior and one-sided ones at the edges.
func jacobian(shift []float64) []float64 {
	n := len(shift)
	out := make([]float64, n)
	for k := range shift {
		var d float64
		switch {
		case n < 2:
		case k == 0:
			d = shift[1] - shift[0]
		case k == n-1:
			d = shift[n-1] - shift[n-2]
		default:
			d = (shift[k+1] - shift[k-1]) / 2
		}
		out[k] = math.Max(0, 1+d)
	}

	return out
}

// Unwarp resamples a distorted EPI image onto the undistorted grid using a
// voxel shift map: the corrected value at position k along pe is the
// distorted value at k + vsm(k), linearly interpolated. Positions that fall
// outside the field of view are 0. With modulate set the intensities are
// scaled by the Jacobian of the shift. Every frame of a 4D image uses the same
// map.
func Unwarp(epi, vsm *volume.Volume, pe PEDirection, modulate bool) (*volume.Volume, error) {
	axis, err := pe.Axis()
	if err != nil {
		return nil, err
	}
	if !volume.SameGrid(epi, vsm) {
		return nil, fmt.Errorf("image grid %v does not match voxel shift map grid %v", epi.Shape(), vsm.Shape())
	}

	out := volume.NewLike(epi, epi.Frames())
	shiftMap := vsm.Frame(0)
	rows := lines(epi.Shape(), axis)

	for t := 0; t < epi.Frames(); t++ {
		src := epi.Frame(t)
		dst := out.Frame(t)

		for _, row := range rows {
			if err := unwarpLine(src.Data, dst.Data, shiftMap.Data, row, modulate); err != nil {
				return nil, err
			}
		}
	}

	out.Header.SetDescription("distortion corrected")

	return out, nil
}

func unwarpLine(src, dst, shiftMap []float32, row line, modulate bool) error {
	positions := make([]float64, row.n)
	values := make([]float64, row.n)
	shift := make([]float64, row.n)
	for k := 0; k < row.n; k++ {
		positions[k] = float64(k)
		values[k] = float64(src[row.at(k)])
		shift[k] = float64(shiftMap[row.at(k)])
	}

	var scale []float64
	if modulate {
		scale = jacobian(shift)
	}

	if row.n < 2 {
		for k := 0; k < row.n; k++ {
			if math.Abs(shift[k]) < 0.5 {
				dst[row.at(k)] = src[row.at(k)]
			}
		}
		return nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(positions, values); err != nil {
		return err
	}

	last := float64(row.n - 1)
	for k := 0; k < row.n; k++ {
		pos := float64(k) + shift[k]
		if math.IsNaN(pos) || pos < 0 || pos > last {
			dst[row.at(k)] = 0
			continue
		}

		v := pl.Predict(pos)
		if modulate {
			v *= scale[k]
		}
		dst[row.at(k)] = float32(v)
	}

	return nil
}
