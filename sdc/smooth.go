package sdc

import (
	"fmt"
	"math"

	"github.com/carbocation/sdcprep/volume"
	"gonum.org/v1/gonum/floats"
)

// DefaultBSplineSpacing is the distance, in mm, between B-spline knots when
// smoothing a fieldmap.
const DefaultBSplineSpacing = 40.0

// cubicBSpline is the centred cubic B-spline basis function.
func cubicBSpline(x float64) float64 {
	x = math.Abs(x)
	switch {
	case x < 1:
		return 2.0/3 - x*x + x*x*x/2
	case x < 2:
		d := 2 - x
		return d * d * d / 6
	}

	return 0
}

// bsplineTaps samples the cubic B-spline scaled to knots spacing mm apart on a
// grid of voxel mm.
func bsplineTaps(spacing, voxel float64) []float64 {
	if voxel <= 0 || spacing <= voxel {
		return []float64{1}
	}

	r := int(math.Ceil(2 * spacing / voxel))
	taps := make([]float64, 2*r+1)
	for j := -r; j <= r; j++ {
		taps[j+r] = cubicBSpline(float64(j) * voxel / spacing)
	}
	floats.Scale(1/floats.Sum(taps), taps)

	return taps
}

// SmoothBSpline low-pass filters a fieldmap with a separable cubic B-spline
// kernel whose knots are spacing mm apart. Only voxels in mask (all finite
// voxels when mask is nil) contribute, and the result is normalized by the
// filtered mask so values near the mask edge are not pulled towards zero.
// Voxels out of reach of any contributing voxel are 0.
func SmoothBSpline(fmap *volume.Volume, mask Mask, spacing float64) (*volume.Volume, error) {
	if spacing <= 0 || math.IsNaN(spacing) || math.IsInf(spacing, 0) {
		return nil, fmt.Errorf("b-spline knot spacing must be positive, got %v", spacing)
	}
	if mask != nil && len(mask) != fmap.FrameSize() {
		return nil, fmt.Errorf("mask has %d voxels, fieldmap frames have %d", len(mask), fmap.FrameSize())
	}

	dims := fmap.Dims
	vox := fmap.Spacing()
	out := volume.NewLike(fmap, fmap.Frames())
	n := fmap.FrameSize()

	num := make([]float64, n)
	den := make([]float64, n)
	for t := 0; t < fmap.Frames(); t++ {
		for i := 0; i < n; i++ {
			f := float64(fmap.Data[t*n+i])
			num[i], den[i] = 0, 0
			if math.IsNaN(f) || math.IsInf(f, 0) || (mask != nil && !mask[i]) {
				continue
			}
			num[i], den[i] = f, 1
		}

		for axis := 0; axis < 3; axis++ {
			taps := bsplineTaps(spacing, vox[axis])
			if len(taps) == 1 {
				continue
			}
			convolveAxis(num, dims, axis, taps)
			convolveAxis(den, dims, axis, taps)
		}

		for i := 0; i < n; i++ {
			if den[i] > 1e-6 {
				out.Data[t*n+i] = float32(num[i] / den[i])
			}
		}
	}

	return out, nil
}

// convolveAxis filters data, one 3D frame with x fastest, along axis in place.
// Samples outside the grid count as zero.
func convolveAxis(data []float64, dims [4]int, axis int, taps []float64) {
	stride := 1
	for a := 0; a < axis; a++ {
		stride *= dims[a]
	}
	length := dims[axis]
	r := len(taps) / 2

	line := make([]float64, length)
	filtered := make([]float64, length)
	for start := 0; start < len(data); start++ {
		// Visit each line once, from its first sample.
		if (start/stride)%length != 0 {
			continue
		}
		for k := 0; k < length; k++ {
			line[k] = data[start+k*stride]
		}
		for k := 0; k < length; k++ {
			var sum float64
			for j := -r; j <= r; j++ {
				if m := k + j; m >= 0 && m < length {
					sum += taps[j+r] * line[m]
				}
			}
			filtered[k] = sum
		}
		for k := 0; k < length; k++ {
			data[start+k*stride] = filtered[k]
		}
	}
}
