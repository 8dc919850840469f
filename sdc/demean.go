package sdc

import (
	"fmt"
	"math"

	"github.com/carbocation/sdcprep/volume"
	"github.com/montanaflynn/stats"
)

// DefaultMaskFraction is the share of the robust maximum magnitude above which
// a voxel is considered brain.
const DefaultMaskFraction = 0.2

// Mask flags voxels of one 3D frame.
type Mask []bool

// Count returns the number of voxels in the mask.
func (m Mask) Count() int {
	n := 0
	for _, in := range m {
		if in {
			n++
		}
	}

	return n
}

// MaskFromMagnitude keeps the voxels of the first magnitude frame whose value
// exceeds frac times the 99th percentile of the finite magnitudes.
func MaskFromMagnitude(mag *volume.Volume, frac float64) (Mask, error) {
	first := mag.Frame(0)

	finite := make(stats.Float64Data, 0, len(first.Data))
	for _, v := range first.Data {
		if f := float64(v); !math.IsNaN(f) && !math.IsInf(f, 0) {
			finite = append(finite, f)
		}
	}
	if len(finite) == 0 {
		return nil, fmt.Errorf("magnitude image has no finite voxels")
	}

	robustMax, err := stats.Percentile(finite, 99)
	if err != nil {
		return nil, err
	}

	threshold := frac * robustMax
	out := make(Mask, len(first.Data))
	for i, v := range first.Data {
		out[i] = float64(v) > threshold
	}

	if out.Count() == 0 {
		return nil, fmt.Errorf("no magnitude voxels above %v", threshold)
	}

	return out, nil
}

// Demean subtracts, in place, the median fieldmap value within mask from every
// frame of fmap. A nil mask uses every finite voxel. The median is returned.
func Demean(fmap *volume.Volume, mask Mask) (float64, error) {
	if mask != nil && len(mask) != fmap.FrameSize() {
		return 0, fmt.Errorf("mask has %d voxels but fieldmap frames have %d", len(mask), fmap.FrameSize())
	}

	first := fmap.Frame(0)
	values := make(stats.Float64Data, 0, len(first.Data))
	for i, v := range first.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if mask != nil && !mask[i] {
			continue
		}
		values = append(values, f)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("no fieldmap voxels within the mask")
	}

	median, err := stats.Median(values)
	if err != nil {
		return 0, err
	}

	for i, v := range fmap.Data {
		fmap.Data[i] = float32(float64(v) - median)
	}

	return median, nil
}
