package sdc

import (
	"fmt"
	"math"

	"github.com/carbocation/sdcprep/volume"
)

// Displacement is the shift along the phase-encoding axis, in voxels, caused
// by a field offset deltaB (T) for a nucleus with gyromagnetic ratio gamma
// (Hz/T) read out over trt seconds.
func Displacement(deltaB, gamma, trt float64) float64 {
	return gamma * deltaB * trt
}

// DisplacementMap converts a fieldmap in Hz into a voxel shift map: the
// displacement along pe, in voxels, of every voxel of an image with total
// readout time trt. The map is linear in the fieldmap.
func DisplacementMap(fmapHz *volume.Volume, trt float64, pe PEDirection) (*volume.Volume, error) {
	if _, err := pe.Axis(); err != nil {
		return nil, err
	}
	if trt <= 0 || math.IsNaN(trt) || math.IsInf(trt, 0) {
		return nil, fmt.Errorf("total readout time must be positive, got %v", trt)
	}

	// Frequency offsets beyond the first frame are not meaningful here.
	fmap := fmapHz.Frame(0)

	scale := trt * pe.Sign()
	out := volume.NewLike(fmap, 1)
	for i, v := range fmap.Data {
		out.Data[i] = float32(float64(v) * scale)
	}
	out.Header.SetDescription("voxel shift map")

	return out, nil
}

// InMillimetres scales a voxel shift map by the voxel size along pe.
func InMillimetres(vsm *volume.Volume, pe PEDirection) (*volume.Volume, error) {
	axis, err := pe.Axis()
	if err != nil {
		return nil, err
	}

	size := vsm.Spacing()[axis]
	out := vsm.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(float64(v) * size)
	}
	out.Header.SetDescription("displacement (mm)")

	return out, nil
}
