package sdc

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/carbocation/sdcprep/volume"
	"gonum.org/v1/gonum/floats"
)

// GyromagneticRatio is the proton gyromagnetic ratio over 2π, in Hz/T.
const GyromagneticRatio = 42.576e6

// radiansTolerance allows for float rounding when deciding whether a phase
// image is already expressed in radians.
const radiansTolerance = 1e-3

var ErrNoEchoTime = errors.New("no echo time information found")

// DeltaTE returns the echo time difference, in seconds, of a phase-difference
// or two-phase fieldmap acquisition.
func DeltaTE(meta Metadata) (float64, error) {
	var dte float64

	switch {
	case meta.EchoTime1 != nil && meta.EchoTime2 != nil:
		dte = math.Abs(*meta.EchoTime2 - *meta.EchoTime1)
	case meta.EchoTimeDifference != nil:
		dte = math.Abs(*meta.EchoTimeDifference)
	default:
		return 0, ErrNoEchoTime
	}

	if dte == 0 || math.IsNaN(dte) || math.IsInf(dte, 0) {
		return 0, fmt.Errorf("%w: echo time difference is %v", ErrNoEchoTime, dte)
	}

	return dte, nil
}

func finiteRange(data []float32) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
		ok = true
	}

	return lo, hi, ok
}

// PhaseToRadians returns phase in radians. Images whose values already lie in
// [-π, π] are copied as-is. Anything else (scanner units such as -4096..4095 or
// 0..4095) is rescaled linearly from [min, max] onto [-π, π), so the middle of
// the range maps to zero phase. Non-finite voxels become 0.
func PhaseToRadians(phase *volume.Volume) *volume.Volume {
	out := phase.Clone()

	lo, hi, ok := finiteRange(phase.Data)
	if !ok {
		for i := range out.Data {
			out.Data[i] = 0
		}
		return out
	}

	inRadians := lo >= -math.Pi-radiansTolerance && hi <= math.Pi+radiansTolerance
	span := hi - lo

	for i, v := range phase.Data {
		f := float64(v)
		switch {
		case math.IsNaN(f) || math.IsInf(f, 0):
			out.Data[i] = 0
		case inRadians:
			out.Data[i] = v
		case span == 0:
			out.Data[i] = 0
		default:
			out.Data[i] = float32(wrap((f-lo)/span*2*math.Pi - math.Pi))
		}
	}

	return out
}

func wrap(rad float64) float64 {
	return rad - 2*math.Pi*math.Floor((rad+math.Pi)/(2*math.Pi))
}

// WrapPhase wraps every voxel of v into [-π, π) in place.
func WrapPhase(v *volume.Volume) {
	for i, x := range v.Data {
		v.Data[i] = float32(wrap(float64(x)))
	}
}

// PhasePairToPhaseDiff computes the wrapped phase difference ph2 - ph1 of two
// phase images (in radians) on the same grid.
func PhasePairToPhaseDiff(ph1, ph2 *volume.Volume) (*volume.Volume, error) {
	if !volume.SameGrid(ph1, ph2) || ph1.Frames() != ph2.Frames() {
		return nil, fmt.Errorf("phase images differ in shape: %v vs %v", ph1.Dims, ph2.Dims)
	}

	out := volume.NewLike(ph1, ph1.Frames())
	for i := range out.Data {
		out.Data[i] = float32(wrap(float64(ph2.Data[i]) - float64(ph1.Data[i])))
	}

	return out, nil
}

// PhaseDiffToFieldmap converts a phase-difference map in radians into a
// fieldmap in Hz: fmap = phdiff / (2π ΔTE).
func PhaseDiffToFieldmap(phdiff *volume.Volume, deltaTE float64) (*volume.Volume, error) {
	if deltaTE <= 0 || math.IsNaN(deltaTE) || math.IsInf(deltaTE, 0) {
		return nil, fmt.Errorf("echo time difference must be positive, got %v", deltaTE)
	}

	out := volume.NewLike(phdiff, phdiff.Frames())
	scale := 1 / (2 * math.Pi * deltaTE)
	for i, v := range phdiff.Data {
		out.Data[i] = float32(float64(v) * scale)
	}
	out.Header.SetDescription("fieldmap (Hz)")

	return out, nil
}

// FieldmapToHz converts a fieldmap given in the BIDS Units of its sidecar to
// Hz. An empty unit is taken to be Hz already.
func FieldmapToHz(fmap *volume.Volume, units string) (*volume.Volume, error) {
	var scale float64

	switch strings.ToLower(strings.TrimSpace(units)) {
	case "", "hz":
		scale = 1
	case "rad/s", "rad s-1", "rads-1":
		scale = 1 / (2 * math.Pi)
	case "t", "tesla":
		scale = GyromagneticRatio
	default:
		return nil, fmt.Errorf("unsupported fieldmap units %q", units)
	}

	out := fmap.Clone()
	if scale != 1 {
		data := make([]float64, len(out.Data))
		for i, v := range out.Data {
			data[i] = float64(v)
		}
		floats.Scale(scale, data)
		for i, v := range data {
			out.Data[i] = float32(v)
		}
	}
	out.Header.SetDescription("fieldmap (Hz)")

	return out, nil
}
