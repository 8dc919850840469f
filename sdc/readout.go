package sdc

import (
	"errors"
	"fmt"
	"math"
)

// DefaultEffectiveEchoSpacing is the dwell time, in seconds, assumed for runs
// whose sidecars carry no readout information at all.
const DefaultEffectiveEchoSpacing = 0.000700012460221792

// Philips scanners report WaterFatShift in pixels. The fat-water chemical shift
// is 3.4 ppm, and 42.57 MHz/T is the proton gyromagnetic ratio.
const (
	fatWaterShiftPPM = 3.4
	gammaMHzPerTesla = 42.57
)

var (
	ErrUnknownEchoSpacing = errors.New("cannot determine the effective echo spacing")
	ErrUnknownReadoutTime = errors.New("cannot determine the total readout time")
)

// echoTrainLength is the number of echoes actually acquired along the
// phase-encoding axis once in-plane acceleration is accounted for.
func echoTrainLength(meta Metadata, shape [3]int) (float64, error) {
	axis, err := meta.PhaseEncodingDirection.Axis()
	if err != nil {
		return 0, err
	}

	acc := 1.0
	if meta.ParallelReductionFactorInPlane != nil {
		acc = *meta.ParallelReductionFactorInPlane
	}
	if acc <= 0 || math.IsNaN(acc) {
		return 0, fmt.Errorf("ParallelReductionFactorInPlane must be positive, got %v", acc)
	}

	npe := shape[axis]
	if npe < 1 {
		return 0, fmt.Errorf("image has %d voxels along the phase-encoding axis", npe)
	}

	return math.Floor(float64(npe) / acc), nil
}

func waterFatShiftHz(meta Metadata) (float64, error) {
	if meta.MagneticFieldStrength == nil {
		return 0, fmt.Errorf("WaterFatShift requires MagneticFieldStrength")
	}

	return *meta.MagneticFieldStrength * fatWaterShiftPPM * gammaMHzPerTesla, nil
}

func checkSeconds(name string, v float64) (float64, error) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a positive number of seconds, got %v", name, v)
	}

	return v, nil
}

// EffectiveEchoSpacing returns the effective echo spacing, in seconds, of an
// image with the given spatial shape. An explicit EffectiveEchoSpacing wins.
// Otherwise it is derived from TotalReadoutTime, and failing that from the
// Philips WaterFatShift.
func EffectiveEchoSpacing(meta Metadata, shape [3]int) (float64, error) {
	if meta.EffectiveEchoSpacing != nil {
		return checkSeconds("EffectiveEchoSpacing", *meta.EffectiveEchoSpacing)
	}

	if meta.TotalReadoutTime == nil && meta.WaterFatShift == nil {
		return 0, ErrUnknownEchoSpacing
	}

	etl, err := echoTrainLength(meta, shape)
	if err != nil {
		return 0, err
	}

	if meta.TotalReadoutTime != nil {
		if etl-1 <= 0 {
			return 0, fmt.Errorf("echo train length %v is too short to derive the echo spacing", etl)
		}
		return checkSeconds("EffectiveEchoSpacing", *meta.TotalReadoutTime/(etl-1))
	}

	wfsHz, err := waterFatShiftHz(meta)
	if err != nil {
		return 0, err
	}

	return checkSeconds("EffectiveEchoSpacing", *meta.WaterFatShift/(wfsHz*etl))
}

// TotalReadoutTime returns the total readout time, in seconds, of an image with
// the given spatial shape. An explicit TotalReadoutTime wins, then
// EffectiveEchoSpacing scaled by the echo train, then the Philips
// WaterFatShift.
func TotalReadoutTime(meta Metadata, shape [3]int) (float64, error) {
	if meta.TotalReadoutTime != nil {
		return checkSeconds("TotalReadoutTime", *meta.TotalReadoutTime)
	}

	if meta.EffectiveEchoSpacing != nil {
		etl, err := echoTrainLength(meta, shape)
		if err != nil {
			return 0, err
		}
		if etl-1 <= 0 {
			return 0, fmt.Errorf("echo train length %v is too short to derive the readout time", etl)
		}
		return checkSeconds("TotalReadoutTime", *meta.EffectiveEchoSpacing*(etl-1))
	}

	if meta.WaterFatShift != nil {
		wfsHz, err := waterFatShiftHz(meta)
		if err != nil {
			return 0, err
		}
		return checkSeconds("TotalReadoutTime", *meta.WaterFatShift/wfsHz)
	}

	return 0, ErrUnknownReadoutTime
}

// TotalReadoutTimeOrDefault falls back to DefaultEffectiveEchoSpacing when the
// sidecars say nothing about the readout and assumeDefault is set.
func TotalReadoutTimeOrDefault(meta Metadata, shape [3]int, assumeDefault bool) (float64, error) {
	trt, err := TotalReadoutTime(meta, shape)
	if err == nil || !assumeDefault || !errors.Is(err, ErrUnknownReadoutTime) {
		return trt, err
	}

	meta.EffectiveEchoSpacing = Float(DefaultEffectiveEchoSpacing)

	return TotalReadoutTime(meta, shape)
}
