package pipeline

import (
	"errors"
	"fmt"

	"github.com/carbocation/sdcprep/sdc"
	"github.com/carbocation/sdcprep/volume"
)

// ErrGridMismatch is returned when a fieldmap and its target do not share a
// voxel grid. Registering one onto the other is left to the containerized
// pipeline.
var ErrGridMismatch = errors.New("fieldmap and target grids differ")

// FieldmapInputs are the loaded images of one fieldmap set. Which fields are
// needed depends on Strategy.
type FieldmapInputs struct {
	Strategy sdc.Strategy

	PhaseDiff     *volume.Volume
	PhaseDiffMeta sdc.Metadata

	Phase1, Phase2         *volume.Volume
	Phase1Meta, Phase2Meta sdc.Metadata

	Fieldmap     *volume.Volume
	FieldmapMeta sdc.Metadata

	// Magnitude is optional; it only serves the demeaning mask.
	Magnitude *volume.Volume
}

// Estimate is a fieldmap in Hz and how it was normalized.
type Estimate struct {
	Hz *volume.Volume
	// Mask is nil when no magnitude image could be used.
	Mask sdc.Mask
	// Median is the value subtracted by demeaning.
	Median float64
}

// EstimateOptions control how a fieldmap is normalized after conversion to Hz.
type EstimateOptions struct {
	// Demean subtracts the median within the magnitude mask, or over all
	// voxels without one.
	Demean       bool
	MaskFraction float64
	// BSplineSpacing smooths the fieldmap with cubic B-splines whose knots are
	// this many mm apart. Zero disables smoothing.
	BSplineSpacing float64
}

// DefaultEstimateOptions demeans within a magnitude mask and does not smooth.
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{Demean: true, MaskFraction: sdc.DefaultMaskFraction}
}

// EstimateFieldmap computes the fieldmap (Hz) for in.
func EstimateFieldmap(in FieldmapInputs, opts EstimateOptions) (*Estimate, error) {
	var (
		hz  *volume.Volume
		err error
	)

	switch in.Strategy {
	case sdc.StrategyPhaseDiff:
		if in.PhaseDiff == nil {
			return nil, errors.New("phasediff image is missing")
		}
		dte, err := sdc.DeltaTE(in.PhaseDiffMeta)
		if err != nil {
			return nil, err
		}
		rad := sdc.PhaseToRadians(in.PhaseDiff)
		sdc.WrapPhase(rad)
		if hz, err = sdc.PhaseDiffToFieldmap(rad, dte); err != nil {
			return nil, err
		}

	case sdc.StrategyPhase:
		if in.Phase1 == nil || in.Phase2 == nil {
			return nil, errors.New("both phase1 and phase2 images are required")
		}
		if in.Phase1Meta.EchoTime == nil || in.Phase2Meta.EchoTime == nil {
			return nil, fmt.Errorf("%w: phase1 and phase2 need EchoTime", sdc.ErrNoEchoTime)
		}
		dte, err := sdc.DeltaTE(sdc.Metadata{EchoTime1: in.Phase1Meta.EchoTime, EchoTime2: in.Phase2Meta.EchoTime})
		if err != nil {
			return nil, err
		}
		phdiff, err := sdc.PhasePairToPhaseDiff(sdc.PhaseToRadians(in.Phase1), sdc.PhaseToRadians(in.Phase2))
		if err != nil {
			return nil, err
		}
		// Second echo minus first, whichever order the files came in.
		if *in.Phase1Meta.EchoTime > *in.Phase2Meta.EchoTime {
			for i, v := range phdiff.Data {
				phdiff.Data[i] = -v
			}
		}
		if hz, err = sdc.PhaseDiffToFieldmap(phdiff, dte); err != nil {
			return nil, err
		}

	case sdc.StrategyFieldmap:
		if in.Fieldmap == nil {
			return nil, errors.New("fieldmap image is missing")
		}
		if hz, err = sdc.FieldmapToHz(in.Fieldmap, in.FieldmapMeta.Units); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("strategy %s is not estimated by sdcprep", in.Strategy)
	}

	est := &Estimate{Hz: hz}

	if in.Magnitude != nil && volume.SameGrid(in.Magnitude, hz) {
		if est.Mask, err = sdc.MaskFromMagnitude(in.Magnitude, opts.MaskFraction); err != nil {
			return nil, err
		}
	}

	if opts.Demean {
		if est.Median, err = sdc.Demean(hz, est.Mask); err != nil {
			return nil, err
		}
	}

	if opts.BSplineSpacing > 0 {
		if est.Hz, err = sdc.SmoothBSpline(hz, est.Mask, opts.BSplineSpacing); err != nil {
			return nil, err
		}
	}

	return est, nil
}

// Correction is the result of applying a fieldmap to one image.
type Correction struct {
	TotalReadoutTime float64
	PEDirection      sdc.PEDirection
	VSM              *volume.Volume
	Corrected        *volume.Volume
}

// Correct unwarps target (BOLD or SBRef) with a fieldmap in Hz on the same
// grid, using the readout and phase-encoding direction in meta.
func Correct(fmapHz, target *volume.Volume, meta sdc.Metadata, assumeDefaultEES, jacobian bool) (*Correction, error) {
	if !volume.SameGrid(fmapHz, target) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrGridMismatch, fmapHz.Shape(), target.Shape())
	}

	pe := meta.PhaseEncodingDirection
	if pe == "" {
		return nil, fmt.Errorf("%w: PhaseEncodingDirection is not set", sdc.ErrInvalidPEDirection)
	}

	trt, err := sdc.TotalReadoutTimeOrDefault(meta, target.Shape(), assumeDefaultEES)
	if err != nil {
		return nil, err
	}

	vsm, err := sdc.DisplacementMap(fmapHz, trt, pe)
	if err != nil {
		return nil, err
	}

	corrected, err := sdc.Unwarp(target, vsm, pe, jacobian)
	if err != nil {
		return nil, err
	}

	return &Correction{TotalReadoutTime: trt, PEDirection: pe, VSM: vsm, Corrected: corrected}, nil
}
