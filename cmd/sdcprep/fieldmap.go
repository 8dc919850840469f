package main

import (
	"fmt"

	"github.com/carbocation/sdcprep/pipeline"
	"github.com/carbocation/sdcprep/sdc"
	"github.com/spf13/cobra"
)

type fieldmapFlags struct {
	phasediff, phase1, phase2, fieldmap, magnitude string
	units                                          string
	noDemean                                       bool
	maskFraction                                   float64
	bspline                                        bool
	bsplineSpacing                                 float64
	out                                            string

	targetMeta, target string
	vsmOut             string
	mm                 bool
	assumeDefault      bool
}

func (f fieldmapFlags) strategy() (sdc.Strategy, error) {
	n := 0
	s := sdc.StrategyNone
	if f.phasediff != "" {
		n, s = n+1, sdc.StrategyPhaseDiff
	}
	if f.phase1 != "" || f.phase2 != "" {
		if f.phase1 == "" || f.phase2 == "" {
			return s, usagef("--phase1 and --phase2 must be given together")
		}
		n, s = n+1, sdc.StrategyPhase
	}
	if f.fieldmap != "" {
		n, s = n+1, sdc.StrategyFieldmap
	}

	if n != 1 {
		return s, usagef("give exactly one of --phasediff, --phase1/--phase2 or --fieldmap")
	}
	return s, nil
}

func newFieldmapCommand(a *app) *cobra.Command {
	var f fieldmapFlags

	cmd := &cobra.Command{
		Use:   "fieldmap (--phasediff f | --phase1 f --phase2 f | --fieldmap f) --out fmap.nii.gz",
		Short: "Estimate a fieldmap in Hz and, optionally, a voxel shift map",
		Long: `Estimate a B0 fieldmap in Hz from a phase-difference image, a pair of
phase images or a direct fieldmap. Echo times and units are read from the
JSON sidecars next to the images. With --target-meta, the voxel shift map
of the target acquisition is written to --vsm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			strategy, err := f.strategy()
			if err != nil {
				return err
			}

			in := pipeline.FieldmapInputs{Strategy: strategy}
			switch strategy {
			case sdc.StrategyPhaseDiff:
				if in.PhaseDiff, err = a.loadVolume(ctx, f.phasediff); err != nil {
					return err
				}
				if in.PhaseDiffMeta, err = a.readMetaOptional(ctx, sidecarFor(f.phasediff)); err != nil {
					return err
				}
			case sdc.StrategyPhase:
				if in.Phase1, err = a.loadVolume(ctx, f.phase1); err != nil {
					return err
				}
				if in.Phase2, err = a.loadVolume(ctx, f.phase2); err != nil {
					return err
				}
				if in.Phase1Meta, err = a.readMetaOptional(ctx, sidecarFor(f.phase1)); err != nil {
					return err
				}
				if in.Phase2Meta, err = a.readMetaOptional(ctx, sidecarFor(f.phase2)); err != nil {
					return err
				}
			case sdc.StrategyFieldmap:
				if in.Fieldmap, err = a.loadVolume(ctx, f.fieldmap); err != nil {
					return err
				}
				if in.FieldmapMeta, err = a.readMetaOptional(ctx, sidecarFor(f.fieldmap)); err != nil {
					return err
				}
				if f.units != "" {
					in.FieldmapMeta.Units = f.units
				}
			}

			if f.magnitude != "" {
				if in.Magnitude, err = a.loadVolume(ctx, f.magnitude); err != nil {
					return err
				}
			}

			opts := pipeline.EstimateOptions{Demean: !f.noDemean, MaskFraction: f.maskFraction}
			if f.bspline {
				opts.BSplineSpacing = f.bsplineSpacing
			}
			est, err := pipeline.EstimateFieldmap(in, opts)
			if err != nil {
				return err
			}
			a.logger.Info("fieldmap estimated", "strategy", strategy, "median_hz", est.Median, "mask_voxels", est.Mask.Count())

			if err := save(est.Hz, f.out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.out)

			if f.targetMeta == "" {
				return nil
			}
			if f.vsmOut == "" {
				return usagef("--target-meta requires --vsm")
			}

			meta, err := a.readMeta(ctx, f.targetMeta)
			if err != nil {
				return err
			}
			shape := est.Hz.Shape()
			if f.target != "" {
				if shape, err = a.imageShape(ctx, f.target); err != nil {
					return err
				}
			}
			trt, err := sdc.TotalReadoutTimeOrDefault(meta, shape, f.assumeDefault)
			if err != nil {
				return err
			}

			vsm, err := sdc.DisplacementMap(est.Hz, trt, meta.PhaseEncodingDirection)
			if err != nil {
				return err
			}
			if f.mm {
				if vsm, err = sdc.InMillimetres(vsm, meta.PhaseEncodingDirection); err != nil {
					return err
				}
			}
			a.logger.Info("voxel shift map", "trt", trt, "pe", meta.PhaseEncodingDirection, "mm", f.mm)

			if err := save(vsm, f.vsmOut); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.vsmOut)

			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.phasediff, "phasediff", "", "phase-difference image")
	fl.StringVar(&f.phase1, "phase1", "", "first-echo phase image")
	fl.StringVar(&f.phase2, "phase2", "", "second-echo phase image")
	fl.StringVar(&f.fieldmap, "fieldmap", "", "direct fieldmap image")
	fl.StringVar(&f.units, "units", "", "units of --fieldmap (Hz, rad/s, T); overrides the sidecar")
	fl.StringVar(&f.magnitude, "magnitude", "", "magnitude image used to mask the demeaning")
	fl.BoolVar(&f.noDemean, "fmap-no-demean", false, "do not subtract the median of the fieldmap")
	fl.Float64Var(&f.maskFraction, "mask-fraction", sdc.DefaultMaskFraction, "magnitude mask threshold, as a fraction of the robust maximum")
	fl.BoolVar(&f.bspline, "fmap-bspline", false, "smooth the fieldmap with cubic B-splines")
	fl.Float64Var(&f.bsplineSpacing, "bspline-spacing", sdc.DefaultBSplineSpacing, "distance between B-spline knots, in mm")
	fl.StringVar(&f.out, "out", "", "output fieldmap in Hz")
	fl.StringVar(&f.targetMeta, "target-meta", "", "sidecar of the acquisition to compute a voxel shift map for")
	fl.StringVar(&f.target, "target", "", "image of that acquisition, for its phase-encoding matrix size")
	fl.StringVar(&f.vsmOut, "vsm", "", "output voxel shift map")
	fl.BoolVar(&f.mm, "mm", false, "write the shift map in millimetres instead of voxels")
	fl.BoolVar(&f.assumeDefault, "assume-default-ees", false, "fall back to the default echo spacing when the target sidecar has no readout information")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
