package main

import (
	"fmt"

	"github.com/carbocation/sdcprep/pipeline"
	"github.com/spf13/cobra"
)

func newUnwarpCommand(a *app) *cobra.Command {
	var (
		in, fieldmap, metaPath, out, vsmOut string
		noJacobian, assumeDefault           bool
	)

	cmd := &cobra.Command{
		Use:   "unwarp --in bold.nii.gz --fieldmap fmap.nii.gz --out corrected.nii.gz",
		Short: "Correct an EPI image with a fieldmap in Hz on the same grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if metaPath == "" {
				metaPath = sidecarFor(in)
			}
			meta, err := a.readMeta(ctx, metaPath)
			if err != nil {
				return err
			}

			epi, err := a.loadVolume(ctx, in)
			if err != nil {
				return err
			}
			fmap, err := a.loadVolume(ctx, fieldmap)
			if err != nil {
				return err
			}

			corr, err := pipeline.Correct(fmap, epi, meta, assumeDefault, !noJacobian)
			if err != nil {
				return err
			}
			a.logger.Info("unwarped", "frames", epi.Frames(), "trt", corr.TotalReadoutTime, "pe", corr.PEDirection)

			if err := save(corr.Corrected, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)

			if vsmOut != "" {
				if err := save(corr.VSM, vsmOut); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), vsmOut)
			}

			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&in, "in", "", "distorted EPI image (3D or 4D)")
	fl.StringVar(&fieldmap, "fieldmap", "", "fieldmap in Hz")
	fl.StringVar(&metaPath, "meta", "", "sidecar of --in (default: the JSON next to it)")
	fl.StringVar(&out, "out", "", "corrected image")
	fl.StringVar(&vsmOut, "vsm", "", "also write the voxel shift map")
	fl.BoolVar(&noJacobian, "no-jacobian", false, "do not modulate intensities by the Jacobian of the shift")
	fl.BoolVar(&assumeDefault, "assume-default-ees", false, "fall back to the default echo spacing when the sidecar has no readout information")
	for _, name := range []string{"in", "fieldmap", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
