package main

import (
	"fmt"

	"github.com/carbocation/sdcprep/sdc"
	"github.com/spf13/cobra"
)

func newReadoutCommand(a *app) *cobra.Command {
	var (
		metaPath, image, pe string
		assumeDefault       bool
	)

	cmd := &cobra.Command{
		Use:   "readout --meta bold.json [--image bold.nii.gz]",
		Short: "Print the effective echo spacing and total readout time of an image",
		Long: `Print the effective echo spacing (EES) and total readout time (TRT), in
seconds, derived from a BIDS sidecar. The image, when given, supplies the
number of voxels along the phase-encoding axis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			meta, err := a.readMeta(ctx, metaPath)
			if err != nil {
				return err
			}
			if pe != "" {
				meta.PhaseEncodingDirection = sdc.PEDirection(pe)
			}

			var shape [3]int
			if image != "" {
				if shape, err = a.imageShape(ctx, image); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			ees, eesErr := sdc.EffectiveEchoSpacing(meta, shape)
			trt, trtErr := sdc.TotalReadoutTimeOrDefault(meta, shape, assumeDefault)

			fmt.Fprintf(out, "PhaseEncodingDirection\t%s\n", meta.PhaseEncodingDirection)
			if eesErr != nil {
				a.logger.Warn("effective echo spacing unavailable", "err", eesErr)
				fmt.Fprintf(out, "EffectiveEchoSpacing\tn/a\n")
			} else {
				fmt.Fprintf(out, "EffectiveEchoSpacing\t%g\n", ees)
			}
			if trtErr != nil {
				fmt.Fprintf(out, "TotalReadoutTime\tn/a\n")
				return trtErr
			}
			fmt.Fprintf(out, "TotalReadoutTime\t%g\n", trt)

			return nil
		},
	}

	cmd.Flags().StringVar(&metaPath, "meta", "", "JSON sidecar of the image (local or gs://)")
	cmd.Flags().StringVar(&image, "image", "", "NIfTI image the sidecar describes")
	cmd.Flags().StringVar(&pe, "pe", "", "override PhaseEncodingDirection (i, i-, j, j-, k, k-)")
	cmd.Flags().BoolVar(&assumeDefault, "assume-default-ees", false, "fall back to the default echo spacing when the sidecar has no readout information")
	_ = cmd.MarkFlagRequired("meta")

	return cmd
}
