package main

import (
	"encoding/json"
	"fmt"

	"github.com/carbocation/sdcprep"
	"github.com/carbocation/sdcprep/dicommeta"
	"github.com/spf13/cobra"
)

func newDcm2MetaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dcm2meta file.dcm",
		Short: "Derive readout metadata from a DICOM file as a JSON sidecar",
		Long: `Derive PhaseEncodingDirection, echo spacing, echo time and related
readout fields from a DICOM file. The file may be compressed and may live on
Google Storage (gs://bucket/path).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			client, err := a.storageClient(ctx, path)
			if err != nil {
				return err
			}

			f, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, path, client)
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := sdcprep.MaybeDecompressReadCloser(f)
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := dicommeta.FromReader(r)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			a.logger.Debug("dicom parsed", "manufacturer", res.Manufacturer, "rows", res.Rows, "columns", res.Columns)
			if res.PolarityUnknown {
				a.logger.Warn("phase-encoding polarity cannot be read from standard tags; check the sign by hand",
					"pe", res.Metadata.PhaseEncodingDirection)
			}

			out, err := json.MarshalIndent(res.Metadata, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}

	return cmd
}
