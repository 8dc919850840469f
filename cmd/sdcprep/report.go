package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/carbocation/sdcprep/report"
	"github.com/carbocation/sdcprep/volume"
	"github.com/spf13/cobra"
)

func newReportCommand(a *app) *cobra.Command {
	var (
		in, out, hist, before string
		tmean, ascii          bool
		opts                  report.MosaicOptions
	)

	cmd := &cobra.Command{
		Use:   "report --in image.nii.gz --out mosaic.png",
		Short: "Draw a slice mosaic of an image, and optionally a histogram",
		Long: `Draw axial slices of an image as a mosaic. With --before, the output is
an animated GIF alternating between the two images, as used to judge a
distortion correction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			v, err := a.loadVolume(ctx, in)
			if err != nil {
				return err
			}
			if tmean {
				v = volume.TemporalMean(v)
			}
			if opts.Frame < 0 || opts.Frame >= v.Frames() {
				return fmt.Errorf("--frame %d out of range: %s has %d frames", opts.Frame, in, v.Frames())
			}

			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if before != "" {
				b, err := a.loadVolume(ctx, before)
				if err != nil {
					return err
				}
				if tmean {
					b = volume.TemporalMean(b)
				}
				if opts.Frame >= b.Frames() {
					return fmt.Errorf("--frame %d out of range: %s has %d frames", opts.Frame, before, b.Frames())
				}
				err = report.WriteFlicker(out, b.Frame(opts.Frame), v.Frame(opts.Frame), report.MosaicOptions{
					Slices: opts.Slices, Columns: opts.Columns, Scale: opts.Scale, Signed: opts.Signed, Percentile: opts.Percentile,
				})
				if err != nil {
					return err
				}
			} else if err := report.WriteMosaic(out, v, opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)

			if hist == "" && !ascii {
				return nil
			}

			frame := v.Frame(opts.Frame).Data
			values := make([]float64, 0, len(frame))
			for _, x := range frame {
				if f := float64(x); !math.IsNaN(f) && f != 0 {
					values = append(values, f)
				}
			}
			if ascii {
				if err := report.TerminalHistogram(cmd.OutOrStdout(), values, 20, 50); err != nil {
					return err
				}
			}
			if hist != "" {
				if err := os.MkdirAll(filepath.Dir(hist), 0o755); err != nil {
					return err
				}
				if err := report.WriteHistogram(hist, values, filepath.Base(in)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hist)
			}

			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&in, "in", "", "image to draw")
	fl.StringVar(&out, "out", "", "output image (PNG, or GIF with --before)")
	fl.StringVar(&before, "before", "", "uncorrected image on the same grid; writes a before/after animation")
	fl.StringVar(&hist, "hist", "", "also write a histogram of the non-zero voxels to this PNG")
	fl.BoolVar(&ascii, "ascii", false, "also print a histogram of the non-zero voxels to the terminal")
	fl.BoolVar(&tmean, "tmean", false, "draw the temporal mean of a 4D image")
	fl.BoolVar(&opts.Signed, "signed", false, "diverging colormap symmetric about zero (fieldmaps, shift maps)")
	fl.IntVar(&opts.Slices, "slices", 12, "number of axial slices; 0 draws all")
	fl.IntVar(&opts.Columns, "columns", 0, "mosaic columns; 0 picks a square layout")
	fl.IntVar(&opts.Scale, "scale", 4, "enlarge every slice by this factor")
	fl.IntVar(&opts.Frame, "frame", 0, "volume of a 4D image to draw")
	fl.Float64Var(&opts.Percentile, "percentile", report.DefaultPercentile, "percentile that saturates the colormap")
	for _, name := range []string{"in", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
