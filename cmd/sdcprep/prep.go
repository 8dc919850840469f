package main

import (
	"fmt"
	"time"

	"github.com/carbocation/sdcprep/pipeline"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newPrepCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prep bids_dir output_dir participant",
		Short: "Correct every BOLD run that has a phase-difference, phase or direct fieldmap",
		Long: `Estimate fieldmaps and unwarp BOLD runs natively, writing BIDS derivatives
(fieldmaps in Hz, voxel shift maps, corrected BOLD and SBRef images, and
reportlets) to output_dir. Runs that need PEPOLAR or fieldmap-less
correction are listed but left to ` + "`sdcprep run`" + `.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, layout, plans, err := a.plan(cmd, args)
			if err != nil {
				return err
			}
			defer layout.Close()

			start := time.Now()
			r := &pipeline.Runner{Layout: layout, Config: cfg, Logger: a.logger}
			outcomes, runErr := r.Run(ctx, plans)

			renderOutcomes(cmd, outcomes)
			a.logger.Info("finished", "runs", len(outcomes), "elapsed", time.Since(start).Round(time.Millisecond))

			return runErr
		},
	}

	addParticipantFlags(cmd.Flags())

	return cmd
}

func renderOutcomes(cmd *cobra.Command, outcomes []pipeline.Outcome) {
	if len(outcomes) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("BOLD", "Strategy", "Status", "Outputs", "Time")

	for _, o := range outcomes {
		status := "corrected"
		switch {
		case o.Err != nil:
			status = noneStyle.Render("failed: " + o.Err.Error())
		case o.Skipped != "":
			status = delegatedStyle.Render(o.Skipped)
		}

		elapsed := "-"
		if o.Elapsed > 0 {
			elapsed = o.Elapsed.Round(time.Millisecond).String()
		}

		t.Row(
			o.Plan.Bold.RelPath,
			strategyStyle(o.Plan.Strategy),
			status,
			fmt.Sprint(len(o.Outputs)),
			elapsed,
		)
	}

	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
}
