package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/pipeline"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newPlanCommand(a *app) *cobra.Command {
	var boilerplate, raw bool

	cmd := &cobra.Command{
		Use:   "plan bids_dir output_dir participant",
		Short: "Show the correction chosen for every BOLD run, without processing",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, layout, plans, err := a.plan(cmd, args)
			if err != nil {
				return err
			}
			defer layout.Close()

			participants, err := layout.Participants(ctx)
			if err != nil {
				a.logger.Warn("participants.tsv unreadable", "err", err)
			}
			renderPlan(cmd.OutOrStdout(), plans, participants)

			if !boilerplate {
				return nil
			}

			r := &pipeline.Runner{Layout: layout, Config: cfg, Logger: a.logger}
			text := r.Boilerplate(ctx, plans)
			if !raw {
				if text, err = renderMarkdown(text); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)

			return nil
		},
	}

	addParticipantFlags(cmd.Flags())
	cmd.Flags().BoolVar(&boilerplate, "boilerplate", false, "also print the methods boilerplate")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the boilerplate as plain markdown")

	return cmd
}

func renderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}

// renderPlan prints one table row per BOLD run.
func renderPlan(w io.Writer, plans []pipeline.RunPlan, participants map[string]bids.Participant) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Subject", "Age", "Sex", "BOLD", "SBRef", "Strategy", "Fieldmaps", "Note")

	for _, p := range plans {
		part := participants[p.Subject]

		sbref := "-"
		if p.SBRef != nil {
			sbref = filepath.Base(p.SBRef.RelPath)
		}

		var fmaps []string
		if set, ok := p.Fieldmap(); ok {
			for _, f := range set.Files {
				fmaps = append(fmaps, filepath.Base(f.RelPath))
			}
		}
		if len(fmaps) == 0 {
			fmaps = []string{"-"}
		}

		note := p.Reason
		if len(p.Dropped) > 0 {
			if note != "" {
				note += "; "
			}
			note += fmt.Sprintf("%d incomplete fieldmap(s) ignored", len(p.Dropped))
		}

		t.Row(
			"sub-"+p.Subject,
			orDash(part.Age),
			orDash(part.Sex),
			filepath.Base(p.Bold.RelPath),
			sbref,
			strategyStyle(p.Strategy),
			strings.Join(fmaps, "\n"),
			orDash(note),
		)
	}

	fmt.Fprintln(w, t.Render())
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
