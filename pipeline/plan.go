// Package pipeline turns a BIDS dataset and a configuration into per-run
// distortion correction plans, and carries out the plans that sdcprep can
// correct on its own.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/config"
	"github.com/carbocation/sdcprep/sdc"
)

// ImageExtensions are the NIfTI extensions a run may carry.
var ImageExtensions = []string{".nii", ".nii.gz"}

// RunPlan is the distortion correction chosen for one BOLD run.
type RunPlan struct {
	Subject string
	Bold    bids.File
	// SBRef is the single-band reference of the run, if any.
	SBRef *bids.File
	// Fieldmaps are the complete fieldmap sets intended for the run, best
	// first.
	Fieldmaps []bids.FieldmapSet
	Strategy  sdc.Strategy
	// Reason explains a StrategyNone or StrategySyN choice.
	Reason string
	// Dropped lists incomplete fieldmap sets that were ignored.
	Dropped []string
}

// Fieldmap returns the set the chosen strategy uses.
func (p RunPlan) Fieldmap() (bids.FieldmapSet, bool) {
	for _, set := range p.Fieldmaps {
		if set.Strategy == p.Strategy {
			return set, true
		}
	}

	return bids.FieldmapSet{}, false
}

// Plan selects the BOLD runs of every requested participant and picks a
// correction strategy for each. Participants without BOLD runs are skipped;
// it is an error if no run at all is found.
func Plan(ctx context.Context, layout *bids.Layout, cfg *config.Config) ([]RunPlan, error) {
	subjects := cfg.ParticipantLabels()
	if len(subjects) == 0 {
		var err error
		if subjects, err = layout.Subjects(); err != nil {
			return nil, err
		}
	}

	if task := cfg.Execution.TaskID; task != "" {
		tasks, err := layout.Tasks()
		if err != nil {
			return nil, err
		}
		if !slices.Contains(tasks, task) {
			return nil, fmt.Errorf("task %q is not in %s (tasks: %s)", task, layout.Root, strings.Join(tasks, ", "))
		}
	}

	echo := ""
	if cfg.Execution.EchoIdx > 0 {
		echo = strconv.Itoa(cfg.Execution.EchoIdx)
	}

	var plans []RunPlan
	for _, subject := range subjects {
		bolds, err := layout.Get(bids.Query{
			Subject:    subject,
			Task:       cfg.Execution.TaskID,
			Echo:       echo,
			Datatype:   "func",
			Suffix:     "bold",
			Extensions: ImageExtensions,
		})
		if err != nil {
			return nil, err
		}

		for _, bold := range bolds {
			plan, err := planRun(ctx, layout, cfg, bold)
			if err != nil {
				return nil, err
			}
			plans = append(plans, plan)
		}
	}

	if len(plans) == 0 {
		filters := []string{"participants " + strings.Join(subjects, ", ")}
		if cfg.Execution.TaskID != "" {
			filters = append(filters, "task "+cfg.Execution.TaskID)
		}
		if echo != "" {
			filters = append(filters, "echo "+echo)
		}
		return nil, fmt.Errorf("no BOLD images found in %s for %s", layout.Root, strings.Join(filters, "; "))
	}

	return plans, nil
}

func planRun(ctx context.Context, layout *bids.Layout, cfg *config.Config, bold bids.File) (RunPlan, error) {
	plan := RunPlan{Subject: bold.Subject(), Bold: bold, Strategy: sdc.StrategyNone}

	if !cfg.Ignores("sbref") {
		refs, err := layout.Get(bids.Query{
			Subject:    bold.Subject(),
			Datatype:   "func",
			Suffix:     "sbref",
			Extensions: ImageExtensions,
			Entities:   bold.Entities,
		})
		if err != nil {
			return plan, err
		}
		for _, ref := range refs {
			// Entities must match exactly, not just include the BOLD's.
			if ref.Entities.String() == bold.Entities.String() {
				plan.SBRef = &ref
				break
			}
		}
	}

	if !cfg.Ignores("fieldmaps") {
		sets, dropped, err := layout.Fieldmaps(ctx, bold)
		if err != nil {
			return plan, err
		}
		plan.Fieldmaps = sets
		plan.Dropped = dropped
	}

	candidates := make([]sdc.Strategy, 0, len(plan.Fieldmaps))
	for _, set := range plan.Fieldmaps {
		candidates = append(candidates, set.Strategy)
	}

	switch {
	case cfg.Workflow.ForceSyN:
		plan.Strategy = sdc.StrategySyN
		plan.Reason = "fieldmap-less correction forced"
	case len(candidates) > 0:
		plan.Strategy = sdc.Best(candidates...)
	case cfg.Workflow.UseSyN:
		plan.Strategy = sdc.StrategySyN
		plan.Reason = "no usable fieldmap"
	case cfg.Ignores("fieldmaps"):
		plan.Reason = "fieldmaps ignored"
	default:
		plan.Reason = "no usable fieldmap"
	}

	return plan, nil
}
