package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/compileinfo"
	"github.com/carbocation/sdcprep/config"
	"github.com/carbocation/sdcprep/pipeline"
	"github.com/carbocation/sdcprep/sdc"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// participantKeys maps participant-level flags to configuration keys.
var participantKeys = map[string]string{
	"participant-label":    "execution.participant_label",
	"task-id":              "execution.task_id",
	"echo-idx":             "execution.echo_idx",
	"work-dir":             "execution.work_dir",
	"output-spaces":        "execution.output_spaces",
	"boilerplate-only":     "execution.boilerplate_only",
	"clean-workdir":        "execution.clean_workdir",
	"skip-bids-validation": "execution.skip_bids_validation",
	"fs-license-file":      "execution.fs_license_file",
	"log-level":            "execution.log_level",
	"ignore":               "workflow.ignore",
	"use-syn-sdc":          "workflow.use_syn",
	"force-syn":            "workflow.force_syn",
	"assume-default-ees":   "workflow.assume_default_ees",
	"mask-fraction":        "workflow.mask_fraction",
	"fmap-bspline":         "workflow.fmap_bspline",
	"bspline-spacing":      "workflow.bspline_spacing",
	"bold2t1w-dof":         "workflow.bold2t1w_dof",
	"reports":              "workflow.reports",
	"nprocs":               "resources.nprocs",
	"omp-nthreads":         "resources.omp_nthreads",
	"mem":                  "resources.mem",
	"low-mem":              "resources.low_mem",
	"stop-on-first-crash":  "resources.stop_on_first_crash",
}

// addParticipantFlags declares the flags shared by plan and prep. Their
// defaults are the configuration defaults; a flag only overrides the
// configuration file when it is given.
func addParticipantFlags(fl *pflag.FlagSet) {
	d := config.Default()

	fl.StringSlice("participant-label", nil, "participants to process, with or without the sub- prefix (default: all)")
	fl.String("task-id", "", "only process BOLD runs of this task")
	fl.Int("echo-idx", 0, "only process this echo of multi-echo runs (default: all)")
	fl.StringP("work-dir", "w", d.Execution.WorkDir, "working directory; holds the dataset index")
	fl.StringSlice("output-spaces", nil, "standard and nonstandard spaces to resample to")
	fl.Bool("boilerplate-only", false, "write the methods boilerplate and exit")
	fl.Bool("clean-workdir", false, "empty the working directory before starting")
	fl.Bool("skip-bids-validation", false, "do not check the dataset structure")
	fl.String("fs-license-file", "", "FreeSurfer license file (default: $FS_LICENSE)")
	fl.String("log-level", d.Execution.LogLevel, "debug, info, warn or error")
	fl.StringSlice("ignore", nil, "skip these steps: fieldmaps, slicetiming, sbref")
	fl.Bool("use-syn-sdc", false, "use fieldmap-less correction when no fieldmap is found")
	fl.Bool("force-syn", false, "use fieldmap-less correction even when fieldmaps exist")
	fl.Bool("assume-default-ees", false, "fall back to the default echo spacing when readout information is missing")
	fl.Float64("mask-fraction", d.Workflow.MaskFraction, "magnitude mask threshold for demeaning, as a fraction of the robust maximum")
	fl.Bool("fmap-bspline", false, "smooth fieldmaps with cubic B-splines before computing shift maps")
	fl.Float64("bspline-spacing", d.Workflow.BSplineSpacing, "distance between B-spline knots, in mm")
	fl.Int("bold2t1w-dof", d.Workflow.Bold2T1wDOF, "degrees of freedom of the BOLD to T1w registration (6, 9 or 12)")
	fl.Bool("reports", d.Workflow.Reports, "write reportlet figures")
	fl.Int("nprocs", d.Resources.NProcs, "runs corrected at once")
	fl.Int("omp-nthreads", d.Resources.OMPNThreads, "threads per process")
	fl.String("mem", "", "memory limit, e.g. 8GB or 16000MB")
	fl.Bool("low-mem", false, "trade disk space for memory")
	fl.Bool("stop-on-first-crash", false, "abort at the first failed run")

	fl.Bool("fmap-no-demean", false, "do not subtract the median of the fieldmap")
	fl.Bool("fmap-no-jacobian", false, "do not modulate corrected intensities by the Jacobian")
}

// loadParticipantConfig resolves the configuration of a participant-level
// command from the config file, environment, flags and the positional
// bids_dir output_dir participant arguments.
func (a *app) loadParticipantConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	if args[2] != "participant" {
		return nil, usagef("analysis level must be %q, got %q", "participant", args[2])
	}

	flags := make(map[string]*pflag.Flag, len(participantKeys))
	for name, key := range participantKeys {
		flags[key] = cmd.Flags().Lookup(name)
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, Flags: flags})
	if err != nil {
		return nil, err
	}

	cfg.Execution.BIDSDir = args[0]
	cfg.Execution.OutputDir = args[1]
	cfg.Execution.Version = compileinfo.Get().Short()

	if f := cmd.Flags().Lookup("fmap-no-demean"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool("fmap-no-demean")
		cfg.Workflow.FmapDemean = !v
	}
	if f := cmd.Flags().Lookup("fmap-no-jacobian"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool("fmap-no-jacobian")
		cfg.Workflow.FmapJacobian = !v
	}

	if err := cfg.Finalize(time.Now(), os.Getenv); err != nil {
		return nil, err
	}
	if err := a.setLogLevel(cfg.Execution.LogLevel, cmd.Flags().Changed("log-level")); err != nil {
		return nil, err
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		a.logger.Warn(w)
	}
	if err != nil {
		return nil, err
	}

	if err := a.teeLog(cfg.Execution.LogDir, cfg.Execution.RunUUID); err != nil {
		return nil, err
	}
	a.logger.Info("starting", "version", cfg.Execution.Version, "run_uuid", cfg.Execution.RunUUID,
		"bids_dir", cfg.Execution.BIDSDir, "output_dir", cfg.Execution.OutputDir)

	return cfg, nil
}

// openDataset indexes the input dataset into the working directory and
// checks it.
func (a *app) openDataset(cmd *cobra.Command, cfg *config.Config) (*bids.Layout, error) {
	ctx := cmd.Context()

	if err := pipeline.CleanWorkdir(cfg, a.logger); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Execution.WorkDir, 0o755); err != nil {
		return nil, err
	}

	client, err := a.storageClient(ctx, cfg.Execution.BIDSDir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	layout, err := bids.Index(ctx, cfg.Execution.BIDSDir, filepath.Join(cfg.Execution.WorkDir, "bids.db"), bids.Options{Client: client})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("dataset indexed", "root", layout.Root, "elapsed", time.Since(start).Round(time.Millisecond))

	if cfg.Execution.SkipBIDSValidation {
		return layout, nil
	}
	if err := layout.Validate(ctx, cfg.ParticipantLabels()); err != nil {
		var verr *bids.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				a.logger.Error("invalid dataset", "problem", p)
			}
		}
		layout.Close()
		return nil, err
	}

	return layout, nil
}

// plan resolves the configuration, indexes the dataset and plans every run.
func (a *app) plan(cmd *cobra.Command, args []string) (*config.Config, *bids.Layout, []pipeline.RunPlan, error) {
	cfg, err := a.loadParticipantConfig(cmd, args)
	if err != nil {
		return nil, nil, nil, err
	}

	layout, err := a.openDataset(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	plans, err := pipeline.Plan(cmd.Context(), layout, cfg)
	if err != nil {
		layout.Close()
		return nil, nil, nil, err
	}
	for _, p := range plans {
		for _, d := range p.Dropped {
			a.logger.Warn("incomplete fieldmap ignored", "bold", p.Bold.RelPath, "fieldmap", d)
		}
	}

	return cfg, layout, plans, nil
}

func strategyStyle(s sdc.Strategy) string {
	switch {
	case s.Native():
		return nativeStyle.Render(string(s))
	case s.Delegated():
		return delegatedStyle.Render(string(s))
	}
	return noneStyle.Render(string(s))
}
