package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/config"
	"github.com/carbocation/sdcprep/container"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runKeys maps run flags to configuration keys.
var runKeys = map[string]string{
	"engine":            "container.engine",
	"image":             "container.image",
	"entrypoint":        "container.entrypoint",
	"scratch":           "container.scratch",
	"dataset":           "container.dataset",
	"run":               "container.run",
	"max-parallel":      "container.max_parallel",
	"pull":              "container.pull",
	"participant-label": "execution.participant_label",
	"log-level":         "execution.log_level",
}

func newRunCommand(a *app) *cobra.Command {
	var (
		dryRun       bool
		noLocaltime  bool
		pullAttempts int
	)

	cmd := &cobra.Command{
		Use:   "run --scratch DIR --dataset NAME [flags] [-- pipeline args...]",
		Short: "Launch the containerized fMRIPrep pipeline for each participant",
		Long: `Launch the containerized pipeline once per participant:

  docker run -i -v /etc/localtime:/etc/localtime:ro -v <scratch>:/scratch \
    -w /scratch --entrypoint=/usr/bin/run_fmriprep <image> \
    -B /scratch/data/<dataset> -S <subject> \
    -o /scratch/outputs/<run>/out -w /scratch/outputs/<run>/work

The dataset must be staged under <scratch>/data/<dataset>. Without
--participant-label every subject found there is launched. Arguments after
"--" are passed to the pipeline. sdcprep exits with the status of the first
container that failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			flags := make(map[string]*pflag.Flag, len(runKeys))
			for name, key := range runKeys {
				flags[key] = cmd.Flags().Lookup(name)
			}
			cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, Flags: flags})
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if cmd.ArgsLenAtDash() != 0 {
					return usagef("unexpected arguments %q; pipeline arguments go after --", args)
				}
				cfg.Container.ExtraArgs = args
			}
			if noLocaltime {
				cfg.Container.MountLocaltime = false
			}
			if err := cfg.Finalize(time.Now(), os.Getenv); err != nil {
				return err
			}
			if err := a.setLogLevel(cfg.Execution.LogLevel, cmd.Flags().Changed("log-level")); err != nil {
				return err
			}

			c := cfg.Container
			if c.Scratch == "" {
				return usagef("--scratch is required")
			}
			if c.Dataset == "" {
				return usagef("--dataset is required")
			}

			subjects := cfg.ParticipantLabels()
			if len(subjects) == 0 {
				if subjects, err = stagedSubjects(cmd, c); err != nil {
					return err
				}
			}
			if len(subjects) == 0 {
				return fmt.Errorf("no subjects found in %s", filepath.Join(c.Scratch, "data", c.Dataset))
			}

			invs := make([]container.Invocation, 0, len(subjects))
			for _, s := range subjects {
				invs = append(invs, container.Invocation{
					Scratch:    c.Scratch,
					Dataset:    c.Dataset,
					Subject:    s,
					Run:        container.RunName(c.Run, s, len(subjects) > 1),
					Image:      c.Image,
					Entrypoint: c.Entrypoint,
					Localtime:  c.MountLocaltime,
					Extra:      c.ExtraArgs,
				})
			}

			l := &container.Launcher{
				Logger:       a.logger,
				MaxParallel:  c.MaxParallel,
				Pull:         c.Pull,
				PullAttempts: pullAttempts,
				PullBackoff:  2 * time.Second,
				DryRun:       dryRun,
				EngineName:   c.Engine,
				Stdout:       cmd.OutOrStdout(),
				Stderr:       cmd.ErrOrStderr(),
			}
			if !dryRun {
				engine, err := container.NewEngine(container.EngineType(c.Engine))
				if err != nil {
					return err
				}
				if v, err := engine.Version(ctx); err == nil {
					a.logger.Debug("container engine", "engine", engine.Name(), "version", v)
				}
				l.Engine = engine
			}

			_, err = l.Launch(ctx, invs)
			return err
		},
	}

	d := config.Default()
	fl := cmd.Flags()
	fl.String("engine", d.Container.Engine, "container engine: docker or podman")
	fl.String("image", d.Container.Image, "pipeline image")
	fl.String("entrypoint", d.Container.Entrypoint, "pipeline launcher inside the image")
	fl.String("scratch", "", "host scratch directory mounted at /scratch")
	fl.String("dataset", "", "dataset directory name under <scratch>/data")
	fl.String("run", "", "output directory name under <scratch>/outputs (default: sub-<id>)")
	fl.Int("max-parallel", d.Container.MaxParallel, "containers run at once")
	fl.Bool("pull", false, "pull the image first if it is missing")
	fl.StringSlice("participant-label", nil, "subjects to launch (default: all staged subjects)")
	fl.String("log-level", d.Execution.LogLevel, "debug, info, warn or error")
	fl.BoolVar(&dryRun, "dry-run", false, "print the commands instead of running them")
	fl.BoolVar(&noLocaltime, "no-localtime", false, "do not bind the host /etc/localtime")
	fl.IntVar(&pullAttempts, "pull-attempts", 3, "attempts at pulling the image")

	return cmd
}

// stagedSubjects lists the subjects of the dataset staged under the scratch
// directory.
func stagedSubjects(cmd *cobra.Command, c config.Container) ([]string, error) {
	root := filepath.Join(c.Scratch, "data", c.Dataset)
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("dataset %s is not staged: %w", c.Dataset, err)
	}

	layout, err := bids.Index(cmd.Context(), root, ":memory:", bids.Options{})
	if err != nil {
		return nil, err
	}
	defer layout.Close()

	return layout.Subjects()
}
