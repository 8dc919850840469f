package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/carbocation/sdcprep"
	"github.com/carbocation/sdcprep/compileinfo"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// app holds what every command shares.
type app struct {
	configFile string
	verbose    int
	quiet      bool

	logger  *log.Logger
	logFile *os.File
	client  *storage.Client
}

func newApp() *app {
	return &app{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix:          "sdcprep",
			ReportTimestamp: true,
		}),
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sdcprep",
		Short: "Susceptibility distortion correction for BIDS fMRI",
		Long: TitleStyle.Render("sdcprep") + SubtitleStyle.Render(" - susceptibility distortion correction for BIDS fMRI") + `

sdcprep reads echo spacing and readout time from BIDS sidecars, turns
phase-difference, phase-pair and direct fieldmaps into B0 maps in Hz,
derives voxel shift maps, and unwarps BOLD runs along their phase-encoding
axis. Registration-based corrections (PEPOLAR, SyN) are delegated to the
containerized fMRIPrep pipeline through ` + "`sdcprep run`" + `.`,
		Version:       compileinfo.Get().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Checked here rather than by cobra so that a missing flag is a
			// usage error.
			if err := cmd.ValidateRequiredFlags(); err != nil {
				return asUsage(err)
			}
			if err := cmd.ValidateFlagGroups(); err != nil {
				return asUsage(err)
			}
			a.applyVerbosity()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "TOML configuration file (see `sdcprep config show`)")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "increase log verbosity")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "only log warnings and errors")

	root.AddCommand(
		newReadoutCommand(a),
		newFieldmapCommand(a),
		newUnwarpCommand(a),
		newDcm2MetaCommand(a),
		newReportCommand(a),
		newPlanCommand(a),
		newPrepCommand(a),
		newRunCommand(a),
		newConfigCommand(a),
	)
	markUsageErrors(root)

	return root
}

func (a *app) applyVerbosity() {
	switch {
	case a.quiet:
		a.logger.SetLevel(log.WarnLevel)
	case a.verbose > 0:
		a.logger.SetLevel(log.DebugLevel)
	}
}

// setLogLevel applies a configured level. An explicit --log-level wins over
// -v and -q; a level from the defaults or a config file does not.
func (a *app) setLogLevel(level string, explicit bool) error {
	if level == "" || (!explicit && (a.quiet || a.verbose > 0)) {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	a.logger.SetLevel(lvl)
	return nil
}

// teeLog additionally writes the log to <dir>/<name>.log.
func (a *app) teeLog(dir, name string) error {
	if dir == "" || a.logFile != nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return err
	}
	a.logFile = f
	a.logger.SetOutput(io.MultiWriter(os.Stderr, f))
	a.logger.Debug("logging to file", "path", f.Name())

	return nil
}

// storageClient creates a Google Storage client on first use, when any of
// paths is a gs:// path.
func (a *app) storageClient(ctx context.Context, paths ...string) (*storage.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	for _, p := range paths {
		if !sdcprep.IsGoogleStorage(p) {
			continue
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating google storage client: %w", err)
		}
		a.client = client
		return client, nil
	}

	return nil, nil
}

func (a *app) close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	if a.logFile != nil {
		a.logger.SetOutput(os.Stderr)
		if cerr := a.logFile.Close(); err == nil {
			err = cerr
		}
		a.logFile = nil
	}
	return err
}
