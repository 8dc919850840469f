// Package config holds the settings of a sdcprep run. Settings are layered
// from defaults, a TOML file, SDCPREP_* environment variables and command-line
// flags, and the effective configuration is written next to the work directory
// so that a run can be reproduced.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. SDCPREP_RESOURCES_NPROCS.
	EnvPrefix = "SDCPREP"
	// DumpFileName is written inside the work directory.
	DumpFileName = ".sdcprep.toml"
	// DefaultImage is the containerized pipeline launched by `sdcprep run`.
	DefaultImage = "nipreps/fmriprep:latest"
	// DefaultEntrypoint is the pipeline's launcher inside the image.
	DefaultEntrypoint = "/usr/bin/run_fmriprep"
)

// Config is every setting of a run, by section.
type Config struct {
	Execution Execution `mapstructure:"execution" toml:"execution"`
	Workflow  Workflow  `mapstructure:"workflow" toml:"workflow"`
	Resources Resources `mapstructure:"resources" toml:"resources"`
	Container Container `mapstructure:"container" toml:"container"`
}

// Execution describes the inputs and outputs of a run.
type Execution struct {
	BIDSDir            string   `mapstructure:"bids_dir" toml:"bids_dir"`
	OutputDir          string   `mapstructure:"output_dir" toml:"output_dir"`
	WorkDir            string   `mapstructure:"work_dir" toml:"work_dir"`
	LogDir             string   `mapstructure:"log_dir" toml:"log_dir"`
	ParticipantLabel   []string `mapstructure:"participant_label" toml:"participant_label"`
	TaskID             string   `mapstructure:"task_id" toml:"task_id"`
	EchoIdx            int      `mapstructure:"echo_idx" toml:"echo_idx"`
	OutputSpaces       []string `mapstructure:"output_spaces" toml:"output_spaces"`
	BoilerplateOnly    bool     `mapstructure:"boilerplate_only" toml:"boilerplate_only"`
	CleanWorkdir       bool     `mapstructure:"clean_workdir" toml:"clean_workdir"`
	SkipBIDSValidation bool     `mapstructure:"skip_bids_validation" toml:"skip_bids_validation"`
	FSLicenseFile      string   `mapstructure:"fs_license_file" toml:"fs_license_file"`
	FSSubjectsDir      string   `mapstructure:"fs_subjects_dir" toml:"fs_subjects_dir"`
	LogLevel           string   `mapstructure:"log_level" toml:"log_level"`
	RunUUID            string   `mapstructure:"run_uuid" toml:"run_uuid"`
	Version            string   `mapstructure:"version" toml:"version"`
}

// Workflow selects how distortion is estimated and corrected.
type Workflow struct {
	Ignore           []string `mapstructure:"ignore" toml:"ignore"`
	UseSyN           bool     `mapstructure:"use_syn" toml:"use_syn"`
	ForceSyN         bool     `mapstructure:"force_syn" toml:"force_syn"`
	FmapDemean       bool     `mapstructure:"fmap_demean" toml:"fmap_demean"`
	FmapJacobian     bool     `mapstructure:"fmap_jacobian" toml:"fmap_jacobian"`
	FmapBSpline      bool     `mapstructure:"fmap_bspline" toml:"fmap_bspline"`
	BSplineSpacing   float64  `mapstructure:"bspline_spacing" toml:"bspline_spacing"`
	AssumeDefaultEES bool     `mapstructure:"assume_default_ees" toml:"assume_default_ees"`
	MaskFraction     float64  `mapstructure:"mask_fraction" toml:"mask_fraction"`
	UseAroma         bool     `mapstructure:"use_aroma" toml:"use_aroma"`
	CiftiOutput      string   `mapstructure:"cifti_output" toml:"cifti_output"`
	Bold2T1wDOF      int      `mapstructure:"bold2t1w_dof" toml:"bold2t1w_dof"`
	InternalSpaces   []string `mapstructure:"internal_spaces" toml:"internal_spaces"`
	Reports          bool     `mapstructure:"reports" toml:"reports"`
}

// Resources bound the work done at once.
type Resources struct {
	NProcs           int     `mapstructure:"nprocs" toml:"nprocs"`
	OMPNThreads      int     `mapstructure:"omp_nthreads" toml:"omp_nthreads"`
	Mem              string  `mapstructure:"mem" toml:"mem"`
	MemoryGB         float64 `mapstructure:"memory_gb" toml:"memory_gb"`
	LowMem           bool    `mapstructure:"low_mem" toml:"low_mem"`
	StopOnFirstCrash bool    `mapstructure:"stop_on_first_crash" toml:"stop_on_first_crash"`
}

// Container configures `sdcprep run`.
type Container struct {
	Engine         string   `mapstructure:"engine" toml:"engine"`
	Image          string   `mapstructure:"image" toml:"image"`
	Entrypoint     string   `mapstructure:"entrypoint" toml:"entrypoint"`
	Scratch        string   `mapstructure:"scratch" toml:"scratch"`
	Dataset        string   `mapstructure:"dataset" toml:"dataset"`
	Run            string   `mapstructure:"run" toml:"run"`
	MaxParallel    int      `mapstructure:"max_parallel" toml:"max_parallel"`
	MountLocaltime bool     `mapstructure:"mount_localtime" toml:"mount_localtime"`
	Pull           bool     `mapstructure:"pull" toml:"pull"`
	ExtraArgs      []string `mapstructure:"extra_args" toml:"extra_args"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Execution: Execution{
			WorkDir:  "work",
			LogLevel: "info",
			Version:  "dev",
		},
		Workflow: Workflow{
			FmapDemean:     true,
			FmapJacobian:   true,
			BSplineSpacing: 40,
			MaskFraction:   0.2,
			Bold2T1wDOF:    6,
			Reports:        true,
		},
		Resources: Resources{
			NProcs:           runtime.NumCPU(),
			OMPNThreads:      runtime.NumCPU(),
			StopOnFirstCrash: false,
		},
		Container: Container{
			Engine:         "docker",
			Image:          DefaultImage,
			Entrypoint:     DefaultEntrypoint,
			MaxParallel:    1,
			MountLocaltime: true,
		},
	}
}

// NewRunUUID names a run by its start time and a random UUID, e.g.
// 20200302-174345_9ba9f304-82de-4538-8c3a-570c5f5d8f2f.
func NewRunUUID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.Format("20060102-150405"), uuid.New().String())
}

// FindFSLicense looks for a FreeSurfer license in the order: the explicit
// path, $FS_LICENSE, then $FREESURFER_HOME/license.txt. The first candidate
// that exists is returned, or "" if none does.
func FindFSLicense(explicit string, getenv func(string) string) string {
	candidates := []string{explicit, getenv("FS_LICENSE")}
	if home := getenv("FREESURFER_HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, "license.txt"))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}

	return ""
}

// DumpPath is where the effective configuration of a run is written.
func (c *Config) DumpPath() string {
	return filepath.Join(c.Execution.WorkDir, DumpFileName)
}
