package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigFile is an optional TOML file.
	ConfigFile string
	// Flags maps configuration keys, e.g. "resources.nprocs", to the flags
	// that override them. Flags only override when set on the command line.
	Flags map[string]*pflag.Flag
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("execution.bids_dir", d.Execution.BIDSDir)
	v.SetDefault("execution.output_dir", d.Execution.OutputDir)
	v.SetDefault("execution.work_dir", d.Execution.WorkDir)
	v.SetDefault("execution.log_dir", d.Execution.LogDir)
	v.SetDefault("execution.participant_label", d.Execution.ParticipantLabel)
	v.SetDefault("execution.task_id", d.Execution.TaskID)
	v.SetDefault("execution.echo_idx", d.Execution.EchoIdx)
	v.SetDefault("execution.output_spaces", d.Execution.OutputSpaces)
	v.SetDefault("execution.boilerplate_only", d.Execution.BoilerplateOnly)
	v.SetDefault("execution.clean_workdir", d.Execution.CleanWorkdir)
	v.SetDefault("execution.skip_bids_validation", d.Execution.SkipBIDSValidation)
	v.SetDefault("execution.fs_license_file", d.Execution.FSLicenseFile)
	v.SetDefault("execution.fs_subjects_dir", d.Execution.FSSubjectsDir)
	v.SetDefault("execution.log_level", d.Execution.LogLevel)
	v.SetDefault("execution.run_uuid", d.Execution.RunUUID)
	v.SetDefault("execution.version", d.Execution.Version)

	v.SetDefault("workflow.ignore", d.Workflow.Ignore)
	v.SetDefault("workflow.use_syn", d.Workflow.UseSyN)
	v.SetDefault("workflow.force_syn", d.Workflow.ForceSyN)
	v.SetDefault("workflow.fmap_demean", d.Workflow.FmapDemean)
	v.SetDefault("workflow.fmap_jacobian", d.Workflow.FmapJacobian)
	v.SetDefault("workflow.fmap_bspline", d.Workflow.FmapBSpline)
	v.SetDefault("workflow.bspline_spacing", d.Workflow.BSplineSpacing)
	v.SetDefault("workflow.assume_default_ees", d.Workflow.AssumeDefaultEES)
	v.SetDefault("workflow.mask_fraction", d.Workflow.MaskFraction)
	v.SetDefault("workflow.use_aroma", d.Workflow.UseAroma)
	v.SetDefault("workflow.cifti_output", d.Workflow.CiftiOutput)
	v.SetDefault("workflow.bold2t1w_dof", d.Workflow.Bold2T1wDOF)
	v.SetDefault("workflow.internal_spaces", d.Workflow.InternalSpaces)
	v.SetDefault("workflow.reports", d.Workflow.Reports)

	v.SetDefault("resources.nprocs", d.Resources.NProcs)
	v.SetDefault("resources.omp_nthreads", d.Resources.OMPNThreads)
	v.SetDefault("resources.mem", d.Resources.Mem)
	v.SetDefault("resources.memory_gb", d.Resources.MemoryGB)
	v.SetDefault("resources.low_mem", d.Resources.LowMem)
	v.SetDefault("resources.stop_on_first_crash", d.Resources.StopOnFirstCrash)

	v.SetDefault("container.engine", d.Container.Engine)
	v.SetDefault("container.image", d.Container.Image)
	v.SetDefault("container.entrypoint", d.Container.Entrypoint)
	v.SetDefault("container.scratch", d.Container.Scratch)
	v.SetDefault("container.dataset", d.Container.Dataset)
	v.SetDefault("container.run", d.Container.Run)
	v.SetDefault("container.max_parallel", d.Container.MaxParallel)
	v.SetDefault("container.mount_localtime", d.Container.MountLocaltime)
	v.SetDefault("container.pull", d.Container.Pull)
	v.SetDefault("container.extra_args", d.Container.ExtraArgs)
}

// Load layers defaults, the optional TOML file, SDCPREP_<SECTION>_<KEY>
// environment variables and changed flags, in increasing precedence.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", opts.ConfigFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Dump renders the configuration as TOML.
func (c *Config) Dump() ([]byte, error) {
	return toml.Marshal(c)
}

// WriteFile writes the configuration as TOML to path.
func (c *Config) WriteFile(path string) error {
	b, err := c.Dump()
	if err != nil {
		return err
	}

	return os.WriteFile(path, b, 0o644)
}

// ReadFile reads a configuration written by WriteFile. Keys absent from the
// file keep their defaults.
func ReadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}
