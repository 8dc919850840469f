package container

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// ScratchMount is where the host scratch directory appears in the container.
	ScratchMount = "/scratch"
	// LocaltimePath is bound read-only so container logs carry host time.
	LocaltimePath = "/etc/localtime"
	// DefaultEntrypoint is the pipeline launcher inside the fMRIPrep image.
	DefaultEntrypoint = "/usr/bin/run_fmriprep"
)

// Invocation describes one containerized pipeline run for one subject. The
// host scratch directory holds data/<Dataset> (the BIDS root) and receives
// outputs/<Run>/{out,work}.
type Invocation struct {
	Scratch    string
	Dataset    string
	Subject    string
	Run        string
	Image      string
	Entrypoint string
	Localtime  bool
	// Extra is appended to the pipeline arguments.
	Extra []string
}

// SubjectID returns the subject label without its "sub-" prefix.
func (inv Invocation) SubjectID() string {
	return strings.TrimPrefix(inv.Subject, "sub-")
}

// Validate reports every problem with the invocation at once.
func (inv Invocation) Validate() error {
	var errs []error
	if inv.Scratch == "" || !filepath.IsAbs(inv.Scratch) {
		errs = append(errs, fmt.Errorf("scratch directory %q must be an absolute path", inv.Scratch))
	} else if err := (VolumeMount{HostPath: inv.Scratch, ContainerPath: ScratchMount}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if inv.Image == "" {
		errs = append(errs, errors.New("image must not be empty"))
	}
	for _, f := range []struct{ name, value string }{{"dataset", inv.Dataset}, {"run", inv.Run}} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", f.name))
		} else if strings.ContainsAny(f.value, "/\\") || f.value == "." || f.value == ".." {
			errs = append(errs, fmt.Errorf("%s %q must be a single path component", f.name, f.value))
		}
	}
	if inv.SubjectID() == "" {
		errs = append(errs, errors.New("subject must not be empty"))
	}
	return errors.Join(errs...)
}

// HostDataDir is the BIDS root on the host.
func (inv Invocation) HostDataDir() string {
	return filepath.Join(inv.Scratch, "data", inv.Dataset)
}

// HostOutputDir is outputs/<run>/out on the host.
func (inv Invocation) HostOutputDir() string {
	return filepath.Join(inv.Scratch, "outputs", inv.Run, "out")
}

// HostWorkDir is outputs/<run>/work on the host.
func (inv Invocation) HostWorkDir() string {
	return filepath.Join(inv.Scratch, "outputs", inv.Run, "work")
}

// Prepare validates the invocation, checks that the dataset is staged under
// the scratch directory and creates the output and work directories.
func (inv Invocation) Prepare() error {
	if err := inv.Validate(); err != nil {
		return err
	}

	st, err := os.Stat(inv.HostDataDir())
	if err != nil {
		return fmt.Errorf("dataset %s is not staged: %w", inv.Dataset, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("dataset %s: %s is not a directory", inv.Dataset, inv.HostDataDir())
	}

	for _, dir := range []string{inv.HostOutputDir(), inv.HostWorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

// PipelineArgs are the arguments handed to the entrypoint.
func (inv Invocation) PipelineArgs() []string {
	out := path.Join(ScratchMount, "outputs", inv.Run)
	args := []string{
		"-B", path.Join(ScratchMount, "data", inv.Dataset),
		"-S", inv.SubjectID(),
		"-o", path.Join(out, "out"),
		"-w", path.Join(out, "work"),
	}
	return append(args, inv.Extra...)
}

// RunOptions converts the invocation into engine run options.
func (inv Invocation) RunOptions() RunOptions {
	var volumes []VolumeMount
	if inv.Localtime {
		volumes = append(volumes, VolumeMount{HostPath: LocaltimePath, ContainerPath: LocaltimePath, ReadOnly: true})
	}
	volumes = append(volumes, VolumeMount{HostPath: inv.Scratch, ContainerPath: ScratchMount})

	return RunOptions{
		Image:       inv.Image,
		Entrypoint:  inv.Entrypoint,
		Command:     inv.PipelineArgs(),
		WorkDir:     ScratchMount,
		Volumes:     volumes,
		Interactive: true,
	}
}

// Args returns the engine arguments, starting with "run".
func (inv Invocation) Args() []string {
	return RunArgs(inv.RunOptions())
}

// CommandLine renders the full command for display, quoting arguments that
// contain spaces.
func (inv Invocation) CommandLine(engine string) string {
	parts := []string{engine}
	for _, a := range inv.Args() {
		if strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// RunName picks the outputs/<run> directory name. An empty base becomes
// sub-<id>; when several subjects share one base each gets its own suffix.
func RunName(base, subject string, multiple bool) string {
	id := "sub-" + strings.TrimPrefix(subject, "sub-")
	switch {
	case base == "":
		return id
	case multiple:
		return base + "_" + id
	}
	return base
}
