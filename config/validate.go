package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

// InvalidConfigError lists every problem found by Validate.
type InvalidConfigError struct {
	Problems []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

var (
	ignorable     = []string{"fieldmaps", "slicetiming", "sbref"}
	validDOF      = []int{6, 9, 12}
	validCifti    = []string{"", "91k", "170k"}
	validEngines  = []string{"docker", "podman"}
	memoryUnitsGB = map[string]float64{"G": 1, "T": 1e3, "M": 1e-3, "": 1e-3}
)

// MemoryGB parses a memory limit such as "8G", "8GB", "8000M", "1T" or a
// bare number of megabytes, returning gigabytes.
func MemoryGB(s string) (float64, error) {
	value := strings.TrimRight(strings.ToUpper(strings.TrimSpace(s)), "B")

	i := 0
	for i < len(value) && value[i] >= '0' && value[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("memory %q does not start with a number", s)
	}

	digits, err := strconv.Atoi(value[:i])
	if err != nil {
		return 0, err
	}

	unit, ok := memoryUnitsGB[value[i:]]
	if !ok {
		return 0, fmt.Errorf("memory %q has unknown unit %q", s, value[i:])
	}

	return float64(digits) * unit, nil
}

// NormalizeLabels strips sub- prefixes, then sorts and deduplicates.
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimPrefix(strings.TrimSpace(l), "sub-")
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)

	return out
}

// ParticipantLabels returns the normalized participant labels.
func (c *Config) ParticipantLabels() []string {
	return NormalizeLabels(c.Execution.ParticipantLabel)
}

// Ignores reports whether the named step was switched off with ignore.
func (c *Config) Ignores(step string) bool {
	for _, i := range c.Workflow.Ignore {
		if i == step {
			return true
		}
	}

	return false
}

// InternalSpaces lists the spaces that outputs do not ask for but that
// downstream steps require.
func (c *Config) InternalSpaces() []string {
	var out []string
	if c.Workflow.UseAroma {
		out = append(out, "MNI152NLin6Asym:res-2")
	}

	if c.Workflow.CiftiOutput != "" {
		res := "1"
		if c.Workflow.CiftiOutput == "91k" {
			res = "2"
		}
		out = append(out, "fsaverage:den-164k", "MNI152NLin6Asym:res-"+res)
	}

	hasDefault := false
	for _, s := range c.Execution.OutputSpaces {
		if strings.SplitN(s, ":", 2)[0] == "MNI152NLin2009cAsym" {
			hasDefault = true
		}
	}
	if !hasDefault {
		out = append(out, "MNI152NLin2009cAsym")
	}

	return out
}

func absPath(p string) string {
	if p == "" || strings.HasPrefix(p, "gs://") {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return p
}

// Finalize fills in derived settings: absolute paths, the log and FreeSurfer
// directories, the run UUID, the FreeSurfer license, memory in GB, normalized
// participant labels and internal spaces. force_syn implies use_syn.
func (c *Config) Finalize(now time.Time, getenv func(string) string) error {
	e := &c.Execution
	e.BIDSDir = absPath(e.BIDSDir)
	e.OutputDir = absPath(e.OutputDir)
	e.WorkDir = absPath(e.WorkDir)
	c.Container.Scratch = absPath(c.Container.Scratch)

	if e.LogDir == "" && e.OutputDir != "" {
		e.LogDir = filepath.Join(e.OutputDir, "sdcprep", "logs")
	}
	if e.FSSubjectsDir == "" && e.OutputDir != "" {
		e.FSSubjectsDir = filepath.Join(e.OutputDir, "freesurfer")
	}
	if e.RunUUID == "" {
		e.RunUUID = NewRunUUID(now)
	}
	e.FSLicenseFile = FindFSLicense(e.FSLicenseFile, getenv)
	e.ParticipantLabel = NormalizeLabels(e.ParticipantLabel)

	if c.Workflow.ForceSyN {
		c.Workflow.UseSyN = true
	}

	if c.Resources.Mem != "" {
		gb, err := MemoryGB(c.Resources.Mem)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.Resources.MemoryGB = gb
	}

	if len(c.Workflow.InternalSpaces) == 0 {
		c.Workflow.InternalSpaces = c.InternalSpaces()
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

// inside reports whether child is parent or lies below it.
func inside(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// Validate checks the configuration for a pipeline run. Problems are returned
// together as an *InvalidConfigError; conditions that are merely suspicious
// are returned as warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string
	e := c.Execution

	if e.BIDSDir == "" {
		problems = append(problems, "bids_dir is required")
	}
	if e.OutputDir == "" {
		problems = append(problems, "output_dir is required")
	}

	if e.BIDSDir != "" && e.OutputDir != "" && filepath.Clean(e.OutputDir) == filepath.Clean(e.BIDSDir) {
		problems = append(problems, fmt.Sprintf(
			"the output folder is the same as the input BIDS folder (suggestion: %s)",
			filepath.Join(e.BIDSDir, "derivatives", "sdcprep")))
	}
	if e.BIDSDir != "" && e.WorkDir != "" && inside(e.WorkDir, e.BIDSDir) {
		problems = append(problems, "the working directory is inside the input BIDS folder")
	}

	if _, err := log.ParseLevel(e.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q: %v", e.LogLevel, err))
	}
	if e.EchoIdx < 0 {
		problems = append(problems, "echo_idx must not be negative")
	}

	for _, i := range c.Workflow.Ignore {
		if !containsString(ignorable, i) {
			problems = append(problems, fmt.Sprintf("cannot ignore %q; choose from %s", i, strings.Join(ignorable, ", ")))
		}
	}

	validDof := false
	for _, d := range validDOF {
		if c.Workflow.Bold2T1wDOF == d {
			validDof = true
		}
	}
	if !validDof {
		problems = append(problems, fmt.Sprintf("bold2t1w_dof must be 6, 9 or 12, got %d", c.Workflow.Bold2T1wDOF))
	}

	if !containsString(validCifti, c.Workflow.CiftiOutput) {
		problems = append(problems, fmt.Sprintf("cifti_output must be 91k or 170k, got %q", c.Workflow.CiftiOutput))
	}
	if c.Workflow.FmapBSpline && !(c.Workflow.BSplineSpacing > 0) {
		problems = append(problems, fmt.Sprintf("bspline_spacing must be positive, got %v", c.Workflow.BSplineSpacing))
	}
	if c.Workflow.MaskFraction <= 0 || c.Workflow.MaskFraction >= 1 {
		problems = append(problems, fmt.Sprintf("mask_fraction must be in (0, 1), got %v", c.Workflow.MaskFraction))
	}

	r := c.Resources
	if r.NProcs < 1 {
		problems = append(problems, "nprocs must be at least 1")
	}
	if r.OMPNThreads < 1 {
		problems = append(problems, "omp_nthreads must be at least 1")
	}
	if 1 < r.NProcs && r.NProcs < r.OMPNThreads {
		warnings = append(warnings, fmt.Sprintf(
			"per-process threads (omp_nthreads=%d) exceed total threads (nprocs=%d)", r.OMPNThreads, r.NProcs))
	}

	if !containsString(validEngines, c.Container.Engine) {
		problems = append(problems, fmt.Sprintf("container engine must be docker or podman, got %q", c.Container.Engine))
	}
	if c.Container.MaxParallel < 1 {
		problems = append(problems, "max_parallel must be at least 1")
	}

	if len(problems) > 0 {
		return warnings, &InvalidConfigError{Problems: problems}
	}

	return warnings, nil
}
