package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/carbocation/sdcprep/container"
	"github.com/carbocation/sdcprep/volume"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grid = [4]int{4, 8, 3, 1}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	a := newApp()
	a.logger.SetOutput(io.Discard)

	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeVolume(t *testing.T, path string, dims [4]int, value func(i int) float32) string {
	t.Helper()
	v, err := volume.New(dims, volume.Header{})
	require.NoError(t, err)
	for i := range v.Data {
		v.Data[i] = value(i)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, v.Save(path))
	return path
}

func constant(c float32) func(int) float32 { return func(int) float32 { return c } }

// makeDataset builds sub-01 with a phasediff fieldmap and sub-02 without one.
func makeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name": "toy", "BIDSVersion": "1.8.0"}`)
	writeFile(t, filepath.Join(root, "participants.tsv"), "participant_id\tage\tsex\nsub-01\t34\tF\nsub-02\t29\tM\n")
	writeFile(t, filepath.Join(root, "sub-01/func/sub-01_task-rest_bold.json"), `{"PhaseEncodingDirection": "j-", "TotalReadoutTime": 0.05}`)
	writeFile(t, filepath.Join(root, "sub-01/fmap/sub-01_phasediff.json"), `{"EchoTime1": 0.00492, "EchoTime2": 0.00738, "IntendedFor": "func/sub-01_task-rest_bold.nii.gz"}`)
	writeFile(t, filepath.Join(root, "sub-02/func/sub-02_task-rest_bold.json"), `{"PhaseEncodingDirection": "j", "TotalReadoutTime": 0.05}`)

	bold := [4]int{grid[0], grid[1], grid[2], 2}
	writeVolume(t, filepath.Join(root, "sub-01/func/sub-01_task-rest_bold.nii.gz"), bold, func(i int) float32 { return float32(i % 11) })
	writeVolume(t, filepath.Join(root, "sub-01/fmap/sub-01_phasediff.nii.gz"), grid, constant(0.5))
	writeVolume(t, filepath.Join(root, "sub-01/fmap/sub-01_magnitude1.nii.gz"), grid, constant(100))
	writeVolume(t, filepath.Join(root, "sub-02/func/sub-02_task-rest_bold.nii.gz"), bold, constant(1))

	return root
}

func TestReadout(t *testing.T) {
	meta := writeFile(t, filepath.Join(t.TempDir(), "bold.json"),
		`{"PhaseEncodingDirection": "j-", "EffectiveEchoSpacing": 0.0005, "TotalReadoutTime": 0.05}`)

	out, err := execute(t, "readout", "--meta", meta)
	require.NoError(t, err)
	assert.Contains(t, out, "PhaseEncodingDirection\tj-\n")
	assert.Contains(t, out, "EffectiveEchoSpacing\t0.0005\n")
	assert.Contains(t, out, "TotalReadoutTime\t0.05\n")
}

func TestReadoutFromImage(t *testing.T) {
	dir := t.TempDir()
	meta := writeFile(t, filepath.Join(dir, "bold.json"), `{"PhaseEncodingDirection": "j", "EffectiveEchoSpacing": 0.001}`)
	image := writeVolume(t, filepath.Join(dir, "bold.nii.gz"), grid, constant(1))

	out, err := execute(t, "readout", "--meta", meta, "--image", image)
	require.NoError(t, err)
	// 8 voxels along j
	assert.InDelta(t, 0.007, readoutValue(t, out, "TotalReadoutTime"), 1e-9)
}

func readoutValue(t *testing.T, out, key string) float64 {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, "\t")
		if ok && k == key {
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			return f
		}
	}
	t.Fatalf("%s not printed in %q", key, out)
	return 0
}

func TestReadoutUnknown(t *testing.T) {
	dir := t.TempDir()
	meta := writeFile(t, filepath.Join(dir, "bold.json"), `{"PhaseEncodingDirection": "j"}`)
	image := writeVolume(t, filepath.Join(dir, "bold.nii.gz"), grid, constant(1))

	out, err := execute(t, "readout", "--meta", meta)
	require.Error(t, err)
	assert.Contains(t, out, "TotalReadoutTime\tn/a\n")

	out, err = execute(t, "readout", "--meta", meta, "--image", image, "--assume-default-ees", "--pe", "i")
	require.NoError(t, err)
	assert.Contains(t, out, "PhaseEncodingDirection\ti\n")
	// 4 voxels along i
	assert.InDelta(t, 3*0.000700012460221792, readoutValue(t, out, "TotalReadoutTime"), 1e-9)
}

func TestFieldmapWithShiftMap(t *testing.T) {
	dir := t.TempDir()
	phdiff := writeVolume(t, filepath.Join(dir, "phasediff.nii.gz"), grid, constant(0.5))
	writeFile(t, filepath.Join(dir, "phasediff.json"), `{"EchoTime1": 0.00492, "EchoTime2": 0.00738}`)
	target := writeFile(t, filepath.Join(dir, "bold.json"), `{"PhaseEncodingDirection": "j-", "TotalReadoutTime": 0.05}`)
	fmapOut := filepath.Join(dir, "out", "fmap.nii.gz")
	vsmOut := filepath.Join(dir, "out", "vsm.nii.gz")

	out, err := execute(t, "fieldmap", "--phasediff", phdiff, "--fmap-no-demean",
		"--out", fmapOut, "--target-meta", target, "--vsm", vsmOut)
	require.NoError(t, err)
	assert.Contains(t, out, fmapOut)
	assert.Contains(t, out, vsmOut)

	hz := 0.5 / (2 * math.Pi * 0.00246)

	fmap, err := volume.Load(fmapOut)
	require.NoError(t, err)
	assert.InDelta(t, hz, fmap.Data[0], 1e-2)

	vsm, err := volume.Load(vsmOut)
	require.NoError(t, err)
	assert.InDelta(t, -hz*0.05, vsm.Data[0], 1e-3)
}

func TestFieldmapNeedsOneSource(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "fmap.nii.gz")

	_, err := execute(t, "fieldmap", "--out", out)
	assert.ErrorContains(t, err, "exactly one of")

	_, err = execute(t, "fieldmap", "--phase1", filepath.Join(dir, "p1.nii.gz"), "--out", out)
	assert.ErrorContains(t, err, "together")
}

func TestUnwarpZeroField(t *testing.T) {
	dir := t.TempDir()
	bold := [4]int{grid[0], grid[1], grid[2], 2}
	in := writeVolume(t, filepath.Join(dir, "bold.nii.gz"), bold, func(i int) float32 { return float32(i % 7) })
	writeFile(t, filepath.Join(dir, "bold.json"), `{"PhaseEncodingDirection": "j", "TotalReadoutTime": 0.05}`)
	fmap := writeVolume(t, filepath.Join(dir, "fmap.nii.gz"), grid, constant(0))
	corrected := filepath.Join(dir, "corrected.nii.gz")

	_, err := execute(t, "unwarp", "--in", in, "--fieldmap", fmap, "--out", corrected)
	require.NoError(t, err)

	want, err := volume.Load(in)
	require.NoError(t, err)
	got, err := volume.Load(corrected)
	require.NoError(t, err)
	require.Equal(t, want.Dims, got.Dims)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-4)
}

func TestDcm2MetaRejectsGarbage(t *testing.T) {
	f := writeFile(t, filepath.Join(t.TempDir(), "junk.dcm"), "this is not a dicom file")

	_, err := execute(t, "dcm2meta", f)
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeVolume(t, filepath.Join(dir, "fmap.nii.gz"), grid, func(i int) float32 { return float32(i%9) - 4 })
	png := filepath.Join(dir, "figures", "fmap.png")
	hist := filepath.Join(dir, "figures", "hist.png")

	_, err := execute(t, "report", "--in", in, "--out", png, "--signed", "--hist", hist)
	require.NoError(t, err)
	assert.FileExists(t, png)
	assert.FileExists(t, hist)

	_, err = execute(t, "report", "--in", in, "--out", png, "--frame", "3")
	assert.ErrorContains(t, err, "out of range")
}

func TestReportFlicker(t *testing.T) {
	dir := t.TempDir()
	bold := [4]int{grid[0], grid[1], grid[2], 3}
	before := writeVolume(t, filepath.Join(dir, "bold.nii.gz"), bold, func(i int) float32 { return float32(i % 13) })
	after := writeVolume(t, filepath.Join(dir, "corrected.nii.gz"), bold, func(i int) float32 { return float32(i % 11) })
	out := filepath.Join(dir, "sdc.gif")

	stdout, err := execute(t, "report", "--in", after, "--before", before, "--tmean", "--out", out, "--ascii")
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.Contains(t, stdout, out)
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[container]")
	assert.Contains(t, out, "nipreps/fmriprep:latest")
	assert.Contains(t, out, "fmap_demean = true")
}

func TestConfigShowFile(t *testing.T) {
	file := writeFile(t, filepath.Join(t.TempDir(), "sdcprep.toml"), "[container]\nimage = 'nipreps/fmriprep:23.2.0'\n")

	out, err := execute(t, "--config", file, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "nipreps/fmriprep:23.2.0")
}

func TestPlanCommand(t *testing.T) {
	root := makeDataset(t)
	out := t.TempDir()

	stdout, err := execute(t, "plan", root, out, "participant", "-w", filepath.Join(out, "work"), "--boilerplate", "--raw")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sub-01_task-rest_bold.nii.gz")
	assert.Contains(t, stdout, "phasediff")
	assert.Contains(t, stdout, "sub-01_phasediff.nii.gz")
	assert.Contains(t, stdout, "no usable fieldmap")
	assert.Contains(t, stdout, "34")
	assert.Contains(t, stdout, "## Susceptibility distortion correction")
}

func TestPlanCommandArguments(t *testing.T) {
	root := makeDataset(t)

	_, err := execute(t, "plan", root, t.TempDir(), "group")
	assert.ErrorContains(t, err, "participant")

	_, err = execute(t, "plan", root, root, "participant")
	assert.ErrorContains(t, err, "same as the input BIDS folder")

	out := t.TempDir()
	_, err = execute(t, "plan", root, out, "participant", "-w", filepath.Join(out, "work"), "--participant-label", "09")
	assert.ErrorContains(t, err, "not found")
}

func TestPrepCommand(t *testing.T) {
	root := makeDataset(t)
	out := t.TempDir()

	stdout, err := execute(t, "prep", root, out, "participant", "-w", filepath.Join(out, "work"), "--reports=false", "--nprocs", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "corrected")

	for _, rel := range []string{
		"dataset_description.json",
		"sub-01/fmap/sub-01_task-rest_desc-fieldmap_fmap.nii.gz",
		"sub-01/fmap/sub-01_task-rest_desc-vsm_fmap.nii.gz",
		"sub-01/func/sub-01_task-rest_desc-sdc_bold.nii.gz",
		"sdcprep/logs/CITATION.md",
	} {
		assert.FileExists(t, filepath.Join(out, filepath.FromSlash(rel)))
	}
	assert.NoFileExists(t, filepath.Join(out, "sub-02", "func", "sub-02_task-rest_desc-sdc_bold.nii.gz"))

	logs, err := filepath.Glob(filepath.Join(out, "sdcprep", "logs", "*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	// named by the run UUID, <start time>_<uuid>
	assert.Regexp(t, `^\d{8}-\d{6}_[0-9a-f-]{36}\.log$`, filepath.Base(logs[0]))
}

func TestPrepBoilerplateOnly(t *testing.T) {
	root := makeDataset(t)
	out := t.TempDir()

	_, err := execute(t, "prep", root, out, "participant", "-w", filepath.Join(out, "work"), "--boilerplate-only")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "sdcprep", "logs", "CITATION.md"))
	assert.NoDirExists(t, filepath.Join(out, "sub-01"))
}

func stageScratch(t *testing.T, subjects ...string) string {
	t.Helper()
	scratch := t.TempDir()
	for _, s := range subjects {
		writeFile(t, filepath.Join(scratch, "data", "ds", s, "anat", s+"_T1w.nii.gz"), "")
	}
	return scratch
}

func TestRunDryRun(t *testing.T) {
	scratch := stageScratch(t, "sub-01")

	out, err := execute(t, "run", "--scratch", scratch, "--dataset", "ds", "--participant-label", "sub-01",
		"--run", "first", "--dry-run", "--no-localtime", "--", "--fs-no-reconall")
	require.NoError(t, err)

	want := "docker run -i -v " + scratch + ":/scratch -w /scratch --entrypoint=/usr/bin/run_fmriprep nipreps/fmriprep:latest" +
		" -B /scratch/data/ds -S 01 -o /scratch/outputs/first/out -w /scratch/outputs/first/work --fs-no-reconall"
	assert.Equal(t, want, strings.TrimSpace(out))
	assert.DirExists(t, filepath.Join(scratch, "outputs", "first", "work"))
}

func TestRunDryRunAllSubjects(t *testing.T) {
	scratch := stageScratch(t, "sub-01", "sub-02")

	out, err := execute(t, "run", "--scratch", scratch, "--dataset", "ds", "--engine", "podman", "--dry-run")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "podman run -i -v /etc/localtime:/etc/localtime:ro"))
	assert.Contains(t, lines[0], "-S 01 -o /scratch/outputs/sub-01/out")
	assert.Contains(t, lines[1], "-S 02 -o /scratch/outputs/sub-02/out")
}

func TestRunRequiresStagedDataset(t *testing.T) {
	scratch := t.TempDir()

	_, err := execute(t, "run", "--scratch", scratch, "--dataset", "missing", "--dry-run")
	assert.ErrorContains(t, err, "not staged")

	_, err = execute(t, "run", "--dataset", "ds", "--dry-run")
	assert.ErrorContains(t, err, "--scratch")

	_, err = execute(t, "run", "--scratch", scratch, "--dataset", "ds", "--dry-run", "stray")
	assert.ErrorContains(t, err, "after --")
}

func TestExitCodes(t *testing.T) {
	root := makeDataset(t)
	scratch := t.TempDir()
	junk := writeFile(t, filepath.Join(t.TempDir(), "junk.dcm"), "this is not a dicom file")

	for _, tc := range []struct {
		name string
		args []string
		want int
	}{
		{"analysis level", []string{"plan", root, t.TempDir(), "group"}, exitUsage},
		{"output is input", []string{"plan", root, root, "participant"}, exitUsage},
		{"missing positional", []string{"plan", root, "participant"}, exitUsage},
		{"unknown flag", []string{"readout", "--meta", "x.json", "--bogus"}, exitUsage},
		{"missing required flag", []string{"readout"}, exitUsage},
		{"two fieldmap sources", []string{"fieldmap", "--phasediff", "a.nii", "--fieldmap", "b.nii", "--out", "c.nii"}, exitUsage},
		{"run without scratch", []string{"run", "--dataset", "ds", "--dry-run"}, exitUsage},
		{"dataset not staged", []string{"run", "--scratch", scratch, "--dataset", "missing", "--dry-run"}, exitFailure},
		{"unreadable dicom", []string{"dcm2meta", junk}, exitFailure},
	} {
		_, err := execute(t, tc.args...)
		require.Error(t, err, tc.name)
		assert.Equal(t, tc.want, exitCode(err), "%s: %v", tc.name, err)
	}

	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 3, exitCode(fmt.Errorf("launch: %w", &container.ExitError{Subject: "01", Code: 3})))
}

func TestLogLevelPrecedence(t *testing.T) {
	a := newApp()
	a.verbose = 1
	a.applyVerbosity()
	require.Equal(t, log.DebugLevel, a.logger.GetLevel())

	// the configured default does not override -v
	require.NoError(t, a.setLogLevel("info", false))
	assert.Equal(t, log.DebugLevel, a.logger.GetLevel())

	// an explicit --log-level does
	require.NoError(t, a.setLogLevel("warn", true))
	assert.Equal(t, log.WarnLevel, a.logger.GetLevel())

	assert.Error(t, a.setLogLevel("loud", true))

	a = newApp()
	require.NoError(t, a.setLogLevel("error", false))
	assert.Equal(t, log.ErrorLevel, a.logger.GetLevel())
}
