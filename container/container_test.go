package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedInvocation(t *testing.T, subject string) Invocation {
	t.Helper()
	scratch := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scratch, "data", "ds000001"), 0o755))
	return Invocation{
		Scratch:    scratch,
		Dataset:    "ds000001",
		Subject:    subject,
		Run:        "run1",
		Image:      "nipreps/fmriprep:23.2.0",
		Entrypoint: DefaultEntrypoint,
		Localtime:  true,
	}
}

func TestInvocationArgs(t *testing.T) {
	inv := Invocation{
		Scratch:    "/data/scratch",
		Dataset:    "ds000001",
		Subject:    "sub-01",
		Run:        "run1",
		Image:      "nipreps/fmriprep:23.2.0",
		Entrypoint: DefaultEntrypoint,
		Localtime:  true,
	}

	want := []string{
		"run", "-i",
		"-v", "/etc/localtime:/etc/localtime:ro",
		"-v", "/data/scratch:/scratch",
		"-w", "/scratch",
		"--entrypoint=/usr/bin/run_fmriprep",
		"nipreps/fmriprep:23.2.0",
		"-B", "/scratch/data/ds000001",
		"-S", "01",
		"-o", "/scratch/outputs/run1/out",
		"-w", "/scratch/outputs/run1/work",
	}
	assert.Equal(t, want, inv.Args())
	assert.True(t, strings.HasPrefix(inv.CommandLine("docker"), "docker run -i -v /etc/localtime"))
}

func TestInvocationArgsOptional(t *testing.T) {
	inv := Invocation{
		Scratch: "/s",
		Dataset: "ds",
		Subject: "02",
		Run:     "r",
		Image:   "img",
		Extra:   []string{"--fs-no-reconall"},
	}

	args := inv.Args()
	assert.NotContains(t, args, "/etc/localtime:/etc/localtime:ro")
	for _, a := range args {
		assert.False(t, strings.HasPrefix(a, "--entrypoint"))
	}
	assert.Equal(t, "--fs-no-reconall", args[len(args)-1])
}

func TestInvocationValidate(t *testing.T) {
	good := Invocation{Scratch: "/s", Dataset: "ds", Subject: "01", Run: "r", Image: "img"}
	require.NoError(t, good.Validate())

	bad := Invocation{Scratch: "relative", Subject: "sub-", Run: "a/b"}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"absolute", "image", "dataset", "run", "subject"} {
		assert.Contains(t, err.Error(), want)
	}

	colon := good
	colon.Scratch = "/s:bad"
	assert.Error(t, colon.Validate())
}

func TestInvocationPrepare(t *testing.T) {
	inv := stagedInvocation(t, "01")
	require.NoError(t, inv.Prepare())
	assert.DirExists(t, inv.HostOutputDir())
	assert.DirExists(t, inv.HostWorkDir())

	missing := inv
	missing.Dataset = "ds999"
	assert.ErrorContains(t, missing.Prepare(), "not staged")
}

func TestRunName(t *testing.T) {
	assert.Equal(t, "sub-01", RunName("", "01", false))
	assert.Equal(t, "sub-01", RunName("", "sub-01", true))
	assert.Equal(t, "base", RunName("base", "01", false))
	assert.Equal(t, "base_sub-01", RunName("base", "01", true))
}

func TestVolumeMount(t *testing.T) {
	assert.Equal(t, "/a:/b:ro", VolumeMount{HostPath: "/a", ContainerPath: "/b", ReadOnly: true}.String())
	assert.Equal(t, "/a:/b", VolumeMount{HostPath: "/a", ContainerPath: "/b"}.String())
	assert.Error(t, VolumeMount{HostPath: "/a", ContainerPath: "b"}.Validate())
	assert.Error(t, VolumeMount{ContainerPath: "/b"}.Validate())
}

func TestDockerEngine(t *testing.T) {
	rec := newMockCommandRecorder()
	rec.stdout = "24.0.7\n"
	engine := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(rec.commandFunc(t)))

	assert.True(t, engine.Available())
	v, err := engine.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "24.0.7", v)

	ok, err := engine.ImageExists(context.Background(), "img")
	require.NoError(t, err)
	assert.True(t, ok)

	rec.exitCodes["run"] = 3
	res, err := engine.Run(context.Background(), RunOptions{Image: "img", Command: []string{"-S", "01"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	calls := rec.calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "docker", last.Name)
	assert.Equal(t, []string{"run", "img", "-S", "01"}, last.Args)
}

func TestImageMissing(t *testing.T) {
	rec := newMockCommandRecorder()
	rec.exitCodes["image"] = 1
	engine := NewPodmanEngine(WithBinaryPath("podman"), WithExecCommand(rec.commandFunc(t)))

	ok, err := engine.ImageExists(context.Background(), "img")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, EnsureImage(context.Background(), engine, "img", 3, time.Millisecond))
	calls := rec.calls()
	assert.Equal(t, []string{"pull", "img"}, calls[len(calls)-1].Args)
}

func TestEnsureImageRetries(t *testing.T) {
	rec := newMockCommandRecorder()
	rec.exitCodes["image"] = 1
	rec.exitCodes["pull"] = 1
	engine := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(rec.commandFunc(t)))

	err := EnsureImage(context.Background(), engine, "img", 3, time.Millisecond)
	require.Error(t, err)

	pulls := 0
	for _, c := range rec.calls() {
		if c.Args[0] == "pull" {
			pulls++
		}
	}
	assert.Equal(t, 3, pulls)
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := errors.New("permanent")
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(int) (bool, error) {
		attempts++
		return false, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, 3, time.Hour, func(int) (bool, error) {
		return true, errors.New("again")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineUnavailable(t *testing.T) {
	rec := newMockCommandRecorder()
	rec.exitCodes["version"] = 1

	_, err := NewEngine(EngineTypeDocker, WithBinaryPath("docker"), WithExecCommand(rec.commandFunc(t)))
	var notAvailable *ErrEngineNotAvailable
	require.ErrorAs(t, err, &notAvailable)
	assert.Equal(t, "docker", notAvailable.Engine)

	_, err = NewEngine("lxc")
	assert.ErrorContains(t, err, "unknown container engine")
}

func TestNewEnginePreferred(t *testing.T) {
	rec := newMockCommandRecorder()
	engine, err := NewEngine(EngineTypePodman, WithBinaryPath("engine"), WithExecCommand(rec.commandFunc(t)))
	require.NoError(t, err)
	assert.Equal(t, "podman", engine.Name())
}

func TestLauncher(t *testing.T) {
	rec := newMockCommandRecorder()
	engine := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(rec.commandFunc(t)))

	a := stagedInvocation(t, "01")
	b := a
	b.Subject = "sub-02"
	b.Run = "run2"

	l := &Launcher{Engine: engine, MaxParallel: 2}
	results, err := l.Launch(context.Background(), []Invocation{a, b})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.ExitCode)
	}
	assert.Len(t, rec.calls(), 2)
	assert.DirExists(t, b.HostWorkDir())
}

func TestLauncherExitCode(t *testing.T) {
	rec := newMockCommandRecorder()
	rec.exitCodes["run"] = 2
	engine := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(rec.commandFunc(t)))

	l := &Launcher{Engine: engine}
	_, err := l.Launch(context.Background(), []Invocation{stagedInvocation(t, "01")})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "01", exitErr.Subject)
}

func TestLauncherDryRun(t *testing.T) {
	var out strings.Builder
	inv := stagedInvocation(t, "01")
	l := &Launcher{DryRun: true, Stdout: &out}

	_, err := l.Launch(context.Background(), []Invocation{inv})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "docker run -i")
	assert.Contains(t, out.String(), "-S 01")
}
