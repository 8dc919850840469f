// Package container launches the containerized fMRI preprocessing pipeline
// through the docker or podman command line.
package container

import (
	"context"
	"fmt"
	"io"
)

// Engine defines the container operations sdcprep needs.
type Engine interface {
	// Name returns the engine name (docker or podman)
	Name() string
	// Available checks if the engine is available on the system
	Available() bool
	// Version returns the engine version
	Version(ctx context.Context) (string, error)
	// Run runs a container and waits for it to exit
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
	// ImageExists checks if an image is present locally
	ImageExists(ctx context.Context, image string) (bool, error)
	// Pull fetches an image from its registry
	Pull(ctx context.Context, image string) error
}

// RunOptions contains options for running a container.
type RunOptions struct {
	// Image is the image to run
	Image string
	// Entrypoint overrides the image entrypoint when set
	Entrypoint string
	// Command holds the arguments passed to the entrypoint
	Command []string
	// WorkDir is the working directory inside the container
	WorkDir string
	// Volumes are bind mounts, rendered in order
	Volumes []VolumeMount
	// Env contains environment variables
	Env map[string]string
	// Remove automatically removes the container after exit
	Remove bool
	// Name is the container name
	Name string
	// Interactive keeps stdin open
	Interactive bool
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// RunResult contains the result of running a container.
type RunResult struct {
	// ExitCode is the exit code of the container process
	ExitCode int
	// Error is set when the engine could not be started at all
	Error error
}

// EngineType identifies the container engine type.
type EngineType string

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is returned when a container engine is not available.
type ErrEngineNotAvailable struct {
	Engine string
	Reason string
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine creates a container engine of the preferred type, falling back to
// the other engine when the preferred one is missing.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	switch preferredType {
	case EngineTypePodman:
		engine := NewPodmanEngine(opts...)
		if engine.Available() {
			return engine, nil
		}
		dockerEngine := NewDockerEngine(opts...)
		if dockerEngine.Available() {
			return dockerEngine, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		engine := NewDockerEngine(opts...)
		if engine.Available() {
			return engine, nil
		}
		podmanEngine := NewPodmanEngine(opts...)
		if podmanEngine.Available() {
			return podmanEngine, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferredType)
	}
}
