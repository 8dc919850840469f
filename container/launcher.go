package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// ExitError carries the exit code of a failed container so the CLI can exit
// with it.
type ExitError struct {
	Subject string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container for subject %s exited with status %d", e.Subject, e.Code)
}

// Launcher runs invocations on an engine.
type Launcher struct {
	Engine      Engine
	Logger      *log.Logger
	MaxParallel int
	// Pull makes sure the image is present before the first run.
	Pull         bool
	PullAttempts int
	PullBackoff  time.Duration
	// DryRun prints the commands instead of running them. EngineName names
	// the binary in the printed commands when Engine is nil.
	DryRun     bool
	EngineName string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Result is the outcome of one invocation.
type Result struct {
	Invocation Invocation
	ExitCode   int
	Duration   time.Duration
	Err        error
}

func (l *Launcher) logger() *log.Logger {
	if l.Logger == nil {
		return log.Default()
	}
	return l.Logger
}

func (l *Launcher) engineName() string {
	switch {
	case l.Engine != nil:
		return l.Engine.Name()
	case l.EngineName != "":
		return l.EngineName
	}
	return string(EngineTypeDocker)
}

// Launch prepares and runs every invocation, at most MaxParallel at a time.
// Results are returned in input order. The returned error is the first
// preparation failure, or an *ExitError for the first container (in input
// order) that exited non-zero.
func (l *Launcher) Launch(ctx context.Context, invs []Invocation) ([]Result, error) {
	logger := l.logger()
	results := make([]Result, len(invs))

	for i, inv := range invs {
		results[i].Invocation = inv
		if err := inv.Prepare(); err != nil {
			return results, fmt.Errorf("subject %s: %w", inv.SubjectID(), err)
		}
	}

	if l.DryRun {
		out := l.Stdout
		if out == nil {
			out = os.Stdout
		}
		for _, inv := range invs {
			fmt.Fprintln(out, inv.CommandLine(l.engineName()))
		}
		return results, nil
	}

	if l.Engine == nil {
		return results, &ErrEngineNotAvailable{Engine: "none", Reason: "no engine configured"}
	}

	if l.Pull {
		pulled := make(map[string]bool)
		for _, inv := range invs {
			if pulled[inv.Image] {
				continue
			}
			logger.Info("ensuring image", "image", inv.Image, "engine", l.Engine.Name())
			if err := EnsureImage(ctx, l.Engine, inv.Image, max(l.PullAttempts, 1), l.PullBackoff); err != nil {
				return results, err
			}
			pulled[inv.Image] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.MaxParallel, 1))

	var mu sync.Mutex
	for i, inv := range invs {
		g.Go(func() error {
			opts := inv.RunOptions()
			opts.Stdout = l.Stdout
			opts.Stderr = l.Stderr

			logger.Info("launching", "subject", inv.SubjectID(), "run", inv.Run, "image", inv.Image)
			logger.Debug("command", "cmd", inv.CommandLine(l.Engine.Name()))

			start := time.Now()
			res, err := l.Engine.Run(gctx, opts)

			mu.Lock()
			defer mu.Unlock()
			results[i].Duration = time.Since(start)
			if err != nil {
				results[i].Err = err
				results[i].ExitCode = 1
			} else {
				results[i].ExitCode = res.ExitCode
				results[i].Err = res.Error
			}

			if results[i].ExitCode != 0 {
				logger.Error("container failed", "subject", inv.SubjectID(), "status", results[i].ExitCode, "err", results[i].Err)
			} else {
				logger.Info("container finished", "subject", inv.SubjectID(), "elapsed", results[i].Duration.Round(time.Second))
			}

			// Failures land in results; the other subjects keep running.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	for _, r := range results {
		if r.ExitCode != 0 {
			return results, &ExitError{Subject: r.Invocation.SubjectID(), Code: r.ExitCode}
		}
	}

	return results, nil
}
