// Command sdcprep estimates and applies susceptibility distortion correction
// for BIDS fMRI datasets, and launches the containerized fMRIPrep pipeline for
// the strategies it does not implement itself.
package main

import (
	"context"
	"os"

	"github.com/carbocation/sdcprep/compileinfo"
	"github.com/charmbracelet/fang"
)

func main() {
	root := newRootCommand(newApp())

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(compileinfo.Get().Short()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(exitCode(err))
	}
}
