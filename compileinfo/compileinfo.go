package compileinfo

import (
	"fmt"
	"runtime/debug"
)

// Version is the release version, set with
// -ldflags "-X github.com/carbocation/sdcprep/compileinfo.Version=v1.2.3".
var Version = "dev"

type CompileInfo struct {
	Version    string
	Package    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

// Short is the version string shown by --version and recorded in run logs.
func (c CompileInfo) Short() string {
	if c.Commit == "" {
		return c.Version
	}

	commit := c.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if c.Modified {
		commit += "+dirty"
	}

	return fmt.Sprintf("%s (%s)", c.Version, commit)
}

func (c CompileInfo) String() string {
	mod := ""
	if c.Modified {
		mod = " Files in the repo were modified after that commit."
	}

	return fmt.Sprintf("This %s %s binary was built with %s at commit %v at time %v.%s", c.Package, c.Version, c.GoVersion, c.Commit, c.CommitTime, mod)
}

func Get() CompileInfo {
	out := CompileInfo{Version: Version}

	z, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}

	out.GoVersion = z.GoVersion
	out.Package = z.Path
	if out.Version == "dev" && z.Main.Version != "" && z.Main.Version != "(devel)" {
		out.Version = z.Main.Version
	}
	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}
