package meta

import (
	"fmt"
	"runtime"
)

// Info is the build information linked into an emuconsole binary, printed by
// `emuconsole version` and stamped on the man pages.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag is the build tags the binary was built with
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// String renders the build info on one line.
func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("emuconsole %s (%s %s) %s %s", version, i.Build, i.Branch, i.GoVersion, i.Platform)
}
