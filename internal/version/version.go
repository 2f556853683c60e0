package version

import (
	"fmt"
	"runtime"
)

// These variables are set via ldflags by GoReleaser
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Name is the binary name reported in version output and user agents.
const Name = "modmigrate"

// Info returns formatted version information
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s) %s",
		Name, Version, Commit, Date, runtime.Version())
}

// Short returns just the version string
func Short() string {
	return Version
}

// UserAgent is sent with outbound HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}
