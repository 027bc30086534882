package agentversion

import "fmt"

// Set at build time via -ldflags "-X".
var (
	version   string
	commit    string
	buildTime string
)

// Version returns agent version.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Info returns version, commit and build time on one line.
func Info() string {
	return fmt.Sprintf("version: %s, commit: %s, built: %s", Version(), orUnknown(commit), orUnknown(buildTime))
}
