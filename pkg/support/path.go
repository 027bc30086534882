// Package support resolves platform dependent default locations.
package support

// Paths are the default on-disk locations of the agent.
type Paths struct {
	ArtifactDir  string
	HistoryDir   string
	ScheduleFile string
	LogFile      string
}
