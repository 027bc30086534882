package support

// DefaultPaths returns locations under Program Files.
func DefaultPaths() (Paths, error) {
	return Paths{
		ArtifactDir:  "C:\\Program Files\\bizfly-archiver\\artifacts",
		HistoryDir:   "C:\\Program Files\\bizfly-archiver\\history",
		ScheduleFile: "C:\\Program Files\\bizfly-archiver\\schedule.yaml",
		LogFile:      "C:\\Program Files\\bizfly-archiver\\log\\bizfly-archiver.log",
	}, nil
}
