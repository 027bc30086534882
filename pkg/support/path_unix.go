// +build !windows

package support

import (
	"os/user"
	"path/filepath"
)

// DefaultPaths returns system wide locations for root and per-user
// locations under the home directory otherwise.
func DefaultPaths() (Paths, error) {
	currentUser, err := user.Current()
	if err != nil {
		return Paths{}, err
	}
	return pathsFor(currentUser.Username, currentUser.HomeDir), nil
}

func pathsFor(username, home string) Paths {
	if username == "root" {
		return Paths{
			ArtifactDir:  "/var/lib/bizfly-archiver/artifacts",
			HistoryDir:   "/var/lib/bizfly-archiver/history",
			ScheduleFile: "/etc/bizfly-archiver/schedule.yaml",
			LogFile:      "/var/log/bizfly-archiver/bizfly-archiver.log",
		}
	}
	base := filepath.Join(home, ".bizfly-archiver")
	return Paths{
		ArtifactDir:  filepath.Join(base, "artifacts"),
		HistoryDir:   filepath.Join(base, "history"),
		ScheduleFile: filepath.Join(base, "schedule.yaml"),
		LogFile:      filepath.Join(base, "log", "bizfly-archiver.log"),
	}
}
