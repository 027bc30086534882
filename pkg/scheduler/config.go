package scheduler

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
)

// DefaultSchedule runs every night at 02:00.
const DefaultSchedule = "0 2 * * *"

// DefaultRetentionDays is the retention window used when none is configured.
const DefaultRetentionDays = 30

// Config is the persisted schedule together with the default job options.
type Config struct {
	Schedule      string   `yaml:"schedule" json:"schedule"`
	Encrypt       bool     `yaml:"encrypt" json:"encrypt"`
	Backends      []string `yaml:"backends" json:"backends"`
	RetentionDays int      `yaml:"retention_days" json:"retention_days"`
	Folders       []string `yaml:"folders" json:"folders"`
	Database      bool     `yaml:"database" json:"database"`
}

// DefaultConfig is used when no schedule file exists.
func DefaultConfig() Config {
	return Config{
		Schedule:      DefaultSchedule,
		RetentionDays: DefaultRetentionDays,
		Database:      true,
	}
}

// LoadConfig reads the schedule file at path. A missing file yields the
// default config. Keys absent from the file keep their default values. On a
// malformed file the default config is returned along with the error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return DefaultConfig(), err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}
	return cfg, nil
}

// Plan returns the work one firing performs.
func (c Config) Plan() backup.Plan {
	return backup.Plan{
		Database:      c.Database,
		Folders:       c.Folders,
		Encrypt:       c.Encrypt,
		Backends:      c.Backends,
		RetentionDays: c.RetentionDays,
	}
}
