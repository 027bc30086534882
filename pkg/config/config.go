// Package config maps viper settings into the typed agent configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/database"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/storage"
	"github.com/bizflycloud/bizfly-archiver/pkg/support"
)

// EnvPrefix prefixes every environment variable read by the agent, so
// database.password is read from ARCHIVER_DATABASE_PASSWORD.
const EnvPrefix = "ARCHIVER"

const (
	defaultArtifactDir  = "/var/lib/bizfly-archiver/artifacts"
	defaultHistoryDir   = "/var/lib/bizfly-archiver/history"
	defaultScheduleFile = "/etc/bizfly-archiver/schedule.yaml"
	defaultOrphanGrace  = time.Hour
	defaultTopic        = "archiver/events"
)

// Notify holds notification transport settings.
type Notify struct {
	WebhookURL string
	BrokerURL  string
	Topic      string
}

// Config is the agent configuration.
type Config struct {
	ArtifactDir  string
	HistoryDir   string
	ScheduleFile string
	LogFile      string

	Database      database.ConnParams
	EncryptionKey []byte

	S3       storage.S3Config
	FTP      storage.FTPConfig
	LocalDir string

	Notify    Notify
	BrokerURL string
	MachineID string

	OrphanGrace time.Duration
}

// Configure sets the environment binding and defaults on v.
func Configure(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	paths := defaultPaths()
	v.SetDefault("artifact_dir", paths.ArtifactDir)
	v.SetDefault("history_dir", paths.HistoryDir)
	v.SetDefault("schedule_file", paths.ScheduleFile)
	v.SetDefault("database.port", 5432)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("ftp.timeout", 30*time.Second)
	v.SetDefault("notify.topic", defaultTopic)
	v.SetDefault("orphan_grace", defaultOrphanGrace)
}

func defaultPaths() support.Paths {
	p, err := support.DefaultPaths()
	if err != nil {
		return support.Paths{
			ArtifactDir:  defaultArtifactDir,
			HistoryDir:   defaultHistoryDir,
			ScheduleFile: defaultScheduleFile,
		}
	}
	return p
}

// Load reads the configuration from v. A malformed encryption key is a
// configuration error; an absent one only fails once encryption is requested.
func Load(v *viper.Viper) (*Config, error) {
	key, err := envelope.ParseKey(v.GetString("encryption_key"))
	if err != nil {
		return nil, fmt.Errorf("%w: encryption_key: %w", backup.ErrConfiguration, err)
	}

	cfg := &Config{
		ArtifactDir:  v.GetString("artifact_dir"),
		HistoryDir:   v.GetString("history_dir"),
		ScheduleFile: v.GetString("schedule_file"),
		LogFile:      v.GetString("log_file"),
		Database: database.ConnParams{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
		},
		EncryptionKey: key,
		S3: storage.S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			Region:    v.GetString("s3.region"),
			Bucket:    v.GetString("s3.bucket"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			Prefix:    v.GetString("s3.prefix"),
		},
		FTP: storage.FTPConfig{
			Addr:     v.GetString("ftp.addr"),
			User:     v.GetString("ftp.user"),
			Password: v.GetString("ftp.password"),
			Dir:      v.GetString("ftp.dir"),
			Timeout:  v.GetDuration("ftp.timeout"),
		},
		LocalDir: v.GetString("local.dir"),
		Notify: Notify{
			WebhookURL: v.GetString("notify.webhook_url"),
			BrokerURL:  v.GetString("notify.broker_url"),
			Topic:      v.GetString("notify.topic"),
		},
		BrokerURL:   v.GetString("broker_url"),
		MachineID:   v.GetString("machine_id"),
		OrphanGrace: v.GetDuration("orphan_grace"),
	}
	if cfg.ArtifactDir == "" {
		return nil, fmt.Errorf("%w: artifact_dir is empty", backup.ErrConfiguration)
	}
	return cfg, nil
}

// Cipher returns the artifact cipher, nil when no key is configured.
func (c *Config) Cipher() (*envelope.Cipher, error) {
	if len(c.EncryptionKey) == 0 {
		return nil, nil
	}
	return envelope.New(c.EncryptionKey)
}

// Backends builds the registry of configured upload targets. Variants
// without settings are left out.
func (c *Config) Backends(logger *zap.Logger) (*storage.Registry, error) {
	var backends []storage.Backend
	if c.LocalDir != "" {
		l, err := storage.NewLocal(c.LocalDir)
		if err != nil {
			return nil, err
		}
		backends = append(backends, l)
	}
	if c.S3.Configured() {
		s, err := storage.NewS3(c.S3, storage.WithS3Logger(logger))
		if err != nil {
			return nil, err
		}
		backends = append(backends, s)
	}
	if c.FTP.Configured() {
		f, err := storage.NewFTP(c.FTP, storage.WithFTPLogger(logger))
		if err != nil {
			return nil, err
		}
		backends = append(backends, f)
	}
	return storage.NewRegistry(backends...), nil
}
