package broker

import "errors"

// Event types understood by the agent.
const (
	BackupDatabase  = "backup_database"
	BackupFiles     = "backup_files"
	BackupScheduled = "backup_scheduled"
	RestoreDatabase = "restore_database"
	RestoreFiles    = "restore_files"
	Cleanup         = "cleanup"
	StatusNotify    = "status_notify"
)

// ErrUnknownEventType is raised when receiving unhandled event from broker.
var ErrUnknownEventType = errors.New("unknown event type")

// Message is the message event format.
type Message struct {
	EventType string `json:"event_type"`
	MachineID string `json:"machine_id"`
	CreatedAt string `json:"created_at"`

	// For performing backups.
	Filename string   `json:"filename,omitempty"`
	Folders  []string `json:"folders,omitempty"`
	Encrypt  *bool    `json:"encrypt,omitempty"`
	Backends []string `json:"backends,omitempty"`

	// For performing restore.
	ArtifactPath string   `json:"artifact_path,omitempty"`
	DestFolder   string   `json:"dest_folder,omitempty"`
	Files        []string `json:"files,omitempty"`

	// For performing cleanup.
	MaxAgeDays int `json:"max_age_days,omitempty"`

	// For status notifications.
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment carries text output, such as a failed dump's stderr, along with
// a status notification.
type Attachment struct {
	Name string `json:"name"`
	Data string `json:"data"`
}
