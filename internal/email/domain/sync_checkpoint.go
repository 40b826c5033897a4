package domain

import "time"

// SyncCheckpoint is the connector position per folder.
type SyncCheckpoint struct {
	Connector  string    `json:"connector" gorm:"primaryKey"`
	Folder     string    `json:"folder" gorm:"primaryKey"`
	Checkpoint string    `json:"checkpoint"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}
