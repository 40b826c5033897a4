package domain

import "time"

// VectorSyncHistory records which content hash of an email was last projected
// into the vector store, so unchanged emails are not re-embedded.
type VectorSyncHistory struct {
	EmailID  uint      `json:"email_id" gorm:"primaryKey;autoIncrement:false"`
	Hash     string    `json:"hash" gorm:"not null"`
	SyncedAt time.Time `json:"synced_at"`
}

func (VectorSyncHistory) TableName() string {
	return "vector_sync_history"
}

// EmailEmbedding is a locally stored vector, used when no Chroma server is configured.
type EmailEmbedding struct {
	EmailID    uint      `json:"email_id" gorm:"primaryKey;autoIncrement:false"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	VectorJSON string    `json:"-" gorm:"column:vector_json"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (EmailEmbedding) TableName() string {
	return "email_embeddings"
}
