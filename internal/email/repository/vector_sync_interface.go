package repository

import "context"

// VectorSyncRepository tracks which email content is already in the vector store
type VectorSyncRepository interface {
	// IsSynced reports whether the email was projected with this exact hash
	IsSynced(ctx context.Context, emailID uint, hash string) (bool, error)
	// MarkSynced records the hash that was just projected
	MarkSynced(ctx context.Context, emailID uint, hash string) error
	// PendingEmailIDs lists emails whose current hash was never projected
	PendingEmailIDs(ctx context.Context, limit int) ([]uint, error)
	// Delete forgets the email, e.g. after removing it from the vector store
	Delete(ctx context.Context, emailID uint) error
}
