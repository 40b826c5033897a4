package repository

import (
	"context"
	"time"

	emaildomain "noodle-backend/internal/email/domain"

	"gorm.io/gorm"
)

// UpsertResult reports what UpsertEmail did.
type UpsertResult struct {
	EmailID uint
	// IsNew is true when the dedup key had never been seen.
	IsNew bool
	// ContentChanged is true when an existing email came back with a different hash.
	ContentChanged bool
	// MetadataChanged is true when only folder, flags or categories moved.
	MetadataChanged bool
}

// NeedsExtraction reports whether the email content warrants a (re)extraction.
func (r UpsertResult) NeedsExtraction() bool {
	return r.IsNew || r.ContentChanged
}

// EmailRepository is the record store for emails and their attachments.
type EmailRepository interface {
	// UpsertEmail inserts a new email or updates the one stored under the same
	// (mailbox, entry id). An unchanged hash with unchanged metadata performs no write.
	UpsertEmail(ctx context.Context, raw *emaildomain.RawEmail) (UpsertResult, error)
	GetByKey(ctx context.Context, mailboxID, entryID string) (*emaildomain.Email, error)
	GetByID(ctx context.Context, id uint) (*emaildomain.Email, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*emaildomain.Email, error)
	Find(ctx context.Context, filter emaildomain.EmailFilter) ([]*emaildomain.Email, error)
	MarkExcluded(ctx context.Context, id uint, reason string) error
	ClearExcluded(ctx context.Context, id uint) error
	MarkIndexed(ctx context.Context, id uint, at time.Time) error
	// PendingExtraction lists ids of emails never extracted and not excluded, oldest first.
	PendingExtraction(ctx context.Context, limit int) ([]uint, error)
	// Delete removes the email; attachments, facts, mentions and edges cascade.
	Delete(ctx context.Context, id uint) error
	WithTx(tx *gorm.DB) EmailRepository
}
