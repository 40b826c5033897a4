package ingest

import (
	"context"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
)

// Batch is one page of a folder delta.
type Batch struct {
	Emails []*emaildomain.RawEmail
	// Checkpoint is the position after this batch. Empty keeps the previous one.
	Checkpoint string
	// More reports that another page is available right away.
	More bool
}

// Connector reads a mail source. Delivery is at least once: a batch may
// repeat emails the store has already seen.
type Connector interface {
	Name() string
	// FetchSince returns emails of folder after checkpoint. An empty
	// checkpoint means a first scan starting at since.
	FetchSince(ctx context.Context, folder, checkpoint string, since time.Time, limit int) (*Batch, error)
}
