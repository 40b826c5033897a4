package repository

import (
	"context"
	"testing"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEmail(entryID, subject string) *emaildomain.RawEmail {
	return &emaildomain.RawEmail{
		MailboxID:  "mbx-1",
		EntryID:    entryID,
		Folder:     "INBOX",
		Subject:    subject,
		Sender:     "alice@example.com",
		To:         []string{"bob@example.com"},
		ReceivedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		BodyText:   "Please review the quarterly numbers.",
		Attachments: []emaildomain.RawAttachment{
			{Filename: "q1.pdf", MimeType: "application/pdf", SizeBytes: 10, Content: []byte("pdf")},
		},
	}
}

func TestUpsertEmail_IdempotentForUnchangedContent(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.True(t, first.NeedsExtraction())

	second, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)
	assert.Equal(t, first.EmailID, second.EmailID)
	assert.False(t, second.IsNew)
	assert.False(t, second.ContentChanged)
	assert.False(t, second.MetadataChanged)
	assert.False(t, second.NeedsExtraction())

	var emails, attachments int64
	require.NoError(t, db.Table("emails").Count(&emails).Error)
	require.NoError(t, db.Table("attachments").Count(&attachments).Error)
	assert.EqualValues(t, 1, emails)
	assert.EqualValues(t, 1, attachments)
}

func TestUpsertEmail_ContentChangeUpdatesRow(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)

	changed := rawEmail("e-1", "Budget v2")
	changed.Attachments = nil
	res, err := repo.UpsertEmail(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, first.EmailID, res.EmailID)
	assert.True(t, res.ContentChanged)
	assert.True(t, res.NeedsExtraction())

	email, err := repo.GetByID(ctx, res.EmailID)
	require.NoError(t, err)
	require.NotNil(t, email)
	assert.Equal(t, "Budget v2", email.Subject)
	assert.Equal(t, changed.ContentHash(), email.Hash)
	assert.Empty(t, email.Attachments)
}

func TestUpsertEmail_FolderMoveIsMetadataOnly(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)

	moved := rawEmail("e-1", "Budget")
	moved.Folder = "Archive"
	res, err := repo.UpsertEmail(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, first.EmailID, res.EmailID)
	assert.True(t, res.MetadataChanged)
	assert.False(t, res.NeedsExtraction())

	email, err := repo.GetByKey(ctx, "mbx-1", "e-1")
	require.NoError(t, err)
	assert.Equal(t, "Archive", email.Folder)
}

func TestUpsertEmail_RequiresKey(t *testing.T) {
	repo := NewEmailRepository(testhelpers.NewTestDB(t))
	_, err := repo.UpsertEmail(context.Background(), &emaildomain.RawEmail{MailboxID: "mbx-1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetByKey_Missing(t *testing.T) {
	repo := NewEmailRepository(testhelpers.NewTestDB(t))
	email, err := repo.GetByKey(context.Background(), "mbx-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, email)
}

func TestMarkExcludedAndFind(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	a, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)
	b, err := repo.UpsertEmail(ctx, rawEmail("e-2", "Offsite"))
	require.NoError(t, err)

	require.NoError(t, repo.MarkExcluded(ctx, b.EmailID, "folder:Junk"))
	assert.ErrorIs(t, repo.MarkExcluded(ctx, 9999, "x"), apperrors.ErrNotFound)

	found, err := repo.Find(ctx, emaildomain.EmailFilter{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.EmailID, found[0].ID)

	all, err := repo.Find(ctx, emaildomain.EmailFilter{IncludeExcluded: true, Participants: []string{"BOB@example.com"}})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.Find(ctx, emaildomain.EmailFilter{Folders: []string{"Sent"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFind_DateRange(t *testing.T) {
	repo := NewEmailRepository(testhelpers.NewTestDB(t))
	ctx := context.Background()

	older := rawEmail("e-old", "Old")
	older.ReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.UpsertEmail(ctx, older)
	require.NoError(t, err)
	_, err = repo.UpsertEmail(ctx, rawEmail("e-new", "New"))
	require.NoError(t, err)

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	found, err := repo.Find(ctx, emaildomain.EmailFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "New", found[0].Subject)
}

func TestDelete_CascadesDependents(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	res, err := repo.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Exec(
		"INSERT INTO entities (entity_type, canonical_name, normalized_key, created_at) VALUES (?, ?, ?, ?)",
		"person", "Alice", "person|alice", now).Error)
	require.NoError(t, db.Exec(
		"INSERT INTO entity_mentions (email_id, entity_id, role, confidence, created_at) VALUES (?, 1, 'sender', 0.9, ?)",
		res.EmailID, now).Error)

	require.NoError(t, repo.Delete(ctx, res.EmailID))
	assert.ErrorIs(t, repo.Delete(ctx, res.EmailID), apperrors.ErrNotFound)

	var attachments, mentions, entities int64
	require.NoError(t, db.Table("attachments").Count(&attachments).Error)
	require.NoError(t, db.Table("entity_mentions").Count(&mentions).Error)
	require.NoError(t, db.Table("entities").Count(&entities).Error)
	assert.Zero(t, attachments)
	assert.Zero(t, mentions)
	assert.EqualValues(t, 1, entities)
}

func TestGetByIDs_PreservesOrder(t *testing.T) {
	repo := NewEmailRepository(testhelpers.NewTestDB(t))
	ctx := context.Background()

	a, err := repo.UpsertEmail(ctx, rawEmail("e-1", "A"))
	require.NoError(t, err)
	b, err := repo.UpsertEmail(ctx, rawEmail("e-2", "B"))
	require.NoError(t, err)

	emails, err := repo.GetByIDs(ctx, []uint{b.EmailID, 4242, a.EmailID})
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "B", emails[0].Subject)
	assert.Equal(t, "A", emails[1].Subject)
}

func TestPendingExtraction_SkipsIndexedAndExcluded(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	repo := NewEmailRepository(db)
	ctx := context.Background()

	var ids []uint
	for _, entry := range []string{"e-1", "e-2", "e-3", "e-4"} {
		res, err := repo.UpsertEmail(ctx, rawEmail(entry, "Budget "+entry))
		require.NoError(t, err)
		ids = append(ids, res.EmailID)
	}
	require.NoError(t, repo.MarkIndexed(ctx, ids[0], time.Now()))
	require.NoError(t, repo.MarkExcluded(ctx, ids[1], "folder:Junk"))

	pending, err := repo.PendingExtraction(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{ids[2], ids[3]}, pending)

	limited, err := repo.PendingExtraction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{ids[2]}, limited)

	// Clearing the exclusion makes the email eligible again.
	require.NoError(t, repo.ClearExcluded(ctx, ids[1]))
	pending, err = repo.PendingExtraction(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{ids[1], ids[2], ids[3]}, pending)
}
