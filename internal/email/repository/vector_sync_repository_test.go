package repository

import (
	"context"
	"testing"

	"noodle-backend/pkg/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSync_TracksHash(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	emails := NewEmailRepository(db)
	repo := NewVectorSyncRepository(db)
	ctx := context.Background()

	res, err := emails.UpsertEmail(ctx, rawEmail("e-1", "Budget"))
	require.NoError(t, err)
	email, err := emails.GetByID(ctx, res.EmailID)
	require.NoError(t, err)

	pending, err := repo.PendingEmailIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{res.EmailID}, pending)

	require.NoError(t, repo.MarkSynced(ctx, res.EmailID, email.Hash))
	synced, err := repo.IsSynced(ctx, res.EmailID, email.Hash)
	require.NoError(t, err)
	assert.True(t, synced)

	pending, err = repo.PendingEmailIDs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = emails.UpsertEmail(ctx, rawEmail("e-1", "Budget v2"))
	require.NoError(t, err)
	pending, err = repo.PendingEmailIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{res.EmailID}, pending)

	synced, err = repo.IsSynced(ctx, res.EmailID, "other")
	require.NoError(t, err)
	assert.False(t, synced)
}

func TestCheckpointRepository(t *testing.T) {
	repo := NewCheckpointRepository(testhelpers.NewTestDB(t))
	ctx := context.Background()

	cp, err := repo.Get(ctx, "imap", "INBOX")
	require.NoError(t, err)
	assert.Empty(t, cp)

	require.NoError(t, repo.Save(ctx, "imap", "INBOX", "100"))
	require.NoError(t, repo.Save(ctx, "imap", "INBOX", "140"))
	require.NoError(t, repo.Save(ctx, "imap", "Sent", "7"))

	cp, err = repo.Get(ctx, "imap", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "140", cp)

	all, err := repo.List(ctx, "imap")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Reset(ctx, "imap"))
	all, err = repo.List(ctx, "imap")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStatsRepository(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	emails := NewEmailRepository(db)
	ctx := context.Background()

	_, err := emails.UpsertEmail(ctx, rawEmail("e-1", "A"))
	require.NoError(t, err)
	b, err := emails.UpsertEmail(ctx, rawEmail("e-2", "B"))
	require.NoError(t, err)
	require.NoError(t, emails.MarkExcluded(ctx, b.EmailID, "folder:Junk"))
	require.NoError(t, db.Exec(`INSERT INTO extracted_email_facts
		(email_id, primary_type, intent, urgency, sentiment, waiting_on, needs_response, summary, confidence, created_at, updated_at)
		VALUES (1, 'request', 'ask', 'high', 'concerned', 'me', TRUE, 's', 0.7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error)

	stats, err := NewStatsRepository(db).Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEmails)
	assert.EqualValues(t, 1, stats.ExtractedEmails)
	assert.EqualValues(t, 1, stats.ExcludedEmails)
	assert.EqualValues(t, 1, stats.NeedsResponse)
	assert.EqualValues(t, 1, stats.SentimentCounts["concerned"])
	assert.EqualValues(t, 1, stats.UrgencyCounts["high"])
	assert.EqualValues(t, 2, stats.FolderCounts["INBOX"])
}
