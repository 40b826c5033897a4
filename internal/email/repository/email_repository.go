package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/pkg/apperrors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// emailRepository implements EmailRepository with gorm
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) WithTx(tx *gorm.DB) EmailRepository {
	return &emailRepository{db: tx}
}

// UpsertEmail applies the dedup policy: identity is the key, the hash only
// decides whether content changed. A duplicate insert under the key is
// treated as "already exists" and re-read.
func (r *emailRepository) UpsertEmail(ctx context.Context, raw *emaildomain.RawEmail) (UpsertResult, error) {
	if raw == nil || raw.MailboxID == "" || raw.EntryID == "" {
		return UpsertResult{}, fmt.Errorf("upsert email: %w: mailbox id and entry id are required", apperrors.ErrInvalidInput)
	}

	email := raw.ToEmail()
	db := r.db.WithContext(ctx)

	existing, err := r.GetByKey(ctx, raw.MailboxID, raw.EntryID)
	if err != nil {
		return UpsertResult{}, err
	}

	if existing == nil {
		attachments := email.Attachments
		email.Attachments = nil
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(email)
		if res.Error != nil && !apperrors.IsUniqueViolation(res.Error) {
			return UpsertResult{}, fmt.Errorf("insert email %s/%s: %w", raw.MailboxID, raw.EntryID, res.Error)
		}
		if res.Error == nil && res.RowsAffected == 1 {
			if err := r.insertAttachments(db, email.ID, attachments); err != nil {
				return UpsertResult{}, err
			}
			return UpsertResult{EmailID: email.ID, IsNew: true}, nil
		}

		// Lost the race to a concurrent insert of the same key.
		existing, err = r.GetByKey(ctx, raw.MailboxID, raw.EntryID)
		if err != nil {
			return UpsertResult{}, err
		}
		if existing == nil {
			return UpsertResult{}, fmt.Errorf("email %s/%s vanished after conflict", raw.MailboxID, raw.EntryID)
		}
		email.Attachments = attachments
	}

	if existing.Hash == email.Hash {
		if !metadataDiffers(existing, email) {
			return UpsertResult{EmailID: existing.ID}, nil
		}
		err := db.Model(&emaildomain.Email{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"folder":     email.Folder,
			"flags":      email.Flags,
			"categories": email.Categories,
			"importance": email.Importance,
			"updated_at": time.Now().UTC(),
		}).Error
		if err != nil {
			return UpsertResult{}, fmt.Errorf("update email %d metadata: %w", existing.ID, err)
		}
		return UpsertResult{EmailID: existing.ID, MetadataChanged: true}, nil
	}

	err = db.Model(&emaildomain.Email{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
		"conversation_id":     email.ConversationID,
		"folder":              email.Folder,
		"subject":             email.Subject,
		"sender":              email.Sender,
		"to_addrs":            email.To,
		"cc_addrs":            email.Cc,
		"bcc_addrs":           email.Bcc,
		"sent_at":             email.SentAt,
		"received_at":         email.ReceivedAt,
		"body_text":           email.BodyText,
		"body_html":           email.BodyHTML,
		"importance":          email.Importance,
		"categories":          email.Categories,
		"flags":               email.Flags,
		"internet_message_id": email.InternetMessageID,
		"hash":                email.Hash,
		"updated_at":          time.Now().UTC(),
	}).Error
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update email %d: %w", existing.ID, err)
	}

	if err := db.Where("email_id = ?", existing.ID).Delete(&emaildomain.Attachment{}).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("replace attachments of email %d: %w", existing.ID, err)
	}
	if err := r.insertAttachments(db, existing.ID, email.Attachments); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{EmailID: existing.ID, ContentChanged: true}, nil
}

func (r *emailRepository) insertAttachments(db *gorm.DB, emailID uint, attachments []emaildomain.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	for i := range attachments {
		attachments[i].ID = 0
		attachments[i].EmailID = emailID
	}
	if err := db.Create(&attachments).Error; err != nil {
		return fmt.Errorf("insert attachments of email %d: %w", emailID, err)
	}
	return nil
}

func metadataDiffers(a, b *emaildomain.Email) bool {
	return a.Folder != b.Folder ||
		a.Importance != b.Importance ||
		ptrString(a.Categories) != ptrString(b.Categories) ||
		ptrInt(a.Flags) != ptrInt(b.Flags)
}

func ptrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptrInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

func (r *emailRepository) GetByKey(ctx context.Context, mailboxID, entryID string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.WithContext(ctx).Where("store_id = ? AND entry_id = ?", mailboxID, entryID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) GetByID(ctx context.Context, id uint) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.WithContext(ctx).Preload("Attachments").First(&email, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

// GetByIDs returns the emails in the order of ids, skipping unknown ids.
func (r *emailRepository) GetByIDs(ctx context.Context, ids []uint) ([]*emaildomain.Email, error) {
	if len(ids) == 0 {
		return []*emaildomain.Email{}, nil
	}
	var rows []*emaildomain.Email
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]*emaildomain.Email, len(rows))
	for _, e := range rows {
		byID[e.ID] = e
	}
	ordered := make([]*emaildomain.Email, 0, len(rows))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// Find resolves a filter against emails, joining facts for the fact-level predicates.
func (r *emailRepository) Find(ctx context.Context, filter emaildomain.EmailFilter) ([]*emaildomain.Email, error) {
	q := r.db.WithContext(ctx).Model(&emaildomain.Email{}).Select("emails.*")

	needsFacts := filter.Project != "" || filter.NeedsResponse != nil || len(filter.Sentiments) > 0
	if needsFacts {
		q = q.Joins("JOIN extracted_email_facts f ON f.email_id = emails.id")
	}
	if len(filter.Folders) > 0 {
		q = q.Where("emails.folder IN ?", filter.Folders)
	}
	if filter.Since != nil {
		q = q.Where("emails.received_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		q = q.Where("emails.received_at < ?", filter.Until.UTC())
	}
	if filter.Project != "" {
		q = q.Where("LOWER(f.project_name) = ?", strings.ToLower(strings.TrimSpace(filter.Project)))
	}
	if filter.NeedsResponse != nil {
		q = q.Where("f.needs_response = ?", *filter.NeedsResponse)
	}
	if len(filter.Sentiments) > 0 {
		q = q.Where("f.sentiment IN ?", filter.Sentiments)
	}
	if len(filter.Participants) > 0 {
		or := r.db.Session(&gorm.Session{NewDB: true})
		for i, p := range filter.Participants {
			like := "%" + strings.ToLower(strings.TrimSpace(p)) + "%"
			cond := "LOWER(emails.sender) LIKE ? OR LOWER(emails.to_addrs) LIKE ? OR LOWER(COALESCE(emails.cc_addrs, '')) LIKE ?"
			if i == 0 {
				or = or.Where(cond, like, like, like)
			} else {
				or = or.Or(cond, like, like, like)
			}
		}
		q = q.Where(or)
	}
	if !filter.IncludeExcluded {
		q = q.Where("emails.excluded_reason IS NULL OR emails.excluded_reason = ''")
	}

	q = q.Order("emails.received_at DESC").Order("emails.id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var emails []*emaildomain.Email
	if err := q.Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) MarkExcluded(ctx context.Context, id uint, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("mark excluded: %w: reason is required", apperrors.ErrInvalidInput)
	}
	res := r.db.WithContext(ctx).Model(&emaildomain.Email{}).Where("id = ?", id).Update("excluded_reason", reason)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("email %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *emailRepository) ClearExcluded(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&emaildomain.Email{}).Where("id = ?", id).Update("excluded_reason", nil).Error
}

func (r *emailRepository) PendingExtraction(ctx context.Context, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uint
	err := r.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Where("last_indexed_at IS NULL AND (excluded_reason IS NULL OR excluded_reason = '')").
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *emailRepository) MarkIndexed(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&emaildomain.Email{}).Where("id = ?", id).Update("last_indexed_at", at.UTC()).Error
}

func (r *emailRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&emaildomain.Email{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete email %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("email %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
