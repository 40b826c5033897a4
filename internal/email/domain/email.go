package domain

import (
	"sort"
	"strings"
	"time"

	"noodle-backend/pkg/hash"
)

// Importance mirrors the mail source scale.
type Importance int

const (
	ImportanceLow    Importance = 0
	ImportanceNormal Importance = 1
	ImportanceHigh   Importance = 2
)

// Flag bits stored in Email.Flags.
const (
	FlagRead     int64 = 1 << 0
	FlagFlagged  int64 = 1 << 1
	FlagAnswered int64 = 1 << 2
	FlagDraft    int64 = 1 << 3
)

// Email is one logical message, identified by (StoreID, EntryID).
type Email struct {
	ID                uint         `json:"id" gorm:"primaryKey"`
	StoreID           string       `json:"store_id" gorm:"not null;uniqueIndex:idx_emails_key"`
	EntryID           string       `json:"entry_id" gorm:"not null;uniqueIndex:idx_emails_key"`
	ConversationID    *string      `json:"conversation_id,omitempty"`
	Folder            string       `json:"folder"`
	Subject           string       `json:"subject"`
	Sender            string       `json:"sender"`
	To                string       `json:"to" gorm:"column:to_addrs"`
	Cc                *string      `json:"cc,omitempty" gorm:"column:cc_addrs"`
	Bcc               *string      `json:"bcc,omitempty" gorm:"column:bcc_addrs"`
	SentAt            *time.Time   `json:"sent_at,omitempty"`
	ReceivedAt        time.Time    `json:"received_at"`
	BodyText          string       `json:"body_text" gorm:"type:text"`
	BodyHTML          *string      `json:"body_html,omitempty" gorm:"type:text"`
	Importance        Importance   `json:"importance"`
	Categories        *string      `json:"categories,omitempty"`
	Flags             *int64       `json:"flags,omitempty"`
	InternetMessageID *string      `json:"internet_message_id,omitempty"`
	Hash              string       `json:"hash" gorm:"not null"`
	ExcludedReason    *string      `json:"excluded_reason,omitempty"`
	LastIndexedAt     *time.Time   `json:"last_indexed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	Attachments       []Attachment `json:"attachments,omitempty" gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE"`
}

func (Email) TableName() string {
	return "emails"
}

// IsExcluded reports whether ingestion policy keeps this email away from extraction.
func (e *Email) IsExcluded() bool {
	return e.ExcludedReason != nil && *e.ExcludedReason != ""
}

// Attachment is owned by exactly one Email.
type Attachment struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	EmailID       uint      `json:"email_id" gorm:"not null;index"`
	Filename      string    `json:"filename"`
	MimeType      string    `json:"mime_type"`
	SizeBytes     int64     `json:"size_bytes"`
	Hash          string    `json:"hash"`
	ExtractedText *string   `json:"extracted_text,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// RawAttachment is an attachment as delivered by a connector.
type RawAttachment struct {
	Filename      string
	MimeType      string
	SizeBytes     int64
	Content       []byte // may be nil when the connector only reports metadata
	ExtractedText string
}

// RawEmail is what a mail connector yields. Connectors deliver at least once.
type RawEmail struct {
	MailboxID         string
	EntryID           string
	ConversationID    string
	Folder            string
	Subject           string
	Sender            string
	To                []string
	Cc                []string
	Bcc               []string
	SentAt            *time.Time
	ReceivedAt        time.Time
	BodyText          string
	BodyHTML          string
	Importance        Importance
	Categories        []string
	Flags             int64
	InternetMessageID string
	Headers           map[string]string
	Attachments       []RawAttachment
}

// AttachmentHash returns the content hash of a raw attachment, falling back
// to its metadata when no content was delivered.
func (a RawAttachment) AttachmentHash() string {
	if len(a.Content) > 0 {
		return hash.Bytes(a.Content)
	}
	return hash.Sum(a.Filename, a.MimeType, strings.TrimSpace(a.ExtractedText))
}

// ContentHash is the dedup hash of the logical content. Folder, flags and
// categories are left out so that moving or re-flagging an email does not
// count as a content change.
func (r *RawEmail) ContentHash() string {
	sent := ""
	if r.SentAt != nil {
		sent = r.SentAt.UTC().Format(time.RFC3339)
	}

	attachmentHashes := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		attachmentHashes = append(attachmentHashes, a.AttachmentHash())
	}
	sort.Strings(attachmentHashes)

	return hash.Sum(
		hash.NormalizeText(r.Subject),
		strings.ToLower(strings.TrimSpace(r.Sender)),
		joinAddrs(r.To),
		joinAddrs(r.Cc),
		joinAddrs(r.Bcc),
		sent,
		hash.NormalizeText(r.BodyText),
		strings.Join(attachmentHashes, ","),
	)
}

// ToEmail maps the raw payload onto a storable Email row.
func (r *RawEmail) ToEmail() *Email {
	e := &Email{
		StoreID:    r.MailboxID,
		EntryID:    r.EntryID,
		Folder:     r.Folder,
		Subject:    r.Subject,
		Sender:     r.Sender,
		To:         strings.Join(r.To, "; "),
		SentAt:     r.SentAt,
		ReceivedAt: r.ReceivedAt.UTC(),
		BodyText:   r.BodyText,
		Importance: r.Importance,
		Hash:       r.ContentHash(),
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	e.ConversationID = optional(r.ConversationID)
	e.Cc = optional(strings.Join(r.Cc, "; "))
	e.Bcc = optional(strings.Join(r.Bcc, "; "))
	e.BodyHTML = optional(r.BodyHTML)
	e.Categories = optional(strings.Join(r.Categories, ","))
	e.InternetMessageID = optional(r.InternetMessageID)
	if r.Flags != 0 {
		flags := r.Flags
		e.Flags = &flags
	}

	for _, a := range r.Attachments {
		att := Attachment{
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
			Hash:      a.AttachmentHash(),
		}
		att.ExtractedText = optional(a.ExtractedText)
		e.Attachments = append(e.Attachments, att)
	}
	return e
}

func joinAddrs(addrs []string) string {
	normalized := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			normalized = append(normalized, a)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ",")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
