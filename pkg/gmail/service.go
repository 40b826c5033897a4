package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	netmail "net/mail"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/ingest"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	user = "me"
	// maxListed bounds the message ids read for one folder scan.
	maxListed = 5000
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Address is the mailbox id; defaults to the profile address.
	Address             string
	AttachmentTextLimit int
}

// Connector reads Gmail labels as folders. Checkpoints are the internal
// date (unix milliseconds) of the newest message already delivered.
type Connector struct {
	srv    *gmail.Service
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	labels map[string]string // lower-cased name or id -> label id
}

// NewConnector authenticates with the stored refresh token.
func NewConnector(ctx context.Context, cfg Config, logger *zap.Logger) (*Connector, error) {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
		// Force a refresh on first use
		Expiry: time.Now(),
	}
	client := oauth2.NewClient(ctx, config.TokenSource(ctx, token))

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return NewConnectorWithService(srv, cfg, logger), nil
}

// NewConnectorWithService wraps an existing client, e.g. one pointed at a test server.
func NewConnectorWithService(srv *gmail.Service, cfg Config, logger *zap.Logger) *Connector {
	if cfg.AttachmentTextLimit <= 0 {
		cfg.AttachmentTextLimit = 64 << 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{srv: srv, cfg: cfg, logger: logger.Named("gmail")}
}

func (c *Connector) Name() string { return "gmail" }

// Ping validates the credentials with a profile call and fills in the address.
func (c *Connector) Ping(ctx context.Context) error {
	profile, err := c.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail profile: %w", err)
	}
	if c.cfg.Address == "" {
		c.cfg.Address = profile.EmailAddress
	}
	return nil
}

// Watch registers push notifications for the inbox on a Pub/Sub topic.
func (c *Connector) Watch(ctx context.Context, topicName string) (*gmail.WatchResponse, error) {
	// Only one watch per user is allowed; clear any previous one.
	_ = c.srv.Users.Stop(user).Context(ctx).Do()

	resp, err := c.srv.Users.Watch(user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to watch mailbox: %w", err)
	}
	c.logger.Info("Gmail watch started", zap.String("topic", topicName), zap.Int64("expiration", resp.Expiration))
	return resp, nil
}

// StopWatch ends push notifications.
func (c *Connector) StopWatch(ctx context.Context) error {
	if err := c.srv.Users.Stop(user).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %w", err)
	}
	return nil
}

func (c *Connector) FetchSince(ctx context.Context, folder, checkpoint string, since time.Time, limit int) (*ingest.Batch, error) {
	labelID, err := c.labelID(ctx, folder)
	if err != nil {
		return nil, err
	}

	afterMs := since.UnixMilli()
	if ms, err := strconv.ParseInt(checkpoint, 10, 64); err == nil && ms > 0 {
		afterMs = ms
	}

	ids, err := c.listIDs(ctx, labelID, afterMs)
	if err != nil {
		return nil, err
	}
	// The list is newest first; deliver the oldest page.
	batch := &ingest.Batch{Checkpoint: strconv.FormatInt(afterMs, 10)}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
		batch.More = true
	}

	for i := len(ids) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := c.srv.Users.Messages.Get(user, ids[i]).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve message %s: %w", ids[i], err)
		}
		if msg.InternalDate <= afterMs {
			continue
		}
		raw := toRawEmail(msg, c.mailboxID(), folder, c.cfg.AttachmentTextLimit)
		c.loadTextAttachments(ctx, msg.Id, msg.Payload, raw)
		batch.Emails = append(batch.Emails, raw)
	}

	sort.Slice(batch.Emails, func(i, j int) bool {
		return batch.Emails[i].ReceivedAt.Before(batch.Emails[j].ReceivedAt)
	})
	if n := len(batch.Emails); n > 0 {
		batch.Checkpoint = strconv.FormatInt(batch.Emails[n-1].ReceivedAt.UnixMilli(), 10)
	}
	return batch, nil
}

func (c *Connector) mailboxID() string {
	if c.cfg.Address != "" {
		return c.cfg.Address
	}
	return user
}

func (c *Connector) listIDs(ctx context.Context, labelID string, afterMs int64) ([]string, error) {
	// after: has second granularity; exact filtering happens on InternalDate.
	q := fmt.Sprintf("after:%d", afterMs/1000)
	var ids []string
	pageToken := ""
	for len(ids) < maxListed {
		call := c.srv.Users.Messages.List(user).LabelIds(labelID).Q(q).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return ids, nil
}

var folderAliases = map[string]string{
	"inbox":         "INBOX",
	"sent":          "SENT",
	"sent items":    "SENT",
	"drafts":        "DRAFT",
	"spam":          "SPAM",
	"junk":          "SPAM",
	"junk email":    "SPAM",
	"trash":         "TRASH",
	"deleted items": "TRASH",
	"important":     "IMPORTANT",
	"starred":       "STARRED",
}

// labelID maps a folder name to a Gmail label id.
func (c *Connector) labelID(ctx context.Context, folder string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(folder))
	if id, ok := folderAliases[key]; ok {
		return id, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labels == nil {
		resp, err := c.srv.Users.Labels.List(user).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to retrieve labels: %w", err)
		}
		c.labels = labelIndex(resp.Labels)
	}
	if id, ok := c.labels[key]; ok {
		return id, nil
	}
	return "", fmt.Errorf("gmail label %q not found", folder)
}

func labelIndex(labels []*gmail.Label) map[string]string {
	index := make(map[string]string, len(labels)*2)
	for _, l := range labels {
		index[strings.ToLower(l.Id)] = l.Id
		index[strings.ToLower(l.Name)] = l.Id
	}
	return index
}

func (c *Connector) loadTextAttachments(ctx context.Context, messageID string, payload *gmail.MessagePart, raw *emaildomain.RawEmail) {
	parts := attachmentParts(payload)
	for i, part := range parts {
		if !strings.HasPrefix(part.MimeType, "text/") || part.Body == nil || part.Body.AttachmentId == "" {
			continue
		}
		body, err := c.srv.Users.Messages.Attachments.Get(user, messageID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			c.logger.Warn("Unable to retrieve attachment", zap.String("message_id", messageID), zap.String("filename", part.Filename), zap.Error(err))
			continue
		}
		data, err := decode(body.Data)
		if err != nil {
			continue
		}
		raw.Attachments[i].Content = data
		raw.Attachments[i].ExtractedText = emaildomain.Truncate(string(data), c.cfg.AttachmentTextLimit)
	}
}

// Helper functions

func toRawEmail(msg *gmail.Message, mailboxID, folder string, attachmentTextLimit int) *emaildomain.RawEmail {
	headers := msg.Payload.Headers
	raw := &emaildomain.RawEmail{
		MailboxID:      mailboxID,
		EntryID:        msg.Id,
		ConversationID: msg.ThreadId,
		Folder:         folder,
		Subject:        getHeader(headers, "Subject"),
		To:             addressList(getHeader(headers, "To")),
		Cc:             addressList(getHeader(headers, "Cc")),
		Bcc:            addressList(getHeader(headers, "Bcc")),
		ReceivedAt:     time.UnixMilli(msg.InternalDate).UTC(),
		Importance:     emaildomain.ImportanceNormal,
	}

	from := getHeader(headers, "From")
	if addr, err := mail.ParseAddress(from); err == nil {
		raw.Sender = strings.ToLower(addr.Address)
	} else {
		raw.Sender = strings.ToLower(strings.TrimSpace(from))
	}
	if date, err := netmail.ParseDate(getHeader(headers, "Date")); err == nil {
		d := date.UTC()
		raw.SentAt = &d
	}
	raw.InternetMessageID = strings.Trim(getHeader(headers, "Message-Id"), "<> ")
	if raw.InternetMessageID == "" {
		raw.InternetMessageID = strings.Trim(getHeader(headers, "Message-ID"), "<> ")
	}

	text, html := getEmailBody(msg.Payload)
	raw.BodyHTML = html
	raw.BodyText = strings.TrimSpace(text)
	if raw.BodyText == "" && html != "" {
		raw.BodyText = emaildomain.PlainText(html)
	}

	for _, label := range msg.LabelIds {
		switch {
		case label == "IMPORTANT":
			raw.Importance = emaildomain.ImportanceHigh
		case label == "STARRED":
			raw.Flags |= emaildomain.FlagFlagged
		case label == "DRAFT":
			raw.Flags |= emaildomain.FlagDraft
		case strings.HasPrefix(label, "CATEGORY_"):
			raw.Categories = append(raw.Categories, strings.ToLower(strings.TrimPrefix(label, "CATEGORY_")))
		}
	}
	if !hasLabel(msg.LabelIds, "UNREAD") {
		raw.Flags |= emaildomain.FlagRead
	}

	for _, part := range attachmentParts(msg.Payload) {
		att := emaildomain.RawAttachment{
			Filename: part.Filename,
			MimeType: part.MimeType,
		}
		if part.Body != nil {
			att.SizeBytes = part.Body.Size
			// Small attachments arrive inline.
			if part.Body.Data != "" {
				if data, err := decode(part.Body.Data); err == nil {
					att.Content = data
					if strings.HasPrefix(part.MimeType, "text/") {
						att.ExtractedText = emaildomain.Truncate(string(data), attachmentTextLimit)
					}
				}
			}
		}
		raw.Attachments = append(raw.Attachments, att)
	}
	return raw
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func addressList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{strings.ToLower(strings.TrimSpace(v))}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

func decode(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

// getEmailBody returns the first text/plain and text/html bodies outside attachments.
func getEmailBody(payload *gmail.MessagePart) (text, html string) {
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil || part.Filename != "" {
			return
		}
		if part.Body != nil && part.Body.Data != "" {
			if data, err := decode(part.Body.Data); err == nil {
				switch part.MimeType {
				case "text/plain":
					if text == "" {
						text = string(data)
					}
				case "text/html":
					if html == "" {
						html = string(data)
					}
				}
			}
		}
		for _, p := range part.Parts {
			walk(p)
		}
	}
	walk(payload)
	return text, html
}

func attachmentParts(payload *gmail.MessagePart) []*gmail.MessagePart {
	var parts []*gmail.MessagePart
	var findAttachments func(part *gmail.MessagePart)
	findAttachments = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename != "" {
			parts = append(parts, part)
		}
		for _, p := range part.Parts {
			findAttachments(p)
		}
	}
	findAttachments(payload)
	return parts
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
