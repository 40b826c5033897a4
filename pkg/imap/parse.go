package imap

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	emaildomain "noodle-backend/internal/email/domain"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxPartBytes bounds how much of a single MIME part is read into memory.
const maxPartBytes = 10 << 20

// ParseMessage turns an RFC 822 message into a raw email. Text attachments
// are inlined up to attachmentTextLimit bytes; other attachments keep only
// their metadata and content hash.
func ParseMessage(r io.Reader, attachmentTextLimit int) (*emaildomain.RawEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	raw := &emaildomain.RawEmail{Importance: emaildomain.ImportanceNormal}
	readHeader(&mr.Header, raw)

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("parse message part: %w", err)
		}
		if p == nil {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch ct {
			case "text/plain", "":
				if raw.BodyText == "" {
					raw.BodyText = string(body)
				}
			case "text/html":
				if raw.BodyHTML == "" {
					raw.BodyHTML = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			att := emaildomain.RawAttachment{
				Filename:  filename,
				MimeType:  ct,
				SizeBytes: int64(len(body)),
				Content:   body,
			}
			if strings.HasPrefix(ct, "text/") {
				att.ExtractedText = emaildomain.Truncate(string(body), attachmentTextLimit)
			}
			raw.Attachments = append(raw.Attachments, att)
		}
	}

	if strings.TrimSpace(raw.BodyText) == "" && raw.BodyHTML != "" {
		raw.BodyText = emaildomain.PlainText(raw.BodyHTML)
	}
	raw.BodyText = strings.TrimSpace(strings.ReplaceAll(raw.BodyText, "\r\n", "\n"))
	return raw, nil
}

func readHeader(h *mail.Header, raw *emaildomain.RawEmail) {
	raw.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		raw.Sender = strings.ToLower(from[0].Address)
	} else {
		raw.Sender = strings.ToLower(strings.TrimSpace(h.Get("From")))
	}
	raw.To = addresses(h, "To")
	raw.Cc = addresses(h, "Cc")
	raw.Bcc = addresses(h, "Bcc")

	if date, err := h.Date(); err == nil && !date.IsZero() {
		d := date.UTC()
		raw.SentAt = &d
		raw.ReceivedAt = d
	}
	if id, err := h.MessageID(); err == nil {
		raw.InternetMessageID = id
	}
	raw.ConversationID = conversationID(h, raw.InternetMessageID)
	raw.Importance = importance(h)

	if kw := h.Get("Keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				raw.Categories = append(raw.Categories, k)
			}
		}
	}
}

func addresses(h *mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

// conversationID is the root of the References chain, falling back to the
// replied-to message and then the message itself.
func conversationID(h *mail.Header, messageID string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	return messageID
}

func importance(h *mail.Header) emaildomain.Importance {
	switch strings.ToLower(strings.TrimSpace(h.Get("Importance"))) {
	case "high":
		return emaildomain.ImportanceHigh
	case "low":
		return emaildomain.ImportanceLow
	}
	// X-Priority: 1 (Highest) .. 5 (Lowest)
	switch p := strings.TrimSpace(h.Get("X-Priority")); {
	case strings.HasPrefix(p, "1"), strings.HasPrefix(p, "2"):
		return emaildomain.ImportanceHigh
	case strings.HasPrefix(p, "4"), strings.HasPrefix(p, "5"):
		return emaildomain.ImportanceLow
	}
	return emaildomain.ImportanceNormal
}

// ParseBytes is ParseMessage over an in-memory message.
func ParseBytes(b []byte, attachmentTextLimit int) (*emaildomain.RawEmail, error) {
	return ParseMessage(bytes.NewReader(b), attachmentTextLimit)
}

func fallbackReceived(raw *emaildomain.RawEmail, internal time.Time) {
	if !internal.IsZero() {
		raw.ReceivedAt = internal.UTC()
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}
}
