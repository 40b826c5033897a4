package usecase

import (
	"strings"

	emaildomain "noodle-backend/internal/email/domain"
)

// ExclusionPolicy keeps junk and unwanted senders away from AI extraction.
// Excluded emails are still stored and indexed.
type ExclusionPolicy struct {
	folders map[string]struct{}
	senders []string
}

func NewExclusionPolicy(folders, senderPatterns []string) *ExclusionPolicy {
	p := &ExclusionPolicy{folders: make(map[string]struct{}, len(folders))}
	for _, f := range folders {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			p.folders[f] = struct{}{}
		}
	}
	for _, s := range senderPatterns {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			p.senders = append(p.senders, s)
		}
	}
	return p
}

// Reason returns why e is excluded, or "" when it may be extracted.
func (p *ExclusionPolicy) Reason(e *emaildomain.Email) string {
	if p == nil || e == nil {
		return ""
	}
	if _, ok := p.folders[strings.ToLower(strings.TrimSpace(e.Folder))]; ok {
		return "folder:" + e.Folder
	}
	sender := strings.ToLower(e.Sender)
	for _, pattern := range p.senders {
		if strings.Contains(sender, pattern) {
			return "sender:" + pattern
		}
	}
	return ""
}
