package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/ingest"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string
	Username string
	Password string
	// MailboxID namespaces entry ids; defaults to the username.
	MailboxID           string
	AttachmentTextLimit int
	// Plaintext dials without TLS. Only meant for local test servers.
	Plaintext bool
}

// Connector reads folders over IMAP. Checkpoints have the form
// "uidvalidity:uid" with uid the highest UID already delivered.
type Connector struct {
	cfg    Config
	logger *zap.Logger
}

func NewConnector(cfg Config, logger *zap.Logger) *Connector {
	if cfg.MailboxID == "" {
		cfg.MailboxID = cfg.Username
	}
	if cfg.AttachmentTextLimit <= 0 {
		cfg.AttachmentTextLimit = 64 << 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, logger: logger.Named("imap")}
}

func (c *Connector) Name() string { return "imap" }

// Checkpoint is a parsed IMAP position.
type Checkpoint struct {
	UIDValidity uint32
	UID         uint32
}

func (cp Checkpoint) String() string {
	return fmt.Sprintf("%d:%d", cp.UIDValidity, cp.UID)
}

// ParseCheckpoint returns ok=false for empty or malformed checkpoints.
func ParseCheckpoint(s string) (Checkpoint, bool) {
	validity, uid, found := strings.Cut(s, ":")
	if !found {
		return Checkpoint{}, false
	}
	v, err := strconv.ParseUint(validity, 10, 32)
	if err != nil {
		return Checkpoint{}, false
	}
	u, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return Checkpoint{}, false
	}
	return Checkpoint{UIDValidity: uint32(v), UID: uint32(u)}, true
}

func (c *Connector) dial() (*client.Client, error) {
	var (
		cl  *client.Client
		err error
	)
	if c.cfg.Plaintext {
		cl, err = client.Dial(c.cfg.Addr)
	} else {
		host := c.cfg.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		cl, err = client.DialTLS(c.cfg.Addr, &tls.Config{ServerName: host})
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	return cl, nil
}

// Folders lists the selectable mailboxes on the server.
func (c *Connector) Folders(ctx context.Context) ([]string, error) {
	cl, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer cl.Logout()
	stop := context.AfterFunc(ctx, func() { _ = cl.Terminate() })
	defer stop()

	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() { done <- cl.List("", "*", ch) }()

	var names []string
	for m := range ch {
		selectable := true
		for _, attr := range m.Attributes {
			if attr == imap.NoSelectAttr {
				selectable = false
			}
		}
		if selectable {
			names = append(names, m.Name)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return names, nil
}

func (c *Connector) FetchSince(ctx context.Context, folder, checkpoint string, since time.Time, limit int) (*ingest.Batch, error) {
	cl, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer cl.Logout()
	// go-imap has no context support; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = cl.Terminate() })
	defer stop()

	mbox, err := cl.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	prev, ok := ParseCheckpoint(checkpoint)
	if ok && prev.UIDValidity != mbox.UidValidity {
		c.logger.Warn("UIDVALIDITY changed, rescanning folder",
			zap.String("folder", folder),
			zap.Uint32("previous", prev.UIDValidity),
			zap.Uint32("current", mbox.UidValidity),
		)
		ok = false
	}

	criteria := imap.NewSearchCriteria()
	if ok {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(prev.UID+1, 0)
	} else {
		criteria.Since = since
	}
	uids, err := cl.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}

	after := uint32(0)
	if ok {
		after = prev.UID
	}
	selected, more := selectUIDs(uids, after, limit)

	batch := &ingest.Batch{More: more}
	if len(selected) == 0 {
		next := Checkpoint{UIDValidity: mbox.UidValidity, UID: after}
		if !ok && mbox.UidNext > 0 {
			next.UID = mbox.UidNext - 1
		}
		batch.Checkpoint = next.String()
		return batch, nil
	}

	emails, err := c.fetch(cl, folder, mbox.UidValidity, selected)
	if err != nil {
		return nil, err
	}
	batch.Emails = emails
	batch.Checkpoint = Checkpoint{UIDValidity: mbox.UidValidity, UID: selected[len(selected)-1]}.String()
	return batch, nil
}

// selectUIDs keeps UIDs above after in ascending order, at most limit of them.
// A "n:*" search always matches the newest message, so the filter matters.
func selectUIDs(uids []uint32, after uint32, limit int) ([]uint32, bool) {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > after {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		return out[:limit], true
	}
	return out, false
}

func (c *Connector) fetch(cl *client.Client, folder string, validity uint32, uids []uint32) ([]*emaildomain.RawEmail, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- cl.UidFetch(seqset, items, messages) }()

	var emails []*emaildomain.RawEmail
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			c.logger.Warn("Server returned no body", zap.String("folder", folder), zap.Uint32("uid", msg.Uid))
			continue
		}
		raw, err := ParseMessage(body, c.cfg.AttachmentTextLimit)
		if err != nil {
			c.logger.Warn("Skipping unparseable message", zap.String("folder", folder), zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		raw.MailboxID = c.cfg.MailboxID
		raw.Folder = folder
		raw.EntryID = entryID(raw, folder, validity, msg.Uid)
		raw.Flags = flagBits(msg.Flags)
		fallbackReceived(raw, msg.InternalDate)
		emails = append(emails, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}
	sort.Slice(emails, func(i, j int) bool { return emails[i].ReceivedAt.Before(emails[j].ReceivedAt) })
	return emails, nil
}

// entryID prefers the Message-ID so a message moved between folders keeps
// its identity.
func entryID(raw *emaildomain.RawEmail, folder string, validity, uid uint32) string {
	if raw.InternetMessageID != "" {
		return raw.InternetMessageID
	}
	return fmt.Sprintf("%s/%d/%d", folder, validity, uid)
}

func flagBits(flags []string) int64 {
	var bits int64
	for _, f := range flags {
		switch f {
		case imap.SeenFlag:
			bits |= emaildomain.FlagRead
		case imap.FlaggedFlag:
			bits |= emaildomain.FlagFlagged
		case imap.AnsweredFlag:
			bits |= emaildomain.FlagAnswered
		case imap.DraftFlag:
			bits |= emaildomain.FlagDraft
		}
	}
	return bits
}
