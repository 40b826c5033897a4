package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"noodle-backend/internal/email/repository"
	factsrepo "noodle-backend/internal/facts/repository"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/chroma"

	"go.uber.org/zap"
)

const maxVectorBodyChars = 4000

// VectorDocument is the projection of one email into a vector store.
type VectorDocument struct {
	EmailID  uint
	Text     string
	Metadata map[string]interface{}
}

// VectorMatch is a similarity hit. Smaller distances are closer.
type VectorMatch struct {
	EmailID  uint    `json:"email_id"`
	Distance float64 `json:"distance"`
}

// VectorStore is the derived vector-similarity projection.
type VectorStore interface {
	Upsert(ctx context.Context, doc VectorDocument) error
	Query(ctx context.Context, text string, limit int) ([]VectorMatch, error)
	Delete(ctx context.Context, emailID uint) error
}

// VectorSyncer mirrors the search index contract for the vector projection:
// committed extractions are upserted, purged emails removed, and emails whose
// projection failed are caught up by Backfill.
type VectorSyncer struct {
	store   VectorStore
	emails  repository.EmailRepository
	facts   factsrepo.FactsRepository
	history repository.VectorSyncRepository
	logger  *zap.Logger
}

func NewVectorSyncer(store VectorStore, emails repository.EmailRepository, facts factsrepo.FactsRepository, history repository.VectorSyncRepository, logger *zap.Logger) *VectorSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorSyncer{store: store, emails: emails, facts: facts, history: history, logger: logger.Named("vector_sync")}
}

// Sync projects the email unless this exact hash was already projected.
func (v *VectorSyncer) Sync(ctx context.Context, emailID uint, hash string) error {
	synced, err := v.history.IsSynced(ctx, emailID, hash)
	if err != nil {
		return err
	}
	if synced {
		return nil
	}

	email, err := v.emails.GetByID(ctx, emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return nil
	}
	facts, err := v.facts.Get(ctx, emailID)
	if err != nil {
		return err
	}

	doc := VectorDocument{
		EmailID: emailID,
		Metadata: map[string]interface{}{
			"email_id": strconv.FormatUint(uint64(emailID), 10),
			"mailbox":  email.StoreID,
			"folder":   email.Folder,
			"subject":  email.Subject,
		},
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Subject: %s\n", email.Subject)
	if facts != nil {
		fmt.Fprintf(&text, "Summary: %s\n", facts.Summary)
		if facts.ProjectName != nil {
			doc.Metadata["project"] = *facts.ProjectName
		}
	}
	text.WriteString("\n")
	text.WriteString(truncateRunes(email.BodyText, maxVectorBodyChars))
	doc.Text = text.String()

	if err := v.store.Upsert(ctx, doc); err != nil {
		return err
	}
	return v.history.MarkSynced(ctx, emailID, email.Hash)
}

// Backfill projects up to limit emails that are missing or stale in the vector store.
func (v *VectorSyncer) Backfill(ctx context.Context, limit int) (int, error) {
	ids, err := v.history.PendingEmailIDs(ctx, limit)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		email, err := v.emails.GetByID(ctx, id)
		if err != nil {
			return synced, err
		}
		if email == nil {
			continue
		}
		if err := v.Sync(ctx, id, email.Hash); err != nil {
			v.logger.Warn("Backfill failed", zap.Uint("email_id", id), zap.Error(err))
			continue
		}
		synced++
	}
	if synced > 0 {
		v.logger.Info("Vector backfill completed", zap.Int("synced", synced), zap.Int("pending", len(ids)))
	}
	return synced, nil
}

// Remove deletes the projection of a purged email.
func (v *VectorSyncer) Remove(ctx context.Context, emailID uint) error {
	if err := v.store.Delete(ctx, emailID); err != nil {
		return err
	}
	return v.history.Delete(ctx, emailID)
}

func (v *VectorSyncer) Search(ctx context.Context, query string, limit int) ([]VectorMatch, error) {
	return v.store.Query(ctx, query, limit)
}

// chromaStore adapts the Chroma client to VectorStore.
type chromaStore struct {
	client *chroma.ChromaClient
}

func NewChromaVectorStore(client *chroma.ChromaClient) VectorStore {
	return &chromaStore{client: client}
}

func (s *chromaStore) Upsert(ctx context.Context, doc VectorDocument) error {
	return s.client.Upsert(ctx, chroma.Document{
		ID:       strconv.FormatUint(uint64(doc.EmailID), 10),
		Text:     doc.Text,
		Metadata: doc.Metadata,
	})
}

func (s *chromaStore) Query(ctx context.Context, text string, limit int) ([]VectorMatch, error) {
	matches, err := s.client.Query(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	out := make([]VectorMatch, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseUint(m.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, VectorMatch{EmailID: uint(id), Distance: m.Distance})
	}
	return out, nil
}

func (s *chromaStore) Delete(ctx context.Context, emailID uint) error {
	return s.client.Delete(ctx, strconv.FormatUint(uint64(emailID), 10))
}

// localStore embeds through the AI provider and keeps vectors in the primary
// database. Queries scan every vector; it is meant for single-user corpora.
type localStore struct {
	repo     repository.EmbeddingRepository
	embedder ai.Provider
}

func NewLocalVectorStore(repo repository.EmbeddingRepository, embedder ai.Provider) VectorStore {
	return &localStore{repo: repo, embedder: embedder}
}

func (s *localStore) Upsert(ctx context.Context, doc VectorDocument) error {
	vec, err := s.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, doc.EmailID, string(s.embedder.Name()), vec)
}

func (s *localStore) Query(ctx context.Context, text string, limit int) ([]VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var matches []VectorMatch
	err = s.repo.Each(ctx, func(sv repository.StoredVector) bool {
		if len(sv.Vector) != len(query) {
			return true
		}
		matches = append(matches, VectorMatch{EmailID: sv.EmailID, Distance: 1 - cosine(query, sv.Vector)})
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *localStore) Delete(ctx context.Context, emailID uint) error {
	return s.repo.Delete(ctx, emailID)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
