package chroma

import (
	"context"
	"fmt"
	"os"

	"noodle-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	"go.uber.org/zap"
)

const maxDocumentChars = 10000

// Document is one text projected into the collection.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
}

// Match is a query hit; smaller distances are closer.
type Match struct {
	ID       string
	Distance float64
}

type ChromaClient struct {
	client     chroma.Client
	collection chroma.Collection
	logger     *zap.Logger
}

// NewChromaClient connects to Chroma and opens the configured collection.
// Server-side embeddings use the Gemini embedding function, so a Gemini API
// key is required.
func NewChromaClient(ctx context.Context, cfg config.ChromaConfig, geminiAPIKey string, logger *zap.Logger) (*ChromaClient, error) {
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		return nil, fmt.Errorf("CHROMA_BASE_URL or CHROMA_API_KEY is required")
	}
	if geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for Chroma embeddings")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The embedding function reads its key from the environment.
	if os.Getenv("GEMINI_API_KEY") == "" {
		_ = os.Setenv("GEMINI_API_KEY", geminiAPIKey)
	}
	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = chroma.ChromaCloudEndpoint
	}
	opts := []chroma.ClientOption{chroma.WithBaseURL(baseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, chroma.WithCloudAPIKey(cfg.APIKey))
	}
	switch {
	case cfg.Database != "" && cfg.Tenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.Database, cfg.Tenant))
	case cfg.Tenant != "":
		opts = append(opts, chroma.WithTenant(cfg.Tenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	name := cfg.Collection
	if name == "" {
		name = "emails"
	}
	collection, err := client.GetOrCreateCollection(ctx, name, chroma.WithEmbeddingFunctionCreate(embedFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	logger.Named("chroma").Info("Initialized Chroma collection", zap.String("collection", name))
	return &ChromaClient{client: client, collection: collection, logger: logger.Named("chroma")}, nil
}

// Upsert adds or replaces the document stored under doc.ID.
func (c *ChromaClient) Upsert(ctx context.Context, doc Document) error {
	text := doc.Text
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}

	metadata, err := chroma.NewDocumentMetadataFromMap(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(doc.ID)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(text),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Query returns up to limit documents closest to text.
func (c *ChromaClient) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(text),
		chroma.WithNResults(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return []Match{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id)}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			m.Distance = float64(distanceGroups[0][i])
		}
		matches = append(matches, m)
	}
	c.logger.Debug("Query completed", zap.Int("matches", len(matches)))
	return matches, nil
}

func (c *ChromaClient) Delete(ctx context.Context, id string) error {
	if err := c.collection.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(id))); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}
