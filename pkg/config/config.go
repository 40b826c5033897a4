package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for noodle-backend.
// Values come from the environment (a .env file is loaded first when present),
// or from the YAML file named by NOODLE_CONFIG with environment overrides.
// Secrets are environment-only (yaml:"-").
type Config struct {
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"development"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	// Entries at or above this level are copied into the logs table.
	LogStoreLevel string `yaml:"log_store_level" env:"LOG_STORE_LEVEL" env-default:"info"`
	// When set, the HTTP API requires an HS256 bearer token signed with it.
	APIJWTSecret string `yaml:"-" env:"API_JWT_SECRET"`

	Database  DatabaseConfig  `yaml:"database"`
	AI        AIConfig        `yaml:"ai"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sync      SyncConfig      `yaml:"sync"`
	IMAP      IMAPConfig      `yaml:"imap"`
	Gmail     GmailConfig     `yaml:"gmail"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Chroma    ChromaConfig    `yaml:"chroma"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"` // sqlite | postgres
	// File path for sqlite, connection string for postgres.
	DSN string `yaml:"dsn" env:"DB_DSN" env-default:"noodle.db"`
}

type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"ollama"` // ollama | openai | anthropic | gemini | auto
	// Used by FallbackProvider when the primary is unreachable or out of quota.
	FallbackProvider string        `yaml:"fallback_provider" env:"AI_FALLBACK_PROVIDER" env-default:""`
	Model            string        `yaml:"model" env:"AI_MODEL" env-default:""`
	EmbeddingModel   string        `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:""`
	Temperature      float32       `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0"`
	Timeout          time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"120s"`

	OllamaBaseURL   string `yaml:"ollama_base_url" env:"OLLAMA_BASE_URL" env-default:"http://localhost:11434"`
	OpenAIBaseURL   string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:""`
	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `yaml:"-" env:"GEMINI_API_KEY"`
}

type PipelineConfig struct {
	Workers   int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"3"`
	QueueSize int `yaml:"queue_size" env:"PIPELINE_QUEUE_SIZE" env-default:"500"`

	MaxRetries   int           `yaml:"max_retries" env:"PIPELINE_MAX_RETRIES" env-default:"3"`
	RetryInitial time.Duration `yaml:"retry_initial" env:"PIPELINE_RETRY_INITIAL" env-default:"500ms"`
	RetryMax     time.Duration `yaml:"retry_max" env:"PIPELINE_RETRY_MAX" env-default:"10s"`

	// Bodies are truncated to this many characters before they reach the model.
	MaxBodyChars int `yaml:"max_body_chars" env:"PIPELINE_MAX_BODY_CHARS" env-default:"8000"`

	ExcludedFolders []string `yaml:"excluded_folders" env:"PIPELINE_EXCLUDED_FOLDERS" env-separator:"," env-default:"Junk Email,Junk,Spam,Deleted Items,Trash"`
	// Case-insensitive substrings matched against the sender address.
	ExcludedSenders []string `yaml:"excluded_senders" env:"PIPELINE_EXCLUDED_SENDERS" env-separator:"," env-default:""`
}

type SyncConfig struct {
	Connector    string        `yaml:"connector" env:"SYNC_CONNECTOR" env-default:"none"` // imap | gmail | none
	Folders      []string      `yaml:"folders" env:"SYNC_FOLDERS" env-separator:"," env-default:"INBOX,Sent"`
	InitialDays  int           `yaml:"initial_days" env:"SYNC_INITIAL_DAYS" env-default:"90"`
	Interval     time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"2m"`
	BatchSize    int           `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"200"`
	AttachmentKB int           `yaml:"attachment_text_kb" env:"SYNC_ATTACHMENT_TEXT_KB" env-default:"64"`
}

type IMAPConfig struct {
	Addr     string `yaml:"addr" env:"IMAP_ADDR" env-default:""` // host:port, TLS
	Username string `yaml:"username" env:"IMAP_USERNAME" env-default:""`
	Password string `yaml:"-" env:"IMAP_PASSWORD"`
}

type GmailConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
	RefreshToken string `yaml:"-" env:"GOOGLE_REFRESH_TOKEN"`
	Address      string `yaml:"address" env:"GMAIL_ADDRESS" env-default:""`
}

type PubSubConfig struct {
	ProjectID       string `yaml:"project_id" env:"GOOGLE_PROJECT_ID" env-default:""`
	Topic           string `yaml:"topic" env:"GOOGLE_PUBSUB_TOPIC" env-default:"gmail-updates"`
	CredentialsFile string `yaml:"-" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type ChromaConfig struct {
	BaseURL    string `yaml:"base_url" env:"CHROMA_BASE_URL" env-default:""`
	APIKey     string `yaml:"-" env:"CHROMA_API_KEY"`
	Tenant     string `yaml:"tenant" env:"CHROMA_TENANT" env-default:""`
	Database   string `yaml:"database" env:"CHROMA_DATABASE" env-default:""`
	Collection string `yaml:"collection" env:"CHROMA_COLLECTION" env-default:"emails"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" env:"NEO4J_URI" env-default:""`
	User     string `yaml:"user" env:"NEO4J_USER" env-default:"neo4j"`
	Password string `yaml:"-" env:"NEO4J_PASSWORD"`
	Database string `yaml:"database" env:"NEO4J_DATABASE" env-default:"neo4j"`
}

type SchedulerConfig struct {
	Tick time.Duration `yaml:"tick" env:"SCHEDULER_TICK" env-default:"30s"`
	// Upper bound on emails folded into one aggregate prompt call.
	MaxScopeEmails int `yaml:"max_scope_emails" env:"SCHEDULER_MAX_SCOPE_EMAILS" env-default:"50"`
}

// Load reads configuration from the environment, or from the YAML file named
// by NOODLE_CONFIG with environment overrides.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if path := os.Getenv("NOODLE_CONFIG"); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Sync.Connector {
	case "imap":
		if c.IMAP.Addr == "" || c.IMAP.Username == "" {
			return fmt.Errorf("IMAP_ADDR and IMAP_USERNAME are required for the imap connector")
		}
	case "gmail":
		if c.Gmail.ClientID == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_REFRESH_TOKEN are required for the gmail connector")
		}
	case "none", "":
	default:
		return fmt.Errorf("unsupported SYNC_CONNECTOR %q", c.Sync.Connector)
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 3
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 500
	}
	c.Pipeline.ExcludedFolders = trimAll(c.Pipeline.ExcludedFolders)
	c.Pipeline.ExcludedSenders = trimAll(c.Pipeline.ExcludedSenders)
	c.Sync.Folders = trimAll(c.Sync.Folders)
	return nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
