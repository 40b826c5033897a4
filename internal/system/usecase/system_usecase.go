package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"noodle-backend/internal/system/domain"
	"noodle-backend/internal/system/repository"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"

	"go.uber.org/zap"
)

// OllamaSettings is the runtime-editable Ollama configuration.
type OllamaSettings struct {
	BaseURL string `json:"ollama_base_url"`
	Model   string `json:"ollama_model,omitempty"`
}

// ConnectionResult is the outcome of probing an Ollama server.
type ConnectionResult struct {
	Connected bool     `json:"connected"`
	BaseURL   string   `json:"ollama_base_url"`
	Models    []string `json:"models,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type SystemUsecase interface {
	Logs(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error)
	PruneLogs(ctx context.Context, olderThan time.Duration) (int64, error)

	ListSettings(ctx context.Context) ([]domain.Setting, error)
	GetSetting(ctx context.Context, key string) (*domain.Setting, error)
	SetSetting(ctx context.Context, key, value string) (*domain.Setting, error)

	Ollama() OllamaSettings
	UpdateOllama(ctx context.Context, in OllamaSettings) (OllamaSettings, error)
	// TestOllama probes baseURL, or the current URL when empty.
	TestOllama(ctx context.Context, baseURL string) ConnectionResult
	// LoadPersisted applies stored settings to the runtime ones.
	LoadPersisted(ctx context.Context) error
}

type systemUsecase struct {
	logs     repository.LogRepository
	settings repository.SettingsRepository
	runtime  *ai.RuntimeSettings
	logger   *zap.Logger
	now      func() time.Time
}

func NewSystemUsecase(
	logs repository.LogRepository,
	settings repository.SettingsRepository,
	runtime *ai.RuntimeSettings,
	logger *zap.Logger,
) SystemUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runtime == nil {
		runtime = ai.NewRuntimeSettings("", "")
	}
	return &systemUsecase{
		logs:     logs,
		settings: settings,
		runtime:  runtime,
		logger:   logger.Named("system"),
		now:      time.Now,
	}
}

func (u *systemUsecase) Logs(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error) {
	return u.logs.List(ctx, filter)
}

func (u *systemUsecase) PruneLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperrors.Invalid("older_than", "must be positive")
	}
	n, err := u.logs.Prune(ctx, u.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	u.logger.Info("Pruned logs", zap.Int64("deleted", n), zap.Duration("older_than", olderThan))
	return n, nil
}

func (u *systemUsecase) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	return u.settings.List(ctx)
}

func (u *systemUsecase) GetSetting(ctx context.Context, key string) (*domain.Setting, error) {
	s, err := u.settings.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("setting %s: %w", key, apperrors.ErrNotFound)
	}
	return s, nil
}

func (u *systemUsecase) SetSetting(ctx context.Context, key, value string) (*domain.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.Invalid("key", "must not be empty")
	}
	switch key {
	case domain.SettingOllamaBaseURL:
		if _, err := u.UpdateOllama(ctx, OllamaSettings{BaseURL: value}); err != nil {
			return nil, err
		}
		return u.settings.Get(ctx, key)
	case domain.SettingOllamaModel:
		if _, err := u.UpdateOllama(ctx, OllamaSettings{Model: value}); err != nil {
			return nil, err
		}
		return u.settings.Get(ctx, key)
	}
	return u.settings.Set(ctx, key, value)
}

func (u *systemUsecase) Ollama() OllamaSettings {
	return OllamaSettings{BaseURL: u.runtime.OllamaBaseURL(), Model: u.runtime.OllamaModel()}
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return apperrors.Invalid("ollama_base_url", "%q is not an http(s) URL", raw)
	}
	return nil
}

func (u *systemUsecase) UpdateOllama(ctx context.Context, in OllamaSettings) (OllamaSettings, error) {
	in.BaseURL = strings.TrimSuffix(strings.TrimSpace(in.BaseURL), "/")
	in.Model = strings.TrimSpace(in.Model)
	if in.BaseURL == "" && in.Model == "" {
		return u.Ollama(), apperrors.Invalid("ollama_base_url", "nothing to update")
	}
	if in.BaseURL != "" {
		if err := validateBaseURL(in.BaseURL); err != nil {
			return u.Ollama(), err
		}
		if _, err := u.settings.Set(ctx, domain.SettingOllamaBaseURL, in.BaseURL); err != nil {
			return u.Ollama(), err
		}
	}
	if in.Model != "" {
		if _, err := u.settings.Set(ctx, domain.SettingOllamaModel, in.Model); err != nil {
			return u.Ollama(), err
		}
	}
	u.runtime.SetOllama(in.BaseURL, in.Model)

	current := u.Ollama()
	u.logger.Info("Ollama settings updated", zap.String("base_url", current.BaseURL), zap.String("model", current.Model))
	return current, nil
}

func (u *systemUsecase) TestOllama(ctx context.Context, baseURL string) ConnectionResult {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = u.runtime.OllamaBaseURL()
	}
	result := ConnectionResult{BaseURL: baseURL}
	if err := validateBaseURL(baseURL); err != nil {
		result.Error = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := ai.NewOllamaService(baseURL, "").ListModels(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Connected = true
	result.Models = models
	return result
}

func (u *systemUsecase) LoadPersisted(ctx context.Context) error {
	var baseURL, model string
	if s, err := u.settings.Get(ctx, domain.SettingOllamaBaseURL); err != nil {
		return err
	} else if s != nil {
		baseURL = s.Value
	}
	if s, err := u.settings.Get(ctx, domain.SettingOllamaModel); err != nil {
		return err
	} else if s != nil {
		model = s.Value
	}
	if baseURL == "" && model == "" {
		return nil
	}
	u.runtime.SetOllama(baseURL, model)
	u.logger.Info("Loaded persisted Ollama settings", zap.String("base_url", u.runtime.OllamaBaseURL()), zap.String("model", u.runtime.OllamaModel()))
	return nil
}
