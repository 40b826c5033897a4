package ai

import "sync"

// RuntimeSettings holds provider settings that can change while serving.
type RuntimeSettings struct {
	mu            sync.RWMutex
	ollamaBaseURL string
	ollamaModel   string
}

func NewRuntimeSettings(ollamaBaseURL, ollamaModel string) *RuntimeSettings {
	return &RuntimeSettings{ollamaBaseURL: ollamaBaseURL, ollamaModel: ollamaModel}
}

func (r *RuntimeSettings) OllamaBaseURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ollamaBaseURL
}

func (r *RuntimeSettings) OllamaModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ollamaModel
}

// SetOllama updates the settings; an empty model keeps the current one.
func (r *RuntimeSettings) SetOllama(baseURL, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if baseURL != "" {
		r.ollamaBaseURL = baseURL
	}
	if model != "" {
		r.ollamaModel = model
	}
}
