package domain

import "time"

// LogEntry is a persisted log record.
type LogEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Level      string    `json:"level"`
	Component  string    `json:"component"`
	Message    string    `json:"message"`
	FieldsJSON string    `json:"fields" gorm:"column:fields_json"`
	CreatedAt  time.Time `json:"created_at"`
}

func (LogEntry) TableName() string {
	return "logs"
}

// LogFilter selects log entries. Level is the minimum level.
type LogFilter struct {
	Level     string
	Component string
	Since     *time.Time
	Limit     int
}

// Setting is one runtime key/value pair.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "app_config"
}

// Keys of the runtime settings the server reads back on start.
const (
	SettingOllamaBaseURL = "ollama.base_url"
	SettingOllamaModel   = "ollama.model"
)
