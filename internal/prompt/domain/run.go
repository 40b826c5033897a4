package domain

import "time"

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed
}

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// PeriodicRun is one execution attempt of a prompt. DueAt is the occurrence
// it serves; manual runs use the time they were requested.
type PeriodicRun struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	PromptID        string     `json:"prompt_id" gorm:"not null"`
	DueAt           time.Time  `json:"due_at"`
	RunAt           time.Time  `json:"run_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          RunStatus  `json:"status"`
	TriggerKind     Trigger    `json:"trigger" gorm:"column:trigger_kind"`
	EmailsProcessed int        `json:"emails_processed"`
	OutputJSON      *string    `json:"output_json,omitempty" gorm:"column:output_json"`
	OutputText      *string    `json:"output_text,omitempty" gorm:"column:output_text"`
	ErrorText       *string    `json:"error,omitempty" gorm:"column:error_text"`
}

func (PeriodicRun) TableName() string {
	return "periodic_runs"
}

// RunResult is what an executed run reports back for persistence.
type RunResult struct {
	EmailsProcessed int
	OutputJSON      string
	OutputText      string
}
