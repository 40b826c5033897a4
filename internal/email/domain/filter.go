package domain

import "time"

// EmailFilter selects emails for scoped prompts and listings.
// Zero-valued fields do not constrain the result.
type EmailFilter struct {
	Folders         []string
	Since           *time.Time
	Until           *time.Time
	Project         string
	NeedsResponse   *bool
	Sentiments      []string
	Participants    []string
	IncludeExcluded bool
	Limit           int
	Offset          int
}
