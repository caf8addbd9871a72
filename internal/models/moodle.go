package models

import "time"

// Moodle represents a tool consumer instance, keyed by the
// tool_consumer_instance_guid supplied in the LTI launch.
type Moodle struct {
	ID                   string    `gorm:"primaryKey;size:255" json:"id"`
	Name                 string    `gorm:"size:255;not null" json:"name"`
	LisOutcomeServiceURL *string   `gorm:"size:512" json:"lis_outcome_service_url"`
	CreatedAt            time.Time `json:"created_at"`
}

// HasOutcomeService reports whether grade passback is possible for this instance.
func (m Moodle) HasOutcomeService() bool {
	return m.LisOutcomeServiceURL != nil && *m.LisOutcomeServiceURL != ""
}
