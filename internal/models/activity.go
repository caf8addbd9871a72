package models

import "time"

// ActivityType enumerates the supported submission modes.
const (
	ActivityTypeIndividual = "individual"
	ActivityTypeGroup      = "group"
)

// Activity is a gradable assignment tied to one course on one Moodle
// instance. The composite key comes straight from the LTI launch:
// ID = resource_link_id, CourseMoodleID = tool_consumer_instance_guid.
type Activity struct {
	ID              string     `gorm:"primaryKey;size:255" json:"id"`
	CourseMoodleID  string     `gorm:"primaryKey;size:255" json:"course_moodle_id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Description     string     `gorm:"type:text;not null" json:"description"`
	ActivityType    string     `gorm:"size:32;not null" json:"activity_type"`
	MaxGroupSize    *int       `json:"max_group_size"`
	CreatorID       string     `gorm:"size:255;not null" json:"creator_id"`
	CreatorMoodleID string     `gorm:"size:255;not null" json:"creator_moodle_id"`
	CourseID        string     `gorm:"size:255;not null" json:"course_id"`
	Deadline        *time.Time `json:"deadline"`
	EvaluatorID     *string    `gorm:"size:255" json:"evaluator_id"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsGroup reports whether submissions are shared through a join code.
func (a Activity) IsGroup() bool {
	return a.ActivityType == ActivityTypeGroup
}

// IsPastDeadline reports whether uploads should be rejected at the given time.
func (a Activity) IsPastDeadline(reference time.Time) bool {
	return a.Deadline != nil && reference.After(*a.Deadline)
}

// HasEvaluator reports whether automated evaluation is configured.
func (a Activity) HasEvaluator() bool {
	return a.EvaluatorID != nil && *a.EvaluatorID != ""
}
