package models

import "time"

// Course mirrors an LTI context, keyed by (context_id, moodle instance).
type Course struct {
	ID        string    `gorm:"primaryKey;size:255" json:"id"`
	MoodleID  string    `gorm:"primaryKey;size:255" json:"moodle_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
