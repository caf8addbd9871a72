package models

import "time"

// Role values carried over from the LTI launch roles claim.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// User is an LTI-provisioned account, keyed by (user_id, moodle instance).
type User struct {
	ID        string    `gorm:"primaryKey;size:255" json:"id"`
	MoodleID  string    `gorm:"primaryKey;size:255" json:"moodle_id"`
	FullName  string    `gorm:"size:255;not null" json:"full_name"`
	Email     *string   `gorm:"size:255" json:"email"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsTeacher reports whether the user holds the instructor role.
func (u User) IsTeacher() bool {
	return u.Role == RoleTeacher
}
