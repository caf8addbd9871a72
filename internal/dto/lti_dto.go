package dto

// LaunchParams holds the LTI 1.1 launch fields the tool consumes, parsed from
// the signed POST form.
type LaunchParams struct {
	ResourceLinkID           string `form:"resource_link_id" validate:"required"`
	ToolConsumerInstanceGUID string `form:"tool_consumer_instance_guid" validate:"required"`
	ToolConsumerInstanceName string `form:"tool_consumer_instance_name"`
	ContextID                string `form:"context_id" validate:"required"`
	ContextTitle             string `form:"context_title"`
	UserID                   string `form:"user_id" validate:"required"`
	Roles                    string `form:"roles"`
	LisPersonNameFull        string `form:"lis_person_name_full"`
	LisPersonContactEmail    string `form:"lis_person_contact_email_primary"`
	LisResultSourcedID       string `form:"lis_result_sourcedid"`
	LisOutcomeServiceURL     string `form:"lis_outcome_service_url"`
	ResourceLinkTitle        string `form:"resource_link_title"`
}

// LTIContextResponse is the session snapshot handed to the frontend after a
// launch, mirroring what the launch stored.
type LTIContextResponse struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	FullName    string `json:"full_name"`
	Role        string `json:"role"`
	CourseID    string `json:"course_id"`
	CourseTitle string `json:"course_title"`
	ActivityID  string `json:"activity_id"`
	MoodleID    string `json:"moodle_id"`
	MoodleName  string `json:"moodle_name"`
	HasPassback bool   `json:"has_passback"`
	Debug       bool   `json:"debug"`
}
