// Package model defines the core domain types for the course registration system.
package model

import "time"

// Period tags. A registrant's selection is confined to one of them at a time.
const (
	Period1 = "PERIOD_1"
	Period2 = "PERIOD_2"
)

// Registrant roles.
const (
	RoleParticipant = "participant"
	RoleInstructor  = "instructor"
)

// ScheduleWindow is the resolved meeting interval of a course.
//
// Days are day-of-month numbers and form an inclusive range; they are only
// meaningful when Dated is set. Start and End are minutes since midnight and
// form a half-open range. Valid is false when the catalog descriptors could
// not be parsed, in which case the window never conflicts with anything.
type ScheduleWindow struct {
	Period   string `json:"period"`
	Dated    bool   `json:"dated"`
	FirstDay int    `json:"first_day,omitempty"`
	LastDay  int    `json:"last_day,omitempty"`
	Start    int    `json:"start_minute"`
	End      int    `json:"end_minute"`
	Valid    bool   `json:"valid"`
}

// Course is a catalog entry. Courses are immutable once loaded.
type Course struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Period        string         `json:"period"`
	DateRange     string         `json:"date_range"`
	TimeRange     string         `json:"time_range"`
	Venue         string         `json:"venue"`
	Hours         float64        `json:"hours"`
	Type          string         `json:"type"`
	Registrations int            `json:"registrations"`
	Window        ScheduleWindow `json:"window"`
}

// CourseRecord is a catalog row as supplied by a catalog source, before it
// has been validated into a Course.
type CourseRecord struct {
	ID            string
	Name          string
	Period        string
	DateRange     string
	TimeRange     string
	Venue         string
	Hours         float64
	Type          string
	Registrations int
}

// Department is an entry of the reference department list.
type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegistrantProfile holds the personal data captured by the form.
type RegistrantProfile struct {
	Name       string `json:"name" validate:"required,max=200"`
	NationalID string `json:"national_id" validate:"required,nationalid"`
	Email      string `json:"email" validate:"required,email,emaildomain"`
	Gender     string `json:"gender" validate:"required,oneof=F M X"`
	Department string `json:"department" validate:"required,max=200"`
}

// Document is an uploaded file, base64 encoded by the client.
type Document struct {
	Name          string `json:"name"`
	MIMEType      string `json:"mime_type"`
	ContentBase64 string `json:"content_base64"`
}

// InstructorPayload is sent by registrants who teach a course.
type InstructorPayload struct {
	CourseID  string     `json:"course_id"`
	Documents []Document `json:"documents"`
}

// Registration is a persisted, confirmed registration.
type Registration struct {
	ID             string            `json:"id"`
	ConfirmationID string            `json:"confirmation_id"`
	Role           string            `json:"role"`
	Profile        RegistrantProfile `json:"profile"`
	CourseIDs      []string          `json:"course_ids"`
	TaughtCourseID string            `json:"taught_course_id,omitempty"`
	Documents      []StoredDocument  `json:"documents,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StoredDocument is a validated, decoded upload ready to be persisted.
type StoredDocument struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Content  []byte `json:"-"`
}

// SubmitRequest is the payload for POST /registrations.
type SubmitRequest struct {
	Role       string             `json:"role"`
	Profile    RegistrantProfile  `json:"profile"`
	Instructor *InstructorPayload `json:"instructor,omitempty"`
}

// Confirmation is returned after a successful submission.
type Confirmation struct {
	RegistrationID string `json:"registration_id"`
	ConfirmationID string `json:"confirmation_id"`
	Message        string `json:"message"`
}

// SelectionView is the JSON shape of a registrant's current selection.
type SelectionView struct {
	State      string   `json:"state"`
	Period     string   `json:"period,omitempty"`
	Courses    []Course `json:"courses"`
	TotalHours float64  `json:"total_hours"`
}

// DecisionView reports whether a course may be added.
type DecisionView struct {
	CourseID      string `json:"course_id"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	ConflictsWith string `json:"conflicts_with,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}
