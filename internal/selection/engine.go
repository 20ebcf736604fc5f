// Package selection decides which combinations of courses a registrant may
// hold at once. Everything here is a pure transformation over Selection
// values; callers own the state and persist it themselves.
package selection

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

// Default limits of the faculty-development program.
const (
	DefaultMaxCourses = 3
	DefaultCapacity   = 30
)

// Reason explains why a course cannot be added.
type Reason string

const (
	ReasonLimitReached     Reason = "LIMIT_REACHED"
	ReasonAlreadySelected  Reason = "ALREADY_SELECTED"
	ReasonCourseFull       Reason = "COURSE_FULL"
	ReasonPeriodLocked     Reason = "PERIOD_LOCKED"
	ReasonScheduleConflict Reason = "SCHEDULE_CONFLICT"
)

// State of a Selection.
type State string

const (
	StateEmpty  State = "EMPTY"
	StateLocked State = "LOCKED"
	StateFull   State = "FULL"
)

// ErrInvalidSelection is returned by Restore for stored data that breaks
// the limit, duplicate or single-period rules.
var ErrInvalidSelection = errors.New("invalid selection")

// Decision is the outcome of CanAdd.
type Decision struct {
	Allowed       bool
	Reason        Reason
	ConflictsWith string
}

// RejectionError is returned by Add when the candidate is not admissible.
type RejectionError struct {
	CourseID      string
	Reason        Reason
	ConflictsWith string
}

func (e *RejectionError) Error() string {
	if e.ConflictsWith != "" {
		return fmt.Sprintf("course %s rejected: %s with %s", e.CourseID, e.Reason, e.ConflictsWith)
	}
	return fmt.Sprintf("course %s rejected: %s", e.CourseID, e.Reason)
}

// Selection is an ordered set of distinct courses sharing one locked period.
// The zero value is an empty selection with the default limit.
type Selection struct {
	courses []model.Course
	period  string
	limit   int
}

// Courses returns a copy of the selected courses in insertion order.
func (s Selection) Courses() []model.Course {
	out := make([]model.Course, len(s.courses))
	copy(out, s.courses)
	return out
}

// IDs returns the selected course identifiers in insertion order.
func (s Selection) IDs() []string {
	ids := make([]string, 0, len(s.courses))
	for _, c := range s.courses {
		ids = append(ids, c.ID)
	}
	return ids
}

// Period returns the locked period, or "" when the selection is empty.
func (s Selection) Period() string { return s.period }

// Len returns the number of selected courses.
func (s Selection) Len() int { return len(s.courses) }

// Contains reports whether the course id is selected.
func (s Selection) Contains(id string) bool {
	for _, c := range s.courses {
		if c.ID == id {
			return true
		}
	}
	return false
}

// State reports EMPTY, LOCKED or FULL.
func (s Selection) State() State {
	switch {
	case len(s.courses) == 0:
		return StateEmpty
	case len(s.courses) >= s.max():
		return StateFull
	default:
		return StateLocked
	}
}

// TotalHours sums the duration of every selected course.
func (s Selection) TotalHours() float64 {
	var total float64
	for _, c := range s.courses {
		total += c.Hours
	}
	return total
}

func (s Selection) max() int {
	if s.limit <= 0 {
		return DefaultMaxCourses
	}
	return s.limit
}

// Engine enforces selection limits, capacity, period lock and schedule
// conflicts. It holds configuration only and is safe for concurrent use.
type Engine struct {
	maxCourses int
	capacity   int
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxCourses overrides the maximum selection size.
func WithMaxCourses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCourses = n
		}
	}
}

// WithCapacity overrides the per-course registration threshold.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithLogger sets the logger used to report unparsed schedule windows.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine constructs an Engine with the program defaults.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxCourses: DefaultMaxCourses,
		capacity:   DefaultCapacity,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Empty returns an empty selection bound to this engine's limit.
func (e *Engine) Empty() Selection {
	return Selection{limit: e.maxCourses}
}

// Restore rebuilds a previously persisted selection. It checks the
// structural rules but does not re-run admissibility, so a course that
// filled up after being selected stays selected.
func (e *Engine) Restore(period string, courses []model.Course) (Selection, error) {
	s := e.Empty()
	if len(courses) == 0 {
		return s, nil
	}
	if len(courses) > e.maxCourses {
		return s, fmt.Errorf("%w: %d courses exceed limit %d", ErrInvalidSelection, len(courses), e.maxCourses)
	}
	seen := make(map[string]struct{}, len(courses))
	for _, c := range courses {
		if _, dup := seen[c.ID]; dup {
			return s, fmt.Errorf("%w: duplicate course %s", ErrInvalidSelection, c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Period != period {
			return s, fmt.Errorf("%w: course %s outside locked period %s", ErrInvalidSelection, c.ID, period)
		}
	}
	s.courses = append([]model.Course(nil), courses...)
	s.period = period
	return s, nil
}

// CanAdd decides whether candidate may join s. The first failing rule wins,
// in this order: limit, duplicate, capacity, period lock, schedule conflict.
func (e *Engine) CanAdd(candidate model.Course, s Selection) Decision {
	if len(s.courses) >= e.maxCourses {
		return Decision{Reason: ReasonLimitReached}
	}
	if s.Contains(candidate.ID) {
		return Decision{Reason: ReasonAlreadySelected}
	}
	if candidate.Registrations >= e.capacity {
		return Decision{Reason: ReasonCourseFull}
	}
	if len(s.courses) > 0 && candidate.Period != s.period {
		return Decision{Reason: ReasonPeriodLocked}
	}
	for _, selected := range s.courses {
		if e.Conflicts(candidate, selected) {
			return Decision{Reason: ReasonScheduleConflict, ConflictsWith: selected.ID}
		}
	}
	return Decision{Allowed: true}
}

// Add returns a new selection containing candidate, or a *RejectionError.
// s itself is never modified.
func (e *Engine) Add(candidate model.Course, s Selection) (Selection, error) {
	d := e.CanAdd(candidate, s)
	if !d.Allowed {
		return s, &RejectionError{CourseID: candidate.ID, Reason: d.Reason, ConflictsWith: d.ConflictsWith}
	}
	next := Selection{
		courses: make([]model.Course, 0, len(s.courses)+1),
		period:  s.period,
		limit:   e.maxCourses,
	}
	next.courses = append(next.courses, s.courses...)
	next.courses = append(next.courses, candidate)
	if len(s.courses) == 0 {
		next.period = candidate.Period
	}
	return next, nil
}

// Remove returns a new selection without the course id. Removing an absent
// id returns an equivalent selection; removing the last course clears the
// period lock.
func (e *Engine) Remove(courseID string, s Selection) Selection {
	next := Selection{period: s.period, limit: e.maxCourses}
	for _, c := range s.courses {
		if c.ID != courseID {
			next.courses = append(next.courses, c)
		}
	}
	if len(next.courses) == 0 {
		next.courses = nil
		next.period = ""
	}
	return next
}

// TotalHours sums the duration of every course in s.
func (e *Engine) TotalHours(s Selection) float64 {
	return s.TotalHours()
}

// Conflicts reports whether two courses meet at overlapping times. Courses in
// different periods never conflict, and a course whose schedule could not be
// parsed conflicts with nothing.
func (e *Engine) Conflicts(a, b model.Course) bool {
	if a.Period != b.Period {
		return false
	}
	if !a.Window.Valid || !b.Window.Valid {
		e.logger.Debug("skipping conflict check for unparsed schedule",
			slog.String("course_a", a.ID),
			slog.String("course_b", b.ID),
		)
		return false
	}
	return windowsConflict(a.Window, b.Window)
}
