// Package service implements business logic, validation, and orchestration
// between HTTP handlers, the selection engine and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/catalog"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/repository"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/session"
)

var (
	// ErrEmptySelection is returned when a participant submits without courses.
	ErrEmptySelection = errors.New("no courses selected")
	// ErrSubmissionUnavailable is returned after transient failures exhaust
	// every submission attempt.
	ErrSubmissionUnavailable = errors.New("registration service temporarily unavailable")
)

// CatalogProvider supplies the loaded course catalog.
type CatalogProvider interface {
	Catalog(ctx context.Context) (*catalog.Catalog, error)
	Invalidate()
}

// DepartmentLister supplies the reference department list.
type DepartmentLister interface {
	ListDepartments(ctx context.Context) ([]model.Department, error)
}

// SelectionStore persists in-progress selections per session.
type SelectionStore interface {
	Load(ctx context.Context, sessionID string) (session.State, error)
	Save(ctx context.Context, sessionID string, st session.State) error
	Delete(ctx context.Context, sessionID string) error
	WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

// Submitter persists a finalized registration.
type Submitter interface {
	Submit(ctx context.Context, reg model.Registration) (*model.Registration, error)
}

// RegistrationFinder looks up stored registrations.
type RegistrationFinder interface {
	GetByConfirmation(ctx context.Context, confirmationID string) (*model.Registration, error)
}

// Notifier delivers the confirmation to the registrant.
type Notifier interface {
	NotifyConfirmation(ctx context.Context, reg model.Registration, courses []model.Course) error
}

// Config holds service tunables.
type Config struct {
	AllowedEmailDomains []string
	StrictNationalID    bool
	SubmitMaxAttempts   int
	SubmitBackoff       time.Duration
}

// Deps groups the collaborators of RegistrationService.
type Deps struct {
	Engine      *selection.Engine
	Catalog     CatalogProvider
	Departments DepartmentLister
	Store       SelectionStore
	Submitter   Submitter
	Finder      RegistrationFinder
	Notifier    Notifier
	Logger      *slog.Logger
}

// RegistrationService orchestrates course selection and submission.
type RegistrationService struct {
	engine      *selection.Engine
	catalog     CatalogProvider
	departments DepartmentLister
	store       SelectionStore
	submitter   Submitter
	finder      RegistrationFinder
	notifier    Notifier
	profiles    *ProfileValidator
	logger      *slog.Logger
	cfg         Config
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(deps Deps, cfg Config) *RegistrationService {
	if cfg.SubmitMaxAttempts <= 0 {
		cfg.SubmitMaxAttempts = 3
	}
	if cfg.SubmitBackoff <= 0 {
		cfg.SubmitBackoff = 200 * time.Millisecond
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := deps.Engine
	if engine == nil {
		engine = selection.NewEngine(selection.WithLogger(logger))
	}
	return &RegistrationService{
		engine:      engine,
		catalog:     deps.Catalog,
		departments: deps.Departments,
		store:       deps.Store,
		submitter:   deps.Submitter,
		finder:      deps.Finder,
		notifier:    deps.Notifier,
		profiles:    NewProfileValidator(cfg.AllowedEmailDomains, cfg.StrictNationalID),
		logger:      logger.With(slog.String("component", "registration")),
		cfg:         cfg,
	}
}

// ListCourses returns the catalog, optionally restricted to one period.
func (s *RegistrationService) ListCourses(ctx context.Context, period string) ([]model.Course, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(period) == "" {
		return cat.Courses(), nil
	}
	normalized, err := selection.NormalizePeriod(period)
	if err != nil {
		return nil, fieldError("period", err.Error())
	}
	return cat.ByPeriod(normalized), nil
}

// ListPeriods returns the periods offered by the catalog.
func (s *RegistrationService) ListPeriods(ctx context.Context) ([]string, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Periods(), nil
}

// GetCourse returns one course.
func (s *RegistrationService) GetCourse(ctx context.Context, id string) (model.Course, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return model.Course{}, err
	}
	return cat.Get(id)
}

// ListDepartments returns the reference department list.
func (s *RegistrationService) ListDepartments(ctx context.Context) ([]model.Department, error) {
	if s.departments == nil {
		return nil, nil
	}
	return s.departments.ListDepartments(ctx)
}

// GetSelection returns the session's current selection.
func (s *RegistrationService) GetSelection(ctx context.Context, sessionID string) (model.SelectionView, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return model.SelectionView{}, err
	}
	sel, err := s.loadSelection(ctx, cat, sessionID)
	if err != nil {
		return model.SelectionView{}, err
	}
	return view(sel), nil
}

// CheckCourse reports whether courseID could be added right now.
func (s *RegistrationService) CheckCourse(ctx context.Context, sessionID, courseID string) (model.DecisionView, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return model.DecisionView{}, err
	}
	candidate, err := cat.Get(courseID)
	if err != nil {
		return model.DecisionView{}, err
	}
	sel, err := s.loadSelection(ctx, cat, sessionID)
	if err != nil {
		return model.DecisionView{}, err
	}
	d := s.engine.CanAdd(candidate, sel)
	return model.DecisionView{
		CourseID:      courseID,
		Allowed:       d.Allowed,
		Reason:        string(d.Reason),
		ConflictsWith: d.ConflictsWith,
	}, nil
}

// AddCourse adds courseID to the session's selection. Rejections are
// returned as *selection.RejectionError and leave the selection untouched.
func (s *RegistrationService) AddCourse(ctx context.Context, sessionID, courseID string) (model.SelectionView, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return model.SelectionView{}, err
	}
	candidate, err := cat.Get(courseID)
	if err != nil {
		return model.SelectionView{}, err
	}

	var result selection.Selection
	err = s.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sel, err := s.loadSelection(ctx, cat, sessionID)
		if err != nil {
			return err
		}
		next, err := s.engine.Add(candidate, sel)
		if err != nil {
			return err
		}
		if err := s.store.Save(ctx, sessionID, state(next)); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		var rej *selection.RejectionError
		if errors.As(err, &rej) {
			s.logger.Info("course rejected",
				slog.String("session_id", sessionID),
				slog.String("course_id", courseID),
				slog.String("reason", string(rej.Reason)),
			)
		}
		return model.SelectionView{}, err
	}
	return view(result), nil
}

// RemoveCourse removes courseID from the session's selection.
func (s *RegistrationService) RemoveCourse(ctx context.Context, sessionID, courseID string) (model.SelectionView, error) {
	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return model.SelectionView{}, err
	}

	var result selection.Selection
	err = s.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sel, err := s.loadSelection(ctx, cat, sessionID)
		if err != nil {
			return err
		}
		result = s.engine.Remove(courseID, sel)
		return s.store.Save(ctx, sessionID, state(result))
	})
	if err != nil {
		return model.SelectionView{}, err
	}
	return view(result), nil
}

// ClearSelection discards the session's selection.
func (s *RegistrationService) ClearSelection(ctx context.Context, sessionID string) error {
	return s.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return s.store.Delete(ctx, sessionID)
	})
}

// Submit validates the request, consumes the session's selection and
// persists the registration. The selection is discarded once a submission
// has been attempted, whatever its outcome.
func (s *RegistrationService) Submit(ctx context.Context, sessionID string, req model.SubmitRequest) (*model.Confirmation, error) {
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != model.RoleParticipant && role != model.RoleInstructor {
		return nil, fieldError("role", "must be participant or instructor")
	}

	profile := Normalize(req.Profile)
	if err := s.profiles.Validate(profile); err != nil {
		return nil, err
	}
	if err := s.checkDepartment(ctx, profile.Department); err != nil {
		return nil, err
	}

	cat, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	reg := model.Registration{Role: role, Profile: profile}
	if role == model.RoleInstructor {
		if req.Instructor == nil {
			return nil, fieldError("instructor", "is required for instructors")
		}
		taught, err := cat.Get(strings.TrimSpace(req.Instructor.CourseID))
		if err != nil {
			return nil, fieldError("instructor.course_id", "must name a catalog course")
		}
		reg.TaughtCourseID = taught.ID
		if reg.Documents, err = ValidateDocuments(req.Instructor.Documents); err != nil {
			return nil, err
		}
	} else if req.Instructor != nil {
		return nil, fieldError("instructor", "is only accepted for instructors")
	}

	var courses []model.Course
	err = s.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sel, err := s.loadSelection(ctx, cat, sessionID)
		if err != nil {
			return err
		}
		if sel.Len() == 0 && role == model.RoleParticipant {
			return ErrEmptySelection
		}
		courses = sel.Courses()
		return s.store.Delete(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range courses {
		reg.CourseIDs = append(reg.CourseIDs, c.ID)
	}

	saved, err := s.submitWithRetry(ctx, reg)
	if err != nil {
		s.logger.Warn("registration failed",
			slog.String("session_id", sessionID),
			slog.String("role", role),
			slog.Any("error", err),
		)
		return nil, err
	}
	s.catalog.Invalidate()

	if s.notifier != nil {
		if err := s.notifier.NotifyConfirmation(ctx, *saved, courses); err != nil {
			s.logger.Error("enqueue confirmation", slog.String("registration_id", saved.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("registration stored",
		slog.String("registration_id", saved.ID),
		slog.String("confirmation_id", saved.ConfirmationID),
		slog.String("role", role),
		slog.Int("courses", len(saved.CourseIDs)),
	)

	return &model.Confirmation{
		RegistrationID: saved.ID,
		ConfirmationID: saved.ConfirmationID,
		Message:        fmt.Sprintf("Registration %s confirmed for %s", saved.ConfirmationID, saved.Profile.Name),
	}, nil
}

// GetRegistration returns the registration issued under confirmationID.
func (s *RegistrationService) GetRegistration(ctx context.Context, confirmationID string) (*model.Registration, error) {
	confirmationID = strings.ToUpper(strings.TrimSpace(confirmationID))
	if s.finder == nil || confirmationID == "" {
		return nil, repository.ErrNotFound
	}
	return s.finder.GetByConfirmation(ctx, confirmationID)
}

func (s *RegistrationService) submitWithRetry(ctx context.Context, reg model.Registration) (*model.Registration, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SubmitMaxAttempts; attempt++ {
		saved, err := s.submitter.Submit(ctx, reg)
		if err == nil {
			return saved, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("transient submission failure",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.SubmitMaxAttempts),
			slog.Any("error", err),
		)
		if attempt == s.cfg.SubmitMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.SubmitBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSubmissionUnavailable, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrCourseFull) ||
		errors.Is(err, repository.ErrAlreadyRegistered) {
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func (s *RegistrationService) checkDepartment(ctx context.Context, department string) error {
	if s.departments == nil {
		return nil
	}
	list, err := s.departments.ListDepartments(ctx)
	if err != nil {
		return fmt.Errorf("list departments: %w", err)
	}
	if len(list) == 0 {
		return nil
	}
	for _, d := range list {
		if strings.EqualFold(d.ID, department) || strings.EqualFold(d.Name, department) {
			return nil
		}
	}
	return fieldError("profile.department", "is not a recognized department")
}

// loadSelection rebuilds the stored selection against the current catalog.
// Courses that left the catalog are dropped; stored data that no longer
// satisfies the selection rules is discarded.
func (s *RegistrationService) loadSelection(ctx context.Context, cat *catalog.Catalog, sessionID string) (selection.Selection, error) {
	st, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, session.ErrCorruptState) {
		s.logger.Warn("discarding unreadable stored selection",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return s.engine.Empty(), nil
	}
	if err != nil {
		return selection.Selection{}, err
	}
	courses := make([]model.Course, 0, len(st.CourseIDs))
	for _, id := range st.CourseIDs {
		c, err := cat.Get(id)
		if err != nil {
			s.logger.Warn("dropping selected course missing from catalog",
				slog.String("session_id", sessionID),
				slog.String("course_id", id),
			)
			continue
		}
		courses = append(courses, c)
	}
	sel, err := s.engine.Restore(st.Period, courses)
	if err != nil {
		s.logger.Warn("discarding inconsistent stored selection",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return s.engine.Empty(), nil
	}
	return sel, nil
}

func state(sel selection.Selection) session.State {
	return session.State{CourseIDs: sel.IDs(), Period: sel.Period()}
}

func view(sel selection.Selection) model.SelectionView {
	return model.SelectionView{
		State:      string(sel.State()),
		Period:     sel.Period(),
		Courses:    sel.Courses(),
		TotalHours: sel.TotalHours(),
	}
}
