// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/catalog"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/repository"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/service"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/session"
)

// maxRegistrationBody fits two base64 encoded 2 MB documents plus the profile.
const maxRegistrationBody = 8 << 20

// RegistrationService is the service surface used by the handlers.
type RegistrationService interface {
	ListCourses(ctx context.Context, period string) ([]model.Course, error)
	ListPeriods(ctx context.Context) ([]string, error)
	GetCourse(ctx context.Context, id string) (model.Course, error)
	ListDepartments(ctx context.Context) ([]model.Department, error)
	GetSelection(ctx context.Context, sessionID string) (model.SelectionView, error)
	CheckCourse(ctx context.Context, sessionID, courseID string) (model.DecisionView, error)
	AddCourse(ctx context.Context, sessionID, courseID string) (model.SelectionView, error)
	RemoveCourse(ctx context.Context, sessionID, courseID string) (model.SelectionView, error)
	ClearSelection(ctx context.Context, sessionID string) error
	Submit(ctx context.Context, sessionID string, req model.SubmitRequest) (*model.Confirmation, error)
	GetRegistration(ctx context.Context, confirmationID string) (*model.Registration, error)
}

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc    RegistrationService
	logger *slog.Logger
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc RegistrationService, logger *slog.Logger) *RegistrationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationHandler{svc: svc, logger: logger}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Reason codes for failures raised outside the selection engine.
const (
	reasonCourseNotFound    = "COURSE_NOT_FOUND"
	reasonSessionBusy       = "SESSION_BUSY"
	reasonAlreadyRegistered = "ALREADY_REGISTERED"
)

// writeServiceError maps service, engine and repository errors to responses.
func (h *RegistrationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *selection.RejectionError
	var verr *service.ValidationError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: rej.Error(), Reason: string(rej.Reason)})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, catalog.ErrCourseNotFound), errors.Is(err, repository.ErrUnknownCourse):
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "course not found", Reason: reasonCourseNotFound})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrSessionBusy):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error:  "another request for this session is in progress",
			Reason: reasonSessionBusy,
		})
	case errors.Is(err, repository.ErrCourseFull):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: err.Error(), Reason: string(selection.ReasonCourseFull)})
	case errors.Is(err, repository.ErrAlreadyRegistered):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error:  "you are already registered in this role",
			Reason: reasonAlreadyRegistered,
		})
	case errors.Is(err, service.ErrEmptySelection):
		writeError(w, http.StatusUnprocessableEntity, "select at least one course before submitting")
	case errors.Is(err, service.ErrSubmissionUnavailable):
		writeError(w, http.StatusServiceUnavailable, "registration is temporarily unavailable, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// ListCourses handles GET /courses
// Returns the catalog, optionally filtered with ?period=PERIOD_1.
func (h *RegistrationHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.svc.ListCourses(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if courses == nil {
		courses = []model.Course{}
	}

	writeJSON(w, http.StatusOK, courses)
}

// ListPeriods handles GET /periods
func (h *RegistrationHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.svc.ListPeriods(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	writeJSON(w, http.StatusOK, periods)
}

// GetCourse handles GET /courses/{id}
func (h *RegistrationHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := h.svc.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// ListDepartments handles GET /departments
func (h *RegistrationHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.svc.ListDepartments(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if departments == nil {
		departments = []model.Department{}
	}
	writeJSON(w, http.StatusOK, departments)
}

// ─── Selection ────────────────────────────────────────────────────────────────

// GetSelection handles GET /selection
func (h *RegistrationHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetSelection(r.Context(), SessionID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSelection(w, v)
}

// CheckCourse handles GET /selection/check/{id}
// Reports whether the course could be added without changing the selection.
func (h *RegistrationHandler) CheckCourse(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.CheckCourse(r.Context(), SessionID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// AddCourse handles POST /selection/courses/{id}
func (h *RegistrationHandler) AddCourse(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.AddCourse(r.Context(), SessionID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSelection(w, v)
}

// RemoveCourse handles DELETE /selection/courses/{id}
func (h *RegistrationHandler) RemoveCourse(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.RemoveCourse(r.Context(), SessionID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSelection(w, v)
}

// ClearSelection handles DELETE /selection
func (h *RegistrationHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearSelection(r.Context(), SessionID(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSelection(w http.ResponseWriter, v model.SelectionView) {
	if v.Courses == nil {
		v.Courses = []model.Course{}
	}
	writeJSON(w, http.StatusOK, v)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// Submit handles POST /registrations
// Validates the registrant and stores the session's selection as a registration.
func (h *RegistrationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if err := decodeJSON(w, r, &req, maxRegistrationBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	conf, err := h.svc.Submit(r.Context(), SessionID(r.Context()), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, conf)
}

// GetRegistration handles GET /registrations/{confirmation_id}
func (h *RegistrationHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.GetRegistration(r.Context(), chi.URLParam(r, "confirmation_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if reg.CourseIDs == nil {
		reg.CourseIDs = []string{}
	}
	writeJSON(w, http.StatusOK, reg)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
