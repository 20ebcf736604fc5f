package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/handler"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Handler *handler.RegistrationHandler
}

// NewRouter constructs the chi.Router with the registration API mounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(params.Config, params.Logger) {
		r.Use(mw)
	}

	r.Get("/health", handler.HealthCheck)

	h := params.Handler
	r.Group(func(r chi.Router) {
		r.Use(handler.Session(params.Config.SessionTTL))

		r.Route("/courses", func(r chi.Router) {
			r.Get("/", h.ListCourses)
			r.Get("/{id}", h.GetCourse)
		})
		r.Get("/periods", h.ListPeriods)
		r.Get("/departments", h.ListDepartments)

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", h.GetSelection)
			r.Delete("/", h.ClearSelection)
			r.Get("/check/{id}", h.CheckCourse)
			r.Post("/courses/{id}", h.AddCourse)
			r.Delete("/courses/{id}", h.RemoveCourse)
		})

		r.Post("/registrations", h.Submit)
		r.Get("/registrations/{confirmation_id}", h.GetRegistration)
	})

	return r
}
