// Package jobs defines the background tasks of the registration service.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeConfirmation delivers a registration confirmation.
	TaskTypeConfirmation = "registration:confirmation"
)

// ConfirmationPayload describes the confirmation to deliver.
type ConfirmationPayload struct {
	RegistrationID string   `json:"registration_id"`
	ConfirmationID string   `json:"confirmation_id"`
	Role           string   `json:"role"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Courses        []string `json:"courses"`
	TaughtCourseID string   `json:"taught_course_id,omitempty"`
	TotalHours     float64  `json:"total_hours"`
}

// NewConfirmationTask constructs an Asynq task.
func NewConfirmationTask(payload ConfirmationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConfirmation, data), nil
}

// Mailer sends the confirmation message. The mail transport is external.
type Mailer interface {
	SendConfirmation(ctx context.Context, payload ConfirmationPayload) error
}

// LogMailer writes confirmations to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// SendConfirmation implements Mailer.
func (m LogMailer) SendConfirmation(ctx context.Context, p ConfirmationPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "confirmation delivered",
		slog.String("to", p.Email),
		slog.String("confirmation_id", p.ConfirmationID),
		slog.Any("courses", p.Courses),
	)
	return nil
}

// ConfirmationHandler processes TaskTypeConfirmation tasks.
type ConfirmationHandler struct {
	mailer Mailer
}

// NewConfirmationHandler constructs a ConfirmationHandler.
func NewConfirmationHandler(mailer Mailer) *ConfirmationHandler {
	return &ConfirmationHandler{mailer: mailer}
}

// Handle decodes the payload and delivers it. Undecodable payloads are not retried.
func (h *ConfirmationHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ConfirmationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode confirmation payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" {
		return fmt.Errorf("confirmation %s has no recipient: %w", payload.ConfirmationID, asynq.SkipRetry)
	}
	return h.mailer.SendConfirmation(ctx, payload)
}

// TaskEnqueuer is the subset of *asynq.Client used by Notifier.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier enqueues confirmation tasks for stored registrations.
type Notifier struct {
	client TaskEnqueuer
}

// NewNotifier constructs a Notifier.
func NewNotifier(client TaskEnqueuer) *Notifier {
	return &Notifier{client: client}
}

// NotifyConfirmation enqueues the confirmation for reg.
func (n *Notifier) NotifyConfirmation(ctx context.Context, reg model.Registration, courses []model.Course) error {
	payload := ConfirmationPayload{
		RegistrationID: reg.ID,
		ConfirmationID: reg.ConfirmationID,
		Role:           reg.Role,
		Name:           reg.Profile.Name,
		Email:          reg.Profile.Email,
		TaughtCourseID: reg.TaughtCourseID,
	}
	for _, c := range courses {
		payload.Courses = append(payload.Courses, c.Name)
		payload.TotalHours += c.Hours
	}
	task, err := NewConfirmationTask(payload)
	if err != nil {
		return err
	}
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.TaskID("confirmation:"+reg.ID),
	)
	return err
}
