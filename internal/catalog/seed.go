package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
)

// Sink stores validated courses so registrations can reference and count them.
type Sink interface {
	UpsertCourses(ctx context.Context, courses []model.Course) error
}

// Seed loads source, validates it and writes the accepted courses to sink.
// Quarantined rows are not written.
func Seed(ctx context.Context, source Source, format selection.Format, sink Sink, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	records, err := source.LoadCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seed courses: %w", err)
	}
	cat := Build(records, format, logger)
	if err := sink.UpsertCourses(ctx, cat.Courses()); err != nil {
		return nil, fmt.Errorf("seed courses: %w", err)
	}
	logger.Info("catalog seeded",
		slog.Int("courses", len(cat.courses)),
		slog.Int("quarantined", len(cat.quarantined)),
	)
	return cat, nil
}
