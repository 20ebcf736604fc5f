// Package repository implements all database queries for the registration system.
// It uses pgx directly (no ORM).
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownCourse is returned when a registration names a course missing
// from the courses table. It matches ErrNotFound.
var ErrUnknownCourse = fmt.Errorf("unknown course: %w", ErrNotFound)

// ErrCourseFull is returned when a course has no remaining capacity.
var ErrCourseFull = errors.New("course is full")

// ErrAlreadyRegistered is returned when the same national id registers twice for a role.
var ErrAlreadyRegistered = errors.New("national id already registered")

const uniqueViolation = "23505"

// CourseRepository reads the course catalog and reference data.
type CourseRepository struct {
	db *pgxpool.Pool
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{db: db}
}

// LoadCourses returns every catalog row ordered by period and id.
func (r *CourseRepository) LoadCourses(ctx context.Context) ([]model.CourseRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, period, date_range, time_range, venue, hours::float8, type, registrations
		 FROM courses
		 ORDER BY period, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []model.CourseRecord
	for rows.Next() {
		var c model.CourseRecord
		if err := rows.Scan(&c.ID, &c.Name, &c.Period, &c.DateRange, &c.TimeRange, &c.Venue, &c.Hours, &c.Type, &c.Registrations); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// UpsertCourses writes catalog courses in one transaction. New rows take the
// supplied registration count; existing rows keep their stored count and only
// have descriptive columns refreshed.
func (r *CourseRepository) UpsertCourses(ctx context.Context, courses []model.Course) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range courses {
			batch.Queue(
				`INSERT INTO courses (id, name, period, date_range, time_range, venue, hours, type, registrations)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					period = EXCLUDED.period,
					date_range = EXCLUDED.date_range,
					time_range = EXCLUDED.time_range,
					venue = EXCLUDED.venue,
					hours = EXCLUDED.hours,
					type = EXCLUDED.type`,
				c.ID, c.Name, c.Period, c.DateRange, c.TimeRange, c.Venue, c.Hours, c.Type, c.Registrations,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for _, c := range courses {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert course %s: %w", c.ID, err)
			}
		}
		return results.Close()
	})
}

// ListDepartments returns the reference department list.
func (r *CourseRepository) ListDepartments(ctx context.Context) ([]model.Department, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	var departments []model.Department
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

// RegistrationRepository persists submitted registrations.
type RegistrationRepository struct {
	db       *pgxpool.Pool
	capacity int
}

// NewRegistrationRepository constructs a RegistrationRepository that
// refuses seats beyond capacity.
func NewRegistrationRepository(db *pgxpool.Pool, capacity int) *RegistrationRepository {
	return &RegistrationRepository{db: db, capacity: capacity}
}

// Submit stores a registration inside one transaction.
//
// Every selected course row is locked with SELECT … FOR UPDATE, in id order so
// two submissions sharing courses cannot deadlock, and capacity is re-checked
// under the lock. The in-session check is advisory; this one is authoritative.
func (r *RegistrationRepository) Submit(ctx context.Context, reg model.Registration) (*model.Registration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	locked := append([]string(nil), reg.CourseIDs...)
	sort.Strings(locked)
	for _, courseID := range locked {
		var registrations int
		err = tx.QueryRow(ctx,
			`SELECT registrations FROM courses WHERE id = $1 FOR UPDATE`,
			courseID,
		).Scan(&registrations)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = fmt.Errorf("course %s: %w", courseID, ErrUnknownCourse)
				return nil, err
			}
			return nil, fmt.Errorf("lock course row: %w", err)
		}
		if registrations >= r.capacity {
			err = fmt.Errorf("course %s: %w", courseID, ErrCourseFull)
			return nil, err
		}
	}

	if reg.TaughtCourseID != "" {
		var exists bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, reg.TaughtCourseID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check taught course: %w", err)
		}
		if !exists {
			err = fmt.Errorf("course %s: %w", reg.TaughtCourseID, ErrUnknownCourse)
			return nil, err
		}
	}

	reg.ID = uuid.New().String()
	reg.ConfirmationID = newConfirmationID()
	reg.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, confirmation_id, role, name, national_id, email, gender, department, taught_course_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		reg.ID, reg.ConfirmationID, reg.Role, reg.Profile.Name, reg.Profile.NationalID, reg.Profile.Email,
		reg.Profile.Gender, reg.Profile.Department, reg.TaughtCourseID, reg.CreatedAt,
	)
	if err != nil {
		err = insertError(err)
		return nil, err
	}

	for position, courseID := range reg.CourseIDs {
		if _, err = tx.Exec(ctx,
			`UPDATE courses SET registrations = registrations + 1 WHERE id = $1`,
			courseID,
		); err != nil {
			return nil, fmt.Errorf("increment registrations: %w", err)
		}
		if _, err = tx.Exec(ctx,
			`INSERT INTO registration_courses (registration_id, course_id, position) VALUES ($1, $2, $3)`,
			reg.ID, courseID, position+1,
		); err != nil {
			return nil, fmt.Errorf("insert registration course: %w", err)
		}
	}

	for _, doc := range reg.Documents {
		if _, err = tx.Exec(ctx,
			`INSERT INTO registration_documents (id, registration_id, name, mime_type, size_bytes, content)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), reg.ID, doc.Name, doc.MIMEType, doc.Size, doc.Content,
		); err != nil {
			return nil, fmt.Errorf("insert document: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &reg, nil
}

// GetByConfirmation returns a registration and its course ids.
func (r *RegistrationRepository) GetByConfirmation(ctx context.Context, confirmationID string) (*model.Registration, error) {
	var reg model.Registration
	var taught *string
	err := r.db.QueryRow(ctx,
		`SELECT id, confirmation_id, role, name, national_id, email, gender, department, taught_course_id, created_at
		 FROM registrations WHERE confirmation_id = $1`,
		confirmationID,
	).Scan(&reg.ID, &reg.ConfirmationID, &reg.Role, &reg.Profile.Name, &reg.Profile.NationalID, &reg.Profile.Email,
		&reg.Profile.Gender, &reg.Profile.Department, &taught, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	if taught != nil {
		reg.TaughtCourseID = *taught
	}

	rows, err := r.db.Query(ctx,
		`SELECT course_id FROM registration_courses WHERE registration_id = $1 ORDER BY position`,
		reg.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registration courses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan registration course: %w", err)
		}
		reg.CourseIDs = append(reg.CourseIDs, id)
	}
	return &reg, rows.Err()
}

// insertError maps a failed registration insert onto the package's sentinels.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyRegistered
	}
	return fmt.Errorf("insert registration: %w", err)
}

// newConfirmationID builds a short, human-readable code such as FDP-3F9A1C7E.
func newConfirmationID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "FDP-" + strings.ToUpper(id[:8])
}
