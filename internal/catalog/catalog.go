// Package catalog turns raw course rows into validated, immutable Course
// records and caches the loaded catalog for the selection engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
)

// ErrCourseNotFound is returned when a course id is not in the catalog.
var ErrCourseNotFound = errors.New("course not found")

// Source supplies raw course rows.
type Source interface {
	LoadCourses(ctx context.Context) ([]model.CourseRecord, error)
}

// Quarantined is a row rejected at load time.
type Quarantined struct {
	Row    int
	ID     string
	Reason string
}

// Catalog is an immutable, validated set of courses.
type Catalog struct {
	courses     []model.Course
	byID        map[string]int
	quarantined []Quarantined
}

// Build validates records into a Catalog. Rows without an id, name or
// recognizable period, duplicated ids and negative counters are quarantined.
// Rows whose schedule descriptors cannot be parsed are kept with an invalid
// window, so they never block other selections.
func Build(records []model.CourseRecord, format selection.Format, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{byID: make(map[string]int, len(records))}

	for i, rec := range records {
		course, err := toCourse(rec, format)
		if err != nil && !errors.Is(err, selection.ErrMalformedSchedule) {
			c.quarantined = append(c.quarantined, Quarantined{Row: i + 1, ID: rec.ID, Reason: err.Error()})
			logger.Warn("quarantined catalog row",
				slog.Int("row", i+1),
				slog.String("course_id", rec.ID),
				slog.String("reason", err.Error()),
			)
			continue
		}
		if err != nil {
			logger.Warn("course schedule not recognized, conflicts disabled for it",
				slog.String("course_id", course.ID),
				slog.String("date_range", rec.DateRange),
				slog.String("time_range", rec.TimeRange),
				slog.Any("error", err),
			)
		}
		if _, dup := c.byID[course.ID]; dup {
			c.quarantined = append(c.quarantined, Quarantined{Row: i + 1, ID: course.ID, Reason: "duplicate course id"})
			logger.Warn("quarantined duplicate course id", slog.Int("row", i+1), slog.String("course_id", course.ID))
			continue
		}
		c.byID[course.ID] = len(c.courses)
		c.courses = append(c.courses, course)
	}
	return c
}

func toCourse(rec model.CourseRecord, format selection.Format) (model.Course, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return model.Course{}, errors.New("missing course id")
	}
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return model.Course{}, errors.New("missing course name")
	}
	period, err := selection.NormalizePeriod(rec.Period)
	if err != nil {
		return model.Course{}, err
	}
	if math.IsNaN(rec.Hours) || math.IsInf(rec.Hours, 0) {
		return model.Course{}, fmt.Errorf("non-finite hours %v", rec.Hours)
	}
	if rec.Hours < 0 {
		return model.Course{}, fmt.Errorf("negative hours %v", rec.Hours)
	}
	if rec.Registrations < 0 {
		return model.Course{}, fmt.Errorf("negative registrations %d", rec.Registrations)
	}

	course := model.Course{
		ID:            id,
		Name:          name,
		Period:        period,
		DateRange:     strings.TrimSpace(rec.DateRange),
		TimeRange:     strings.TrimSpace(rec.TimeRange),
		Venue:         strings.TrimSpace(rec.Venue),
		Hours:         rec.Hours,
		Type:          strings.TrimSpace(rec.Type),
		Registrations: rec.Registrations,
	}
	course.Window, err = selection.ParseWindow(period, course.DateRange, course.TimeRange, format)
	return course, err
}

// Courses returns every course in load order.
func (c *Catalog) Courses() []model.Course {
	out := make([]model.Course, len(c.courses))
	copy(out, c.courses)
	return out
}

// ByPeriod returns the courses of one period in load order.
func (c *Catalog) ByPeriod(period string) []model.Course {
	out := make([]model.Course, 0, len(c.courses))
	for _, course := range c.courses {
		if course.Period == period {
			out = append(out, course)
		}
	}
	return out
}

// Get returns a course by id.
func (c *Catalog) Get(id string) (model.Course, error) {
	i, ok := c.byID[id]
	if !ok {
		return model.Course{}, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
	}
	return c.courses[i], nil
}

// Periods lists the distinct periods in sorted order.
func (c *Catalog) Periods() []string {
	seen := make(map[string]struct{})
	for _, course := range c.courses {
		seen[course.Period] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Quarantined returns the rows rejected at load time.
func (c *Catalog) Quarantined() []Quarantined {
	return append([]Quarantined(nil), c.quarantined...)
}

// loadTimeout bounds a shared load, which outlives the caller that started it.
const loadTimeout = 30 * time.Second

// Provider loads the catalog from a Source and caches it for ttl.
// Concurrent loads are collapsed into one call to the source.
type Provider struct {
	source Source
	format selection.Format
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	current  *Catalog
	loadedAt time.Time
}

// NewProvider constructs a Provider. A zero ttl caches until Invalidate.
func NewProvider(source Source, format selection.Format, ttl time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{source: source, format: format, ttl: ttl, logger: logger, now: time.Now}
}

// Catalog returns the cached catalog, loading it when missing or stale.
func (p *Provider) Catalog(ctx context.Context) (*Catalog, error) {
	p.mu.RLock()
	current, loadedAt := p.current, p.loadedAt
	p.mu.RUnlock()
	if current != nil && (p.ttl <= 0 || p.now().Sub(loadedAt) < p.ttl) {
		return current, nil
	}

	ch := p.group.DoChan("catalog", func() (any, error) {
		p.mu.RLock()
		fresh := p.current != nil && p.current != current
		cached := p.current
		p.mu.RUnlock()
		if fresh {
			return cached, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		records, err := p.source.LoadCourses(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("load courses: %w", err)
		}
		cat := Build(records, p.format, p.logger)
		p.mu.Lock()
		p.current, p.loadedAt = cat, p.now()
		p.mu.Unlock()
		p.logger.Info("catalog loaded",
			slog.Int("courses", len(cat.courses)),
			slog.Int("quarantined", len(cat.quarantined)),
		)
		return cat, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Catalog), nil
	}
}

// Invalidate drops the cached catalog so the next call reloads it,
// typically after registration counts changed.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}
