package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

// csvColumns are the accepted header names, matched case-insensitively.
var csvColumns = map[string][]string{
	"id":            {"id", "clave", "course_id"},
	"name":          {"name", "nombre", "curso"},
	"period":        {"period", "periodo"},
	"dates":         {"dates", "fechas", "date_range"},
	"time":          {"time", "horario", "time_range"},
	"venue":         {"venue", "sede", "lugar"},
	"hours":         {"hours", "horas", "duracion"},
	"type":          {"type", "tipo"},
	"registrations": {"registrations", "inscritos"},
}

// CSVSource reads the course list from a CSV file with a header row.
type CSVSource struct {
	path   string
	logger *slog.Logger
}

// NewCSVSource constructs a CSVSource for path.
func NewCSVSource(path string, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{path: path, logger: logger}
}

// LoadCourses implements Source.
func (s *CSVSource) LoadCourses(ctx context.Context) ([]model.CourseRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open catalog csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.logger)
}

// ReadCSV parses catalog rows. Rows with non-numeric hours or registration
// counts are skipped and logged.
func ReadCSV(ctx context.Context, r io.Reader, logger *slog.Logger) ([]model.CourseRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := headerIndex(header)
	for _, required := range []string{"id", "name", "period", "time"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("catalog csv is missing column %q", required)
		}
	}

	var records []model.CourseRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec := model.CourseRecord{
			ID:        field("id"),
			Name:      field("name"),
			Period:    field("period"),
			DateRange: field("dates"),
			TimeRange: field("time"),
			Venue:     field("venue"),
			Type:      field("type"),
		}
		if rec.Hours, err = parseNumber(field("hours")); err != nil {
			logger.Warn("skipping csv row with invalid hours", slog.Int("line", line), slog.String("course_id", rec.ID))
			continue
		}
		if rec.Registrations, err = parseCount(field("registrations")); err != nil {
			logger.Warn("skipping csv row with invalid registrations", slog.Int("line", line), slog.String("course_id", rec.ID))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(csvColumns))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for column, aliases := range csvColumns {
			for _, alias := range aliases {
				if h == alias {
					if _, taken := index[column]; !taken {
						index[column] = i
					}
				}
			}
		}
	}
	return index
}

// parseNumber reads a finite decimal, accepting a comma as separator.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

// parseCount reads a whole, non-fractional count such as "12" or "12.0".
func parseCount(s string) (int, error) {
	v, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("count %q is not a whole number", s)
	}
	return int(v), nil
}
