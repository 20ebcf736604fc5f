package selection

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

// Format selects how catalog schedule descriptors are interpreted.
type Format string

const (
	// FormatAuto uses the day range when a date descriptor is given and a
	// time-only window when it is empty. A date descriptor without a day
	// range is malformed.
	FormatAuto Format = "auto"
	// FormatTime ignores the date descriptor ("9.5 a 13 hrs").
	FormatTime Format = "time"
	// FormatDateRange requires a day range ("13 al 17 de enero" + "8:00 a 12:00").
	FormatDateRange Format = "daterange"
)

// ErrMalformedSchedule is returned when a descriptor has no recognizable pattern.
var ErrMalformedSchedule = errors.New("malformed schedule descriptor")

var (
	dayRangePattern  = regexp.MustCompile(`(\d{1,2})\s*(?:de\s+\pL+\s+)?al\s+(\d{1,2})`)
	timeRangePattern = regexp.MustCompile(`(\d{1,2}(?:[.:]\d{1,2})?)\s*a\s*(\d{1,2}(?:[.:]\d{1,2})?)`)
	periodPattern    = regexp.MustCompile(`(\d+)`)
)

const minutesPerDay = 24 * 60

// ParseFormat validates a configured descriptor format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatTime, FormatDateRange:
		return f, nil
	default:
		return "", fmt.Errorf("unknown schedule format %q", s)
	}
}

// ParseWindow resolves a course's descriptors into a ScheduleWindow.
// On error the returned window has Valid unset and never conflicts.
func ParseWindow(period, dateRange, timeRange string, format Format) (model.ScheduleWindow, error) {
	w := model.ScheduleWindow{Period: period}

	start, end, err := parseTimeRange(timeRange)
	if err != nil {
		return w, err
	}
	w.Start, w.End = start, end

	switch format {
	case FormatTime:
	case FormatDateRange:
		first, last, err := parseDayRange(dateRange)
		if err != nil {
			return w, err
		}
		w.Dated, w.FirstDay, w.LastDay = true, first, last
	default:
		if strings.TrimSpace(dateRange) == "" {
			break
		}
		first, last, err := parseDayRange(dateRange)
		if err != nil {
			return w, err
		}
		w.Dated, w.FirstDay, w.LastDay = true, first, last
	}

	w.Valid = true
	return w, nil
}

// NormalizePeriod maps catalog period labels ("Período 1", "periodo_2",
// "PERIOD_1", "1") onto the canonical PERIOD_n tag.
func NormalizePeriod(raw string) (string, error) {
	m := periodPattern.FindStringSubmatch(fold(raw))
	if m == nil {
		return "", fmt.Errorf("period %q has no number", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("period %q is not positive", raw)
	}
	return "PERIOD_" + strconv.Itoa(n), nil
}

// windowsConflict applies the unified overlap rule: days compare as an
// inclusive range, times of day as a half-open range.
func windowsConflict(a, b model.ScheduleWindow) bool {
	if a.Dated && b.Dated && (a.LastDay < b.FirstDay || b.LastDay < a.FirstDay) {
		return false
	}
	return !(a.End <= b.Start || b.End <= a.Start)
}

func parseDayRange(desc string) (int, int, error) {
	m := dayRangePattern.FindStringSubmatch(fold(desc))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: date range %q", ErrMalformedSchedule, desc)
	}
	first, _ := strconv.Atoi(m[1])
	last, _ := strconv.Atoi(m[2])
	if first < 1 || last > 31 || first > last {
		return 0, 0, fmt.Errorf("%w: date range %q out of order", ErrMalformedSchedule, desc)
	}
	return first, last, nil
}

func parseTimeRange(desc string) (int, int, error) {
	m := timeRangePattern.FindStringSubmatch(fold(desc))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: time range %q", ErrMalformedSchedule, desc)
	}
	start, err := parseClock(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time range %q: %v", ErrMalformedSchedule, desc, err)
	}
	end, err := parseClock(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time range %q: %v", ErrMalformedSchedule, desc, err)
	}
	if start >= end {
		return 0, 0, fmt.Errorf("%w: time range %q ends before it starts", ErrMalformedSchedule, desc)
	}
	return start, end, nil
}

// parseClock accepts "H", "H:MM" and decimal hours "H.5".
func parseClock(s string) (int, error) {
	var minutes int
	if h, mm, ok := strings.Cut(s, ":"); ok {
		hours, err := strconv.Atoi(h)
		if err != nil {
			return 0, err
		}
		mins, err := strconv.Atoi(mm)
		if err != nil {
			return 0, err
		}
		if mins >= 60 {
			return 0, fmt.Errorf("minute %d out of range", mins)
		}
		minutes = hours*60 + mins
	} else {
		hours, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		minutes = int(math.Round(hours * 60))
	}
	if minutes < 0 || minutes > minutesPerDay {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return minutes, nil
}

// fold lower-cases s and strips diacritics so "Período" matches "periodo".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
