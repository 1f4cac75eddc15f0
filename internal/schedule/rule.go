// Package schedule implements the recurring report engine: translation of a
// user's wall-clock schedule into a UTC recurrence rule, the live job
// registry, the cron-backed scheduler core and startup recovery from the
// job store.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"emsreport/internal/shared"
)

// Validation errors surfaced to schedule-creation callers. All are marked
// shared.KindValidation so the HTTP layer maps them to 400.
var (
	ErrInvalidTimeFormat = shared.MarkKind(fmt.Errorf("invalid time format, use HH:mm (24-hour)"), shared.KindValidation)
	ErrInvalidDaysValue  = shared.MarkKind(fmt.Errorf(`invalid "days" value, use "daily", "weekdays" or an array of weekdays like ["Mon","Wed"]`), shared.KindValidation)
	ErrInvalidDaysArray  = shared.MarkKind(fmt.Errorf(`invalid "days" array, use days like ["Mon","Wed","Fri"]`), shared.KindValidation)
	ErrInvalidDaysType   = shared.MarkKind(fmt.Errorf(`invalid "days" field, must be a string or an array`), shared.KindValidation)
	ErrUnknownTimezone   = shared.MarkKind(fmt.Errorf("unknown timezone"), shared.KindValidation)
)

// timeRe accepts 24-hour HH:mm with an optional leading zero on the hour,
// matching the format the original scheduling API accepted.
var timeRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)

// dayNums maps weekday abbreviations to cron numeric values (Sunday=0).
var dayNums = map[string]int{
	"sun": 0,
	"mon": 1,
	"tue": 2,
	"wed": 3,
	"thu": 4,
	"fri": 5,
	"sat": 6,
}

// Rule is the normalized, persisted description of when a job fires. Minute
// and hour are derived once, at schedule creation, by converting the user's
// local wall-clock time to UTC; they do not auto-adjust for daylight-saving
// shifts after creation.
type Rule struct {
	MinuteUTC int
	HourUTC   int
	// DayOfWeek is the cron day-of-week field: "*", "1-5" or a
	// comma-joined set of integers 0-6 (0=Sunday).
	DayOfWeek string
	// Timezone is the IANA name the user scheduled in. Display and audit
	// only; execution is always against the UTC clock.
	Timezone string
	// LocalTime is the original "HH:mm" string, informational.
	LocalTime string
	// UTCTime is the derived UTC wall-clock time as "HH:mm", for display.
	UTCTime string
}

// CronExpr returns the five-field recurrence expression, evaluated against
// the UTC clock.
func (r Rule) CronExpr() string {
	return fmt.Sprintf("%d %d * * %s", r.MinuteUTC, r.HourUTC, r.DayOfWeek)
}

// Translate converts a wall-clock time, IANA timezone and day pattern into
// a Rule. days accepts "daily", "weekdays" or a slice of weekday
// abbreviations (as []string or decoded JSON []any).
func Translate(localTime, timezone string, days any) (Rule, error) {
	return TranslateAt(localTime, timezone, days, time.Now())
}

// TranslateAt is Translate with an explicit "now", which anchors the
// local-to-UTC offset to a specific day.
func TranslateAt(localTime, timezone string, days any, now time.Time) (Rule, error) {
	if !timeRe.MatchString(localTime) {
		return Rule{}, ErrInvalidTimeFormat
	}

	dayField, err := dayOfWeekField(days)
	if err != nil {
		return Rule{}, err
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Rule{}, shared.Wrapf(ErrUnknownTimezone, "timezone %q", timezone)
	}

	parts := strings.SplitN(localTime, ":", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])

	// Interpret the wall-clock time in the user's zone today and convert
	// to UTC. The offset is baked in here and not re-derived per fire.
	local := now.In(loc)
	utc := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc).UTC()

	return Rule{
		MinuteUTC: utc.Minute(),
		HourUTC:   utc.Hour(),
		DayOfWeek: dayField,
		Timezone:  timezone,
		LocalTime: localTime,
		UTCTime:   fmt.Sprintf("%02d:%02d", utc.Hour(), utc.Minute()),
	}, nil
}

// dayOfWeekField normalizes the user-supplied day pattern into a cron
// day-of-week field.
func dayOfWeekField(days any) (string, error) {
	switch v := days.(type) {
	case nil:
		return "*", nil
	case string:
		switch strings.ToLower(v) {
		case "daily":
			return "*", nil
		case "weekdays":
			return "1-5", nil
		default:
			return "", ErrInvalidDaysValue
		}
	case []string:
		return dayFieldFromList(v)
	case []any:
		list := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				list = append(list, s)
			}
		}
		return dayFieldFromList(list)
	default:
		return "", ErrInvalidDaysType
	}
}

// dayFieldFromList maps weekday abbreviations through the fixed table,
// dropping unrecognized entries and duplicates while preserving the given
// order.
func dayFieldFromList(list []string) (string, error) {
	seen := make(map[int]bool, len(list))
	nums := make([]string, 0, len(list))
	for _, d := range list {
		n, ok := dayNums[strings.ToLower(d)]
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		nums = append(nums, strconv.Itoa(n))
	}
	if len(nums) == 0 {
		return "", ErrInvalidDaysArray
	}
	return strings.Join(nums, ","), nil
}

// ParseCronExpr rebuilds the rule fields from a persisted five-field
// recurrence expression. The inverse of Rule.CronExpr, used by recovery.
func ParseCronExpr(expr string) (Rule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Rule{}, fmt.Errorf("recurrence expression %q: want 5 fields, got %d", expr, len(fields))
	}
	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("recurrence expression %q: bad minute field", expr)
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return Rule{}, fmt.Errorf("recurrence expression %q: bad hour field", expr)
	}
	if fields[2] != "*" || fields[3] != "*" {
		return Rule{}, fmt.Errorf("recurrence expression %q: day-of-month and month must be *", expr)
	}
	if _, err := parseDaySet(fields[4]); err != nil {
		return Rule{}, fmt.Errorf("recurrence expression %q: %w", expr, err)
	}

	return Rule{
		MinuteUTC: minute,
		HourUTC:   hour,
		DayOfWeek: fields[4],
		UTCTime:   fmt.Sprintf("%02d:%02d", hour, minute),
	}, nil
}

// parseDaySet expands a day-of-week field into the set of allowed weekdays.
func parseDaySet(field string) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, 7)
	if field == "*" {
		for d := time.Sunday; d <= time.Saturday; d++ {
			set[d] = true
		}
		return set, nil
	}
	for _, tok := range strings.Split(field, ",") {
		lo, hi, ok := strings.Cut(tok, "-")
		from, err := strconv.Atoi(lo)
		if err != nil || from < 0 || from > 6 {
			return nil, fmt.Errorf("bad day-of-week token %q", tok)
		}
		to := from
		if ok {
			to, err = strconv.Atoi(hi)
			if err != nil || to < from || to > 6 {
				return nil, fmt.Errorf("bad day-of-week token %q", tok)
			}
		}
		for d := from; d <= to; d++ {
			set[time.Weekday(d)] = true
		}
	}
	return set, nil
}

// NextRun computes the next fire instant strictly after now, walking
// forward day by day against the day-of-week set rather than naively adding
// one day, so weekday-restricted schedules report an accurate estimate.
func (r Rule) NextRun(now time.Time) time.Time {
	allowed, err := parseDaySet(r.DayOfWeek)
	if err != nil {
		// A rule that made it into the registry has a valid field; fall
		// back to firing every day rather than returning a zero time.
		allowed, _ = parseDaySet("*")
	}

	now = now.UTC()
	base := time.Date(now.Year(), now.Month(), now.Day(), r.HourUTC, r.MinuteUTC, 0, 0, time.UTC)
	for i := 0; i <= 7; i++ {
		candidate := base.AddDate(0, 0, i)
		if candidate.After(now) && allowed[candidate.Weekday()] {
			return candidate
		}
	}
	// Unreachable: any non-empty day set matches within 7 days.
	return base.AddDate(0, 0, 7)
}
