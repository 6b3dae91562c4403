// Package schedule computes the next UTC send instant for a follow-up's
// schedule rule. The computation is a pure function of the rule and the
// current time: no I/O, deterministic given inputs. Both the write API and
// the scheduler loop re-enter it after each send to re-arm recurring rules,
// so the materialized next_send_at can never drift from what the rule says.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Repeat modes.
const (
	RepeatOnce       = "once"
	RepeatDaily      = "daily"
	RepeatTwiceDaily = "twice_daily"
	RepeatWeekly     = "weekly"
	RepeatEveryNDays = "every_n_days"
	RepeatWeekday    = "weekday"
	RepeatRelative   = "relative"
)

// ErrInvalidRule is returned when a rule is missing or malformed.
// Callers test with errors.Is.
var ErrInvalidRule = errors.New("invalid schedule rule")

// Rule is the declarative schedule attached to a followup. String fields
// mirror the stored columns: dates are "YYYY-MM-DD" and times "HH:MM",
// both interpreted in Timezone (IANA name; empty means UTC).
type Rule struct {
	Repeat    string
	StartDate string
	EndDate   string
	SendTime  string
	SendTime2 string
	Interval  int
	ByWeekday string
	RelValue  int
	RelUnit   string
	Timezone  string
}

var weekdayTokens = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// Next computes the next send instant for r, strictly after nowUTC.
//
// Guarantees:
//   - the result is UTC, truncated to whole seconds, and > nowUTC
//     (a computation landing at or before nowUTC is clamped to nowUTC+10s);
//   - for non-relative modes the result falls on or after
//     max(today in r.Timezone, r.StartDate), so back-dated rules never fire
//     historical occurrences.
//
// A wall-clock time that does not exist in r.Timezone (spring-forward gap)
// resolves to the first valid instant after the gap.
func Next(r Rule, nowUTC time.Time) (time.Time, error) {
	rep := strings.ToLower(strings.TrimSpace(r.Repeat))
	nowUTC = nowUTC.UTC()

	// Relative offsets are pure UTC and ignore start_date/send_time.
	if rep == RepeatRelative {
		return nextRelative(r, nowUTC)
	}

	loc, err := loadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	nowLocal := nowUTC.In(loc)

	startDay, err := parseStartDay(r.StartDate)
	if err != nil {
		return time.Time{}, err
	}

	// Earliest day any non-relative rule may schedule on.
	minDay := dateOf(nowLocal)
	if !startDay.IsZero() && startDay.After(minDay) {
		minDay = startDay
	}

	switch rep {
	case RepeatOnce:
		return nextOnce(r, nowUTC, loc)
	case RepeatDaily:
		return nextDaily(r, nowUTC, nowLocal, minDay, loc)
	case RepeatTwiceDaily:
		return nextTwiceDaily(r, nowUTC, nowLocal, minDay, loc)
	case RepeatWeekly:
		return nextWeekly(r, nowUTC, nowLocal, startDay, loc)
	case RepeatEveryNDays:
		return nextEveryNDays(r, nowUTC, nowLocal, startDay, loc)
	case RepeatWeekday:
		return nextWeekday(r, nowUTC, nowLocal, minDay, loc)
	}

	return time.Time{}, fmt.Errorf("%w: unsupported repeat %q (use once/daily/twice_daily/weekly/every_n_days/weekday/relative)", ErrInvalidRule, r.Repeat)
}

func nextRelative(r Rule, nowUTC time.Time) (time.Time, error) {
	v := r.RelValue
	if v == 0 {
		v = 1
	}
	if v < 0 {
		return time.Time{}, fmt.Errorf("%w: rel_value must be > 0, got %d", ErrInvalidRule, v)
	}
	unit, err := parseUnit(r.RelUnit)
	if err != nil {
		return time.Time{}, err
	}
	var next time.Time
	switch unit {
	case "minutes":
		next = nowUTC.Add(time.Duration(v) * time.Minute)
	case "hours":
		next = nowUTC.Add(time.Duration(v) * time.Hour)
	default: // days
		next = nowUTC.Add(time.Duration(v) * 24 * time.Hour)
	}
	return clamp(next, nowUTC), nil
}

func nextOnce(r Rule, nowUTC time.Time, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(r.StartDate) == "" || strings.TrimSpace(r.SendTime) == "" {
		return time.Time{}, fmt.Errorf("%w: start_date and send_time are required for non-relative schedules", ErrInvalidRule)
	}
	startDay, err := parseStartDay(r.StartDate)
	if err != nil {
		return time.Time{}, err
	}
	hh, mm, err := parseHHMM(r.SendTime, "")
	if err != nil {
		return time.Time{}, err
	}
	return clamp(at(startDay, hh, mm, loc), nowUTC), nil
}

func nextDaily(r Rule, nowUTC, nowLocal, minDay time.Time, loc *time.Location) (time.Time, error) {
	hh, mm, err := parseHHMM(r.SendTime, "09:00")
	if err != nil {
		return time.Time{}, err
	}
	candidate := at(minDay, hh, mm, loc)
	if !candidate.After(nowLocal) {
		candidate = at(minDay.AddDate(0, 0, 1), hh, mm, loc)
	}
	return clamp(candidate, nowUTC), nil
}

func nextTwiceDaily(r Rule, nowUTC, nowLocal, minDay time.Time, loc *time.Location) (time.Time, error) {
	hh1, mm1, err := parseHHMM(r.SendTime, "09:00")
	if err != nil {
		return time.Time{}, err
	}
	if strings.TrimSpace(r.SendTime2) == "" {
		return time.Time{}, fmt.Errorf("%w: twice_daily requires send_time_2", ErrInvalidRule)
	}
	hh2, mm2, err := parseHHMM(r.SendTime2, "15:00")
	if err != nil {
		return time.Time{}, err
	}

	candidates := []time.Time{
		at(minDay, hh1, mm1, loc),
		at(minDay, hh2, mm2, loc),
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

	for _, c := range candidates {
		if c.After(nowLocal) {
			return clamp(c, nowUTC), nil
		}
	}

	// Both slots already passed: tomorrow at the earlier of the two times.
	earlier := candidates[0]
	next := at(minDay.AddDate(0, 0, 1), earlier.Hour(), earlier.Minute(), loc)
	return clamp(next, nowUTC), nil
}

func nextWeekly(r Rule, nowUTC, nowLocal, startDay time.Time, loc *time.Location) (time.Time, error) {
	if startDay.IsZero() {
		return time.Time{}, fmt.Errorf("%w: weekly requires start_date (YYYY-MM-DD)", ErrInvalidRule)
	}
	hh, mm, err := parseHHMM(r.SendTime, "09:00")
	if err != nil {
		return time.Time{}, err
	}

	// The rule fires on the same weekday as start_date.
	targetWD := startDay.Weekday()

	baseDay := dateOf(nowLocal)
	if startDay.After(baseDay) {
		baseDay = startDay
	}
	daysAhead := (int(targetWD) - int(baseDay.Weekday()) + 7) % 7
	candidateDay := baseDay.AddDate(0, 0, daysAhead)

	candidate := at(candidateDay, hh, mm, loc)
	if !candidate.After(nowLocal) {
		candidate = at(candidateDay.AddDate(0, 0, 7), hh, mm, loc)
	}
	return clamp(candidate, nowUTC), nil
}

func nextEveryNDays(r Rule, nowUTC, nowLocal, startDay time.Time, loc *time.Location) (time.Time, error) {
	if startDay.IsZero() {
		return time.Time{}, fmt.Errorf("%w: every_n_days requires start_date (YYYY-MM-DD)", ErrInvalidRule)
	}
	n := r.Interval
	if n == 0 {
		n = 1
	}
	if n < 0 {
		return time.Time{}, fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidRule, n)
	}
	hh, mm, err := parseHHMM(r.SendTime, "09:00")
	if err != nil {
		return time.Time{}, err
	}

	// Advance from start_date in whole interval multiples until the
	// candidate day reaches today.
	day := startDay
	today := dateOf(nowLocal)
	if day.Before(today) {
		diff := daysBetween(day, today)
		day = day.AddDate(0, 0, (diff/n)*n)
		if day.Before(today) {
			day = day.AddDate(0, 0, n)
		}
	}

	candidate := at(day, hh, mm, loc)
	if !candidate.After(nowLocal) {
		candidate = at(day.AddDate(0, 0, n), hh, mm, loc)
	}
	return clamp(candidate, nowUTC), nil
}

func nextWeekday(r Rule, nowUTC, nowLocal, minDay time.Time, loc *time.Location) (time.Time, error) {
	hh, mm, err := parseHHMM(r.SendTime, "09:00")
	if err != nil {
		return time.Time{}, err
	}
	raw := strings.TrimSpace(r.ByWeekday)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: weekday requires byweekday (e.g. 'MO,TU,FR')", ErrInvalidRule)
	}

	wanted := map[time.Weekday]bool{}
	for _, p := range strings.Split(raw, ",") {
		tok := strings.ToUpper(strings.TrimSpace(p))
		if tok == "" {
			continue
		}
		wd, ok := weekdayTokens[tok]
		if !ok {
			return time.Time{}, fmt.Errorf("%w: invalid weekday %q (use MO..SU)", ErrInvalidRule, tok)
		}
		wanted[wd] = true
	}
	if len(wanted) == 0 {
		return time.Time{}, fmt.Errorf("%w: weekday requires byweekday (e.g. 'MO,TU,FR')", ErrInvalidRule)
	}

	// Scan forward from the floor day; 21 days covers any weekday set.
	for i := 0; i < 21; i++ {
		day := minDay.AddDate(0, 0, i)
		if !wanted[day.Weekday()] {
			continue
		}
		candidate := at(day, hh, mm, loc)
		if candidate.After(nowLocal) {
			return clamp(candidate, nowUTC), nil
		}
	}

	// fallback: one week past the floor at send_time
	return clamp(at(minDay.AddDate(0, 0, 7), hh, mm, loc), nowUTC), nil
}

// clamp enforces the floor invariant: the result is strictly after nowUTC.
func clamp(candidate, nowUTC time.Time) time.Time {
	c := candidate.UTC()
	if !c.After(nowUTC) {
		c = nowUTC.Add(10 * time.Second)
	}
	return c.Truncate(time.Second)
}

func loadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, name)
	}
	return loc, nil
}

// parseStartDay parses "YYYY-MM-DD" into a UTC-midnight date value.
// Blank input returns the zero time (caller decides whether that is valid).
func parseStartDay(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidRule)
	}
	return d, nil
}

// parseHHMM parses "HH:MM" (24h). Blank input falls back to def when given.
func parseHHMM(raw, def string) (int, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		if def == "" {
			return 0, 0, fmt.Errorf("%w: send_time is required", ErrInvalidRule)
		}
		s = def
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: bad time format %q (expected HH:MM)", ErrInvalidRule, raw)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: time must be numeric HH:MM, got %q", ErrInvalidRule, raw)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("%w: time out of range, got %q", ErrInvalidRule, raw)
	}
	return hh, mm, nil
}

func parseUnit(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "hr", "hrs", "hour", "hours":
		return "hours", nil
	case "min", "mins", "minute", "minutes":
		return "minutes", nil
	case "day", "days":
		return "days", nil
	}
	return "", fmt.Errorf("%w: unsupported rel_unit %q (use minutes/hours/days)", ErrInvalidRule, raw)
}

// dateOf returns t's calendar date as a UTC-midnight value. Doing day
// arithmetic on UTC midnights keeps it immune to DST (every UTC day is
// exactly 24h); only the final candidate is materialized in the rule's
// location via at().
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// at materializes a date value at hh:mm in loc.
func at(day time.Time, hh, mm int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)
}

// daysBetween returns whole days from a to b; both must be UTC midnights.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
