package forms

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday is a lowercase three-letter weekday tag as stored in the forms file.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

var weekdayTags = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// WeekdayOf maps a time.Weekday onto its tag.
func WeekdayOf(d time.Weekday) Weekday { return weekdayTags[d] }

func (w Weekday) Valid() bool {
	switch w {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// ClockTime is a wall-clock time of day (24h, minute granularity, no zone).
// It is always interpreted in local time.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at this time of day on day's calendar date, in day's
// location. Seconds and below are zeroed.
func (c ClockTime) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ct, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// FormField is one captured (name, value) pair, in capture order.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormDefinition is the submittable form produced by the capture step.
// FieldLabels maps internal field names to human labels; only editors read it,
// execution never does.
type FormDefinition struct {
	Name        string            `json:"formName"`
	PostURL     string            `json:"postUrl"`
	Fields      []FormField       `json:"fields"`
	FieldLabels map[string]string `json:"fieldLabels,omitempty"`
}

// PeriodicSettings is the recurrence rule for one entry.
type PeriodicSettings struct {
	Enabled bool `json:"enable"`

	// DaysOfWeek lists the weekdays execution is permitted on. An empty set
	// means the entry never executes, even when enabled.
	DaysOfWeek []Weekday `json:"executeDaysOfWeek"`

	// ExecuteOnHoliday permits execution on national holidays. When false,
	// a matching weekday that falls on a holiday is skipped.
	ExecuteOnHoliday bool `json:"executeOnNationalHoliday"`

	ExecuteTime ClockTime `json:"executeTime"`
}

// AllowsDay reports whether the given weekday tag is in the permitted set.
func (p PeriodicSettings) AllowsDay(w Weekday) bool {
	for _, d := range p.DaysOfWeek {
		if d == w {
			return true
		}
	}
	return false
}

// Entry is one persisted form-submission job.
type Entry struct {
	ID         string           `json:"id"`
	Form       FormDefinition   `json:"form"`
	Periodic   PeriodicSettings `json:"periodicSettings"`
	LastResult *Result          `json:"lastExecutedResult,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	cp := e
	if e.Form.Fields != nil {
		cp.Form.Fields = append([]FormField(nil), e.Form.Fields...)
	}
	if e.Form.FieldLabels != nil {
		cp.Form.FieldLabels = make(map[string]string, len(e.Form.FieldLabels))
		for k, v := range e.Form.FieldLabels {
			cp.Form.FieldLabels[k] = v
		}
	}
	if e.Periodic.DaysOfWeek != nil {
		cp.Periodic.DaysOfWeek = append([]Weekday(nil), e.Periodic.DaysOfWeek...)
	}
	if e.LastResult != nil {
		r := *e.LastResult
		cp.LastResult = &r
	}
	return cp
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
