package forms

import (
	"encoding/json"
	"time"
)

// Reason is the terminal outcome classification of one execution attempt.
// The string values double as the persisted message so the stored record
// matches what notifications show.
type Reason string

const (
	ReasonOK        Reason = "OK"
	ReasonDayOfWeek Reason = "Day of week"
	ReasonHoliday   Reason = "National holiday"
	ReasonNetwork   Reason = "Network error"
	ReasonUnknown   Reason = "Unknown"
	ReasonTimeout   Reason = "Timeout"
)

// Result is the terminal outcome of one execution attempt.
type Result struct {
	ExecutedAt time.Time
	Success    bool
	Reason     Reason
}

// Succeeded builds the single success result.
func Succeeded(at time.Time) Result {
	return Result{ExecutedAt: at, Success: true, Reason: ReasonOK}
}

// Failed builds a failure result for the given reason.
func Failed(at time.Time, reason Reason) Result {
	return Result{ExecutedAt: at, Success: false, Reason: reason}
}

// Message is the human-readable outcome string.
func (r Result) Message() string { return string(r.Reason) }

// resultJSON is the wire/storage shape. Timestamps are epoch milliseconds for
// compatibility with records written by earlier captures.
type resultJSON struct {
	ExecutedTimeMillis int64  `json:"executedTimeMillis"`
	Success            bool   `json:"success"`
	Message            string `json:"message,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		ExecutedTimeMillis: r.ExecutedAt.UnixMilli(),
		Success:            r.Success,
		Message:            string(r.Reason),
	})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.ExecutedAt = time.UnixMilli(raw.ExecutedTimeMillis)
	r.Success = raw.Success
	r.Reason = Reason(raw.Message)
	return nil
}
