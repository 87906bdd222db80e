package executor

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"formbot/internal/forms"
	"formbot/internal/storage"
	"formbot/pkg/logx"
)

// Captured fields outside the submission namespace (hidden bookkeeping inputs,
// viewstate blobs) are deliberately not submitted.
const (
	fieldPrefix    = "entry."
	emailFieldName = "emailAddress"
	submitTimeout  = 30 * time.Second
)

// HolidayLookup answers whether a local calendar date is a national holiday.
type HolidayLookup interface {
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// Auditor records execution attempts, best-effort.
type Auditor interface {
	AppendExecution(ctx context.Context, rec storage.ExecutionRecord) error
}

// Executor performs the gating and submission of one entry.
type Executor struct {
	store    *forms.Store
	holidays HolidayLookup
	audit    Auditor
	http     *resty.Client
	log      logx.Logger

	now func() time.Time
}

func New(store *forms.Store, holidays HolidayLookup, audit Auditor, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store:    store,
		holidays: holidays,
		audit:    audit,
		http:     resty.New().SetTimeout(submitTimeout),
		log:      log,
		now:      time.Now,
	}
}

// Execute runs the entry with the given id. force bypasses the day-of-week and
// holiday gates (explicit user-initiated runs).
//
// A missing entry returns forms.ErrNotFound and writes nothing. A holiday
// lookup failure returns that error and writes nothing either; the attempt is
// considered not to have happened. Every other path produces a terminal
// Result that is persisted onto the entry before returning.
func (x *Executor) Execute(ctx context.Context, id string, force bool) (forms.Result, error) {
	entry, ok := x.store.Find(id)
	if !ok {
		return forms.Result{}, forms.ErrNotFound
	}

	var res forms.Result
	gated := false
	if !force {
		now := x.now()
		if !entry.Periodic.AllowsDay(forms.WeekdayOf(now.Weekday())) {
			res = forms.Failed(now, forms.ReasonDayOfWeek)
			gated = true
		} else if !entry.Periodic.ExecuteOnHoliday {
			hol, err := x.holidays.IsHoliday(ctx, now)
			if err != nil {
				return forms.Result{}, err
			}
			if hol {
				res = forms.Failed(now, forms.ReasonHoliday)
				gated = true
			}
		}
	}

	if !gated {
		res = x.submit(ctx, entry.Form)
	}
	res.ExecutedAt = x.now()

	if err := x.store.Update(id, func(e *forms.Entry) {
		r := res
		e.LastResult = &r
	}); err != nil {
		// Entry deleted mid-flight; the outcome has nowhere to live.
		x.log.Warn("result not persisted", logx.String("form", id), logx.Err(err))
	}

	if x.audit != nil {
		if err := x.audit.AppendExecution(ctx, storage.ExecutionRecord{
			FormID:  id,
			At:      res.ExecutedAt,
			Forced:  force,
			Success: res.Success,
			Message: res.Message(),
		}); err != nil {
			x.log.Warn("audit append failed", logx.String("form", id), logx.Err(err))
		}
	}

	x.log.Info("executed",
		logx.String("form", id),
		logx.Bool("force", force),
		logx.Bool("success", res.Success),
		logx.String("message", res.Message()),
	)
	return res, nil
}

func (x *Executor) submit(ctx context.Context, def forms.FormDefinition) forms.Result {
	now := x.now()
	resp, err := x.http.R().
		SetContext(ctx).
		SetFormDataFromValues(SubmissionValues(def)).
		Post(def.PostURL)
	if err != nil {
		return forms.Failed(now, forms.ReasonNetwork)
	}
	// The response body is never read; only the status decides.
	if resp.StatusCode() == http.StatusOK {
		return forms.Succeeded(now)
	}
	return forms.Failed(now, forms.ReasonUnknown)
}

// SubmissionValues builds the form-encoded payload: every captured field whose
// name is in the `entry.` namespace or is the literal email field. Repeated
// names (multi-select answers) are kept as repeated values.
func SubmissionValues(def forms.FormDefinition) url.Values {
	v := url.Values{}
	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, fieldPrefix) || f.Name == emailFieldName {
			v.Add(f.Name, f.Value)
		}
	}
	return v
}
