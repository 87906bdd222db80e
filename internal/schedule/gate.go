package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formbot/internal/forms"
	"formbot/internal/notify"
	"formbot/pkg/logx"
)

// ExecutionWindow is the tolerance around the intended instant within which a
// late wake-up still executes. Outside it the fire degrades to a recorded
// Timeout failure instead of silently submitting a form hours late (the host
// may have been suspended for a long time).
const ExecutionWindow = 5 * time.Minute

// onTimerFired handles one wake-up for the given entry id.
func (s *Service) onTimerFired(key string) {
	ctx := s.runContext()
	entry, ok := s.store.Find(key)
	if !ok {
		// Deleted between scheduling and firing.
		s.log.Debug("timer fired for unknown entry", logx.String("form", key))
		return
	}

	now := s.now()
	intended := entry.Periodic.ExecuteTime.On(now)

	var res forms.Result
	if absDuration(now.Sub(intended)) < ExecutionWindow {
		r, err := s.exec.Execute(ctx, key, false)
		if err != nil {
			if errors.Is(err, forms.ErrNotFound) {
				return
			}
			// Holiday source unreachable or similar: the attempt never became
			// terminal, so no result is written and no notification goes out.
			s.log.Error("execution aborted", logx.String("form", key), logx.Err(err))
			return
		}
		res = r
	} else {
		res = forms.Failed(now, forms.ReasonTimeout)
		if err := s.store.Update(key, func(e *forms.Entry) {
			r := res
			e.LastResult = &r
		}); err != nil {
			s.log.Warn("timeout result not persisted", logx.String("form", key), logx.Err(err))
		}
		s.log.Warn("wake-up outside execution window",
			logx.String("form", key),
			logx.Time("intended", intended),
			logx.Time("fired", now),
		)
	}

	body := "Form submitted"
	if !res.Success {
		body = fmt.Sprintf("Form submission failed: %s", res.Message())
	}
	s.notifier.Notify(notify.Notification{Key: key, Title: entry.Form.Name, Body: body})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
