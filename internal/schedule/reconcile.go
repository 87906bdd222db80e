package schedule

import (
	"formbot/internal/forms"
	"formbot/pkg/logx"
)

// Reconcile aligns the wake-up table with the entry collection: exactly one
// pending wake-up per enabled entry, at its configured time of day, on the
// next date not already covered. It runs after every committed store change
// (including the executor's own result writes, which is what rolls a fired
// entry over to tomorrow) and once per day as a sweep.
func (s *Service) Reconcile(entries []forms.Entry) {
	regs := s.timers.All()
	byKey := make(map[string]Registration, len(regs))
	for _, r := range regs {
		byKey[r.Key] = r
	}

	var wanted []forms.Entry
	wantedIDs := make(map[string]struct{})
	for _, e := range entries {
		if e.Periodic.Enabled {
			wanted = append(wanted, e)
			wantedIDs[e.ID] = struct{}{}
		}
	}

	for _, r := range regs {
		if _, ok := wantedIDs[r.Key]; !ok {
			s.timers.Clear(r.Key)
			s.log.Debug("timer cleared", logx.String("form", r.Key))
		}
	}

	now := s.now()
	for _, e := range wanted {
		if reg, ok := byKey[e.ID]; ok {
			// Minute-granularity wall-clock comparison: a pending wake-up at the
			// configured time of day counts as correct whatever date it fires on.
			// A correct one ends the pass; later entries wait for the next store
			// change or the daily sweep.
			if reg.At.In(now.Location()).Format("15:04") == e.Periodic.ExecuteTime.String() {
				break
			}
		}

		next := e.Periodic.ExecuteTime.On(now)
		if next.Before(now) {
			next = next.AddDate(0, 0, 1)
		}
		s.timers.Set(e.ID, next)
		s.log.Info("timer registered", logx.String("form", e.ID), logx.Time("at", next))
	}
}

// reconcileFromStore runs a full pass against the current collection.
func (s *Service) reconcileFromStore() {
	s.Reconcile(s.store.Snapshot())
}
