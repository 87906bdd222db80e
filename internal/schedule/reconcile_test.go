package schedule

import (
	"sync"
	"testing"
	"time"

	"formbot/internal/forms"
)

// fakeTimers records mutations so tests can assert on reconciliation passes.
type fakeTimers struct {
	mu     sync.Mutex
	at     map[string]time.Time
	sets   []string
	clears []string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{at: map[string]time.Time{}}
}

func (f *fakeTimers) All() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Registration, 0, len(f.at))
	for k, at := range f.at {
		out = append(out, Registration{Key: k, At: at})
	}
	return out
}

func (f *fakeTimers) Set(key string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[key] = at
	f.sets = append(f.sets, key)
}

func (f *fakeTimers) Clear(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.at, key)
	f.clears = append(f.clears, key)
}

func (f *fakeTimers) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = map[string]time.Time{}
}

func (f *fakeTimers) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets) + len(f.clears)
}

func reconcilerAt(now time.Time, ft *fakeTimers) *Service {
	return &Service{timers: ft, now: func() time.Time { return now }}
}

func periodicEntry(id string, enabled bool, at forms.ClockTime) forms.Entry {
	return forms.Entry{
		ID:   id,
		Form: forms.FormDefinition{Name: "form " + id, PostURL: "https://example.com/" + id},
		Periodic: forms.PeriodicSettings{
			Enabled:     enabled,
			DaysOfWeek:  []forms.Weekday{forms.Monday},
			ExecuteTime: at,
		},
	}
}

func TestReconcileMirrorsEnabledEntries(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local) // Monday
	ft := newFakeTimers()
	ft.at["ghost"] = now.Add(time.Hour) // orphan from a deleted entry

	s := reconcilerAt(now, ft)
	s.Reconcile([]forms.Entry{
		periodicEntry("a", true, forms.ClockTime{Hour: 9}),
		periodicEntry("b", false, forms.ClockTime{Hour: 10}),
		periodicEntry("c", true, forms.ClockTime{Hour: 11}),
	})

	regs := ft.All()
	keys := map[string]bool{}
	for _, r := range regs {
		keys[r.Key] = true
	}
	if len(regs) != 2 || !keys["a"] || !keys["c"] {
		t.Fatalf("registered keys = %v, want exactly {a, c}", keys)
	}
}

func TestReconcileNextOccurrence(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	ft := newFakeTimers()
	s := reconcilerAt(now, ft)

	s.Reconcile([]forms.Entry{periodicEntry("past", true, forms.ClockTime{Hour: 9})})
	if got, want := ft.at["past"], time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Fatalf("past time-of-day = %v, want tomorrow %v", got, want)
	}

	ft2 := newFakeTimers()
	s2 := reconcilerAt(now, ft2)
	s2.Reconcile([]forms.Entry{periodicEntry("future", true, forms.ClockTime{Hour: 11})})
	if got, want := ft2.at["future"], time.Date(2026, 3, 2, 11, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Fatalf("future time-of-day = %v, want today %v", got, want)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	ft := newFakeTimers()
	s := reconcilerAt(now, ft)
	entries := []forms.Entry{periodicEntry("a", true, forms.ClockTime{Hour: 9})}

	s.Reconcile(entries)
	before := ft.mutations()
	s.Reconcile(entries)
	if got := ft.mutations(); got != before {
		t.Fatalf("second pass mutated timers: %d -> %d", before, got)
	}
}

func TestReconcileKeepsMatchingTimerDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	tomorrow := time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)
	ft := newFakeTimers()
	ft.at["a"] = tomorrow

	s := reconcilerAt(now, ft)
	s.Reconcile([]forms.Entry{periodicEntry("a", true, forms.ClockTime{Hour: 9})})

	// 09:00 matches, so the timer stays on tomorrow's date even though a fresh
	// computation would pick today 09:00.
	if got := ft.at["a"]; !got.Equal(tomorrow) {
		t.Fatalf("matching timer rescheduled: %v, want %v", got, tomorrow)
	}
	if len(ft.sets) != 0 {
		t.Fatalf("matching timer re-set %d times", len(ft.sets))
	}
}

func TestReconcileMatchingTimerEndsThePass(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	ft := newFakeTimers()
	ft.at["a"] = time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)
	stale := time.Date(2026, 3, 2, 7, 0, 0, 0, time.Local)
	ft.at["b"] = stale

	s := reconcilerAt(now, ft)
	s.Reconcile([]forms.Entry{
		periodicEntry("a", true, forms.ClockTime{Hour: 9}),
		periodicEntry("b", true, forms.ClockTime{Hour: 10}),
	})

	// a's timer already matches, which ends the pass: b keeps its stale
	// registration until the next pass.
	if got := ft.at["b"]; !got.Equal(stale) {
		t.Fatalf("b updated within the same pass: %v", got)
	}

	// A later pass without the match (a removed) fixes b.
	s.Reconcile([]forms.Entry{periodicEntry("b", true, forms.ClockTime{Hour: 10})})
	if got, want := ft.at["b"], time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Fatalf("b = %v, want %v", got, want)
	}
}

func TestReconcileClearsDisabled(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	ft := newFakeTimers()
	s := reconcilerAt(now, ft)

	s.Reconcile([]forms.Entry{periodicEntry("a", true, forms.ClockTime{Hour: 9})})
	if _, ok := ft.at["a"]; !ok {
		t.Fatal("timer not registered")
	}

	s.Reconcile([]forms.Entry{periodicEntry("a", false, forms.ClockTime{Hour: 9})})
	if _, ok := ft.at["a"]; ok {
		t.Fatal("disabled entry kept its timer")
	}
}
