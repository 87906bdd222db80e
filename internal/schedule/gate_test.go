package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"formbot/internal/forms"
	"formbot/internal/notify"
	"formbot/pkg/logx"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []struct {
		id    string
		force bool
	}
	res forms.Result
	err error
}

func (f *fakeRunner) Execute(_ context.Context, id string, force bool) (forms.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		id    string
		force bool
	}{id, force})
	return f.res, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) last() (notify.Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return notify.Notification{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func gateFixture(t *testing.T, now time.Time) (*Service, *forms.Store, *fakeRunner, *fakeNotifier) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forms.json")
	entry := forms.Entry{
		ID: "a",
		Form: forms.FormDefinition{
			Name:    "weekly report",
			PostURL: "https://example.com/formResponse",
		},
		Periodic: forms.PeriodicSettings{
			Enabled:     true,
			DaysOfWeek:  []forms.Weekday{forms.Monday},
			ExecuteTime: forms.ClockTime{Hour: 9, Minute: 0},
		},
	}
	b, err := json.Marshal([]forms.Entry{entry})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := forms.NewStore(path, logx.Nop())
	if _, err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	runner := &fakeRunner{res: forms.Succeeded(now)}
	notifier := &fakeNotifier{}
	s := &Service{
		store:    store,
		exec:     runner,
		notifier: notifier,
		timers:   newFakeTimers(),
		now:      func() time.Time { return now },
	}
	return s, store, runner, notifier
}

func TestGateOnTimeFireRunsExecutor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.Local) // Monday 09:02, intended 09:00
	s, _, runner, notifier := gateFixture(t, now)

	s.onTimerFired("a")

	if runner.callCount() != 1 {
		t.Fatalf("executor invoked %d times, want 1", runner.callCount())
	}
	if runner.calls[0].id != "a" || runner.calls[0].force {
		t.Fatalf("unexpected call %+v", runner.calls[0])
	}
	n, ok := notifier.last()
	if !ok {
		t.Fatal("no notification")
	}
	if n.Key != "a" || n.Title != "weekly report" || n.Body != "Form submitted" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestGateLateFireRecordsTimeout(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 6, 0, 0, time.Local) // 6 minutes late
	s, store, runner, notifier := gateFixture(t, now)

	s.onTimerFired("a")

	if runner.callCount() != 0 {
		t.Fatal("executor must not run outside the window")
	}
	entry, _ := store.Find("a")
	if entry.LastResult == nil || entry.LastResult.Reason != forms.ReasonTimeout || entry.LastResult.Success {
		t.Fatalf("stored result = %+v", entry.LastResult)
	}
	n, ok := notifier.last()
	if !ok {
		t.Fatal("no notification")
	}
	if n.Body != "Form submission failed: Timeout" {
		t.Fatalf("notification body = %q", n.Body)
	}
}

func TestGateEarlyFireRecordsTimeoutToo(t *testing.T) {
	t.Parallel()
	// The window is symmetric around the intended instant.
	now := time.Date(2026, 3, 2, 8, 54, 0, 0, time.Local)
	s, store, runner, _ := gateFixture(t, now)

	s.onTimerFired("a")

	if runner.callCount() != 0 {
		t.Fatal("executor must not run outside the window")
	}
	entry, _ := store.Find("a")
	if entry.LastResult == nil || entry.LastResult.Reason != forms.ReasonTimeout {
		t.Fatalf("stored result = %+v", entry.LastResult)
	}
}

func TestGateUnknownEntryIsNoOp(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	s, _, runner, notifier := gateFixture(t, now)

	s.onTimerFired("deleted")

	if runner.callCount() != 0 {
		t.Fatal("executor ran for unknown entry")
	}
	if _, ok := notifier.last(); ok {
		t.Fatal("notification sent for unknown entry")
	}
}

func TestGateExecutorErrorSkipsNotification(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	s, store, runner, notifier := gateFixture(t, now)
	runner.err = errors.New("holiday source unreachable")

	s.onTimerFired("a")

	if runner.callCount() != 1 {
		t.Fatalf("executor invoked %d times, want 1", runner.callCount())
	}
	if _, ok := notifier.last(); ok {
		t.Fatal("failed attempt must not notify")
	}
	entry, _ := store.Find("a")
	if entry.LastResult != nil {
		t.Fatalf("no result should be written, got %+v", entry.LastResult)
	}
}

func TestGateFailureBodyCarriesReason(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	s, _, runner, notifier := gateFixture(t, now)
	runner.res = forms.Failed(now, forms.ReasonDayOfWeek)

	s.onTimerFired("a")

	n, ok := notifier.last()
	if !ok {
		t.Fatal("no notification")
	}
	if n.Body != "Form submission failed: Day of week" {
		t.Fatalf("notification body = %q", n.Body)
	}
}
