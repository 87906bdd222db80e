package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"formbot/internal/forms"
	"formbot/internal/notify"
	"formbot/pkg/logx"
)

// sweepSpec re-runs reconciliation shortly after midnight so every enabled
// entry gets its next-day wake-up even when no store change happened since.
const sweepSpec = "0 0 * * *"

// Runner executes one entry; the schedule service drives it from timer fires.
type Runner interface {
	Execute(ctx context.Context, id string, force bool) (forms.Result, error)
}

// Notifier surfaces one human-facing outcome, fire-and-forget.
type Notifier interface {
	Notify(n notify.Notification)
}

// Prefetcher warms the holiday cache, best-effort.
type Prefetcher interface {
	Prefetch(ctx context.Context, years ...int)
}

// Service owns the wake-up table and keeps it reconciled with the store. It
// subscribes to store changes, rebuilds timers on every start, and runs the
// gate when a timer fires.
type Service struct {
	log      logx.Logger
	store    *forms.Store
	exec     Runner
	notifier Notifier
	holidays Prefetcher

	timers TimerTable

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	sub       chan []forms.Entry
	cron      *cron.Cron
	wg        sync.WaitGroup

	now func() time.Time
}

func New(store *forms.Store, exec Runner, notifier Notifier, holidays Prefetcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		store:    store,
		exec:     exec,
		notifier: notifier,
		holidays: holidays,
		now:      time.Now,
	}
	s.timers = newTimerHost(s.onTimerFired)
	return s
}

// Timers returns the current registrations, sorted by key.
func (s *Service) Timers() []Registration { return s.timers.All() }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.sub = s.store.Subscribe(1)
	sub := s.sub

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(sweepSpec, func() { s.sweep(runCtx) }); err != nil {
		s.log.Error("sweep schedule rejected", logx.Err(err))
	}
	s.cron.Start()
	s.mu.Unlock()

	// Wake-ups are rebuilt on every process start.
	s.reconcileFromStore()
	if s.holidays != nil {
		go s.prefetchHolidays(runCtx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case entries, ok := <-sub:
				if !ok {
					return
				}
				s.Reconcile(entries)
			}
		}
	}()

	s.log.Info("schedule service started", logx.Int("timers", len(s.timers.All())))
}

func (s *Service) Stop() {
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	s.runCancel()
	s.store.Unsubscribe(s.sub)
	c := s.cron
	s.runCtx, s.runCancel, s.sub, s.cron = nil, nil, nil, nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.timers.StopAll()
	s.wg.Wait()
	s.log.Info("schedule service stopped")
}

func (s *Service) sweep(ctx context.Context) {
	s.log.Debug("daily sweep")
	s.reconcileFromStore()
	s.prefetchHolidays(ctx)
}

func (s *Service) prefetchHolidays(ctx context.Context) {
	if s.holidays == nil {
		return
	}
	now := s.now()
	years := []int{now.Year()}
	// Late-December wake-ups can land in January.
	if now.Month() == time.December {
		years = append(years, now.Year()+1)
	}
	s.holidays.Prefetch(ctx, years...)
}
