package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"formbot/internal/api"
	"formbot/internal/config"
	"formbot/internal/executor"
	"formbot/internal/forms"
	"formbot/internal/holiday"
	"formbot/internal/notify"
	"formbot/internal/schedule"
	"formbot/internal/storage"
	"formbot/pkg/logx"
)

// App wires the services together and owns their lifecycle.
type App struct {
	cfg       *config.Config
	log       logx.Logger
	logCloser io.Closer

	store    *forms.Store
	db       storage.Store
	holidays *holiday.Cache
	exec     *executor.Executor
	notifier *notify.Service
	sched    *schedule.Service
	api      *api.Server

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	busy, err := cfg.BusyTimeout()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Config{Path: cfg.Database.Path, BusyTimeout: busy}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := forms.NewStore(cfg.FormsFile, log.With(logx.String("component", "forms")))
	holidays := holiday.NewCache(cfg.Holiday.BaseURL, db, log.With(logx.String("component", "holiday")))

	notifier, err := notify.New(notify.Config{
		Driver:     cfg.Notify.Driver,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		Telegram: notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
		},
	}, log.With(logx.String("component", "notify")))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	exec := executor.New(store, holidays, db, log.With(logx.String("component", "executor")))
	sched := schedule.New(store, exec, notifier, holidays, log.With(logx.String("component", "schedule")))
	apiSrv := api.New(api.Config{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		store, exec, sched, db, log.With(logx.String("component", "api")))

	return &App{
		cfg:       cfg,
		log:       log,
		logCloser: logCloser,
		store:     store,
		db:        db,
		holidays:  holidays,
		exec:      exec,
		notifier:  notifier,
		sched:     sched,
		api:       apiSrv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	entries, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("load forms: %w", err)
	}
	a.log.Info("forms loaded", logx.String("path", a.store.Path()), logx.Int("entries", len(entries)))

	a.notifier.Start(ctx)
	a.sched.Start(ctx)
	if err := a.api.Start(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.store.Watch(wctx)
	}()

	// Under systemd Type=notify this flips the unit to ready; elsewhere it is
	// a no-op.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("formbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	a.api.Stop(ctx)
	a.sched.Stop()
	a.notifier.Stop()
	a.wg.Wait()
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	a.log.Info("formbot stopped")
	return nil
}
