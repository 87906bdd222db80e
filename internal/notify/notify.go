package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"formbot/pkg/logx"
)

// Notification is one human-facing outcome message. Key identifies the source
// entry so downstream sinks can collapse repeats if they want to.
type Notification struct {
	Key   string
	Title string
	Body  string
}

// Sender delivers a single notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type Config struct {
	Driver     string // "none", "log", "telegram"
	QueueSize  int
	RatePerSec int
	Telegram   TelegramConfig
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Service is a small fire-and-forget notification pipeline: bounded queue, one
// worker, rate limit. Callers never block on delivery and never see errors.
type Service struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  chan Notification
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sender, err := newSender(cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Service{
		log:     log,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan Notification, cfg.QueueSize),
	}, nil
}

func newSender(cfg Config, log logx.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nopSender{}, nil
	case "log":
		return logSender{log: log}, nil
	case "telegram":
		return newTelegramSender(cfg.Telegram)
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", cfg.Driver)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case n := <-s.queue:
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				if err := s.sender.Send(ctx, n); err != nil {
					s.log.Warn("notification failed", logx.String("key", n.Key), logx.Err(err))
				}
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.wg.Wait()
}

// Notify enqueues a notification. When the queue is full the notification is
// dropped; outcomes are already persisted, the message is a courtesy.
func (s *Service) Notify(n Notification) {
	select {
	case s.queue <- n:
	default:
		s.log.Warn("notification dropped (queue full)", logx.String("key", n.Key))
	}
}

// ---- drivers ----

type nopSender struct{}

func (nopSender) Send(context.Context, Notification) error { return nil }

type logSender struct{ log logx.Logger }

func (l logSender) Send(_ context.Context, n Notification) error {
	l.log.Info("notification", logx.String("key", n.Key), logx.String("title", n.Title), logx.String("body", n.Body))
	return nil
}

type telegramSender struct {
	bot  *tele.Bot
	chat tele.Recipient
}

func newTelegramSender(cfg TelegramConfig) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

func (t *telegramSender) Send(_ context.Context, n Notification) error {
	_, err := t.bot.Send(t.chat, fmt.Sprintf("%s\n%s", n.Title, n.Body))
	return err
}
