package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"formbot/internal/storage"
	"formbot/pkg/logx"
)

// DefaultBaseURL serves `GET /{year}/date.json`: a JSON object whose keys are
// ISO holiday dates.
const DefaultBaseURL = "https://holidays-jp.github.io/api/v1"

const fetchTimeout = 15 * time.Second

// Set is an immutable set of ISO dates ("2006-01-02").
type Set map[string]struct{}

func (s Set) Contains(day string) bool {
	_, ok := s[day]
	return ok
}

func newSet(days []string) Set {
	s := make(Set, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

// Cache resolves the national holidays of a year, lazily.
//
// Lookup order is memory, then SQLite, then the remote source. Once a year is
// populated it is never refreshed or invalidated; holiday data for a past or
// current year does not change in practice, and a stale late-announced holiday
// only costs one mis-gated run.
type Cache struct {
	store storage.Store
	http  *resty.Client
	log   logx.Logger

	mu   sync.Mutex
	memo map[int]Set
}

func NewCache(baseURL string, store storage.Store, log logx.Logger) *Cache {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		store: store,
		http:  resty.New().SetBaseURL(baseURL).SetTimeout(fetchTimeout),
		log:   log,
		memo:  map[int]Set{},
	}
}

// Holidays returns the holiday set for the given year, fetching and persisting
// it on first use. A fetch failure is returned as-is: nothing is cached and
// the caller's gating step fails without writing a result.
func (c *Cache) Holidays(ctx context.Context, year int) (Set, error) {
	c.mu.Lock()
	if s, ok := c.memo[year]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	if c.store != nil {
		days, ok, err := c.store.GetHolidays(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("holiday cache read: %w", err)
		}
		if ok {
			s := newSet(days)
			c.memoize(year, s)
			return s, nil
		}
	}

	days, err := c.fetch(ctx, year)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.PutHolidays(ctx, year, days); err != nil {
			// Keep serving from memory; persistence is an optimization here.
			c.log.Warn("holiday cache write failed", logx.Int("year", year), logx.Err(err))
		}
	}
	s := newSet(days)
	c.memoize(year, s)
	c.log.Info("holidays fetched", logx.Int("year", year), logx.Int("count", len(days)))
	return s, nil
}

// IsHoliday reports whether day's local calendar date is a national holiday.
func (c *Cache) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	s, err := c.Holidays(ctx, day.Year())
	if err != nil {
		return false, err
	}
	return s.Contains(day.Format("2006-01-02")), nil
}

// Prefetch warms the cache for the given years, best-effort.
func (c *Cache) Prefetch(ctx context.Context, years ...int) {
	for _, y := range years {
		if _, err := c.Holidays(ctx, y); err != nil {
			c.log.Warn("holiday prefetch failed", logx.Int("year", y), logx.Err(err))
		}
	}
}

func (c *Cache) memoize(year int, s Set) {
	c.mu.Lock()
	c.memo[year] = s
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, year int) ([]string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(fmt.Sprintf("/%d/date.json", year))
	if err != nil {
		return nil, fmt.Errorf("holiday fetch %d: %w", year, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("holiday fetch %d: status %d", year, resp.StatusCode())
	}
	// Body is {"2026-01-01": "元日", ...}; only the date keys matter.
	var byDate map[string]string
	if err := json.Unmarshal(resp.Body(), &byDate); err != nil {
		return nil, fmt.Errorf("holiday fetch %d: %w", year, err)
	}
	days := make([]string, 0, len(byDate))
	for d := range byDate {
		days = append(days, d)
	}
	sort.Strings(days)
	return days, nil
}
