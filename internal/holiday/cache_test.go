package holiday

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"formbot/internal/storage"
	"formbot/pkg/logx"
)

func holidaySource(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/2026/date.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"2026-01-01":"元日","2026-05-05":"こどもの日","2026-01-12":"成人の日"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "formbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestHolidaysFetchOncePerYear(t *testing.T) {
	t.Parallel()
	srv, hits := holidaySource(t)
	st := openStore(t)
	c := NewCache(srv.URL, st, logx.Nop())

	ctx := context.Background()
	s, err := c.Holidays(ctx, 2026)
	if err != nil {
		t.Fatalf("Holidays: %v", err)
	}
	if len(s) != 3 || !s.Contains("2026-05-05") {
		t.Fatalf("set = %v", s)
	}
	if hits.Load() != 1 {
		t.Fatalf("source hit %d times", hits.Load())
	}

	// Second call is served from memory.
	if _, err := c.Holidays(ctx, 2026); err != nil {
		t.Fatalf("Holidays: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("source hit %d times after memo", hits.Load())
	}

	// A fresh cache over the same database reads SQLite, not the source.
	c2 := NewCache(srv.URL, st, logx.Nop())
	s2, err := c2.Holidays(ctx, 2026)
	if err != nil {
		t.Fatalf("Holidays: %v", err)
	}
	if len(s2) != 3 {
		t.Fatalf("set from db = %v", s2)
	}
	if hits.Load() != 1 {
		t.Fatalf("source hit %d times after db read", hits.Load())
	}
}

func TestHolidaysFetchFailureNotCached(t *testing.T) {
	t.Parallel()
	srv, hits := holidaySource(t)
	st := openStore(t)
	c := NewCache(srv.URL, st, logx.Nop())

	ctx := context.Background()
	if _, err := c.Holidays(ctx, 1999); err == nil { // source 404s for 1999
		t.Fatal("expected fetch error")
	}
	// The failed year must not be cached: the next call tries again.
	if _, err := c.Holidays(ctx, 1999); err == nil {
		t.Fatal("expected fetch error on retry")
	}
	if hits.Load() != 2 {
		t.Fatalf("source hit %d times, want 2", hits.Load())
	}
}

func TestIsHoliday(t *testing.T) {
	t.Parallel()
	srv, _ := holidaySource(t)
	c := NewCache(srv.URL, openStore(t), logx.Nop())

	ctx := context.Background()
	hol, err := c.IsHoliday(ctx, time.Date(2026, 5, 5, 9, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("IsHoliday: %v", err)
	}
	if !hol {
		t.Fatal("2026-05-05 should be a holiday")
	}
	hol, err = c.IsHoliday(ctx, time.Date(2026, 5, 6, 9, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("IsHoliday: %v", err)
	}
	if hol {
		t.Fatal("2026-05-06 should not be a holiday")
	}
}
