package schedule

import (
	"sort"
	"sync"
	"time"
)

// Registration is one pending wake-up.
type Registration struct {
	Key string
	At  time.Time
}

// TimerTable is the platform wake-up primitive: at most one pending one-shot
// wake-up per key. Firing removes the registration.
type TimerTable interface {
	All() []Registration
	Set(key string, at time.Time)
	Clear(key string)
	StopAll()
}

// timerHost implements TimerTable on time.AfterFunc. Version counters guard
// against a stale timer firing after its key was re-registered or cleared.
type timerHost struct {
	fire func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	at     map[string]time.Time
	ver    map[string]uint64
}

func newTimerHost(fire func(key string)) *timerHost {
	return &timerHost{
		fire:   fire,
		timers: map[string]*time.Timer{},
		at:     map[string]time.Time{},
		ver:    map[string]uint64{},
	}
}

func (h *timerHost) All() []Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Registration, 0, len(h.at))
	for k, at := range h.at {
		out = append(out, Registration{Key: k, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (h *timerHost) Set(key string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[key]; ok {
		t.Stop()
	}
	ver := h.ver[key] + 1
	h.ver[key] = ver
	h.at[key] = at
	h.timers[key] = time.AfterFunc(time.Until(at), func() {
		h.mu.Lock()
		if h.ver[key] != ver {
			h.mu.Unlock()
			return
		}
		delete(h.timers, key)
		delete(h.at, key)
		h.mu.Unlock()
		h.fire(key)
	})
}

func (h *timerHost) Clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[key]; ok {
		t.Stop()
	}
	h.ver[key]++
	delete(h.timers, key)
	delete(h.at, key)
}

func (h *timerHost) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, t := range h.timers {
		t.Stop()
		h.ver[k]++
	}
	h.timers = map[string]*time.Timer{}
	h.at = map[string]time.Time{}
}
