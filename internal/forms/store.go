package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"formbot/pkg/logx"
)

var ErrNotFound = errors.New("form entry not found")

// Store owns the persisted entry collection.
//
// All mutations go through the store so the whole-collection read-modify-write
// is serialized behind one mutex (a single logical writer). Every committed
// mutation is published to subscribers; in particular, persisting an execution
// result always triggers a reconciliation pass in the scheduling service.
type Store struct {
	path string
	log  logx.Logger

	mu      sync.Mutex
	entries []Entry
	// lastHash tracks the last committed file content so the watch loop can
	// skip echo events caused by our own writes.
	lastHash uint64

	// subsMu guards the subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan []Entry
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads the forms file and commits its contents. A missing file commits
// an empty collection. Entries found without an id are assigned one and the
// file is rewritten so the id stays stable for the entry's lifetime.
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.parse()
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = nil
			s.lastHash = hashEntries(nil)
			return nil, nil
		}
		return nil, err
	}

	assigned := 0
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
			assigned++
		}
	}
	if assigned > 0 {
		if err := s.writeLocked(entries); err != nil {
			return nil, fmt.Errorf("persist assigned ids: %w", err)
		}
		s.log.Info("assigned ids to new entries", logx.Int("count", assigned))
	}

	s.entries = entries
	s.lastHash = hashEntries(entries)
	return cloneEntries(entries), nil
}

func (s *Store) parse() ([]Entry, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("parse %s: duplicate entry id %q", s.path, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return entries, nil
}

// Snapshot returns a deep copy of the current collection.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

// Find returns a deep copy of the entry with the given id.
func (s *Store) Find(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return Entry{}, false
}

// Update applies fn to the entry with the given id, rewrites the whole file,
// and publishes the new collection. All other entries are carried over
// untouched. Returns ErrNotFound when the id is absent.
func (s *Store) Update(id string, fn func(*Entry)) error {
	s.mu.Lock()
	next := cloneEntries(s.entries)
	idx := -1
	for i := range next {
		if next[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	fn(&next[idx])
	if err := s.writeLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.entries = next
	s.lastHash = hashEntries(next)
	s.mu.Unlock()

	s.publish(next)
	return nil
}

// writeLocked atomically replaces the forms file. Caller holds s.mu.
func (s *Store) writeLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Subscribe returns a channel that receives the full collection after each
// committed change. The buffer should usually be 1; slow subscribers only ever
// lag by dropped intermediate states, never by stale ones.
func (s *Store) Subscribe(buffer int) chan []Entry {
	ch := make(chan []Entry, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan []Entry) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			// swap-remove (order doesn't matter)
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(ch)
			return
		}
	}
}

func (s *Store) publish(entries []Entry) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		if ch == nil {
			continue
		}
		// Deliver the latest collection; if the subscriber is behind, drop one
		// stale item and push the newest.
		select {
		case ch <- cloneEntries(entries):
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cloneEntries(entries):
			default:
				s.log.Debug("forms update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

func hashEntries(entries []Entry) uint64 {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
