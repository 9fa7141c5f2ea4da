package store

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const minSweepInterval = 30 * time.Second

// Store is the volatile order registry. Each user owns at most one order;
// every external correlation id linked to it is indexed back to the owner.
type Store struct {
	mu         sync.Mutex
	orders     map[string]*Order
	byExternal map[string]string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func New(ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &Store{
		orders:     make(map[string]*Order),
		byExternal: make(map[string]string),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Put merges the patch into the user's order, creating it if absent.
func (s *Store) Put(userID string, p Patch) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	o, ok := s.orders[userID]
	if !ok {
		o = &Order{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    StatusCreated,
			CreatedAt: now,
		}
		s.orders[userID] = o
	}
	p.apply(o)
	o.UpdatedAt = now
	s.index(userID, o)
	s.enforceCap(userID)
	return o.clone()
}

// Link adds one external id to an existing order. It is a no-op when the
// user has no order.
func (s *Store) Link(userID, externalID string) {
	if externalID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[userID]
	if !ok {
		return
	}
	o.ExternalIDs = union(o.ExternalIDs, []string{externalID})
	s.byExternal[externalID] = userID
}

func (s *Store) Get(userID string) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[userID]
	if !ok {
		return nil, false
	}
	return o.clone(), true
}

// GetByExternalID resolves a correlation id to its owner and order.
func (s *Store) GetByExternalID(externalID string) (string, *Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byExternal[externalID]
	if !ok {
		return "", nil, false
	}
	o, ok := s.orders[userID]
	if !ok {
		return userID, nil, false
	}
	return userID, o.clone(), true
}

// Update merges the patch into an existing order only. It reports false when
// the user has no order.
func (s *Store) Update(userID string, p Patch) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[userID]
	if !ok {
		return nil, false
	}
	p.apply(o)
	o.UpdatedAt = s.now()
	s.index(userID, o)
	return o.clone(), true
}

// UpdateRequest applies fn to one request of the user's order.
func (s *Store) UpdateRequest(userID, requestID string, fn func(*Request)) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[userID]
	if !ok {
		return nil, false
	}
	for i := range o.Requests {
		if o.Requests[i].ID == requestID {
			fn(&o.Requests[i])
			o.UpdatedAt = s.now()
			return o.clone(), true
		}
	}
	return nil, false
}

// Transition moves the order to next only when it is currently in from.
func (s *Store) Transition(userID string, from, next Status) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[userID]
	if !ok || o.Status != from {
		return nil, false
	}
	o.Status = next
	o.UpdatedAt = s.now()
	return o.clone(), true
}

// Clear removes the user's order and every index row pointing to it.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(userID)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Sweep evicts expired entries, then trims the oldest entries beyond the cap.
// It returns the number of evicted orders.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for userID, o := range s.orders {
		if o.UpdatedAt.Before(cutoff) {
			s.remove(userID)
			evicted++
		}
	}
	return evicted + s.enforceCap("")
}

// SweepInterval is half the TTL, never below 30 seconds.
func (s *Store) SweepInterval() time.Duration {
	interval := s.ttl / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return interval
}

// StartSweeper runs Sweep on SweepInterval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.SweepInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("store: evicted %d orders", n)
				}
			}
		}
	}()
}

func (s *Store) index(userID string, o *Order) {
	for _, id := range o.ExternalIDs {
		if prev, ok := s.byExternal[id]; ok && prev != userID {
			// An id moving to a new owner must no longer resolve to the old one.
			if po, ok := s.orders[prev]; ok {
				po.ExternalIDs = without(po.ExternalIDs, id)
			}
		}
		s.byExternal[id] = userID
	}
}

// enforceCap evicts the oldest orders by UpdatedAt beyond maxEntries. The
// order owned by keep is never chosen.
func (s *Store) enforceCap(keep string) int {
	overflow := len(s.orders) - s.maxEntries
	if overflow <= 0 {
		return 0
	}
	users := make([]string, 0, len(s.orders))
	for userID := range s.orders {
		if userID != keep {
			users = append(users, userID)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := s.orders[users[i]].UpdatedAt, s.orders[users[j]].UpdatedAt
		if a.Equal(b) {
			return users[i] < users[j]
		}
		return a.Before(b)
	})
	for _, userID := range users[:overflow] {
		s.remove(userID)
	}
	return overflow
}

func (s *Store) remove(userID string) {
	o, ok := s.orders[userID]
	if !ok {
		return
	}
	for _, id := range o.ExternalIDs {
		if s.byExternal[id] == userID {
			delete(s.byExternal, id)
		}
	}
	delete(s.orders, userID)
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
