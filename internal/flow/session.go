package flow

import "sync"

// State is one step of a user's purchase conversation. Each variant carries
// only the fields meaningful to it.
type State interface {
	Step() string
}

type Idle struct{}

type SelectingTarget struct {
	Gift bool
}

type ConfirmingRecipient struct {
	Recipient string
	Display   string
	Self      bool
}

type SelectingDuration struct {
	Recipients []string
}

type CreatingOrders struct {
	Recipients []string
	Months     int
}

type WaitingForPayment struct {
	CorrelationID string
}

func (Idle) Step() string                { return "idle" }
func (SelectingTarget) Step() string     { return "selecting_target" }
func (ConfirmingRecipient) Step() string { return "confirming_recipient" }
func (SelectingDuration) Step() string   { return "selecting_duration" }
func (CreatingOrders) Step() string      { return "creating_orders" }
func (WaitingForPayment) Step() string   { return "waiting_for_payment" }

// sessions holds per-user state plus a mutex per user that serializes the
// handling of that user's events. A user's mutex lives only while someone
// holds or waits for it.
type sessions struct {
	mu     sync.Mutex
	states map[string]State
	locks  map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newSessions() *sessions {
	return &sessions{
		states: make(map[string]State),
		locks:  make(map[string]*userLock),
	}
}

func (s *sessions) lock(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

func (s *sessions) get(userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[userID]; ok {
		return st
	}
	return Idle{}
}

func (s *sessions) set(userID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, idle := st.(Idle); idle {
		delete(s.states, userID)
		return
	}
	s.states[userID] = st
}
