package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(ttl time.Duration, max int) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(ttl, max)
	s.now = clock.now
	return s, clock
}

func TestPut_CreatesAndMerges(t *testing.T) {
	s, clock := newTestStore(time.Hour, 10)

	first := s.Put("u1", Patch{
		ChatID:      Ptr("c1"),
		Months:      Ptr(3),
		Amount:      Ptr(decimal.RequireFromString("12.50")),
		ExternalIDs: []string{"req-1"},
	})
	assert.Equal(t, StatusCreated, first.Status)
	assert.Equal(t, []string{"req-1"}, first.ExternalIDs)
	assert.NotEmpty(t, first.ID)

	clock.advance(time.Minute)
	second := s.Put("u1", Patch{
		Status:      Ptr(StatusWaitingUserPayment),
		ExternalIDs: []string{"req-1", "gw-1", ""},
	})
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "c1", second.ChatID)
	assert.Equal(t, 3, second.Months)
	assert.Equal(t, StatusWaitingUserPayment, second.Status)
	assert.Equal(t, []string{"req-1", "gw-1"}, second.ExternalIDs)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestPut_UpsertsRequestAndIndexesIt(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)

	s.Put("u1", Patch{Request: &Request{ID: "req-1", Recipient: "alice", Status: StatusCreated}})
	s.Put("u1", Patch{Request: &Request{ID: "req-1", Recipient: "alice", Status: StatusBroadcasted}})
	s.Put("u1", Patch{Request: &Request{ID: "req-2", Recipient: "bob", Status: StatusCreated}})

	o, ok := s.Get("u1")
	require.True(t, ok)
	require.Len(t, o.Requests, 2)
	r, ok := o.Request("req-1")
	require.True(t, ok)
	assert.Equal(t, StatusBroadcasted, r.Status)

	userID, _, ok := s.GetByExternalID("req-2")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
}

func TestLink(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)

	s.Link("nobody", "x")
	_, _, ok := s.GetByExternalID("x")
	assert.False(t, ok, "link on a missing order must not index")

	s.Put("u1", Patch{ExternalIDs: []string{"a"}})
	s.Link("u1", "b")
	s.Link("u1", "b")

	o, _ := s.Get("u1")
	assert.Equal(t, []string{"a", "b"}, o.ExternalIDs)
	userID, _, ok := s.GetByExternalID("b")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
}

func TestUpdate_DoesNotCreate(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)

	_, ok := s.Update("u1", Patch{Status: Ptr(StatusError)})
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	s.Put("u1", Patch{})
	o, ok := s.Update("u1", Patch{Status: Ptr(StatusError), Error: Ptr("boom")})
	require.True(t, ok)
	assert.Equal(t, StatusError, o.Status)
	assert.Equal(t, "boom", o.Error)
}

func TestTransition_OnlyFromExpectedStatus(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)
	s.Put("u1", Patch{Status: Ptr(StatusWaitingUserPayment)})

	_, ok := s.Transition("u1", StatusWaitingUserPayment, StatusProcessingPayment)
	assert.True(t, ok)
	_, ok = s.Transition("u1", StatusWaitingUserPayment, StatusProcessingPayment)
	assert.False(t, ok, "second transition from a stale status must fail")
}

func TestClear_RemovesIndexRows(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)
	s.Put("u1", Patch{ExternalIDs: []string{"a", "b"}})

	s.Clear("u1")

	_, ok := s.Get("u1")
	assert.False(t, ok)
	for _, id := range []string{"a", "b"} {
		_, _, ok := s.GetByExternalID(id)
		assert.False(t, ok, id)
	}
}

func TestExternalIDsNeverResolveToAnotherUser(t *testing.T) {
	s, _ := newTestStore(time.Hour, 100)

	linked := map[string]string{}
	for i := 0; i < 20; i++ {
		user := fmt.Sprintf("u%d", i%5)
		id := fmt.Sprintf("ext-%d", i)
		s.Put(user, Patch{ExternalIDs: []string{id}})
		linked[id] = user
		if i%7 == 6 {
			s.Update(user, Patch{Status: Ptr(StatusBroadcasted)})
		}
	}
	s.Clear("u3")

	for id, want := range linked {
		got, _, ok := s.GetByExternalID(id)
		if want == "u3" {
			assert.False(t, ok, id)
			continue
		}
		require.True(t, ok, id)
		assert.Equal(t, want, got, id)
	}
}

func TestSweep_EvictsExpired(t *testing.T) {
	s, clock := newTestStore(10*time.Minute, 10)

	s.Put("old", Patch{ExternalIDs: []string{"old-req"}})
	clock.advance(8 * time.Minute)
	s.Put("fresh", Patch{ExternalIDs: []string{"fresh-req"}})
	clock.advance(3 * time.Minute)

	evicted := s.Sweep()

	assert.Equal(t, 1, evicted)
	_, ok := s.Get("old")
	assert.False(t, ok)
	_, _, ok = s.GetByExternalID("old-req")
	assert.False(t, ok, "no dangling index after eviction")
	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestSweep_EnforcesCapOldestFirst(t *testing.T) {
	s, clock := newTestStore(time.Hour, 3)
	s.maxEntries = 100
	for i := 0; i < 5; i++ {
		s.Put(fmt.Sprintf("u%d", i), Patch{ExternalIDs: []string{fmt.Sprintf("r%d", i)}})
		clock.advance(time.Second)
	}
	s.maxEntries = 3

	s.Sweep()

	assert.Equal(t, 3, s.Len())
	for _, gone := range []string{"u0", "u1"} {
		_, ok := s.Get(gone)
		assert.False(t, ok, gone)
	}
	for _, kept := range []string{"u2", "u3", "u4"} {
		_, ok := s.Get(kept)
		assert.True(t, ok, kept)
	}
	_, _, ok := s.GetByExternalID("r0")
	assert.False(t, ok)
}

func TestPut_OverflowKeepsNewest(t *testing.T) {
	s, clock := newTestStore(time.Hour, 2)
	s.Put("a", Patch{})
	clock.advance(time.Second)
	s.Put("b", Patch{})
	clock.advance(time.Second)
	s.Put("c", Patch{})

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, New(time.Minute, 1).SweepInterval())
	assert.Equal(t, 450*time.Second, New(15*time.Minute, 1).SweepInterval())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(time.Hour, 10)
	s.Put("u1", Patch{ExternalIDs: []string{"a"}, Request: &Request{ID: "a", Gateway: &GatewaySession{Token: "t"}}})

	o, _ := s.Get("u1")
	o.ExternalIDs[0] = "mutated"
	o.Requests[0].Gateway.Token = "mutated"

	again, _ := s.Get("u1")
	assert.Equal(t, "a", again.ExternalIDs[0])
	assert.Equal(t, "t", again.Requests[0].Gateway.Token)
}

func TestOrderUnsent(t *testing.T) {
	price := decimal.RequireFromString("12.50")
	o := &Order{Requests: []Request{
		{ID: "a", Price: price, Status: StatusCreated},
		{ID: "b", Price: price, Status: StatusError},
		{ID: "c", Price: price, Status: StatusBroadcasted},
		{ID: "d", Price: price, Status: StatusWaitingConfirmation},
	}}
	assert.Equal(t, "25.00", o.Unsent().StringFixed(2))
	assert.True(t, (&Order{}).Unsent().IsZero())
}

func TestConcurrentAccess(t *testing.T) {
	s := New(time.Hour, 50)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", n%10)
			s.Put(user, Patch{ExternalIDs: []string{fmt.Sprintf("e%d", n)}})
			s.GetByExternalID(fmt.Sprintf("e%d", n))
			s.Sweep()
		}(i)
	}
	wg.Wait()
}
