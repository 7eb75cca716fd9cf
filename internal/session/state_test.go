package session

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestStateSetAndCurrent(t *testing.T) {
	st := NewState()

	if _, ok := st.Current(); ok {
		t.Fatal("new state should hold no session")
	}

	s := Session{AccessToken: "a", Subject: "u", RefreshToken: "r", Email: "e"}
	st.Set(&s)

	got, ok := st.Current()
	if !ok || got != s {
		t.Errorf("Current() = (%+v, %v), want (%+v, true)", got, ok, s)
	}

	// Mutating the caller's copy does not leak into the state.
	s.Email = "changed"
	if got, _ := st.Current(); got.Email != "e" {
		t.Errorf("state mutated through caller copy: %+v", got)
	}

	st.Set(nil)
	if _, ok := st.Current(); ok {
		t.Error("expected no session after Set(nil)")
	}
}

func TestStateNotifiesOnChangeOnly(t *testing.T) {
	st := NewState()

	var calls []bool
	st.Subscribe(func(_ Session, ok bool) {
		calls = append(calls, ok)
	})

	s := Session{AccessToken: "a", Subject: "u", RefreshToken: "r", Email: "e"}
	st.Set(&s)
	st.Set(&s) // same value
	st.Set(nil)
	st.Set(nil) // same value

	if len(calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(calls))
	}
	if !calls[0] || calls[1] {
		t.Errorf("notifications = %v, want [true false]", calls)
	}
}

func TestStateObserverOrderAndUnsubscribe(t *testing.T) {
	st := NewState()

	var order []string
	st.Subscribe(func(Session, bool) { order = append(order, "first") })
	unsubscribe := st.Subscribe(func(Session, bool) { order = append(order, "second") })
	st.Subscribe(func(Session, bool) { order = append(order, "third") })

	s := Session{AccessToken: "a", Subject: "u", RefreshToken: "r", Email: "e"}
	st.Set(&s)

	unsubscribe()
	unsubscribe() // idempotent
	st.Set(nil)

	want := []string{"first", "second", "third", "first", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestStateObserverMayReadState(t *testing.T) {
	st := NewState()

	// An observer reading state must not deadlock.
	var seen bool
	st.Subscribe(func(Session, bool) {
		_, seen = st.Current()
	})

	s := Session{AccessToken: "a", Subject: "u", RefreshToken: "r", Email: "e"}
	st.Set(&s)

	if !seen {
		t.Error("observer should see the new value")
	}
}

func TestStateConcurrentSetNotifiesInOrder(t *testing.T) {
	st := NewState()

	var mu sync.Mutex
	var last Session
	var lastOK bool
	st.Subscribe(func(s Session, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		last, lastOK = s, ok
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%5 == 0 {
				st.Set(nil)
				return
			}
			st.Set(&Session{AccessToken: "a", Subject: "u-" + strconv.Itoa(n), RefreshToken: "r", Email: "e"})
		}(i)
	}
	wg.Wait()

	current, ok := st.Current()
	mu.Lock()
	defer mu.Unlock()
	if ok != lastOK || current != last {
		t.Errorf("last notification (%+v, %v) does not match current value (%+v, %v)", last, lastOK, current, ok)
	}
}

func TestStateSetWaitsForObservers(t *testing.T) {
	st := NewState()

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	st.Subscribe(func(s Session, ok bool) {
		entered <- struct{}{}
		if s.Subject == "first" {
			<-release
		}
	})

	go st.Set(&Session{AccessToken: "a", Subject: "first", RefreshToken: "r", Email: "e"})
	<-entered

	done := make(chan struct{})
	go func() {
		st.Set(&Session{AccessToken: "a", Subject: "second", RefreshToken: "r", Email: "e"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Set finished while the first notification was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	if got, _ := st.Current(); got.Subject != "second" {
		t.Errorf("Current().Subject = %q, want second", got.Subject)
	}
}
