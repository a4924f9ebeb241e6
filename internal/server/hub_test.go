package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/celerix-dev/celerix-board/pkg/protocol"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved [][]schema.Element
	gate  chan struct{}
	err   error
}

func (r *recordingSaver) SaveElements(_ context.Context, _ string, elements []schema.Element) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, elements)
	return r.err
}

func testSession(queue int) *session {
	return &session{send: make(chan outbound, queue)}
}

func elements(n int) []schema.Element {
	out := make([]schema.Element, n)
	for i := range out {
		out[i] = rectangle(i)
	}
	return out
}

func TestSubmitWritesInOrder(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	hub := NewHub(saver)
	r := hub.room("c1")
	sender := testSession(4)
	r.members[sender] = struct{}{}

	for n := 1; n <= 3; n++ {
		hub.submit(sender, r, elements(n))
	}
	close(saver.gate)
	hub.Wait()

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if len(saver.saved) == 0 {
		t.Fatal("Expected at least one write")
	}
	if last := saver.saved[len(saver.saved)-1]; len(last) != 3 {
		t.Errorf("Expected last write to hold 3 elements, got %d", len(last))
	}
	for i := 1; i < len(saver.saved); i++ {
		if len(saver.saved[i]) <= len(saver.saved[i-1]) {
			t.Errorf("Write %d (%d elements) landed after a newer one", i, len(saver.saved[i]))
		}
	}
}

func TestPersistFailureDoesNotBlockRelay(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	hub := NewHub(saver)
	r := hub.room("c1")
	sender, peer := testSession(4), testSession(4)
	r.members[sender] = struct{}{}
	r.members[peer] = struct{}{}

	if err := hub.submit(sender, r, elements(1)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	hub.Wait()

	if len(peer.send) != 1 {
		t.Errorf("Expected relay to peer, queue has %d", len(peer.send))
	}
	if len(sender.send) != 0 {
		t.Errorf("Sender must not receive its own update, queue has %d", len(sender.send))
	}
}

func TestRelayDropsFullQueue(t *testing.T) {
	hub := NewHub(&recordingSaver{})
	r := hub.room("c1")
	slow, fast := testSession(1), testSession(4)
	slow.send <- outbound{data: []byte("backlog")}
	r.members[slow] = struct{}{}
	r.members[fast] = struct{}{}

	r.mu.Lock()
	dropped := r.relayLocked(nil, []byte("frame"))
	r.mu.Unlock()

	if len(dropped) != 1 || dropped[0] != slow {
		t.Fatalf("Expected slow member dropped, got %v", dropped)
	}
	if _, ok := r.members[slow]; ok {
		t.Error("Slow member still in room")
	}
	if len(fast.send) != 1 {
		t.Errorf("Expected fast member to receive frame, queue has %d", len(fast.send))
	}
}

func TestRoomReleasedWhenIdle(t *testing.T) {
	hub := NewHub(&recordingSaver{})
	s := testSession(4)
	c := &schema.Canvas{ID: "c1", Owner: "o"}

	r, err := hub.join(s, c)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if hub.Members("c1") != 1 || len(s.send) != 1 {
		t.Fatalf("Expected one member with loadCanvas queued")
	}
	hub.submit(s, r, elements(2))
	hub.leave(s, r)
	hub.Wait()

	if hub.lookup("c1") != nil {
		t.Error("Expected idle room to be released")
	}
}

func TestJoinSeesRelayedState(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	hub := NewHub(saver)
	first := testSession(4)
	r, _ := hub.join(first, &schema.Canvas{ID: "c1"})
	hub.submit(first, r, elements(2))

	second := testSession(4)
	stale := &schema.Canvas{ID: "c1"}
	if _, err := hub.join(second, stale); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(stale.Elements) != 2 {
		t.Errorf("Expected relayed elements on join, got %d", len(stale.Elements))
	}
	close(saver.gate)
	hub.Wait()
}

func TestReplaceOrdersAfterPendingWrites(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	hub := NewHub(saver)
	s := testSession(4)
	r, _ := hub.join(s, &schema.Canvas{ID: "c1"})
	<-s.send

	hub.submit(s, r, elements(1))
	hub.submit(s, r, elements(2))
	close(saver.gate)

	err := hub.Replace(context.Background(), "c1", elements(5), func(ctx context.Context) error {
		return saver.SaveElements(ctx, "c1", elements(5))
	})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	hub.Wait()

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if last := saver.saved[len(saver.saved)-1]; len(last) != 5 {
		t.Errorf("Expected replacement to be the last write, got %d elements", len(last))
	}
	if len(s.send) != 1 {
		t.Errorf("Expected replacement relayed to member, queue has %d", len(s.send))
	}
}

func TestReplaceWithoutRoomOnlySaves(t *testing.T) {
	hub := NewHub(&recordingSaver{})
	called := false
	err := hub.Replace(context.Background(), "nobody-here", elements(1), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("Expected save to run, called=%v err=%v", called, err)
	}
}

func TestRejectMakesRoomForNotice(t *testing.T) {
	s := testSession(2)
	s.enqueue([]byte(`{"event":"receiveDrawingUpdate","data":[]}`))
	s.enqueue([]byte(`{"event":"receiveDrawingUpdate","data":[]}`))

	s.reject("canvas access denied", nil)

	if s.state != stateClosed {
		t.Errorf("Expected closed state, got %s", s.state)
	}
	var last outbound
	for len(s.send) > 0 {
		last = <-s.send
	}
	if !last.final || !strings.Contains(string(last.data), protocol.EventUnauthorized) {
		t.Fatalf("Expected final unauthorized notice last in queue, got %+v", last)
	}
}
