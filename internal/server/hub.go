package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/protocol"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const persistTimeout = 10 * time.Second

// ElementSaver is the write-through target of relayed updates.
type ElementSaver interface {
	SaveElements(ctx context.Context, canvasID string, elements []schema.Element) error
}

// Hub owns the rooms of live connections and their last relayed state.
// Rooms exist only while they have members or unsaved updates.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	store ElementSaver
	wg    sync.WaitGroup
}

func NewHub(store ElementSaver) *Hub {
	return &Hub{rooms: make(map[string]*room), store: store}
}

type room struct {
	canvasID string

	mu       sync.Mutex
	members  map[*session]struct{}
	elements []schema.Element
	cached   bool
	seq      uint64
	pending  int

	// persistMu serializes write-through. Lock order: persistMu, then mu.
	persistMu sync.Mutex
}

func (h *Hub) room(canvasID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[canvasID]
	if !ok {
		r = &room{canvasID: canvasID, members: make(map[*session]struct{})}
		h.rooms[canvasID] = r
	}
	return r
}

func (h *Hub) lookup(canvasID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[canvasID]
}

// join admits s to the room of c and queues loadCanvas. The room's last
// relayed elements replace the stored ones, since write-through may lag.
func (h *Hub) join(s *session, c *schema.Canvas) (*room, error) {
	for {
		r := h.room(c.ID)
		r.mu.Lock()
		if r.released() {
			// Lost a race with release; pick up the replacement.
			r.mu.Unlock()
			continue
		}
		if r.cached {
			c.Elements = schema.CloneElements(r.elements)
		}
		frame, err := protocol.Encode(protocol.EventLoadCanvas, c)
		if err != nil {
			r.mu.Unlock()
			h.releaseRoom(r)
			return nil, err
		}
		r.members[s] = struct{}{}
		s.enqueue(frame)
		r.mu.Unlock()
		return r, nil
	}
}

// released reports whether the hub no longer serves r. Caller holds r.mu.
func (r *room) released() bool {
	return r.members == nil
}

func (h *Hub) leave(s *session, r *room) {
	r.mu.Lock()
	delete(r.members, s)
	r.mu.Unlock()
	h.releaseRoom(r)
}

// releaseRoom removes an idle room and marks it so concurrent joins retry.
func (h *Hub) releaseRoom(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) != 0 || r.pending != 0 || h.rooms[r.canvasID] != r {
		return
	}
	delete(h.rooms, r.canvasID)
	r.members = nil
}

// submit records elements as the room's state, relays them to every member
// except from, and writes them through to the store in the background.
func (h *Hub) submit(from *session, r *room, elements []schema.Element) error {
	frame, err := protocol.Encode(protocol.EventReceiveDrawingUpdate, elements)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.released() {
		r.mu.Unlock()
		return nil
	}
	r.elements = elements
	r.cached = true
	r.seq++
	seq := r.seq
	r.pending++
	dropped := r.relayLocked(from, frame)
	r.mu.Unlock()

	for _, s := range dropped {
		s.kick()
	}

	h.wg.Add(1)
	go h.persist(r, seq, elements)
	return nil
}

// relayLocked queues frame for every member but from. Members whose queue is
// full are removed and returned. Caller holds r.mu.
func (r *room) relayLocked(from *session, frame []byte) []*session {
	var dropped []*session
	for m := range r.members {
		if m == from {
			continue
		}
		if !m.enqueue(frame) {
			delete(r.members, m)
			dropped = append(dropped, m)
		}
	}
	return dropped
}

// persist saves elements unless a newer update superseded them. Failures are
// logged and never reach the sender.
func (h *Hub) persist(r *room, seq uint64, elements []schema.Element) {
	defer h.wg.Done()

	r.persistMu.Lock()
	r.mu.Lock()
	stale := seq != r.seq
	r.mu.Unlock()

	if !stale {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := h.store.SaveElements(ctx, r.canvasID, elements)
		cancel()
		switch {
		case errors.Is(err, engine.ErrCanvasNotFound):
			slog.Warn("dropping update for deleted canvas", "canvas", r.canvasID)
		case err != nil:
			slog.Error("failed to persist drawing update", "canvas", r.canvasID, "err", err)
		}
	}
	r.persistMu.Unlock()

	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
	h.releaseRoom(r)
}

// Replace runs save for a replacement made outside the socket path and
// relays elements to every joined member. Write-through already in flight
// lands before save, and older pending updates are skipped.
func (h *Hub) Replace(ctx context.Context, canvasID string, elements []schema.Element, save func(context.Context) error) error {
	r := h.lookup(canvasID)
	if r == nil {
		return save(ctx)
	}
	frame, err := protocol.Encode(protocol.EventReceiveDrawingUpdate, elements)
	if err != nil {
		return err
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if err := save(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.elements = schema.CloneElements(elements)
	r.cached = true
	r.seq++
	dropped := r.relayLocked(nil, frame)
	r.mu.Unlock()

	for _, s := range dropped {
		s.kick()
	}
	return nil
}

// Forget discards the relayed state of a deleted canvas.
func (h *Hub) Forget(canvasID string) {
	r := h.lookup(canvasID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.elements = nil
	r.cached = false
	r.seq++
	r.mu.Unlock()
}

// Members returns the number of sessions joined to canvasID.
func (h *Hub) Members(canvasID string) int {
	r := h.lookup(canvasID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Wait blocks until every write-through started so far has finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}
