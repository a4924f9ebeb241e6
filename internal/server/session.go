package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/celerix-dev/celerix-board/pkg/protocol"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// state is the position of a connection in its lifecycle.
type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	stateJoined
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateJoined:
		return "joined"
	default:
		return "closed"
	}
}

type outbound struct {
	data  []byte
	final bool
}

// session is one websocket connection. state, principal and room are owned
// by the read loop.
type session struct {
	router     *Router
	conn       *websocket.Conn
	credential string
	remote     string

	state     state
	principal schema.Principal
	room      *room

	send       chan outbound
	done       chan struct{}
	doneOnce   sync.Once
	writerDone chan struct{}
}

func newSession(router *Router, conn *websocket.Conn, credential, remote string) *session {
	return &session{
		router:     router,
		conn:       conn,
		credential: credential,
		remote:     remote,
		send:       make(chan outbound, router.opts.SendQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// enqueue queues frame without blocking. It reports false when the queue is full.
func (s *session) enqueue(frame []byte) bool {
	select {
	case s.send <- outbound{data: frame}:
		return true
	default:
		return false
	}
}

// kick closes the transport of a member that cannot keep up.
func (s *session) kick() {
	slog.Warn("dropping slow connection", "remote", s.remote, "principal", s.principal.ID)
	_ = s.conn.Close()
}

func (s *session) serve(ctx context.Context) {
	go s.writeLoop()

	s.readLoop(ctx)

	s.leaveRoom()
	s.state = stateClosed
	s.doneOnce.Do(func() { close(s.done) })
	<-s.writerDone
}

func (s *session) readLoop(ctx context.Context) {
	opts := s.router.opts
	s.conn.SetReadLimit(opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for s.state != stateClosed {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "remote", s.remote, "err", err)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("ignoring malformed frame", "remote", s.remote, "err", err)
			continue
		}

		switch frame.Event {
		case protocol.EventJoinCanvas:
			s.handleJoin(ctx, frame.Data)
		case protocol.EventDrawingUpdate:
			s.handleDrawingUpdate(frame.Data)
		default:
			slog.Debug("ignoring unknown event", "remote", s.remote, "event", frame.Event)
		}
	}
}

// handleJoin runs Unauthenticated -> Authenticated -> Joined. Any failure
// closes the connection after a single unauthorized notice.
func (s *session) handleJoin(ctx context.Context, data json.RawMessage) {
	var payload protocol.JoinCanvas
	if err := json.Unmarshal(data, &payload); err != nil {
		s.reject("malformed joinCanvas payload", err)
		return
	}
	canvasID := strings.TrimSpace(payload.CanvasID)
	if canvasID == "" {
		s.reject("missing canvasId", nil)
		return
	}

	if s.state == stateUnauthenticated {
		p, err := s.router.auth.Authenticate(ctx, s.credential)
		if err != nil {
			s.reject("authentication failed", err)
			return
		}
		s.principal = p
		s.state = stateAuthenticated
	}

	c, err := s.router.canvases.Load(ctx, s.principal, canvasID)
	if err != nil {
		s.leaveRoom()
		s.reject("canvas access denied", err)
		return
	}

	s.leaveRoom()
	r, err := s.router.hub.join(s, c)
	if err != nil {
		s.reject("failed to encode canvas", err)
		return
	}
	s.room = r
	s.state = stateJoined
	slog.Info("joined canvas", "canvas", canvasID, "principal", s.principal.ID, "remote", s.remote)
}

func (s *session) handleDrawingUpdate(data json.RawMessage) {
	if s.state != stateJoined {
		slog.Debug("ignoring drawingUpdate before join", "remote", s.remote, "state", s.state)
		return
	}
	// Elements decode leniently and keep their bytes, so only a payload that
	// is not {canvasId, elements[]} ends up here.
	var payload protocol.DrawingUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Warn("ignoring malformed drawingUpdate",
			"canvas", s.room.canvasID, "principal", s.principal.ID, "err", err)
		return
	}
	if payload.CanvasID != s.room.canvasID {
		slog.Warn("ignoring drawingUpdate for another canvas",
			"canvas", payload.CanvasID, "joined", s.room.canvasID, "principal", s.principal.ID)
		return
	}
	elements := schema.CloneElements(payload.Elements)
	if err := s.router.hub.submit(s, s.room, elements); err != nil {
		slog.Error("failed to relay drawing update", "canvas", s.room.canvasID, "err", err)
	}
}

func (s *session) leaveRoom() {
	if s.room == nil {
		return
	}
	s.router.hub.leave(s, s.room)
	s.room = nil
	if s.state == stateJoined {
		s.state = stateAuthenticated
	}
}

// reject logs the cause, tells the client only "Unauthorized", and closes.
func (s *session) reject(reason string, err error) {
	slog.Info("rejecting connection", "reason", reason, "err", err,
		"principal", s.principal.ID, "remote", s.remote)
	frame, encErr := protocol.Encode(protocol.EventUnauthorized, protocol.Unauthorized{Message: protocol.UnauthorizedMessage})
	if encErr != nil {
		slog.Error("failed to encode unauthorized notice", "err", encErr)
		s.state = stateClosed
		return
	}
	notice := outbound{data: frame, final: true}
	for dropped := 0; ; {
		select {
		case s.send <- notice:
			if dropped > 0 {
				slog.Warn("discarded queued frames before unauthorized notice",
					"dropped", dropped, "remote", s.remote)
			}
			s.state = stateClosed
			return
		default:
		}
		// Queue full: nothing queued matters once the connection is refused.
		select {
		case <-s.send:
			dropped++
		default:
		}
	}
}

func (s *session) writeLoop() {
	opts := s.router.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case msg := <-s.send:
			if !s.write(msg) {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteWait)); err != nil {
				return
			}
		case <-s.done:
			// Flush what is already queued, such as a final unauthorized notice.
			for {
				select {
				case msg := <-s.send:
					if !s.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// write sends one message. It reports false when the loop must stop.
func (s *session) write(msg outbound) bool {
	opts := s.router.opts
	_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			slog.Debug("websocket write failed", "remote", s.remote, "err", err)
		}
		return false
	}
	if msg.final {
		closing := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.UnauthorizedMessage)
		_ = s.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(opts.WriteWait))
		return false
	}
	return true
}
