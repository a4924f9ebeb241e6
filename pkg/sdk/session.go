package sdk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/celerix-dev/celerix-board/pkg/protocol"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const writeWait = 10 * time.Second

// Session is a live websocket connection to a board daemon.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	joinMu  sync.Mutex
	replies chan joinReply

	updates   chan []schema.Element
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type joinReply struct {
	canvas *schema.Canvas
	err    error
}

// Dial opens a session as the holder of token. Connection failures are
// retried with backoff, as the REST client does.
func Dial(ctx context.Context, addr, token string) (*Session, error) {
	url := wsURL(baseURL(addr))
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			return newSession(conn), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fmt.Fprintf(os.Stderr, "[Celerix Board SDK] Dial attempt %d failed: %v. Retrying...\n", i+1, err)
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}
	return nil, fmt.Errorf("failed after %d attempts. last error: %w", maxAttempts, lastErr)
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

func newSession(conn *websocket.Conn) *Session {
	s := &Session{
		conn:    conn,
		replies: make(chan joinReply, 1),
		updates: make(chan []schema.Element, 64),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	defer s.shutdown(ErrClosed)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case protocol.EventLoadCanvas:
			var c schema.Canvas
			if err := json.Unmarshal(frame.Data, &c); err != nil {
				s.reply(joinReply{err: fmt.Errorf("decode canvas: %w", err)})
				continue
			}
			s.reply(joinReply{canvas: &c})
		case protocol.EventUnauthorized:
			s.reply(joinReply{err: ErrUnauthorized})
		case protocol.EventReceiveDrawingUpdate:
			var elements []schema.Element
			if err := json.Unmarshal(frame.Data, &elements); err != nil {
				continue
			}
			select {
			case s.updates <- elements:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Session) reply(r joinReply) {
	select {
	case s.replies <- r:
	default:
	}
}

// Join enters the room of canvasID and returns the canvas as the server
// holds it. ErrUnauthorized means the server refused and closed the session.
func (s *Session) Join(ctx context.Context, canvasID string) (*schema.Canvas, error) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if err := s.send(protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: canvasID}); err != nil {
		return nil, err
	}
	select {
	case r := <-s.replies:
		return r.canvas, r.err
	case <-s.done:
		// The unauthorized notice may land just before the close.
		select {
		case r := <-s.replies:
			return r.canvas, r.err
		default:
			return nil, s.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendUpdate submits the full element sequence of canvasID.
func (s *Session) SendUpdate(canvasID string, elements []schema.Element) error {
	if elements == nil {
		elements = []schema.Element{}
	}
	return s.send(protocol.EventDrawingUpdate, protocol.DrawingUpdate{CanvasID: canvasID, Elements: elements})
}

func (s *Session) send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return s.err
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Updates delivers element sequences relayed from other editors.
func (s *Session) Updates() <-chan []schema.Element {
	return s.updates
}

// Done is closed when the connection ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		_ = s.conn.Close()
	})
}

// Close ends the session.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	s.shutdown(ErrClosed)
	return nil
}
