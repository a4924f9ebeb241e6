package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/celerix-dev/celerix-board/internal/auth"
	"github.com/celerix-dev/celerix-board/internal/canvas"
	"github.com/celerix-dev/celerix-board/internal/engine"
	"github.com/celerix-dev/celerix-board/pkg/protocol"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

var testSecret = []byte("0123456789abcdef0123")

type testEnv struct {
	srv    *httptest.Server
	store  *engine.MemStore
	svc    *canvas.Service
	hub    *Hub
	router *Router
	tokens map[string]string
	people map[string]schema.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := engine.NewMemStore(nil, nil, nil)
	issuer := auth.NewIssuer(testSecret, time.Hour)

	env := &testEnv{
		store:  store,
		tokens: make(map[string]string),
		people: make(map[string]schema.Principal),
	}
	for _, name := range []string{"alice", "bob", "carl"} {
		p, err := store.PutPrincipal(ctx, schema.Principal{Email: name + "@example.com"})
		if err != nil {
			t.Fatalf("PutPrincipal failed: %v", err)
		}
		token, err := issuer.Issue(p)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		env.people[name] = p
		env.tokens[name] = token
	}

	env.svc = canvas.NewService(store, store)
	env.hub = NewHub(store)
	env.svc.SetNotifier(env.hub)
	env.router = NewRouter(env.hub, auth.NewAuthenticator(testSecret, store), env.svc, Options{})
	env.srv = httptest.NewServer(env.router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal frame failed: %v", err)
	}
	return frame
}

func expectCanvas(t *testing.T, frame protocol.Frame) schema.Canvas {
	t.Helper()
	if frame.Event != protocol.EventLoadCanvas {
		t.Fatalf("Expected %s, got %s (%s)", protocol.EventLoadCanvas, frame.Event, frame.Data)
	}
	var c schema.Canvas
	if err := json.Unmarshal(frame.Data, &c); err != nil {
		t.Fatalf("Unmarshal canvas failed: %v", err)
	}
	return c
}

func expectUnauthorized(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	frame := receive(t, conn)
	if frame.Event != protocol.EventUnauthorized {
		t.Fatalf("Expected %s, got %s", protocol.EventUnauthorized, frame.Event)
	}
	var payload protocol.Unauthorized
	json.Unmarshal(frame.Data, &payload)
	if payload.Message != "Unauthorized" {
		t.Errorf("Expected uniform message, got %q", payload.Message)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after unauthorized")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func rectangle(id int) schema.Element {
	el, _ := schema.NewElement(id, schema.KindRectangle, schema.Style{Stroke: "#000000", Size: 2}, schema.Segment{X1: 10, Y1: 10, X2: 50, Y2: 40})
	return el
}

func TestShareThenJoinScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	board, err := env.svc.Create(ctx, env.people["alice"], "Board1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	alice := env.dial(t, env.tokens["alice"])
	send(t, alice, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	if c := expectCanvas(t, receive(t, alice)); len(c.Elements) != 0 || c.Name != "Board1" {
		t.Fatalf("Unexpected initial canvas: %+v", c)
	}

	send(t, alice, protocol.EventDrawingUpdate, protocol.DrawingUpdate{CanvasID: board.ID, Elements: []schema.Element{rectangle(0)}})
	waitFor(t, func() bool {
		c, err := env.store.Load(ctx, board.ID)
		return err == nil && len(c.Elements) == 1
	})

	bob := env.dial(t, env.tokens["bob"])
	send(t, bob, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	expectUnauthorized(t, bob)

	if _, err := env.svc.Share(ctx, env.people["alice"], board.ID, "bob@example.com"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	bob = env.dial(t, env.tokens["bob"])
	send(t, bob, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	c := expectCanvas(t, receive(t, bob))
	if len(c.Elements) != 1 || c.Elements[0].Kind != schema.KindRectangle {
		t.Fatalf("Expected one rectangle, got %+v", c.Elements)
	}

	env.hub.Wait()
	stored, _ := env.store.Load(ctx, board.ID)
	if len(stored.Elements) != 1 {
		t.Errorf("Expected write-through of one element, got %d", len(stored.Elements))
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	board, _ := env.svc.Create(ctx, env.people["alice"], "Board1")
	env.svc.Share(ctx, env.people["alice"], board.ID, "bob@example.com")
	env.svc.Share(ctx, env.people["alice"], board.ID, "carl@example.com")

	conns := map[string]*websocket.Conn{}
	for _, name := range []string{"alice", "bob", "carl"} {
		conn := env.dial(t, env.tokens[name])
		send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
		expectCanvas(t, receive(t, conn))
		conns[name] = conn
	}

	send(t, conns["bob"], protocol.EventDrawingUpdate, protocol.DrawingUpdate{CanvasID: board.ID, Elements: []schema.Element{rectangle(0), rectangle(1)}})

	for _, name := range []string{"alice", "carl"} {
		frame := receive(t, conns[name])
		if frame.Event != protocol.EventReceiveDrawingUpdate {
			t.Fatalf("%s: expected %s, got %s", name, protocol.EventReceiveDrawingUpdate, frame.Event)
		}
		var elements []schema.Element
		if err := json.Unmarshal(frame.Data, &elements); err != nil {
			t.Fatalf("%s: unmarshal elements failed: %v", name, err)
		}
		if len(elements) != 2 {
			t.Errorf("%s: expected 2 elements, got %d", name, len(elements))
		}
	}

	conns["bob"].SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conns["bob"].ReadMessage(); err == nil {
		t.Errorf("Sender received its own update: %s", data)
	}
}

func TestJoinRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	board, _ := env.svc.Create(context.Background(), env.people["alice"], "Board1")

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t, tt.token)
			send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
			expectUnauthorized(t, conn)
		})
	}

	t.Run("unknown canvas", func(t *testing.T) {
		conn := env.dial(t, env.tokens["alice"])
		send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: "missing"})
		expectUnauthorized(t, conn)
	})

	if n := env.hub.Members(board.ID); n != 0 {
		t.Errorf("Expected no members, got %d", n)
	}
}

func TestQueryTokenAndUpdateBeforeJoin(t *testing.T) {
	env := newTestEnv(t)
	board, _ := env.svc.Create(context.Background(), env.people["alice"], "Board1")

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "?access_token=" + env.tokens["alice"]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	send(t, conn, protocol.EventDrawingUpdate, protocol.DrawingUpdate{CanvasID: board.ID, Elements: []schema.Element{rectangle(0)}})
	send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})

	c := expectCanvas(t, receive(t, conn))
	if len(c.Elements) != 0 {
		t.Errorf("Update before join must be ignored, got %d elements", len(c.Elements))
	}
}

func TestRejoinMovesRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, _ := env.svc.Create(ctx, env.people["alice"], "First")
	second, _ := env.svc.Create(ctx, env.people["alice"], "Second")

	conn := env.dial(t, env.tokens["alice"])
	send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: first.ID})
	expectCanvas(t, receive(t, conn))
	send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: second.ID})
	if c := expectCanvas(t, receive(t, conn)); c.ID != second.ID {
		t.Fatalf("Expected %s, got %s", second.ID, c.ID)
	}

	if env.hub.Members(first.ID) != 0 || env.hub.Members(second.ID) != 1 {
		t.Errorf("Unexpected membership: first=%d second=%d", env.hub.Members(first.ID), env.hub.Members(second.ID))
	}
}

func TestRESTReplacementReachesRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	board, _ := env.svc.Create(ctx, env.people["alice"], "Board1")

	conn := env.dial(t, env.tokens["alice"])
	send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	expectCanvas(t, receive(t, conn))

	if _, err := env.svc.ReplaceElements(ctx, env.people["alice"], board.ID, []schema.Element{rectangle(0)}); err != nil {
		t.Fatalf("ReplaceElements failed: %v", err)
	}
	frame := receive(t, conn)
	if frame.Event != protocol.EventReceiveDrawingUpdate {
		t.Fatalf("Expected %s, got %s", protocol.EventReceiveDrawingUpdate, frame.Event)
	}
}

func TestConnectionLimit(t *testing.T) {
	hub := NewHub(engine.NewMemStore(nil, nil, nil))
	router := NewRouter(hub, nil, nil, Options{MaxConnections: 1})
	router.slots <- struct{}{}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestCloseEndsSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	board, _ := env.svc.Create(ctx, env.people["alice"], "Board1")

	conn := env.dial(t, env.tokens["alice"])
	send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	expectCanvas(t, receive(t, conn))

	env.router.Close()
	env.hub.Wait()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected connection closed after router Close")
	}
	if n := env.hub.Members(board.ID); n != 0 {
		t.Errorf("Expected empty room, got %d members", n)
	}

	late := env.dial(t, env.tokens["alice"])
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("Expected connections after Close to be dropped")
	}
}

func TestRelayKeepsElementsVerbatim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	board, _ := env.svc.Create(ctx, env.people["alice"], "Board1")
	env.svc.Share(ctx, env.people["alice"], board.ID, "bob@example.com")

	alice := env.dial(t, env.tokens["alice"])
	bob := env.dial(t, env.tokens["bob"])
	for _, conn := range []*websocket.Conn{alice, bob} {
		send(t, conn, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
		expectCanvas(t, receive(t, conn))
	}

	// A render cache the board does not model and a kind it does not know.
	elements := `[{"id":0,"type":"RECTANGLE","x1":1,"y1":2,"x2":3,"y2":4,"stroke":"#000","fill":null,"size":1,` +
		`"roughEle":{"shape":"rectangle","sets":[{"type":"path","ops":[1,2]}],"options":{"seed":7}}},` +
		`{"id":1,"type":"ERASER","note":"<b>&</b>"}]`
	frame := `{"event":"drawingUpdate","data":{"canvasId":"` + board.ID + `","elements":` + elements + `}}`
	if err := alice.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	relayed := receive(t, bob)
	if relayed.Event != protocol.EventReceiveDrawingUpdate {
		t.Fatalf("Expected %s, got %s", protocol.EventReceiveDrawingUpdate, relayed.Event)
	}
	if string(relayed.Data) != elements {
		t.Fatalf("Relay changed the elements:\n got %s\nwant %s", relayed.Data, elements)
	}

	env.hub.Wait()
	stored, err := env.store.Load(ctx, board.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	persisted, _ := json.Marshal(stored.Elements)
	if len(stored.Elements) != 2 || !strings.Contains(string(persisted), `"roughEle"`) || !strings.Contains(string(persisted), `"ERASER"`) {
		t.Errorf("Write-through changed the elements: %s", persisted)
	}

	late := env.dial(t, env.tokens["bob"])
	send(t, late, protocol.EventJoinCanvas, protocol.JoinCanvas{CanvasID: board.ID})
	loaded := receive(t, late)
	var body struct {
		Elements json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(loaded.Data, &body); err != nil {
		t.Fatalf("Unmarshal loadCanvas failed: %v", err)
	}
	if string(body.Elements) != elements {
		t.Errorf("Late joiner got different elements:\n got %s\nwant %s", body.Elements, elements)
	}
}
