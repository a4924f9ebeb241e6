// Package server implements the realtime canvas protocol: rooms of websocket
// connections, join authorization and the drawing update relay.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/celerix-dev/celerix-board/internal/auth"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// Authenticator resolves a bearer credential to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (schema.Principal, error)
}

// CanvasLoader loads a canvas on behalf of a principal, enforcing access.
type CanvasLoader interface {
	Load(ctx context.Context, p schema.Principal, canvasID string) (*schema.Canvas, error)
}

// Options tunes connection handling. Zero fields take defaults.
type Options struct {
	MaxConnections  int
	MaxMessageBytes int64
	SendQueue       int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	AllowedOrigins  []string
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 100
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4 << 20
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

// Router upgrades websocket requests and runs one session per connection.
type Router struct {
	hub      *Hub
	auth     Authenticator
	canvases CanvasLoader
	opts     Options
	upgrader websocket.Upgrader
	slots    chan struct{}

	mu       sync.Mutex
	live     map[*session]struct{}
	closed   bool
	sessions sync.WaitGroup
}

func NewRouter(hub *Hub, authn Authenticator, canvases CanvasLoader, opts Options) *Router {
	opts = opts.withDefaults()
	r := &Router{
		hub:      hub,
		auth:     authn,
		canvases: canvases,
		opts:     opts,
		slots:    make(chan struct{}, opts.MaxConnections),
		live:     make(map[*session]struct{}),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// ServeHTTP upgrades the request. The credential is only checked on the
// first joinCanvas so failures are reported in-band.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	select {
	case r.slots <- struct{}{}:
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-r.slots }()

	credential := auth.Credential(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", req.RemoteAddr, "err", err)
		return
	}

	s := newSession(r, conn, credential, req.RemoteAddr)
	if !r.track(s) {
		_ = conn.Close()
		return
	}
	defer r.untrack(s)
	s.serve(context.WithoutCancel(req.Context()))
}

func (r *Router) track(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.live[s] = struct{}{}
	r.sessions.Add(1)
	return true
}

func (r *Router) untrack(s *session) {
	r.mu.Lock()
	delete(r.live, s)
	r.mu.Unlock()
	r.sessions.Done()
}

// Close refuses new connections, closes live ones and waits for their
// sessions to finish. Call Hub.Wait afterwards to flush write-through.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	for s := range r.live {
		_ = s.conn.Close()
	}
	r.mu.Unlock()
	r.sessions.Wait()
}

// Handle adapts the router to a gin route.
func (r *Router) Handle(c *gin.Context) {
	r.ServeHTTP(c.Writer, c.Request)
}

func (r *Router) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || len(r.opts.AllowedOrigins) == 0 || slices.Contains(r.opts.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(r.opts.AllowedOrigins, func(allowed string) bool {
		allowed = strings.TrimSuffix(strings.TrimSpace(allowed), "/")
		return strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host)
	})
}
