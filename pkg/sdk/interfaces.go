package sdk

import (
	"context"
	"errors"

	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// ErrUnauthorized is returned by Session.Join when the server refuses the
// join. The server never says which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// ErrClosed is returned by Session operations after the connection ended.
var ErrClosed = errors.New("session closed")

// --- Functional Interfaces ---

// CanvasReader lists and loads canvases.
type CanvasReader interface {
	List(ctx context.Context) ([]*schema.Canvas, error)
	Get(ctx context.Context, canvasID string) (*schema.Canvas, error)
}

// CanvasWriter creates, edits and removes canvases.
type CanvasWriter interface {
	Create(ctx context.Context, name string) (*schema.Canvas, error)
	ReplaceElements(ctx context.Context, canvasID string, elements []schema.Element) (*schema.Canvas, error)
	Rename(ctx context.Context, canvasID, name string) (*schema.Canvas, error)
	Delete(ctx context.Context, canvasID string) error
}

// Sharer grants collaborators access.
type Sharer interface {
	Share(ctx context.Context, canvasID, email string) error
}

// Boards is everything the REST surface offers.
type Boards interface {
	CanvasReader
	CanvasWriter
	Sharer
}

// Updates is the receiving side of a live session.
type Updates interface {
	Updates() <-chan []schema.Element
	Done() <-chan struct{}
}

var (
	_ Boards  = (*Client)(nil)
	_ Updates = (*Session)(nil)
)
