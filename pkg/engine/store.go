// Package engine defines the storage contracts and error taxonomy of the board.
package engine

import (
	"context"

	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// CanvasStore is durable load/save of canvases keyed by id. It is not
// access-aware: callers check access before every mutation.
type CanvasStore interface {
	// Create stores a new canvas with an empty element sequence and empty shared set.
	Create(ctx context.Context, ownerID, name string) (*schema.Canvas, error)
	// Load returns the canvas or ErrCanvasNotFound.
	Load(ctx context.Context, canvasID string) (*schema.Canvas, error)
	// Save overwrites name, elements and shared set of an existing canvas.
	Save(ctx context.Context, canvas *schema.Canvas) error
	// SaveElements overwrites only the element sequence.
	SaveElements(ctx context.Context, canvasID string, elements []schema.Element) error
	// Delete removes the canvas permanently.
	Delete(ctx context.Context, canvasID string) error
	// ListAccessible returns canvases owned by or shared with principalID.
	ListAccessible(ctx context.Context, principalID string) ([]*schema.Canvas, error)
}

// PrincipalStore resolves identities. Registration itself lives outside the board;
// PutPrincipal exists for seeding and migration.
type PrincipalStore interface {
	PutPrincipal(ctx context.Context, p schema.Principal) (schema.Principal, error)
	PrincipalByID(ctx context.Context, id string) (schema.Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (schema.Principal, error)
}

// Dumper enumerates everything a store holds. Used by Migrate.
type Dumper interface {
	Principals(ctx context.Context) ([]schema.Principal, error)
	Canvases(ctx context.Context) ([]*schema.Canvas, error)
}

// Store is the full contract every backend satisfies.
type Store interface {
	CanvasStore
	PrincipalStore
	Dumper
	PutCanvas(ctx context.Context, canvas *schema.Canvas) error
	Close() error
}

// Importer writes records with their identifiers preserved. Used by Migrate.
type Importer interface {
	PutPrincipal(ctx context.Context, p schema.Principal) (schema.Principal, error)
	PutCanvas(ctx context.Context, canvas *schema.Canvas) error
}
