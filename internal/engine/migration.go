package engine

import (
	"context"
	"fmt"

	"github.com/celerix-dev/celerix-board/pkg/engine"
)

// Source is what Migrate reads from.
type Source interface {
	engine.Dumper
}

// Migrate copies every principal and canvas from src to dst, preserving ids.
// This works for:
// - file -> sqlite (the "upgrade")
// - sqlite -> file (backup / offline inspection)
func Migrate(ctx context.Context, src Source, dst engine.Importer) error {
	// 1. Principals first so canvas owners and collaborators resolve
	principals, err := src.Principals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list principals: %w", err)
	}
	for _, p := range principals {
		if _, err := dst.PutPrincipal(ctx, p); err != nil {
			return fmt.Errorf("failed to copy principal %s: %w", p.Email, err)
		}
	}

	// 2. Canvases, with their element sequences and shared sets
	canvases, err := src.Canvases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list canvases: %w", err)
	}
	for _, c := range canvases {
		if err := dst.PutCanvas(ctx, c); err != nil {
			return fmt.Errorf("failed to copy canvas %s: %w", c.ID, err)
		}
	}
	return nil
}
