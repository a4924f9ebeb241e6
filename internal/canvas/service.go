// Package canvas holds the access-checked canvas operations shared by the
// REST surface and the room manager.
package canvas

import (
	"context"
	"fmt"
	"strings"

	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// Notifier keeps joined editors current with changes made outside the
// socket path. Replace must call save exactly once and relay elements only
// when it succeeds.
type Notifier interface {
	Replace(ctx context.Context, canvasID string, elements []schema.Element, save func(context.Context) error) error
	Forget(canvasID string)
}

// Service checks access before every read and write of a canvas.
type Service struct {
	canvases   engine.CanvasStore
	principals engine.PrincipalStore
	notifier   Notifier
}

func NewService(canvases engine.CanvasStore, principals engine.PrincipalStore) *Service {
	return &Service{canvases: canvases, principals: principals}
}

// SetNotifier attaches the room manager. Must be called before serving.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CanAccess reports whether p owns c or c is shared with p.
func CanAccess(p schema.Principal, c *schema.Canvas) bool {
	if c == nil || p.ID == "" {
		return false
	}
	return c.Owner == p.ID || c.IsSharedWith(p.ID)
}

// List returns every canvas p owns or collaborates on.
func (s *Service) List(ctx context.Context, p schema.Principal) ([]*schema.Canvas, error) {
	return s.canvases.ListAccessible(ctx, p.ID)
}

// Create makes an empty canvas owned by p.
func (s *Service) Create(ctx context.Context, p schema.Principal, name string) (*schema.Canvas, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, engine.NewError(engine.KindValidation, "name is required")
	}
	return s.canvases.Create(ctx, p.ID, name)
}

// Load returns the canvas when p may access it.
func (s *Service) Load(ctx context.Context, p schema.Principal, canvasID string) (*schema.Canvas, error) {
	c, err := s.canvases.Load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(p, c) {
		return nil, engine.ErrForbidden
	}
	return c, nil
}

// ReplaceElements overwrites the element sequence and relays it to the room.
func (s *Service) ReplaceElements(ctx context.Context, p schema.Principal, canvasID string, elements []schema.Element) (*schema.Canvas, error) {
	for i, el := range elements {
		if err := el.Validate(); err != nil {
			return nil, engine.Wrap(engine.KindValidation, fmt.Sprintf("invalid element at index %d", i), err)
		}
	}
	c, err := s.Load(ctx, p, canvasID)
	if err != nil {
		return nil, err
	}
	c.Elements = schema.CloneElements(elements)
	save := func(ctx context.Context) error {
		return s.canvases.SaveElements(ctx, canvasID, c.Elements)
	}
	if s.notifier != nil {
		err = s.notifier.Replace(ctx, canvasID, c.Elements, save)
	} else {
		err = save(ctx)
	}
	if err != nil {
		return nil, err
	}
	return s.canvases.Load(ctx, canvasID)
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, p schema.Principal, canvasID, name string) (*schema.Canvas, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, engine.NewError(engine.KindValidation, "name is required")
	}
	c, err := s.Load(ctx, p, canvasID)
	if err != nil {
		return nil, err
	}
	c.Name = name
	if err := s.canvases.Save(ctx, c); err != nil {
		return nil, err
	}
	return s.canvases.Load(ctx, canvasID)
}

// Share grants the principal registered under email access to the canvas.
func (s *Service) Share(ctx context.Context, p schema.Principal, canvasID, email string) (*schema.Canvas, error) {
	email = schema.NormalizeEmail(email)
	if email == "" {
		return nil, engine.NewError(engine.KindValidation, "sharedEmail is required")
	}
	c, err := s.Load(ctx, p, canvasID)
	if err != nil {
		return nil, err
	}
	target, err := s.principals.PrincipalByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if target.ID == c.Owner || c.IsSharedWith(target.ID) {
		return nil, engine.ErrAlreadyShared
	}
	c.SharedWith = append(c.SharedWith, target.ID)
	if err := s.canvases.Save(ctx, c); err != nil {
		return nil, err
	}
	return s.canvases.Load(ctx, canvasID)
}

// Delete removes the canvas permanently.
func (s *Service) Delete(ctx context.Context, p schema.Principal, canvasID string) error {
	if _, err := s.Load(ctx, p, canvasID); err != nil {
		return err
	}
	if err := s.canvases.Delete(ctx, canvasID); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.Forget(canvasID)
	}
	return nil
}
