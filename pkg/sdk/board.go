package sdk

import (
	"context"
	"sync"

	"github.com/celerix-dev/celerix-board/pkg/history"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// Board is a joined canvas with a local undo history. Completed gestures,
// undo and redo are sent to the room; updates from other editors replace
// the local elements without becoming undoable.
type Board struct {
	session  *Session
	canvasID string

	mu    sync.Mutex
	stack *history.Stack
	name  string
}

// Open joins canvasID over session and seeds the history with its elements.
func Open(ctx context.Context, session *Session, canvasID string) (*Board, error) {
	c, err := session.Join(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	b := &Board{session: session, canvasID: canvasID, stack: history.New(), name: c.Name}
	b.stack.Load(c.Elements)
	return b, nil
}

// Name returns the canvas name at join time.
func (b *Board) Name() string {
	return b.name
}

// Elements returns the current local elements.
func (b *Board) Elements() []schema.Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stack.Elements()
}

// Begin starts drawing a new element at (x, y).
func (b *Board) Begin(kind schema.Kind, style schema.Style, x, y float64) (schema.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stack.Begin(kind, style, x, y)
}

// Move extends the element being drawn to (x, y).
func (b *Board) Move(x, y float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stack.Update(x, y)
}

// Commit completes the gesture and publishes the result.
func (b *Board) Commit() error {
	return b.change(func(s *history.Stack) (bool, error) {
		s.Commit()
		return true, nil
	})
}

// SetText completes a text gesture and publishes the result.
func (b *Board) SetText(text string) error {
	return b.change(func(s *history.Stack) (bool, error) {
		return true, s.SetText(text)
	})
}

// Erase removes matching elements. Nothing is published when nothing matched.
func (b *Board) Erase(hit func(schema.Element) bool) error {
	return b.change(func(s *history.Stack) (bool, error) {
		return s.Erase(hit), nil
	})
}

// Undo steps back and publishes the restored state.
func (b *Board) Undo() error {
	return b.change(func(s *history.Stack) (bool, error) {
		return s.Undo(), nil
	})
}

// Redo steps forward and publishes the restored state.
func (b *Board) Redo() error {
	return b.change(func(s *history.Stack) (bool, error) {
		return s.Redo(), nil
	})
}

func (b *Board) change(fn func(*history.Stack) (bool, error)) error {
	b.mu.Lock()
	changed, err := fn(b.stack)
	elements := b.stack.Elements()
	b.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return b.session.SendUpdate(b.canvasID, elements)
}

// Apply replaces the local elements with a remote update.
func (b *Board) Apply(elements []schema.Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack.Load(elements)
}

// Run applies remote updates until ctx is done or the session ends.
// onChange, if set, is called after each update.
func (b *Board) Run(ctx context.Context, onChange func([]schema.Element)) error {
	for {
		select {
		case elements := <-b.session.Updates():
			b.Apply(elements)
			if onChange != nil {
				onChange(elements)
			}
		case <-b.session.Done():
			return b.session.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
