// Package history keeps the client-side undo/redo timeline of a canvas.
//
// A Stack holds the current element sequence plus snapshots of it taken at
// gesture boundaries. Pointer moves edit the last element in place through
// Begin and Update; only Commit, SetText and an Erase that removed something
// create history entries. A Stack is not safe for concurrent use.
package history

import (
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// ErrNoGesture is returned by Update and SetText when no element is being drawn.
var ErrNoGesture = errors.New("no gesture in progress")

type Stack struct {
	elements []schema.Element
	history  [][]schema.Element
	index    int
	drawing  bool
}

// New returns a stack whose only entry is the empty canvas.
func New() *Stack {
	return &Stack{
		elements: []schema.Element{},
		history:  [][]schema.Element{{}},
	}
}

// Elements returns a copy of the current element sequence.
func (s *Stack) Elements() []schema.Element {
	return schema.CloneElements(s.elements)
}

// Index returns the position of the current entry.
func (s *Stack) Index() int {
	return s.index
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	return len(s.history)
}

// Drawing reports whether a gesture is in progress.
func (s *Stack) Drawing() bool {
	return s.drawing
}

// Load replaces the current elements with state received from elsewhere.
// The current entry is overwritten rather than a new one pushed, so the
// change cannot be undone locally.
func (s *Stack) Load(elements []schema.Element) {
	s.elements = schema.CloneElements(elements)
	s.history[s.index] = schema.CloneElements(elements)
	s.drawing = false
}

// Begin starts a gesture by appending a new element anchored at (x, y).
func (s *Stack) Begin(kind schema.Kind, style schema.Style, x, y float64) (schema.Element, error) {
	var shape schema.Shape
	switch kind {
	case schema.KindLine, schema.KindRectangle, schema.KindCircle, schema.KindArrow:
		shape = schema.Segment{X1: x, Y1: y, X2: x, Y2: y}
	case schema.KindBrush:
		shape = schema.Stroke{Points: []schema.Point{{X: x, Y: y}}}
	case schema.KindText:
		shape = schema.Label{X1: x, Y1: y}
	default:
		return schema.Element{}, fmt.Errorf("unknown element type %q", kind)
	}
	el, err := schema.NewElement(len(s.elements), kind, style, shape)
	if err != nil {
		return schema.Element{}, err
	}
	s.elements = append(s.elements, el)
	s.drawing = true
	return el, nil
}

// Update moves the free end of the element being drawn to (x, y). Brush
// strokes gain a point instead. Text elements are unaffected.
func (s *Stack) Update(x, y float64) error {
	if !s.drawing || len(s.elements) == 0 {
		return ErrNoGesture
	}
	last := &s.elements[len(s.elements)-1]
	switch shape := last.Shape.(type) {
	case schema.Segment:
		shape.X2, shape.Y2 = x, y
		*last = last.WithShape(shape)
	case schema.Stroke:
		points := make([]schema.Point, len(shape.Points), len(shape.Points)+1)
		copy(points, shape.Points)
		*last = last.WithShape(schema.Stroke{Points: append(points, schema.Point{X: x, Y: y})})
	}
	return nil
}

// Commit ends the current gesture and records the elements as a new entry,
// discarding any entries that could have been redone.
func (s *Stack) Commit() {
	s.history = append(s.history[:s.index+1], schema.CloneElements(s.elements))
	s.index = len(s.history) - 1
	s.drawing = false
}

// SetText fills in the text element being written and commits it.
func (s *Stack) SetText(text string) error {
	if !s.drawing || len(s.elements) == 0 {
		return ErrNoGesture
	}
	last := &s.elements[len(s.elements)-1]
	label, ok := last.Shape.(schema.Label)
	if !ok {
		return fmt.Errorf("element %d is %s, not text", last.ID, last.Kind)
	}
	label.Text = text
	*last = last.WithShape(label)
	s.Commit()
	return nil
}

// Erase removes every element hit matches. It commits an entry only when
// something was removed and reports whether it did.
func (s *Stack) Erase(hit func(schema.Element) bool) bool {
	kept := make([]schema.Element, 0, len(s.elements))
	for _, el := range s.elements {
		if !hit(el) {
			kept = append(kept, el)
		}
	}
	if len(kept) == len(s.elements) {
		return false
	}
	s.elements = kept
	s.Commit()
	return true
}

// Undo steps back one entry. It reports false at the first entry.
func (s *Stack) Undo() bool {
	if s.index <= 0 {
		return false
	}
	s.index--
	s.elements = schema.CloneElements(s.history[s.index])
	s.drawing = false
	return true
}

// Redo steps forward one entry. It reports false at the last entry.
func (s *Stack) Redo() bool {
	if s.index >= len(s.history)-1 {
		return false
	}
	s.index++
	s.elements = schema.CloneElements(s.history[s.index])
	s.drawing = false
	return true
}
