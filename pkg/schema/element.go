package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// Kind discriminates the drawable variants of an Element.
type Kind string

const (
	KindLine      Kind = "LINE"
	KindRectangle Kind = "RECTANGLE"
	KindCircle    Kind = "CIRCLE"
	KindArrow     Kind = "ARROW"
	KindBrush     Kind = "BRUSH"
	KindText      Kind = "TEXT"
)

// Valid reports whether k is one of the six known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLine, KindRectangle, KindCircle, KindArrow, KindBrush, KindText:
		return true
	}
	return false
}

// Point is a single sample of a freehand stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is the kind-specific geometry of an Element. It is one of
// Segment, Stroke or Label.
type Shape interface {
	shape()
}

// Segment is the geometry of lines, rectangles, circles and arrows: the
// anchor where the gesture started and the point where it currently ends.
type Segment struct {
	X1, Y1, X2, Y2 float64
}

// Stroke is the geometry of a freehand brush element.
type Stroke struct {
	Points []Point
}

// Label is the geometry of a text element.
type Label struct {
	X1, Y1 float64
	Text   string
}

func (Segment) shape() {}
func (Stroke) shape()  {}
func (Label) shape()   {}

// Style holds the attributes shared by every kind. A nil Fill means "no fill".
type Style struct {
	Stroke string
	Fill   *string
	Size   float64
}

// Element is one drawable object of a canvas. It has no identity outside the
// canvas element sequence; ID is its index at creation time.
//
// An Element decoded from JSON keeps the bytes it came from and encodes back
// to exactly those bytes, so fields the board does not model (client render
// caches among them) and kinds it does not know travel unchanged. Use
// WithShape or build a new Element to change one.
type Element struct {
	ID    int
	Kind  Kind
	Style Style
	Shape Shape

	raw     json.RawMessage
	invalid error
}

// NewElement builds an element and checks that shape matches kind.
func NewElement(id int, kind Kind, style Style, shape Shape) (Element, error) {
	e := Element{ID: id, Kind: kind, Style: style, Shape: shape}
	if err := e.Validate(); err != nil {
		return Element{}, err
	}
	return e, nil
}

// Validate checks the kind/shape pairing. Elements decoded from JSON that
// could not be read as a known kind report why.
func (e Element) Validate() error {
	if e.invalid != nil {
		return e.invalid
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown element type %q", e.Kind)
	}
	var ok bool
	switch e.Kind {
	case KindLine, KindRectangle, KindCircle, KindArrow:
		_, ok = e.Shape.(Segment)
	case KindBrush:
		_, ok = e.Shape.(Stroke)
	case KindText:
		_, ok = e.Shape.(Label)
	}
	if !ok {
		return fmt.Errorf("element type %s has mismatched geometry %T", e.Kind, e.Shape)
	}
	return nil
}

// WithShape returns a copy of e with new geometry. The copy no longer
// encodes to the bytes e was decoded from.
func (e Element) WithShape(shape Shape) Element {
	e.Shape = shape
	e.raw = nil
	e.invalid = nil
	return e
}

// Raw returns the JSON e was decoded from, or nil for elements built in code.
func (e Element) Raw() json.RawMessage {
	return e.raw
}

// Clone returns a deep copy of e.
func (e Element) Clone() Element {
	out := e
	out.raw = slices.Clone(e.raw)
	if e.Style.Fill != nil {
		fill := *e.Style.Fill
		out.Style.Fill = &fill
	}
	if s, ok := e.Shape.(Stroke); ok {
		out.Shape = Stroke{Points: slices.Clone(s.Points)}
	}
	return out
}

// CloneElements deep-copies a sequence. The result is never nil.
func CloneElements(elements []Element) []Element {
	out := make([]Element, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}
	return out
}

// elementWire is the flat JSON layout the web client produces.
type elementWire struct {
	ID     int        `json:"id"`
	Type   Kind       `json:"type"`
	X1     *float64   `json:"x1,omitempty"`
	Y1     *float64   `json:"y1,omitempty"`
	X2     *float64   `json:"x2,omitempty"`
	Y2     *float64   `json:"y2,omitempty"`
	Points []Point    `json:"points,omitempty"`
	Text   *string    `json:"text,omitempty"`
	Stroke string     `json:"stroke,omitempty"`
	Fill   *string    `json:"fill"`
	Size   flexNumber `json:"size,omitempty"`
}

// MarshalJSON encodes the element in the flat wire layout. Decoded elements
// encode to their original bytes.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	w := elementWire{
		ID:     e.ID,
		Type:   e.Kind,
		Stroke: e.Style.Stroke,
		Fill:   e.Style.Fill,
		Size:   flexNumber(e.Style.Size),
	}
	switch s := e.Shape.(type) {
	case Segment:
		w.X1, w.Y1, w.X2, w.Y2 = &s.X1, &s.Y1, &s.X2, &s.Y2
	case Stroke:
		w.Points = s.Points
		if w.Points == nil {
			w.Points = []Point{}
		}
	case Label:
		w.X1, w.Y1, w.Text = &s.X1, &s.Y1, &s.Text
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat wire layout and keeps data verbatim. It
// fails only on malformed JSON: an unknown kind or a field of the wrong type
// is recorded and reported by Validate instead.
func (e *Element) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("element is not valid JSON")
	}
	out := Element{raw: slices.Clone(data)}

	var w elementWire
	if err := json.Unmarshal(data, &w); err != nil {
		out.invalid = fmt.Errorf("invalid element: %w", err)
		*e = out
		return nil
	}
	out.ID = w.ID
	out.Kind = w.Type
	out.Style = Style{Stroke: w.Stroke, Fill: w.Fill, Size: float64(w.Size)}
	switch w.Type {
	case KindLine, KindRectangle, KindCircle, KindArrow:
		out.Shape = Segment{X1: deref(w.X1), Y1: deref(w.Y1), X2: deref(w.X2), Y2: deref(w.Y2)}
	case KindBrush:
		out.Shape = Stroke{Points: w.Points}
	case KindText:
		var text string
		if w.Text != nil {
			text = *w.Text
		}
		out.Shape = Label{X1: deref(w.X1), Y1: deref(w.Y1), Text: text}
	default:
		out.invalid = fmt.Errorf("unknown element type %q", w.Type)
	}
	*e = out
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// flexNumber accepts both 12 and "12"; the web toolbox reports sizes from a
// range input as strings.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = flexNumber(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("size must be a number: %w", err)
	}
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("size must be a number: %w", err)
	}
	*n = flexNumber(f)
	return nil
}
