package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestElementDecodeWebClientPayload(t *testing.T) {
	payload := `[
		{"id":0,"type":"RECTANGLE","x1":10,"y1":20,"x2":30,"y2":40,"stroke":"#000000","fill":"#ff0000","size":"3","roughElement":{"shape":"rectangle"}},
		{"id":1,"type":"BRUSH","points":[{"x":1,"y":2},{"x":3,"y":4}],"stroke":"#00ff00","fill":null,"size":5},
		{"id":2,"type":"TEXT","x1":7,"y1":8,"text":"hello","stroke":"#0000ff","fill":null,"size":24}
	]`

	var elements []Element
	if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(elements) != 3 {
		t.Fatalf("Expected 3 elements, got %d", len(elements))
	}

	rect := elements[0]
	if rect.Shape != (Segment{X1: 10, Y1: 20, X2: 30, Y2: 40}) {
		t.Errorf("Unexpected rectangle geometry %+v", rect.Shape)
	}
	if rect.Style.Size != 3 || rect.Style.Fill == nil || *rect.Style.Fill != "#ff0000" {
		t.Errorf("Unexpected rectangle style %+v", rect.Style)
	}

	brush := elements[1].Shape.(Stroke)
	if len(brush.Points) != 2 || brush.Points[1] != (Point{X: 3, Y: 4}) {
		t.Errorf("Unexpected brush points %+v", brush.Points)
	}
	if elements[1].Style.Fill != nil {
		t.Error("Expected nil fill for brush")
	}

	if label := elements[2].Shape.(Label); label.Text != "hello" || label.X1 != 7 {
		t.Errorf("Unexpected label %+v", label)
	}

	// Render caches survive re-encode.
	out, err := json.Marshal(elements[0])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `"roughElement":{"shape":"rectangle"}`) {
		t.Errorf("Render cache lost in %s", out)
	}
}

func TestElementEncodesDecodedBytes(t *testing.T) {
	raw := `{"id":4,"type":"LINE","x1":0,"y1":0,"x2":1,"y2":1,"stroke":"#000","fill":null,"size":2,"roughEle":{"sets":[]}}`
	var e Element
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != raw {
		t.Errorf("Expected %s, got %s", raw, out)
	}
	if string(e.Clone().Raw()) != raw {
		t.Error("Clone dropped the decoded bytes")
	}
}

func TestWithShapeEncodesCanonically(t *testing.T) {
	var e Element
	if err := json.Unmarshal([]byte(`{"id":0,"type":"LINE","x1":0,"y1":0,"x2":1,"y2":1,"stroke":"#000","fill":null,"size":2,"roughEle":{}}`), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	moved := e.WithShape(Segment{X2: 9, Y2: 9})
	if moved.Raw() != nil {
		t.Fatal("Expected reshaped element to drop decoded bytes")
	}
	out, err := json.Marshal(moved)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(out), "roughEle") || !strings.Contains(string(out), `"x2":9`) {
		t.Errorf("Unexpected encoding %s", out)
	}
	if !strings.Contains(string(out), `"fill":null`) {
		t.Errorf("Expected explicit null fill in %s", out)
	}
}

func TestElementUnknownTypeFailsValidation(t *testing.T) {
	raw := `{"id":0,"type":"HEXAGON"}`
	var e Element
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := e.Validate(); err == nil {
		t.Fatal("Expected validation error for unknown type")
	}
	out, err := json.Marshal(e)
	if err != nil || string(out) != raw {
		t.Errorf("Expected verbatim %s, got %s (%v)", raw, out, err)
	}
}

func TestElementBadSizeFailsValidation(t *testing.T) {
	var e Element
	if err := json.Unmarshal([]byte(`{"id":0,"type":"LINE","size":"thick"}`), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := e.Validate(); err == nil {
		t.Fatal("Expected validation error for non-numeric size")
	}
}

func TestElementRejectsMalformedJSON(t *testing.T) {
	var e Element
	if err := json.Unmarshal([]byte(`{"id":0,`), &e); err == nil {
		t.Fatal("Expected error for malformed element")
	}
}

func TestNewElementChecksGeometry(t *testing.T) {
	if _, err := NewElement(0, KindBrush, Style{}, Segment{}); err == nil {
		t.Error("Expected mismatch error for brush with segment")
	}
	if _, err := NewElement(0, KindCircle, Style{}, Segment{X2: 5}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	fill := "#fff"
	c := &Canvas{
		ID:         "c1",
		Elements:   []Element{{Kind: KindBrush, Style: Style{Fill: &fill}, Shape: Stroke{Points: []Point{{X: 1}}}}},
		SharedWith: []string{"bob"},
	}
	clone := c.Clone()

	*clone.Elements[0].Style.Fill = "#000"
	clone.Elements[0].Shape.(Stroke).Points[0].X = 99
	clone.SharedWith[0] = "eve"

	if *c.Elements[0].Style.Fill != "#fff" || c.Elements[0].Shape.(Stroke).Points[0].X != 1 || c.SharedWith[0] != "bob" {
		t.Errorf("Clone shares state with original: %+v", c)
	}
	if !reflect.DeepEqual((&Canvas{}).Clone().SharedWith, []string{}) {
		t.Error("Expected empty shared set to clone as non-nil")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Bob@Example.COM "); got != "bob@example.com" {
		t.Errorf("Unexpected %q", got)
	}
}
