package schema

import (
	"slices"
	"time"
)

// Canvas is a shared drawing document with one owner and zero or more collaborators.
// JSON names follow what the web client already reads.
type Canvas struct {
	ID         string    `json:"_id"`
	Owner      string    `json:"owner"`
	Name       string    `json:"name"`
	Elements   []Element `json:"elements"`
	SharedWith []string  `json:"shared_with"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// IsSharedWith reports whether principalID is in the shared set.
func (c *Canvas) IsSharedWith(principalID string) bool {
	return slices.Contains(c.SharedWith, principalID)
}

// Clone returns a deep copy so callers can hand the canvas to another goroutine.
func (c *Canvas) Clone() *Canvas {
	if c == nil {
		return nil
	}
	out := *c
	out.Elements = CloneElements(c.Elements)
	out.SharedWith = slices.Clone(c.SharedWith)
	if out.SharedWith == nil {
		out.SharedWith = []string{}
	}
	return &out
}
