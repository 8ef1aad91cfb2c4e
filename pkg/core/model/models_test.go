package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleAnchorAddsThenRemoves(t *testing.T) {
	anchors := ToggleAnchor(nil, "Jane")
	assert.Equal(t, []string{"Jane"}, anchors)

	// Toggling again with different casing removes the existing entry.
	anchors = ToggleAnchor(anchors, "jane")
	assert.Empty(t, anchors)
}

func TestToggleAnchorKeepsOthers(t *testing.T) {
	anchors := []string{"Jane", "Bob"}

	anchors = ToggleAnchor(anchors, "JANE")
	assert.Equal(t, []string{"Bob"}, anchors)

	anchors = ToggleAnchor(anchors, "Alice")
	assert.Equal(t, []string{"Bob", "Alice"}, anchors)
}

func TestToggleAnchorDoesNotMutateInput(t *testing.T) {
	original := []string{"Jane"}
	_ = ToggleAnchor(original, "Bob")
	assert.Equal(t, []string{"Jane"}, original)
}
