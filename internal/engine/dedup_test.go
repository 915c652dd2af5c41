package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDupTracker(t *testing.T) {
	d := newDupTracker()

	assert.True(t, d.Add("a"))
	assert.True(t, d.Add("b"))
	assert.False(t, d.Add("a"), "second sighting is a duplicate")
	assert.Equal(t, 2, d.Len())
}
