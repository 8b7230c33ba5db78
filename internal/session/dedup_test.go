package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateWindow(t *testing.T) {
	w := NewDuplicateWindow(2)

	assert.False(t, w.CheckAndInsert(1), "A is new")
	assert.True(t, w.CheckAndInsert(1), "A repeated")
	assert.False(t, w.CheckAndInsert(2), "B is new")
	assert.False(t, w.CheckAndInsert(3), "C evicts A")
	assert.Equal(t, 2, w.Len())
	assert.False(t, w.CheckAndInsert(1), "A was evicted")
	assert.True(t, w.CheckAndInsert(3))
}

func TestDuplicateWindowDuplicateDoesNotRefresh(t *testing.T) {
	w := NewDuplicateWindow(2)
	w.CheckAndInsert(1)
	w.CheckAndInsert(2)
	assert.True(t, w.CheckAndInsert(1))

	// 1 is still the oldest entry and goes first
	w.CheckAndInsert(3)
	assert.False(t, w.CheckAndInsert(1))
}

func TestDuplicateWindowMinimumSize(t *testing.T) {
	w := NewDuplicateWindow(0)
	assert.False(t, w.CheckAndInsert(7))
	assert.True(t, w.CheckAndInsert(7))
	assert.False(t, w.CheckAndInsert(8))
	assert.False(t, w.CheckAndInsert(7))
}
