package status

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogRing_EvictsOldest(t *testing.T) {
	r := NewLogRing(DefaultLogCapacity)
	for i := 1; i <= 101; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	lines := r.Lines()
	assert.Len(t, lines, 100)
	assert.Equal(t, "line 2", lines[0])
	assert.Equal(t, "line 101", lines[99])
	assert.Equal(t, 100, r.Len())
	assert.Equal(t, 100, r.Cap())
}

func TestLogRing_KeepsOrderAcrossWraps(t *testing.T) {
	r := NewLogRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.Append(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, r.Lines())
}

func TestLogRing_Clear(t *testing.T) {
	r := NewLogRing(3)
	r.Append("a")
	r.Append("b")
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Lines())

	r.Append("c")
	assert.Equal(t, []string{"c"}, r.Lines())
}

func TestNewLogRing_InvalidCapacity(t *testing.T) {
	assert.Equal(t, DefaultLogCapacity, NewLogRing(0).Cap())
	assert.Equal(t, DefaultLogCapacity, NewLogRing(-4).Cap())
}

func TestLogRing_LinesIsACopy(t *testing.T) {
	r := NewLogRing(2)
	r.Append("a")
	lines := r.Lines()
	lines[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.Lines())
}
