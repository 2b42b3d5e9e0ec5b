package sampling

import (
	"testing"

	"gofinetune/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestSubjectStack_PopsFromTheEnd(t *testing.T) {
	ids := []core.SubjectID{"a", "b", "c", "d", "e"}
	stack := NewSubjectStack(ids)

	assert.Equal(t, []core.SubjectID{"e", "d"}, stack.PopN(2))
	id, ok := stack.Pop()
	assert.True(t, ok)
	assert.Equal(t, core.SubjectID("c"), id)
	assert.Equal(t, 2, stack.Len())

	assert.Equal(t, []core.SubjectID{"b", "a"}, stack.PopN(10))
	_, ok = stack.Pop()
	assert.False(t, ok)

	// the caller's slice is untouched
	assert.Equal(t, []core.SubjectID{"a", "b", "c", "d", "e"}, ids)
}

func TestRoundRobin_Cycles(t *testing.T) {
	rr := NewRoundRobin(3)
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, rr.Next())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}
