package sampling

import "gofinetune/domain/core"

// SubjectStack hands out subjects last-in first-out. Chunks popped from a
// shuffled stack therefore come out in reverse shuffle order.
type SubjectStack struct {
	items []core.SubjectID
}

// NewSubjectStack copies ids so the caller's slice is never consumed
func NewSubjectStack(ids []core.SubjectID) *SubjectStack {
	items := make([]core.SubjectID, len(ids))
	copy(items, ids)
	return &SubjectStack{items: items}
}

func (s *SubjectStack) Len() int {
	return len(s.items)
}

// Pop removes the last subject
func (s *SubjectStack) Pop() (core.SubjectID, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	last := len(s.items) - 1
	id := s.items[last]
	s.items = s.items[:last]
	return id, true
}

// PopN pops up to n subjects, in pop order
func (s *SubjectStack) PopN(n int) []core.SubjectID {
	if n > len(s.items) {
		n = len(s.items)
	}
	out := make([]core.SubjectID, 0, n)
	for i := 0; i < n; i++ {
		id, _ := s.Pop()
		out = append(out, id)
	}
	return out
}

// RoundRobin cycles a cursor over n slots starting at slot 0
type RoundRobin struct {
	n    int
	next int
}

func NewRoundRobin(n int) *RoundRobin {
	return &RoundRobin{n: n}
}

// Next returns the current slot and advances the cursor
func (r *RoundRobin) Next() int {
	slot := r.next
	r.next = (r.next + 1) % r.n
	return slot
}
