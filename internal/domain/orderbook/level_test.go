package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func levelIDs(a *arena, l *level) []uint64 {
	var ids []uint64
	for h := l.head; h != 0; h = a.at(h).next {
		ids = append(ids, a.at(h).id)
	}
	return ids
}

func TestLevelHandlesSurviveUnrelatedRemoval(t *testing.T) {
	a := newArena(4)
	var l level

	h1 := a.alloc(1, 10)
	h2 := a.alloc(2, 20)
	h3 := a.alloc(3, 30)
	l.pushBack(&a, h1)
	l.pushBack(&a, h2)
	l.pushBack(&a, h3)

	l.remove(&a, h2)
	a.release(h2)

	assert.Equal(t, []uint64{1, 3}, levelIDs(&a, &l))
	assert.Equal(t, uint64(3), a.at(h3).id)
	assert.Equal(t, uint64(40), l.total)
	assert.Equal(t, 2, l.count)

	// the freed slot is recycled without disturbing live handles
	h4 := a.alloc(4, 5)
	assert.Equal(t, h2, h4)
	l.pushBack(&a, h4)
	assert.Equal(t, []uint64{1, 3, 4}, levelIDs(&a, &l))
	assert.Equal(t, uint64(45), l.total)
}

func TestLevelMoveToBack(t *testing.T) {
	a := newArena(4)
	var l level
	hs := []handle{a.alloc(1, 1), a.alloc(2, 2), a.alloc(3, 3)}
	for _, h := range hs {
		l.pushBack(&a, h)
	}

	l.moveToBack(&a, hs[0])
	assert.Equal(t, []uint64{2, 3, 1}, levelIDs(&a, &l))

	l.moveToBack(&a, hs[0])
	assert.Equal(t, []uint64{2, 3, 1}, levelIDs(&a, &l))
	assert.Equal(t, uint64(6), l.total)
	assert.Equal(t, 3, l.count)
}

func TestLevelRemoveLastEmpties(t *testing.T) {
	a := newArena(1)
	var l level
	h := a.alloc(9, 7)
	l.pushBack(&a, h)
	l.resize(&a, h, 3)
	assert.Equal(t, uint64(3), l.total)

	l.remove(&a, h)
	assert.True(t, l.empty())
	assert.Zero(t, l.total)
	assert.Zero(t, l.count)
}
