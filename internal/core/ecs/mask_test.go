package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_TypeMask_SetHasClear(t *testing.T) {
	// Arrange
	var m TypeMask

	// Act
	m = m.Set(0).Set(63).Set(64).Set(255)

	// Assert
	assert.True(t, m.Has(0))
	assert.True(t, m.Has(63))
	assert.True(t, m.Has(64))
	assert.True(t, m.Has(255))
	assert.False(t, m.Has(1))
	assert.Equal(t, 4, m.Count())

	m = m.Clear(64)
	assert.False(t, m.Has(64))
	assert.Equal(t, 3, m.Count())
}

func Test_TypeMask_OutOfRangeIgnored(t *testing.T) {
	var m TypeMask

	m = m.Set(TypeID(300))

	assert.True(t, m.IsEmpty())
	assert.False(t, m.Has(TypeID(300)))
}

func Test_TypeMask_SetOperations(t *testing.T) {
	a := TypeMask{}.SetMany(1, 2, 3)
	b := TypeMask{}.SetMany(3, 4)

	union := a.Or(b)
	inter := a.And(b)
	diff := a.AndNot(b)

	assert.Equal(t, 4, union.Count())
	assert.Equal(t, 1, inter.Count())
	assert.True(t, inter.Has(3))
	assert.Equal(t, 2, diff.Count())
	assert.True(t, diff.Has(1))
	assert.False(t, diff.Has(3))
}

func Test_TypeMask_ContainsAllAndIntersects(t *testing.T) {
	super := TypeMask{}.SetMany(1, 2, 3, 200)
	sub := TypeMask{}.SetMany(2, 200)
	other := TypeMask{}.SetMany(7)

	assert.True(t, super.ContainsAll(sub))
	assert.False(t, sub.ContainsAll(super))
	assert.True(t, super.Intersects(sub))
	assert.False(t, super.Intersects(other))
}

func Test_TypeMask_ForEachAscending(t *testing.T) {
	m := TypeMask{}.SetMany(200, 5, 64)

	var seen []TypeID
	m.ForEach(func(id TypeID) { seen = append(seen, id) })

	assert.Equal(t, []TypeID{5, 64, 200}, seen)
}

func Test_AllTypesMask_FirstN(t *testing.T) {
	m := AllTypesMask(3)

	assert.Equal(t, 3, m.Count())
	assert.True(t, m.Has(0))
	assert.True(t, m.Has(2))
	assert.False(t, m.Has(3))
}
