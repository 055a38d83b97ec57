package ecs

import (
	"math/bits"
	"strings"
)

// TypeMask is a 256-bit archetype mask, one bit per registered component
// type id. The zero value is the empty mask.
type TypeMask [4]uint64

// Set sets the bit for the given component type id and returns the new
// mask. Ids outside the component space are ignored.
func (m TypeMask) Set(id TypeID) TypeMask {
	if id >= MaxComponentTypes {
		return m
	}
	m[id>>6] |= 1 << (id & 63)
	return m
}

// Clear clears the bit for the given component type id.
func (m TypeMask) Clear(id TypeID) TypeMask {
	if id >= MaxComponentTypes {
		return m
	}
	m[id>>6] &^= 1 << (id & 63)
	return m
}

// Has reports whether the bit for the given component type id is set.
func (m TypeMask) Has(id TypeID) bool {
	if id >= MaxComponentTypes {
		return false
	}
	return m[id>>6]&(1<<(id&63)) != 0
}

// SetMany sets the bits for all given ids.
func (m TypeMask) SetMany(ids ...TypeID) TypeMask {
	for _, id := range ids {
		m = m.Set(id)
	}
	return m
}

// Or returns the bitwise union of two masks.
func (m TypeMask) Or(other TypeMask) TypeMask {
	for i := range m {
		m[i] |= other[i]
	}
	return m
}

// And returns the bitwise intersection of two masks.
func (m TypeMask) And(other TypeMask) TypeMask {
	for i := range m {
		m[i] &= other[i]
	}
	return m
}

// AndNot returns the bits of m that are not in other.
func (m TypeMask) AndNot(other TypeMask) TypeMask {
	for i := range m {
		m[i] &^= other[i]
	}
	return m
}

// ContainsAll reports whether every bit of other is set in m.
func (m TypeMask) ContainsAll(other TypeMask) bool {
	for i := range m {
		if m[i]&other[i] != other[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether m and other share at least one bit.
func (m TypeMask) Intersects(other TypeMask) bool {
	for i := range m {
		if m[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no bits are set.
func (m TypeMask) IsEmpty() bool {
	return m == TypeMask{}
}

// Count returns the number of set bits.
func (m TypeMask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// ForEach calls fn for every set component type id, in ascending order.
func (m TypeMask) ForEach(fn func(TypeID)) {
	for w := 0; w < len(m); w++ {
		word := m[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			fn(TypeID(w<<6 | bit))
			word &= word - 1
		}
	}
}

// AllTypesMask returns a mask with the first n component bits set.
func AllTypesMask(n int) TypeMask {
	var m TypeMask
	if n > MaxComponentTypes {
		n = MaxComponentTypes
	}
	for id := 0; id < n; id++ {
		m = m.Set(TypeID(id))
	}
	return m
}

// String renders the set ids for debugging, e.g. "{0, 3, 17}".
func (m TypeMask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	m.ForEach(func(id TypeID) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(itoa(int(id)))
	})
	sb.WriteByte('}')
	return sb.String()
}

// itoa avoids pulling strconv into the hot path's import graph for a
// debug-only helper.
func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
