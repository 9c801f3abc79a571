package canvas

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestIdString(t *testing.T) {
	id := Id{
		0x01, 0x23, 0x45, 0x67,
		0x89, 0xab,
		0xcd, 0xef,
		0x01, 0x23,
		0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
	}
	assert.Equal(t, id.String(), "01234567-89ab-cdef-0123-456789abcdef")

	a := NewId()
	b := NewId()
	assert.NotEqual(t, a, b)
}

func TestCallbackListAddRemove(t *testing.T) {
	list := NewCallbackList[func()]()

	calls := map[string]int{}
	aId := list.Add(func() { calls["a"] += 1 })
	bId := list.Add(func() { calls["b"] += 1 })

	for _, callback := range list.Get() {
		callback()
	}
	assert.Equal(t, calls, map[string]int{"a": 1, "b": 1})

	// the snapshot taken before a remove stays valid to iterate
	before := list.Get()
	list.Remove(aId)
	for _, callback := range before {
		callback()
	}
	assert.Equal(t, calls, map[string]int{"a": 2, "b": 2})

	for _, callback := range list.Get() {
		callback()
	}
	assert.Equal(t, calls, map[string]int{"a": 2, "b": 3})

	// removing twice is harmless
	list.Remove(aId)
	list.Remove(bId)
	assert.Equal(t, len(list.Get()), 0)
}
