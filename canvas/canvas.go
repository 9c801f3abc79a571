package canvas

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// client engine for a shared infinite text canvas ("world")
// a world is a grid of 16x8 character tiles addressed by signed tile coordinates
// the engine owns the socket session, the wire codec, the tile cache, and edit batching
// rendering, input, and storage are collaborators wired in by the host app

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

// uuid-style form, used to tag this instance's log lines
func (self Id) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", self[0:4], self[4:6], self[6:8], self[8:10], self[10:16])
}

// makes a copy of the callbacks on update so that `Get` is safe to iterate
// while add/remove happen concurrently
type CallbackList[T any] struct {
	stateLock sync.Mutex

	callbackIds []int
	callbacks   []T

	nextCallbackId int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []int{},
		callbacks:   []T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextCallbackIds := append([]int{}, self.callbackIds...)
	nextCallbacks := append([]T{}, self.callbacks...)
	self.callbackIds = append(nextCallbackIds, callbackId)
	self.callbacks = append(nextCallbacks, callback)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i := -1
	for j, id := range self.callbackIds {
		if id == callbackId {
			i = j
			break
		}
	}
	if i < 0 {
		// not present
		return
	}
	nextCallbackIds := append([]int{}, self.callbackIds[:i]...)
	nextCallbackIds = append(nextCallbackIds, self.callbackIds[i+1:]...)
	nextCallbacks := append([]T{}, self.callbacks[:i]...)
	nextCallbacks = append(nextCallbacks, self.callbacks[i+1:]...)
	self.callbackIds = nextCallbackIds
	self.callbacks = nextCallbacks
}
