package canvas

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// one character-level change, pending or in flight to the server.
// the server acks/rejects by edit id, so ids must be unique for the
// process lifetime.
type Edit struct {
	Tile      TileCoord
	Char      CharCoord
	Timestamp int64 // client clock, milliseconds
	Cell      string
	Id        string
	Color     *int
	BgColor   *int
}

var editSeq atomic.Uint64

// edit ids combine a process-wide monotonic counter with the wall clock
// so that ids stay unique across reconnects within one process.
func nextEditId(timestampMillis int64) string {
	return fmt.Sprintf("%d.%d", editSeq.Add(1), timestampMillis)
}

func NewEdit(
	tile TileCoord,
	char CharCoord,
	cell string,
	timestamp time.Time,
	color *int,
	bgColor *int,
) *Edit {
	millis := timestamp.UnixMilli()
	return &Edit{
		Tile:      tile,
		Char:      char,
		Timestamp: millis,
		Cell:      cell,
		Id:        nextEditId(millis),
		Color:     color,
		BgColor:   bgColor,
	}
}

type EditBatcherSettings struct {
	// queue length that triggers an automatic flush
	FlushCount int
}

func DefaultEditBatcherSettings() *EditBatcherSettings {
	return &EditBatcherSettings{
		FlushCount: 10,
	}
}

// EditBatcher decouples the rate of user edits from the rate of network
// writes. edits accumulate in enqueue order and are handed to the send
// function as one batch when the queue reaches the flush threshold or on
// an explicit `Flush` (view pause, disconnect).
type EditBatcher struct {
	settings *EditBatcherSettings

	send func(edits []*Edit)

	stateLock sync.Mutex
	queue     []*Edit
}

func NewEditBatcherWithDefaults(send func(edits []*Edit)) *EditBatcher {
	return NewEditBatcher(send, DefaultEditBatcherSettings())
}

func NewEditBatcher(send func(edits []*Edit), settings *EditBatcherSettings) *EditBatcher {
	return &EditBatcher{
		settings: settings,
		send:     send,
		queue:    []*Edit{},
	}
}

// Enqueue appends one edit. reaching the flush threshold flushes inline
// with this call.
func (self *EditBatcher) Enqueue(edit *Edit) {
	var batch []*Edit

	self.stateLock.Lock()
	self.queue = append(self.queue, edit)
	if self.settings.FlushCount <= len(self.queue) {
		batch = self.queue
		self.queue = []*Edit{}
	}
	self.stateLock.Unlock()

	if batch != nil {
		self.send(batch)
	}
}

// Flush sends all queued edits as one batch. a no-op when the queue is
// empty. the swap-and-clear happens under the lock, so edits enqueued
// concurrently with a flush land in the next batch, never lost or
// duplicated.
func (self *EditBatcher) Flush() {
	self.stateLock.Lock()
	batch := self.queue
	self.queue = []*Edit{}
	self.stateLock.Unlock()

	if 0 < len(batch) {
		self.send(batch)
	}
}

func (self *EditBatcher) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.queue)
}
