package canvas

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

type ChatLocation string

const (
	ChatLocationPage   ChatLocation = "page"
	ChatLocationGlobal ChatLocation = "global"
)

type ChatMessage struct {
	Id           string
	Nickname     string
	Message      string
	Location     ChatLocation
	Color        string
	Op           bool
	Admin        bool
	Staff        bool
	Timestamp    time.Time
	RealUsername string
}

// ChatLog holds the page and global chat streams for the current world.
// growth is bounded only by caller-driven trimming.
type ChatLog struct {
	stateLock sync.Mutex

	page   []*ChatMessage
	global []*ChatMessage
}

func NewChatLog() *ChatLog {
	return &ChatLog{
		page:   []*ChatMessage{},
		global: []*ChatMessage{},
	}
}

func (self *ChatLog) Append(message *ChatMessage) {
	if message == nil {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	switch message.Location {
	case ChatLocationGlobal:
		self.global = append(self.global, message)
	default:
		self.page = append(self.page, message)
	}
}

func (self *ChatLog) Page() []*ChatMessage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.page)
}

func (self *ChatLog) Global() []*ChatMessage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.global)
}

// Merged interleaves page and global messages ordered by timestamp.
// the sort is stable so same-timestamp messages keep their append order.
func (self *ChatLog) Merged() []*ChatMessage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	merged := make([]*ChatMessage, 0, len(self.page)+len(self.global))
	merged = append(merged, self.page...)
	merged = append(merged, self.global...)
	slices.SortStableFunc(merged, func(a *ChatMessage, b *ChatMessage) int {
		if a.Timestamp.Before(b.Timestamp) {
			return -1
		} else if b.Timestamp.Before(a.Timestamp) {
			return 1
		}
		return 0
	})
	return merged
}

// Trim keeps only the most recent `max` messages of each stream.
func (self *ChatLog) Trim(max int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if max < len(self.page) {
		self.page = slices.Clone(self.page[len(self.page)-max:])
	}
	if max < len(self.global) {
		self.global = slices.Clone(self.global[len(self.global)-max:])
	}
}

// Clear drops both streams (world switch).
func (self *ChatLog) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.page = []*ChatMessage{}
	self.global = []*ChatMessage{}
}
