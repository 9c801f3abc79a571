package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// deterministic clock for heartbeat/reconnect timers

type fakeTimer struct {
	clock   *fakeClock
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

func (self *fakeTimer) Stop() bool {
	self.clock.stateLock.Lock()
	defer self.clock.stateLock.Unlock()
	if self.fired || self.stopped {
		return false
	}
	self.stopped = true
	return true
}

type fakeClock struct {
	stateLock sync.Mutex
	now       time.Time
	timers    []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now: time.UnixMilli(1700000000000),
	}
}

func (self *fakeClock) Now() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.now
}

func (self *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	timer := &fakeTimer{
		clock: self,
		due:   self.now.Add(d),
		f:     f,
	}
	self.timers = append(self.timers, timer)
	return timer
}

func (self *fakeClock) pending() []*fakeTimer {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	pending := []*fakeTimer{}
	for _, timer := range self.timers {
		if !timer.fired && !timer.stopped {
			pending = append(pending, timer)
		}
	}
	return pending
}

// Advance moves the clock and fires due timers, outside the lock so a
// firing timer can schedule new timers.
func (self *fakeClock) Advance(d time.Duration) {
	self.stateLock.Lock()
	self.now = self.now.Add(d)
	self.stateLock.Unlock()

	for {
		self.stateLock.Lock()
		var next *fakeTimer
		for _, timer := range self.timers {
			if !timer.fired && !timer.stopped && !timer.due.After(self.now) {
				next = timer
				timer.fired = true
				break
			}
		}
		self.stateLock.Unlock()
		if next == nil {
			return
		}
		next.f()
	}
}

// in-memory socket

type fakeConn struct {
	stateLock sync.Mutex

	reads  chan []byte
	closed chan struct{}

	closeOnce sync.Once

	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (self *fakeConn) serverSend(raw string) {
	self.reads <- []byte(raw)
}

func (self *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-self.reads:
		return 1, raw, nil
	case <-self.closed:
		return 0, nil, errors.New("closed")
	}
}

func (self *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-self.closed:
		return errors.New("closed")
	default:
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.writes = append(self.writes, append([]byte{}, data...))
	return nil
}

func (self *fakeConn) writesOfKind(kind string) [][]byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	matches := [][]byte{}
	for _, raw := range self.writes {
		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err == nil && head.Kind == kind {
			matches = append(matches, raw)
		}
	}
	return matches
}

func (self *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (self *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (self *fakeConn) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

type fakeDialer struct {
	stateLock sync.Mutex

	// dials fail while 0 < failCount
	failCount int
	conns     []*fakeConn
	dialCount int
}

func (self *fakeDialer) dial(ctx context.Context, url string) (SocketConn, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.dialCount += 1
	if 0 < self.failCount {
		self.failCount -= 1
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	self.conns = append(self.conns, conn)
	return conn, nil
}

func (self *fakeDialer) dials() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.dialCount
}

func (self *fakeDialer) lastConn() *fakeConn {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.conns) == 0 {
		return nil
	}
	return self.conns[len(self.conns)-1]
}

func waitFor(t *testing.T, description string, condition func() bool) {
	end := time.Now().Add(2 * time.Second)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", description)
}

func newTestSession(dialer *fakeDialer, clock *fakeClock) *Session {
	settings := DefaultSessionSettings()
	settings.Dial = dialer.dial
	settings.Clock = clock
	settings.ReconnectBaseDelay = 2 * time.Second
	settings.MaxReconnectAttempts = 3
	settings.HeartbeatInterval = 10 * time.Second
	return NewSession(context.Background(), "example.com", settings)
}

func connectSession(t *testing.T, session *Session, dialer *fakeDialer, world string) *fakeConn {
	err := session.Connect(world)
	assert.Equal(t, err, nil)
	waitFor(t, "connected", func() bool {
		connected, _ := session.State()
		return connected
	})
	conn := dialer.lastConn()
	assert.NotEqual(t, conn, nil)
	return conn
}

func TestConnectRejectsConcurrentAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	connectSession(t, session, dialer, "test")
	assert.Equal(t, session.Connect("other"), ErrAlreadyConnected)
	assert.Equal(t, session.World(), "test")
}

func TestReconnectBackoffAndCap(t *testing.T) {
	dialer := &fakeDialer{failCount: 100}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	var errsLock sync.Mutex
	errs := []error{}
	session.AddErrorCallback(func(err error) {
		errsLock.Lock()
		errs = append(errs, err)
		errsLock.Unlock()
	})

	err := session.Connect("test")
	assert.Equal(t, err, nil)

	// each failed attempt k schedules the next retry after k * base delay
	base := 2 * time.Second
	for attempt := 1; attempt <= 3; attempt += 1 {
		k := attempt
		waitFor(t, fmt.Sprintf("retry %d scheduled", k), func() bool {
			pending := clock.pending()
			return len(pending) == 1 &&
				pending[0].due.Equal(clock.Now().Add(time.Duration(k)*base))
		})
		assert.Equal(t, dialer.dials(), attempt)
		clock.Advance(time.Duration(k) * base)
	}

	// the cap is exhausted: terminal error, no further timer, no dial
	waitFor(t, "exhausted error", func() bool {
		errsLock.Lock()
		defer errsLock.Unlock()
		return 0 < len(errs)
	})
	errsLock.Lock()
	exhausted, ok := errs[len(errs)-1].(*ReconnectExhaustedError)
	errsLock.Unlock()
	assert.Equal(t, ok, true)
	assert.Equal(t, exhausted.Attempts, 3)
	assert.Equal(t, dialer.dials(), 4)
	assert.Equal(t, len(clock.pending()), 0)

	clock.Advance(time.Hour)
	assert.Equal(t, dialer.dials(), 4)
}

func TestDisconnectCancelsReconnectTimer(t *testing.T) {
	dialer := &fakeDialer{failCount: 100}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	err := session.Connect("test")
	assert.Equal(t, err, nil)
	waitFor(t, "retry scheduled", func() bool {
		return len(clock.pending()) == 1
	})
	assert.Equal(t, dialer.dials(), 1)

	session.Disconnect()
	assert.Equal(t, len(clock.pending()), 0)

	// a stale timer must not fire a reconnect after disconnect
	clock.Advance(time.Hour)
	assert.Equal(t, dialer.dials(), 1)
	connected, connecting := session.State()
	assert.Equal(t, connected, false)
	assert.Equal(t, connecting, false)
}

func TestDisconnectCancelsHeartbeat(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")
	waitFor(t, "heartbeat scheduled", func() bool {
		return len(clock.pending()) == 1
	})

	session.Disconnect()
	assert.Equal(t, len(clock.pending()), 0)

	clock.Advance(time.Hour)
	assert.Equal(t, len(conn.writesOfKind(KindPing)), 0)
	assert.Equal(t, dialer.dials(), 1)
}

func TestHeartbeatAndRtt(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")

	clock.Advance(10 * time.Second)
	pings := conn.writesOfKind(KindPing)
	assert.Equal(t, len(pings), 1)
	var ping struct {
		Id int64 `json:"id"`
	}
	err := json.Unmarshal(pings[0], &ping)
	assert.Equal(t, err, nil)
	assert.Equal(t, ping.Id, clock.Now().UnixMilli())

	// a mismatched pong is discarded
	conn.serverSend(fmt.Sprintf(`{"kind":"ping","id":%d}`, ping.Id-5000))
	conn.serverSend(`{"kind":"channel","sender":"x","id":"x"}`)
	waitFor(t, "stale pong processed", func() bool {
		return session.Channel() == "x"
	})
	assert.Equal(t, session.LastRtt(), time.Duration(0))

	// the matching pong records the round trip
	clock.Advance(50 * time.Millisecond)
	conn.serverSend(fmt.Sprintf(`{"kind":"ping","id":%d}`, ping.Id))
	waitFor(t, "rtt measured", func() bool {
		return session.LastRtt() == 50*time.Millisecond
	})

	// the heartbeat rescheduled itself
	assert.Equal(t, len(clock.pending()), 1)
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	err := session.FetchRect(TileRect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	assert.Equal(t, err, ErrNotConnected)
	assert.Equal(t, dialer.dials(), 0)
}

func TestUnknownKindLeavesStateUnchanged(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")
	conn.serverSend(`{"kind":"blargh","x":1}`)
	conn.serverSend(`{"kind":"tileUpdate","updates":"garbage"}`)
	conn.serverSend(`{"kind":"user_count","count":7}`)

	waitFor(t, "valid message after junk", func() bool {
		return session.UserCount() == 7
	})
	assert.Equal(t, session.TileStore().Size(), 0)
	connected, _ := session.State()
	assert.Equal(t, connected, true)
}

func TestServerErrorMapping(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	var errsLock sync.Mutex
	errs := []error{}
	session.AddErrorCallback(func(err error) {
		errsLock.Lock()
		errs = append(errs, err)
		errsLock.Unlock()
	})

	conn := connectSession(t, session, dialer, "test")
	conn.serverSend(`{"kind":"error","code":"conn_limit","message":"too many"}`)
	conn.serverSend(`{"kind":"error","code":"whatever","message":"strange"}`)

	waitFor(t, "errors surfaced", func() bool {
		errsLock.Lock()
		defer errsLock.Unlock()
		return len(errs) == 2
	})

	errsLock.Lock()
	known := errs[0].(*ServerError)
	unknown := errs[1].(*ServerError)
	errsLock.Unlock()
	assert.Equal(t, known.UserMessage, "too many connections from this address")
	assert.Equal(t, unknown.UserMessage, "server error: strange")

	// the connection is not dropped by a server error
	connected, _ := session.State()
	assert.Equal(t, connected, true)
}

func TestWriteRejectionSurfacedPerEdit(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	var errsLock sync.Mutex
	errs := []error{}
	session.AddErrorCallback(func(err error) {
		errsLock.Lock()
		errs = append(errs, err)
		errsLock.Unlock()
	})

	conn := connectSession(t, session, dialer, "test")
	conn.serverSend(`{"kind":"write","accepted":[],"rejected":{"7.100":"protected"}}`)

	waitFor(t, "rejection surfaced", func() bool {
		errsLock.Lock()
		defer errsLock.Unlock()
		return len(errs) == 1
	})
	errsLock.Lock()
	rejected := errs[0].(*EditRejectedError)
	errsLock.Unlock()
	assert.Equal(t, rejected.EditId, "7.100")
	assert.Equal(t, rejected.Reason, "protected")
}

func TestGuestCursors(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")
	conn.serverSend(`{"kind":"channel","sender":"me","id":"c1"}`)
	conn.serverSend(`{"kind":"cursor","sender":"guest1","position":{"tileX":1,"tileY":2,"charX":3,"charY":4}}`)
	// our own echo is not a guest cursor
	conn.serverSend(`{"kind":"cursor","sender":"me","position":{"tileX":0,"tileY":0,"charX":0,"charY":0}}`)

	waitFor(t, "guest cursor", func() bool {
		return len(session.GetGuestCursors()) == 1
	})
	cursors := session.GetGuestCursors()
	assert.Equal(t, cursors["guest1"], CursorPosition{
		Tile: TileCoord{X: 1, Y: 2},
		Char: CharCoord{X: 3, Y: 4},
	})

	conn.serverSend(`{"kind":"cursor","sender":"guest1","hidden":true}`)
	waitFor(t, "guest cursor hidden", func() bool {
		return len(session.GetGuestCursors()) == 0
	})
}

// connect, channel assignment, fetch, optimistic write, flush
func TestSessionEndToEnd(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")

	// chat history is requested as soon as the session connects
	waitFor(t, "chathistory request", func() bool {
		return len(conn.writesOfKind(KindChatHistory)) == 1
	})

	conn.serverSend(`{"kind":"channel","sender":"ch1","id":"c1","initial_user_count":2}`)
	waitFor(t, "channel assigned", func() bool {
		return session.ClientId() == "c1"
	})

	rect := TileRect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	err := session.FetchRect(rect)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(conn.writesOfKind(KindFetch)), 1)

	conn.serverSend(`{"kind":"fetch","tiles":{"0,0":{"content":null,"properties":{}}}}`)
	waitFor(t, "tile cached", func() bool {
		return session.TileStore().Size() == 1
	})

	edit, err := session.WriteCharacter(
		TileCoord{X: 0, Y: 0},
		CharCoord{X: 3, Y: 2},
		'A',
		0,
		nil,
		nil,
	)
	assert.Equal(t, err, nil)

	tile, ok := session.TileStore().Get(TileCoord{X: 0, Y: 0})
	assert.Equal(t, ok, true)
	glyph, mask := DecodeCell(tile.Content[2*16+3])
	assert.Equal(t, glyph, 'A')
	assert.Equal(t, mask, DecorationMask(0))

	session.Flush()
	writes := conn.writesOfKind(KindWrite)
	assert.Equal(t, len(writes), 1)

	var body struct {
		Edits [][]any `json:"edits"`
	}
	err = json.Unmarshal(writes[0], &body)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(body.Edits), 1)
	first := body.Edits[0]
	assert.Equal(t, len(first), 7)
	assert.Equal(t, first[0], float64(0))
	assert.Equal(t, first[1], float64(0))
	assert.Equal(t, first[2], float64(2))
	assert.Equal(t, first[3], float64(3))
	assert.Equal(t, first[4], float64(edit.Timestamp))
	assert.Equal(t, first[5], "A")
	assert.Equal(t, first[6], edit.Id)
}

func TestWriteCharacterRespectsProtection(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")
	conn.serverSend(`{"kind":"fetch","tiles":{"0,0":{"content":null,"properties":{"writability":2}}}}`)
	waitFor(t, "tile cached", func() bool {
		return session.TileStore().Size() == 1
	})

	_, err := session.WriteCharacter(TileCoord{X: 0, Y: 0}, CharCoord{X: 0, Y: 0}, 'A', 0, nil, nil)
	assert.NotEqual(t, err, nil)
	tile, _ := session.TileStore().Get(TileCoord{X: 0, Y: 0})
	assert.Equal(t, tile.Content[0], " ")
}

func TestConnectToNewWorldDropsCaches(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "worldA")
	conn.serverSend(`{"kind":"fetch","tiles":{"0,0":{"content":null,"properties":{}}}}`)
	conn.serverSend(`{"kind":"chat","id":1,"nickname":"n","message":"hi","location":"page","date":100}`)
	waitFor(t, "worldA state cached", func() bool {
		return session.TileStore().Size() == 1 && len(session.ChatLog().Merged()) == 1
	})

	// worldA's tiles and chat must not be visible in worldB
	session.Disconnect()
	conn = connectSession(t, session, dialer, "worldB")
	assert.Equal(t, session.TileStore().Size(), 0)
	assert.Equal(t, len(session.ChatLog().Merged()), 0)

	// reconnecting to the same world keeps the cache
	conn.serverSend(`{"kind":"fetch","tiles":{"1,1":{"content":null,"properties":{}}}}`)
	waitFor(t, "worldB tile cached", func() bool {
		return session.TileStore().Size() == 1
	})
	session.Disconnect()
	connectSession(t, session, dialer, "worldB")
	assert.Equal(t, session.TileStore().Size(), 1)
}

func TestConnectionLostSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	session := newTestSession(dialer, clock)
	defer session.Close()

	conn := connectSession(t, session, dialer, "test")
	assert.Equal(t, dialer.dials(), 1)

	// server drops the socket
	conn.Close()
	waitFor(t, "disconnected", func() bool {
		connected, _ := session.State()
		return !connected
	})
	waitFor(t, "retry scheduled", func() bool {
		return len(clock.pending()) == 1
	})

	clock.Advance(2 * time.Second)
	waitFor(t, "reconnected", func() bool {
		connected, _ := session.State()
		return connected
	})
	assert.Equal(t, dialer.dials(), 2)

	// the attempt counter reset on success
	session.Disconnect()
}
