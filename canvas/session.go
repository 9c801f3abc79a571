package canvas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"golang.org/x/exp/maps"
)

// Session owns one world connection: the socket lifecycle, the heartbeat,
// reconnect with linear backoff, and routing of decoded inbound messages
// into the tile store, chat log, cursor map, and subscribers.
//
// exactly one of {connected, connecting, neither} holds at any time.

type SessionState int

const (
	StateDisconnected SessionState = 0
	StateConnecting   SessionState = 1
	StateConnected    SessionState = 2
)

// the subset of *websocket.Conn the session drives. tests substitute an
// in-memory implementation through `SessionSettings.Dial`.
type SocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (SocketConn, error)

type MessageFunction func(message Inbound)
type ConnectionStateFunction func(connected bool, connecting bool)
type ErrorFunction func(err error)

type WorldProps struct {
	Writability Writability
	Name        string
}

type SessionSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration

	HeartbeatInterval time.Duration

	// reconnect delay = ReconnectBaseDelay * attempt, attempts 1..MaxReconnectAttempts
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	Nickname string

	RttWindowSize    int
	RttWindowTimeout time.Duration

	// nil uses a gorilla/websocket dialer
	Dial DialFunc
	// nil uses the system clock
	Clock Clock

	BatcherSettings *EditBatcherSettings
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		WsHandshakeTimeout:   10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          60 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 5,
		Nickname:             "anon",
		RttWindowSize:        8,
		RttWindowTimeout:     60 * time.Second,
		BatcherSettings:      DefaultEditBatcherSettings(),
	}
}

type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	host     string
	settings *SessionSettings
	clock    Clock

	// tags this process's connection attempts in logs
	instanceId Id

	tileStore *TileStore
	chatLog   *ChatLog
	batcher   *EditBatcher
	rttWindow *RttWindow

	stateLock sync.Mutex
	state     SessionState
	// the currently targeted world. empty means an explicit disconnect.
	world string
	// the last world a connect targeted, for cache scoping across connects
	lastWorld        string
	clientId         string
	channel          string
	userCount        int
	worldProps       WorldProps
	conn             SocketConn
	reconnectAttempt int
	reconnectTimer   Timer
	heartbeatTimer   Timer
	lastPingId       int64
	lastRtt          time.Duration
	guestCursors     map[string]CursorPosition
	localCursor      *CursorPosition

	// serializes socket writes
	writeLock sync.Mutex

	messageCallbacks *CallbackList[MessageFunction]
	stateCallbacks   *CallbackList[ConnectionStateFunction]
	errorCallbacks   *CallbackList[ErrorFunction]
}

func NewSessionWithDefaults(ctx context.Context, host string) *Session {
	return NewSession(ctx, host, DefaultSessionSettings())
}

func NewSession(ctx context.Context, host string, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	clock := settings.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	session := &Session{
		ctx:              cancelCtx,
		cancel:           cancel,
		host:             host,
		settings:         settings,
		clock:            clock,
		instanceId:       NewId(),
		tileStore:        NewTileStore(),
		chatLog:          NewChatLog(),
		rttWindow: NewRttWindow(
			settings.RttWindowSize,
			settings.RttWindowTimeout,
			1.0,
			0,
			settings.RttWindowTimeout,
		),
		guestCursors:     map[string]CursorPosition{},
		messageCallbacks: NewCallbackList[MessageFunction](),
		stateCallbacks:   NewCallbackList[ConnectionStateFunction](),
		errorCallbacks:   NewCallbackList[ErrorFunction](),
	}
	session.batcher = NewEditBatcher(session.sendEdits, settings.BatcherSettings)
	return session
}

func (self *Session) TileStore() *TileStore {
	return self.tileStore
}

func (self *Session) ChatLog() *ChatLog {
	return self.chatLog
}

func (self *Session) Batcher() *EditBatcher {
	return self.batcher
}

// subscriptions. each returns an unsubscribe function, so multiple
// collaborators (renderer, persistence, ui) can observe independently.

func (self *Session) AddMessageCallback(callback MessageFunction) func() {
	callbackId := self.messageCallbacks.Add(callback)
	return func() {
		self.messageCallbacks.Remove(callbackId)
	}
}

func (self *Session) AddConnectionStateCallback(callback ConnectionStateFunction) func() {
	callbackId := self.stateCallbacks.Add(callback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

func (self *Session) AddErrorCallback(callback ErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(callback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

// state accessors

func (self *Session) State() (connected bool, connecting bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == StateConnected, self.state == StateConnecting
}

func (self *Session) World() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.world
}

func (self *Session) ClientId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.clientId
}

func (self *Session) Channel() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.channel
}

func (self *Session) UserCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.userCount
}

func (self *Session) WorldProps() WorldProps {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.worldProps
}

func (self *Session) LastRtt() time.Duration {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.lastRtt
}

func (self *Session) SmoothedRtt() time.Duration {
	return self.rttWindow.scaledRtt(self.clock.Now())
}

func (self *Session) GetGuestCursors() map[string]CursorPosition {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Clone(self.guestCursors)
}

func (self *Session) GetLocalCursor() *CursorPosition {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.localCursor
}

// Connect targets a world and starts an asynchronous connect attempt.
// a second connect while one is in flight is rejected, not queued.
// targeting a different world than the previous connect drops the cached
// tiles and chat, so one world's state never bleeds into another.
func (self *Session) Connect(world string) error {
	self.stateLock.Lock()
	switch self.state {
	case StateConnecting:
		self.stateLock.Unlock()
		return ErrConnectInProgress
	case StateConnected:
		self.stateLock.Unlock()
		return ErrAlreadyConnected
	}
	self.world = world
	worldChanged := world != self.lastWorld
	self.lastWorld = world
	self.reconnectAttempt = 0
	self.state = StateConnecting
	self.stateLock.Unlock()

	if worldChanged {
		self.tileStore.InvalidateAll()
		self.chatLog.Clear()
	}

	self.notifyState()
	go self.dial()
	return nil
}

// Disconnect is the explicit, terminal disconnect: it clears the target
// world and synchronously cancels the heartbeat and any pending reconnect
// before the socket close, so no stale timer can fire afterward.
func (self *Session) Disconnect() {
	// push out anything still batched while the socket is up
	self.batcher.Flush()

	self.stateLock.Lock()
	self.world = ""
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	if self.heartbeatTimer != nil {
		self.heartbeatTimer.Stop()
		self.heartbeatTimer = nil
	}
	conn := self.conn
	self.conn = nil
	wasDisconnected := self.state == StateDisconnected
	self.state = StateDisconnected
	self.guestCursors = map[string]CursorPosition{}
	self.localCursor = nil
	self.stateLock.Unlock()

	if conn != nil {
		closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		self.writeLock.Lock()
		conn.SetWriteDeadline(self.clock.Now().Add(self.settings.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage, closeMessage)
		self.writeLock.Unlock()
		conn.Close()
	}
	if !wasDisconnected {
		self.notifyState()
	}
}

// Close tears the session down entirely.
func (self *Session) Close() {
	self.Disconnect()
	self.cancel()
}

// Done closes when the session context is canceled.
func (self *Session) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *Session) url(world string) string {
	return fmt.Sprintf("wss://%s/%s/ws/", self.host, world)
}

func (self *Session) dialSocket(ctx context.Context, url string) (SocketConn, error) {
	if self.settings.Dial != nil {
		return self.settings.Dial(ctx, url)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (self *Session) dial() {
	self.stateLock.Lock()
	world := self.world
	self.stateLock.Unlock()
	if world == "" {
		return
	}

	conn, err := self.dialSocket(self.ctx, self.url(world))
	if err != nil {
		glog.Infof("[session]%s connect %s error = %s\n", self.instanceId, world, err)
		var terminal error
		self.stateLock.Lock()
		if self.world == "" {
			// disconnected while connecting
			self.stateLock.Unlock()
			return
		}
		self.state = StateDisconnected
		terminal = self.scheduleReconnect()
		self.stateLock.Unlock()

		self.notifyState()
		if terminal != nil {
			self.surfaceError(terminal)
		}
		return
	}

	self.stateLock.Lock()
	if self.world == "" {
		// an explicit disconnect raced the dial
		self.stateLock.Unlock()
		conn.Close()
		return
	}
	self.conn = conn
	self.state = StateConnected
	self.reconnectAttempt = 0
	self.scheduleHeartbeat()
	self.stateLock.Unlock()

	glog.V(2).Infof("[session]%s connected to %s\n", self.instanceId, world)
	self.notifyState()

	// chat history comes down immediately; the caller re-fetches its
	// viewport from the connection state callback
	if payload, err := EncodeChatHistoryRequest(); err == nil {
		self.Send(payload)
	}

	go self.readPump(conn)
}

func (self *Session) readPump(conn SocketConn) {
	for {
		conn.SetReadDeadline(self.clock.Now().Add(self.settings.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			self.handleConnectionLost(conn, err)
			return
		}
		self.handleRaw(raw)
	}
}

func (self *Session) handleConnectionLost(conn SocketConn, err error) {
	self.stateLock.Lock()
	if self.conn != conn {
		// a stale pump for a socket that was already replaced or closed
		self.stateLock.Unlock()
		return
	}
	self.conn = nil
	if self.heartbeatTimer != nil {
		self.heartbeatTimer.Stop()
		self.heartbeatTimer = nil
	}
	if self.world == "" {
		self.state = StateDisconnected
		self.stateLock.Unlock()
		return
	}
	glog.Infof("[session]%s connection lost = %s\n", self.instanceId, err)
	self.state = StateDisconnected
	terminal := self.scheduleReconnect()
	self.stateLock.Unlock()

	conn.Close()
	self.notifyState()
	if terminal != nil {
		self.surfaceError(terminal)
	}
}

// must be called inside the state lock. returns the terminal error when
// the attempt cap is exhausted; the caller surfaces it after unlocking.
func (self *Session) scheduleReconnect() error {
	self.reconnectAttempt += 1
	attempt := self.reconnectAttempt
	if self.settings.MaxReconnectAttempts < attempt {
		glog.Infof("[session]%s reconnect exhausted after %d attempts\n", self.instanceId, attempt-1)
		return &ReconnectExhaustedError{
			World:    self.world,
			Attempts: attempt - 1,
		}
	}
	// one pending reconnect timer at most
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
	}
	delay := time.Duration(attempt) * self.settings.ReconnectBaseDelay
	glog.V(2).Infof("[session]%s reconnect attempt %d in %s\n", self.instanceId, attempt, delay)
	self.reconnectTimer = self.clock.AfterFunc(delay, self.reconnectFire)
	return nil
}

func (self *Session) reconnectFire() {
	self.stateLock.Lock()
	self.reconnectTimer = nil
	if self.world == "" || self.state != StateDisconnected {
		self.stateLock.Unlock()
		return
	}
	self.state = StateConnecting
	self.stateLock.Unlock()

	self.notifyState()
	go self.dial()
}

// must be called inside the state lock
func (self *Session) scheduleHeartbeat() {
	if self.heartbeatTimer != nil {
		self.heartbeatTimer.Stop()
	}
	self.heartbeatTimer = self.clock.AfterFunc(self.settings.HeartbeatInterval, self.heartbeatFire)
}

func (self *Session) heartbeatFire() {
	self.stateLock.Lock()
	if self.state != StateConnected {
		self.stateLock.Unlock()
		return
	}
	pingId := self.rttWindow.openPing(self.clock.Now())
	self.lastPingId = pingId
	self.scheduleHeartbeat()
	self.stateLock.Unlock()

	if payload, err := EncodePing(pingId); err == nil {
		self.Send(payload)
	}
}

// Send transmits one encoded message. only effective while connected:
// otherwise it reports locally and drops the message. the caller, not the
// session, re-issues state on reconnect.
func (self *Session) Send(payload []byte) error {
	self.stateLock.Lock()
	conn := self.conn
	connected := self.state == StateConnected
	self.stateLock.Unlock()

	if !connected || conn == nil {
		glog.V(2).Infof("[session]%s drop send while not connected\n", self.instanceId)
		return ErrNotConnected
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()
	conn.SetWriteDeadline(self.clock.Now().Add(self.settings.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		glog.Infof("[session]%s write error = %s\n", self.instanceId, err)
		return err
	}
	return nil
}

func (self *Session) sendEdits(edits []*Edit) {
	payload, err := EncodeWrite(edits)
	if err != nil {
		glog.Infof("[session]%s encode write error = %s\n", self.instanceId, err)
		return
	}
	self.Send(payload)
}

// caller intents

// WriteCharacter applies one character optimistically to the local tile
// cache and queues the edit for the next batch. permission is checked
// against the cached tile's current writability, which may be stale.
func (self *Session) WriteCharacter(
	tile TileCoord,
	char CharCoord,
	glyph rune,
	mask DecorationMask,
	color *int,
	bgColor *int,
) (*Edit, error) {
	if !char.Valid() {
		return nil, fmt.Errorf("char coordinate out of range: %d,%d", char.X, char.Y)
	}
	if cached, ok := self.tileStore.Get(tile); ok {
		if cached.CellWritability(char) != WritabilityPublic {
			return nil, newServerError(serverErrorNoPermission, "cell is protected")
		}
	}

	now := self.clock.Now()
	cell := EncodeCell(glyph, mask)
	self.tileStore.ApplyLocalEdit(tile, char, cell, now, color, bgColor)
	edit := NewEdit(tile, char, cell, now, color, bgColor)
	self.batcher.Enqueue(edit)
	return edit, nil
}

// Flush pushes any batched edits out now (view pause).
func (self *Session) Flush() {
	self.batcher.Flush()
}

func (self *Session) FetchRect(rect TileRect) error {
	payload, err := EncodeFetch(rect)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

// SetBoundary reports the visible rectangle so the server can scope push
// updates.
func (self *Session) SetBoundary(rect TileRect) error {
	payload, err := EncodeBoundary(rect)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) SendChat(message string, location ChatLocation) error {
	payload, err := EncodeChat(self.settings.Nickname, message, location, "")
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) RequestChatHistory() error {
	payload, err := EncodeChatHistoryRequest()
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) MoveCursor(position CursorPosition) error {
	self.stateLock.Lock()
	self.localCursor = &position
	self.stateLock.Unlock()

	payload, err := EncodeCursor(&position)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) HideCursor() error {
	self.stateLock.Lock()
	self.localCursor = nil
	self.stateLock.Unlock()

	payload, err := EncodeCursor(nil)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) SendCmd(data string, includeUsername bool) error {
	payload, err := EncodeCmd(data, includeUsername)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) SendCmdOpt() error {
	payload, err := EncodeCmdOpt()
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) Protect(tile TileCoord, char *CharCoord, writability Writability) error {
	payload, err := EncodeProtect("protect", tile, char, writability)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) Unprotect(tile TileCoord, char *CharCoord) error {
	payload, err := EncodeProtect("unprotect", tile, char, WritabilityPublic)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) SetLink(tile TileCoord, char CharCoord, link *Link) error {
	payload, err := EncodeLink(tile, char, link)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) ClearTile(tile TileCoord) error {
	payload, err := EncodeClearTile(tile)
	if err != nil {
		return err
	}
	return self.Send(payload)
}

func (self *Session) RequestStats() error {
	payload, err := EncodeStats()
	if err != nil {
		return err
	}
	return self.Send(payload)
}

// inbound path

func (self *Session) handleRaw(raw []byte) {
	message, diagnostic := Decode(raw)
	if diagnostic != nil {
		// non-fatal: drop the frame, keep the connection
		glog.Infof("[session]%s drop inbound: %s\n", self.instanceId, diagnostic.Error())
		return
	}
	self.dispatch(message)
}

func (self *Session) dispatch(message Inbound) {
	switch v := message.(type) {
	case *ChannelInbound:
		self.stateLock.Lock()
		self.clientId = v.ClientId
		self.channel = v.Sender
		self.userCount = v.InitialUserCount
		self.stateLock.Unlock()
	case *PongInbound:
		self.handlePong(v)
	case *AnnouncementInbound:
		// routed to message subscribers below
	case *PropUpdateInbound:
		self.stateLock.Lock()
		if v.Writability != nil {
			self.worldProps.Writability = *v.Writability
		}
		if v.Name != nil {
			self.worldProps.Name = *v.Name
		}
		self.stateLock.Unlock()
	case *UserCountInbound:
		self.stateLock.Lock()
		self.userCount = v.Count
		self.stateLock.Unlock()
	case *ErrorInbound:
		// non-fatal to the connection
		self.surfaceError(newServerError(v.Code, v.Message))
	case *TileUpdateInbound:
		for _, update := range v.Updates {
			self.tileStore.ApplyRemoteCellUpdate(
				update.Tile,
				update.Char,
				update.Cell,
				time.UnixMilli(update.Timestamp),
				update.Color,
				update.BgColor,
			)
		}
	case *FetchInbound:
		self.tileStore.MergeFetchResult(v.Tiles)
	case *WriteResponseInbound:
		for editId, reason := range v.Rejected {
			self.surfaceError(&EditRejectedError{
				EditId: editId,
				Reason: reason,
			})
		}
	case *ChatInbound:
		self.chatLog.Append(v.Message)
	case *ChatHistoryInbound:
		for _, chatMessage := range v.Page {
			self.chatLog.Append(chatMessage)
		}
		for _, chatMessage := range v.Global {
			self.chatLog.Append(chatMessage)
		}
	case *CursorInbound:
		self.handleCursor(v)
	}

	for _, callback := range self.messageCallbacks.Get() {
		func(callback MessageFunction) {
			HandleError(func() {
				callback(message)
			})
		}(callback)
	}
}

func (self *Session) handlePong(pong *PongInbound) {
	self.stateLock.Lock()
	if pong.Id != self.lastPingId {
		// a response to a superseded ping. discard, not an error.
		glog.V(2).Infof("[session]%s stale pong %d\n", self.instanceId, pong.Id)
		self.stateLock.Unlock()
		return
	}
	now := self.clock.Now()
	self.lastRtt = now.Sub(time.UnixMilli(pong.Id))
	self.stateLock.Unlock()

	self.rttWindow.closePing(pong.Id, now)
}

func (self *Session) handleCursor(cursor *CursorInbound) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if cursor.Sender == "" || cursor.Sender == self.channel {
		// our own echo
		return
	}
	if cursor.Hidden || cursor.Position == nil {
		delete(self.guestCursors, cursor.Sender)
		return
	}
	self.guestCursors[cursor.Sender] = *cursor.Position
}

func (self *Session) notifyState() {
	connected, connecting := self.State()
	for _, callback := range self.stateCallbacks.Get() {
		func(callback ConnectionStateFunction) {
			HandleError(func() {
				callback(connected, connecting)
			})
		}(callback)
	}
}

func (self *Session) surfaceError(err error) {
	for _, callback := range self.errorCallbacks.Get() {
		func(callback ErrorFunction) {
			HandleError(func() {
				callback(err)
			})
		}(callback)
	}
}
