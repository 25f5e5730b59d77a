package syncsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/golang/glog"

	"github.com/bringyour/syncsocket/protocol"
)

var (
	ErrNotOnline = errors.New("Not online.")
	ErrClosed    = errors.New("Client closed.")
)

// Idle -> Connecting -> Online -> Closing -> Idle
//                              -> (drop) Waiting -> Connecting
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOnline
	StateClosing
	StateWaiting
)

func (self ConnectionState) String() string {
	switch self {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateClosing:
		return "closing"
	case StateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type MessageCallback func(message json.RawMessage)

// Client speaks the command protocol to one peer over one transport at a time.
// Shared objects, subscriptions, local functions and pending calls
// belong to the client and survive reconnects.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	url       string
	settings  *ClientSettings
	clientTag string

	commandLog LogFunction
	tracer     oteltrace.Tracer

	stateLock      sync.Mutex
	state          ConnectionState
	connectionId   Id
	transport      Transport
	socketId       *string
	handledClose   bool
	reconnectTimer *time.Timer
	closed         bool

	onOpen       func()
	onClose      func()
	onDisconnect func()

	messageCallbacks *CallbackList[MessageCallback]

	subscriptions *subscriptionTable
	sharedStore   *sharedStore
	functions     *FunctionRegistry
	remote        *Remote
}

func NewClientWithDefaults(ctx context.Context, url string) *Client {
	return NewClient(ctx, url, DefaultClientSettings())
}

func NewClient(ctx context.Context, url string, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	if settings.TransportGenerator == nil {
		settings.TransportGenerator = NewWsTransport
	}

	var commandLog LogFunction
	if settings.Debug {
		commandLog = LogFn(0, "[c]")
	} else {
		commandLog = LogFn(2, "[c]")
	}

	tracerProvider := settings.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	client := &Client{
		ctx:              cancelCtx,
		cancel:           cancel,
		url:              url,
		settings:         settings,
		clientTag:        settings.Auth.ClientTag(),
		commandLog:       commandLog,
		tracer:           tracerProvider.Tracer(TracerName),
		state:            StateIdle,
		messageCallbacks: NewCallbackList[MessageCallback](),
		subscriptions:    newSubscriptionTable(),
		functions:        NewFunctionRegistry(),
	}
	client.sharedStore = newSharedStore(client)
	client.remote = newRemote(client)

	if settings.AutoConnect {
		client.Connect()
	}
	return client
}

// Connect opens a new transport in the background.
// No-op while connecting, online or closing.
func (self *Client) Connect() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	switch self.state {
	case StateConnecting, StateOnline, StateClosing:
		glog.V(1).Infof("[c]connect %s ignored (%s)\n", self.clientTag, self.state)
		return
	}

	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	self.state = StateConnecting
	self.handledClose = false
	connectionId := NewId()
	self.connectionId = connectionId
	go self.run(connectionId)
}

func (self *Client) run(connectionId Id) {
	connect := func() (Transport, error) {
		return self.settings.TransportGenerator(self.ctx, self.url, self.settings)
	}

	transport, err := TraceWithReturnError(fmt.Sprintf("[c]connect %s %s", self.clientTag, connectionId), connect)
	if err != nil {
		glog.Infof("[c]connect error %s %s = %s\n", self.clientTag, connectionId, err)
		self.handleClose(connectionId)
		return
	}

	self.stateLock.Lock()
	current := connectionId == self.connectionId
	handledClose := self.handledClose
	if current {
		self.transport = transport
	}
	self.stateLock.Unlock()

	if !current {
		transport.Close()
		return
	}
	if !handledClose {
		glog.V(1).Infof("[c]open %s %s\n", self.clientTag, connectionId)
		transport.Receive(func(text string) {
			self.receive(connectionId, text)
		})
	}
	transport.Close()
	self.handleClose(connectionId)
}

// handleClose is the only place a transport leaves the connecting or online state.
func (self *Client) handleClose(connectionId Id) {
	self.stateLock.Lock()
	if connectionId != self.connectionId {
		self.stateLock.Unlock()
		return
	}
	switch self.state {
	case StateIdle, StateWaiting:
		self.stateLock.Unlock()
		return
	}

	self.transport = nil
	var callback func()
	reconnect := false
	if self.handledClose || !self.settings.AutoReconnect || self.closed {
		self.handledClose = false
		self.state = StateIdle
		callback = self.onClose
		glog.V(1).Infof("[c]close %s %s\n", self.clientTag, connectionId)
	} else {
		self.state = StateWaiting
		callback = self.onDisconnect
		reconnect = true
		glog.Infof("[c]drop %s %s, reconnect in %s\n", self.clientTag, connectionId, self.settings.ReconnectTimeout)
	}
	self.stateLock.Unlock()

	if callback != nil {
		HandleError(callback)
	}
	if reconnect {
		self.scheduleReconnect(connectionId)
	}
}

func (self *Client) scheduleReconnect(connectionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || self.state != StateWaiting || connectionId != self.connectionId {
		// superseded while the disconnect callback ran
		return
	}
	self.reconnectTimer = time.AfterFunc(self.settings.ReconnectTimeout, func() {
		self.reconnect(connectionId)
	})
}

func (self *Client) reconnect(connectionId Id) {
	self.stateLock.Lock()
	waiting := self.state == StateWaiting && connectionId == self.connectionId
	self.stateLock.Unlock()

	if !waiting {
		glog.V(1).Infof("[c]reconnect %s skipped\n", self.clientTag)
		return
	}
	glog.Infof("[c]reconnect %s\n", self.clientTag)
	self.Connect()
}

// Disconnect closes the transport. The close callback fires next,
// not the disconnect callback, and no reconnect is scheduled.
func (self *Client) Disconnect() {
	self.stateLock.Lock()
	switch self.state {
	case StateWaiting:
		if self.reconnectTimer != nil {
			self.reconnectTimer.Stop()
			self.reconnectTimer = nil
		}
		self.state = StateIdle
		callback := self.onClose
		self.stateLock.Unlock()
		if callback != nil {
			HandleError(callback)
		}
	case StateConnecting, StateOnline:
		self.handledClose = true
		self.state = StateClosing
		transport := self.transport
		self.stateLock.Unlock()
		// while dialing there is no transport yet. `run` closes it on arrival.
		if transport != nil {
			transport.Close()
		}
	default:
		self.stateLock.Unlock()
	}
}

// Close disconnects for good. Pending calls are rejected with `ErrClosed`
// and all shared objects are dropped.
func (self *Client) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.stateLock.Unlock()

	self.Disconnect()
	self.cancel()
	self.remote.rejectAll(ErrClosed)
	self.sharedStore.clear()
}

func (self *Client) Online() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == StateOnline
}

func (self *Client) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// SocketId is the id assigned by the peer, if any.
func (self *Client) SocketId() (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.socketId == nil {
		return "", false
	}
	return *self.socketId, true
}

func (self *Client) OnOpen(callback func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.onOpen = callback
}

func (self *Client) OnClose(callback func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.onClose = callback
}

func (self *Client) OnDisconnect(callback func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.onDisconnect = callback
}

// OnMessage adds a listener for plain (non command) messages.
// Listeners run in registration order. Returns a function that removes the listener.
func (self *Client) OnMessage(callback MessageCallback) func() {
	id := self.messageCallbacks.Add(callback)
	return func() {
		self.messageCallbacks.Remove(id)
	}
}

// Send json encodes `message` and sends it as a plain message.
// Returns false when not online or the transport refused the frame.
func (self *Client) Send(message any) bool {
	text, err := protocol.EncodeFrame(message)
	if err != nil {
		glog.Infof("[cs]%s encode error = %s\n", self.clientTag, err)
		return false
	}
	return self.sendText(text, true)
}

// SendCommand sends `command` with the `command: true` marker. It never panics.
func (self *Client) SendCommand(command any) (sent bool) {
	return self.sendCommand(command, true)
}

func (self *Client) sendCommand(command any, requireOnline bool) (sent bool) {
	HandleError(func() {
		b, err := protocol.MarshalCommand(command)
		if err != nil {
			glog.Infof("[cs]%s encode error = %s\n", self.clientTag, err)
			return
		}
		sent = self.sendText(protocol.Escape(string(b)), requireOnline)
		if sent {
			self.commandLog("-> %s", b)
		}
	})
	return
}

func (self *Client) sendText(text string, requireOnline bool) bool {
	self.stateLock.Lock()
	transport := self.transport
	online := self.state == StateOnline
	self.stateLock.Unlock()

	if transport == nil || (requireOnline && !online) {
		return false
	}
	if err := transport.Send(text); err != nil {
		glog.V(1).Infof("[cs]%s send error = %s\n", self.clientTag, err)
		return false
	}
	return true
}

func (self *Client) isCurrent(connectionId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return connectionId == self.connectionId
}
