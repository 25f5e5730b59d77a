package syncsocket

import (
	"github.com/golang/glog"

	"github.com/bringyour/syncsocket/protocol"
)

// receive routes one inbound frame. Frames of a replaced transport are dropped.
func (self *Client) receive(connectionId Id, text string) {
	if !self.isCurrent(connectionId) {
		return
	}

	frame, err := protocol.ParseFrame(text)
	if err != nil {
		glog.V(1).Infof("[cr]%s drop invalid frame (%d bytes)\n", self.clientTag, len(text))
		return
	}

	if !frame.IsCommand() {
		for _, callback := range self.messageCallbacks.Get() {
			HandleError(func() {
				callback(frame.Raw)
			})
		}
		return
	}

	self.commandLog("<- %s", frame.Raw)
	self.dispatch(connectionId, frame.Command)
}

func (self *Client) dispatch(connectionId Id, envelope *protocol.Envelope) {
	switch envelope.Type {
	case protocol.TypeGetSocketId:
		self.handleGetSocketId(connectionId)
	case protocol.TypeSetSocketId:
		self.handleSetSocketId(connectionId, envelope)
	case protocol.TypeEvent:
		self.subscriptions.dispatch(envelope.Event, envelope.Data)
	case protocol.TypeSync:
		self.sharedStore.sync(envelope)
	case protocol.TypeRmi:
		self.handleRmi(envelope)
	case protocol.TypeRmiResult:
		self.remote.handleResult(envelope)
	default:
		// newer peers may send types this client does not know
		glog.V(1).Infof("[cr]%s ignore type %q\n", self.clientTag, envelope.Type)
	}
}

// the peer asks who we are. A client that already has a socket id resumes its session.
func (self *Client) handleGetSocketId(connectionId Id) {
	self.stateLock.Lock()
	var socketId *string
	if self.socketId != nil {
		id := *self.socketId
		socketId = &id
	}
	self.stateLock.Unlock()

	// the handshake reply goes out before the client is online
	self.sendCommand(protocol.NewReportSocketId(socketId), false)

	if socketId == nil {
		// first connection. wait for `setSocketId`
		return
	}

	self.stateLock.Lock()
	if connectionId != self.connectionId || self.state != StateConnecting {
		self.stateLock.Unlock()
		return
	}
	self.state = StateOnline
	onOpen := self.onOpen
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]resume %s socket %s\n", self.clientTag, *socketId)
	if onOpen != nil {
		HandleError(onOpen)
	}
}

// handleSetSocketId stores the assigned socket id. The open callback fires
// unless the connection was replaced or is closing.
func (self *Client) handleSetSocketId(connectionId Id, envelope *protocol.Envelope) {
	if envelope.SocketId == nil {
		glog.Infof("[cr]%s setSocketId without socket id\n", self.clientTag)
		return
	}
	socketId := *envelope.SocketId

	self.stateLock.Lock()
	self.socketId = &socketId
	current := connectionId == self.connectionId
	if current && self.state == StateConnecting {
		self.state = StateOnline
	}
	open := current && self.state == StateOnline
	onOpen := self.onOpen
	self.stateLock.Unlock()

	if !open {
		glog.V(1).Infof("[c]%s socket %s assigned while closing\n", self.clientTag, socketId)
		return
	}
	glog.V(1).Infof("[c]online %s socket %s\n", self.clientTag, socketId)
	if onOpen != nil {
		HandleError(onOpen)
	}
}
