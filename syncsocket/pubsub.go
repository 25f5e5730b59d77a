package syncsocket

import (
	"encoding/json"
	"sync"

	"github.com/golang/glog"

	"github.com/bringyour/syncsocket/protocol"
)

type EventCallback func(data json.RawMessage)

// Listener is a subscription handle. Subscriptions are keyed by the listener pointer,
// so subscribing the same listener twice to an event delivers each event once.
type Listener struct {
	Callback EventCallback
}

func NewListener(callback EventCallback) *Listener {
	return &Listener{
		Callback: callback,
	}
}

type subscriptionTable struct {
	mutex     sync.Mutex
	listeners map[string]map[*Listener]bool
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		listeners: map[string]map[*Listener]bool{},
	}
}

func (self *subscriptionTable) subscribe(event string, listener *Listener) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	listeners, ok := self.listeners[event]
	if !ok {
		listeners = map[*Listener]bool{}
		self.listeners[event] = listeners
	}
	listeners[listener] = true
}

func (self *subscriptionTable) unSubscribe(event string, listener *Listener) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	listeners, ok := self.listeners[event]
	if !ok {
		return
	}
	delete(listeners, listener)
	if len(listeners) == 0 {
		delete(self.listeners, event)
	}
}

// listenersFor copies the set so callbacks may (un)subscribe while dispatching
func (self *subscriptionTable) listenersFor(event string) []*Listener {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	listeners := make([]*Listener, 0, len(self.listeners[event]))
	for listener := range self.listeners[event] {
		listeners = append(listeners, listener)
	}
	return listeners
}

// dispatch calls every listener of `event`. Order is not defined.
func (self *subscriptionTable) dispatch(event string, data json.RawMessage) {
	listeners := self.listenersFor(event)
	if len(listeners) == 0 {
		glog.V(2).Infof("[cr]no listeners for event %q\n", event)
		return
	}
	for _, listener := range listeners {
		if listener.Callback == nil {
			continue
		}
		HandleError(func() {
			listener.Callback(data)
		})
	}
}

func (self *Client) Subscribe(event string, listener *Listener) {
	self.subscriptions.subscribe(event, listener)
}

// SubscribeFunc subscribes a new listener for `callback` and returns it for `UnSubscribe`.
func (self *Client) SubscribeFunc(event string, callback EventCallback) *Listener {
	listener := NewListener(callback)
	self.subscriptions.subscribe(event, listener)
	return listener
}

// UnSubscribe is a no-op for an unknown event or listener.
func (self *Client) UnSubscribe(event string, listener *Listener) {
	self.subscriptions.unSubscribe(event, listener)
}

// Publish sends `data` to the peer's subscribers of `event`.
func (self *Client) Publish(event string, data any) bool {
	return self.SendCommand(protocol.NewEvent(event, data))
}
