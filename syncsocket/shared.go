package syncsocket

import (
	"encoding/json"
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"

	"github.com/bringyour/syncsocket/protocol"
)

var ErrReadOnly = errors.New("Shared object is read only.")

// who made a change
const (
	ChangeByClient = "client"
	ChangeByServer = "server"
)

type Change struct {
	Values map[string]any
	By     string
}

type ChangeListener func(change Change)

// sharedObject is the mirrored state. It is only reachable through `Shared`.
type sharedObject struct {
	scope    protocol.Scope
	group    string
	name     string
	readOnly bool
	values   map[string]any
	listener ChangeListener
}

// global, group and client tiers. One object per (scope, group, name).
type sharedStore struct {
	client *Client

	mutex         sync.Mutex
	globalObjects map[string]*sharedObject
	groupObjects  map[string]map[string]*sharedObject
	clientObjects map[string]*sharedObject
}

func newSharedStore(client *Client) *sharedStore {
	store := &sharedStore{
		client: client,
	}
	store.reset()
	return store
}

func (self *sharedStore) reset() {
	self.globalObjects = map[string]*sharedObject{}
	self.groupObjects = map[string]map[string]*sharedObject{}
	self.clientObjects = map[string]*sharedObject{}
}

func (self *sharedStore) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.reset()
}

// object creates or fetches. must be called with the mutex held.
func (self *sharedStore) object(scope protocol.Scope, group string, name string) *sharedObject {
	var objects map[string]*sharedObject
	switch scope {
	case protocol.ScopeGlobal:
		objects = self.globalObjects
	case protocol.ScopeGroup:
		var ok bool
		objects, ok = self.groupObjects[group]
		if !ok {
			objects = map[string]*sharedObject{}
			self.groupObjects[group] = objects
		}
	default:
		objects = self.clientObjects
	}

	object, ok := objects[name]
	if !ok {
		object = &sharedObject{
			scope:    scope,
			group:    group,
			name:     name,
			readOnly: scope.ReadOnly(),
			values:   map[string]any{},
		}
		objects[name] = object
	}
	return object
}

func (self *sharedStore) view(scope protocol.Scope, group string, name string) *Shared {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return &Shared{
		store:  self,
		object: self.object(scope, group, name),
	}
}

// sync applies a batch from the peer. This is the only way global and group objects change.
func (self *sharedStore) sync(envelope *protocol.Envelope) {
	scope := envelope.Scope
	if !scope.Valid() {
		glog.Infof("[cr]%s sync with unknown scope %q\n", self.client.clientTag, scope)
		return
	}
	if scope == protocol.ScopeGroup && envelope.Group == "" {
		glog.Infof("[cr]%s group sync for %q without group\n", self.client.clientTag, envelope.Name)
		return
	}
	group := ""
	if scope == protocol.ScopeGroup {
		group = envelope.Group
	}

	values := map[string]any{}
	for key, raw := range envelope.Values {
		var value any
		if protocol.IsPresent(raw) {
			if err := json.Unmarshal(raw, &value); err != nil {
				glog.Infof("[cr]%s sync %s.%s bad value = %s\n", self.client.clientTag, envelope.Name, key, err)
				continue
			}
		}
		values[key] = value
	}

	self.mutex.Lock()
	object := self.object(scope, group, envelope.Name)
	for key, value := range values {
		object.values[key] = value
	}
	listener := object.listener
	self.mutex.Unlock()

	if listener != nil {
		HandleError(func() {
			listener(Change{
				Values: values,
				By:     ChangeByServer,
			})
		})
	}
}

// Shared is the application's view of one shared object.
type Shared struct {
	store  *sharedStore
	object *sharedObject
}

// Shared returns the client scoped object `name`. Client objects are writable.
func (self *Client) Shared(name string) *Shared {
	return self.sharedStore.view(protocol.ScopeClient, "", name)
}

// GroupShared returns the object `name` of `group`. Read only.
func (self *Client) GroupShared(group string, name string) *Shared {
	return self.sharedStore.view(protocol.ScopeGroup, group, name)
}

// GlobalShared returns the global object `name`. Read only.
func (self *Client) GlobalShared(name string) *Shared {
	return self.sharedStore.view(protocol.ScopeGlobal, "", name)
}

func (self *Shared) Scope() protocol.Scope {
	return self.object.scope
}

func (self *Shared) Group() string {
	return self.object.group
}

func (self *Shared) Name() string {
	return self.object.name
}

func (self *Shared) ReadOnly() bool {
	return self.object.readOnly
}

// Get returns the mirrored value. ok is false if the key was never set.
func (self *Shared) Get(key string) (value any, ok bool) {
	self.store.mutex.Lock()
	defer self.store.mutex.Unlock()
	value, ok = self.object.values[key]
	return
}

// Set writes one key of a client object, notifies the change listener
// and sends the key to the peer. Global and group objects return `ErrReadOnly`.
func (self *Shared) Set(key string, value any) error {
	object := self.object
	if object.readOnly {
		glog.Infof("[c]%s write %s.%s rejected (%s)\n", self.store.client.clientTag, object.name, key, object.scope)
		return ErrReadOnly
	}

	self.store.mutex.Lock()
	object.values[key] = value
	listener := object.listener
	self.store.mutex.Unlock()

	if listener != nil {
		HandleError(func() {
			listener(Change{
				Values: map[string]any{key: value},
				By:     ChangeByClient,
			})
		})
	}

	if !self.store.client.SendCommand(protocol.NewSyncWrite(object.name, key, value)) {
		glog.V(1).Infof("[c]%s sync %s.%s not sent\n", self.store.client.clientTag, object.name, key)
	}
	return nil
}

// OnChange sets the one change listener, replacing any previous listener.
// nil removes it.
func (self *Shared) OnChange(listener ChangeListener) {
	self.store.mutex.Lock()
	defer self.store.mutex.Unlock()
	self.object.listener = listener
}

// Keys are sorted.
func (self *Shared) Keys() []string {
	self.store.mutex.Lock()
	defer self.store.mutex.Unlock()

	keys := make([]string, 0, len(self.object.values))
	for key := range self.object.values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Values returns a copy of the mirrored state.
func (self *Shared) Values() map[string]any {
	self.store.mutex.Lock()
	defer self.store.mutex.Unlock()

	values := make(map[string]any, len(self.object.values))
	for key, value := range self.object.values {
		values[key] = value
	}
	return values
}

// Decode reads the value of `key` into `v` through a json round trip.
func (self *Shared) Decode(key string, v any) error {
	value, ok := self.Get(key)
	if !ok {
		value = nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
