package syncsocket

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/syncsocket/protocol"
)

type changeRecorder struct {
	mutex   sync.Mutex
	changes []Change
}

func (self *changeRecorder) listener(change Change) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.changes = append(self.changes, change)
}

func (self *changeRecorder) get() []Change {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]Change{}, self.changes...)
}

func TestSharedClientWrite(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	shared := client.Shared("page")
	recorder := &changeRecorder{}
	shared.OnChange(recorder.listener)

	err := shared.Set("title", "Hi")
	assert.Equal(t, nil, err)

	value, ok := shared.Get("title")
	assert.Equal(t, true, ok)
	assert.Equal(t, "Hi", value)

	changes := recorder.get()
	assert.Equal(t, 1, len(changes))
	assert.Equal(t, ChangeByClient, changes[0].By)
	assert.Equal(t, map[string]any{"title": "Hi"}, changes[0].Values)

	command := transport.next(t)
	assert.Equal(t, protocol.TypeSync, command.Type)
	assert.Equal(t, protocol.ScopeClient, command.Scope)
	assert.Equal(t, "page", command.Name)
	assert.Equal(t, "title", command.Key)
	assert.Equal(t, `"Hi"`, string(command.Value))
	// one key per write, no batch
	assert.Equal(t, 0, len(command.Values))
	transport.expectNothingSent(t)
}

func TestSharedReadOnly(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	for _, shared := range []*Shared{
		client.GlobalShared("settings"),
		client.GroupShared("team", "board"),
	} {
		recorder := &changeRecorder{}
		shared.OnChange(recorder.listener)

		assert.Equal(t, true, shared.ReadOnly())
		err := shared.Set("bg", "red")
		assert.Equal(t, ErrReadOnly, err)

		_, ok := shared.Get("bg")
		assert.Equal(t, false, ok)
		assert.Equal(t, 0, len(recorder.get()))
	}
	transport.expectNothingSent(t)
}

func TestSharedInboundSync(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	// the object does not exist before the sync
	assert.Equal(t, 0, len(client.sharedStore.globalObjects))

	transport.push(t, protocol.NewSync(protocol.ScopeGlobal, "", "settings", map[string]any{
		"bg": "blue",
		"v":  2,
	}))
	transport.flush(t, client)

	assert.Equal(t, 1, len(client.sharedStore.globalObjects))
	settings := client.GlobalShared("settings")
	value, _ := settings.Get("bg")
	assert.Equal(t, "blue", value)
	value, _ = settings.Get("v")
	assert.Equal(t, float64(2), value)
	assert.Equal(t, []string{"bg", "v"}, settings.Keys())

	var v int
	err := settings.Decode("v", &v)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, v)

	// the listener sees the whole batch once
	recorder := &changeRecorder{}
	settings.OnChange(recorder.listener)
	transport.push(t, protocol.NewSync(protocol.ScopeGlobal, "", "settings", map[string]any{
		"bg": "green",
		"fg": "white",
	}))
	transport.flush(t, client)

	changes := recorder.get()
	assert.Equal(t, 1, len(changes))
	assert.Equal(t, ChangeByServer, changes[0].By)
	assert.Equal(t, map[string]any{"bg": "green", "fg": "white"}, changes[0].Values)
	assert.Equal(t, map[string]any{"bg": "green", "fg": "white", "v": float64(2)}, settings.Values())

	transport.expectNothingSent(t)
}

func TestSharedInboundSyncCreatesListenerOnFirstSync(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	// a listener registered before the object has any data
	recorder := &changeRecorder{}
	client.GlobalShared("settings").OnChange(recorder.listener)

	transport.push(t, protocol.NewSync(protocol.ScopeGlobal, "", "settings", map[string]any{
		"bg": "blue",
		"v":  2,
	}))
	transport.flush(t, client)

	changes := recorder.get()
	assert.Equal(t, 1, len(changes))
	assert.Equal(t, ChangeByServer, changes[0].By)
	assert.Equal(t, 2, len(changes[0].Values))
}

func TestSharedScopes(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	transport.push(t, protocol.NewSync(protocol.ScopeGroup, "team-a", "board", map[string]any{"n": "a"}))
	transport.push(t, protocol.NewSync(protocol.ScopeGroup, "team-b", "board", map[string]any{"n": "b"}))
	transport.push(t, protocol.NewSync(protocol.ScopeClient, "", "board", map[string]any{"n": "client"}))
	transport.push(t, protocol.NewSync(protocol.ScopeGlobal, "", "board", map[string]any{"n": "global"}))
	transport.flush(t, client)

	get := func(shared *Shared) any {
		value, _ := shared.Get("n")
		return value
	}
	assert.Equal(t, "a", get(client.GroupShared("team-a", "board")))
	assert.Equal(t, "b", get(client.GroupShared("team-b", "board")))
	assert.Equal(t, "client", get(client.Shared("board")))
	assert.Equal(t, "global", get(client.GlobalShared("board")))

	// one object per (scope, group, name)
	assert.Equal(t, true, client.GroupShared("team-a", "board").object == client.GroupShared("team-a", "board").object)
	assert.Equal(t, false, client.GroupShared("team-a", "board").object == client.GroupShared("team-b", "board").object)
	assert.Equal(t, protocol.ScopeGroup, client.GroupShared("team-a", "board").Scope())
	assert.Equal(t, "team-a", client.GroupShared("team-a", "board").Group())
}

func TestSharedInboundSyncInvalid(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	transport.push(t, protocol.NewSync(protocol.Scope("PLANET"), "", "x", map[string]any{"a": 1}))
	// group sync without a group
	transport.push(t, protocol.NewSync(protocol.ScopeGroup, "", "x", map[string]any{"a": 1}))
	transport.flush(t, client)

	assert.Equal(t, 0, len(client.sharedStore.globalObjects))
	assert.Equal(t, 0, len(client.sharedStore.groupObjects))
	assert.Equal(t, 0, len(client.sharedStore.clientObjects))
}

func TestSharedListenerReplaced(t *testing.T) {
	peer := newTestPeer()
	client, transport, _ := connectTestClient(t, peer)

	shared := client.Shared("page")
	first := &changeRecorder{}
	second := &changeRecorder{}
	shared.OnChange(first.listener)
	// a second view of the same object replaces the listener
	client.Shared("page").OnChange(second.listener)

	shared.Set("a", 1)
	transport.next(t)
	assert.Equal(t, 0, len(first.get()))
	assert.Equal(t, 1, len(second.get()))

	shared.OnChange(nil)
	shared.Set("a", 2)
	transport.next(t)
	assert.Equal(t, 1, len(second.get()))
}

func TestSharedWriteOffline(t *testing.T) {
	peer := newTestPeer()
	client, transport, events := connectTestClient(t, peer)

	client.Disconnect()
	await(t, events.close, "close")

	// the mirror changes even when the sync cannot be sent
	shared := client.Shared("page")
	err := shared.Set("title", "offline")
	assert.Equal(t, nil, err)
	value, _ := shared.Get("title")
	assert.Equal(t, "offline", value)
	transport.expectNothingSent(t)
}

func TestSharedClearedOnClose(t *testing.T) {
	peer := newTestPeer()
	client, _, _ := connectTestClient(t, peer)

	client.Shared("page").Set("title", "Hi")
	client.Close()
	_, ok := client.Shared("page").Get("title")
	assert.Equal(t, false, ok)
}
