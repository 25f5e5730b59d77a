package syncsocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bringyour/syncsocket/protocol"
)

const testTimeout = 2 * time.Second

// testTransport is an in-memory transport. The test plays the peer.
type testTransport struct {
	receive   chan string
	sent      chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newTestTransport() *testTransport {
	return &testTransport{
		receive: make(chan string, 64),
		sent:    make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (self *testTransport) Receive(onMessage func(text string)) {
	for {
		select {
		case <-self.closed:
			return
		case text := <-self.receive:
			onMessage(text)
		}
	}
}

func (self *testTransport) Send(text string) error {
	select {
	case <-self.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case self.sent <- text:
		return nil
	default:
		return errors.New("test transport full")
	}
}

func (self *testTransport) Close() {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
}

func (self *testTransport) isClosed() bool {
	select {
	case <-self.closed:
		return true
	default:
		return false
	}
}

// pushText delivers a raw frame to the client
func (self *testTransport) pushText(t *testing.T, text string) {
	t.Helper()
	select {
	case self.receive <- text:
	case <-time.After(testTimeout):
		t.Fatalf("push timed out")
	}
}

func (self *testTransport) push(t *testing.T, command any) {
	t.Helper()
	text, err := protocol.EncodeCommand(command)
	if err != nil {
		t.Fatal(err)
	}
	self.pushText(t, text)
}

func (self *testTransport) pushMessage(t *testing.T, message any) {
	t.Helper()
	text, err := protocol.EncodeFrame(message)
	if err != nil {
		t.Fatal(err)
	}
	self.pushText(t, text)
}

// nextFrame waits for the next frame the client sent
func (self *testTransport) nextFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	select {
	case text := <-self.sent:
		frame, err := protocol.ParseFrame(text)
		if err != nil {
			t.Fatalf("client sent an invalid frame %q", text)
		}
		return frame
	case <-time.After(testTimeout):
		t.Fatalf("no frame sent")
		return nil
	}
}

func (self *testTransport) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	frame := self.nextFrame(t)
	if !frame.IsCommand() {
		t.Fatalf("expected a command, got %s", frame.Raw)
	}
	return frame.Command
}

func (self *testTransport) expectNothingSent(t *testing.T) {
	t.Helper()
	select {
	case text := <-self.sent:
		t.Fatalf("unexpected frame %q", text)
	default:
	}
}

// flush waits until every frame pushed so far has been routed.
// Frames are routed in order, so a plain message pushed last arrives last.
func (self *testTransport) flush(t *testing.T, client *Client) {
	t.Helper()
	flushed := make(chan struct{}, 1)
	remove := client.OnMessage(func(message json.RawMessage) {
		if string(message) == `"flush"` {
			select {
			case flushed <- struct{}{}:
			default:
			}
		}
	})
	defer remove()
	self.pushMessage(t, "flush")
	select {
	case <-flushed:
	case <-time.After(testTimeout):
		t.Fatalf("flush timed out")
	}
}

type testPeer struct {
	settings   *ClientSettings
	transports chan *testTransport

	mutex    sync.Mutex
	dialErrs []error
}

func newTestPeer() *testPeer {
	peer := &testPeer{
		transports: make(chan *testTransport, 16),
	}
	settings := DefaultClientSettings()
	settings.AutoConnect = false
	settings.ReconnectTimeout = 200 * time.Millisecond
	settings.TransportGenerator = peer.generate
	peer.settings = settings
	return peer
}

// failNext makes the next dial fail with `err`
func (self *testPeer) failNext(err error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.dialErrs = append(self.dialErrs, err)
}

func (self *testPeer) generate(ctx context.Context, url string, settings *ClientSettings) (Transport, error) {
	self.mutex.Lock()
	if 0 < len(self.dialErrs) {
		err := self.dialErrs[0]
		self.dialErrs = self.dialErrs[1:]
		self.mutex.Unlock()
		return nil, err
	}
	self.mutex.Unlock()

	transport := newTestTransport()
	self.transports <- transport
	return transport, nil
}

func (self *testPeer) nextTransport(t *testing.T) *testTransport {
	t.Helper()
	select {
	case transport := <-self.transports:
		return transport
	case <-time.After(testTimeout):
		t.Fatalf("no connection attempt")
		return nil
	}
}

func (self *testPeer) expectNoTransport(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-self.transports:
		t.Fatalf("unexpected connection attempt")
	case <-time.After(wait):
	}
}

type testEvents struct {
	open       chan struct{}
	close      chan struct{}
	disconnect chan struct{}
}

func watchClient(client *Client) *testEvents {
	events := &testEvents{
		open:       make(chan struct{}, 16),
		close:      make(chan struct{}, 16),
		disconnect: make(chan struct{}, 16),
	}
	client.OnOpen(func() {
		events.open <- struct{}{}
	})
	client.OnClose(func() {
		events.close <- struct{}{}
	})
	client.OnDisconnect(func() {
		events.disconnect <- struct{}{}
	})
	return events
}

func await(t *testing.T, c chan struct{}, tag string) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", tag)
	}
}

func expectNone(t *testing.T, c chan struct{}, tag string) {
	t.Helper()
	select {
	case <-c:
		t.Fatalf("unexpected %s", tag)
	default:
	}
}

// connectTestClient returns an online client and its transport
func connectTestClient(t *testing.T, peer *testPeer) (*Client, *testTransport, *testEvents) {
	t.Helper()
	client := NewClient(context.Background(), "ws://peer.test", peer.settings)
	t.Cleanup(client.Close)
	events := watchClient(client)

	client.Connect()
	transport := peer.nextTransport(t)
	transport.push(t, protocol.NewGetSocketId())
	report := transport.next(t)
	if report.Type != protocol.TypeReportSocketId {
		t.Fatalf("expected reportSocketId, got %s", report.Type)
	}
	transport.push(t, protocol.NewSetSocketId("socket-1"))
	await(t, events.open, "open")
	return client, transport, events
}
