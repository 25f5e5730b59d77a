package syncsocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

const TransportBufferSize = 32

var ErrTransportClosed = errors.New("Transport closed.")

// Transport is one open duplex connection carrying text frames.
type Transport interface {
	// Receive delivers text frames in order on the calling goroutine
	// and returns when the transport is closed or fails.
	Receive(onMessage func(text string))
	Send(text string) error
	// Close is idempotent. A blocked `Receive` returns.
	Close()
}

// TransportGenerator opens a new transport to `url`. Blocks until the transport is open.
type TransportGenerator func(ctx context.Context, url string, settings *ClientSettings) (Transport, error)

// WsTransport is a `Transport` over a gorilla websocket.
// Writes go through one writer goroutine that also sends pings.
type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws       *websocket.Conn
	settings *ClientSettings

	send chan string
}

func NewWsTransport(ctx context.Context, url string, settings *ClientSettings) (Transport, error) {
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, settings.Auth.Header())
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		settings: settings,
		send:     make(chan string, TransportBufferSize),
	}
	go transport.write()
	return transport, nil
}

func (self *WsTransport) write() {
	defer self.ws.Close()
	defer self.cancel()

	writeText := func(text string) error {
		self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return self.ws.WriteMessage(websocket.TextMessage, []byte(text))
	}

	for {
		select {
		case <-self.ctx.Done():
			// frames queued before the close still go out
		drain:
			for {
				select {
				case text := <-self.send:
					if err := writeText(text); err != nil {
						return
					}
				default:
					break drain
				}
			}
			deadline := time.Now().Add(self.settings.WriteTimeout)
			self.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				deadline,
			)
			return
		case text := <-self.send:
			if err := writeText(text); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				glog.V(1).Infof("[ts]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[ts]->\n")
		case <-time.After(self.settings.PingTimeout):
			deadline := time.Now().Add(self.settings.WriteTimeout)
			if err := self.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				glog.V(1).Infof("[ts]ping error = %s\n", err)
				return
			}
		}
	}
}

func (self *WsTransport) Receive(onMessage func(text string)) {
	defer self.Close()

	extendDeadline := func() {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	}
	self.ws.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		extendDeadline()
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[tr]<- error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			glog.V(2).Infof("[tr]<-\n")
			onMessage(string(message))
		default:
			glog.V(2).Infof("[tr]other=%d<-\n", messageType)
		}
	}
}

func (self *WsTransport) Send(text string) error {
	select {
	case <-self.ctx.Done():
		return ErrTransportClosed
	default:
	}

	select {
	case <-self.ctx.Done():
		return ErrTransportClosed
	case self.send <- text:
		return nil
	case <-time.After(self.settings.WriteTimeout):
		return context.DeadlineExceeded
	}
}

// Close stops the transport. Frames already accepted by `Send` are written first.
func (self *WsTransport) Close() {
	self.cancel()
}
