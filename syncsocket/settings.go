package syncsocket

import (
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

type ClientSettings struct {
	// connect when the client is created
	AutoConnect bool
	// reconnect after a close that was not requested with `Disconnect`
	AutoReconnect    bool
	ReconnectTimeout time.Duration
	// log every command envelope in and out at Info
	Debug bool

	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingTimeout        time.Duration

	// 0 means an outbound call waits for its result forever
	CallTimeout time.Duration

	Auth *ClientAuth

	// when nil, `NewWsTransport` is used
	TransportGenerator TransportGenerator

	// spans for remote calls and local invocations. When nil, the global otel provider is used.
	TracerProvider oteltrace.TracerProvider
}

func DefaultClientSettings() *ClientSettings {
	pingTimeout := 5 * time.Second
	return &ClientSettings{
		AutoConnect:        true,
		AutoReconnect:      true,
		ReconnectTimeout:   5 * time.Second,
		Debug:              false,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        3 * pingTimeout,
		PingTimeout:        pingTimeout,
		CallTimeout:        0,
	}
}
