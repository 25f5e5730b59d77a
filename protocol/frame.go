package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidFrame = errors.New("Invalid frame.")

// Frame is one inbound text frame. `Command` is nil for plain messages.
type Frame struct {
	Raw     json.RawMessage
	Command *Envelope
}

func (self *Frame) IsCommand() bool {
	return self.Command != nil
}

// EncodeFrame json encodes `message` and escapes it for the wire.
func EncodeFrame(message any) (string, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return "", err
	}
	return Escape(string(b)), nil
}

// EncodeCommand is `EncodeFrame` with the `command: true` marker added.
// `command` must encode to a json object.
func EncodeCommand(command any) (string, error) {
	b, err := MarshalCommand(command)
	if err != nil {
		return "", err
	}
	return Escape(string(b)), nil
}

func MarshalCommand(command any) ([]byte, error) {
	b, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("Command must be an object: %w", err)
	}
	if fields == nil {
		return nil, errors.New("Command must be an object.")
	}
	fields["command"] = json.RawMessage("true")
	return json.Marshal(fields)
}

// ParseFrame decodes an inbound text frame.
// Any escaping or json error returns `ErrInvalidFrame`.
func ParseFrame(text string) (frame *Frame, returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			frame = nil
			returnErr = ErrInvalidFrame
		}
	}()

	decoded, err := Unescape(text)
	if err != nil {
		return nil, ErrInvalidFrame
	}
	raw := json.RawMessage(decoded)
	if !json.Valid(raw) {
		return nil, ErrInvalidFrame
	}

	var marker struct {
		Command bool `json:"command"`
	}
	if err := json.Unmarshal(raw, &marker); err != nil || !marker.Command {
		// not an object, or no command marker
		return &Frame{Raw: raw}, nil
	}

	envelope := &Envelope{}
	if err := json.Unmarshal(raw, envelope); err != nil {
		return nil, ErrInvalidFrame
	}
	return &Frame{
		Raw:     raw,
		Command: envelope,
	}, nil
}

const upperHex = "0123456789ABCDEF"

// Escape percent-escapes every byte except `A-Za-z0-9-_.!~*'()`,
// the same set javascript's `encodeURIComponent` leaves alone.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i += 1 {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
		}
	}
	return b.String()
}

// Unescape reverses `Escape`. `+` is not treated as a space.
func Unescape(s string) (string, error) {
	return url.PathUnescape(s)
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
