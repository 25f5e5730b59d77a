package protocol

import (
	"encoding/json"
	"errors"
)

// command types on the wire
const (
	TypeGetSocketId    = "getSocketId"
	TypeReportSocketId = "reportSocketId"
	TypeSetSocketId    = "setSocketId"
	TypeEvent          = "event"
	TypeSync           = "sync"
	TypeRmi            = "rmi"
	TypeRmiResult      = "rmi-result"
)

// rmi-result error values
const (
	ErrorUndefined     = "undefined"
	ErrorFunctionError = "function error"
)

type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeGroup  Scope = "GROUP"
	ScopeClient Scope = "CLIENT"
)

func (self Scope) Valid() bool {
	switch self {
	case ScopeGlobal, ScopeGroup, ScopeClient:
		return true
	default:
		return false
	}
}

// only the peer authors global and group objects
func (self Scope) ReadOnly() bool {
	return self != ScopeClient
}

// Envelope is the decoded form of any inbound command.
// Fields not used by `Type` are zero.
type Envelope struct {
	Command bool   `json:"command"`
	Type    string `json:"type"`

	SocketId *string `json:"socketId"`

	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`

	Scope  Scope                      `json:"scope"`
	Name   string                     `json:"name"`
	Group  string                     `json:"group"`
	Key    string                     `json:"key"`
	Value  json.RawMessage            `json:"value"`
	Values map[string]json.RawMessage `json:"values"`

	// RawId is the id as sent. Any json value is accepted.
	RawId   json.RawMessage `json:"id"`
	RawArgs json.RawMessage `json:"args"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`

	// Id is the string form of `RawId`. String ids are unquoted.
	Id      string            `json:"-"`
	// Args is empty when args is missing or not an array. See `ArgsError`.
	Args    []json.RawMessage `json:"-"`
	argsErr error
}

var ErrArgsNotArray = errors.New("Args are not an array.")

func (self *Envelope) UnmarshalJSON(b []byte) error {
	type envelope Envelope
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return err
	}
	*self = Envelope(e)

	self.Id = idString(self.RawId)
	self.Args = nil
	self.argsErr = nil
	if IsPresent(self.RawArgs) {
		if err := json.Unmarshal(self.RawArgs, &self.Args); err != nil {
			self.Args = nil
			self.argsErr = ErrArgsNotArray
		}
	}
	return nil
}

// ArgsError is set when an rmi carries args that are not an array.
func (self *Envelope) ArgsError() error {
	return self.argsErr
}

// ReplyId is the id to echo back in an rmi-result. A missing id is null.
func (self *Envelope) ReplyId() json.RawMessage {
	if !IsPresent(self.RawId) {
		return nil
	}
	return self.RawId
}

func idString(raw json.RawMessage) string {
	if !IsPresent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// HasError is true when the rmi-result error field is present and not null.
func (self *Envelope) HasError() bool {
	return IsPresent(self.Error)
}

// ErrorMessage renders the error field as text. String errors are unquoted.
func (self *Envelope) ErrorMessage() string {
	if !self.HasError() {
		return ""
	}
	var message string
	if err := json.Unmarshal(self.Error, &message); err == nil {
		return message
	}
	return string(self.Error)
}

func IsPresent(raw json.RawMessage) bool {
	return 0 < len(raw) && string(raw) != "null"
}

// outbound commands. `EncodeCommand` adds the `command: true` marker.

type ReportSocketId struct {
	Type     string  `json:"type"`
	SocketId *string `json:"socketId"`
}

func NewReportSocketId(socketId *string) *ReportSocketId {
	return &ReportSocketId{
		Type:     TypeReportSocketId,
		SocketId: socketId,
	}
}

type SetSocketId struct {
	Type     string `json:"type"`
	SocketId string `json:"socketId"`
}

func NewSetSocketId(socketId string) *SetSocketId {
	return &SetSocketId{
		Type:     TypeSetSocketId,
		SocketId: socketId,
	}
}

type GetSocketId struct {
	Type string `json:"type"`
}

func NewGetSocketId() *GetSocketId {
	return &GetSocketId{
		Type: TypeGetSocketId,
	}
}

type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func NewEvent(event string, data any) *Event {
	return &Event{
		Type:  TypeEvent,
		Event: event,
		Data:  data,
	}
}

// SyncWrite carries a single changed key of a client object.
type SyncWrite struct {
	Type  string `json:"type"`
	Scope Scope  `json:"scope"`
	Name  string `json:"name"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func NewSyncWrite(name string, key string, value any) *SyncWrite {
	return &SyncWrite{
		Type:  TypeSync,
		Scope: ScopeClient,
		Name:  name,
		Key:   key,
		Value: value,
	}
}

// Sync carries a batch of changed keys. This is the form the peer sends.
type Sync struct {
	Type   string         `json:"type"`
	Scope  Scope          `json:"scope"`
	Name   string         `json:"name"`
	Group  string         `json:"group,omitempty"`
	Values map[string]any `json:"values"`
}

func NewSync(scope Scope, group string, name string, values map[string]any) *Sync {
	return &Sync{
		Type:   TypeSync,
		Scope:  scope,
		Name:   name,
		Group:  group,
		Values: values,
	}
}

type Rmi struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Args []any  `json:"args"`
	Id   string `json:"id"`
}

func NewRmi(name string, args []any, id string) *Rmi {
	if args == nil {
		args = []any{}
	}
	return &Rmi{
		Type: TypeRmi,
		Name: name,
		Args: args,
		Id:   id,
	}
}

// RmiResult.Id is a string or the `json.RawMessage` id of the call.
type RmiResult struct {
	Type   string  `json:"type"`
	Id     any     `json:"id"`
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

func NewRmiResult(id any, result any) *RmiResult {
	return &RmiResult{
		Type:   TypeRmiResult,
		Id:     id,
		Result: result,
	}
}

func NewRmiError(id any, message string) *RmiResult {
	return &RmiResult{
		Type:  TypeRmiResult,
		Id:    id,
		Error: &message,
	}
}
