package syncsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"

	"github.com/bringyour/syncsocket/protocol"
)

var ErrTimeout = errors.New("Call timed out.")

const TracerName = "github.com/bringyour/syncsocket"

// RemoteError is an error result sent by the peer.
type RemoteError struct {
	Message string
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("Remote error: %s", self.Message)
}

// Undefined is true when the peer has no function with the called name.
func (self *RemoteError) Undefined() bool {
	return self.Message == protocol.ErrorUndefined
}

// Function is a local function the peer may call. Its result must be json encodable.
type Function func(args []json.RawMessage) (any, error)

// AsyncFunction returns a future that the client waits on before replying.
type AsyncFunction func(args []json.RawMessage) *Future[any]

// FunctionRegistry holds the functions the peer may call by name.
// Functions may be registered at any time, also while online.
type FunctionRegistry struct {
	mutex     sync.Mutex
	functions map[string]AsyncFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: map[string]AsyncFunction{},
	}
}

func (self *FunctionRegistry) Register(name string, function Function) {
	self.RegisterAsync(name, func(args []json.RawMessage) *Future[any] {
		result, err := function(args)
		if err != nil {
			return RejectedFuture[any](err)
		}
		return ResolvedFuture(result)
	})
}

func (self *FunctionRegistry) RegisterAsync(name string, function AsyncFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.functions[name] = function
}

func (self *FunctionRegistry) Unregister(name string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.functions, name)
}

func (self *FunctionRegistry) Has(name string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	_, ok := self.functions[name]
	return ok
}

func (self *FunctionRegistry) Names() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	names := make([]string, 0, len(self.functions))
	for name := range self.functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke calls the local function `name`. ok is false if there is no such function.
// A panic in the function rejects the returned future.
func (self *FunctionRegistry) Invoke(name string, args []json.RawMessage) (future *Future[any], ok bool) {
	self.mutex.Lock()
	function, ok := self.functions[name]
	self.mutex.Unlock()
	if !ok {
		return nil, false
	}

	HandleError(func() {
		future = function(args)
	}, func(err error) {
		future = RejectedFuture[any](err)
	})
	if future == nil {
		future = ResolvedFuture[any](nil)
	}
	return future, true
}

func (self *Client) Functions() *FunctionRegistry {
	return self.functions
}

// handleRmi sends exactly one rmi-result per invocation.
// The reply echoes the id as sent, whatever its json type.
func (self *Client) handleRmi(envelope *protocol.Envelope) {
	id := envelope.ReplyId()
	_, span := self.tracer.Start(self.ctx, "Functions.Invoke", oteltrace.WithAttributes(
		attribute.String("rmi.name", envelope.Name),
		attribute.String("rmi.id", envelope.Id),
	))

	undefined := func() {
		glog.V(1).Infof("[cr]%s rmi %q undefined\n", self.clientTag, envelope.Name)
		span.SetStatus(codes.Error, protocol.ErrorUndefined)
		span.End()
		self.SendCommand(protocol.NewRmiError(id, protocol.ErrorUndefined))
	}
	reject := func(err error) {
		glog.V(1).Infof("[cr]%s rmi %q error = %s\n", self.clientTag, envelope.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, protocol.ErrorFunctionError)
		span.End()
		self.SendCommand(protocol.NewRmiError(id, protocol.ErrorFunctionError))
	}

	if !self.functions.Has(envelope.Name) {
		undefined()
		return
	}
	if err := envelope.ArgsError(); err != nil {
		reject(err)
		return
	}
	future, ok := self.functions.Invoke(envelope.Name, envelope.Args)
	if !ok {
		// unregistered since the check
		undefined()
		return
	}
	future.Then(func(result any) {
		b, err := json.Marshal(result)
		if err != nil {
			reject(err)
			return
		}
		span.End()
		self.SendCommand(protocol.NewRmiResult(id, json.RawMessage(b)))
	}, reject)
}

// Remote calls functions on the peer.
type Remote struct {
	client *Client

	mutex   sync.Mutex
	pending map[string]*Future[json.RawMessage]
}

func newRemote(client *Client) *Remote {
	return &Remote{
		client:  client,
		pending: map[string]*Future[json.RawMessage]{},
	}
}

func (self *Client) Remote() *Remote {
	return self.remote
}

// Call sends an rmi for `name` and returns a future for its result.
// If the command cannot be sent the future is rejected with `ErrNotOnline`.
// With no `CallTimeout` the future waits for a result forever.
func (self *Remote) Call(name string, args ...any) *Future[json.RawMessage] {
	id := NewCorrelationId()
	future := NewFuture[json.RawMessage]()

	_, span := self.client.tracer.Start(self.client.ctx, "Remote.Call", oteltrace.WithAttributes(
		attribute.String("rmi.name", name),
		attribute.String("rmi.id", id),
	))

	future.Then(func(json.RawMessage) {
		span.End()
	}, func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	})

	self.mutex.Lock()
	self.pending[id] = future
	self.mutex.Unlock()

	if !self.client.SendCommand(protocol.NewRmi(name, args, id)) {
		self.remove(id)
		future.Reject(ErrNotOnline)
		return future
	}

	if timeout := self.client.settings.CallTimeout; 0 < timeout {
		timer := time.AfterFunc(timeout, func() {
			if self.remove(id) {
				glog.Infof("[c]%s rmi %q %s timed out\n", self.client.clientTag, name, id)
				future.Reject(ErrTimeout)
			}
		})
		future.Then(func(json.RawMessage) {
			timer.Stop()
		}, func(error) {
			timer.Stop()
		})
	}
	return future
}

// Func returns a callable for the remote function `name`.
func (self *Remote) Func(name string) func(args ...any) *Future[json.RawMessage] {
	return func(args ...any) *Future[json.RawMessage] {
		return self.Call(name, args...)
	}
}

// Pending is the number of calls waiting for a result.
func (self *Remote) Pending() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.pending)
}

func (self *Remote) remove(id string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	_, ok := self.pending[id]
	delete(self.pending, id)
	return ok
}

func (self *Remote) handleResult(envelope *protocol.Envelope) {
	self.mutex.Lock()
	future, ok := self.pending[envelope.Id]
	delete(self.pending, envelope.Id)
	self.mutex.Unlock()

	if !ok {
		// consumed already or timed out
		glog.Infof("[cr]%s rmi-result for unknown id %q\n", self.client.clientTag, envelope.Id)
		return
	}

	if envelope.HasError() {
		future.Reject(&RemoteError{
			Message: envelope.ErrorMessage(),
		})
		return
	}
	result := envelope.Result
	if !protocol.IsPresent(result) {
		result = json.RawMessage("null")
	}
	future.Resolve(result)
}

func (self *Remote) rejectAll(err error) {
	self.mutex.Lock()
	pending := self.pending
	self.pending = map[string]*Future[json.RawMessage]{}
	self.mutex.Unlock()

	for _, future := range pending {
		future.Reject(err)
	}
}

// Await waits for a call result and decodes it into `T`.
func Await[T any](ctx context.Context, future *Future[json.RawMessage]) (T, error) {
	var result T
	raw, err := future.Wait(ctx)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, err
	}
	return result, nil
}
