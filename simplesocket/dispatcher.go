package simplesocket

import (
	"encoding/json"
	"sync"
)

// EventListener receives the raw payload of a free-form application event.
type EventListener func(data json.RawMessage)

// Dispatcher routes server envelopes to the components that handle them:
// state updates to the store, user events and errors to callbacks, and
// free-form events to the listener registry. The registry is owned by
// the client instance that created the dispatcher.
type Dispatcher struct {
	store *stateStore

	onUserJoined func(UserEvent)
	onUserLeft   func(UserEvent)
	onError      func(*SocketError)

	mu        sync.Mutex
	listeners map[string]map[int]EventListener
	nextID    int
}

func newDispatcher(store *stateStore) *Dispatcher {
	return &Dispatcher{
		store:     store,
		listeners: make(map[string]map[int]EventListener),
	}
}

func (d *Dispatcher) SetOnUserJoined(fn func(UserEvent)) { d.onUserJoined = fn }
func (d *Dispatcher) SetOnUserLeft(fn func(UserEvent))   { d.onUserLeft = fn }
func (d *Dispatcher) SetOnError(fn func(*SocketError))   { d.onError = fn }

// Dispatch routes one server envelope.
func (d *Dispatcher) Dispatch(out Outbound) {
	switch out.Type {
	case outboundStateUpdate:
		var next State
		if err := UnmarshalData(out.Data, &next); err != nil {
			d.fireError(WrapError(ErrorUnknown, "failed to unmarshal state update", err))
			return
		}
		d.fireError(d.store.replace(next))
	case outboundStatePartial:
		var patch State
		if err := UnmarshalData(out.Data, &patch); err != nil {
			d.fireError(WrapError(ErrorUnknown, "failed to unmarshal state patch", err))
			return
		}
		d.fireError(d.store.merge(patch))
	case outboundError:
		d.fireError(FromWireError(out.Error))
	case outboundUserJoined:
		if d.onUserJoined == nil {
			return
		}
		var ev UserEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(ErrorUnknown, "failed to unmarshal user_joined event", err))
			return
		}
		d.onUserJoined(ev)
	case outboundUserLeft:
		if d.onUserLeft == nil {
			return
		}
		var ev UserEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(ErrorUnknown, "failed to unmarshal user_left event", err))
			return
		}
		d.onUserLeft(ev)
	case outboundEvent:
		for _, fn := range d.listenersFor(out.Event) {
			fn(out.Data)
		}
	}
}

// Subscribe registers a listener for a free-form event and returns an
// unsubscribe closure that deregisters exactly that listener. Multiple
// subscriptions to one event are independent.
func (d *Dispatcher) Subscribe(event string, fn EventListener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	if d.listeners[event] == nil {
		d.listeners[event] = make(map[int]EventListener)
	}
	d.listeners[event][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if set, ok := d.listeners[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(d.listeners, event)
			}
		}
	}
}

// RemoveAll deregisters every listener. Called on teardown.
func (d *Dispatcher) RemoveAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[string]map[int]EventListener)
}

func (d *Dispatcher) listenersFor(event string) []EventListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.listeners[event]
	out := make([]EventListener, 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) listenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, set := range d.listeners {
		n += len(set)
	}
	return n
}

func (d *Dispatcher) fireError(err *SocketError) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
