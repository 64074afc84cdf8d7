package simplesocket

import "sync"

// State is the caller-defined application state, a JSON object. It is
// nil until the server (or client) performs a full replace.
type State map[string]any

// Clone returns a shallow copy. Nested values are shared.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// StateValidator gates candidate states before they are applied or sent.
type StateValidator interface {
	Validate(state State) bool
}

// ValidatorFunc adapts a plain function to StateValidator.
type ValidatorFunc func(State) bool

func (f ValidatorFunc) Validate(state State) bool { return f(state) }

// ErrorHandler receives every SocketError recorded by the client.
type ErrorHandler interface {
	HandleError(err *SocketError)
}

// ErrorHandlerFunc adapts a plain function to ErrorHandler.
type ErrorHandlerFunc func(*SocketError)

func (f ErrorHandlerFunc) HandleError(err *SocketError) { f(err) }

// stateStore applies server-pushed state changes. Validation always runs
// against the resulting candidate; a rejected candidate leaves the prior
// state untouched and yields a validation error instead.
type stateStore struct {
	mu        sync.Mutex
	state     State
	validator StateValidator
	onChange  func(State)
}

func newStateStore(validator StateValidator) *stateStore {
	return &stateStore{validator: validator}
}

// replace sets the state unconditionally, subject to validation.
func (s *stateStore) replace(next State) *SocketError {
	s.mu.Lock()
	if s.validator != nil && !s.validator.Validate(next) {
		s.mu.Unlock()
		return s.rejected(next)
	}
	s.state = next
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// merge shallow-merges a partial into the existing state. A merge before
// any full update is a no-op: the state stays nil.
func (s *stateStore) merge(patch State) *SocketError {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return nil
	}
	candidate := s.state.Clone()
	for k, v := range patch {
		candidate[k] = v
	}
	if s.validator != nil && !s.validator.Validate(candidate) {
		s.mu.Unlock()
		return s.rejected(patch)
	}
	s.state = candidate
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// snapshot returns a shallow copy of the current state, nil before the
// first full update.
func (s *stateStore) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *stateStore) rejected(payload State) *SocketError {
	err := NewError(ErrorValidation, "state update rejected by validator")
	err.Details = payload
	return err
}

func (s *stateStore) notify(snap State) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
