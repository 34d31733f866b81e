package service

import "sync"

// Action is the logical command sent to an action device
type Action string

const (
	ActionToggle  Action = "TOGGLE"
	ActionTurnOn  Action = "TURN_ON"
	ActionTurnOff Action = "TURN_OFF"
)

// DeviceCommand asks the command channel to drive an action device
type DeviceCommand struct {
	Address string
	Action  Action
}

// CommandHandler receives emitted commands. It must not block.
type CommandHandler func(DeviceCommand)

// Emitter hands device commands to at most one subscriber.
// Subscribing replaces the previous subscriber instead of adding another one.
type Emitter struct {
	mu      sync.RWMutex
	current *Subscription
}

// Subscription is the registration of a CommandHandler on an Emitter
type Subscription struct {
	emitter *Emitter
	handler CommandHandler
}

// NewEmitter creates an emitter without subscriber
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers handler as the only subscriber
func (e *Emitter) Subscribe(handler CommandHandler) *Subscription {
	sub := &Subscription{emitter: e, handler: handler}

	e.mu.Lock()
	e.current = sub
	e.mu.Unlock()

	return sub
}

// Emit passes cmd to the current subscriber and reports whether there was one
func (e *Emitter) Emit(cmd DeviceCommand) bool {
	e.mu.RLock()
	sub := e.current
	e.mu.RUnlock()

	if sub == nil {
		return false
	}
	sub.handler(cmd)
	return true
}

// Active reports whether the subscription is still the registered one
func (s *Subscription) Active() bool {
	s.emitter.mu.RLock()
	defer s.emitter.mu.RUnlock()
	return s.emitter.current == s
}

// Cancel unregisters the subscription unless it was already replaced
func (s *Subscription) Cancel() {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()
	if s.emitter.current == s {
		s.emitter.current = nil
	}
}
