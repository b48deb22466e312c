// Package session models the broker session lifecycle as an explicit state
// machine, together with the reconnect backoff policy and server selection.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is a broker session state.
type State int

// Session states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is an asynchronous protocol or control event.
type Event int

// Session events.
const (
	EventConnect Event = iota
	EventConnectionOpened
	EventChannelOpened
	EventExchangeDeclared
	EventQueueDeclared
	EventQueueBound
	EventConsumeStarted
	EventConnectFailed
	EventConnectionLost
	EventConsumerCancelled
	EventStop
	EventClosed
)

var eventNames = map[Event]string{
	EventConnect:           "connect",
	EventConnectionOpened:  "connection_opened",
	EventChannelOpened:     "channel_opened",
	EventExchangeDeclared:  "exchange_declared",
	EventQueueDeclared:     "queue_declared",
	EventQueueBound:        "queue_bound",
	EventConsumeStarted:    "consume_started",
	EventConnectFailed:     "connect_failed",
	EventConnectionLost:    "connection_lost",
	EventConsumerCancelled: "consumer_cancelled",
	EventStop:              "stop",
	EventClosed:            "closed",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrInvalidTransition is returned when an event is not accepted in the
// current state.
var ErrInvalidTransition = errors.New("invalid session transition")

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{Disconnected, EventConnect}: Connecting,
	{Disconnected, EventStop}:    Closing,

	{Connecting, EventConnectionOpened}: Connecting,
	{Connecting, EventChannelOpened}:    Connecting,
	{Connecting, EventExchangeDeclared}: Connecting,
	{Connecting, EventQueueDeclared}:    Connecting,
	{Connecting, EventQueueBound}:       Connecting,
	{Connecting, EventConsumeStarted}:   Connected,
	{Connecting, EventConnectFailed}:    Disconnected,
	{Connecting, EventConnectionLost}:   Disconnected,
	{Connecting, EventStop}:             Closing,

	{Connected, EventConnectionLost}:    Disconnected,
	{Connected, EventConsumerCancelled}: Disconnected,
	{Connected, EventStop}:              Closing,

	{Closing, EventConnectionLost}:    Closing,
	{Closing, EventConsumerCancelled}: Closing,
	{Closing, EventConnectFailed}:     Closing,
	{Closing, EventStop}:              Closing,
	{Closing, EventClosed}:            Disconnected,
}

// Transition describes one applied state change.
type Transition struct {
	From  State
	To    State
	Event Event
}

// Observer is notified after every applied transition.
type Observer func(Transition)

// Machine is the broker session state machine. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	stopped   bool
	observers []Observer
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(observers ...Observer) *Machine {
	return &Machine{state: Disconnected, observers: observers}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stopped reports whether a stop was requested.
func (m *Machine) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// ShouldReconnect reports whether the session is down unexpectedly and a
// reconnect must be scheduled. It is false once Stop has been fired.
func (m *Machine) ShouldReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Disconnected && !m.stopped
}

// Fire applies an event and returns the resulting state.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, from)
	}
	if from == Disconnected && event == EventConnect && m.stopped {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: connect after stop", ErrInvalidTransition)
	}
	if event == EventStop {
		m.stopped = true
	}
	m.state = to
	observers := m.observers
	m.mu.Unlock()

	tr := Transition{From: from, To: to, Event: event}
	for _, observe := range observers {
		observe(tr)
	}
	return to, nil
}
