package api

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func init() {
	gob.Register(Event{})
	gob.Register(TicketCreated{})
	gob.Register(UserSignup{})
	gob.Register(UnknownEvent{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Event names understood by the engine.
const (
	EventTicketCreated = "ticket/created"
	EventUserSignup    = "user/signup"
)

// Payload is the tagged union of event bodies. Each known event kind has
// its own struct; anything else decodes to UnknownEvent.
type Payload interface {
	EventName() string
	Validate() error
}

// Event is a published domain event. Events are immutable once published
// and are not required to be unique.
type Event struct {
	ID         string
	Name       string
	Payload    Payload
	OccurredAt time.Time
}

// NewEvent wraps payload in an Event named after it.
func NewEvent(p Payload) Event {
	return Event{Name: p.EventName(), Payload: p}
}

// Validate checks the envelope and the payload.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: event name is required", ErrInvalidEvent)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: %s: payload is required", ErrInvalidEvent, e.Name)
	}
	if got := e.Payload.EventName(); got != e.Name {
		return fmt.Errorf("%w: payload for %q carried under name %q", ErrInvalidEvent, got, e.Name)
	}
	return e.Payload.Validate()
}

// TicketCreated is published after a ticket is stored.
type TicketCreated struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

func (TicketCreated) EventName() string { return EventTicketCreated }

func (p TicketCreated) Validate() error {
	return requireFields(EventTicketCreated,
		"ticketId", p.TicketID,
		"title", p.Title,
		"description", p.Description,
		"createdBy", p.CreatedBy,
	)
}

// UserSignup is published after an account is created.
type UserSignup struct {
	Email string `json:"email"`
}

func (UserSignup) EventName() string { return EventUserSignup }

func (p UserSignup) Validate() error {
	if err := requireFields(EventUserSignup, "email", p.Email); err != nil {
		return err
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: %s: malformed email %q", ErrInvalidEvent, EventUserSignup, p.Email)
	}
	return nil
}

// UnknownEvent carries events the engine has no schema for. They are
// accepted and delivered to any workflow subscribed to Name. Names with a
// schema of their own are rejected.
type UnknownEvent struct {
	Name string
	Data map[string]any
}

func (u UnknownEvent) EventName() string { return u.Name }

func (u UnknownEvent) Validate() error {
	switch u.Name {
	case EventTicketCreated, EventUserSignup:
		return fmt.Errorf("%w: %s: untyped payload for a known event", ErrInvalidEvent, u.Name)
	}
	return nil
}

// DecodePayload builds the payload for name from its JSON body.
// Unknown names decode into UnknownEvent.
func DecodePayload(name string, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	switch name {
	case EventTicketCreated:
		var p TicketCreated
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, name, err)
		}
		return p, nil
	case EventUserSignup:
		var p UserSignup
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, name, err)
		}
		return p, nil
	default:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, name, err)
		}
		return UnknownEvent{Name: name, Data: m}, nil
	}
}

// requireFields takes (field, value) pairs.
func requireFields(event string, kv ...string) error {
	var missing []string
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			missing = append(missing, kv[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing %s", ErrInvalidEvent, event, strings.Join(missing, ", "))
	}
	return nil
}
