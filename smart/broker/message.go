package broker

import (
	"context"
	"maps"
)

const (
	KeyMessageID           = "messageId"
	KeyResponseToMessageID = "responseToMessageId"
	KeyMessageType         = "messageType"
	KeyPayload             = "payload"
)

// Message is a SMART app request or response as exchanged with the app over postMessage.
type Message map[string]any

func (m Message) MessageID() string {
	return m.stringValue(KeyMessageID)
}

func (m Message) ResponseToMessageID() string {
	return m.stringValue(KeyResponseToMessageID)
}

func (m Message) MessageType() string {
	return m.stringValue(KeyMessageType)
}

// Payload returns the payload of the message, or nil if it has none (or it isn't a JSON object).
func (m Message) Payload() map[string]any {
	switch payload := m[KeyPayload].(type) {
	case map[string]any:
		return payload
	case Message:
		return payload
	default:
		return nil
	}
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	return maps.Clone(m)
}

func (m Message) stringValue(key string) string {
	value, _ := m[key].(string)
	return value
}

// Recipient receives the responses to the requests it sent, typically a SMART app container.
type Recipient interface {
	ID() string
	// IsDead reports whether the recipient has been destroyed, in which case responses are discarded.
	IsDead() bool
	FireEventToClient(ctx context.Context, event string, data Message)
}
