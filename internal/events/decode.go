package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEventType marks an event type tag this build does not understand.
// Unknown tags are expected during rolling upgrades and are skipped, never
// treated as stream failures.
var ErrUnknownEventType = errors.New("unknown event type")

// Decode deserializes an outbox payload into its typed message. Unknown JSON
// fields are ignored so payloads can evolve additively.
func Decode(eventType string, payload []byte) (Message, error) {
	switch eventType {
	case TypeDocumentCreated:
		var msg DocumentCreated
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return msg, nil

	case TypeDocumentUpdated:
		var msg DocumentUpdated
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return msg, nil

	case TypeDocumentDeleted:
		var msg DocumentDeleted
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}
