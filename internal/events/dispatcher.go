package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/outbox"
)

// DocumentHandler receives the document lifecycle events. Handlers must be
// idempotent: the stream redelivers events after a crash.
type DocumentHandler interface {
	OnDocumentCreated(ctx context.Context, documentID int) error
	OnDocumentUpdated(ctx context.Context, documentID int) error
	OnDocumentDeleted(ctx context.Context, documentID int) error
}

// Dispatcher routes outbox events to exactly one handler by payload type.
type Dispatcher struct {
	handler DocumentHandler
}

func NewDispatcher(handler DocumentHandler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch decodes the event payload and runs the matching handler. Unknown
// event types are skipped with a warning; a malformed payload of a known type
// is skipped too, since redelivering it can never succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, event outbox.OutboxEvent) (outbox.Outcome, error) {
	msg, err := Decode(event.EventType, event.Payload)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			log.Warn().
				Int64("event_id", event.ID).
				Str("event_type", event.EventType).
				Msg("skipping event of unknown type")
			return outbox.Skipped, nil
		}
		log.Warn().
			Err(err).
			Int64("event_id", event.ID).
			Str("event_type", event.EventType).
			Msg("skipping event with undecodable payload")
		return outbox.Skipped, nil
	}

	switch m := msg.(type) {
	case DocumentCreated:
		return outbox.Handled, d.handler.OnDocumentCreated(ctx, m.DocumentID)
	case DocumentUpdated:
		return outbox.Handled, d.handler.OnDocumentUpdated(ctx, m.DocumentID)
	case DocumentDeleted:
		return outbox.Handled, d.handler.OnDocumentDeleted(ctx, m.DocumentID)
	default:
		// A variant was added to the union without a handler arm.
		log.Info().
			Int64("event_id", event.ID).
			Str("event_type", fmt.Sprintf("%T", m)).
			Msg("no handler for message type, skipping")
		return outbox.Skipped, nil
	}
}
