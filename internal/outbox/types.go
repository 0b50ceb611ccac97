package outbox

import (
	"encoding/json"
	"time"

	"github.com/jackc/pglogrepl"
)

// OutboxEvent represents one committed row of the outbox table. Rows are
// append-only; the ID comes from the writer's sequence and is used for log
// correlation only. Ordering is given by the WAL position.
type OutboxEvent struct {
	ID             int64           `json:"id"`
	CorrelationID1 string          `json:"correlation_id_1,omitempty"`
	CorrelationID2 string          `json:"correlation_id_2,omitempty"`
	CorrelationID3 string          `json:"correlation_id_3,omitempty"`
	CorrelationID4 string          `json:"correlation_id_4,omitempty"`
	EventType      string          `json:"event_type"`
	EventSource    string          `json:"event_source"`
	EventTime      time.Time       `json:"event_time"`
	Payload        json.RawMessage `json:"payload"`
	LastEditedBy   int             `json:"last_edited_by"`

	// LSN is the WAL end position of the insert that produced this event.
	LSN pglogrepl.LSN `json:"-"`
}
