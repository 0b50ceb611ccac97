package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// InsertOutboxEventParams describes one domain fact to append.
type InsertOutboxEventParams struct {
	CorrelationID1 string
	CorrelationID2 string
	CorrelationID3 string
	CorrelationID4 string
	EventType      string
	EventSource    string
	EventTime      time.Time
	Payload        json.RawMessage
	LastEditedBy   int
}

// Repository is the writer side of the outbox contract. Rows are appended
// inside the caller's business transaction and never mutated afterwards; the
// subscriber is the only reader.
type Repository struct {
	builder squirrel.StatementBuilderType
	table   string
}

func NewRepository(schema, table string) *Repository {
	return &Repository{
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		table:   fmt.Sprintf("%s.%s", schema, table),
	}
}

// InsertOutboxEvent appends one outbox row in tx and returns the assigned id.
// An empty first correlation id is filled with a fresh uuid so every fact is
// traceable.
func (r *Repository) InsertOutboxEvent(ctx context.Context, tx *sql.Tx, params InsertOutboxEventParams) (int64, error) {
	if len(params.Payload) == 0 {
		return 0, fmt.Errorf("event payload cannot be empty")
	}
	if params.EventType == "" {
		return 0, fmt.Errorf("event type cannot be empty")
	}

	correlationID1 := params.CorrelationID1
	if correlationID1 == "" {
		correlationID1 = uuid.NewString()
	}

	eventTime := params.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	query, args, err := r.builder.
		Insert(r.table).
		Columns(
			"correlation_id_1",
			"correlation_id_2",
			"correlation_id_3",
			"correlation_id_4",
			"event_type",
			"event_source",
			"event_time",
			"payload",
			"last_edited_by",
		).
		Values(
			correlationID1,
			nullable(params.CorrelationID2),
			nullable(params.CorrelationID3),
			nullable(params.CorrelationID4),
			params.EventType,
			params.EventSource,
			eventTime,
			[]byte(params.Payload),
			params.LastEditedBy,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox insert: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert outbox event: %w", err)
	}

	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
