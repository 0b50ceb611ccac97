package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
)

// columnValue carries both the decoded value and the raw text form of one
// replicated column. The raw form is kept so JSON payloads survive decoding
// byte for byte.
type columnValue struct {
	raw  []byte
	val  any
	null bool
}

func (s *Subscriber) decodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) (map[string]columnValue, error) {
	if tuple == nil {
		return nil, fmt.Errorf("insert without row image")
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return nil, fmt.Errorf("row has %d columns, relation %s.%s has %d",
			len(tuple.Columns), rel.Namespace, rel.RelationName, len(rel.Columns))
	}

	values := make(map[string]columnValue, len(rel.Columns))
	for i, col := range tuple.Columns {
		name := rel.Columns[i].Name

		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[name] = columnValue{null: true}
		case pglogrepl.TupleDataTypeToast:
			// Unchanged TOAST values never appear on inserts.
			return nil, fmt.Errorf("column %q: unexpected unchanged toast value", name)
		case pglogrepl.TupleDataTypeText:
			val, err := s.decodeColumn(col.Data, rel.Columns[i].DataType)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			values[name] = columnValue{raw: col.Data, val: val}
		default:
			return nil, fmt.Errorf("column %q: unsupported tuple data type %q", name, col.DataType)
		}
	}

	return values, nil
}

func (s *Subscriber) decodeColumn(data []byte, dataType uint32) (any, error) {
	if dt, ok := s.typeMap.TypeForOID(dataType); ok {
		return dt.Codec.DecodeValue(s.typeMap, dataType, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}

// buildOutboxEvent materializes an OutboxEvent from a decoded row image. The
// required columns are type-checked strictly: a missing or mistyped column
// means the outbox table no longer matches this build and is reported as a
// stream-level error.
func buildOutboxEvent(values map[string]columnValue) (OutboxEvent, error) {
	id, err := requireInt64(values, "id")
	if err != nil {
		return OutboxEvent{}, err
	}
	eventType, err := requireString(values, "event_type")
	if err != nil {
		return OutboxEvent{}, err
	}
	eventSource, err := requireString(values, "event_source")
	if err != nil {
		return OutboxEvent{}, err
	}
	eventTime, err := requireTime(values, "event_time")
	if err != nil {
		return OutboxEvent{}, err
	}
	payload, err := requireJSON(values, "payload")
	if err != nil {
		return OutboxEvent{}, err
	}
	lastEditedBy, err := requireInt64(values, "last_edited_by")
	if err != nil {
		return OutboxEvent{}, err
	}

	return OutboxEvent{
		ID:             id,
		CorrelationID1: optionalString(values, "correlation_id_1"),
		CorrelationID2: optionalString(values, "correlation_id_2"),
		CorrelationID3: optionalString(values, "correlation_id_3"),
		CorrelationID4: optionalString(values, "correlation_id_4"),
		EventType:      eventType,
		EventSource:    eventSource,
		EventTime:      eventTime,
		Payload:        payload,
		LastEditedBy:   int(lastEditedBy),
	}, nil
}

func requireColumn(values map[string]columnValue, name string) (columnValue, error) {
	cv, ok := values[name]
	if !ok {
		return columnValue{}, fmt.Errorf("required outbox column %q is missing", name)
	}
	if cv.null {
		return columnValue{}, fmt.Errorf("required outbox column %q is null", name)
	}
	return cv, nil
}

func requireInt64(values map[string]columnValue, name string) (int64, error) {
	cv, err := requireColumn(values, name)
	if err != nil {
		return 0, err
	}
	switch v := cv.val.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("outbox column %q: expected integer, got %T", name, cv.val)
	}
}

func requireString(values map[string]columnValue, name string) (string, error) {
	cv, err := requireColumn(values, name)
	if err != nil {
		return "", err
	}
	v, ok := cv.val.(string)
	if !ok {
		return "", fmt.Errorf("outbox column %q: expected string, got %T", name, cv.val)
	}
	return v, nil
}

func requireTime(values map[string]columnValue, name string) (time.Time, error) {
	cv, err := requireColumn(values, name)
	if err != nil {
		return time.Time{}, err
	}
	v, ok := cv.val.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("outbox column %q: expected timestamp, got %T", name, cv.val)
	}
	return v.UTC(), nil
}

func requireJSON(values map[string]columnValue, name string) (json.RawMessage, error) {
	cv, err := requireColumn(values, name)
	if err != nil {
		return nil, err
	}
	if !json.Valid(cv.raw) {
		return nil, fmt.Errorf("outbox column %q: not a valid JSON document", name)
	}
	raw := make(json.RawMessage, len(cv.raw))
	copy(raw, cv.raw)
	return raw, nil
}

func optionalString(values map[string]columnValue, name string) string {
	cv, ok := values[name]
	if !ok || cv.null {
		return ""
	}
	if v, ok := cv.val.(string); ok {
		return v
	}
	return ""
}
