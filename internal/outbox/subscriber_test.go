package outbox

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeRelation renders a RelationMessage in the pgoutput wire format, the
// same bytes the server streams inside XLogData.
func encodeRelation(rel *pglogrepl.RelationMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte('R')
	binary.Write(&buf, binary.BigEndian, rel.RelationID)
	buf.WriteString(rel.Namespace)
	buf.WriteByte(0)
	buf.WriteString(rel.RelationName)
	buf.WriteByte(0)
	buf.WriteByte('d')
	binary.Write(&buf, binary.BigEndian, uint16(len(rel.Columns)))
	for _, col := range rel.Columns {
		buf.WriteByte(col.Flags)
		buf.WriteString(col.Name)
		buf.WriteByte(0)
		binary.Write(&buf, binary.BigEndian, col.DataType)
		binary.Write(&buf, binary.BigEndian, col.TypeModifier)
	}
	return buf.Bytes()
}

func encodeInsert(relationID uint32, columns []*pglogrepl.TupleDataColumn) []byte {
	var buf bytes.Buffer
	buf.WriteByte('I')
	binary.Write(&buf, binary.BigEndian, relationID)
	buf.WriteByte('N')
	binary.Write(&buf, binary.BigEndian, uint16(len(columns)))
	for _, col := range columns {
		buf.WriteByte(col.DataType)
		if col.DataType == pglogrepl.TupleDataTypeText {
			binary.Write(&buf, binary.BigEndian, uint32(len(col.Data)))
			buf.Write(col.Data)
		}
	}
	return buf.Bytes()
}

func documentsRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   2002,
		Namespace:    "public",
		RelationName: "documents",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "id", DataType: pgtype.Int8OID, TypeModifier: -1},
			{Name: "filename", DataType: pgtype.TextOID, TypeModifier: -1},
		},
	}
}

func outboxInsertColumns() []*pglogrepl.TupleDataColumn {
	return []*pglogrepl.TupleDataColumn{
		textCol("17"),
		textCol("DocumentCreated"),
		textCol("documents-api"),
		textCol("2024-05-01 12:00:00+00"),
		textCol(`{"documentId": 42}`),
		textCol("3"),
		nullCol(),
	}
}

// Traffic that never reaches the caller, relation registrations and inserts
// into other tables of the publication, is confirmed immediately.
func TestHandleWALDataConfirmsNonOutboxTraffic(t *testing.T) {
	s := testSubscriber()

	relData := encodeRelation(documentsRelation())
	_, yielded, err := s.handleWALData(pglogrepl.XLogData{WALStart: 100, WALData: relData})
	require.NoError(t, err)
	assert.False(t, yielded)
	assert.Equal(t, pglogrepl.LSN(100+len(relData)), s.ackPos)
	assert.Zero(t, s.pendingAck)

	insData := encodeInsert(2002, []*pglogrepl.TupleDataColumn{textCol("1"), textCol("report.pdf")})
	_, yielded, err = s.handleWALData(pglogrepl.XLogData{WALStart: 300, WALData: insData})
	require.NoError(t, err)
	assert.False(t, yielded)
	assert.Equal(t, pglogrepl.LSN(300+len(insData)), s.ackPos)
	assert.Zero(t, s.pendingAck)
}

// A yielded outbox insert must not move the confirmed position: its end LSN
// only becomes confirmable once the caller asks for the next event.
func TestHandleWALDataHoldsYieldedPosition(t *testing.T) {
	s := testSubscriber()
	s.ackPos = 100

	relData := encodeRelation(outboxRelation())
	_, yielded, err := s.handleWALData(pglogrepl.XLogData{WALStart: 100, WALData: relData})
	require.NoError(t, err)
	require.False(t, yielded)

	insData := encodeInsert(outboxRelation().RelationID, outboxInsertColumns())
	end := pglogrepl.LSN(500 + len(insData))

	event, yielded, err := s.handleWALData(pglogrepl.XLogData{WALStart: 500, WALData: insData})
	require.NoError(t, err)
	require.True(t, yielded)

	assert.Equal(t, end, event.LSN)
	assert.Equal(t, int64(17), event.ID)
	assert.Equal(t, end, s.pendingAck)
	assert.Equal(t, pglogrepl.LSN(100+len(relData)), s.ackPos)

	s.confirmYielded()
	assert.Equal(t, end, s.ackPos)
	assert.Zero(t, s.pendingAck)
}

// An already confirmed position is never walked back by a late fold.
func TestConfirmYieldedNeverRegresses(t *testing.T) {
	s := testSubscriber()
	s.ackPos = 900
	s.pendingAck = 500

	s.confirmYielded()

	assert.Equal(t, pglogrepl.LSN(900), s.ackPos)
	assert.Zero(t, s.pendingAck)
}

func TestHandleWALDataInsertForUnknownRelation(t *testing.T) {
	s := testSubscriber()

	insData := encodeInsert(9999, []*pglogrepl.TupleDataColumn{textCol("1")})
	_, _, err := s.handleWALData(pglogrepl.XLogData{WALStart: 100, WALData: insData})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown relation")
}
