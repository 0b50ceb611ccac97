package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/config"
)

const duplicateObjectCode = "42710"

// EventStream is a restartable, in commit order stream of outbox events.
type EventStream interface {
	Next(ctx context.Context) (OutboxEvent, error)
	Close(ctx context.Context) error
}

// Subscriber attaches to a logical replication slot and turns the pgoutput
// WAL feed into OutboxEvents. A Subscriber is single-use: after Next returns
// a non-timeout error it must be closed and a fresh instance constructed.
type Subscriber struct {
	conn    *pgconn.PgConn
	cfg     config.ReplicationConfig
	typeMap *pgtype.Map

	relations map[uint32]*pglogrepl.RelationMessage

	// ackPos is the highest WAL position that is safe to confirm to the
	// server. pendingAck is the end position of the event most recently
	// yielded by Next; it is folded into ackPos on the following Next call.
	// This ack-after-yield rule is what gives the pipeline at-least-once
	// delivery: a crash between yield and the next call redelivers the
	// in-flight event on restart.
	ackPos     pglogrepl.LSN
	pendingAck pglogrepl.LSN

	nextStatusAt time.Time
}

// NewSubscriber opens a replication connection and starts streaming from the
// slot's last confirmed position. The slot is created if it does not exist.
func NewSubscriber(ctx context.Context, dsn string, cfg config.ReplicationConfig) (*Subscriber, error) {
	conn, err := pgconn.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect for replication: %w", err)
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("identify system: %w", err)
	}

	log.Info().
		Str("system_id", sysident.SystemID).
		Int32("timeline", sysident.Timeline).
		Str("xlog_pos", sysident.XLogPos.String()).
		Str("slot", cfg.SlotName).
		Msg("replication connection established")

	if err := createSlotIfMissing(ctx, conn, cfg.SlotName); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	// Starting at 0/0 lets the server resume from the slot's
	// confirmed_flush_lsn.
	err = pglogrepl.StartReplication(ctx, conn, cfg.SlotName, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", cfg.PublicationName),
		},
	})
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("start replication on slot %s: %w", cfg.SlotName, err)
	}

	return &Subscriber{
		conn:         conn,
		cfg:          cfg,
		typeMap:      pgtype.NewMap(),
		relations:    make(map[uint32]*pglogrepl.RelationMessage),
		nextStatusAt: time.Now().Add(cfg.StatusInterval),
	}, nil
}

func createSlotIfMissing(ctx context.Context, conn *pgconn.PgConn, slot string) error {
	_, err := pglogrepl.CreateReplicationSlot(ctx, conn, slot, "pgoutput", pglogrepl.CreateReplicationSlotOptions{})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateObjectCode {
			return nil
		}
		return fmt.Errorf("create replication slot %s: %w", slot, err)
	}

	log.Info().Str("slot", slot).Msg("created replication slot")
	return nil
}

// Next blocks until the next committed outbox insert arrives. Before reading
// any further WAL it acknowledges the end position of the previously yielded
// event, advancing the slot. Inserts into other tables covered by the same
// publication are skipped silently. A decode failure of a required outbox
// column is a stream-level error (schema drift), not a skippable event.
func (s *Subscriber) Next(ctx context.Context) (OutboxEvent, error) {
	s.confirmYielded()
	if err := s.sendStatus(ctx); err != nil {
		return OutboxEvent{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return OutboxEvent{}, err
		}

		if time.Now().After(s.nextStatusAt) {
			if err := s.sendStatus(ctx); err != nil {
				return OutboxEvent{}, err
			}
		}

		recvCtx, cancel := context.WithDeadline(ctx, s.nextStatusAt)
		rawMsg, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) && ctx.Err() == nil {
				continue
			}
			return OutboxEvent{}, fmt.Errorf("receive replication message: %w", err)
		}

		event, ok, err := s.handleMessage(rawMsg)
		if err != nil {
			return OutboxEvent{}, err
		}
		if ok {
			return event, nil
		}
	}
}

func (s *Subscriber) handleMessage(rawMsg pgproto3.BackendMessage) (OutboxEvent, bool, error) {
	if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
		return OutboxEvent{}, false, fmt.Errorf("replication protocol error: %s (%s)", errMsg.Message, errMsg.Code)
	}

	copyData, ok := rawMsg.(*pgproto3.CopyData)
	if !ok {
		return OutboxEvent{}, false, nil
	}

	switch copyData.Data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
		if err != nil {
			return OutboxEvent{}, false, fmt.Errorf("parse keepalive: %w", err)
		}
		if pkm.ReplyRequested {
			s.nextStatusAt = time.Time{}
		}
		return OutboxEvent{}, false, nil

	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
		if err != nil {
			return OutboxEvent{}, false, fmt.Errorf("parse xlog data: %w", err)
		}
		return s.handleWALData(xld)
	}

	return OutboxEvent{}, false, nil
}

func (s *Subscriber) handleWALData(xld pglogrepl.XLogData) (OutboxEvent, bool, error) {
	endPos := xld.WALStart + pglogrepl.LSN(len(xld.WALData))

	msg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return OutboxEvent{}, false, fmt.Errorf("parse pgoutput message: %w", err)
	}

	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		s.relations[m.RelationID] = m

	case *pglogrepl.InsertMessage:
		rel, ok := s.relations[m.RelationID]
		if !ok {
			return OutboxEvent{}, false, fmt.Errorf("insert for unknown relation id %d", m.RelationID)
		}
		if rel.Namespace != s.cfg.OutboxSchema || rel.RelationName != s.cfg.OutboxTable {
			// Other tables can share the publication.
			break
		}

		values, err := s.decodeTuple(rel, m.Tuple)
		if err != nil {
			return OutboxEvent{}, false, fmt.Errorf("decode outbox row at %s: %w", xld.WALStart, err)
		}
		event, err := buildOutboxEvent(values)
		if err != nil {
			return OutboxEvent{}, false, fmt.Errorf("decode outbox row at %s: %w", xld.WALStart, err)
		}
		event.LSN = endPos
		s.pendingAck = endPos
		return event, true, nil
	}

	// Begin/Commit and non-outbox traffic is safe to confirm right away.
	if endPos > s.ackPos {
		s.ackPos = endPos
	}
	return OutboxEvent{}, false, nil
}

// confirmYielded folds the end position of the previously yielded event into
// the confirmed position. Called before reading further WAL, so a crash
// between yield and the next read redelivers that event.
func (s *Subscriber) confirmYielded() {
	if s.pendingAck > s.ackPos {
		s.ackPos = s.pendingAck
	}
	s.pendingAck = 0
}

func (s *Subscriber) sendStatus(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: s.ackPos,
	})
	if err != nil {
		return fmt.Errorf("send standby status update: %w", err)
	}
	s.nextStatusAt = time.Now().Add(s.cfg.StatusInterval)
	return nil
}

// Close terminates the replication connection.
func (s *Subscriber) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
