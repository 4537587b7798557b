package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/conduct-dev/conduct/event"
)

const eventColumns = `
	seq, id, type, entity_kind, entity_id, run_id, trace_id, actor, payload, created_at`

// AppendEvent persists an event. The BIGSERIAL column assigns the next
// sequence number, which is written back to the event.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conduct_events (
			id, type, entity_kind, entity_id, run_id, trace_id, actor, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		evt.ID, string(evt.Type), string(evt.EntityKind), evt.EntityID,
		evt.RunID, evt.TraceID, evt.Actor, evt.Payload, evt.CreatedAt,
	).Scan(&evt.Seq)
	if err != nil {
		return fmt.Errorf("conduct/postgres: append event: %w", err)
	}
	return nil
}

// ListEvents returns events matching the options in sequence order.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM conduct_events WHERE 1=1`
	var args []any

	if opts.AfterSeq > 0 {
		args = append(args, opts.AfterSeq)
		query += fmt.Sprintf(" AND seq > $%d", len(args))
	}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	if opts.EntityID != "" {
		args = append(args, opts.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if opts.RunID != "" {
		args = append(args, opts.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}

	query += " ORDER BY seq ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// LastSeq returns the highest assigned sequence number, zero when the
// stream is empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conduct_events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("conduct/postgres: last seq: %w", err)
	}
	return seq, nil
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt        event.Event
		typ        string
		entityKind string
	)
	err := row.Scan(
		&evt.Seq, &evt.ID, &typ, &entityKind, &evt.EntityID, &evt.RunID,
		&evt.TraceID, &evt.Actor, &evt.Payload, &evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	evt.Type = event.Type(typ)
	evt.EntityKind = event.EntityKind(entityKind)
	return &evt, nil
}
