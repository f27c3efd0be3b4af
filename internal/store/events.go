package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

const (
	roleSource = "source"
	roleTarget = "target"
)

// SaveEvents replaces the cached mutation events, keeping their order.
func (s *SQLiteStore) SaveEvents(ctx context.Context, events []model.MutationEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	for seq, e := range events {
		id := s.newID()
		var name *string
		if e.TargetName != "" {
			n := e.TargetName
			name = &n
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, seq, number, kind, effective, target_name) VALUES (?, ?, ?, ?, ?, ?)`,
			id, seq, e.Number, e.Kind.String(), model.FormatDate(e.Effective), name)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if err := insertEventCodes(ctx, tx, id, roleSource, e.Sources); err != nil {
			return err
		}
		if err := insertEventCodes(ctx, tx, id, roleTarget, e.Targets); err != nil {
			return err
		}
	}

	if err := touchMeta(ctx, tx, "events"); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEventCodes(ctx context.Context, tx *sql.Tx, eventID, role string, codes []int) error {
	for _, c := range codes {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_codes (event_id, role, code) VALUES (?, ?, ?)`,
			eventID, role, c)
		if err != nil {
			return fmt.Errorf("insert event code: %w", err)
		}
	}
	return nil
}

// LoadEvents returns the cached events in their saved order.
func (s *SQLiteStore) LoadEvents(ctx context.Context) ([]model.MutationEvent, time.Time, error) {
	savedAt, err := s.metaTime(ctx, "events")
	if err != nil {
		return nil, time.Time{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, kind, effective, target_name FROM events ORDER BY seq`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	byID := map[string]*model.MutationEvent{}
	var events []*model.MutationEvent
	for rows.Next() {
		var id, kind, effective string
		var number *int
		var name *string
		if err := rows.Scan(&id, &number, &kind, &effective, &name); err != nil {
			return nil, time.Time{}, err
		}
		e := &model.MutationEvent{}
		if e.Kind, err = model.ParseEventKind(kind); err != nil {
			return nil, time.Time{}, err
		}
		if e.Effective, err = time.Parse(model.DateLayout, effective); err != nil {
			return nil, time.Time{}, fmt.Errorf("bad stored date %q: %w", effective, err)
		}
		if number != nil {
			e.Number = *number
		}
		if name != nil {
			e.TargetName = *name
		}
		byID[id] = e
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	codeRows, err := s.db.QueryContext(ctx,
		`SELECT event_id, role, code FROM event_codes ORDER BY event_id, role, code`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer codeRows.Close()

	for codeRows.Next() {
		var id, role string
		var code int
		if err := codeRows.Scan(&id, &role, &code); err != nil {
			return nil, time.Time{}, err
		}
		e, ok := byID[id]
		if !ok {
			continue
		}
		if role == roleSource {
			e.Sources = append(e.Sources, code)
		} else {
			e.Targets = append(e.Targets, code)
		}
	}
	if err := codeRows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	out := make([]model.MutationEvent, len(events))
	for i, e := range events {
		out[i] = *e
	}
	return out, savedAt, nil
}

// EventsForCode returns the events in which code takes part.
func (s *SQLiteStore) EventsForCode(ctx context.Context, code int) ([]model.MutationEvent, error) {
	events, _, err := s.LoadEvents(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.MutationEvent
	for _, e := range events {
		if containsCode(e.Sources, code) || containsCode(e.Targets, code) {
			out = append(out, e)
		}
	}
	return out, nil
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
