package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/correomqtt/correo-core/internal/infrastructure/database"
	"github.com/correomqtt/correo-core/internal/message"
)

// SQLiteStore implements Store on the history database.
type SQLiteStore struct {
	db     *database.DB
	limits Limits
	now    func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated database. Zero limits
// fall back to the defaults.
func NewSQLiteStore(db *database.DB, limits Limits) *SQLiteStore {
	if limits.Subscribe <= 0 {
		limits.Subscribe = DefaultSubscribeLimit
	}
	if limits.Publish <= 0 {
		limits.Publish = DefaultPublishLimit
	}
	return &SQLiteStore{db: db, limits: limits, now: time.Now}
}

// Limits returns the effective limits.
func (s *SQLiteStore) Limits() Limits {
	return s.limits
}

// RecordSubscribe remembers topic as the most recent subscription of the
// connection and trims older topics beyond the limit.
func (s *SQLiteStore) RecordSubscribe(ctx context.Context, connectionID, topic string, qos byte) error {
	if connectionID == "" {
		return ErrConnectionRequired
	}
	at := s.now().UTC().UnixNano()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscribe_history (connection_id, topic, qos, subscribed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (connection_id, topic)
			DO UPDATE SET qos = excluded.qos, subscribed_at = excluded.subscribed_at`,
			connectionID, topic, qos, at)
		if err != nil {
			return fmt.Errorf("inserting subscribe history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM subscribe_history
			WHERE connection_id = ? AND topic NOT IN (
				SELECT topic FROM subscribe_history
				WHERE connection_id = ?
				ORDER BY subscribed_at DESC
				LIMIT ?
			)`,
			connectionID, connectionID, s.limits.Subscribe)
		if err != nil {
			return fmt.Errorf("trimming subscribe history: %w", err)
		}
		return nil
	})
}

// RecordPublish stores a published message and trims older entries beyond
// the limit.
func (s *SQLiteStore) RecordPublish(ctx context.Context, m message.Message) error {
	if m.ConnectionID == "" {
		return ErrConnectionRequired
	}
	at := m.Timestamp
	if at.IsZero() {
		at = s.now()
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO publish_history
				(message_id, connection_id, topic, payload, qos, retained, published_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConnectionID, m.Topic, m.Payload, m.QoS, m.Retained, at.UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("inserting publish history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM publish_history
			WHERE connection_id = ? AND id NOT IN (
				SELECT id FROM publish_history
				WHERE connection_id = ?
				ORDER BY id DESC
				LIMIT ?
			)`,
			m.ConnectionID, m.ConnectionID, s.limits.Publish)
		if err != nil {
			return fmt.Errorf("trimming publish history: %w", err)
		}
		return nil
	})
}

// SubscribeHistory returns remembered topics, most recent first. A limit of
// zero or less returns everything kept.
func (s *SQLiteStore) SubscribeHistory(ctx context.Context, connectionID string, limit int) ([]SubscribeEntry, error) {
	if connectionID == "" {
		return nil, ErrConnectionRequired
	}
	if limit <= 0 || limit > s.limits.Subscribe {
		limit = s.limits.Subscribe
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT connection_id, topic, qos, subscribed_at
		FROM subscribe_history
		WHERE connection_id = ?
		ORDER BY subscribed_at DESC
		LIMIT ?`,
		connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying subscribe history: %w", err)
	}
	defer rows.Close()

	entries := make([]SubscribeEntry, 0)
	for rows.Next() {
		var e SubscribeEntry
		var at int64
		if err := rows.Scan(&e.ConnectionID, &e.Topic, &e.QoS, &at); err != nil {
			return nil, fmt.Errorf("scanning subscribe history: %w", err)
		}
		e.SubscribedAt = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribe history: %w", err)
	}
	return entries, nil
}

// PublishHistory returns published messages, most recent first.
func (s *SQLiteStore) PublishHistory(ctx context.Context, connectionID string, limit int) ([]message.Message, error) {
	if connectionID == "" {
		return nil, ErrConnectionRequired
	}
	if limit <= 0 || limit > s.limits.Publish {
		limit = s.limits.Publish
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, connection_id, topic, payload, qos, retained, published_at
		FROM publish_history
		WHERE connection_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying publish history: %w", err)
	}
	defer rows.Close()

	messages := make([]message.Message, 0)
	for rows.Next() {
		m := message.Message{
			Direction:     message.DirectionOutgoing,
			PublishStatus: message.PublishStatusSucceeded,
		}
		var at int64
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.Topic, &m.Payload, &m.QoS, &m.Retained, &at); err != nil {
			return nil, fmt.Errorf("scanning publish history: %w", err)
		}
		m.Timestamp = time.Unix(0, at).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating publish history: %w", err)
	}
	return messages, nil
}

// DeleteConnection drops all history of a connection.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return ErrConnectionRequired
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM subscribe_history WHERE connection_id = ?", connectionID); err != nil {
			return fmt.Errorf("deleting subscribe history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM publish_history WHERE connection_id = ?", connectionID); err != nil {
			return fmt.Errorf("deleting publish history: %w", err)
		}
		return nil
	})
}
