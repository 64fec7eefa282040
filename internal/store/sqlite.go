// Package store persists the delivery audit trail: every verified event and
// its eventual reply, for offline training and analytics. Writes are
// best-effort and run off the reply path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.EventStore using SQLite. Good for
// single-node deployments; use Postgres when running more than one instance.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id           TEXT PRIMARY KEY,
		event_id     TEXT NOT NULL UNIQUE,
		user_id      TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		message_type TEXT,
		message_text TEXT,
		reply_token  TEXT,
		raw_event    TEXT,
		destination  TEXT,
		route_reason TEXT,
		reply_text   TEXT,
		reply_source TEXT,
		received_at  DATETIME,
		replied_at   DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_user ON deliveries(user_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_received ON deliveries(received_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record upserts on event_id. The platform redelivers webhooks on timeout,
// so the same event may arrive twice; the second write refreshes the routing
// fields instead of inserting a duplicate row.
func (s *SQLiteStore) Record(ctx context.Context, rec *domain.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries
		 (id, event_id, user_id, event_type, message_type, message_text,
		  reply_token, raw_event, destination, route_reason, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		  destination = excluded.destination,
		  route_reason = excluded.route_reason`,
		rec.ID, rec.EventID, rec.UserID, rec.EventType, rec.MessageType, rec.Text,
		rec.ReplyToken, string(rec.RawEvent), rec.Destination, rec.RouteReason, rec.ReceivedAt,
	)
	return err
}

// AttachReply sets the reply fields once the outcome is known. Only the
// first attach wins: the row is written once and then left alone.
func (s *SQLiteStore) AttachReply(ctx context.Context, eventID, replyText, source string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET reply_text = ?, reply_source = ?, replied_at = ?
		 WHERE event_id = ? AND reply_text IS NULL`,
		replyText, source, time.Now(), eventID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("reply not attached (no row or already set)", "event_id", eventID)
	}
	return nil
}

// UserHistory returns the most recent records for a user, newest first.
func (s *SQLiteStore) UserHistory(ctx context.Context, userID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, event_type, message_type, message_text,
		        reply_token, raw_event, destination, route_reason,
		        COALESCE(reply_text, ''), COALESCE(reply_source, ''),
		        received_at, COALESCE(replied_at, received_at)
		 FROM deliveries
		 WHERE user_id = ?
		 ORDER BY received_at DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]domain.DeliveryRecord, error) {
	var out []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		var raw string
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.UserID, &rec.EventType, &rec.MessageType, &rec.Text,
			&rec.ReplyToken, &raw, &rec.Destination, &rec.RouteReason,
			&rec.ReplyText, &rec.ReplySource, &rec.ReceivedAt, &rec.RepliedAt,
		); err != nil {
			return nil, err
		}
		rec.RawEvent = []byte(raw)
		out = append(out, rec)
	}
	return out, rows.Err()
}
