package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements domain.EventStore on Postgres, for deployments
// running more than one gateway instance against one audit trail.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id           UUID PRIMARY KEY,
		event_id     TEXT NOT NULL UNIQUE,
		user_id      TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		message_type TEXT,
		message_text TEXT,
		reply_token  TEXT,
		raw_event    JSONB,
		destination  TEXT,
		route_reason TEXT,
		reply_text   TEXT,
		reply_source TEXT,
		received_at  TIMESTAMPTZ NOT NULL,
		replied_at   TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_user ON deliveries(user_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_received ON deliveries(received_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, rec *domain.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	raw := rec.RawEvent
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries
		 (id, event_id, user_id, event_type, message_type, message_text,
		  reply_token, raw_event, destination, route_reason, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (event_id) DO UPDATE SET
		  destination = EXCLUDED.destination,
		  route_reason = EXCLUDED.route_reason`,
		rec.ID, rec.EventID, rec.UserID, rec.EventType, rec.MessageType, rec.Text,
		rec.ReplyToken, raw, rec.Destination, rec.RouteReason, rec.ReceivedAt,
	)
	return err
}

func (s *PostgresStore) AttachReply(ctx context.Context, eventID, replyText, source string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET reply_text = $1, reply_source = $2, replied_at = $3
		 WHERE event_id = $4 AND reply_text IS NULL`,
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

func (s *PostgresStore) UserHistory(ctx context.Context, userID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, event_type, message_type, message_text,
		        reply_token, raw_event::text, destination, route_reason,
		        COALESCE(reply_text, ''), COALESCE(reply_source, ''),
		        received_at, COALESCE(replied_at, received_at)
		 FROM deliveries
		 WHERE user_id = $1
		 ORDER BY received_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
