package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

var _ repository.ActivityRepository = (*DB)(nil)

// AppendActivity inserts an audit entry. The log is append-only: there is no
// update path, and rows go away only when their user is deleted.
func (db *DB) AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	if !entry.Type.Valid() {
		return apperror.ValidationFailed("type", fmt.Sprintf("unknown activity type %q", entry.Type))
	}

	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: encoding activity metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	entry.ID = xid.New().String()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO activity_logs (id, user_id, type, title, description, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		string(entry.Type),
		entry.Title,
		entry.Description,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending activity for user %s: %w", entry.UserID, err)
	}
	return nil
}

// ListActivity returns the user's entries newest first.
// Ties on created_at fall back to the xid, which is also time-ordered.
func (db *DB) ListActivity(ctx context.Context, userID string, opts repository.ListOptions) ([]model.ActivityLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, type, title, description, metadata, created_at
		 FROM activity_logs
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing activity for user %s: %w", userID, err)
	}
	defer rows.Close()

	entries := []model.ActivityLogEntry{}
	for rows.Next() {
		var (
			e        model.ActivityLogEntry
			typ      string
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Title, &e.Description, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning activity row: %w", err)
		}
		e.Type = model.ActivityType(typ)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: decoding activity metadata %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating activity rows: %w", err)
	}

	return entries, nil
}
