package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, name, image_url, username,
	tiktok_open_id, tiktok_access_token, tiktok_refresh_token, tiktok_expires_in, tiktok_token_issued_at,
	display_name, avatar_url, bio_description, follower_count, following_count, likes_count, video_count, is_verified,
	automation_enabled, automation_schedule, automation_config, notification_settings,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one users row selected with userColumns.
// Nullable columns go through sql.Null* and are folded back into the model.
func (db *DB) scanUser(row rowScanner) (*model.User, error) {
	var (
		u            model.User
		username     sql.NullString
		openID       sql.NullString
		accessToken  sql.NullString
		refreshToken sql.NullString
		expiresIn    sql.NullInt64
		issuedAt     sql.NullTime
		schedule     string
		config       string
		notify       string
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.ImageURL, &username,
		&openID, &accessToken, &refreshToken, &expiresIn, &issuedAt,
		&u.Profile.DisplayName, &u.Profile.AvatarURL, &u.Profile.BioDescription,
		&u.Profile.FollowerCount, &u.Profile.FollowingCount, &u.Profile.LikesCount, &u.Profile.VideoCount,
		&u.Profile.IsVerified,
		&u.Automation.Enabled, &schedule, &config, &notify,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Username = username.String

	if openID.Valid && openID.String != "" {
		link := &model.TikTokLink{
			OpenID:    openID.String,
			ExpiresIn: expiresIn.Int64,
			IssuedAt:  issuedAt.Time,
		}
		if link.AccessToken, err = db.open(accessToken.String); err != nil {
			return nil, fmt.Errorf("opening access token: %w", err)
		}
		if link.RefreshToken, err = db.open(refreshToken.String); err != nil {
			return nil, fmt.Errorf("opening refresh token: %w", err)
		}
		u.TikTok = link
	}

	if err := json.Unmarshal([]byte(schedule), &u.Automation.Schedule); err != nil {
		return nil, fmt.Errorf("decoding automation_schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &u.Automation.Config); err != nil {
		return nil, fmt.Errorf("decoding automation_config: %w", err)
	}
	if err := json.Unmarshal([]byte(notify), &u.Notifications); err != nil {
		return nil, fmt.Errorf("decoding notification_settings: %w", err)
	}

	return &u, nil
}

// UpsertUser inserts the user on first sign-in, or refreshes name and image
// for an existing email. Linkage, profile mirror and settings are untouched.
//
// ON CONFLICT(email) DO UPDATE keeps the original id, unlike INSERT OR
// REPLACE which would delete the row (and cascade its logs and devices).
func (db *DB) UpsertUser(ctx context.Context, user *model.User) error {
	if user.Email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	now := time.Now()
	schedule, config, notify, err := encodeDefaults()
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, image_url,
			automation_schedule, automation_config, notification_settings,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at`,
		xid.New().String(),
		user.Email,
		user.Name,
		user.ImageURL,
		schedule, config, notify,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.Email, err)
	}

	stored, err := db.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("sqlite: reading back user %s: %w", user.Email, err)
	}
	*user = *stored
	return nil
}

func encodeDefaults() (schedule, config, notify string, err error) {
	a := model.DefaultAutomation()
	s, err := json.Marshal(a.Schedule)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding default schedule: %w", err)
	}
	c, err := json.Marshal(a.Config)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding default config: %w", err)
	}
	n, err := json.Marshal(model.DefaultNotifications())
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding default notifications: %w", err)
	}
	return string(s), string(c), string(n), nil
}

// GetUserByEmail returns apperror.ErrNotFound if no user has that email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	u, err := db.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", email, err)
	}
	return u, nil
}

// GetUserByOpenID returns the user currently holding the TikTok open id.
func (db *DB) GetUserByOpenID(ctx context.Context, openID string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tiktok_open_id = ?`, openID)

	u, err := db.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("tiktok account", openID)
		}
		return nil, fmt.Errorf("sqlite: getting user by open id: %w", err)
	}
	return u, nil
}

// LinkTikTok writes the token set (and profile, if given) in one UPDATE.
//
// This statement is the authoritative uniqueness guard: if another row
// already holds link.OpenID, SQLite rejects it and the caller receives
// apperror.ErrAccountLinked, whatever any earlier pre-check concluded.
func (db *DB) LinkTikTok(ctx context.Context, email string, link model.TikTokLink, profile *model.TikTokProfile) error {
	if link.OpenID == "" {
		return apperror.ValidationFailed("open_id", "open id is required")
	}

	access, err := db.seal(link.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlite: sealing access token: %w", err)
	}
	refresh, err := db.seal(link.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlite: sealing refresh token: %w", err)
	}

	issuedAt := link.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	query := `UPDATE users SET
			tiktok_open_id = ?, tiktok_access_token = ?, tiktok_refresh_token = ?,
			tiktok_expires_in = ?, tiktok_token_issued_at = ?, updated_at = ?`
	args := []any{link.OpenID, access, refresh, link.ExpiresIn, issuedAt, time.Now()}

	if profile != nil {
		query += `, display_name = ?, avatar_url = ?`
		args = append(args, profile.DisplayName, profile.AvatarURL)
	}
	query += ` WHERE email = ?`
	args = append(args, email)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) && violatedColumn(err) == "users.tiktok_open_id" {
			return apperror.AccountAlreadyLinked("TikTok")
		}
		return fmt.Errorf("sqlite: linking tiktok for %s: %w", email, err)
	}
	return requireRow(res, email)
}

// UnlinkTikTok clears the linkage group and the verified flag.
func (db *DB) UnlinkTikTok(ctx context.Context, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			tiktok_open_id = NULL, tiktok_access_token = NULL, tiktok_refresh_token = NULL,
			tiktok_expires_in = NULL, tiktok_token_issued_at = NULL,
			is_verified = 0, updated_at = ?
		 WHERE email = ?`,
		time.Now(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: unlinking tiktok for %s: %w", email, err)
	}
	return requireRow(res, email)
}

// UpdateProfile overwrites every mirrored profile field.
func (db *DB) UpdateProfile(ctx context.Context, email string, p model.TikTokProfile) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			display_name = ?, avatar_url = ?, bio_description = ?,
			follower_count = ?, following_count = ?, likes_count = ?, video_count = ?,
			is_verified = ?, updated_at = ?
		 WHERE email = ?`,
		p.DisplayName, p.AvatarURL, p.BioDescription,
		p.FollowerCount, p.FollowingCount, p.LikesCount, p.VideoCount,
		p.IsVerified, time.Now(),
		email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile for %s: %w", email, err)
	}
	return requireRow(res, email)
}

func (db *DB) UpdateAutomation(ctx context.Context, email string, s model.AutomationSettings) error {
	schedule, err := json.Marshal(s.Schedule)
	if err != nil {
		return fmt.Errorf("sqlite: encoding schedule: %w", err)
	}
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("sqlite: encoding automation config: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET automation_enabled = ?, automation_schedule = ?, automation_config = ?, updated_at = ?
		 WHERE email = ?`,
		s.Enabled, string(schedule), string(config), time.Now(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating automation for %s: %w", email, err)
	}
	return requireRow(res, email)
}

func (db *DB) UpdateNotifications(ctx context.Context, email string, s model.NotificationSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sqlite: encoding notification settings: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET notification_settings = ?, updated_at = ? WHERE email = ?`,
		string(raw), time.Now(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating notifications for %s: %w", email, err)
	}
	return requireRow(res, email)
}

func (db *DB) SetUsername(ctx context.Context, email, username string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, updated_at = ? WHERE email = ?`,
		username, time.Now(), email,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("username", username)
		}
		return fmt.Errorf("sqlite: setting username for %s: %w", email, err)
	}
	return requireRow(res, email)
}

// DeleteUser removes the user. Foreign keys cascade to activity_logs and devices.
func (db *DB) DeleteUser(ctx context.Context, email string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", email, err)
	}
	return requireRow(res, email)
}

// requireRow turns "UPDATE matched nothing" into ErrNotFound.
func requireRow(res sql.Result, email string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", email)
	}
	return nil
}
