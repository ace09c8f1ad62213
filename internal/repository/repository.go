// Package repository declares the persistence contracts the services depend on.
// The only implementation lives in repository/sqlite; tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/mochi-mirror/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository owns the users table. Lookups return apperror.ErrNotFound
// when no row matches.
type UserRepository interface {
	// UpsertUser creates the row for user.Email on first sign-in, otherwise
	// refreshes name and image. user is filled with the stored row.
	UpsertUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByOpenID(ctx context.Context, openID string) (*model.User, error)

	// LinkTikTok stores link on the row for email in a single statement,
	// together with profile when it is non-nil. A UNIQUE violation on the
	// open id is returned as apperror.ErrAccountLinked.
	LinkTikTok(ctx context.Context, email string, link model.TikTokLink, profile *model.TikTokProfile) error
	// UnlinkTikTok clears the linkage group and is_verified. Clearing an
	// already-clear row is not an error.
	UnlinkTikTok(ctx context.Context, email string) error
	UpdateProfile(ctx context.Context, email string, profile model.TikTokProfile) error

	UpdateAutomation(ctx context.Context, email string, settings model.AutomationSettings) error
	UpdateNotifications(ctx context.Context, email string, settings model.NotificationSettings) error
	// SetUsername returns apperror.ErrConflict when another user holds it.
	SetUsername(ctx context.Context, email, username string) error
	// DeleteUser removes the row; activity logs and devices cascade.
	DeleteUser(ctx context.Context, email string) error
}

// ActivityRepository is append-only.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error
	// ListActivity returns entries newest first.
	ListActivity(ctx context.Context, userID string, opts ListOptions) ([]model.ActivityLogEntry, error)
}

type DeviceRepository interface {
	// TouchDevice inserts the device or bumps last_active/ip for an existing
	// (user, user agent) pair. device is filled with the stored row.
	TouchDevice(ctx context.Context, device *model.Device) error
	ListDevices(ctx context.Context, userID string) ([]model.Device, error)
	// DeleteDevice removes the device only if it belongs to userID; otherwise
	// it returns apperror.ErrNotFound.
	DeleteDevice(ctx context.Context, userID, deviceID string) error
}
