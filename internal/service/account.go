package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"

	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

const (
	DefaultActivityLimit = 10
	MaxActivityLimit     = 50
	maxScheduleEntries   = 12
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// AccountService serves the dashboard: profile, activity, settings, devices
// and account deletion. Everything is scoped to the session email.
type AccountService struct {
	users    repository.UserRepository
	activity repository.ActivityRepository
	devices  repository.DeviceRepository
	logger   *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	activity repository.ActivityRepository,
	devices repository.DeviceRepository,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		activity: activity,
		devices:  devices,
		logger:   logger,
	}
}

func (s *AccountService) user(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.Unauthenticated()
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading user %s: %w", email, err)
	}
	return user, nil
}

// GetUser returns the full user record for /api/me.
func (s *AccountService) GetUser(ctx context.Context, email string) (*model.User, error) {
	return s.user(ctx, email)
}

// GetProfile returns the profile read model. The mirrored TikTok profile
// wins; Google's name and picture fill in while nothing is mirrored.
func (s *AccountService) GetProfile(ctx context.Context, email string) (*model.Profile, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	return profileOf(user), nil
}

func profileOf(u *model.User) *model.Profile {
	name := u.Profile.DisplayName
	if name == "" {
		name = u.Name
	}
	if name == "" {
		name = "User"
	}
	avatar := u.Profile.AvatarURL
	if avatar == "" {
		avatar = u.ImageURL
	}

	return &model.Profile{
		Email:          u.Email,
		Username:       u.Username,
		DisplayName:    name,
		Avatar:         avatar,
		FollowerCount:  u.Profile.FollowerCount,
		FollowingCount: u.Profile.FollowingCount,
		LikesCount:     u.Profile.LikesCount,
		VideoCount:     u.Profile.VideoCount,
		BioDescription: u.Profile.BioDescription,
		IsVerified:     u.Profile.IsVerified,
		IsLinked:       u.IsLinked(),
	}
}

// ListActivity returns the newest entries first. limit <= 0 means the
// default page; larger values are capped.
func (s *AccountService) ListActivity(ctx context.Context, email string, limit int) ([]model.ActivityLogEntry, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}

	entries, err := s.activity.ListActivity(ctx, user.ID, repository.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("service/account: listing activity: %w", err)
	}
	return entries, nil
}

func (s *AccountService) GetAutomation(ctx context.Context, email string) (*model.AutomationSettings, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	return &user.Automation, nil
}

// UpdateAutomation validates and stores the settings. Schedule entries must
// be 24-hour "HH:MM"; duplicates are dropped and the result is sorted.
func (s *AccountService) UpdateAutomation(ctx context.Context, email string, settings model.AutomationSettings) (*model.AutomationSettings, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}

	schedule, err := normalizeSchedule(settings.Schedule)
	if err != nil {
		return nil, err
	}
	settings.Schedule = schedule

	if err := s.users.UpdateAutomation(ctx, email, settings); err != nil {
		return nil, fmt.Errorf("service/account: storing automation: %w", err)
	}

	state := "disabled"
	if settings.Enabled {
		state = "enabled"
	}
	recordActivity(ctx, s.activity, s.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivityAutomation,
		Title:       "Automation Settings Updated",
		Description: fmt.Sprintf("Automation %s with %d scheduled slots", state, len(schedule)),
		Metadata: map[string]any{
			"enabled":  settings.Enabled,
			"schedule": schedule,
		},
	})

	return &settings, nil
}

func normalizeSchedule(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, slot := range in {
		t, err := time.Parse("15:04", slot)
		if err != nil || len(slot) != 5 {
			return nil, apperror.ValidationFailed("schedule", fmt.Sprintf("invalid time %q, expected HH:MM", slot))
		}
		out = append(out, t.Format("15:04"))
	}
	slices.Sort(out)
	out = slices.Compact(out)

	if len(out) > maxScheduleEntries {
		return nil, apperror.ValidationFailed("schedule", fmt.Sprintf("at most %d scheduled times are allowed", maxScheduleEntries))
	}
	return out, nil
}

func (s *AccountService) GetNotifications(ctx context.Context, email string) (*model.NotificationSettings, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	return &user.Notifications, nil
}

func (s *AccountService) UpdateNotifications(ctx context.Context, email string, settings model.NotificationSettings) (*model.NotificationSettings, error) {
	if _, err := s.user(ctx, email); err != nil {
		return nil, err
	}
	if err := s.users.UpdateNotifications(ctx, email, settings); err != nil {
		return nil, fmt.Errorf("service/account: storing notifications: %w", err)
	}
	return &settings, nil
}

// SetUsername claims a username: 3 to 20 letters, digits or underscores.
func (s *AccountService) SetUsername(ctx context.Context, email, username string) error {
	user, err := s.user(ctx, email)
	if err != nil {
		return err
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username", "Username must be 3-20 characters: letters, numbers or underscores")
	}
	if username == user.Username {
		return nil
	}

	if err := s.users.SetUsername(ctx, email, username); err != nil {
		return fmt.Errorf("service/account: setting username: %w", err)
	}

	recordActivity(ctx, s.activity, s.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySystem,
		Title:       "Username Changed",
		Description: fmt.Sprintf("Username set to @%s", username),
		Metadata:    map[string]any{"previous": user.Username, "username": username},
	})
	return nil
}

func (s *AccountService) ListDevices(ctx context.Context, email string) ([]model.Device, error) {
	user, err := s.user(ctx, email)
	if err != nil {
		return nil, err
	}
	devices, err := s.devices.ListDevices(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: listing devices: %w", err)
	}
	return devices, nil
}

// RemoveDevice forgets one of the caller's devices. Another user's device id
// reads as not found.
func (s *AccountService) RemoveDevice(ctx context.Context, email, deviceID string) error {
	user, err := s.user(ctx, email)
	if err != nil {
		return err
	}
	if deviceID == "" {
		return apperror.ValidationFailed("id", "Device id is required")
	}

	if err := s.devices.DeleteDevice(ctx, user.ID, deviceID); err != nil {
		return fmt.Errorf("service/account: removing device: %w", err)
	}

	recordActivity(ctx, s.activity, s.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySecurity,
		Title:       "Device Removed",
		Description: "A signed-in device was removed",
		Metadata:    map[string]any{"device_id": deviceID},
	})
	return nil
}

// DeleteAccount removes the user. Activity and devices go with it.
func (s *AccountService) DeleteAccount(ctx context.Context, email string) error {
	user, err := s.user(ctx, email)
	if err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, email); err != nil {
		return fmt.Errorf("service/account: deleting user: %w", err)
	}
	s.logger.Info("account deleted", slog.String("userID", user.ID))
	return nil
}
