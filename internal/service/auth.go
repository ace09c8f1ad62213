package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

// SessionService turns a verified Google identity into a local session.
//
//	AuthHandler (HTTP) → SessionService → UserRepository, DeviceRepository
//	                                    ↘ TokenService (JWT)
//
// The local identity is the verified email. The row is created here on first
// sign-in; the linking flow never creates users.
type SessionService struct {
	users    repository.UserRepository
	devices  repository.DeviceRepository
	activity repository.ActivityRepository
	tokens   *auth.TokenService
	logger   *slog.Logger
}

func NewSessionService(
	users repository.UserRepository,
	devices repository.DeviceRepository,
	activity repository.ActivityRepository,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		users:    users,
		devices:  devices,
		activity: activity,
		tokens:   tokens,
		logger:   logger,
	}
}

// SignInResult bundles the user and the session JWT so the handler can set
// the cookie and redirect in one step.
type SignInResult struct {
	User  *model.User
	Token string
}

// SignIn upserts the user for gUser.Email, records the device the request
// came from, and issues a session token.
//
// Device tracking and the activity entry are best-effort; a sign-in never
// fails because of them.
func (s *SessionService) SignIn(ctx context.Context, gUser *auth.GoogleUser, userAgent, ip string) (*SignInResult, error) {
	if gUser == nil || gUser.Email == "" {
		return nil, fmt.Errorf("service/session: identity must carry an email")
	}

	user := &model.User{
		Email:    gUser.Email,
		Name:     gUser.Name,
		ImageURL: gUser.Picture,
	}
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/session: upserting user %s: %w", gUser.Email, err)
	}

	s.logger.Info("user signed in via Google",
		slog.String("userID", user.ID),
	)

	device := &model.Device{UserID: user.ID, UserAgent: userAgent, IPAddress: ip}
	if userAgent == "" {
		device.UserAgent = "unknown"
	}
	if err := s.devices.TouchDevice(ctx, device); err != nil {
		s.logger.Error("failed to record device",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	recordActivity(ctx, s.activity, s.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySecurity,
		Title:       "New Sign-in",
		Description: "Signed in with Google",
		Metadata:    map[string]any{"ip": ip, "user_agent": device.UserAgent},
	})

	token, err := s.tokens.Generate(user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/session: generating token for user %s: %w", user.ID, err)
	}

	return &SignInResult{User: user, Token: token}, nil
}

// ValidateToken returns the email a session token was issued for.
func (s *SessionService) ValidateToken(tokenStr string) (string, error) {
	email, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/session: %w", err)
	}
	return email, nil
}
