// Package service holds the business rules of the mirror. Services sit
// between the HTTP handlers and the repositories:
//
//	Handler (HTTP) → AccountLinker / SessionService / AccountService → repositories
//	                 ↘ TikTok provider client, TokenService
//
// Services never touch http.Request or cookies; they take the session email
// and return apperror kinds that the handlers translate into status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

// tokenSkew treats access tokens this close to expiry as expired.
const tokenSkew = time.Minute

// TikTokProvider is what the linker needs from the TikTok client.
// *tiktok.Client satisfies it; tests use a fake.
type TikTokProvider interface {
	Configured() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*tiktok.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*tiktok.Token, error)
	FetchProfile(ctx context.Context, accessToken string) (*tiktok.UserInfo, error)
}

// Authorization is the result of BeginAuthorization. The caller redirects the
// browser to URL and keeps State to compare on the way back.
type Authorization struct {
	URL   string
	State string
}

// AccountLinker owns the write path to a user's TikTok linkage.
//
// The one-account-one-user invariant is enforced twice: a lookup by open id
// before writing gives a clean error in the common case, and the UNIQUE
// constraint on users.tiktok_open_id catches the concurrent case. The
// repository reports the latter as apperror.ErrAccountLinked too, so both
// paths look the same to the caller.
type AccountLinker struct {
	users    repository.UserRepository
	activity repository.ActivityRepository
	provider TikTokProvider
	logger   *slog.Logger
	now      func() time.Time
}

func NewAccountLinker(
	users repository.UserRepository,
	activity repository.ActivityRepository,
	provider TikTokProvider,
	logger *slog.Logger,
) *AccountLinker {
	return &AccountLinker{
		users:    users,
		activity: activity,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// BeginAuthorization generates a fresh state and the authorize URL carrying it.
func (l *AccountLinker) BeginAuthorization() (*Authorization, error) {
	if !l.provider.Configured() {
		l.logger.Error("TikTok client credentials are not configured")
		return nil, apperror.Misconfigured("TIKTOK_CLIENT_KEY")
	}

	state, err := auth.NewState()
	if err != nil {
		return nil, fmt.Errorf("service/linker: %w", err)
	}

	return &Authorization{URL: l.provider.AuthURL(state), State: state}, nil
}

// LinkAccount exchanges code for a token set and attaches the TikTok account
// to the user signed in as email.
//
//  1. exchange the code (one attempt; any failure is TokenExchangeFailed)
//  2. refuse if the open id already belongs to a different user
//  3. fetch the profile, best-effort
//  4. write tokens and profile in one UPDATE
//  5. append a security entry to the activity log
//
// A rejected exchange leaves no trace: no row change, no log entry.
func (l *AccountLinker) LinkAccount(ctx context.Context, email, code string) error {
	if email == "" {
		return apperror.Unauthenticated()
	}
	if code == "" {
		return apperror.ValidationFailed("code", "Code is required")
	}
	if !l.provider.Configured() {
		l.logger.Error("TikTok client credentials are not configured")
		return apperror.Misconfigured("TIKTOK_CLIENT_KEY")
	}

	user, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("service/linker: loading user %s: %w", email, err)
	}

	tok, err := l.provider.Exchange(ctx, code)
	if err != nil {
		l.logger.Warn("TikTok token exchange failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return apperror.TokenExchangeFailed(err)
	}

	owner, err := l.users.GetUserByOpenID(ctx, tok.OpenID)
	switch {
	case err == nil && owner.Email != email:
		l.logger.Warn("TikTok account already linked to another user",
			slog.String("userID", user.ID),
			slog.String("ownerID", owner.ID),
		)
		return apperror.AccountAlreadyLinked("TikTok")
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return fmt.Errorf("service/linker: checking open id owner: %w", err)
	}

	var profile *model.TikTokProfile
	info, err := l.provider.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		l.logger.Warn("TikTok profile fetch failed, linking without profile",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		p := info.Profile()
		profile = &p
	}

	link := model.TikTokLink{
		OpenID:       tok.OpenID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		IssuedAt:     l.now().UTC(),
	}
	if err := l.users.LinkTikTok(ctx, email, link, profile); err != nil {
		if errors.Is(err, apperror.ErrAccountLinked) {
			l.logger.Warn("TikTok link lost a race for the open id", slog.String("userID", user.ID))
		}
		return fmt.Errorf("service/linker: storing link: %w", err)
	}

	relinked := user.IsLinked() && user.TikTok.OpenID == tok.OpenID
	l.logger.Info("TikTok account linked",
		slog.String("userID", user.ID),
		slog.Bool("relinked", relinked),
		slog.Bool("profileSynced", profile != nil),
	)

	description := "Connected a TikTok account"
	if profile != nil && profile.DisplayName != "" {
		description = fmt.Sprintf("Connected TikTok account %s", profile.DisplayName)
	}
	recordActivity(ctx, l.activity, l.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySecurity,
		Title:       "TikTok Account Linked",
		Description: description,
		Metadata: map[string]any{
			"open_id":        tok.OpenID,
			"profile_synced": profile != nil,
			"relinked":       relinked,
		},
	})

	return nil
}

// UnlinkAccount clears the linkage. Unlinking an unlinked account succeeds
// and still records the request.
func (l *AccountLinker) UnlinkAccount(ctx context.Context, email string) error {
	if email == "" {
		return apperror.Unauthenticated()
	}

	user, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("service/linker: loading user %s: %w", email, err)
	}

	if err := l.users.UnlinkTikTok(ctx, email); err != nil {
		return fmt.Errorf("service/linker: clearing link: %w", err)
	}

	l.logger.Info("TikTok account unlinked",
		slog.String("userID", user.ID),
		slog.Bool("wasLinked", user.IsLinked()),
	)

	recordActivity(ctx, l.activity, l.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySecurity,
		Title:       "TikTok Account Unlinked",
		Description: "Disconnected the TikTok account",
		Metadata:    map[string]any{"action": "unlink"},
	})

	return nil
}

// SyncProfile refreshes the mirrored profile from TikTok, renewing the access
// token first when it has expired. Unlike LinkAccount, a failed fetch is an
// error here because the fetch is the whole point of the call.
func (l *AccountLinker) SyncProfile(ctx context.Context, email string) (*model.Profile, error) {
	if email == "" {
		return nil, apperror.Unauthenticated()
	}

	user, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/linker: loading user %s: %w", email, err)
	}
	if !user.IsLinked() {
		return nil, apperror.ValidationFailed("tiktok", "No TikTok account is linked")
	}

	link := *user.TikTok
	if link.Expired(l.now(), tokenSkew) {
		if !l.provider.Configured() {
			return nil, apperror.Misconfigured("TIKTOK_CLIENT_KEY")
		}
		tok, err := l.provider.Refresh(ctx, link.RefreshToken)
		if err != nil {
			l.logger.Warn("TikTok token refresh failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.TokenExchangeFailed(err)
		}

		link = model.TikTokLink{
			OpenID:       link.OpenID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresIn:    tok.ExpiresIn,
			IssuedAt:     l.now().UTC(),
		}
		if link.RefreshToken == "" {
			link.RefreshToken = user.TikTok.RefreshToken
		}
		if err := l.users.LinkTikTok(ctx, email, link, nil); err != nil {
			return nil, fmt.Errorf("service/linker: storing refreshed token: %w", err)
		}
		l.logger.Info("TikTok token refreshed", slog.String("userID", user.ID))
	}

	info, err := l.provider.FetchProfile(ctx, link.AccessToken)
	if err != nil {
		l.logger.Warn("TikTok profile sync failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.TokenExchangeFailed(err)
	}

	profile := info.Profile()
	if err := l.users.UpdateProfile(ctx, email, profile); err != nil {
		return nil, fmt.Errorf("service/linker: storing profile: %w", err)
	}
	user.Profile = profile

	recordActivity(ctx, l.activity, l.logger, &model.ActivityLogEntry{
		UserID:      user.ID,
		Type:        model.ActivitySystem,
		Title:       "TikTok Profile Synced",
		Description: "Refreshed profile statistics from TikTok",
		Metadata: map[string]any{
			"follower_count": profile.FollowerCount,
			"video_count":    profile.VideoCount,
		},
	})

	return profileOf(user), nil
}
