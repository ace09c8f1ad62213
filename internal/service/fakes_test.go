package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo is an in-memory repository.UserRepository. It enforces the
// open id uniqueness the real table does, so the race path can be exercised.
type fakeUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*model.User
	nextID  int

	linkErr error // returned by LinkTikTok when set
	writes  int   // mutating calls that succeeded
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byEmail: make(map[string]*model.User)}
}

// add seeds a user and returns a copy of the stored row.
func (f *fakeUserRepo) add(email, name string) *model.User {
	u := &model.User{Email: email, Name: name}
	if err := f.UpsertUser(context.Background(), u); err != nil {
		panic(err)
	}
	f.writes = 0
	return u
}

func (f *fakeUserRepo) get(email string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return nil
	}
	return clone(u)
}

func clone(u *model.User) *model.User {
	c := *u
	if u.TikTok != nil {
		l := *u.TikTok
		c.TikTok = &l
	}
	c.Automation.Schedule = append([]string(nil), u.Automation.Schedule...)
	return &c
}

func (f *fakeUserRepo) UpsertUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.byEmail[user.Email]; ok {
		existing.Name = user.Name
		existing.ImageURL = user.ImageURL
		existing.UpdatedAt = time.Now()
		*user = *clone(existing)
		f.writes++
		return nil
	}

	f.nextID++
	stored := &model.User{
		ID:            fmt.Sprintf("user-%d", f.nextID),
		Email:         user.Email,
		Name:          user.Name,
		ImageURL:      user.ImageURL,
		Automation:    model.DefaultAutomation(),
		Notifications: model.DefaultNotifications(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.byEmail[user.Email] = stored
	*user = *clone(stored)
	f.writes++
	return nil
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if u := f.get(email); u != nil {
		return u, nil
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetUserByOpenID(ctx context.Context, openID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.TikTok != nil && u.TikTok.OpenID == openID {
			return clone(u), nil
		}
	}
	return nil, apperror.NotFound("user", openID)
}

func (f *fakeUserRepo) LinkTikTok(ctx context.Context, email string, link model.TikTokLink, profile *model.TikTokProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.linkErr != nil {
		return f.linkErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return apperror.NotFound("user", email)
	}
	for other, v := range f.byEmail {
		if other != email && v.TikTok != nil && v.TikTok.OpenID == link.OpenID {
			return apperror.AccountAlreadyLinked("TikTok")
		}
	}

	u.TikTok = &link
	if profile != nil {
		u.Profile.DisplayName = profile.DisplayName
		u.Profile.AvatarURL = profile.AvatarURL
	}
	u.UpdatedAt = time.Now()
	f.writes++
	return nil
}

func (f *fakeUserRepo) UnlinkTikTok(ctx context.Context, email string) error {
	return f.mutate(email, func(u *model.User) {
		u.TikTok = nil
		u.Profile.IsVerified = false
	})
}

func (f *fakeUserRepo) UpdateProfile(ctx context.Context, email string, p model.TikTokProfile) error {
	return f.mutate(email, func(u *model.User) { u.Profile = p })
}

func (f *fakeUserRepo) UpdateAutomation(ctx context.Context, email string, s model.AutomationSettings) error {
	return f.mutate(email, func(u *model.User) { u.Automation = s })
}

func (f *fakeUserRepo) UpdateNotifications(ctx context.Context, email string, s model.NotificationSettings) error {
	return f.mutate(email, func(u *model.User) { u.Notifications = s })
}

func (f *fakeUserRepo) SetUsername(ctx context.Context, email, username string) error {
	f.mu.Lock()
	for other, v := range f.byEmail {
		if other != email && v.Username == username {
			f.mu.Unlock()
			return apperror.Conflict("username", username)
		}
	}
	f.mu.Unlock()
	return f.mutate(email, func(u *model.User) { u.Username = username })
}

func (f *fakeUserRepo) DeleteUser(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[email]; !ok {
		return apperror.NotFound("user", email)
	}
	delete(f.byEmail, email)
	f.writes++
	return nil
}

func (f *fakeUserRepo) mutate(email string, fn func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return apperror.NotFound("user", email)
	}
	fn(u)
	u.UpdatedAt = time.Now()
	f.writes++
	return nil
}

// fakeActivityRepo keeps entries in insertion order.
type fakeActivityRepo struct {
	mu        sync.Mutex
	entries   []model.ActivityLogEntry
	appendErr error
}

func (f *fakeActivityRepo) AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	entry.ID = fmt.Sprintf("act-%d", len(f.entries)+1)
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeActivityRepo) ListActivity(ctx context.Context, userID string, opts repository.ListOptions) ([]model.ActivityLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.ActivityLogEntry{}
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeActivityRepo) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Title)
	}
	return out
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices []model.Device
}

func (f *fakeDeviceRepo) TouchDevice(ctx context.Context, d *model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].UserID == d.UserID && f.devices[i].UserAgent == d.UserAgent {
			f.devices[i].IPAddress = d.IPAddress
			f.devices[i].LastActive = time.Now()
			*d = f.devices[i]
			return nil
		}
	}
	d.ID = fmt.Sprintf("dev-%d", len(f.devices)+1)
	d.CreatedAt = time.Now()
	d.LastActive = d.CreatedAt
	f.devices = append(f.devices, *d)
	return nil
}

func (f *fakeDeviceRepo) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Device{}
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeviceRepo) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.devices {
		if d.ID == deviceID && d.UserID == userID {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("device", deviceID)
}

// fakeProvider stands in for the TikTok client. Codes map to token sets;
// unknown codes are rejected the way TikTok rejects them.
type fakeProvider struct {
	configured bool
	tokens     map[string]*tiktok.Token
	profiles   map[string]*tiktok.UserInfo // keyed by access token
	profileErr error
	refreshed  *tiktok.Token
	refreshErr error

	exchangeCalls int
	refreshCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		configured: true,
		tokens:     make(map[string]*tiktok.Token),
		profiles:   make(map[string]*tiktok.UserInfo),
	}
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) AuthURL(state string) string {
	return "https://www.tiktok.com/v2/auth/authorize/?client_key=ck&state=" + state
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*tiktok.Token, error) {
	f.exchangeCalls++
	tok, ok := f.tokens[code]
	if !ok {
		return nil, errors.New("invalid_grant: Authorization code is expired.")
	}
	return tok, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*tiktok.Token, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeProvider) FetchProfile(ctx context.Context, accessToken string) (*tiktok.UserInfo, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	info, ok := f.profiles[accessToken]
	if !ok {
		return nil, errors.New("access_token_invalid")
	}
	return info, nil
}
