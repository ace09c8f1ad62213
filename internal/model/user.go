// Package model defines the data structures used throughout the application.
package model

import "time"

// User is one local identity, keyed by the email the identity provider
// (Google) verified for the session.
//
// TikTok is nil while no TikTok account is linked. The mirrored profile
// fields live in Profile and survive an unlink (only IsVerified is reset),
// matching what the dashboard shows for a disconnected account.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Username string `json:"username,omitempty"` // empty until the user picks one

	TikTok  *TikTokLink   `json:"-"` // tokens never leave the server
	Profile TikTokProfile `json:"profile"`

	Automation    AutomationSettings   `json:"automation"`
	Notifications NotificationSettings `json:"notifications"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsLinked reports whether the user currently holds a TikTok linkage.
func (u *User) IsLinked() bool {
	return u.TikTok != nil && u.TikTok.OpenID != ""
}

// TikTokLink is the linkage group of a User: present together or not at all.
type TikTokLink struct {
	OpenID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64     // access token lifetime in seconds, as issued
	IssuedAt     time.Time // when the token set was stored
}

// ExpiresAt is the instant the access token stops being valid.
// A zero IssuedAt or ExpiresIn yields the zero time ("unknown").
func (l TikTokLink) ExpiresAt() time.Time {
	if l.IssuedAt.IsZero() || l.ExpiresIn <= 0 {
		return time.Time{}
	}
	return l.IssuedAt.Add(time.Duration(l.ExpiresIn) * time.Second)
}

// Expired reports whether the access token is past its expiry at now,
// treating tokens within skew of expiry as already expired.
func (l TikTokLink) Expired(now time.Time, skew time.Duration) bool {
	exp := l.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return !now.Add(skew).Before(exp)
}

// TikTokProfile is the denormalised mirror of the TikTok profile.
type TikTokProfile struct {
	DisplayName    string `json:"displayName"`
	AvatarURL      string `json:"avatarUrl"`
	BioDescription string `json:"bioDescription"`
	FollowerCount  int64  `json:"followerCount"`
	FollowingCount int64  `json:"followingCount"`
	LikesCount     int64  `json:"likesCount"`
	VideoCount     int64  `json:"videoCount"`
	IsVerified     bool   `json:"isVerified"`
}

// AutomationSettings is stored as JSON text columns on the users table.
type AutomationSettings struct {
	Enabled  bool             `json:"enabled"`
	Schedule []string         `json:"schedule"` // "HH:MM" entries, sorted
	Config   AutomationConfig `json:"config"`
}

type AutomationConfig struct {
	AutoReply     bool `json:"auto_reply"`
	CrossPost     bool `json:"cross_post"`
	SmartHashtags bool `json:"smart_hashtags"`
}

type NotificationSettings struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
}

// DefaultAutomation is what a freshly created user starts with.
func DefaultAutomation() AutomationSettings {
	return AutomationSettings{
		Schedule: []string{"09:00", "14:00", "19:00"},
		Config:   AutomationConfig{AutoReply: true, SmartHashtags: true},
	}
}

func DefaultNotifications() NotificationSettings {
	return NotificationSettings{Push: true}
}

// Profile is the read model served by GET /api/user/profile.
type Profile struct {
	Email          string `json:"email"`
	Username       string `json:"username,omitempty"`
	DisplayName    string `json:"display_name"`
	Avatar         string `json:"avatar"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikesCount     int64  `json:"likes_count"`
	VideoCount     int64  `json:"video_count"`
	BioDescription string `json:"bio_description"`
	IsVerified     bool   `json:"is_verified"`
	IsLinked       bool   `json:"is_linked"`
}
