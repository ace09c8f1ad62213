package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sakif/mochi-mirror/internal/model"
)

// UserInfo is the user object returned by /v2/user/info/. Fields the granted
// scopes do not cover come back zero.
type UserInfo struct {
	OpenID         string `json:"open_id"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	BioDescription string `json:"bio_description"`
	IsVerified     bool   `json:"is_verified"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikesCount     int64  `json:"likes_count"`
	VideoCount     int64  `json:"video_count"`
}

// Profile converts the response into the locally mirrored profile.
func (u UserInfo) Profile() model.TikTokProfile {
	return model.TikTokProfile{
		DisplayName:    u.DisplayName,
		AvatarURL:      u.AvatarURL,
		BioDescription: u.BioDescription,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		LikesCount:     u.LikesCount,
		VideoCount:     u.VideoCount,
		IsVerified:     u.IsVerified,
	}
}

// apiError is the error envelope every TikTok v2 API response carries.
// Code is "ok" on success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type userInfoResponse struct {
	Data struct {
		User *UserInfo `json:"user"`
	} `json:"data"`
	Error apiError `json:"error"`
}

// FetchProfile reads the profile of the user the access token belongs to.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*UserInfo, error) {
	u, err := url.Parse(c.cfg.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("tiktok: parsing user info URL: %w", err)
	}
	q := u.Query()
	q.Set("fields", profileFields)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tiktok: building user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok: calling user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("tiktok: reading user info: %w", err)
	}

	var out userInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("tiktok: decoding user info (status %d): %w", resp.StatusCode, err)
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok: user info: %s: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok: user info returned status %d", resp.StatusCode)
	}
	if out.Data.User == nil {
		return nil, fmt.Errorf("tiktok: user info response has no user")
	}
	return out.Data.User, nil
}
