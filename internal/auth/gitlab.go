package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const gitlabDefaultBaseURL = "https://gitlab.com"

// GitLabDeviceFlow implements the OAuth 2.0 Device Authorization Flow for
// GitLab. See https://docs.gitlab.com/ee/api/oauth2.html#device-authorization-grant-flow
type GitLabDeviceFlow struct {
	clientID string
	baseURL  string
	client   *http.Client
}

// NewGitLabDeviceFlow creates a GitLabDeviceFlow.
// Pass an empty baseURL to use gitlab.com; a test server URL in tests.
func NewGitLabDeviceFlow(clientID string, baseURL string) *GitLabDeviceFlow {
	if baseURL == "" {
		baseURL = gitlabDefaultBaseURL
	}
	return &GitLabDeviceFlow{
		clientID: clientID,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *GitLabDeviceFlow) postForm(ctx context.Context, path string, data url.Values, out interface{}) error {
	endpoint, err := url.JoinPath(f.baseURL, path)
	if err != nil {
		return fmt.Errorf("building URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// RequestCode requests a device code and user code from GitLab. The
// returned UserCode must be shown to the user along with VerificationURI.
func (f *GitLabDeviceFlow) RequestCode(ctx context.Context) (DeviceCodeResponse, error) {
	data := url.Values{}
	data.Set("client_id", f.clientID)
	data.Set("scope", "read_api") // read_api is sufficient for pipeline/job reads (least privilege)

	var raw struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := f.postForm(ctx, "/oauth/authorize_device", data, &raw); err != nil {
		return DeviceCodeResponse{}, fmt.Errorf("requesting device code: %w", err)
	}
	return DeviceCodeResponse{
		DeviceCode:      raw.DeviceCode,
		UserCode:        raw.UserCode,
		VerificationURI: raw.VerificationURI,
		ExpiresIn:       raw.ExpiresIn,
		Interval:        raw.Interval,
	}, nil
}

// tokenReply is the wire shape of GitLab's /oauth/token responses.
type tokenReply struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

// PollToken polls the GitLab token endpoint until an access token is
// granted or an error occurs. interval is the polling interval in seconds;
// pass 0 to skip the sleep delay (useful in tests). Handles the
// authorization_pending, slow_down, expired_token, and access_denied
// error codes.
func (f *GitLabDeviceFlow) PollToken(ctx context.Context, deviceCode string, interval int) (TokenResponse, error) {
	if interval < 0 {
		interval = 0
	}

	for {
		if interval > 0 {
			select {
			case <-time.After(time.Duration(interval) * time.Second):
			case <-ctx.Done():
				return TokenResponse{}, ctx.Err()
			}
		} else if ctx.Err() != nil {
			return TokenResponse{}, ctx.Err()
		}

		data := url.Values{}
		data.Set("client_id", f.clientID)
		data.Set("device_code", deviceCode)
		data.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

		var raw tokenReply
		if err := f.postForm(ctx, "/oauth/token", data, &raw); err != nil {
			return TokenResponse{}, fmt.Errorf("polling token: %w", err)
		}

		switch raw.Error {
		case "":
			if raw.AccessToken != "" {
				return TokenResponse{AccessToken: raw.AccessToken, RefreshToken: raw.RefreshToken}, nil
			}
			// Neither token nor error: check context and keep polling.
			if ctx.Err() != nil {
				return TokenResponse{}, ctx.Err()
			}
		case "authorization_pending":
			// keep polling
		case "slow_down":
			interval += 5
		case "expired_token":
			return TokenResponse{}, fmt.Errorf("device code expired, restart authentication")
		case "access_denied":
			return TokenResponse{}, fmt.Errorf("access denied by user")
		default:
			errMsg := raw.Error
			if len(errMsg) > 100 {
				errMsg = errMsg[:100]
			}
			return TokenResponse{}, fmt.Errorf("unexpected error from GitLab: %s", errMsg)
		}
	}
}

// RefreshToken exchanges a refresh token for a new access/refresh token pair.
func (f *GitLabDeviceFlow) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", f.clientID)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")

	var raw tokenReply
	if err := f.postForm(ctx, "/oauth/token", data, &raw); err != nil {
		return TokenResponse{}, fmt.Errorf("refreshing token: %w", err)
	}
	if raw.Error != "" {
		return TokenResponse{}, fmt.Errorf("refresh rejected by GitLab: %s", raw.Error)
	}
	if raw.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("refresh response carried no access token")
	}
	return TokenResponse{AccessToken: raw.AccessToken, RefreshToken: raw.RefreshToken}, nil
}
