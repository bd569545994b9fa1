package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/waabox/flakewatch/internal/config"
)

// TokenManager handles silent token refresh and config persistence. Its
// Refresh method is safe to call from concurrent fetch workers; only one
// refresh runs at a time.
type TokenManager struct {
	cfg        *config.Config
	configPath string
	mu         sync.Mutex
}

// NewTokenManager creates a TokenManager around the loaded config.
// configPath may be empty to skip persistence (tokens refresh in memory only).
func NewTokenManager(cfg *config.Config, configPath string) *TokenManager {
	return &TokenManager{cfg: cfg, configPath: configPath}
}

// Refresh attempts to exchange the stored refresh token for a new access
// token. On success the config is updated in memory and persisted to disk.
// Returns the new access token.
func (tm *TokenManager) Refresh(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cfg.GitLab.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token available")
	}
	if tm.cfg.GitLab.ClientID == "" {
		return "", fmt.Errorf("gitlab.client_id is not set in config")
	}

	flow := NewGitLabDeviceFlow(tm.cfg.GitLab.ClientID, tm.cfg.GitLab.URL)
	resp, err := flow.RefreshToken(ctx, tm.cfg.GitLab.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing GitLab token: %w", err)
	}

	tm.cfg.GitLab.Token = resp.AccessToken
	tm.cfg.GitLab.RefreshToken = resp.RefreshToken

	if tm.configPath != "" {
		if saveErr := config.Save(tm.configPath, *tm.cfg); saveErr != nil {
			// Token refreshed in memory but save failed; still usable for
			// this session.
			return resp.AccessToken, fmt.Errorf("token refreshed but failed to save config: %w", saveErr)
		}
	}

	return resp.AccessToken, nil
}
