package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/ports"
)

const githubUserURL = "https://api.github.com/user"

// GitHubValidator verifies GitHub login payloads against the user
// endpoint.
type GitHubValidator struct {
	userURL    string
	httpClient *http.Client
}

// GitHubConfig holds configuration for the GitHub validator.
type GitHubConfig struct {
	// UserURL overrides the endpoint, for tests.
	UserURL string
}

// NewGitHubValidator creates a GitHub auth validator.
func NewGitHubValidator(cfg GitHubConfig) *GitHubValidator {
	userURL := cfg.UserURL
	if userURL == "" {
		userURL = githubUserURL
	}
	return &GitHubValidator{
		userURL:    userURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate checks that the access token resolves to the claimed user id.
func (v *GitHubValidator) Validate(ctx context.Context, payload map[string]any) error {
	claimedID, _ := payload["id"].(string)
	accessToken, _ := payload["access_token"].(string)
	if claimedID == "" || accessToken == "" {
		return apierr.New(apierr.CodeValidationError, "GitHub auth requires id and access_token")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", v.userURL, nil)
	if err != nil {
		return fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("user request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read user response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return apierr.New(apierr.CodeValidationError, "GitHub auth is invalid for this user.")
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return fmt.Errorf("parse user response: %w", err)
	}

	if strconv.FormatInt(user.ID, 10) != claimedID {
		return apierr.New(apierr.CodeValidationError, "GitHub auth is invalid for this user.")
	}
	return nil
}

// Ensure interface compliance.
var _ ports.AuthValidator = (*GitHubValidator)(nil)
