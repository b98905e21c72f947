// Package oauth provides AuthValidator implementations for federated
// login providers. Each validator verifies that the credential in the
// auth payload belongs to the claimed provider user id.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/ports"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleValidator verifies Google login payloads against the userinfo
// endpoint.
type GoogleValidator struct {
	userInfoURL string
	httpClient  *http.Client
}

// GoogleConfig holds configuration for the Google validator.
type GoogleConfig struct {
	// UserInfoURL overrides the endpoint, for tests.
	UserInfoURL string
}

// NewGoogleValidator creates a Google auth validator.
func NewGoogleValidator(cfg GoogleConfig) *GoogleValidator {
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	return &GoogleValidator{
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate checks that the access token resolves to the claimed user id.
func (v *GoogleValidator) Validate(ctx context.Context, payload map[string]any) error {
	claimedID, _ := payload["id"].(string)
	accessToken, _ := payload["access_token"].(string)
	if claimedID == "" || accessToken == "" {
		return apierr.New(apierr.CodeValidationError, "Google auth requires id and access_token")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", v.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read userinfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return apierr.New(apierr.CodeValidationError, "Google auth is invalid for this user.")
	}

	var userInfo struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return fmt.Errorf("parse userinfo response: %w", err)
	}

	if userInfo.ID != claimedID {
		return apierr.New(apierr.CodeValidationError, "Google auth is invalid for this user.")
	}
	return nil
}

// Ensure interface compliance.
var _ ports.AuthValidator = (*GoogleValidator)(nil)
