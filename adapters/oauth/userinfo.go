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

// UserInfoValidator verifies login payloads for any provider exposing an
// OIDC-style userinfo endpoint. The claimed id is compared against the
// configured claim field.
type UserInfoValidator struct {
	provider   string
	endpoint   string
	idClaim    string
	httpClient *http.Client
}

// UserInfoConfig holds configuration for a generic userinfo validator.
type UserInfoConfig struct {
	// Provider names the provider, used in error messages.
	Provider string
	// Endpoint is the userinfo URL.
	Endpoint string
	// IDClaim is the response field carrying the user id (default "sub").
	IDClaim string
}

// NewUserInfoValidator creates a validator for an OIDC-style provider.
func NewUserInfoValidator(cfg UserInfoConfig) *UserInfoValidator {
	idClaim := cfg.IDClaim
	if idClaim == "" {
		idClaim = "sub"
	}
	return &UserInfoValidator{
		provider:   cfg.Provider,
		endpoint:   cfg.Endpoint,
		idClaim:    idClaim,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate checks that the access token resolves to the claimed user id.
func (v *UserInfoValidator) Validate(ctx context.Context, payload map[string]any) error {
	claimedID, _ := payload["id"].(string)
	accessToken, _ := payload["access_token"].(string)
	if claimedID == "" || accessToken == "" {
		return apierr.Newf(apierr.CodeValidationError, "%s auth requires id and access_token", v.provider)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", v.endpoint, nil)
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
		return apierr.Newf(apierr.CodeValidationError, "%s auth is invalid for this user.", v.provider)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return fmt.Errorf("parse userinfo response: %w", err)
	}

	got, _ := claims[v.idClaim].(string)
	if got == "" || got != claimedID {
		return apierr.Newf(apierr.CodeValidationError, "%s auth is invalid for this user.", v.provider)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.AuthValidator = (*UserInfoValidator)(nil)
