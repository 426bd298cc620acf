package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/models"
)

const (
	// DefaultAuthority is the Entra ID login endpoint
	DefaultAuthority = "https://login.microsoftonline.com"
	// GraphScope requests the app permissions granted to the registration
	GraphScope = "https://graph.microsoft.com/.default"
)

// ErrAuthFailed matches every authentication failure
var ErrAuthFailed = apperrors.Sentinel(apperrors.ErrorTypeAuth, "AUTH_FAILED")

// TokenInfo is what can be read from an access token without verifying it.
type TokenInfo struct {
	TenantID  string
	AppID     string
	Audience  []string
	ExpiresAt time.Time
	Roles     []string
}

// InspectToken decodes the claims of a bearer token. The signature is not
// checked; Graph does that. It only serves to catch expired or foreign
// tokens before the first request.
func InspectToken(raw string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeAuth, ErrAuthFailed.Code, "access token is not a JWT")
	}

	info := &TokenInfo{}
	if tid, ok := claims["tid"].(string); ok {
		info.TenantID = tid
	}
	if appid, ok := claims["appid"].(string); ok {
		info.AppID = appid
	}
	if aud, err := claims.GetAudience(); err == nil {
		info.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				info.Roles = append(info.Roles, s)
			}
		}
	}
	return info, nil
}

// NewTokenSource returns a token source for creds. A static AccessToken is
// inspected and rejected when expired or issued for another tenant;
// otherwise the client credentials grant is used.
func NewTokenSource(ctx context.Context, creds models.Credentials, hc *http.Client) (oauth2.TokenSource, error) {
	if creds.AccessToken != "" {
		return staticTokenSource(creds, time.Now())
	}

	if !creds.HasSecret() {
		return nil, apperrors.NewAuthError(ErrAuthFailed.Code,
			"tenant id, client id and client secret (or an access token) are required")
	}

	authority := creds.Authority
	if authority == "" {
		authority = DefaultAuthority
	}

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authority, "/"), creds.TenantID),
		Scopes:       []string{GraphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return cfg.TokenSource(ctx), nil
}

func staticTokenSource(creds models.Credentials, now time.Time) (oauth2.TokenSource, error) {
	info, err := InspectToken(creds.AccessToken)
	if err != nil {
		return nil, err
	}
	if !info.ExpiresAt.IsZero() && !now.Before(info.ExpiresAt) {
		return nil, apperrors.NewAuthError(ErrAuthFailed.Code,
			fmt.Sprintf("access token expired at %s", info.ExpiresAt.Format(time.RFC3339)))
	}
	if creds.TenantID != "" && info.TenantID != "" && !strings.EqualFold(creds.TenantID, info.TenantID) {
		return nil, apperrors.NewAuthError(ErrAuthFailed.Code, "access token was issued for another tenant").
			WithContext("token_tenant", info.TenantID).
			WithContext("configured_tenant", creds.TenantID)
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: creds.AccessToken,
		TokenType:   "Bearer",
		Expiry:      info.ExpiresAt,
	}), nil
}
