package issuer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

const defaultKeycloakTimeout = 10 * time.Second

// KeycloakIssuer delegates to the token endpoint of a keycloak realm. Each
// room posts its own pre-configured grant.
type KeycloakIssuer struct {
	cfg           config.KeycloakConfig
	tokenEndpoint string
	timeout       time.Duration

	httpClient *req.Client
	logger     *zap.SugaredLogger
}

type keycloakTokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type keycloakErrorResult struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func NewKeycloakIssuer(cfg config.KeycloakConfig, httpClient *req.Client, loggerFactory *infra.LoggerFactory) *KeycloakIssuer {
	timeout := defaultKeycloakTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &KeycloakIssuer{
		cfg:           cfg,
		tokenEndpoint: strings.TrimSuffix(cfg.BaseUri, "/") + "/protocol/openid-connect/token",
		timeout:       timeout,
		httpClient:    httpClient,
		logger:        loggerFactory.Create("KeycloakIssuer").Sugar(),
	}
}

func (i *KeycloakIssuer) IssueToken(ctx context.Context, room, ticketId string) (string, int64, error) {
	grant, ok := i.cfg.Rooms[strings.ToLower(room)]
	if !ok {
		return "", 0, fmt.Errorf("%w: room[%v]", ErrUnknownRoom, room)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	result := &keycloakTokenResult{}
	errResult := &keycloakErrorResult{}
	resp, err := i.httpClient.R().
		SetContext(ctx).
		SetFormData(grantForm(grant)).
		SetResult(result).
		SetError(errResult).
		Post(i.tokenEndpoint)
	if err != nil {
		return "", 0, fmt.Errorf("%w: room[%v]: %v", ErrTokenRequest, room, err)
	}
	if resp.IsError() {
		return "", 0, fmt.Errorf("%w: room[%v] status[%v] error[%v] %v", ErrTokenRequest, room, resp.StatusCode, errResult.Error, errResult.Description)
	}

	expires, err := tokenExpiry(result.AccessToken)
	if err != nil {
		return "", 0, fmt.Errorf("room[%v]: %w", room, err)
	}

	i.logger.Debugf("token issued room[%v] ticketId[%v] expires[%v]", room, ticketId, expires)
	return result.AccessToken, expires, nil
}

func grantForm(grant config.KeycloakTokenRequest) map[string]string {
	form := map[string]string{}
	for key, value := range map[string]string{
		"client_id":     grant.ClientId,
		"grant_type":    grant.GrantType,
		"client_secret": grant.ClientSecret,
		"audience":      grant.Audience,
		"scope":         grant.Scope,
		"username":      grant.Username,
		"password":      grant.Password,
	} {
		if value != "" {
			form[key] = value
		}
	}
	return form
}

// tokenExpiry reads exp without verifying the signature.
func tokenExpiry(token string) (int64, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("decode access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return 0, fmt.Errorf("decode access token exp: %w", err)
	}
	if exp == nil {
		return 0, fmt.Errorf("access token has no exp claim")
	}
	return exp.Unix(), nil
}
