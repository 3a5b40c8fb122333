package issuer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("keycloak-secret"))
	require.NoError(t, err)
	return token
}

func newKeycloakIssuer(baseUri string, timeoutSeconds int) *KeycloakIssuer {
	return NewKeycloakIssuer(config.KeycloakConfig{
		BaseUri:        baseUri,
		TimeoutSeconds: timeoutSeconds,
		Rooms: map[string]config.KeycloakTokenRequest{
			"lobby": {
				ClientId:     "waiting-room",
				GrantType:    "client_credentials",
				ClientSecret: "s3cret",
				Scope:        "openid",
			},
		},
	}, infra.ProvideHttpClient(), infra.NewNopLoggerFactory())
}

func TestKeycloakIssuer_IssueToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	token := accessToken(t, exp)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/realms/joker/protocol/openid-connect/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "waiting-room", r.PostForm.Get("client_id"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "openid", r.PostForm.Get("scope"))
		_, hasUsername := r.PostForm["username"]
		assert.False(t, hasUsername)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": token,
			"expires_in":   300,
		})
	}))
	defer server.Close()

	iss := newKeycloakIssuer(server.URL+"/realms/joker/", 0)
	issued, expires, err := iss.IssueToken(context.Background(), "Lobby", "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, token, issued)
	assert.Equal(t, exp.Unix(), expires)
}

func TestKeycloakIssuer_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client",
			"error_description": "Invalid client credentials",
		})
	}))
	defer server.Close()

	_, _, err := newKeycloakIssuer(server.URL, 0).IssueToken(context.Background(), "lobby", "ticket-1")
	require.ErrorIs(t, err, ErrTokenRequest)
	assert.Contains(t, err.Error(), "invalid_client")
}

func TestKeycloakIssuer_MalformedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"not-a-jwt"}`))
	}))
	defer server.Close()

	_, _, err := newKeycloakIssuer(server.URL, 0).IssueToken(context.Background(), "lobby", "ticket-1")
	assert.Error(t, err)
}

func TestKeycloakIssuer_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, _, err := newKeycloakIssuer(server.URL, 1).IssueToken(context.Background(), "lobby", "ticket-1")
	assert.ErrorIs(t, err, ErrTokenRequest)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestKeycloakIssuer_UnknownRoom(t *testing.T) {
	_, _, err := newKeycloakIssuer("http://127.0.0.1:1", 0).IssueToken(context.Background(), "Cellar", "ticket-1")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}
