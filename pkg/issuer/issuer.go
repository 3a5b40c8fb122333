package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/imroc/req/v3"
)

const (
	KindKeycloak = "keycloak"
	KindInternal = "internal"
)

var (
	ErrUnknownRoom  = errors.New("room has no issuer configuration")
	ErrNoValidCert  = errors.New("room has no currently valid signing certificate")
	ErrUnknownKind  = errors.New("unknown issuer kind")
	ErrTokenRequest = errors.New("token endpoint request failed")
)

// Issuer hands out the bearer token an admitted ticket gets.
type Issuer interface {
	// IssueToken returns the token and its expiry in epoch seconds.
	IssueToken(ctx context.Context, room, ticketId string) (string, int64, error)
}

// KeySource is implemented by issuers that sign locally and therefore can
// publish their verification keys.
type KeySource interface {
	JSONWebKeys(room string) (*JSONWebKeySet, error)
	OidcConfiguration(room string) (*OidcConfiguration, error)
}

// Reloader is implemented by issuers whose key material can be reloaded
// without a restart.
type Reloader interface {
	Reload() error
}

type OidcConfiguration struct {
	Issuer  string `json:"issuer"`
	JwksUri string `json:"jwks_uri"`
}

// ProvideIssuer picks the issuer named by issuer.kind. Unknown kinds fail
// startup.
func ProvideIssuer(issuerCfg *config.IssuerConfig, httpClient *req.Client, clock infra.Clock, loggerFactory *infra.LoggerFactory) (Issuer, error) {
	switch kind := strings.ToLower(issuerCfg.Issuer.Kind); kind {
	case KindKeycloak:
		return NewKeycloakIssuer(issuerCfg.Issuer.Keycloak, httpClient, loggerFactory), nil
	case KindInternal:
		return NewInternalIssuer(issuerCfg.Issuer.Internal, clock, loggerFactory)
	default:
		return nil, fmt.Errorf("%w[%v], want %v or %v", ErrUnknownKind, kind, KindKeycloak, KindInternal)
	}
}
