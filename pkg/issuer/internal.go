package issuer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"
	"game-soul-technology/joker/joker-waiting-room-server/pkg/infra"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// InternalIssuer signs RS256 tokens with per room certificates. Operators
// rotate keys by adding a certificate that expires later than the current
// one; it takes over once the earlier one expires.
type InternalIssuer struct {
	cfg config.InternalConfig

	// Replaced wholesale by Reload, never mutated.
	table atomic.Pointer[signingTable]

	clock  infra.Clock
	logger *zap.SugaredLogger
}

// Key value: lower-cased room -> signing state of the room.
type signingTable map[string]*roomSigning

type roomSigning struct {
	issuer   string
	jwksUri  string
	tokenTtl time.Duration

	// Sorted by NotAfter.
	certs []*signingCert
}

type ticketClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp"`
}

func NewInternalIssuer(cfg config.InternalConfig, clock infra.Clock, loggerFactory *infra.LoggerFactory) (*InternalIssuer, error) {
	i := &InternalIssuer{
		cfg:    cfg,
		clock:  clock,
		logger: loggerFactory.Create("InternalIssuer").Sugar(),
	}
	if err := i.Reload(); err != nil {
		return nil, err
	}
	return i, nil
}

// Reload reads every configured certificate again and swaps the signing
// table. On error the previous table stays in place.
func (i *InternalIssuer) Reload() error {
	table, err := buildSigningTable(i.cfg)
	if err != nil {
		return err
	}
	i.table.Store(&table)

	for room, signing := range table {
		for _, cert := range signing.certs {
			i.logger.Infof("signing certificate loaded room[%v] kid[%v] notAfter[%v]", room, cert.kid, cert.cert.NotAfter)
		}
	}
	return nil
}

func buildSigningTable(cfg config.InternalConfig) (signingTable, error) {
	table := make(signingTable, len(cfg.Rooms))
	for room, roomCfg := range cfg.Rooms {
		if roomCfg.Issuer == "" {
			return nil, fmt.Errorf("room[%v]: issuer is required", room)
		}
		if roomCfg.TokenTtl < 1 {
			return nil, fmt.Errorf("room[%v]: tokenTtl must be at least 1 minute", room)
		}
		if len(roomCfg.Certificates) == 0 {
			return nil, fmt.Errorf("room[%v]: no certificates configured", room)
		}

		signing := &roomSigning{
			issuer:   roomCfg.Issuer,
			jwksUri:  roomCfg.JwksUri,
			tokenTtl: time.Duration(roomCfg.TokenTtl) * time.Minute,
		}
		if signing.jwksUri == "" {
			signing.jwksUri = strings.TrimSuffix(roomCfg.Issuer, "/") + "/protocol/openid-connect/jwks"
		}
		for _, certCfg := range roomCfg.Certificates {
			cert, err := loadCertificate(certCfg)
			if err != nil {
				return nil, fmt.Errorf("room[%v]: %w", room, err)
			}
			signing.certs = append(signing.certs, cert)
		}
		sortByExpiry(signing.certs)

		table[strings.ToLower(room)] = signing
	}
	return table, nil
}

func (i *InternalIssuer) room(room string) (*roomSigning, error) {
	signing, ok := (*i.table.Load())[strings.ToLower(room)]
	if !ok {
		return nil, fmt.Errorf("%w: room[%v]", ErrUnknownRoom, room)
	}
	return signing, nil
}

func (i *InternalIssuer) IssueToken(ctx context.Context, room, ticketId string) (string, int64, error) {
	signing, err := i.room(room)
	if err != nil {
		return "", 0, err
	}

	now := i.clock()
	cert := selectCertificate(signing.certs, now)
	if cert == nil {
		return "", 0, fmt.Errorf("%w: room[%v]", ErrNoValidCert, room)
	}

	expires := now.Add(signing.tokenTtl)
	claims := ticketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signing.issuer,
			Subject:   ticketId,
			Audience:  jwt.ClaimStrings{room},
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        ticketId,
		},
		AuthorizedParty: room,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = cert.kid

	signed, err := token.SignedString(cert.key)
	if err != nil {
		return "", 0, fmt.Errorf("sign token room[%v]: %w", room, err)
	}

	i.logger.Debugf("token signed room[%v] ticketId[%v] kid[%v]", room, ticketId, cert.kid)
	return signed, expires.Unix(), nil
}

// JSONWebKeys lists the keys of certificates that are valid or expired less
// than one token lifetime ago, so tokens signed just before a rotation still
// verify.
func (i *InternalIssuer) JSONWebKeys(room string) (*JSONWebKeySet, error) {
	signing, err := i.room(room)
	if err != nil {
		return nil, err
	}

	cutoff := i.clock().Add(-signing.tokenTtl)
	keySet := &JSONWebKeySet{Keys: []JSONWebKey{}}
	for _, cert := range signing.certs {
		if cert.cert.NotAfter.After(cutoff) {
			keySet.Keys = append(keySet.Keys, newJSONWebKey(cert))
		}
	}
	return keySet, nil
}

func (i *InternalIssuer) OidcConfiguration(room string) (*OidcConfiguration, error) {
	signing, err := i.room(room)
	if err != nil {
		return nil, err
	}
	return &OidcConfiguration{
		Issuer:  signing.issuer,
		JwksUri: signing.jwksUri,
	}, nil
}
