package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IssuerConfig is the content of the --issuer-config yaml file.
type IssuerConfig struct {
	Issuer IssuerSection `yaml:"issuer"`
	Admin  AdminSection  `yaml:"admin"`
}

type IssuerSection struct {
	// Kind selects the token issuer: keycloak or internal.
	Kind     string         `yaml:"kind"`
	Keycloak KeycloakConfig `yaml:"keycloak"`
	Internal InternalConfig `yaml:"internal"`
}

type KeycloakConfig struct {
	BaseUri        string                          `yaml:"baseUri"`
	TimeoutSeconds int                             `yaml:"timeoutSeconds"`
	Rooms          map[string]KeycloakTokenRequest `yaml:"rooms"`
}

// KeycloakTokenRequest is the grant posted to the token endpoint for a room.
// Field names follow the OAuth2 form parameters.
type KeycloakTokenRequest struct {
	ClientId     string `yaml:"client_id"`
	GrantType    string `yaml:"grant_type"`
	ClientSecret string `yaml:"client_secret"`
	Audience     string `yaml:"audience"`
	Scope        string `yaml:"scope"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

type InternalConfig struct {
	Rooms map[string]InternalRoomConfig `yaml:"rooms"`
}

type InternalRoomConfig struct {
	Issuer string `yaml:"issuer"`

	// Override for the jwks_uri advertised in the discovery document.
	JwksUri string `yaml:"jwksUri"`

	// Token lifetime in minutes.
	TokenTtl int `yaml:"tokenTtl"`

	Certificates []CertificateConfig `yaml:"certificates"`
}

// CertificateConfig points at either a PKCS#12 bundle (Path + Password) or a
// PEM certificate with its PEM private key (CertPath + KeyPath).
type CertificateConfig struct {
	Path     string `yaml:"path"`
	Password string `yaml:"password"`
	CertPath string `yaml:"certPath"`
	KeyPath  string `yaml:"keyPath"`
}

type AdminSection struct {
	Keys []AdminKey `yaml:"keys"`
}

// AdminKey grants the bearer of Key admin access to Rooms. "*" grants all
// rooms.
type AdminKey struct {
	Key   string   `yaml:"key"`
	Rooms []string `yaml:"rooms"`
}

func ProvideIssuerConfig(cfg *Config) (*IssuerConfig, error) {
	return LoadIssuerConfig(*cfg.IssuerConfigPath)
}

func LoadIssuerConfig(path string) (*IssuerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issuer config %v: %w", path, err)
	}
	return ParseIssuerConfig(raw)
}

// ParseIssuerConfig decodes yaml and lower-cases every room key so lookups
// are case-insensitive.
func ParseIssuerConfig(raw []byte) (*IssuerConfig, error) {
	issuerCfg := &IssuerConfig{}
	if err := yaml.Unmarshal(raw, issuerCfg); err != nil {
		return nil, fmt.Errorf("parse issuer config: %w", err)
	}

	keycloakRooms := make(map[string]KeycloakTokenRequest, len(issuerCfg.Issuer.Keycloak.Rooms))
	for room, req := range issuerCfg.Issuer.Keycloak.Rooms {
		keycloakRooms[strings.ToLower(room)] = req
	}
	issuerCfg.Issuer.Keycloak.Rooms = keycloakRooms

	internalRooms := make(map[string]InternalRoomConfig, len(issuerCfg.Issuer.Internal.Rooms))
	for room, roomCfg := range issuerCfg.Issuer.Internal.Rooms {
		internalRooms[strings.ToLower(room)] = roomCfg
	}
	issuerCfg.Issuer.Internal.Rooms = internalRooms

	return issuerCfg, nil
}

// AdminRooms returns the rooms key may administer, or false for an unknown
// key.
func (c *IssuerConfig) AdminRooms(key string) ([]string, bool) {
	for _, adminKey := range c.Admin.Keys {
		if adminKey.Key != "" && subtle.ConstantTimeCompare([]byte(adminKey.Key), []byte(key)) == 1 {
			return adminKey.Rooms, true
		}
	}
	return nil, false
}
