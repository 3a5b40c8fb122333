package issuer

import (
	"crypto/sha1"
	"encoding/base64"
	"math/big"
)

type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey is an RSA public key as described by RFC 7517.
type JSONWebKey struct {
	Kty string   `json:"kty"`
	Use string   `json:"use"`
	Alg string   `json:"alg"`
	Kid string   `json:"kid"`
	X5t string   `json:"x5t"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

func newJSONWebKey(cert *signingCert) JSONWebKey {
	publicKey := cert.key.PublicKey
	thumbprint := sha1.Sum(cert.cert.Raw)

	return JSONWebKey{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: cert.kid,
		X5t: base64.RawURLEncoding.EncodeToString(thumbprint[:]),
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		X5c: []string{base64.StdEncoding.EncodeToString(cert.cert.Raw)},
	}
}
