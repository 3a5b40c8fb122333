package issuer

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"game-soul-technology/joker/joker-waiting-room-server/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pkcs12"
)

type signingCert struct {
	// Uppercase hex SHA-1 thumbprint of the DER certificate.
	kid  string
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func loadCertificate(certCfg config.CertificateConfig) (*signingCert, error) {
	var (
		key  interface{}
		cert *x509.Certificate
		err  error
	)

	switch {
	case certCfg.Path != "":
		raw, err := os.ReadFile(certCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("read certificate bundle %v: %w", certCfg.Path, err)
		}
		if key, cert, err = pkcs12.Decode(raw, certCfg.Password); err != nil {
			return nil, fmt.Errorf("decode certificate bundle %v: %w", certCfg.Path, err)
		}

	case certCfg.CertPath != "" && certCfg.KeyPath != "":
		if cert, err = readPemCertificate(certCfg.CertPath); err != nil {
			return nil, err
		}
		rawKey, err := os.ReadFile(certCfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %v: %w", certCfg.KeyPath, err)
		}
		if key, err = jwt.ParseRSAPrivateKeyFromPEM(rawKey); err != nil {
			return nil, fmt.Errorf("parse private key %v: %w", certCfg.KeyPath, err)
		}

	default:
		return nil, fmt.Errorf("certificate needs either path or certPath and keyPath")
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certificate %v: private key is %T, want RSA", cert.Subject, key)
	}
	// The key set publishes n/e from the key and x5c from the certificate.
	if !rsaKey.PublicKey.Equal(cert.PublicKey) {
		return nil, fmt.Errorf("certificate %v: private key does not match the certificate public key", cert.Subject)
	}
	return newSigningCert(cert, rsaKey), nil
}

func newSigningCert(cert *x509.Certificate, key *rsa.PrivateKey) *signingCert {
	thumbprint := sha1.Sum(cert.Raw)
	return &signingCert{
		kid:  strings.ToUpper(hex.EncodeToString(thumbprint[:])),
		cert: cert,
		key:  key,
	}
}

func readPemCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate %v: %w", path, err)
	}
	for block, rest := pem.Decode(raw); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %v: %w", path, err)
		}
		return cert, nil
	}
	return nil, fmt.Errorf("no CERTIFICATE block in %v", path)
}

func sortByExpiry(certs []*signingCert) {
	sort.SliceStable(certs, func(a, b int) bool {
		return certs[a].cert.NotAfter.Before(certs[b].cert.NotAfter)
	})
}

// selectCertificate picks the earliest expiring certificate valid at now.
// certs must be sorted by expiry.
func selectCertificate(certs []*signingCert, now time.Time) *signingCert {
	for _, cert := range certs {
		if !now.Before(cert.cert.NotBefore) && now.Before(cert.cert.NotAfter) {
			return cert
		}
	}
	return nil
}
