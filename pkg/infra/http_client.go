package infra

import (
	"time"

	"github.com/imroc/req/v3"
)

const defaultHttpTimeout = 10 * time.Second

// ProvideHttpClient returns the shared outbound client. It never retries:
// callers own their retry policy.
func ProvideHttpClient() *req.Client {
	return req.C().
		SetTimeout(defaultHttpTimeout).
		SetUserAgent("joker-waiting-room-server")
}
