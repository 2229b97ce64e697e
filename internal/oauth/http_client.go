package oauth

import (
	"net/http"
	"time"
)

// httpClient is the subset of *http.Client handleAuthorizationServerMetadata
// needs to proxy the upstream metadata document; kept as an interface so
// tests can stub it without a live network call.
type httpClient interface {
	Get(url string) (*http.Response, error)
}

func defaultHTTPClient() httpClient {
	return &http.Client{Timeout: 5 * time.Second}
}
