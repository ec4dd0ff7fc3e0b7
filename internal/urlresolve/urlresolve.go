// Package urlresolve normalizes share/release URLs to a direct-download
// URL before the range client ever probes it. The core only ships the
// "release-style redirect follow" strategy of spec §4.B; share-link
// scraping that requires a headless browser is an external collaborator,
// represented here only by the Resolver interface.
package urlresolve

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Resolver normalizes a URL before the range client probes it. Resolve
// must return a candidate URL or, on any failure to improve on the input,
// the original url unchanged — it never returns an error the caller must
// act on, since the contract is "probe succeeds on the result, or it's
// the original".
type Resolver interface {
	Resolve(ctx context.Context, url string) string
}

// RedirectResolver implements strategy 1 of spec §4.B: HEAD the URL
// following redirects, and hand back wherever that lands. It does not
// itself verify range support; the caller's subsequent Probe call is the
// actual gate, falling back to the original URL if that candidate fails.
type RedirectResolver struct {
	// Client performs the HEAD request. If nil, http.DefaultClient is used.
	Client *http.Client
	// Timeout bounds the HEAD request. Defaults to 10s.
	Timeout time.Duration
}

// NewRedirectResolver returns a resolver using client (or
// http.DefaultClient if nil).
func NewRedirectResolver(client *http.Client) *RedirectResolver {
	return &RedirectResolver{Client: client}
}

func (r *RedirectResolver) Resolve(ctx context.Context, url string) string {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		slog.Warn("urlresolve: building HEAD request failed, using original URL", "url", url, "err", err)
		return url
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("urlresolve: HEAD request failed, using original URL", "url", url, "err", err)
		return url
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return url
	}
	return resp.Request.URL.String()
}

// Identity is a Resolver that never changes the URL, used when no
// resolution strategy is configured.
type Identity struct{}

func (Identity) Resolve(_ context.Context, url string) string { return url }
