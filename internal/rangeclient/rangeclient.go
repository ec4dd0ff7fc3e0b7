// Package rangeclient provides random-access byte-range reads over HTTP(S),
// the single primitive every higher layer of the engine treats the remote
// archive through.
package rangeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ArKT-7/PeekXtract/internal/cache"
)

// Error kinds surfaced to callers. Wrap with fmt.Errorf("%w: ...", Err*)
// so callers can branch with errors.Is.
var (
	// ErrRangesUnsupported means the server answered the bytes=0-0 probe
	// with 501 Not Implemented. Fatal at open time.
	ErrRangesUnsupported = errors.New("rangeclient: server does not support range requests")
	// ErrSizeUnknown means neither Content-Length nor Content-Range gave
	// a usable total length.
	ErrSizeUnknown = errors.New("rangeclient: could not determine archive length")
	// ErrBadStatus means a range read returned neither 206 nor an
	// acceptable 200.
	ErrBadStatus = errors.New("rangeclient: unexpected response status")
)

const (
	perAttemptTimeout = 30 * time.Second
	maxAttempts       = 3 // 1 initial + 2 retries
)

// Client is a random-access byte source over one HTTP(S) URL. One Client
// is owned by a single archive handle and reused for every read the
// handle ever performs; it holds the shared connection pool.
type Client struct {
	originalURL  string
	effectiveURL string
	length       int64
	header       http.Header

	retry *retryablehttp.Client
	cache *cache.Cache
}

// New constructs a Client for url. cache may be nil to disable response
// caching.
func New(url string, c *cache.Cache) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxAttempts - 1
	rc.Logger = nil // attempts are logged explicitly from checkRetry instead
	rc.Backoff = fixedBackoff
	rc.CheckRetry = checkRetry
	rc.HTTPClient.Timeout = perAttemptTimeout

	return &Client{
		originalURL:  url,
		effectiveURL: url,
		retry:        rc,
		cache:        c,
	}
}

// fixedBackoff reproduces the engine's exact 1s/2s/4s retry cadence,
// ignoring retryablehttp's default jittered curve.
func fixedBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	switch attemptNum {
	case 0:
		return time.Second
	case 1:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

// checkRetry also logs every retry decision it makes, the same place
// github.com/containerd/stargz-snapshotter's remote resolver logs from
// inside its own retryablehttp CheckRetry hook rather than relying on the
// client's built-in attempt logger.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		slog.Warn("rangeclient: retrying after transport error", "url", requestURL(resp), "err", err)
		return true, nil
	}
	if resp.StatusCode == http.StatusNotImplemented {
		return false, nil // protocol failure, not transient
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		slog.Warn("rangeclient: retrying after unexpected status", "url", requestURL(resp), "status", resp.StatusCode)
		return true, nil
	}
	return false, nil
}

// requestURL recovers the request URL from a response for logging; resp is
// nil on transport errors, where the caller logs the error itself instead.
func requestURL(resp *http.Response) string {
	if resp == nil || resp.Request == nil {
		return ""
	}
	return resp.Request.URL.String()
}

// EffectiveURL returns the URL reads are actually issued against, which
// may differ from the constructor's URL after following redirects during
// Probe.
func (c *Client) EffectiveURL() string { return c.effectiveURL }

// Length returns the archive's total byte length, valid after Probe.
func (c *Client) Length() int64 { return c.length }

// Header returns the response headers observed during Probe (the HEAD
// response when it succeeded, otherwise the range probe's own response),
// useful for deriving a default filename from Content-Disposition.
func (c *Client) Header() http.Header { return c.header }

// Probe issues a HEAD (following redirects), then a Range: bytes=0-0 GET,
// establishing the effective URL and the archive's total length. It fails
// with ErrRangesUnsupported if the server answers 501, and with
// ErrSizeUnknown if no usable length can be determined.
func (c *Client) Probe(ctx context.Context) (length int64, effectiveURL string, err error) {
	headCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	headReq, err := http.NewRequestWithContext(headCtx, http.MethodHead, c.originalURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("rangeclient: building HEAD request: %w", err)
	}
	headResp, headErr := c.retry.HTTPClient.Do(headReq)
	var headLength int64 = -1
	if headErr == nil {
		defer headResp.Body.Close()
		c.effectiveURL = headResp.Request.URL.String()
		c.header = headResp.Header
		if cl := headResp.Header.Get("Content-Length"); cl != "" {
			if n, parseErr := strconv.ParseInt(cl, 10, 64); parseErr == nil {
				headLength = n
			}
		}
	} else {
		slog.Warn("rangeclient: HEAD request failed, continuing with range probe", "url", c.originalURL, "err", headErr)
	}

	probeCtx, cancel2 := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel2()
	probeReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.effectiveURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("rangeclient: building probe request: %w", err)
	}
	probeReq.Header.Set("Range", "bytes=0-0")
	probeResp, err := c.retry.HTTPClient.Do(probeReq)
	if err != nil {
		return 0, "", fmt.Errorf("rangeclient: range probe: %w", err)
	}
	defer probeResp.Body.Close()
	io.Copy(io.Discard, probeResp.Body)

	if probeResp.StatusCode == http.StatusNotImplemented {
		return 0, "", ErrRangesUnsupported
	}

	c.effectiveURL = probeResp.Request.URL.String()
	if c.header == nil {
		c.header = probeResp.Header
	}

	length = headLength
	if length < 0 {
		if probeResp.StatusCode == http.StatusPartialContent {
			if cr := probeResp.Header.Get("Content-Range"); cr != "" {
				if i := strings.LastIndexByte(cr, '/'); i >= 0 {
					if n, parseErr := strconv.ParseInt(cr[i+1:], 10, 64); parseErr == nil {
						length = n
					}
				}
			}
		}
	}
	if length < 0 {
		return 0, "", ErrSizeUnknown
	}

	if probeResp.StatusCode != http.StatusPartialContent && probeResp.StatusCode != http.StatusOK {
		slog.Warn("rangeclient: range probe returned unexpected status", "status", probeResp.StatusCode)
	}

	c.length = length
	return length, c.effectiveURL, nil
}

// Read fetches [offset, offset+length) from the effective URL, retrying
// transient failures with 1s/2s/4s backoff (three attempts total). A
// successful response is cached for later reads of the identical range.
func (c *Client) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	key := cache.Key(c.effectiveURL, offset, length)
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout*maxAttempts)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, c.effectiveURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rangeclient: building range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.retry.Do(req)
	if err != nil {
		slog.Error("rangeclient: read exhausted retries", "offset", offset, "length", length, "err", err)
		return nil, fmt.Errorf("rangeclient: read [%d,%d): %w", offset, offset+length, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		slog.Error("rangeclient: read exhausted retries with bad status", "offset", offset, "length", length, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rangeclient: reading response body: %w", err)
	}

	c.cache.Set(key, data)
	return data, nil
}

// ReadAt adapts Read to io.ReaderAt for components (the structural parser,
// the local-header probe) that are simplest to write against a
// random-access reader.
func (c *Client) ReadAt(p []byte, off int64) (int, error) {
	data, err := c.Read(context.Background(), off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
