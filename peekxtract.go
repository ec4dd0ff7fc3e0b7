// Package peekxtract enumerates and selectively extracts members of a
// ZIP archive served over HTTP(S) range requests, without ever
// downloading the whole archive.
package peekxtract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ArKT-7/PeekXtract/internal/cache"
	"github.com/ArKT-7/PeekXtract/internal/codec"
	"github.com/ArKT-7/PeekXtract/internal/extract"
	"github.com/ArKT-7/PeekXtract/internal/localheader"
	"github.com/ArKT-7/PeekXtract/internal/rangeclient"
	"github.com/ArKT-7/PeekXtract/internal/urlresolve"
	"github.com/ArKT-7/PeekXtract/internal/zipcat"
)

// Error kinds, per the engine's taxonomy. Each is wrapped with more
// context via fmt.Errorf's %w so callers can branch with errors.Is.
var (
	ErrTransport = errors.New("peekxtract: transport error")
	ErrProtocol  = errors.New("peekxtract: protocol error")
	ErrFormat    = errors.New("peekxtract: format error")
	ErrBounds    = errors.New("peekxtract: index out of bounds")
)

// Resolver normalizes a URL before the archive is probed. See
// internal/urlresolve for the shipped RedirectResolver.
type Resolver = urlresolve.Resolver

// Sink receives the final bytes of one extracted member. Implementations
// own path sanitization and filesystem materialization; the engine only
// calls Write and Close.
type Sink interface {
	io.WriteCloser
}

// Telemetry summarizes one extraction's transfer.
type Telemetry = extract.Telemetry

// Member is one cataloged, non-directory entry with at least one nonzero
// size, in central-directory encounter order.
type Member struct {
	Index            int // 1-based position in the catalog, stable across calls
	Name             string
	Method           uint16
	CompressedSize   uint64
	UncompressedSize uint64
	CRC32            uint32
}

// Handle is an opened archive: a resolved URL, a probed length, and a
// parsed member catalog. It owns the shared HTTP connection pool and
// response cache for every read it ever performs.
type Handle struct {
	client  *rangeclient.Client
	cache   *cache.Cache
	url     string
	length  int64
	members []zipcat.Member
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	resolver Resolver
}

// WithResolver overrides the URL resolution strategy. The default is
// urlresolve.RedirectResolver.
func WithResolver(r Resolver) OpenOption {
	return func(c *openConfig) { c.resolver = r }
}

// Open resolves url, probes the server for range support and archive
// length, and parses the member catalog. It performs no decompression.
func Open(ctx context.Context, url string, opts ...OpenOption) (*Handle, error) {
	cfg := openConfig{resolver: urlresolve.NewRedirectResolver(nil)}
	for _, opt := range opts {
		opt(&cfg)
	}

	resolved := cfg.resolver.Resolve(ctx, url)

	c, err := cache.New()
	if err != nil {
		return nil, fmt.Errorf("peekxtract: opening cache: %w", err)
	}

	client := rangeclient.New(resolved, c)
	length, effectiveURL, err := client.Probe(ctx)
	if err != nil && resolved != url {
		slog.Warn("peekxtract: resolved URL failed probe, retrying original URL", "resolved", resolved, "err", err)
		client = rangeclient.New(url, c)
		length, effectiveURL, err = client.Probe(ctx)
	}
	if err != nil {
		c.Close()
		if errors.Is(err, rangeclient.ErrRangesUnsupported) {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	slog.Info("peekxtract: opened archive", "url", effectiveURL, "length", length)

	members, err := zipcat.Parse(client, length)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	return &Handle{client: client, cache: c, url: effectiveURL, length: length, members: members}, nil
}

// Close releases the handle's cache. The handle's HTTP client and its idle
// connections are not closed.
func (h *Handle) Close() error {
	return h.cache.Close()
}

// URL returns the archive's effective (post-resolution, post-redirect)
// URL.
func (h *Handle) URL() string { return h.url }

// Length returns the archive's total byte length.
func (h *Handle) Length() int64 { return h.length }

// Header returns the response headers observed while probing the
// archive's URL, useful for deriving a default filename from
// Content-Disposition.
func (h *Handle) Header() http.Header { return h.client.Header() }

// List returns the full catalog in encounter order.
func (h *Handle) List() []Member {
	out := make([]Member, len(h.members))
	for i, m := range h.members {
		out[i] = toMember(i+1, m)
	}
	return out
}

// Search returns catalog entries whose name matches pattern, treating
// pattern as a regular expression when it compiles as one, and falling
// back to a plain substring match otherwise.
func (h *Handle) Search(pattern string) []Member {
	re, err := regexp.Compile(pattern)
	var match func(name string) bool
	if err == nil {
		match = re.MatchString
	} else {
		match = func(name string) bool { return strings.Contains(name, pattern) }
	}

	var out []Member
	for i, m := range h.members {
		if match(m.Name) {
			out = append(out, toMember(i+1, m))
		}
	}
	return out
}

// SearchGlob returns catalog entries whose name matches a doublestar
// glob pattern (shell-style, supporting ** for recursive matching). This
// is additive to Search's regex/substring contract.
func (h *Handle) SearchGlob(pattern string) []Member {
	var out []Member
	for i, m := range h.members {
		if ok, _ := doublestar.Match(pattern, m.Name); ok {
			out = append(out, toMember(i+1, m))
		}
	}
	return out
}

// ExtractOptions configures Extract and ExtractBulk.
type ExtractOptions struct {
	// Sink receives the extracted bytes. When nil, the result carries the
	// artifact in memory instead.
	Sink io.Writer
	// Progress is called as bytes are fetched for one member.
	Progress extract.Progress
	// NoVerify disables CRC-32 verification (the default verifies).
	NoVerify bool
}

// ExtractResult is the outcome of extracting one member.
type ExtractResult struct {
	Data       []byte
	Telemetry  Telemetry
	CRCChecked bool
	CRCOK      bool
}

// Extract downloads and decompresses the member at the given 1-based
// catalog index.
func (h *Handle) Extract(ctx context.Context, index int, opts ExtractOptions) (ExtractResult, error) {
	if index < 1 || index > len(h.members) {
		return ExtractResult{}, fmt.Errorf("%w: index %d (catalog has %d entries)", ErrBounds, index, len(h.members))
	}
	cm := h.members[index-1]

	lh, err := localheader.Probe(h.client, int64(cm.LocalHeaderOffset), cm.Method, int64(cm.CompressedSize), int64(cm.UncompressedSize))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	member := extract.Member{
		PayloadStart:     lh.PayloadStart,
		CompressedSize:   lh.CompressedSize,
		UncompressedSize: int64(cm.UncompressedSize),
		Method:           lh.Method,
		CRC32:            cm.CRC32,
	}

	res, err := extract.Fetch(ctx, h.client, member, extract.Options{
		Progress:  opts.Progress,
		VerifyCRC: !opts.NoVerify,
		ExpectCRC: cm.CRC32,
		Sink:      opts.Sink,
	})
	if err != nil {
		if errors.Is(err, codec.ErrUnsupported) {
			return ExtractResult{}, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return ExtractResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return ExtractResult{
		Data:       res.Data,
		Telemetry:  res.Telemetry,
		CRCChecked: res.CRCChecked,
		CRCOK:      res.CRCOK,
	}, nil
}

// ExtractBulk extracts several indices, continuing past per-member
// failures. Failed indices are absent from the returned map; ExtractBulk
// returns the first error encountered alongside whatever results
// completed, since a partial bulk extraction is still useful to the
// caller.
func (h *Handle) ExtractBulk(ctx context.Context, indices []int, opts ExtractOptions) (map[int]ExtractResult, error) {
	out := make(map[int]ExtractResult, len(indices))
	var firstErr error
	for _, idx := range indices {
		res, err := h.Extract(ctx, idx, opts)
		if err != nil {
			slog.Warn("peekxtract: bulk extraction failed for member", "index", idx, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[idx] = res
	}
	return out, firstErr
}

func toMember(index int, m zipcat.Member) Member {
	return Member{
		Index:            index,
		Name:             m.Name,
		Method:           m.Method,
		CompressedSize:   m.CompressedSize,
		UncompressedSize: m.UncompressedSize,
		CRC32:            m.CRC32,
	}
}

// telemetryThroughput computes t's average throughput in bytes per
// second, or 0 when no time has elapsed.
func telemetryThroughput(t Telemetry) float64 {
	if t.Elapsed <= 0 {
		return 0
	}
	return float64(t.BytesTransferred) / t.Elapsed.Seconds()
}
