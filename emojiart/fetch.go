package emojiart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"syscall"
	"time"
)

// Fetcher downloads the bytes behind a background URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// DefaultMaxFetchBytes caps background downloads.
const DefaultMaxFetchBytes = 20 << 20

// maxFetchRedirects bounds the redirect chain of a single fetch.
const maxFetchRedirects = 5

// ErrForbiddenAddress is returned when a fetch would connect to a loopback,
// private, link-local or otherwise non-public address.
var ErrForbiddenAddress = errors.New("fetch: address not allowed")

// HTTPFetcher fetches over HTTP. With a nil Client it dials through a guard
// that refuses non-public addresses unless AllowPrivate is set; the guard
// sees every connection, redirects included.
type HTTPFetcher struct {
	Client       *http.Client
	MaxBytes     int64
	AllowPrivate bool

	once    sync.Once
	guarded *http.Client
}

// NewHTTPFetcher returns a fetcher with its own guarded client.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, allowPrivate bool) *HTTPFetcher {
	return &HTTPFetcher{
		Client:       newFetchClient(timeout, allowPrivate),
		MaxBytes:     maxBytes,
		AllowPrivate: allowPrivate,
	}
}

func newFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer.Control = publicOnly
		// Proxies bypass the dial guard.
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxFetchRedirects {
				return fmt.Errorf("stopped after %d redirects", maxFetchRedirects)
			}
			return nil
		},
	}
}

// publicOnly is a net.Dialer Control hook. It runs after name resolution,
// so it checks the address actually dialed.
func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	if !isPublicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func isPublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	switch {
	case !ip.IsGlobalUnicast(),
		ip.IsPrivate(),
		ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		sharedAddressSpace.Contains(ip):
		return false
	}
	return true
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	f.once.Do(func() {
		f.guarded = newFetchClient(0, f.AllowPrivate)
	})
	return f.guarded
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFetchBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", rawURL, limit)
	}
	return data, nil
}

// CanonicalImageURL unwraps links that carry the real image location in an
// imgurl query parameter, as image search results do.
func CanonicalImageURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	if inner := u.Query().Get("imgurl"); inner != "" {
		if parsed, err := url.Parse(inner); err == nil && parsed.Scheme != "" {
			return parsed
		}
	}
	return u
}
