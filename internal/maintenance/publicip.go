package maintenance

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

// Default discovery endpoints, in try-order, matching init_ip_info's
// IPV4_URL1/2 and IPV6_URL1/2.
var (
	defaultIPv4URLs = []string{"http://v4.ident.me/", "http://ipv4.icanhazip.com/"}
	defaultIPv6URLs = []string{"http://v6.ident.me/", "http://ipv6.icanhazip.com/"}
)

// PublicIPInfo is the proxy's own externally-visible address, discovered by
// asking a couple of "what's my IP" services. The middle-proxy RPC_PROXY_REQ
// envelope needs this address to identify the forwarding proxy to Telegram;
// if neither family resolves, middle-proxy dialing has no usable "our
// address" to advertise and should stay disabled the same way
// original_source disables advertising in that case.
type PublicIPInfo struct {
	client *http.Client
	v4URLs []string
	v6URLs []string

	v4 atomic.Pointer[string]
	v6 atomic.Pointer[string]

	logger mtglib.Logger
}

// NewPublicIPInfo builds the discovery task. It does one-shot discovery
// only: original_source runs it once at startup (init_ip_info), since the
// proxy's own address practically never changes mid-run.
func NewPublicIPInfo(client *http.Client, logger mtglib.Logger) *PublicIPInfo {
	return &PublicIPInfo{
		client: client,
		v4URLs: defaultIPv4URLs,
		v6URLs: defaultIPv6URLs,
		logger: logger.Named("public-ip"),
	}
}

// Discover runs the lookups once, synchronously. Call it before Start()ing
// anything that needs the result (the middle-proxy dial path).
func (p *PublicIPInfo) Discover() {
	if ip := p.firstOf(p.v4URLs); ip != nil {
		p.v4.Store(ip)
	}

	if ip := p.firstOf(p.v6URLs); ip != nil {
		// the server can return an IPv4 address on the "v6" endpoint when it
		// has no v6 connectivity of its own; original_source discards that.
		if strings.Contains(*ip, ":") {
			p.v6.Store(ip)
		}
	}

	switch {
	case p.v4.Load() == nil && p.v6.Load() == nil:
		p.logger.Warning("failed to determine our own public ip, middle proxy advertising should stay disabled")
	case p.v6.Load() != nil:
		p.logger.Info("ipv6 connectivity found")
	}
}

// IPv4 returns the discovered public IPv4 address, or nil if discovery
// failed or hasn't run.
func (p *PublicIPInfo) IPv4() net.IP {
	return parseStored(p.v4.Load())
}

// IPv6 returns the discovered public IPv6 address, or nil if discovery
// failed, hasn't run, or the host has no real v6 connectivity.
func (p *PublicIPInfo) IPv6() net.IP {
	return parseStored(p.v6.Load())
}

// Unreachable reports whether discovery found neither address family.
func (p *PublicIPInfo) Unreachable() bool {
	return p.v4.Load() == nil && p.v6.Load() == nil
}

func parseStored(s *string) net.IP {
	if s == nil {
		return nil
	}

	return net.ParseIP(*s)
}

func (p *PublicIPInfo) firstOf(urls []string) *string {
	for _, url := range urls {
		ip, err := p.fetch(url)
		if err != nil {
			continue
		}

		return &ip
	}

	return nil
}

func (p *PublicIPInfo) fetch(url string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint: gomnd
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err //nolint: wrapcheck
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err //nolint: wrapcheck
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint: gomnd
	if err != nil {
		return "", err //nolint: wrapcheck
	}

	return strings.TrimSpace(string(body)), nil
}
