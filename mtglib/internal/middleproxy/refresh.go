package middleproxy

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	proxyConfigURL   = "https://core.telegram.org/getProxyConfig"
	proxyConfigV6URL = "https://core.telegram.org/getProxyConfigV6"
	proxySecretURL   = "https://core.telegram.org/getProxySecret"
)

// proxyForLine matches one "proxy_for <dc> <host>:<port>;" entry in the
// getProxyConfig/getProxyConfigV6 response body (update_middle_proxy_info's
// PROXY_REGEXP).
var proxyForLine = regexp.MustCompile(`proxy_for\s+(-?\d+)\s+(.+):(\d+)\s*;`)

// Logger is the narrow logging surface Refresher needs; mtglib.Logger
// satisfies it structurally. Declared locally because this package cannot
// import mtglib (mtglib imports it).
type Logger interface {
	Warning(string)
	WarningError(string, error)
	Info(string)
}

// Refresher periodically re-fetches Telegram's published middle-proxy
// address lists and RPC secret (update_middle_proxy_info), keeping an
// AddressTable and a live secret value current without a restart. A failed
// fetch leaves the previous value in place.
type Refresher struct {
	client *http.Client
	addrs  *AddressTable
	period time.Duration

	secret atomic.Pointer[[]byte]
	logger Logger

	stopCh chan struct{}
}

// NewRefresher builds a refresher bound to addrs, seeded with initialSecret
// (typically DefaultSecret()) until the first successful fetch replaces it.
func NewRefresher(client *http.Client, addrs *AddressTable, initialSecret []byte, period time.Duration, logger Logger) *Refresher {
	r := &Refresher{
		client: client,
		addrs:  addrs,
		period: period,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	secretCopy := append([]byte(nil), initialSecret...)
	r.secret.Store(&secretCopy)

	return r
}

// Secret returns the currently active middle-proxy RPC secret.
func (r *Refresher) Secret() []byte {
	return *r.secret.Load()
}

// Start fetches once immediately, then refetches every period until Stop is
// called.
func (r *Refresher) Start() {
	go r.loop()
}

// Stop signals the refresh loop to exit.
func (r *Refresher) Stop() {
	close(r.stopCh)
}

func (r *Refresher) loop() {
	r.refreshOnce()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshOnce()
		}
	}
}

func (r *Refresher) refreshOnce() {
	v4, err := r.fetchProxies(proxyConfigURL)
	if err != nil {
		r.logger.WarningError("error updating middle proxy list", err)
	}

	v6, err := r.fetchProxies(proxyConfigV6URL)
	if err != nil {
		r.logger.WarningError("error updating middle proxy list for ipv6", err)
	}

	r.addrs.Update(v4, v6)

	secret, err := r.fetchSecret()
	if err != nil {
		r.logger.WarningError("error updating middle proxy secret, using old", err)

		return
	}

	if string(secret) != string(r.Secret()) {
		r.secret.Store(&secret)
		r.logger.Info("middle proxy secret updated")
	}
}

func (r *Refresher) fetchProxies(url string) (map[int][]Address, error) {
	body, err := r.get(url)
	if err != nil {
		return nil, err
	}

	matches := proxyForLine.FindAllStringSubmatch(string(body), -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("middleproxy: no proxy_for entries in %s", url)
	}

	out := make(map[int][]Address, len(matches))

	for _, m := range matches {
		dc, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		port, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}

		host := strings.TrimSuffix(strings.TrimPrefix(m[2], "["), "]")

		out[dc] = append(out[dc], Address{Host: host, Port: port})
	}

	return out, nil
}

func (r *Refresher) fetchSecret() ([]byte, error) {
	body, err := r.get(proxySecretURL)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("middleproxy: empty proxy secret response")
	}

	// The endpoint serves the secret as raw bytes, not hex - mirror that
	// unless it looks like a hex dump (some CDN edges wrap it in one).
	if decoded, err := hex.DecodeString(strings.TrimSpace(string(body))); err == nil {
		return decoded, nil
	}

	return body, nil
}

func (r *Refresher) get(url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint: gomnd
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("middleproxy: cannot build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("middleproxy: cannot fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) //nolint: gomnd
	if err != nil {
		return nil, fmt.Errorf("middleproxy: cannot read %s: %w", url, err)
	}

	return body, nil
}
