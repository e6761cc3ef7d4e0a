// Package cover implements the cover-host tunnel (spec.md section 4.4):
// on a failed or unrecognized handshake, the proxy transparently pipes the
// client's bytes to a real site ("cover host", original_source's
// mask_host) so a network observer watching the wire cannot tell the
// proxy's port apart from that site, and only that site, even across a
// reset. Grounded in original_source's handle_bad_client and its
// mask_host_cached_ip/set_instant_rst helpers; the teacher's own take on
// the same idea is mtglib.Proxy.doDomainFronting, which now delegates the
// dial/splice/close-propagation work here.
package cover

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mtgrelay/mtgproxy/essentials"
)

const (
	// dialTimeout is handle_bad_client's CONNECT_TIMEOUT.
	dialTimeout = 5 * time.Second

	// cacheClearMin/cacheClearMax bound the randomized interval
	// mask_host_cached_ip is reset on, so the cover host's resolved IP
	// doesn't go stale forever if it migrates behind a round-robin LB.
	cacheClearMin = 60 * time.Second
	cacheClearMax = 120 * time.Second
)

// DialFunc matches mtglib.Network.DialContext's signature without
// depending on the mtglib package, the same narrow-interface-in-package
// pattern middleproxy.Dial uses for its dialer parameter.
type DialFunc func(ctx context.Context, network, address string) (essentials.Conn, error)

// Logger is the narrow logging surface Tunnel needs.
type Logger interface {
	WarningError(msg string, err error)
}

// ipCache is the single-slot resolved-IP cache from spec.md's state
// inventory ("Cover-host resolved-IP cache"), mirroring original_source's
// module-level mask_host_cached_ip global.
type ipCache struct {
	mu sync.Mutex
	ip string
}

func (c *ipCache) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ip
}

func (c *ipCache) setIfEmpty(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ip == "" {
		c.ip = ip
	}
}

func (c *ipCache) clear() {
	c.mu.Lock()
	c.ip = ""
	c.mu.Unlock()
}

// cachedIP is the package-wide cache: one cover host configured per
// process, so one slot is all spec.md calls for.
var cachedIP ipCache //nolint: gochecknoglobals

// StartCacheClearer periodically clears the resolved-IP cache on a
// randomized interval in [cacheClearMin, cacheClearMax), until stop is
// closed. Run once from bootstrap alongside the other maintenance tasks.
func StartCacheClearer(stop <-chan struct{}) {
	go func() {
		for {
			wait := cacheClearMin + time.Duration(pseudoRandNano()%int64(cacheClearMax-cacheClearMin))

			timer := time.NewTimer(wait)

			select {
			case <-stop:
				timer.Stop()

				return
			case <-timer.C:
				cachedIP.clear()
			}
		}
	}()
}

// pseudoRandNano is a dependency-free jitter source: only the clearing
// period's phase needs to be unpredictable, not cryptographically so.
func pseudoRandNano() int64 {
	n := time.Now().UnixNano()
	if n < 0 {
		n = -n
	}

	return n
}

// Tunnel dials host:port (preferring the cached resolved IP from a
// previous call) and bidirectionally splices client against it until
// either side is done, then propagates however the cover host closed its
// side back onto client: a clean EOF (cover sent FIN) becomes a half-close
// of client's write side; any other read error (cover reset the
// connection) forces an RST onto client via SO_LINGER(0), so a passive
// observer sees the same disconnect shape regardless of which side of the
// tunnel they're watching.
func Tunnel(ctx context.Context, dial DialFunc, host string, port int, client essentials.Conn, logger Logger) {
	addr := net.JoinHostPort(pickHost(host), strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	coverConn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		logger.WarningError(fmt.Sprintf("cannot dial cover host %s", addr), err)

		return
	}
	defer coverConn.Close()

	if tcpAddr, ok := coverConn.RemoteAddr().(*net.TCPAddr); ok {
		cachedIP.setIfEmpty(tcpAddr.IP.String())
	}

	// The upload pump runs detached: once the download direction below
	// returns, the deferred coverConn.Close() unblocks it (its Write to
	// coverConn starts erroring), so Tunnel doesn't wait for client to send
	// its own EOF before tearing the tunnel down. Waiting on both directions
	// here would hang forever against a client that keeps its write side
	// open after the cover host has already gone away.
	go func() {
		io.Copy(coverConn, client) //nolint: errcheck
		coverConn.CloseWrite()     //nolint: errcheck
	}()

	_, downloadErr := io.Copy(client, coverConn)

	propagateClose(client, downloadErr)
}

// pickHost returns the cached resolved IP if one is warm, otherwise the
// configured hostname (let dial's own resolver look it up).
func pickHost(host string) string {
	if ip := cachedIP.get(); ip != "" {
		return ip
	}

	return host
}

func propagateClose(client essentials.Conn, downloadErr error) {
	if downloadErr == nil {
		client.CloseWrite() //nolint: errcheck

		return
	}

	forceReset(client)
}

// linger is *net.TCPConn's SetLinger, promoted through whatever chain of
// embedded essentials.Conn adapters wraps the real socket.
type linger interface {
	SetLinger(sec int) error
}

func forceReset(client essentials.Conn) {
	if l, ok := client.(linger); ok {
		_ = l.SetLinger(0)
	}

	client.Close()
}
