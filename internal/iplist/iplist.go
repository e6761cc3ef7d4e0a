// Package iplist implements mtglib.IPBlocklist on top of a CIDR radix trie,
// used for both the allowlist and the blocklist (§6 Proxy options: a
// blocklist/allowlist is just a list of CIDRs or bare IPs).
package iplist

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mtgrelay/mtgproxy/mtglib"
	"github.com/yl2chen/cidranger"
	"golang.org/x/sync/errgroup"
)

// List is a CIDR-backed, hot-swappable IP set, used as both the allowlist
// and the blocklist. An unloaded blocklist Contains nothing, the inert
// default. An unloaded allowlist instead Contains everything: proxy.Serve
// rejects whatever the allowlist does NOT contain, so "no entries loaded"
// must mean "no restriction" rather than "reject everyone".
type List struct {
	mu         sync.RWMutex
	ranger     cidranger.Ranger
	stream     mtglib.EventStream
	isBlock    bool
	hasEntries bool

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds an empty List. Entries can be loaded with Load, and refreshed
// periodically with Watch.
func New(stream mtglib.EventStream, isBlock bool) *List {
	return &List{
		ranger:  cidranger.NewPCTrieRanger(),
		stream:  stream,
		isBlock: isBlock,
		stop:    make(chan struct{}),
	}
}

// Contains reports whether ip matches any entry currently loaded.
func (l *List) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.isBlock && !l.hasEntries {
		return true
	}

	ok, err := l.ranger.Contains(ip)
	if err != nil {
		if l.stream != nil {
			l.stream.Send(context.Background(), mtglib.NewEventIPListCacheFallback(l.isBlock))
		}

		return false
	}

	return ok
}

// Shutdown stops any background watch loop started with Watch.
func (l *List) Shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Load replaces the current entry set. Bare IPs are treated as /32 or /128.
func (l *List) Load(entries []string) error {
	ranger := cidranger.NewPCTrieRanger()

	var inserted int

	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || strings.HasPrefix(e, "#") {
			continue
		}

		network, err := parseEntry(e)
		if err != nil {
			return fmt.Errorf("cannot parse entry %q: %w", e, err)
		}

		if err := ranger.Insert(cidranger.NewBasicRangerEntry(network)); err != nil {
			return fmt.Errorf("cannot insert entry %q: %w", e, err)
		}

		inserted++
	}

	l.mu.Lock()
	l.ranger = ranger
	l.hasEntries = inserted > 0
	l.mu.Unlock()

	if l.stream != nil {
		l.stream.Send(context.Background(), mtglib.NewEventIPListSize(ranger.Len(), l.isBlock))
	}

	return nil
}

// LoadFile reads newline-delimited CIDRs/IPs from a local path.
func (l *List) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	var entries []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	return l.Load(entries)
}

// LoadRemote downloads every url (up to concurrency at a time) and local
// file path in sources, merges their lines, and Loads the result. Entries
// that are local filesystem paths (per TypeBlocklistURI.IsRemote) are read
// directly instead of fetched over HTTP.
func (l *List) LoadRemote(ctx context.Context, client *http.Client, sources []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([][]string, len(sources))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, src := range sources {
		i, src := i, src

		group.Go(func() error {
			lines, err := fetchSource(gctx, client, src)
			if err != nil {
				return fmt.Errorf("cannot fetch %s: %w", src, err)
			}

			results[i] = lines

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	var merged []string
	for _, lines := range results {
		merged = append(merged, lines...)
	}

	return l.Load(merged)
}

func fetchSource(ctx context.Context, client *http.Client, src string) ([]string, error) {
	if _, err := os.Stat(src); err == nil {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", src, err)
		}

		return strings.Split(string(data), "\n"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var lines []string

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines, scanner.Err()
}

// WatchRemote re-runs LoadRemote every interval until Shutdown is called,
// logging and retrying (not terminating the service) on error.
func (l *List) WatchRemote(client *http.Client, sources []string, concurrency int, interval time.Duration, logger mtglib.Logger) {
	if len(sources) == 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if err := l.LoadRemote(context.Background(), client, sources, concurrency); err != nil {
					logger.WarningError("cannot refresh ip list", err)
				}
			}
		}
	}()
}

// Watch reloads the file at path every interval, logging and retrying (not
// terminating the service) on error - the same pattern as the maintenance
// tasks in internal/maintenance.
func (l *List) Watch(path string, interval time.Duration, logger mtglib.Logger) {
	if path == "" || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if err := l.LoadFile(path); err != nil {
					logger.WarningError("cannot reload ip list", err)
				}
			}
		}
	}()
}

func parseEntry(entry string) (net.IPNet, error) {
	if strings.Contains(entry, "/") {
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return net.IPNet{}, fmt.Errorf("invalid cidr: %w", err) //nolint: wrapcheck
		}

		return *network, nil
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return net.IPNet{}, fmt.Errorf("%q is neither a cidr nor an ip", entry)
	}

	bits := 32
	if ip.To4() == nil {
		bits = 128
	}

	return net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

var _ mtglib.IPBlocklist = (*List)(nil)
