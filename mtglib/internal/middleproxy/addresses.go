package middleproxy

import (
	"fmt"
	"math/rand"
	"sync"
)

// Address is one middle-proxy endpoint for a datacenter.
type Address struct {
	Host string
	Port int
}

// AddressTable holds the current set of known middle-proxy endpoints per
// signed DC index, separately for IPv4 and IPv6. It starts from Telegram's
// well-known hardcoded defaults and can be refreshed in place (see
// internal/maintenance's middle-proxy list refresh feed) from the
// /getProxyConfig-adjacent config Telegram publishes; a refresh failure
// leaves the previous table untouched.
type AddressTable struct {
	mu sync.RWMutex
	v4 map[int][]Address
	v6 map[int][]Address
}

// defaultV4/defaultV6 mirror original_source's TG_MIDDLE_PROXIES_V4/V6: the
// hardcoded fallback used before the first successful remote refresh, and
// whenever a refresh fails.
var defaultV4 = map[int][]Address{
	1:  {{"149.154.175.50", 8888}},
	-1: {{"149.154.175.50", 8888}},
	2:  {{"149.154.162.38", 80}},
	-2: {{"149.154.162.38", 80}},
	3:  {{"149.154.175.100", 8888}},
	-3: {{"149.154.175.100", 8888}},
	4:  {{"91.108.4.136", 8888}},
	-4: {{"149.154.165.109", 8888}},
	5:  {{"91.108.56.181", 8888}},
	-5: {{"91.108.56.181", 8888}},
}

var defaultV6 = map[int][]Address{
	1:  {{"2001:b28:f23d:f001::d", 8888}},
	-1: {{"2001:b28:f23d:f001::d", 8888}},
	2:  {{"2001:67c:04e8:f002::d", 80}},
	-2: {{"2001:67c:04e8:f002::d", 80}},
	3:  {{"2001:b28:f23d:f003::d", 8888}},
	-3: {{"2001:b28:f23d:f003::d", 8888}},
	4:  {{"2001:67c:04e8:f004::d", 8888}},
	-4: {{"2001:67c:04e8:f004::d", 8888}},
	5:  {{"2001:b28:f23f:f005::d", 8888}},
	-5: {{"2001:67c:04e8:f004::d", 8888}},
}

// NewAddressTable returns a table seeded with Telegram's hardcoded
// middle-proxy defaults.
func NewAddressTable() *AddressTable {
	return &AddressTable{v4: defaultV4, v6: defaultV6}
}

// Pick returns a random middle-proxy endpoint for dc, preferring IPv6 when
// preferIPv6 is set and an address is available.
func (t *AddressTable) Pick(dc int, preferIPv6 bool) (Address, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	table := t.v4
	if preferIPv6 {
		table = t.v6
	}

	addrs, ok := table[dc]
	if !ok || len(addrs) == 0 {
		return Address{}, fmt.Errorf("middleproxy: no known middle proxy for dc %d", dc)
	}

	return addrs[rand.Intn(len(addrs))], nil //nolint: gosec
}

// Update replaces the table's contents, used by the periodic middle-proxy
// list refresh. Either map may be nil to leave that family untouched.
func (t *AddressTable) Update(v4, v6 map[int][]Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(v4) > 0 {
		t.v4 = v4
	}

	if len(v6) > 0 {
		t.v6 = v6
	}
}
