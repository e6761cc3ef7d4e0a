package mtglib

import (
	"net"
	"testing"

	"github.com/mtgrelay/mtgproxy/mtglib/internal/middleproxy"
)

func TestProxyOptsGetPublicIPNilWhenUnset(t *testing.T) {
	opts := ProxyOpts{}

	if ip := opts.getPublicIP(false); ip != nil {
		t.Errorf("getPublicIP(false) = %v, want nil", ip)
	}
}

func TestProxyOptsGetPublicIPDelegatesToCallback(t *testing.T) {
	v4 := net.ParseIP("203.0.113.7")
	v6 := net.ParseIP("2001:db8::1")

	opts := ProxyOpts{
		PublicIP: func(wantV6 bool) net.IP {
			if wantV6 {
				return v6
			}

			return v4
		},
	}

	if ip := opts.getPublicIP(false); !ip.Equal(v4) {
		t.Errorf("getPublicIP(false) = %v, want %v", ip, v4)
	}

	if ip := opts.getPublicIP(true); !ip.Equal(v6) {
		t.Errorf("getPublicIP(true) = %v, want %v", ip, v6)
	}
}

func TestProxyOptsGetMiddleProxySecretFallsBackToDefault(t *testing.T) {
	opts := ProxyOpts{}

	got := opts.getMiddleProxySecret()
	want := middleproxy.DefaultSecret()

	if string(got) != string(want) {
		t.Errorf("getMiddleProxySecret() = %x, want default %x", got, want)
	}
}

func TestProxyOptsGetMiddleProxySecretUsesOverride(t *testing.T) {
	override := []byte("a custom middle proxy secret!!!")

	opts := ProxyOpts{MiddleProxySecret: override}

	got := opts.getMiddleProxySecret()

	if string(got) != string(override) {
		t.Errorf("getMiddleProxySecret() = %x, want override %x", got, override)
	}
}
