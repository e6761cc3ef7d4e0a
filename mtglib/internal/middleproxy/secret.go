package middleproxy

import "encoding/hex"

// defaultSecretHex is Telegram's well-known middle-proxy RPC secret
// (original_source's PROXY_SECRET) - not a per-user MTProto secret, just
// the shared key every public mtproto-proxy installation uses to
// authenticate itself to Telegram's middle-proxy layer.
const defaultSecretHex = "c4f9faca9678e6bb48ad6c7e2ce5c0d24430645d554addeb55419e034da62721" +
	"d046eaab6e52ab14a95a443ecfb3463e79a05a66612adf9caeda8be9a80da698" +
	"6fb0a6ff387af84d88ef3a6413713e5c3377f6e1a3d47d99f5e0c56eece8f05c" +
	"54c490b079e31bef82ff0ee8f2b0a32756d249c5f21269816cb7061b265db212"

// DefaultSecret decodes Telegram's well-known middle-proxy secret. Callers
// that don't have an operator-supplied override should use this.
func DefaultSecret() []byte {
	b, err := hex.DecodeString(defaultSecretHex)
	if err != nil {
		panic("middleproxy: invalid built-in secret: " + err.Error())
	}

	return b
}
