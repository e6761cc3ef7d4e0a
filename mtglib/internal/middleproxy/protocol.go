// Package middleproxy implements the RPC protocol Telegram datacenters speak
// to their own "middle proxies" - the layer a real proxy_secret holder tags
// traffic through so Telegram can attribute it to the advertising backend
// that paid for it (the ad_tag). None of this is needed to relay ABRIDGED or
// INTERMEDIATE traffic directly to a DC; it only applies to SECURE traffic
// carrying an ad_tag, where the middle-proxy RPC handshake and envelope are
// mandatory.
package middleproxy

// RPC message type tags, exchanged as the first 4 little-endian bytes of
// every frame on the middle-proxy connection.
var (
	rpcNonce     = [4]byte{0xaa, 0x87, 0xcb, 0x7a}
	rpcHandshake = [4]byte{0xf5, 0xee, 0x82, 0x76}
	rpcProxyReq  = [4]byte{0xee, 0xf1, 0xce, 0x36}
	rpcProxyAns  = [4]byte{0x0d, 0xda, 0x03, 0x44}
	rpcCloseExt  = [4]byte{0xa2, 0x34, 0xb6, 0x5e}
	rpcSimpleAck = [4]byte{0x9b, 0x40, 0xac, 0x3b}
)

// cryptoAES is the only crypto schema the RPC_NONCE exchange advertises.
var cryptoAES = [4]byte{0x01, 0x00, 0x00, 0x00}

const (
	nonceLen           = 16
	rpcNonceAnsLen     = 32
	rpcHandshakeAnsLen = 32

	// startSeqNo is the frame sequence number the middle-proxy wire format
	// starts counting from; it only matters for the bare Mtproto frame
	// layer (length-prefixed, no encryption) the nonce/handshake messages
	// ride on before the CBC layer takes over.
	startSeqNo = -2
)

// ProtoTag identifies which client-facing framing (abridged, intermediate,
// padded/secure-intermediate) the original connection negotiated. The
// middle proxy needs this to set the matching flag bits in RPC_PROXY_REQ.
type ProtoTag [4]byte

var (
	ProtoTagAbridged     = ProtoTag{0xef, 0xef, 0xef, 0xef}
	ProtoTagIntermediate = ProtoTag{0xee, 0xee, 0xee, 0xee}
	ProtoTagSecure       = ProtoTag{0xdd, 0xdd, 0xdd, 0xdd}
)

// RPC_PROXY_REQ flag bits (see writeProxyReq).
const (
	flagNotEncrypted = 0x2
	flagHasAdTag     = 0x8
	flagMagic        = 0x1000
	flagExtMode2     = 0x20000
	flagPad          = 0x8000000
	flagIntermediate = 0x20000000
	flagAbridged     = 0x40000000
	flagQuickAck     = 0x80000000
)

// senderPID/peerPID are the 12-byte process identifiers RPC_HANDSHAKE
// exchanges. Real mtproto-proxy installs derive these from hostname and
// PID; a fixed, recognizable string is sufficient here since nothing on
// Telegram's side inspects its value beyond echoing it back.
var processID = [12]byte{'M', 'T', 'G', 'R', 'E', 'L', 'A', 'Y', 'P', 'R', 'O', 'X'}
