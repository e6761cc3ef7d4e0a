package obfuscated2

const (
	skipLen       = 8
	prekeyLen     = 32
	ivLen         = 16
	handshakeLen  = 64
	protoTagPos   = 56
	dcIdxPos      = 60
)

// handshakeConnectionType is the protocol tag this package writes into a
// freshly generated handshake frame when it is acting as the initiator
// talking to a real Telegram datacenter (ServerHandshake, confusingly named
// from the DC's point of view - it is the client-role handshake of the
// proxy-to-DC leg). SECURE-INTERMEDIATE is the safest default; the direct
// relay path overwrites this byte with the tag the inbound client actually
// negotiated before the frame is sent (see proxy.go's direct-relay code).
var handshakeConnectionType = []byte{0xdd, 0xdd, 0xdd, 0xdd}

// handshakeFrame is the 64-byte opening block of the obfuscated MTProto
// handshake (§4.1/§4.3 of the glossary's "MTProto obfuscated handshake").
// Bytes [0:8] are an unused skip region, [8:40] the 32-byte prekey,
// [40:56] the 16-byte IV, [56:60] the protocol tag, [60:62] the signed
// little-endian DC index.
type handshakeFrame struct {
	data [handshakeLen]byte
}

func (h *handshakeFrame) key() []byte {
	return h.data[skipLen : skipLen+prekeyLen]
}

func (h *handshakeFrame) iv() []byte {
	return h.data[skipLen+prekeyLen : skipLen+prekeyLen+ivLen]
}

func (h *handshakeFrame) connectionType() []byte {
	return h.data[protoTagPos : protoTagPos+4]
}

func (h *handshakeFrame) dcIdxBytes() []byte {
	return h.data[dcIdxPos : dcIdxPos+2]
}

// invert returns a copy of h with the key+IV region (bytes [8:56], i.e. the
// concatenated prekey and IV, 48 bytes total) byte-reversed. The "other
// side" of an obfuscated session derives its key/IV from this reversed
// nonce: whichever side decrypts with the direct nonce encrypts with the
// reversed one, and vice versa.
func (h handshakeFrame) invert() handshakeFrame {
	inverted := h

	region := inverted.data[skipLen : skipLen+prekeyLen+ivLen]
	for i, j := 0, len(region)-1; i < j; i, j = i+1, j-1 {
		region[i], region[j] = region[j], region[i]
	}

	return inverted
}
