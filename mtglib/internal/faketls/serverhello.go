package faketls

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// welcomeRandomOffset is where the spliced HMAC digest lands inside the
	// welcome packet, matching the digest's offset inside a ClientHello.
	welcomeRandomOffset = 11

	x25519GroupID  = 0x001d
	tlsVersion13   = 0x0304
	cipherSuiteTLS = 0x1301 // TLS_AES_128_GCM_SHA256

	extSupportedVersions = 0x002b
	extKeyShare          = 0x0033
)

// SendWelcomePacket builds and writes the server's response to a verified
// ClientHello (§4.3 Step 3): a ServerHello carrying an HMAC-spliced random
// field, a ChangeCipherSpec record, and an ApplicationData record stuffed
// with coverCertLen random bytes standing in for the rest of a real
// handshake. secret is the matched user's secret; the whole sequence is
// written to w in a single call.
func SendWelcomePacket(w io.Writer, secret []byte, hello *ClientHello, coverCertLen int) error {
	serverHello, err := buildServerHelloRecord(hello.SessionID)
	if err != nil {
		return fmt.Errorf("cannot build server hello: %w", err)
	}

	ccs := buildChangeCipherSpecRecord()
	appData, err := buildRandomApplicationDataRecord(coverCertLen)
	if err != nil {
		return fmt.Errorf("cannot build cover application data: %w", err)
	}

	packet := acquireBytesBuffer()
	defer releaseBytesBuffer(packet)

	packet.Write(serverHello)
	packet.Write(ccs)
	packet.Write(appData)

	digest := spliceDigest(secret, hello.digest, packet.Bytes())
	copy(packet.Bytes()[welcomeRandomOffset:welcomeRandomOffset+digestLen], digest)

	if _, err := w.Write(packet.Bytes()); err != nil {
		return fmt.Errorf("cannot write welcome packet: %w", err)
	}

	return nil
}

// spliceDigest computes HMAC_SHA256(secret, origDigest || packet) with the
// packet's own random field still zeroed, the same splice-after-compute
// trick the ClientHello digest uses.
func spliceDigest(secret, origDigest, packet []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(origDigest)
	mac.Write(packet)

	return mac.Sum(nil)
}

func buildChangeCipherSpecRecord() []byte {
	return []byte{0x14, 0x03, 0x03, 0x00, 0x01, 0x01}
}

func buildRandomApplicationDataRecord(length int) ([]byte, error) {
	if length <= 0 {
		length = 1024
	}

	payload := make([]byte, length)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("cannot generate cover payload: %w", err)
	}

	record := make([]byte, 0, 5+length)
	record = append(record, 0x17, 0x03, 0x03)
	record = binary.BigEndian.AppendUint16(record, uint16(length))
	record = append(record, payload...)

	return record, nil
}

// buildServerHelloRecord constructs a single Handshake record containing a
// ServerHello that echoes sessionID and advertises TLS 1.3 with an X25519
// key share, exactly the shape real_server_hello in the original Python
// implementation returns and a trivial TLS client would accept at a glance.
// The 32-byte random field is left zeroed; SendWelcomePacket splices it in
// after the whole packet is assembled.
func buildServerHelloRecord(sessionID []byte) ([]byte, error) {
	pub, err := generateX25519PublicKey()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03) // legacy_version
	body = append(body, make([]byte, digestLen)...) // random, spliced later
	body = append(body, byte(len(sessionID)))
	body = append(body, sessionID...)
	body = binary.BigEndian.AppendUint16(body, cipherSuiteTLS)
	body = append(body, 0x00) // legacy_compression_method

	extensions := buildServerExtensions(pub)
	body = binary.BigEndian.AppendUint16(body, uint16(len(extensions)))
	body = append(body, extensions...)

	handshakeMsg := make([]byte, 0, 4+len(body))
	handshakeMsg = append(handshakeMsg, 0x02) // ServerHello
	handshakeMsg = append(handshakeMsg, uint24(len(body))...)
	handshakeMsg = append(handshakeMsg, body...)

	record := make([]byte, 0, 5+len(handshakeMsg))
	record = append(record, 0x16, 0x03, 0x03)
	record = binary.BigEndian.AppendUint16(record, uint16(len(handshakeMsg)))
	record = append(record, handshakeMsg...)

	return record, nil
}

func buildServerExtensions(x25519Pub []byte) []byte {
	var out []byte

	supportedVersions := binary.BigEndian.AppendUint16(nil, tlsVersion13)
	out = binary.BigEndian.AppendUint16(out, extSupportedVersions)
	out = binary.BigEndian.AppendUint16(out, uint16(len(supportedVersions)))
	out = append(out, supportedVersions...)

	keyShare := make([]byte, 0, 4+len(x25519Pub))
	keyShare = binary.BigEndian.AppendUint16(keyShare, x25519GroupID)
	keyShare = binary.BigEndian.AppendUint16(keyShare, uint16(len(x25519Pub)))
	keyShare = append(keyShare, x25519Pub...)

	out = binary.BigEndian.AppendUint16(out, extKeyShare)
	out = binary.BigEndian.AppendUint16(out, uint16(len(keyShare)))
	out = append(out, keyShare...)

	return out
}

func generateX25519PublicKey() ([]byte, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate x25519 key: %w", err)
	}

	return key.PublicKey().Bytes(), nil
}

func uint24(n int) []byte {
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}
