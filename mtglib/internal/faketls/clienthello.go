// Package faketls implements the outer TLS 1.3 probe detection and
// response described in §4.2/§4.3 of the handshake engine: a ClientHello
// whose "random" field carries an HMAC digest binding it to a user secret,
// and a ServerHello built to pass superficial inspection.
package faketls

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	digestOffset       = 11
	digestLen          = 32
	sessionIDLenOffset = digestOffset + digestLen // 43
	sessionIDOffset    = sessionIDLenOffset + 1    // 44

	minClientHelloLen = sessionIDOffset

	// uptimeThreshold distinguishes a wall-clock UNIX timestamp from a
	// client that sent its process uptime instead (§4.3 time window rule).
	uptimeThreshold = 86_400_000
)

// TLSClientHelloPrefix is the literal 11-byte prefix (§4.3 Step 2) that
// identifies an outer TLS 1.3 ClientHello record carrying a FakeTLS
// handshake: record header (handshake, legacy version, length) + handshake
// header (ClientHello, length) + client_version.
var TLSClientHelloPrefix = [11]byte{0x16, 0x03, 0x01, 0x02, 0x00, 0x01, 0x00, 0x01, 0xfc, 0x03, 0x03}

// TLSHandshakeLen is the total number of bytes read for one ClientHello
// probe (§4.3 Step 2).
const TLSHandshakeLen = 517

var (
	// ErrNotClientHello means the leading bytes did not match
	// TLSClientHelloPrefix, or the buffer was too short to hold one -
	// the caller should fall back to the plain obfuscated MTProto path.
	ErrNotClientHello = errors.New("faketls: not a tls 1.3 client hello")

	// ErrNoSecretMatched means no configured user's secret produces a
	// zero-prefixed HMAC against this ClientHello's digest.
	ErrNoSecretMatched = errors.New("faketls: no secret matched the client hello digest")
)

// ClientHello is a verified outer probe: the secret that matched it, the
// echoed session id, and the embedded timestamp.
type ClientHello struct {
	SessionID []byte
	Time      time.Time
	UserIdx   int

	digest []byte
}

// LooksLikeClientHello reports whether the first bytes read from a fresh
// connection are the literal TLS 1.3 ClientHello prefix this proxy expects.
// A false result means the connection should be handled as plain
// obfuscated MTProto, not tunnelled to cover - only a secret mismatch after
// a true prefix match results in a cover-tunnel.
func LooksLikeClientHello(prefix []byte) bool {
	return len(prefix) >= len(TLSClientHelloPrefix) && bytes.Equal(prefix[:len(TLSClientHelloPrefix)], TLSClientHelloPrefix[:])
}

// ParseClientHello verifies buf (a TLSHandshakeLen-byte buffer whose first
// bytes already matched TLSClientHelloPrefix) against every secret in turn,
// per §4.3's FakeTLS verification algorithm: zero the digest field, HMAC the
// whole message, XOR with the original digest, and accept the secret whose
// result has a 28-byte zero prefix.
func ParseClientHello(secrets [][]byte, buf []byte) (*ClientHello, error) {
	if len(buf) < minClientHelloLen {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrNotClientHello, len(buf))
	}

	if !LooksLikeClientHello(buf) {
		return nil, ErrNotClientHello
	}

	sessionIDLen := int(buf[sessionIDLenOffset])
	if sessionIDOffset+sessionIDLen > len(buf) {
		return nil, fmt.Errorf("%w: session id overruns buffer", ErrNotClientHello)
	}

	digest := append([]byte(nil), buf[digestOffset:digestOffset+digestLen]...)
	sessionID := append([]byte(nil), buf[sessionIDOffset:sessionIDOffset+sessionIDLen]...)

	zeroed := append([]byte(nil), buf...)
	for i := 0; i < digestLen; i++ {
		zeroed[digestOffset+i] = 0
	}

	for idx, secret := range secrets {
		mac := hmac.New(sha256.New, secret)
		mac.Write(zeroed)
		sum := mac.Sum(nil)

		xored := make([]byte, digestLen)
		for i := range xored {
			xored[i] = sum[i] ^ digest[i]
		}

		if !isZero(xored[:28]) {
			continue
		}

		ts := binary.LittleEndian.Uint32(xored[28:32])

		return &ClientHello{
			SessionID: sessionID,
			Time:      time.Unix(int64(ts), 0),
			UserIdx:   idx,
			digest:    digest,
		}, nil
	}

	return nil, ErrNoSecretMatched
}

// Valid checks the embedded timestamp against the time window §4.3
// specifies. ignoreTimeSkew and isTimeSkewed are the two process-wide
// overrides (operator config, and the time-sync maintenance task's live
// finding) that bypass the window entirely.
func (h *ClientHello) Valid(tolerate time.Duration, ignoreTimeSkew, isTimeSkewed bool) error {
	if uint32(h.Time.Unix()) < uptimeThreshold { //nolint: gosec
		return nil
	}

	if ignoreTimeSkew || isTimeSkewed {
		return nil
	}

	delta := time.Since(h.Time)
	lower := -20*time.Minute - tolerate
	upper := 10*time.Minute + tolerate

	if delta > lower && delta < upper {
		return nil
	}

	return fmt.Errorf("timestamp outside tolerated window: now-T=%s", delta)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}

	return true
}
