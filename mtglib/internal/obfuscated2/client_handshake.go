package obfuscated2

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ReplayChecker is the minimal surface ClientHandshake needs from a replay
// cache. mtglib.AntiReplayCache satisfies it structurally - obfuscated2
// cannot import mtglib (mtglib imports obfuscated2), so it declares its own
// narrow interface.
type ReplayChecker interface {
	SeenBefore(digest []byte) bool
}

// Protocol variant tags recognized at handshakeFrame bytes [56:60].
var (
	TagAbridged     = [4]byte{0xef, 0xef, 0xef, 0xef}
	TagIntermediate = [4]byte{0xee, 0xee, 0xee, 0xee}
	TagSecure       = [4]byte{0xdd, 0xdd, 0xdd, 0xdd}
)

var (
	// ErrNoSecretMatched means no configured user's secret decodes the
	// handshake to a recognized protocol tag. The caller must tunnel to
	// the cover host.
	ErrNoSecretMatched = errors.New("obfuscated2: no secret matched the handshake")

	// ErrHandshakeReplayed means the 48-byte key+IV fingerprint was already
	// present in the replay cache.
	ErrHandshakeReplayed = errors.New("obfuscated2: handshake fingerprint already seen")
)

// ClientHandshake decodes the inbound 64-byte obfuscated MTProto handshake
// block (§4.3), trying every configured secret in order. It returns the
// index of the matching secret, the protocol tag and signed DC index the
// client encoded, and per-direction AES-CTR streams ready to wrap the
// connection.
//
// The replay guard runs before any secret is tried: a fingerprint already
// present in replay is rejected even if a secret would otherwise match
// (§8 property 2).
func ClientHandshake(secrets [][]byte, replay ReplayChecker, r io.Reader) (userIdx int, tag [4]byte, dc int, encryptor, decryptor cipher.Stream, err error) {
	var frame handshakeFrame

	if _, ioErr := io.ReadFull(r, frame.data[:]); ioErr != nil {
		return -1, tag, 0, nil, nil, fmt.Errorf("cannot read handshake frame: %w", ioErr)
	}

	fingerprint := make([]byte, 0, prekeyLen+ivLen)
	fingerprint = append(fingerprint, frame.data[skipLen:skipLen+prekeyLen+ivLen]...)

	if replay != nil && replay.SeenBefore(fingerprint) {
		return -1, tag, 0, nil, nil, ErrHandshakeReplayed
	}

	for idx, secret := range secrets {
		matchedTag, signedDC, enc, dec, ok := tryHandshakeSecret(frame, secret)
		if !ok {
			continue
		}

		return idx, matchedTag, signedDC, enc, dec, nil
	}

	return -1, tag, 0, nil, nil, ErrNoSecretMatched
}

func tryHandshakeSecret(frame handshakeFrame, secret []byte) (tag [4]byte, dc int, encryptor, decryptor cipher.Stream, ok bool) {
	decKey := deriveKey(frame.key(), secret)
	decIV := append([]byte(nil), frame.iv()...)

	probe, err := makeAesCtr(decKey, decIV)
	if err != nil {
		return tag, 0, nil, nil, false
	}

	decrypted := frame.data
	probe.XORKeyStream(decrypted[:], decrypted[:])

	copy(tag[:], decrypted[protoTagPos:protoTagPos+4])

	if tag != TagAbridged && tag != TagIntermediate && tag != TagSecure {
		return tag, 0, nil, nil, false
	}

	signedDC := int16(binary.LittleEndian.Uint16(decrypted[dcIdxPos : dcIdxPos+2]))

	// The stream consumed above mutated its counter state during the trial
	// decrypt - build a fresh one for the caller so it starts at byte 0 of
	// whatever the client sends next.
	decryptor, err = makeAesCtr(decKey, decIV)
	if err != nil {
		return tag, 0, nil, nil, false
	}

	inverted := handshakeFrame{data: decrypted}.invert()
	encKey := deriveKey(inverted.key(), secret)
	encIV := append([]byte(nil), inverted.iv()...)

	encryptor, err = makeAesCtr(encKey, encIV)
	if err != nil {
		return tag, 0, nil, nil, false
	}

	return tag, int(signedDC), encryptor, decryptor, true
}

// deriveKey computes SHA256(prekey || secret), the key-derivation rule
// specified for both the decoding and the encoding side of the obfuscated
// handshake (§4.3).
func deriveKey(prekey, secret []byte) []byte {
	h := acquireSha256Hasher()
	defer releaseSha256Hasher(h)

	h.Write(prekey)
	h.Write(secret)

	return h.Sum(nil)
}
