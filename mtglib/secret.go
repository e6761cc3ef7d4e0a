package mtglib

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const secretKeyLength = 16

var hexDigitRe = regexp.MustCompile(`[^0-9a-fA-F]`)

// Secret is the server-wide FakeTLS binding: the host it pretends to be
// (SNI, also the domain-fronting target) together with the key used for the
// legacy single-secret workflows (`generate-secret`, the default user when
// no explicit user list is configured).
//
// Per-user authentication during the handshake is matched against
// UserManager, not against this value: §3 specifies a list of users, each
// with its own 16-byte secret.
type Secret struct {
	// Host is the hostname the FakeTLS ClientHello must present (SNI) and
	// the address domain-fronting/cover-tunnel dials when nothing matches.
	Host string

	// Key is the default 16-byte secret, used when UserManager has a
	// single anonymous user.
	Key [secretKeyLength]byte
}

// UnmarshalText parses the "host:hexkey" form used in config files, so
// Secret can be loaded directly as a single TOML/JSON scalar instead of a
// two-field table.
func (s *Secret) UnmarshalText(data []byte) error {
	raw := string(data)

	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return fmt.Errorf("secret must be in 'host:hexkey' format, got %q", raw)
	}

	key, err := ParseSecret(raw[idx+1:])
	if err != nil {
		return fmt.Errorf("cannot parse secret key: %w", err)
	}

	s.Host = raw[:idx]
	s.Key = key

	return nil
}

// MarshalText renders Secret back to the "host:hexkey" form.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.Host + ":" + SecretHex(s.Key)), nil
}

// Valid reports whether the secret has a host bound to it. An all-zero key
// is legal (generate-secret produces real keys; tests may use the zero key
// deliberately), the host is the only mandatory part.
func (s Secret) Valid() bool {
	return s.Host != ""
}

// ParseSecret decodes a hex-encoded 32-character secret. Invalid input is
// coerced the way §6 specifies: strip anything that is not a hex digit,
// then left-zero-pad to 32 hex characters.
func ParseSecret(raw string) ([secretKeyLength]byte, error) {
	var key [secretKeyLength]byte

	cleaned := hexDigitRe.ReplaceAllString(raw, "")
	if len(cleaned) > secretKeyLength*2 {
		cleaned = cleaned[:secretKeyLength*2]
	} else {
		cleaned = strings.Repeat("0", secretKeyLength*2-len(cleaned)) + cleaned
	}

	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return key, fmt.Errorf("cannot decode coerced secret: %w", err)
	}

	copy(key[:], decoded)

	return key, nil
}

// GenerateSecret returns a fresh random 16-byte secret, as used by the
// `generate-secret` CLI subcommand.
func GenerateSecret() ([secretKeyLength]byte, error) {
	var key [secretKeyLength]byte

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("cannot read random bytes: %w", err)
	}

	return key, nil
}

// SecretHex renders a key as a lowercase hex string, as embedded into
// share links and users.toml.
func SecretHex(key [secretKeyLength]byte) string {
	return hex.EncodeToString(key[:])
}
