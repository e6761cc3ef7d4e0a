package cli

import (
	"fmt"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

// GenerateSecret prints a fresh random 16-byte FakeTLS secret, hex-encoded,
// ready to paste into a user's "secret" field or the legacy top-level one.
type GenerateSecret struct {
	Host string `kong:"arg,optional,help='Cover host to bind the secret to (printed as host:hexkey).',name='host'"` //nolint: lll
}

func (g GenerateSecret) Run(cli *CLI, version string) error {
	key, err := mtglib.GenerateSecret()
	if err != nil {
		return fmt.Errorf("cannot generate secret: %w", err)
	}

	if g.Host == "" {
		fmt.Println(mtglib.SecretHex(key)) //nolint: forbidigo

		return nil
	}

	secret := mtglib.Secret{Host: g.Host, Key: key}

	text, err := secret.MarshalText()
	if err != nil {
		return fmt.Errorf("cannot render secret: %w", err)
	}

	fmt.Println(string(text)) //nolint: forbidigo

	return nil
}
