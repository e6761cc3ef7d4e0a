package cli

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/mtgrelay/mtgproxy/internal/utils"
	"github.com/mtgrelay/mtgproxy/mtglib"
)

// Access prints, for every configured user, a tg:// / t.me share link
// embedding the FakeTLS-extended secret (0xee tag + key + hex-encoded SNI).
type Access struct {
	ConfigPath string `kong:"arg,required,type='existingfile',help='Path to config file.',name='config-path'"` //nolint: lll
}

func (a Access) Run(cli *CLI, version string) error {
	conf, err := utils.ReadConfig(a.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}

	_, port, err := net.SplitHostPort(conf.BindTo.Value)
	if err != nil {
		return fmt.Errorf("cannot parse bindTo: %w", err)
	}

	users, err := conf.BuildUsers()
	if err != nil {
		return fmt.Errorf("cannot build user list: %w", err)
	}

	if len(users) == 0 {
		users = []mtglib.User{{Name: "default", Secret: conf.Secret.Key}}
	}

	sniHex := hex.EncodeToString([]byte(conf.Secret.Host))

	for _, user := range users {
		printAccess(user.Name, conf.Secret.Host, port, mtglib.SecretHex(user.Secret), sniHex)
	}

	return nil
}

func printAccess(name, host, port, secretHex, sniHex string) {
	link := fmt.Sprintf("https://t.me/proxy?server=%s&port=%s&secret=ee%s%s", host, port, secretHex, sniHex)

	fmt.Printf("%s:\n", name)     //nolint: forbidigo
	fmt.Printf("  %s\n\n", link) //nolint: forbidigo
}
