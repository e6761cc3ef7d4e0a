package cli

import (
	"fmt"

	"github.com/mtgrelay/mtgproxy/internal/config"
	"github.com/mtgrelay/mtgproxy/mtglib"
)

// SimpleRun serves the proxy from command-line flags only, skipping the
// TOML config file entirely - the quick-start path for a single-user,
// single-process deployment.
type SimpleRun struct {
	Debug       bool   `kong:"help='Run in debug mode.'"`
	BindTo      string `kong:"required,help='Point to which mtg is listening to.',default='0.0.0.0:3128'"` //nolint: lll
	Secret      string `kong:"arg,required,help='Secret that was used, either in base64 or hex format.'"`
	Host        string `kong:"arg,required,help='Cover host for FakeTLS.'"`
	Concurrency uint   `kong:"help='Max number of parallel connections.',default='8192'"`
}

func (s SimpleRun) Run(cli *CLI, version string) error {
	key, err := mtglib.ParseSecret(s.Secret)
	if err != nil {
		return fmt.Errorf("cannot parse secret: %w", err)
	}

	conf := &config.Config{}

	if err := conf.Debug.Set(fmt.Sprintf("%t", s.Debug)); err != nil {
		return fmt.Errorf("cannot set debug: %w", err)
	}

	if err := conf.BindTo.Set(s.BindTo); err != nil {
		return fmt.Errorf("cannot parse bind-to: %w", err)
	}

	if err := conf.Concurrency.Set(fmt.Sprintf("%d", s.Concurrency)); err != nil {
		return fmt.Errorf("cannot set concurrency: %w", err)
	}

	conf.Secret = mtglib.Secret{Host: s.Host, Key: key}

	if err := conf.AllowFallbackOnUnknownDC.Set("true"); err != nil {
		return fmt.Errorf("cannot set defaults: %w", err)
	}

	if err := conf.FallbackOnDialError.Set("true"); err != nil {
		return fmt.Errorf("cannot set defaults: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	rt, err := bootstrap(conf)
	if err != nil {
		return fmt.Errorf("cannot initialize proxy: %w", err)
	}

	return serve(rt, conf.BindTo.Value, false)
}
