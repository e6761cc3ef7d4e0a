package utils

import (
	"fmt"
	"os"

	"github.com/mtgrelay/mtgproxy/internal/config"
	toml "github.com/pelletier/go-toml"
)

// ReadConfig loads and validates a TOML config file from path.
func ReadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	conf := &config.Config{}
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return conf, nil
}
