package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DebugHTTP bool   `env:"EMUCONSOLE_DEBUG_HTTP"`
	LogLevel  string `env:"EMUCONSOLE_LOG_LEVEL,default=info"`

	// HardwareConfig is a TOML hardware profile loaded into the core's store.
	HardwareConfig string `env:"EMUCONSOLE_HW_CONFIG"`

	// DataDir is where the core looks for BIOS images and keymaps.
	DataDir string `env:"EMUCONSOLE_DATA_DIR"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
