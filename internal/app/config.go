package app

import (
	"fmt"
	"os"

	"github.com/iconforge/server/internal/shared/config"
)

// ConfigFileEnv names the config file when no path is passed.
const ConfigFileEnv = "ICONFORGE_CONFIG"

// LoadConfig loads configuration from path, else from $ICONFORGE_CONFIG,
// else from the default search paths.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
