package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"objectos/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".objectos"
	configFileName = "config.yaml"
)

// Environment variables that override file-borne secrets so they never
// have to live on disk.
const (
	EnvJWTSecret     = "OBJECTOS_JWT_SECRET"
	EnvRedisPassword = "OBJECTOS_REDIS_PASSWORD"
)

// GetDefaultConfigPathOrPanic returns ~/.objectos, the directory holding
// config.yaml, the permission sets and the metadata definitions.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from a single specified directory.
// The directory should contain config.yaml and subdirectories for
// permission sets and metadata. A missing file is not an error: the
// defaults apply. Relative permissionsDir/metadataDir/storage paths are
// resolved against the config directory so a config tree stays portable.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig() // Start with default config

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnvOverrides(&config)
			resolvePaths(&config, configPath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		// config malformed
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	applyEnvOverrides(&config)
	resolvePaths(&config, configPath)
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		config.Cache.Redis.Password = password
	}
}

func resolvePaths(config *Config, configPath string) {
	config.Permissions.PermissionsDir = resolveAgainst(configPath, config.Permissions.PermissionsDir)
	config.MetadataDir = resolveAgainst(configPath, config.MetadataDir)
	config.Storage.Path = resolveAgainst(configPath, config.Storage.Path)
}

func resolveAgainst(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
