package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/pkg/types"
)

var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrProviderNotFound    = errors.New("provider not configured")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

var validate = validator.New()

// ConfigManager handles the global configuration.
type ConfigManager struct {
	configDir    string
	globalConfig *types.GlobalConfig
}

// NewConfigManager creates a configuration manager for the user's config
// directory ($XDG_CONFIG_HOME/storyloom or ~/.config/storyloom).
func NewConfigManager() (*ConfigManager, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return NewConfigManagerAt(configDir), nil
}

// NewConfigManagerAt creates a configuration manager rooted at configDir.
func NewConfigManagerAt(configDir string) *ConfigManager {
	return &ConfigManager{configDir: configDir}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "storyloom"), nil
}

// Path returns the global config file path.
func (cm *ConfigManager) Path() string {
	return filepath.Join(cm.configDir, "config.yaml")
}

// LoadGlobalConfig loads the global configuration with ${ENV} references
// expanded. A missing file yields the defaults. .env files in the config
// directory and the working directory are loaded first; variables already
// set are not overridden.
func (cm *ConfigManager) LoadGlobalConfig() (*types.GlobalConfig, error) {
	if cm.globalConfig != nil {
		return cm.globalConfig, nil
	}

	if err := loadDotEnv(filepath.Join(cm.configDir, ".env"), ".env"); err != nil {
		return nil, err
	}

	config, err := cm.RawGlobalConfig()
	if err != nil {
		return nil, err
	}
	for _, provider := range config.Providers {
		provider.APIKey = os.ExpandEnv(provider.APIKey)
		provider.BaseURL = os.ExpandEnv(provider.BaseURL)
	}
	config.ProjectsDir = expandPath(config.ProjectsDir)

	cm.globalConfig = config
	return cm.globalConfig, nil
}

// RawGlobalConfig loads the global configuration as written, without
// expansion. Edits that are saved back start from it so that ${ENV}
// references stay references.
func (cm *ConfigManager) RawGlobalConfig() (*types.GlobalConfig, error) {
	config := types.DefaultGlobalConfig()
	data, err := os.ReadFile(cm.Path())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse global config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for name, provider := range config.Providers {
		if provider == nil {
			delete(config.Providers, name)
		}
	}
	return config, nil
}

// SaveGlobalConfig saves the global configuration.
func (cm *ConfigManager) SaveGlobalConfig(config *types.GlobalConfig) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := storage.AtomicWriteFile(cm.Path(), data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cm.globalConfig = nil
	return nil
}

// ProviderConfig returns the configuration for a specific provider.
func (cm *ConfigManager) ProviderConfig(name string) (*types.ProviderConfig, error) {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return nil, err
	}

	provider, ok := config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return provider, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
