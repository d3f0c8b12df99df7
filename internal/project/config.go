package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/pkg/types"
)

var (
	ErrConfigNotFound = errors.New("configuration file not found")
)

var validate = validator.New()

func configPath(projectPath string) string {
	return filepath.Join(projectPath, storage.StateDir, "config.yaml")
}

// LoadProjectConfig loads a project's configuration. Keys missing from the
// file keep their defaults; the result is validated.
func LoadProjectConfig(projectPath string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(configPath(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	config := types.DefaultProjectConfig("", "")
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateConfig checks struct-tag constraints on a project configuration.
func ValidateConfig(config *types.ProjectConfig) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// SaveProjectConfig saves a project's configuration.
func SaveProjectConfig(projectPath string, config *types.ProjectConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	if err := storage.AtomicWriteFile(configPath(projectPath), data); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}
	return nil
}
