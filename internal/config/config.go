package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kobold-gateway/internal/models"
)

// Supported history backends.
const (
	HistoryBackendFile   = "file"
	HistoryBackendSQLite = "sqlite"
)

const (
	defaultPort        = 8080
	defaultAPIType     = "koboldcpp"
	defaultHistoryPath = "history"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server          ServerConfig `yaml:"server"`
	APIServer       string       `yaml:"api_server"`
	APIType         string       `yaml:"api_type"`
	HistoryPath     string       `yaml:"history_path"`
	HistoryBackend  string       `yaml:"history_backend"`
	DefaultModel    string       `yaml:"default_model"`
	AvailableModels []string     `yaml:"available_models"`
	LogLevel        string       `yaml:"log_level"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
	// RateLimit is the allowed requests per second per client; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

// Load reads YAML configuration from disk, expanding ${VAR} references, and
// validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg := Config{
		Server:         ServerConfig{Port: defaultPort},
		APIType:        defaultAPIType,
		HistoryPath:    defaultHistoryPath,
		HistoryBackend: HistoryBackendFile,
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if !filepath.IsAbs(cfg.HistoryPath) {
		cfg.HistoryPath = filepath.Join(filepath.Dir(absPath), cfg.HistoryPath)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		return errors.New("history_path must be provided")
	}

	switch c.HistoryBackend {
	case HistoryBackendFile, HistoryBackendSQLite:
	default:
		return fmt.Errorf("history_backend %q must be one of %q or %q", c.HistoryBackend, HistoryBackendFile, HistoryBackendSQLite)
	}

	for _, ref := range c.AvailableModels {
		if strings.TrimSpace(ref) == "" {
			return errors.New("available_models entries must not be empty")
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LoadModelProfile reads a model profile from path, resolved against baseDir
// when relative.
func LoadModelProfile(path, baseDir string) (models.Profile, error) {
	fullPath := path
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return models.Profile{}, fmt.Errorf("read model profile %q: %w", fullPath, err)
	}

	var profile models.Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return models.Profile{}, fmt.Errorf("parse model profile %q: %w", fullPath, err)
	}
	if strings.TrimSpace(profile.Name) == "" {
		return models.Profile{}, fmt.Errorf("model profile %q: name must be provided", fullPath)
	}
	return profile, nil
}

// LoadFull reads the configuration and every YAML model profile it lists.
// Entries that are not .yaml/.yml files are skipped.
func LoadFull(path string) (Config, map[string]models.Profile, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("resolve config path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	profiles := make(map[string]models.Profile)
	for _, ref := range cfg.AvailableModels {
		ext := strings.ToLower(filepath.Ext(ref))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		profile, err := LoadModelProfile(ref, baseDir)
		if err != nil {
			return Config{}, nil, err
		}
		if _, exists := profiles[profile.Name]; exists {
			return Config{}, nil, fmt.Errorf("model profile %q defined more than once", profile.Name)
		}
		profiles[profile.Name] = profile
	}

	return cfg, profiles, nil
}
