package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRECHAT"
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// sectionHeads labels the first key of each group in a generated file.
var sectionHeads = map[string]string{
	"addr":              "server",
	"log_level":         "logging: level is debug, info, warn or error; format is console or json",
	"store_driver":      "storage: sqlite reads database_path, postgres reads database_url",
	"broker":            "realtime fan-out: memory for one process, redis to share across servers",
	"jwt_secret":        "bearer tokens",
	"max_message_bytes": "limits",
	"server_url":        "client commands",
	"page_size":         "sync views: page size of the initial load, retry policy and recovery overlap",
}

// Load resolves the configuration and the file it came from.
// Precedence: defaults < config file < WIRECHAT_* env vars. A missing file is
// created from the defaults so the next run has something to edit.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()
	path := resolveConfigPath(explicitPath)

	doc, err := document(cfg)
	if err != nil {
		return cfg, path, fmt.Errorf("encode defaults: %w", err)
	}
	v, err := newViper(doc)
	if err != nil {
		return cfg, path, err
	}
	v.SetConfigFile(path)

	if err := readOrCreate(logger, v, path, doc); err != nil {
		return cfg, path, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, path, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, path, nil
}

// newViper registers every key of doc as a default so that env overrides
// also reach keys the file leaves out.
func newViper(doc *yaml.Node) (*viper.Viper, error) {
	var values map[string]any
	if err := doc.Decode(&values); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range values {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func readOrCreate(logger *zerolog.Logger, v *viper.Viper, path string, doc *yaml.Node) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read config: %w", err)
	}

	// Running without a file is fine; defaults and env still apply.
	if err := writeDocument(path, doc); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
		}
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read generated config: %w", err)
	}
	return nil
}

// document encodes cfg as a YAML mapping with a comment above each group.
func document(cfg Config) (*yaml.Node, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if head, ok := sectionHeads[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = head
		}
	}
	return &doc, nil
}

func writeDocument(path string, doc *yaml.Node) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	// The file holds the JWT secret and possibly a token.
	return os.WriteFile(path, data, 0o600)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, defaultConfigName)
	}
	return defaultConfigName
}
