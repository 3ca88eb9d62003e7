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
	envConfigDefaultPath = envPrefix + "_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// A missing file is created from the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg := Default()
	path := resolveConfigPath(explicitPath)

	v, err := newViper(cfg)
	if err != nil {
		return cfg, path, err
	}
	if err := readOrCreate(v, path, cfg, logger); err != nil {
		return cfg, path, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, path, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, path, nil
}

// newViper registers every key of cfg as a default and binds it to its env
// var, so WIRECHAT_TRANSPORT_KIND maps to transport.kind.
func newViper(cfg Config) (*viper.Viper, error) {
	settings, err := flatten(cfg)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range settings {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return v, nil
}

// flatten returns cfg as dotted keys, laid out like the config file.
func flatten(cfg Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	out := make(map[string]any)
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, tree map[string]any) {
	for k, value := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := value.(map[string]any); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = value
	}
}

// readOrCreate reads path into v. When the file does not exist it is written
// from cfg, which v already holds as defaults.
func readOrCreate(v *viper.Viper, path string, cfg Config, logger *zerolog.Logger) error {
	v.SetConfigFile(path)
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	if err := writeDefaultConfig(path, cfg); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
		return nil
	}
	logger.Info().Str("path", path).Msg("created default config")
	return nil
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

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
