package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LoadConfig reads a YAML config file, substitutes environment
// variables and applies defaults. Validation is a separate step so
// callers can report all problems at once.
func LoadConfig(path string) (*GatewayConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	data, err := os.ReadFile(abs) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return parseConfig(data)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*GatewayConfig, error) {
	content := substituteEnvVars(string(data))

	var cfg GatewayConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// substituteEnvVars expands ${VAR} and ${VAR:-default} references. A
// set variable wins over its default; an unset variable without a
// default expands to the empty string. "$$" escapes a literal dollar.
func substituteEnvVars(content string) string {
	const marker = "\x00dollar\x00"
	content = strings.ReplaceAll(content, "$$", marker)

	content = envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value, ok := os.LookupEnv(parts[1]); ok {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})

	return strings.ReplaceAll(content, marker, "$")
}

// ResolveConfigPath locates a config file, trying the path as given
// and then the conventional locations.
func ResolveConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("config file not found: %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}

	candidates := []string{
		filepath.Join("configs", path),
		filepath.Join(string(filepath.Separator), "etc", "aigw", path),
		filepath.Join(os.Getenv("HOME"), ".aigw", path),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", fmt.Errorf("config file not found: %s", path)
}
