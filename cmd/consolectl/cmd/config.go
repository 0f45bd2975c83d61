package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	console "github.com/giantswarm/console-core"
)

// envVarPattern matches ${VAR_NAME} placeholders
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the consolectl configuration file
type Config struct {
	console.Config `yaml:",inline"`

	// CredentialFile holds the sealed credential between invocations
	// Default: <user config dir>/consolectl/credential
	CredentialFile string `yaml:"credential_file"`
}

// LoadConfig reads the configuration from path, substituting ${VAR} placeholders
// with environment variables
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONSOLECTL_CONFIG")
		if path == "" {
			path = "consolectl.yaml"
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	substituted, err := substituteEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("substituting env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// YAML comment lines are skipped so commented-out settings need no variables.
func substituteEnvVars(content string) (string, error) {
	var missingVars []string
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		lines[i] = envVarPattern.ReplaceAllStringFunc(line, func(match string) string {
			varName := envVarPattern.FindStringSubmatch(match)[1]
			value, ok := os.LookupEnv(varName)
			if !ok {
				missingVars = append(missingVars, varName)
				return match
			}
			return value
		})
	}

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing environment variables: %v", missingVars)
	}

	return strings.Join(lines, "\n"), nil
}

func applyDefaults(cfg *Config) error {
	if cfg.CredentialFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolving credential file location: %w", err)
		}
		cfg.CredentialFile = filepath.Join(dir, "consolectl", "credential")
	}
	if cfg.Instrumentation.ServiceName == "" {
		cfg.Instrumentation.ServiceName = "consolectl"
	}
	return nil
}

// Validate checks the session configuration. consolectl keeps credentials
// between invocations, so a sealing key is required.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Security.SealingKey == "" && c.Security.SealingPassphrase == "" {
		errs = append(errs, errors.New("security.sealing_key or security.sealing_passphrase is required"))
	}
	return errors.Join(errs...)
}
