package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmora/copilot"
)

// Environment variables read by ApplyEnv.
const (
	EnvCLIPath        = copilot.EnvCLIPath
	EnvCLIURL         = "COPILOT_CLI_URL"
	EnvCLILogLevel    = "COPILOT_LOG_LEVEL"
	EnvAutoStart      = "COPILOT_AUTO_START"
	EnvAutoRestart    = "COPILOT_AUTO_RESTART"
	EnvMaxMessageSize = "COPILOT_MAX_MESSAGE_SIZE"
)

// ApplyEnv overrides c with any of the Env* variables that are set.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvCLIPath); v != "" {
		c.CLI.Path = v
	}
	if v := getenv(EnvCLIURL); v != "" {
		c.CLI.URL = v
	}
	if v := getenv(EnvCLILogLevel); v != "" {
		c.CLI.LogLevel = v
	}
	if b, ok, err := parseBool(getenv, EnvAutoStart); err != nil {
		return err
	} else if ok {
		c.Client.AutoStart = b
	}
	if b, ok, err := parseBool(getenv, EnvAutoRestart); err != nil {
		return err
	} else if ok {
		c.Client.AutoRestart = b
	}
	if n, ok, err := parsePositiveInt(getenv, EnvMaxMessageSize); err != nil {
		return err
	} else if ok {
		c.Client.MaxMessageSize = n
	}
	return nil
}

// parsePositiveInt returns the integer value of key.
// If the key is absent or empty, it returns (0, false, nil).
// If the value is present but not a valid positive integer, or contains
// null bytes, it returns an error.
func parsePositiveInt(getenv func(string) string, key string) (int, bool, error) {
	v := getenv(key)
	if v == "" {
		return 0, false, nil
	}
	if strings.Contains(v, "\x00") {
		return 0, false, fmt.Errorf("config: %s: value contains null bytes", key)
	}
	v = strings.TrimSpace(v)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s: %q is not a valid integer", key, v)
	}
	if n <= 0 {
		return 0, false, fmt.Errorf("config: %s: %q must be a positive integer", key, v)
	}
	return n, true, nil
}

// parseBool returns the boolean value of key.
// If the key is absent or empty, it returns (false, false, nil).
// Truthy values: "true", "on", "1", "yes" (case-insensitive).
// Falsy values: "false", "off", "0", "no" (case-insensitive).
func parseBool(getenv func(string) string, key string) (bool, bool, error) {
	v := getenv(key)
	if v == "" {
		return false, false, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return true, true, nil
	case "false", "off", "0", "no":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("config: %s: %q is not a recognized boolean value", key, v)
	}
}
