// Package config loads Copilot client settings from a YAML file and the
// environment and turns them into copilot.ClientOption values.
//
// Loading applies defaults first, then the file, then environment
// overrides:
//
//	cli:
//	  path: /usr/local/bin/copilot
//	  log_level: debug
//	client:
//	  auto_restart: false
//	  grace_period: 2s
//	log:
//	  level: debug
//	  format: json
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmora/copilot"
)

// Config is the root of the YAML document.
type Config struct {
	CLI    CLIConfig    `yaml:"cli"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// CLIConfig selects and launches the CLI server.
type CLIConfig struct {
	Path     string   `yaml:"path"`
	Args     []string `yaml:"args"`
	URL      string   `yaml:"url"`
	Port     int      `yaml:"port"`
	UseStdio bool     `yaml:"use_stdio"`
	Cwd      string   `yaml:"cwd"`
	LogLevel string   `yaml:"log_level"`
}

// ClientConfig tunes client behavior.
type ClientConfig struct {
	AutoStart      bool          `yaml:"auto_start"`
	AutoRestart    bool          `yaml:"auto_restart"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	MaxMessageSize int           `yaml:"max_message_size"`
}

// LogConfig configures the SDK's slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CLI log levels accepted by --log-level.
var cliLogLevels = []string{"none", "error", "warning", "info", "debug", "all"}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		CLI: CLIConfig{
			Path:     copilot.DefaultCLIPath,
			UseStdio: true,
			LogLevel: copilot.DefaultLogLevel,
		},
		Client: ClientConfig{
			AutoStart:    true,
			AutoRestart:  true,
			GracePeriod:  5 * time.Second,
			StartTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.CLI.Path == "" && c.CLI.URL == "" {
		errs = append(errs, errors.New("cli.path or cli.url is required"))
	}
	if c.CLI.Port < 0 || c.CLI.Port > 65535 {
		errs = append(errs, fmt.Errorf("cli.port %d out of range", c.CLI.Port))
	}
	if c.CLI.LogLevel != "" && !slices.Contains(cliLogLevels, c.CLI.LogLevel) {
		errs = append(errs, fmt.Errorf("cli.log_level %q: want one of %v", c.CLI.LogLevel, cliLogLevels))
	}
	if c.Client.GracePeriod < 0 {
		errs = append(errs, errors.New("client.grace_period must not be negative"))
	}
	if c.Client.StartTimeout < 0 {
		errs = append(errs, errors.New("client.start_timeout must not be negative"))
	}
	if c.Client.MaxMessageSize < 0 {
		errs = append(errs, errors.New("client.max_message_size must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger builds the logger described by c.Log, writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := c.Log.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ClientOptions converts c into client options. logger may be nil.
func (c *Config) ClientOptions(logger *slog.Logger) []copilot.ClientOption {
	opts := []copilot.ClientOption{
		copilot.WithCLIPath(c.CLI.Path),
		copilot.WithCwd(c.CLI.Cwd),
		copilot.WithLogLevel(c.CLI.LogLevel),
		copilot.WithAutoStart(c.Client.AutoStart),
		copilot.WithAutoRestart(c.Client.AutoRestart),
		copilot.WithGracePeriod(c.Client.GracePeriod),
		copilot.WithStartTimeout(c.Client.StartTimeout),
		copilot.WithMaxMessageSize(c.Client.MaxMessageSize),
		copilot.WithLogger(logger),
	}
	if len(c.CLI.Args) > 0 {
		opts = append(opts, copilot.WithCLIArgs(c.CLI.Args...))
	}
	switch {
	case c.CLI.URL != "":
		opts = append(opts, copilot.WithCLIURL(c.CLI.URL))
	case !c.CLI.UseStdio:
		opts = append(opts, copilot.WithTCPPort(c.CLI.Port))
	}
	return opts
}
