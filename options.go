package copilot

import (
	"log/slog"
	"os"
	"time"
)

// Default client configuration values.
const (
	DefaultCLIPath      = "copilot"
	DefaultLogLevel     = "info"
	defaultGracePeriod  = 5 * time.Second
	defaultStartTimeout = 30 * time.Second
)

// EnvCLIPath overrides the default CLI executable when set.
const EnvCLIPath = "COPILOT_CLI_PATH"

// ClientOptions holds resolved configuration for a Client.
type ClientOptions struct {
	// CLIPath is the CLI executable name or path.
	CLIPath string

	// CLIArgs are extra arguments placed before the server flags.
	CLIArgs []string

	// CLIURL connects to an already running server ("host:port",
	// "http://host:port" or "port") instead of spawning one.
	CLIURL string

	// UseStdio selects the stdio transport for a spawned CLI. When false
	// the CLI is started in TCP mode on Port.
	UseStdio bool
	Port     int

	// Cwd is the working directory of the spawned CLI.
	Cwd string

	// Env is the full environment of the spawned CLI. Nil inherits.
	Env []string

	// LogLevel is passed to the CLI as --log-level.
	LogLevel string

	// AutoStart makes session operations call Start on a disconnected
	// client.
	AutoStart bool

	// AutoRestart makes the next operation after a lost connection
	// reconnect.
	AutoRestart bool

	// GracePeriod is the wait between SIGTERM and SIGKILL on Stop.
	GracePeriod time.Duration

	// StartTimeout bounds Start (spawn, connect, protocol check).
	StartTimeout time.Duration

	// MaxMessageSize bounds a single inbound JSON-RPC message.
	MaxMessageSize int

	Logger *slog.Logger
}

// ClientOption configures a Client at construction time.
type ClientOption func(*ClientOptions)

// WithCLIPath sets the CLI executable. Empty values are ignored.
func WithCLIPath(path string) ClientOption {
	return func(o *ClientOptions) {
		if path != "" {
			o.CLIPath = path
		}
	}
}

// WithCLIArgs sets extra CLI arguments.
func WithCLIArgs(args ...string) ClientOption {
	return func(o *ClientOptions) {
		o.CLIArgs = args
	}
}

// WithCLIURL connects to an existing server instead of spawning the CLI.
func WithCLIURL(url string) ClientOption {
	return func(o *ClientOptions) {
		o.CLIURL = url
	}
}

// WithTCPPort spawns the CLI in TCP mode on port. Zero lets the CLI pick.
func WithTCPPort(port int) ClientOption {
	return func(o *ClientOptions) {
		o.UseStdio = false
		o.Port = port
	}
}

// WithCwd sets the working directory of the spawned CLI.
func WithCwd(dir string) ClientOption {
	return func(o *ClientOptions) {
		o.Cwd = dir
	}
}

// WithEnv sets the full environment of the spawned CLI.
func WithEnv(env []string) ClientOption {
	return func(o *ClientOptions) {
		o.Env = env
	}
}

// WithLogLevel sets the CLI log level. Empty values are ignored.
func WithLogLevel(level string) ClientOption {
	return func(o *ClientOptions) {
		if level != "" {
			o.LogLevel = level
		}
	}
}

// WithLogger sets the logger for SDK diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *ClientOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithAutoStart enables or disables starting on first use.
func WithAutoStart(on bool) ClientOption {
	return func(o *ClientOptions) {
		o.AutoStart = on
	}
}

// WithAutoRestart enables or disables reconnecting after a lost connection.
func WithAutoRestart(on bool) ClientOption {
	return func(o *ClientOptions) {
		o.AutoRestart = on
	}
}

// WithGracePeriod sets the wait between SIGTERM and SIGKILL.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithStartTimeout bounds Start. Values <= 0 are ignored.
func WithStartTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.StartTimeout = d
		}
	}
}

// WithMaxMessageSize bounds inbound messages. Values <= 0 are ignored.
func WithMaxMessageSize(n int) ClientOption {
	return func(o *ClientOptions) {
		if n > 0 {
			o.MaxMessageSize = n
		}
	}
}

func resolveClientOptions(opts ...ClientOption) ClientOptions {
	o := ClientOptions{
		CLIPath:      DefaultCLIPath,
		UseStdio:     true,
		LogLevel:     DefaultLogLevel,
		AutoStart:    true,
		AutoRestart:  true,
		GracePeriod:  defaultGracePeriod,
		StartTimeout: defaultStartTimeout,
		Logger:       slog.New(slog.DiscardHandler),
	}
	if p := os.Getenv(EnvCLIPath); p != "" {
		o.CLIPath = p
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
