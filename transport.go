package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dmora/copilot/internal/cliproc"
)

// transport is one live byte stream to a CLI server plus the means to tear
// it down.
type transport struct {
	r io.Reader
	w io.Writer

	// stop shuts down gracefully and returns the process exit error.
	stop func(ctx context.Context) error

	// kill tears down immediately.
	kill func()
}

// dialCLI connects to the server named by CLIURL, or spawns the CLI.
func (c *Client) dialCLI(ctx context.Context) (*transport, error) {
	if c.opts.CLIURL != "" {
		host, port, err := parseCLIURL(c.opts.CLIURL)
		if err != nil {
			return nil, err
		}
		return dialTCP(ctx, host, port, nil)
	}

	proc, err := cliproc.Start(ctx, cliproc.Config{
		Path:        c.opts.CLIPath,
		Args:        c.opts.CLIArgs,
		Dir:         c.opts.Cwd,
		Env:         c.opts.Env,
		LogLevel:    c.opts.LogLevel,
		TCP:         !c.opts.UseStdio,
		Port:        c.opts.Port,
		GracePeriod: c.opts.GracePeriod,
		Logger:      c.log,
	})
	if err != nil {
		if errors.Is(err, cliproc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("copilot: %w", err)
	}

	if c.opts.UseStdio {
		return &transport{
			r:    proc.Stdout(),
			w:    proc.Stdin(),
			stop: func(ctx context.Context) error { return exitError(proc.Stop(ctx)) },
			kill: proc.Kill,
		}, nil
	}

	port, err := proc.WaitPort(ctx)
	if err != nil {
		proc.Kill()
		return nil, fmt.Errorf("copilot: waiting for cli port: %w", err)
	}
	return dialTCP(ctx, "localhost", port, proc)
}

// dialTCP connects to host:port. When proc is non-nil it is stopped along
// with the socket.
func dialTCP(ctx context.Context, host string, port int, proc *cliproc.Process) (*transport, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if proc != nil {
			proc.Kill()
		}
		return nil, fmt.Errorf("copilot: connect: %w", err)
	}
	return &transport{
		r: nc,
		w: nc,
		stop: func(ctx context.Context) error {
			err := nc.Close()
			if proc != nil {
				return exitError(proc.Stop(ctx))
			}
			return err
		},
		kill: func() {
			_ = nc.Close()
			if proc != nil {
				proc.Kill()
			}
		},
	}, nil
}

// parseCLIURL accepts "host:port", "http://host:port", "https://host:port"
// or a bare port.
func parseCLIURL(url string) (host string, port int, err error) {
	s := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 65535 {
			return "", 0, fmt.Errorf("copilot: invalid port in cli url %q", url)
		}
		return "localhost", n, nil
	}
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("copilot: invalid cli url %q: want host:port or port", url)
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return "", 0, fmt.Errorf("copilot: invalid port in cli url %q", url)
	}
	if h == "" {
		h = "localhost"
	}
	return h, n, nil
}

// exitError maps a process wait error. Exits caused by our own signals are
// not errors.
func exitError(err error) error {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	if ee.ExitCode() == -1 {
		return nil
	}
	return &ExitError{Code: ee.ExitCode(), Err: err}
}
