// Package cliproc spawns and supervises the Copilot CLI server process.
//
// In stdio mode the JSON-RPC stream runs over the child's stdin/stdout.
// In TCP mode the child announces "listening on port N" on stdout and the
// caller dials that port. Stderr is forwarded line by line to the logger.
package cliproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmora/copilot/internal/errfmt"
)

// ErrNotFound is returned by Start when the CLI executable cannot be resolved.
var ErrNotFound = errors.New("cliproc: executable not found")

// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

var portPattern = regexp.MustCompile(`listening on port (\d+)`)

// Config describes how to launch the CLI.
type Config struct {
	// Path is the executable name or path. A path ending in ".js" is run
	// with node.
	Path string

	// Args are prepended to the server flags.
	Args []string

	// Dir is the working directory. Empty inherits the caller's.
	Dir string

	// Env is the full child environment. Nil inherits the caller's.
	Env []string

	// LogLevel is passed as --log-level when non-empty.
	LogLevel string

	// TCP selects TCP mode; Port is the requested port (0 lets the CLI
	// pick one).
	TCP  bool
	Port int

	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Process is a running CLI server.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	log    *slog.Logger
	grace  time.Duration

	portCh chan int

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Args returns the command-line flags for cfg, after any user Args.
func Args(cfg Config) []string {
	args := append([]string(nil), cfg.Args...)
	args = append(args, "--server")
	if cfg.LogLevel != "" {
		args = append(args, "--log-level", cfg.LogLevel)
	}
	if cfg.TCP {
		if cfg.Port > 0 {
			args = append(args, "--port", strconv.Itoa(cfg.Port))
		}
	} else {
		args = append(args, "--stdio")
	}
	return args
}

// Start launches the CLI. The process is not tied to ctx; use Stop or Kill.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: no path configured", ErrNotFound)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	name, args := cfg.Path, Args(cfg)
	if strings.HasSuffix(name, ".js") {
		name, args = "node", append([]string{cfg.Path}, args...)
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, name, err)
	}

	cmd := exec.Command(resolved, args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cliproc: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("cliproc: stderr pipe: %w", err)
	}
	// cmd.Wait closes pipes it created, which would race with the JSON-RPC
	// reader. An os.Pipe read end stays open until Stop or Kill.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cliproc: stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("cliproc: start %s: %w", resolved, err)
	}
	stdoutW.Close()

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		log:    log.With("pid", cmd.Process.Pid),
		grace:  grace,
		done:   make(chan struct{}),
	}
	p.log.Debug("copilot cli started", "path", resolved, "args", args)

	var pipes sync.WaitGroup
	pipes.Add(1)
	go func() {
		defer pipes.Done()
		p.forwardStderr(stderr)
	}()
	if cfg.TCP {
		p.portCh = make(chan int, 1)
		pipes.Add(1)
		go func() {
			defer pipes.Done()
			p.scanPort()
		}()
	}

	// Wait must not run until the pipe readers are finished.
	go func() {
		pipes.Wait()
		p.waitErr = cmd.Wait()
		p.log.Debug("copilot cli exited", "err", p.waitErr)
		close(p.done)
	}()
	return p, nil
}

// Stdin is the write side of the stdio transport.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the read side of the stdio transport. Not valid in TCP mode.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// WaitPort blocks until the CLI announces its TCP port.
func (p *Process) WaitPort(ctx context.Context) (int, error) {
	if p.portCh == nil {
		return 0, errors.New("cliproc: not in TCP mode")
	}
	select {
	case port, ok := <-p.portCh:
		if !ok {
			return 0, errors.New("cliproc: exited before announcing a port")
		}
		return port, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop closes stdin, sends SIGTERM, and escalates to SIGKILL after the grace
// period or when ctx expires. Safe to call multiple times. Returns the exit
// error.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		_ = terminate(p.cmd.Process)

		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.log.Warn("copilot cli did not exit after SIGTERM, killing", "grace", p.grace)
			_ = signalProcess(p.cmd.Process, os.Kill)
			<-p.done
		case <-ctx.Done():
			_ = signalProcess(p.cmd.Process, os.Kill)
			<-p.done
		}
		_ = p.stdout.Close()
	})
	<-p.done
	return p.waitErr
}

// Kill terminates the process immediately and waits for it to exit.
func (p *Process) Kill() {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		_ = signalProcess(p.cmd.Process, os.Kill)
		<-p.done
		_ = p.stdout.Close()
	})
	<-p.done
}

func (p *Process) forwardStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		p.log.Debug("copilot cli stderr", "line", errfmt.Truncate(sc.Text()))
	}
}

// scanPort reads stdout until the port announcement, then keeps draining it
// so the child never blocks on a full pipe.
func (p *Process) scanPort() {
	defer close(p.portCh)
	sc := bufio.NewScanner(p.stdout)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	announced := false
	for sc.Scan() {
		line := sc.Text()
		if !announced {
			if m := portPattern.FindStringSubmatch(line); m != nil {
				if port, err := strconv.Atoi(m[1]); err == nil {
					p.portCh <- port
					announced = true
					continue
				}
			}
		}
		p.log.Debug("copilot cli stdout", "line", errfmt.Truncate(line))
	}
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
