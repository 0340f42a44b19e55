//go:build windows

package cliproc

import "os"

// Windows has no SIGTERM; the grace period is skipped.
func terminate(proc *os.Process) error {
	return signalProcess(proc, os.Kill)
}
