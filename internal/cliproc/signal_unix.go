//go:build !windows

package cliproc

import (
	"os"
	"syscall"
)

func terminate(proc *os.Process) error {
	return signalProcess(proc, syscall.SIGTERM)
}
