//go:build !windows

package wire

import (
	"os/signal"
	"syscall"
)

func signalIgnorePipe() {
	signal.Ignore(syscall.SIGPIPE)
}
