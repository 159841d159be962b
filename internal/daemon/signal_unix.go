//go:build !windows

package daemon

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyTermination subscribes to the platform's graceful-stop signals.
// SIGTERM and SIGINT are honored identically by the shutdown path.
func notifyTermination(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
}
