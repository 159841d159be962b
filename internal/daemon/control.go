package daemon

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ReconnectSignal asks the daemon to cycle one active connection after
// an optional delay.
type ReconnectSignal struct {
	Delay time.Duration
}

const controlHelp = `Supported commands:
reconnect [delay]
- restarts one randomly chosen connection with optional delay before reconnect`

// RunControl reads control commands from r (the daemon's stdin) until
// EOF. Recognized reconnect requests are delivered on reconnectC.
func RunControl(r io.Reader, reconnectC chan<- ReconnectSignal, log *slog.Logger) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		command := scanner.Text()
		parts := strings.SplitN(command, " ", 2)

		switch parts[0] {
		case "":
		case "reconnect":
			var sig ReconnectSignal
			if len(parts) > 1 {
				delay, err := time.ParseDuration(strings.TrimSpace(parts[1]))
				if err != nil {
					log.Error("bad reconnect delay", "input", parts[1], "err", err)
					continue
				}
				sig.Delay = delay
			}
			log.Info("sending reconnect signal", "delay", sig.Delay)
			reconnectC <- sig
		case "help":
			log.Info(controlHelp)
		default:
			log.Info("unknown command", "command", command)
			log.Info(controlHelp)
		}
	}
}
