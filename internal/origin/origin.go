// Package origin runs the hello-world HTTP origin the tunnel daemon
// proxies to. It exists so scenarios have a real service behind the
// tunnel: a root page, a health probe, an uptime report and a
// server-sent-event stream for in-flight-connection tests.
package origin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// StartupMessage is logged when the origin begins serving. Log
// verification keys on this exact substring.
const StartupMessage = "Starting Hello World server"

// TerminalStatusLine is written to still-open event streams when the
// daemon force-closes them at the end of the grace period.
const TerminalStatusLine = "502 Bad Gateway"

const defaultSSEFreq = 10 * time.Second

// UpTime reports how long the origin has been serving.
type UpTime struct {
	StartTime time.Time `json:"startTime"`
	UpTime    string    `json:"upTime"`
}

// Server is a hello-world origin bound to a listener.
type Server struct {
	e        *echo.Echo
	listener net.Listener
	log      *slog.Logger
	started  time.Time

	inFlight atomic.Int64
	drainC   chan struct{}
	drainMu  sync.Mutex
}

// New builds the origin on the given listener. Pass a listener from
// net.Listen("tcp", "127.0.0.1:0") to get an ephemeral port.
func New(listener net.Listener, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		listener: listener,
		log:      log,
		started:  time.Now(),
		drainC:   make(chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", s.handleHealth)
	e.GET("/uptime", s.handleUptime)
	e.GET("/sse", s.handleSSE)
	e.GET("/", s.handleRoot)
	s.e = e
	return s
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// URL returns the http base URL of the origin.
func (s *Server) URL() string { return "http://" + s.Addr() }

// Start serves until Shutdown. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.log.Info(fmt.Sprintf("%s at %s", StartupMessage, s.listener.Addr()))
	s.e.Listener = s.listener
	err := s.e.Start("")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the origin, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// InFlight reports the number of event streams currently being served.
func (s *Server) InFlight() int { return int(s.inFlight.Load()) }

// Drain force-closes open event streams: each one gets the terminal
// status line and then ends. Safe to call more than once.
func (s *Server) Drain() {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	select {
	case <-s.drainC:
	default:
		close(s.drainC)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleUptime(c echo.Context) error {
	return c.JSON(http.StatusOK, UpTime{
		StartTime: s.started,
		UpTime:    time.Since(s.started).String(),
	})
}

func (s *Server) handleRoot(c echo.Context) error {
	host, _ := os.Hostname()
	r := c.Request()
	s.log.Debug("hello request received",
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"host", r.Host,
		"user_agent", r.UserAgent(),
	)
	err := c.String(http.StatusOK, fmt.Sprintf("Hello from %s!\n", host))
	s.log.Debug("hello response sent",
		"path", r.URL.Path,
		"status", http.StatusOK,
		"headers", fmt.Sprintf("%v", r.Header),
	)
	return err
}

// handleSSE emits a counter line every freq until the client goes away.
// The "%d\n\n" framing (count followed by a blank line) is part of the
// stream contract scenarios assert on.
func (s *Server) handleSSE(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	freq := defaultSSEFreq
	if requested := c.QueryParam("freq"); requested != "" {
		if parsed, err := time.ParseDuration(requested); err == nil && parsed > 0 {
			freq = parsed
		}
	}
	s.log.Debug("serving event stream", "freq", freq)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	ticker := time.NewTicker(freq)
	defer ticker.Stop()
	counter := 0
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-s.drainC:
			// Grace period elapsed with the stream still open: emit the
			// terminal status line before force-closing.
			_, _ = fmt.Fprintf(w, "%s\n", TerminalStatusLine)
			w.Flush()
			return nil
		case <-ticker.C:
		}
		if _, err := fmt.Fprintf(w, "%d\n\n", counter); err != nil {
			return nil
		}
		w.Flush()
		counter++
	}
}
