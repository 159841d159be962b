package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/tunnelcheck/internal/daemon"
	"github.com/loykin/tunnelcheck/internal/logger"
	"github.com/loykin/tunnelcheck/internal/tunnel"
)

type RunFlags struct {
	ConfigPath string
}

// fileConfig mirrors the flat kebab-case document a tunnel binary
// reads. Unknown keys are ignored.
type fileConfig struct {
	Metrics       string               `yaml:"metrics"`
	GracePeriod   string               `yaml:"grace-period"`
	HAConnections int                  `yaml:"ha-connections"`
	LogLevel      string               `yaml:"loglevel"`
	LogFile       string               `yaml:"logfile"`
	LogDirectory  string               `yaml:"log-directory"`
	Ingress       []tunnel.IngressRule `yaml:"ingress"`
}

func loadOptions(flags *RunFlags) (daemon.Options, error) {
	if flags.ConfigPath == "" {
		return daemon.Options{}, fmt.Errorf("--config is required")
	}
	b, err := os.ReadFile(filepath.Clean(flags.ConfigPath))
	if err != nil {
		return daemon.Options{}, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return daemon.Options{}, fmt.Errorf("parse %s: %w", flags.ConfigPath, err)
	}

	opts := daemon.Options{
		MetricsAddr:   fc.Metrics,
		HAConnections: fc.HAConnections,
		LogLevel:      parseLevel(fc.LogLevel),
		LogFile:       logger.FileConfig{File: fc.LogFile, Dir: fc.LogDirectory},
	}
	if opts.MetricsAddr == "" {
		opts.MetricsAddr = tunnel.DefaultMetricsAddr
	}
	if fc.GracePeriod != "" {
		d, err := time.ParseDuration(fc.GracePeriod)
		if err != nil {
			return daemon.Options{}, fmt.Errorf("grace-period: %w", err)
		}
		opts.GracePeriod = d
	}
	// Bind the origin where the first ingress rule points, so requests
	// addressed to the configured service reach this process.
	if len(fc.Ingress) > 0 {
		addr, err := serviceAddr(fc.Ingress[0].Service)
		if err != nil {
			return daemon.Options{}, err
		}
		opts.OriginAddr = addr
	}
	return opts, nil
}

func serviceAddr(service string) (string, error) {
	if service == "" {
		return "", nil
	}
	u, err := url.Parse(service)
	if err != nil {
		return "", fmt.Errorf("ingress service %q: %w", service, err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", fmt.Errorf("ingress service %q: %w", service, err)
	}
	return net.JoinHostPort(host, port), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
