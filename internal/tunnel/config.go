// Package tunnel builds immutable configuration values and command
// lines for the tunnel binary under test.
package tunnel

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMetricsAddr is where the daemon exposes /ready and /metrics.
const DefaultMetricsAddr = "localhost:51000"

// IngressRule routes one hostname to an origin service.
type IngressRule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

// Config is an immutable description of one tunnel run. Values are
// produced by Builder; field-by-field override resolution is explicit
// there rather than hidden in attribute-order merging.
type Config struct {
	Tunnel          string
	CredentialsFile string
	Ingress         []IngressRule

	MetricsAddr   string
	Protocol      string
	GracePeriod   time.Duration
	LogFile       string
	LogDirectory  string
	LogLevel      string
	HAConnections int
	NoAutoupdate  bool

	extra map[string]any
}

// URL returns the externally reachable URL of the first ingress rule.
func (c Config) URL() string {
	if len(c.Ingress) == 0 {
		return ""
	}
	return "https://" + c.Ingress[0].Hostname
}

// MetricsURL returns the base URL of the local metrics listener.
func (c Config) MetricsURL() string { return "http://" + c.MetricsAddr }

// Extra returns the free-form override for key, for callers that need
// to read back a value they injected.
func (c Config) Extra(key string) (any, bool) {
	v, ok := c.extra[key]
	return v, ok
}

// fileMap renders the config as the flat kebab-case document the tunnel
// binary reads. Free-form extras are applied first; recognized fields
// then win, except ingress which an extra may replace outright.
func (c Config) fileMap() map[string]any {
	m := make(map[string]any, len(c.extra)+8)
	for k, v := range c.extra {
		m[k] = v
	}
	if c.Protocol != "" {
		m["protocol"] = c.Protocol
	}
	if c.GracePeriod > 0 {
		m["grace-period"] = c.GracePeriod.String()
	}
	if c.LogFile != "" {
		m["logfile"] = c.LogFile
	}
	if c.LogDirectory != "" {
		m["log-directory"] = c.LogDirectory
	}
	if c.LogLevel != "" {
		m["loglevel"] = c.LogLevel
	}
	if c.HAConnections > 0 {
		m["ha-connections"] = c.HAConnections
	}
	m["no-autoupdate"] = c.NoAutoupdate
	m["metrics"] = c.MetricsAddr
	m["tunnel"] = c.Tunnel
	m["credentials-file"] = c.CredentialsFile
	if _, ok := m["ingress"]; !ok && len(c.Ingress) > 0 {
		m["ingress"] = c.Ingress
	}
	return m
}

// WriteFile emits the YAML config into dir and returns its path.
func (c Config) WriteFile(dir string) (string, error) {
	b, err := yaml.Marshal(c.fileMap())
	if err != nil {
		return "", fmt.Errorf("marshal tunnel config: %w", err)
	}
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("write tunnel config: %w", err)
	}
	return path, nil
}

// Builder accumulates recognized options and produces a Config.
// The zero Builder carries the harness defaults.
type Builder struct {
	cfg Config
}

func NewBuilder() *Builder {
	return &Builder{cfg: Config{
		MetricsAddr:  DefaultMetricsAddr,
		NoAutoupdate: true,
	}}
}

func (b *Builder) Tunnel(id string) *Builder { b.cfg.Tunnel = id; return b }
func (b *Builder) CredentialsFile(path string) *Builder { b.cfg.CredentialsFile = path; return b }
func (b *Builder) Ingress(rules ...IngressRule) *Builder { b.cfg.Ingress = rules; return b }
func (b *Builder) MetricsAddr(addr string) *Builder { b.cfg.MetricsAddr = addr; return b }
func (b *Builder) Protocol(p string) *Builder { b.cfg.Protocol = p; return b }
func (b *Builder) GracePeriod(d time.Duration) *Builder { b.cfg.GracePeriod = d; return b }
func (b *Builder) LogFile(path string) *Builder { b.cfg.LogFile = path; return b }
func (b *Builder) LogDirectory(dir string) *Builder { b.cfg.LogDirectory = dir; return b }
func (b *Builder) LogLevel(level string) *Builder { b.cfg.LogLevel = level; return b }
func (b *Builder) HAConnections(n int) *Builder { b.cfg.HAConnections = n; return b }

// Set records a free-form override for a key the builder does not model.
func (b *Builder) Set(key string, value any) *Builder {
	if b.cfg.extra == nil {
		b.cfg.extra = make(map[string]any)
	}
	b.cfg.extra[key] = value
	return b
}

// Build validates the accumulated options and returns the immutable
// Config. Tunnel, credentials file and ingress are mandatory for a
// named tunnel run.
func (b *Builder) Build() (Config, error) {
	if b.cfg.Tunnel == "" {
		return Config{}, fmt.Errorf("tunnel is not set")
	}
	if b.cfg.CredentialsFile == "" {
		return Config{}, fmt.Errorf("credentials file is not set")
	}
	if len(b.cfg.Ingress) == 0 {
		return Config{}, fmt.Errorf("ingress is not set")
	}
	cfg := b.cfg
	cfg.Ingress = append([]IngressRule(nil), b.cfg.Ingress...)
	if len(b.cfg.extra) > 0 {
		cfg.extra = make(map[string]any, len(b.cfg.extra))
		for k, v := range b.cfg.extra {
			cfg.extra[k] = v
		}
	}
	return cfg, nil
}
