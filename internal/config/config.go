package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/tunnelcheck/internal/retry"
	"github.com/loykin/tunnelcheck/internal/scenario"
	"github.com/loykin/tunnelcheck/internal/tunnel"
)

// FileConfig represents the top-level TOML structure of a harness
// config file.
type FileConfig struct {
	Binary   string   `toml:"binary" mapstructure:"binary"`
	RunAs    string   `toml:"run_as" mapstructure:"run_as"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Daemon      DaemonConfig      `toml:"daemon" mapstructure:"daemon"`
	Ingress     []IngressConfig   `toml:"ingress" mapstructure:"ingress"`
	Poll        PollConfig        `toml:"poll" mapstructure:"poll"`
	Reconnect   ReconnectConfig   `toml:"reconnect" mapstructure:"reconnect"`
	Termination TerminationConfig `toml:"termination" mapstructure:"termination"`
	History     HistoryConfig     `toml:"history" mapstructure:"history"`
}

// DaemonConfig carries what goes into the daemon's own config file.
type DaemonConfig struct {
	Tunnel          string        `toml:"tunnel" mapstructure:"tunnel"`
	CredentialsFile string        `toml:"credentials_file" mapstructure:"credentials_file"`
	MetricsAddr     string        `toml:"metrics_addr" mapstructure:"metrics_addr"`
	Protocol        string        `toml:"protocol" mapstructure:"protocol"`
	GracePeriod     time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	HAConnections   int           `toml:"ha_connections" mapstructure:"ha_connections"`
	LogLevel        string        `toml:"log_level" mapstructure:"log_level"`
	LogFile         string        `toml:"log_file" mapstructure:"log_file"`
	LogDirectory    string        `toml:"log_directory" mapstructure:"log_directory"`
}

type IngressConfig struct {
	Hostname string `toml:"hostname" mapstructure:"hostname"`
	Service  string `toml:"service" mapstructure:"service"`
}

// PollConfig shapes the readiness retry policy.
type PollConfig struct {
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
	Delay       time.Duration `toml:"delay" mapstructure:"delay"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ReconnectConfig struct {
	Rounds         int           `toml:"rounds" mapstructure:"rounds"`
	Delay          time.Duration `toml:"delay" mapstructure:"delay"`
	MinConnections int           `toml:"min_connections" mapstructure:"min_connections"`
}

type TerminationConfig struct {
	Signal     string `toml:"signal" mapstructure:"signal"`
	StreamPath string `toml:"stream_path" mapstructure:"stream_path"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Load parses a TOML harness config and fills defaults.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Binary == "" {
		fc.Binary = "cloudflared"
	}
	if fc.Daemon.MetricsAddr == "" {
		fc.Daemon.MetricsAddr = tunnel.DefaultMetricsAddr
	}
	if fc.Poll.MaxAttempts <= 0 {
		fc.Poll.MaxAttempts = retry.DefaultMaxAttempts
	}
	if fc.Poll.Delay <= 0 {
		fc.Poll.Delay = retry.DefaultDelay
	}
	if fc.Poll.Timeout <= 0 {
		fc.Poll.Timeout = retry.DefaultTimeout
	}
	if fc.Reconnect.Rounds <= 0 {
		fc.Reconnect.Rounds = scenario.DefaultReconnectRounds
	}
	if fc.Reconnect.Delay <= 0 {
		fc.Reconnect.Delay = 5 * time.Second
	}
	if fc.Reconnect.MinConnections <= 0 {
		fc.Reconnect.MinConnections = 1
	}
	if fc.Termination.Signal == "" {
		fc.Termination.Signal = "SIGTERM"
	}
	if _, err := fc.TerminationSignal(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// PollPolicy returns the readiness retry policy.
func (fc *FileConfig) PollPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: fc.Poll.MaxAttempts, Delay: fc.Poll.Delay, Timeout: fc.Poll.Timeout}
}

// TunnelConfig assembles the daemon config file content.
func (fc *FileConfig) TunnelConfig() (tunnel.Config, error) {
	rules := make([]tunnel.IngressRule, 0, len(fc.Ingress))
	for _, r := range fc.Ingress {
		rules = append(rules, tunnel.IngressRule{Hostname: r.Hostname, Service: r.Service})
	}
	b := tunnel.NewBuilder().
		Tunnel(fc.Daemon.Tunnel).
		CredentialsFile(fc.Daemon.CredentialsFile).
		Ingress(rules...).
		MetricsAddr(fc.Daemon.MetricsAddr)
	if fc.Daemon.Protocol != "" {
		b.Protocol(fc.Daemon.Protocol)
	}
	if fc.Daemon.GracePeriod > 0 {
		b.GracePeriod(fc.Daemon.GracePeriod)
	}
	if fc.Daemon.HAConnections > 0 {
		b.HAConnections(fc.Daemon.HAConnections)
	}
	if fc.Daemon.LogLevel != "" {
		b.LogLevel(fc.Daemon.LogLevel)
	}
	if fc.Daemon.LogFile != "" {
		b.LogFile(fc.Daemon.LogFile)
	}
	if fc.Daemon.LogDirectory != "" {
		b.LogDirectory(fc.Daemon.LogDirectory)
	}
	return b.Build()
}

// TerminationSignal parses the configured shutdown signal name.
func (fc *FileConfig) TerminationSignal() (os.Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(fc.Termination.Signal)) {
	case "", "SIGTERM", "TERM":
		return syscall.SIGTERM, nil
	case "SIGINT", "INT":
		return syscall.SIGINT, nil
	}
	return nil, fmt.Errorf("unsupported termination signal %q", fc.Termination.Signal)
}

// RunAsRoot reports whether the daemon child should run under sudo.
func (fc *FileConfig) RunAsRoot() bool { return fc.RunAs == "root" }

// GlobalEnv merges the environment for the daemon child. Precedence:
// OS env (when enabled) is the base, env_files apply next, and the
// top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines
// starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
