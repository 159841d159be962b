package tunnelcheck

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loykin/tunnelcheck/internal/config"
)

func harnessConfig() *config.FileConfig {
	return &config.FileConfig{
		Binary: "/opt/bin/tunneld",
		Daemon: config.DaemonConfig{
			Tunnel:          "0ab3a423-3eb8-4a8a-a309-a5a1884b156d",
			CredentialsFile: "/tmp/creds.json",
			MetricsAddr:     "localhost:51231",
			GracePeriod:     10 * time.Second,
		},
		Ingress: []config.IngressConfig{
			{Hostname: "sub.example.com", Service: "http://localhost:8080"},
		},
		Poll:      config.PollConfig{MaxAttempts: 3, Delay: 10 * time.Millisecond},
		Reconnect: config.ReconnectConfig{Rounds: 2, Delay: time.Second, MinConnections: 1},
	}
}

func TestNewHarnessAssemblesURLs(t *testing.T) {
	h, err := New(harnessConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = h.Close() }()

	if h.TunnelURL() != "https://sub.example.com" {
		t.Fatalf("TunnelURL = %q", h.TunnelURL())
	}
	if h.MetricsURL() != "http://localhost:51231" {
		t.Fatalf("MetricsURL = %q", h.MetricsURL())
	}
	argv := h.Argv("/work/config.yml")
	want := "/opt/bin/tunneld tunnel --config /work/config.yml run"
	if strings.Join(argv, " ") != want {
		t.Fatalf("argv = %q", strings.Join(argv, " "))
	}
}

func TestNewHarnessRejectsIncompleteTunnel(t *testing.T) {
	cfg := harnessConfig()
	cfg.Daemon.CredentialsFile = ""
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestNewHarnessRejectsBadHistoryDSN(t *testing.T) {
	cfg := harnessConfig()
	cfg.History.DSN = "redis://localhost:6379"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported history DSN")
	}
}

func TestScenariosRequireRunningDaemon(t *testing.T) {
	h, err := New(harnessConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = h.Close() }()

	if _, err := h.RunReconnect(context.Background()); err == nil {
		t.Fatal("RunReconnect without daemon must fail")
	}
	if _, err := h.RunTermination(context.Background()); err == nil {
		t.Fatal("RunTermination without daemon must fail")
	}
	// StopDaemon before StartDaemon is a no-op.
	h.StopDaemon()
}
