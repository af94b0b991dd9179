package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passage.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `{
	"server": {"addr": ":8080"},
	"auth": {"issuer": "https://auth.example.com"},
	"upstream": {"url": "wss://realtime.example.com/v1"}
}`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.Upstream.URL != "wss://realtime.example.com/v1" {
		t.Errorf("upstream url = %q", cfg.Upstream.URL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Auth.SessionTokenTTL.Duration != time.Hour {
		t.Errorf("session token ttl = %v, want 1h", cfg.Auth.SessionTokenTTL.Duration)
	}
	if cfg.Auth.SessionTokenBytes != 32 {
		t.Errorf("session token bytes = %d, want 32", cfg.Auth.SessionTokenBytes)
	}
	if cfg.Session.HeartbeatInterval.Duration != 30*time.Second {
		t.Errorf("heartbeat interval = %v, want 30s", cfg.Session.HeartbeatInterval.Duration)
	}
	if cfg.Session.LifecycleInterval.Duration != time.Minute {
		t.Errorf("lifecycle interval = %v, want 1m", cfg.Session.LifecycleInterval.Duration)
	}
	if cfg.Session.MaxAge.Duration != 30*time.Minute {
		t.Errorf("max age = %v, want 30m", cfg.Session.MaxAge.Duration)
	}
	if cfg.Session.MaxMessageBytes != 64*1024 {
		t.Errorf("max message bytes = %d, want 64KB", cfg.Session.MaxMessageBytes)
	}
	if cfg.Session.MaxPerPrincipal != 10 {
		t.Errorf("max per principal = %d, want 10", cfg.Session.MaxPerPrincipal)
	}
	if cfg.Upstream.ConnectTimeout.Duration != 15*time.Second {
		t.Errorf("connect timeout = %v, want 15s", cfg.Upstream.ConnectTimeout.Duration)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "passage.db" {
		t.Errorf("storage defaults = %q %q", cfg.Storage.Driver, cfg.Storage.DSN)
	}
	if cfg.Storage.AuditRetention.Duration != 30*24*time.Hour {
		t.Errorf("audit retention = %v, want 720h", cfg.Storage.AuditRetention.Duration)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %q %q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate limit defaults = %v %d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Server.MaxBodyBytes != 1024*1024 {
		t.Errorf("max body bytes = %d, want 1MB", cfg.Server.MaxBodyBytes)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("allowed origins = %v, want [*]", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_ExplicitValuesNotOverridden(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"server": {"addr": ":9090"},
		"auth": {"issuer": "https://auth.example.com", "session_token_ttl": "30m"},
		"upstream": {"url": "wss://realtime.example.com/v1", "connect_timeout": "5s"},
		"session": {"max_age": "10m", "max_per_principal": 2}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Auth.SessionTokenTTL.Duration != 30*time.Minute {
		t.Errorf("session token ttl = %v, want 30m", cfg.Auth.SessionTokenTTL.Duration)
	}
	if cfg.Upstream.ConnectTimeout.Duration != 5*time.Second {
		t.Errorf("connect timeout = %v, want 5s", cfg.Upstream.ConnectTimeout.Duration)
	}
	if cfg.Session.MaxAge.Duration != 10*time.Minute {
		t.Errorf("max age = %v, want 10m", cfg.Session.MaxAge.Duration)
	}
	if cfg.Session.MaxPerPrincipal != 2 {
		t.Errorf("max per principal = %d, want 2", cfg.Session.MaxPerPrincipal)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing addr", `{"auth": {"issuer": "x"}, "upstream": {"url": "y"}}`, "server.addr"},
		{"missing issuer", `{"server": {"addr": ":1"}, "upstream": {"url": "y"}}`, "auth.issuer"},
		{"missing upstream url", `{"server": {"addr": ":1"}, "auth": {"issuer": "x"}}`, "upstream.url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{"server": `))
	if err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Error("expected read error")
	}
}

func TestDuration_UnmarshalString(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("got %v, want 90s", d.Duration)
	}
}

func TestDuration_UnmarshalNumberIsSeconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`45`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 45*time.Second {
		t.Errorf("got %v, want 45s", d.Duration)
	}
}

func TestDuration_UnmarshalInvalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"ninety"`), &d); err == nil {
		t.Error("expected error for unparseable duration string")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for non-string, non-number duration")
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration{Duration: 5 * time.Minute}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var got Duration
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Duration != d.Duration {
		t.Errorf("round trip: got %v, want %v", got.Duration, d.Duration)
	}
}
