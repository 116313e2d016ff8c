package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validYAML is a minimal configuration that passes validation.
const validYAML = `
bridge:
  id: "bridge-test"
endpoints:
  a:
    host: "broker-a.local"
    port: 1883
    client_id: "span-a"
  b:
    host: "broker-b.local"
    port: 8883
    client_id: "span-b"
    tls:
      enabled: true
rules:
  - source: a
    pattern: "sensors/+/temp"
    destination: b
    template: "bridge/a/sensors/{0}/temp"
`

// writeTempConfig writes YAML content to a temp file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Endpoints.A.Host != "broker-a.local" {
		t.Errorf("Endpoints.A.Host = %q, want %q", cfg.Endpoints.A.Host, "broker-a.local")
	}
	if cfg.Endpoints.B.Port != 8883 {
		t.Errorf("Endpoints.B.Port = %d, want 8883", cfg.Endpoints.B.Port)
	}
	if !cfg.Endpoints.B.TLS.Enabled {
		t.Error("Endpoints.B.TLS.Enabled = false, want true")
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("len(Rules) = %d, want 1", len(cfg.Rules))
	}
	if cfg.Rules[0].Destination != EndpointB {
		t.Errorf("Rules[0].Destination = %q, want %q", cfg.Rules[0].Destination, EndpointB)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.QueueDepth != 128 {
		t.Errorf("Bridge.QueueDepth = %d, want default 128", cfg.Bridge.QueueDepth)
	}
	if cfg.Endpoints.A.Reconnect.InitialDelay != 1 {
		t.Errorf("Reconnect.InitialDelay = %d, want default 1", cfg.Endpoints.A.Reconnect.InitialDelay)
	}
	if cfg.Endpoints.A.Reconnect.MaxDelay != 60 {
		t.Errorf("Reconnect.MaxDelay = %d, want default 60", cfg.Endpoints.A.Reconnect.MaxDelay)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "endpoints: [not a map")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPANBRIDGE_ENDPOINT_A_HOST", "override-a.local")
	t.Setenv("SPANBRIDGE_ENDPOINT_B_PASSWORD", "hunter2")

	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Endpoints.A.Host != "override-a.local" {
		t.Errorf("Endpoints.A.Host = %q, want env override", cfg.Endpoints.A.Host)
	}
	if cfg.Endpoints.B.Auth.Password != "hunter2" {
		t.Errorf("Endpoints.B.Auth.Password not overridden from env")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateRejectsSelfBridge(t *testing.T) {
	yaml := strings.Replace(validYAML, "destination: b", "destination: a", 1)
	path := writeTempConfig(t, yaml)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for rule mapping an endpoint to itself")
	}
	if !strings.Contains(err.Error(), "must differ from source") {
		t.Errorf("Load() error = %v, want self-bridge rejection", err)
	}
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name string
		rule RuleConfig
		want string // substring expected in the error, "" for valid
	}{
		{
			name: "valid preserve",
			rule: RuleConfig{Source: "a", Destination: "b", Pattern: "x/#", Template: "y/{0}", QoS: "preserve"},
			want: "",
		},
		{
			name: "valid qos override",
			rule: RuleConfig{Source: "b", Destination: "a", Pattern: "x/+", Template: "y/{0}", QoS: "1"},
			want: "",
		},
		{
			name: "bad source",
			rule: RuleConfig{Source: "c", Destination: "b", Pattern: "x", Template: "y"},
			want: "source must be",
		},
		{
			name: "bad qos",
			rule: RuleConfig{Source: "a", Destination: "b", Pattern: "x", Template: "y", QoS: "3"},
			want: "qos must be",
		},
		{
			name: "bad retain",
			rule: RuleConfig{Source: "a", Destination: "b", Pattern: "x", Template: "y", Retain: "always"},
			want: "retain must be",
		},
		{
			name: "missing pattern",
			rule: RuleConfig{Source: "a", Destination: "b", Template: "y"},
			want: "pattern is required",
		},
		{
			name: "missing template",
			rule: RuleConfig{Source: "a", Destination: "b", Pattern: "x"},
			want: "template is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Rules = []RuleConfig{tt.rule}

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateEmptyRules(t *testing.T) {
	cfg := defaultConfig()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty rule set")
	}
	if !strings.Contains(err.Error(), "at least one forwarding rule") {
		t.Errorf("Validate() error = %v, want empty-rules rejection", err)
	}
}

func TestValidateEndpoint(t *testing.T) {
	cfg := defaultConfig()
	cfg.Rules = []RuleConfig{{Source: "a", Destination: "b", Pattern: "x", Template: "y"}}
	cfg.Endpoints.A.Port = 0
	cfg.Endpoints.B.ClientID = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "endpoints.a.port") {
		t.Errorf("Validate() error = %v, want port rejection", err)
	}
	if !strings.Contains(err.Error(), "endpoints.b.client_id") {
		t.Errorf("Validate() error = %v, want client_id rejection", err)
	}
}

func TestValidateTLSCertPair(t *testing.T) {
	cfg := defaultConfig()
	cfg.Rules = []RuleConfig{{Source: "a", Destination: "b", Pattern: "x", Template: "y"}}
	cfg.Endpoints.A.TLS.Enabled = true
	cfg.Endpoints.A.TLS.CertFile = "client.crt" // key_file missing

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for cert without key")
	}
	if !strings.Contains(err.Error(), "cert_file and key_file") {
		t.Errorf("Validate() error = %v, want cert pair rejection", err)
	}
}

// =============================================================================
// Redaction Tests
// =============================================================================

func TestEndpointStringRedactsPassword(t *testing.T) {
	e := defaultEndpoint("test")
	e.Auth.Username = "bridge"
	e.Auth.Password = "secret"

	s := e.String()
	if strings.Contains(s, "secret") {
		t.Errorf("String() leaked password: %s", s)
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Errorf("String() missing redaction marker: %s", s)
	}
}

func TestEndpointMarshalJSONRedactsPassword(t *testing.T) {
	e := defaultEndpoint("test")
	e.Auth.Password = "secret"

	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("MarshalJSON() leaked password: %s", data)
	}
}

func TestGetDurations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetDrainGrace().Seconds(); got != 10 {
		t.Errorf("GetDrainGrace() = %vs, want 10s", got)
	}
	if got := cfg.GetPublishWait().Seconds(); got != 2 {
		t.Errorf("GetPublishWait() = %vs, want 2s", got)
	}
	if got := cfg.GetStartupTimeout().Seconds(); got != 15 {
		t.Errorf("GetStartupTimeout() = %vs, want 15s", got)
	}
	if got := cfg.GetFingerprintTTL().Seconds(); got != 60 {
		t.Errorf("GetFingerprintTTL() = %vs, want 60s", got)
	}
}
