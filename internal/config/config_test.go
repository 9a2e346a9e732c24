package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validV1 = `
fritzbox:
  hostname: fritz.example
  username: monitor
  password: secret
influxdb:
  hostname: influx.example
  username: writer
  password: pw
  database: fritz
`

func TestLoad_Valid(t *testing.T) {
	yaml := `
fritzbox:
  hostname: 10.0.0.1
  username: monitor
  password: secret
  request_interval: 30s
  box_tag: home
  timezone: Europe/Berlin
  protocols: [tr064]
influxdb:
  version: 2
  hostname: influx.local
  port: 8087
  token: tok
  organisation: home
  bucket: fritz
delivery:
  max_batch_size: 250
  retry_interval: 2s
metrics:
  listen: ":9108"
log_level: DEBUG
`
	cfg := loadFromString(t, yaml)

	if cfg.FritzBox.Hostname != "10.0.0.1" {
		t.Errorf("hostname: got %q", cfg.FritzBox.Hostname)
	}
	if cfg.FritzBox.RequestInterval != 30*time.Second {
		t.Errorf("request_interval: got %v", cfg.FritzBox.RequestInterval)
	}
	if !cfg.FritzBox.Enabled(ProtocolTR064) || cfg.FritzBox.Enabled(ProtocolLua) {
		t.Errorf("protocols: got %v", cfg.FritzBox.Protocols)
	}
	if cfg.InfluxDB.Version != 2 || cfg.InfluxDB.Token() != "tok" {
		t.Errorf("influxdb v2 settings not loaded: %+v", cfg.InfluxDB)
	}
	if cfg.Delivery.MaxBatchSize != 250 || cfg.Delivery.RetryInterval != 2*time.Second {
		t.Errorf("delivery: got %+v", cfg.Delivery)
	}
	if cfg.Metrics.Listen != ":9108" {
		t.Errorf("metrics.listen: got %q", cfg.Metrics.Listen)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level(): got %v", cfg.Level())
	}
	loc, err := cfg.FritzBox.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("Location(): got %v, %v", loc, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, validV1)

	if cfg.FritzBox.RequestInterval != DefaultRequestInterval {
		t.Errorf("default request_interval: got %v", cfg.FritzBox.RequestInterval)
	}
	if cfg.FritzBox.BoxTag != DefaultBoxTag {
		t.Errorf("default box_tag: got %q", cfg.FritzBox.BoxTag)
	}
	if !cfg.FritzBox.Enabled(ProtocolTR064) || !cfg.FritzBox.Enabled(ProtocolLua) {
		t.Errorf("default protocols: got %v", cfg.FritzBox.Protocols)
	}
	if cfg.InfluxDB.Version != 1 || cfg.InfluxDB.Port != DefaultInfluxPort {
		t.Errorf("default influxdb: got version %d port %d", cfg.InfluxDB.Version, cfg.InfluxDB.Port)
	}
	if cfg.InfluxDB.MeasurementName != DefaultMeasurementName {
		t.Errorf("default measurement_name: got %q", cfg.InfluxDB.MeasurementName)
	}
	if cfg.Delivery.MaxBufferSize != DefaultMaxBufferSize || cfg.Delivery.MaxRetryInterval != DefaultMaxRetryInterval {
		t.Errorf("default delivery: got %+v", cfg.Delivery)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("default level: got %v", cfg.Level())
	}
}

func TestLoad_RequestIntervalFloor(t *testing.T) {
	cfg := loadFromString(t, strings.Replace(validV1, "  password: secret\n", "  password: secret\n  request_interval: 2s\n", 1))
	if cfg.FritzBox.RequestInterval != MinRequestInterval {
		t.Errorf("request_interval not floored: got %v", cfg.FritzBox.RequestInterval)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing fritzbox password", strings.Replace(validV1, "  password: secret\n", "", 1), "fritzbox.password"},
		{"missing database", strings.Replace(validV1, "  database: fritz\n", "", 1), "influxdb.database"},
		{"unknown keys ignored", validV1 + "influxdb_extra: 1\n", ""},
		{"v2 without token", `
fritzbox: {username: u, password: p}
influxdb: {version: 2, hostname: h, organisation: o, bucket: b}
`, "influxdb.token"},
		{"unknown version", `
fritzbox: {username: u, password: p}
influxdb: {version: 3, hostname: h}
`, "influxdb.version"},
		{"unknown protocol", strings.Replace(validV1, "  password: secret\n", "  password: secret\n  protocols: [snmp]\n", 1), "unknown protocol"},
		{"bad timezone", strings.Replace(validV1, "  password: secret\n", "  password: secret\n  timezone: Mars/Olympus\n", 1), "fritzbox.timezone"},
		{"bad log level", validV1 + "log_level: chatty\n", "log_level"},
		{"retry above max", validV1 + "delivery:\n  retry_interval: 10m\n", "max_retry_interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	_, err := loadStringErr(t, "fritzbox: {hostname: h}\ninfluxdb: {version: 2}\n")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"fritzbox.username", "fritzbox.password", "influxdb.hostname", "influxdb.bucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FRITZBOX_HOSTNAME", "box.env")
	t.Setenv("INFLUXDB_PORT", "9999")
	t.Setenv("FRITZBOX_TLS_ENABLED", "true")

	cfg := loadFromString(t, validV1)
	if cfg.FritzBox.Hostname != "box.env" {
		t.Errorf("hostname: got %q, want box.env", cfg.FritzBox.Hostname)
	}
	if cfg.InfluxDB.Port != 9999 {
		t.Errorf("port: got %d, want 9999", cfg.InfluxDB.Port)
	}
	if got := cfg.FritzBox.TR064URL(); got != "https://box.env:49443" {
		t.Errorf("TR064URL: got %q", got)
	}
}

func TestLoad_EnvBadInteger(t *testing.T) {
	t.Setenv("INFLUXDB_PORT", "eighty")
	if _, err := loadStringErr(t, validV1); err == nil || !strings.Contains(err.Error(), "INFLUXDB_PORT") {
		t.Fatalf("expected INFLUXDB_PORT error, got %v", err)
	}
}

func TestFritzBoxConfig_PasswordEnvWins(t *testing.T) {
	t.Setenv("TEST_FRITZ_PW", "from-env")
	f := FritzBoxConfig{PlainPassword: "inline", PasswordEnv: "TEST_FRITZ_PW"}
	if got := f.Password(); got != "from-env" {
		t.Errorf("Password(): got %q, want from-env", got)
	}
	f.PasswordEnv = "TEST_FRITZ_PW_UNSET"
	if got := f.Password(); got != "inline" {
		t.Errorf("Password() with unset env: got %q, want inline", got)
	}
}

func TestInfluxDBConfig_URL(t *testing.T) {
	i := InfluxDBConfig{Hostname: "influx", Port: 8086}
	if got := i.URL(); got != "http://influx:8086" {
		t.Errorf("URL(): got %q", got)
	}
	i.TLSEnabled = true
	if got := i.URL(); got != "https://influx:8086" {
		t.Errorf("URL() with TLS: got %q", got)
	}
}

func TestFritzBoxConfig_URLs(t *testing.T) {
	f := FritzBoxConfig{Hostname: "192.168.178.1"}
	if got := f.TR064URL(); got != "http://192.168.178.1:49000" {
		t.Errorf("TR064URL: got %q", got)
	}
	if got := f.WebURL(); got != "http://192.168.178.1" {
		t.Errorf("WebURL: got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fritzinfluxdb.yaml")
	if err := os.WriteFile(path, []byte(validV1), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 8)
	go func() {
		_ = Watch(ctx, path, slog.New(slog.NewTextHandler(os.Stderr, nil)), func(c *Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	updated := validV1 + "log_level: debug\n"
	deadline := time.After(5 * time.Second)
	for {
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-reloaded:
			if cfg.Level() != slog.LevelDebug {
				t.Errorf("reloaded level: got %v, want debug", cfg.Level())
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
