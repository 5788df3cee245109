package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/database"
	"github.com/ClinShaiju/RiceHolisticGarden/migrations"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		env           string
		wantPath      string
		wantProvision bool
		wantVersion   bool
		wantDown      bool
	}{
		{name: "defaults", wantPath: defaultConfigPath},
		{name: "env fallback", env: "/etc/garden/config.yaml", wantPath: "/etc/garden/config.yaml"},
		{name: "flag beats env", args: []string{"--config", "/tmp/a.yaml"}, env: "/tmp/b.yaml", wantPath: "/tmp/a.yaml"},
		{name: "short flag", args: []string{"-c", "/tmp/c.yaml"}, wantPath: "/tmp/c.yaml"},
		{name: "provision", args: []string{"--provision"}, wantPath: defaultConfigPath, wantProvision: true},
		{name: "version", args: []string{"--version"}, wantPath: defaultConfigPath, wantVersion: true},
		{name: "migrate down", args: []string{"--migrate-down"}, wantPath: defaultConfigPath, wantDown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GARDEN_CONFIG", tt.env)

			opts, err := parseFlags(tt.args, io.Discard)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if opts.configPath != tt.wantPath {
				t.Errorf("configPath = %q, want %q", opts.configPath, tt.wantPath)
			}
			if opts.provision != tt.wantProvision {
				t.Errorf("provision = %t, want %t", opts.provision, tt.wantProvision)
			}
			if opts.showVersion != tt.wantVersion {
				t.Errorf("showVersion = %t, want %t", opts.showVersion, tt.wantVersion)
			}
			if opts.migrateDown != tt.wantDown {
				t.Errorf("migrateDown = %t, want %t", opts.migrateDown, tt.wantDown)
			}
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := parseFlags([]string{"--nope"}, io.Discard); err == nil {
		t.Error("parseFlags() expected error for unknown flag")
	}
	if _, err := parseFlags([]string{"--help"}, io.Discard); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("parseFlags(--help) = %v, want ErrHelp", err)
	}
}

// TestRun_InvalidConfig verifies run fails on a malformed config file.
func TestRun_InvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("site: [unclosed"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: configPath}); err == nil {
		t.Fatal("run() should fail with invalid config")
	}
}

// TestRun_MissingDatabasePath verifies validation rejects an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: ""
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: configPath}); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MQTTUnreachable verifies an enabled but unreachable broker is fatal.
func TestRun_MQTTUnreachable(t *testing.T) {
	configPath := writeConfig(t, fmt.Sprintf(`
database:
  path: %q
mqtt:
  enabled: true
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "garden-test"
telemetry:
  port: %d
  packet_log_path: ""
api:
  enabled: false
`, filepath.Join(t.TempDir(), "garden.db"), freeUDPPort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: configPath}); err == nil {
		t.Fatal("run() should fail when MQTT is unreachable")
	}
}

// TestRun_StartupAndShutdown runs the core with every optional backend off
// and checks that it comes up and stops cleanly on cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "data", "garden.db")
	port := freeUDPPort(t)

	configPath := writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
telemetry:
  bind_address: "127.0.0.1"
  port: %d
  packet_log_path: ""
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`, dbPath, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: configPath}) }()

	// Wait until the telemetry socket is bound.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(dbPath); err == nil && udpPortBusy(port) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestRun_MigrateDown rolls the schema back one step at a time and checks
// run returns without starting any service.
func TestRun_MigrateDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "garden.db")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	all, err := database.LoadMigrations(migrations.FS)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	db.Close()

	// The telemetry port is held so a service start would fail.
	port := freeUDPPort(t)
	hold, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("holding UDP port: %v", err)
	}
	defer hold.Close()

	configPath := writeConfig(t, fmt.Sprintf(`
database:
  path: %q
telemetry:
  bind_address: "127.0.0.1"
  port: %d
  packet_log_path: ""
api:
  enabled: false
logging:
  level: error
`, dbPath, port))

	for i := len(all); i >= 0; i-- {
		if err := run(ctx, options{configPath: configPath, migrateDown: true}); err != nil {
			t.Fatalf("run(--migrate-down) with %d applied: %v", i, err)
		}
	}

	db, err = database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != len(all) {
		t.Errorf("applied = %d, pending = %d, want 0 and %d", len(applied), len(pending), len(all))
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserving UDP port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func udpPortBusy(port int) bool {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return true
	}
	conn.Close()
	return false
}
