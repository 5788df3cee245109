package device

import (
	"context"
	"testing"
	"time"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/database"
	"github.com/ClinShaiju/RiceHolisticGarden/migrations"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := NewSQLiteStore(ctx, db.DB)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck // Test cleanup
	return store
}

func TestSQLiteStore_Upserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.RecordSeen(ctx, "AA:BB:CC:DD:EE:FF", "10.0.0.1:5000", t0); err != nil {
		t.Fatalf("RecordSeen() error = %v", err)
	}
	if err := store.RecordReading(ctx, "aa:bb:cc:dd:ee:ff", "10.0.0.1:5001", 2.5, t0.Add(time.Minute)); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}
	if err := store.RecordOutput(ctx, "aa:bb:cc:dd:ee:ff", OutputHigh, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("RecordOutput() error = %v", err)
	}
	if err := store.RecordSeen(ctx, "11:22:33:44:55:66", "10.0.0.2:5000", t0.Add(30*time.Second)); err != nil {
		t.Fatalf("RecordSeen() error = %v", err)
	}

	devices, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}

	got := devices[0]
	if got.Identity != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("most recent device = %q", got.Identity)
	}
	if got.LastAddress != "10.0.0.1:5001" {
		t.Errorf("LastAddress = %q", got.LastAddress)
	}
	if got.Output != OutputHigh {
		t.Errorf("Output = %v", got.Output)
	}
	if got.LastReading == nil || *got.LastReading != 2.5 {
		t.Errorf("LastReading = %v", got.LastReading)
	}
	if !got.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", got.FirstSeen, t0)
	}
	if !got.LastSeen.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("LastSeen = %v", got.LastSeen)
	}

	if devices[1].LastReading != nil || devices[1].Output != OutputUnknown {
		t.Errorf("second device = %+v", devices[1])
	}

	limited, err := store.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("List(1) = %d rows, err %v", len(limited), err)
	}
}
