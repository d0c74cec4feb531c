package persistence

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "besimd.db")
	s, err := Open(path, 730*24*time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOutsideTemperatureRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertOutsideTemperature(12.5); err != nil {
		t.Fatalf("InsertOutsideTemperature: %v", err)
	}

	rows, err := s.OutsideTemperatureHistory(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("OutsideTemperatureHistory: %v", err)
	}
	if len(rows) != 1 || rows[0].Temp != 12.5 {
		t.Fatalf("rows = %+v, want one row at 12.5", rows)
	}
}

func TestRoomTemperatureRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertRoomTemperature(0x12345678, 0x10, 20.5, 21.0, true); err != nil {
		t.Fatalf("InsertRoomTemperature: %v", err)
	}

	rows, err := s.RoomTemperatureHistory(0x12345678, 0x10, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("RoomTemperatureHistory: %v", err)
	}
	if len(rows) != 1 || !rows[0].Heating {
		t.Fatalf("rows = %+v, want one heating row", rows)
	}
}

func TestPurgeRemovesOldRows(t *testing.T) {
	s := openTestStore(t)

	old := OutsideTemperatureSample{TS: time.Now().Add(-800 * 24 * time.Hour), Temp: 1}
	if err := s.db.Create(&old).Error; err != nil {
		t.Fatalf("seed old row: %v", err)
	}
	if err := s.InsertOutsideTemperature(5); err != nil {
		t.Fatalf("InsertOutsideTemperature: %v", err)
	}

	purged, err := s.Purge(time.Now().Add(-730 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	rows, err := s.OutsideTemperatureHistory(time.Now().Add(-900*24*time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("OutsideTemperatureHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v, want one surviving row", rows)
	}
}

func TestOpenRejectsNewerSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "besimd.db")

	s, err := Open(path, 730*24*time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.db.Exec("PRAGMA user_version = 2").Error; err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path, 730*24*time.Hour); err == nil {
		t.Fatal("expected schema mismatch error")
	}
}
