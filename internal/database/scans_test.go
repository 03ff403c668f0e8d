package database

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestScanHistoryLifecycle(t *testing.T) {
	db := testDB(t)

	id, err := db.StartScan("manual", false)
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	record, err := db.GetScan(id)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if record == nil {
		t.Fatal("GetScan() = nil, want started record")
	}
	if record.FinishedAt != nil {
		t.Errorf("FinishedAt = %v before finish, want nil", record.FinishedAt)
	}
	if record.TriggeredBy != "manual" {
		t.Errorf("TriggeredBy = %q, want manual", record.TriggeredBy)
	}

	if err := db.FinishScan(id, 90*time.Second, 100, 40, 55, 3, 5); err != nil {
		t.Fatalf("FinishScan() error = %v", err)
	}

	record, err = db.GetScan(id)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if record.FinishedAt == nil {
		t.Fatal("FinishedAt = nil after finish")
	}
	if record.Total != 100 || record.Changed != 40 || record.Skipped != 55 ||
		record.FallbackUsed != 3 || record.Errors != 5 {
		t.Errorf("record = %+v, want counters 100/40/55/3/5", record)
	}
	if record.Duration != 90 {
		t.Errorf("Duration = %v, want 90", record.Duration)
	}
}

func TestListRecentScansNewestFirst(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 3; i++ {
		if _, err := db.StartScan("schedule", true); err != nil {
			t.Fatalf("StartScan() error = %v", err)
		}
	}

	records, err := db.ListRecentScans(2)
	if err != nil {
		t.Fatalf("ListRecentScans() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID <= records[1].ID {
		t.Errorf("records not newest first: %d, %d", records[0].ID, records[1].ID)
	}
	if !records[0].DryRun {
		t.Error("DryRun = false, want true")
	}
}

func TestGetScanMissing(t *testing.T) {
	db := testDB(t)
	record, err := db.GetScan(999)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if record != nil {
		t.Errorf("GetScan(999) = %+v, want nil", record)
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	db := testDB(t)

	if err := db.InitializeDefaults(); err != nil {
		t.Fatalf("InitializeDefaults() error = %v", err)
	}

	value, err := db.GetSetting("scan.fallback")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if value != `"skip"` {
		t.Errorf("scan.fallback = %q, want %q", value, `"skip"`)
	}

	if err := db.SetSettingJSON("scan.workers", 16); err != nil {
		t.Fatalf("SetSettingJSON() error = %v", err)
	}
	var workers int
	if err := db.GetSettingJSON("scan.workers", &workers); err != nil {
		t.Fatalf("GetSettingJSON() error = %v", err)
	}
	if workers != 16 {
		t.Errorf("scan.workers = %d, want 16", workers)
	}

	// Defaults must not clobber explicit values.
	if err := db.InitializeDefaults(); err != nil {
		t.Fatalf("InitializeDefaults() error = %v", err)
	}
	if err := db.GetSettingJSON("scan.workers", &workers); err != nil {
		t.Fatalf("GetSettingJSON() error = %v", err)
	}
	if workers != 16 {
		t.Errorf("scan.workers = %d after re-init, want 16", workers)
	}
}
