package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
)

// openTestDB opens a throwaway sqlite database with the handful of tables
// the sync path touches. The DDL mirrors the gorm column names; DATETIME
// declarations make the driver hand time columns back as time.Time.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "rdiesel.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	ddl := []string{
		`CREATE TABLE pumps (
			id TEXT PRIMARY KEY, number TEXT, plate TEXT, capacity_liters REAL,
			active NUMERIC, geofence TEXT, deleted_at DATETIME)`,
		`CREATE TABLE meter_devices (
			id TEXT PRIMARY KEY, serial_number TEXT, mac_address TEXT,
			active NUMERIC, deleted_at DATETIME)`,
		`CREATE TABLE vehicles (
			id TEXT PRIMARY KEY, client_id TEXT, identifier TEXT, kind TEXT,
			uses_hour_meter NUMERIC, qr_code TEXT, active NUMERIC, deleted_at DATETIME)`,
		`CREATE TABLE loadings (
			id TEXT PRIMARY KEY, pump_id TEXT, meter_device_id TEXT, vehicle_id TEXT,
			initial_reading REAL, final_reading REAL, volume_delivered REAL, meter_value REAL,
			outcome TEXT, justification TEXT, device_id TEXT, device_info TEXT,
			latitude REAL, longitude REAL, started_at DATETIME, completed_at DATETIME,
			synced NUMERIC, synced_at DATETIME, evidence_urls TEXT,
			created_at DATETIME, updated_at DATETIME, deleted_at DATETIME)`,
		`CREATE TABLE evidences (
			id TEXT PRIMARY KEY, loading_id TEXT, category TEXT, url TEXT, created_at DATETIME)`,
		`CREATE TABLE signatures (
			id TEXT PRIMARY KEY, loading_id TEXT, signer_name TEXT, url TEXT, created_at DATETIME)`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create test schema: %v", err)
		}
	}
	return db
}

// seedCatalog inserts one pump, meter device and vehicle and returns their ids.
func seedCatalog(t *testing.T, db *gorm.DB) (pumpID, meterID, vehicleID string) {
	t.Helper()
	pumpID = uuid.NewString()
	meterID = uuid.NewString()
	vehicleID = uuid.NewString()

	seed := []struct {
		sql  string
		args []interface{}
	}{
		{`INSERT INTO meter_devices (id, serial_number, mac_address, active) VALUES (?, ?, ?, 1)`,
			[]interface{}{meterID, "LCQI-001", "AA:BB:CC:DD:EE:01"}},
		{`INSERT INTO pumps (id, number, plate, capacity_liters, active, geofence) VALUES (?, ?, ?, ?, 1, '')`,
			[]interface{}{pumpID, "P-01", "ABC-1234", 20000.0}},
		{`INSERT INTO vehicles (id, client_id, identifier, kind, uses_hour_meter, qr_code, active) VALUES (?, ?, ?, ?, 0, ?, 1)`,
			[]interface{}{vehicleID, uuid.NewString(), "EXC-07", "MACHINERY", "QR-EXC-07"}},
	}
	for _, s := range seed {
		if err := db.Exec(s.sql, s.args...).Error; err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}
	return pumpID, meterID, vehicleID
}

func catalogRequest(pumpID, meterID, vehicleID string) *models.SyncLoadingRequest {
	req := validRequest()
	req.PumpID = pumpID
	req.MeterDeviceID = meterID
	req.VehicleID = vehicleID
	return req
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestIngestLoadingIdempotent(t *testing.T) {
	db := openTestDB(t)
	store := &LocalBlobStore{Dir: t.TempDir()}
	req := catalogRequest(seedCatalog(t, db))

	dup, err := ingestLoading(context.Background(), db, store, req)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if dup {
		t.Fatal("first ingest reported duplicate")
	}

	// The device retries after losing the confirmation; the same id must
	// come back as success without a second record.
	dup, err = ingestLoading(context.Background(), db, store, req)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if !dup {
		t.Error("second ingest of the same id not reported as duplicate")
	}

	if n := countRows(t, db, &models.Loading{}); n != 1 {
		t.Errorf("loadings stored = %d, want 1", n)
	}
	if n := countRows(t, db, &models.Evidence{}); n != 1 {
		t.Errorf("evidence rows = %d, want 1", n)
	}
	if n := countRows(t, db, &models.Signature{}); n != 1 {
		t.Errorf("signature rows = %d, want 1", n)
	}
}

func TestIngestLoadingUnknownVehicle(t *testing.T) {
	db := openTestDB(t)
	store := &LocalBlobStore{Dir: t.TempDir()}
	pumpID, meterID, _ := seedCatalog(t, db)
	req := catalogRequest(pumpID, meterID, uuid.NewString())

	_, err := ingestLoading(context.Background(), db, store, req)
	var verr *validationError
	if !errors.As(err, &verr) {
		t.Fatalf("ingest error = %v, want validation rejection", err)
	}
	if !strings.Contains(verr.Error(), "vehicle") {
		t.Errorf("rejection %q does not name the vehicle", verr.Error())
	}
	if n := countRows(t, db, &models.Loading{}); n != 0 {
		t.Errorf("loadings stored = %d, want 0", n)
	}
}

func TestSyncLoadingBatchAccounting(t *testing.T) {
	db := openTestDB(t)
	config.DB = db
	blobsOnce.Do(func() {})
	blobs = &LocalBlobStore{Dir: t.TempDir()}

	pumpID, meterID, vehicleID := seedCatalog(t, db)

	fresh := catalogRequest(pumpID, meterID, vehicleID)
	retry := *fresh // same id resubmitted inside the batch
	bad := catalogRequest(uuid.NewString(), meterID, vehicleID)

	body, _ := json.Marshal([]models.SyncLoadingRequest{*fresh, retry, *bad})
	r := httptest.NewRequest(http.MethodPost, "/api/sync/cargas/batch", bytes.NewReader(body))
	w := httptest.NewRecorder()
	SyncLoadingBatch(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp models.SyncBatchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Total != 3 || resp.Succeeded != 2 || resp.Failed != 1 {
		t.Fatalf("accounting = %d/%d/%d, want total 3, succeeded 2, failed 1",
			resp.Total, resp.Succeeded, resp.Failed)
	}
	if resp.Results[0].Duplicate || !resp.Results[0].Success {
		t.Errorf("first item = %+v, want fresh success", resp.Results[0])
	}
	if !resp.Results[1].Success || !resp.Results[1].Duplicate {
		t.Errorf("second item = %+v, want duplicate success", resp.Results[1])
	}
	if resp.Results[2].Success || resp.Results[2].ErrorKind != models.SyncErrorValidation {
		t.Errorf("third item = %+v, want validation failure", resp.Results[2])
	}

	// One rejected payload never blocks the rest, and the retried id
	// lands exactly once.
	if n := countRows(t, db, &models.Loading{}); n != 1 {
		t.Errorf("loadings stored = %d, want 1", n)
	}
}
