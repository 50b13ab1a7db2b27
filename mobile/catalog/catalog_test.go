package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"p9e.in/rdiesel/models"
	"p9e.in/rdiesel/mobile/store"
)

type fakeFetcher struct {
	snapshot *models.CatalogSnapshot
	err      error
	calls    int
}

func (f *fakeFetcher) FetchCatalog(_ context.Context) (*models.CatalogSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func testWireSnapshot() *models.CatalogSnapshot {
	meterID := uuid.New()
	clientID := uuid.New()
	return &models.CatalogSnapshot{
		Pumps: []models.Pump{
			{ID: uuid.New(), Number: "P-01", Plate: "ABC-123", CapacityLiters: 20000, Active: true, MeterDeviceID: &meterID},
		},
		MeterDevices: []models.MeterDevice{
			{ID: meterID, SerialNumber: "LCQI-9", MACAddress: "AA:BB:CC:DD:EE:FF", Active: true},
		},
		Clients: []models.Client{
			{ID: clientID, Name: "Acme Mining", Active: true},
		},
		Vehicles: []models.Vehicle{
			{ID: uuid.New(), ClientID: clientID, Identifier: "EXC-07", Kind: models.VehicleMachinery,
				UsesHourMeter: true, QRCode: "QR-42", Active: true},
		},
		Configurations: map[string]string{"volume_tolerance_liters": "5"},
		Timestamp:      "2026-03-10T08:00:00Z",
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRefreshAndLookups(t *testing.T) {
	st := openTestStore(t)
	fetcher := &fakeFetcher{snapshot: testWireSnapshot()}
	cache := New(st, fetcher)

	if cache.Ready() {
		t.Fatal("cache reports ready before any snapshot")
	}
	if _, ok := cache.FindVehicleByCode("QR-42"); ok {
		t.Fatal("lookup succeeded without a snapshot")
	}

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if !cache.Ready() {
		t.Fatal("cache not ready after refresh")
	}

	vehicle, ok := cache.FindVehicleByCode("QR-42")
	if !ok {
		t.Fatal("FindVehicleByCode(QR-42) not found after refresh")
	}
	if vehicle.Identifier != "EXC-07" {
		t.Errorf("vehicle identifier = %q, want EXC-07", vehicle.Identifier)
	}
	if vehicle.ClientName != "Acme Mining" {
		t.Errorf("vehicle client name = %q, want Acme Mining", vehicle.ClientName)
	}

	if _, ok := cache.FindVehicleByCode("QR-NOPE"); ok {
		t.Error("unknown code resolved unexpectedly")
	}

	meterID := fetcher.snapshot.MeterDevices[0].ID
	meter, ok := cache.FindMeterByID(meterID)
	if !ok || meter.SerialNumber != "LCQI-9" {
		t.Errorf("FindMeterByID = %+v, %v", meter, ok)
	}

	pump, ok := cache.PumpForMeter(meterID)
	if !ok || pump.Number != "P-01" {
		t.Errorf("PumpForMeter = %+v, %v", pump, ok)
	}

	if v, ok := cache.Config("volume_tolerance_liters"); !ok || v != "5" {
		t.Errorf("Config() = %q, %v", v, ok)
	}
}

func TestRefreshFailureKeepsPriorSnapshot(t *testing.T) {
	st := openTestStore(t)
	fetcher := &fakeFetcher{snapshot: testWireSnapshot()}
	cache := New(st, fetcher)

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	fetcher.err = errors.New("network unreachable")
	if err := cache.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() succeeded despite fetch error")
	}

	// Prior snapshot must keep resolving unchanged.
	vehicle, ok := cache.FindVehicleByCode("QR-42")
	if !ok {
		t.Fatal("prior snapshot lost after failed refresh")
	}
	if vehicle.Identifier != "EXC-07" {
		t.Errorf("vehicle identifier = %q, want EXC-07", vehicle.Identifier)
	}
}

func TestLoadRestoresPersistedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	st1, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	fetcher := &fakeFetcher{snapshot: testWireSnapshot()}
	cache1 := New(st1, fetcher)
	if err := cache1.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	st1.Close()

	// New process: snapshot must come back from disk without a fetch.
	st2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st2.Close()

	cache2 := New(st2, &fakeFetcher{err: errors.New("offline")})
	if err := cache2.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cache2.Ready() {
		t.Fatal("cache not ready after Load()")
	}
	if _, ok := cache2.FindVehicleByCode("QR-42"); !ok {
		t.Error("persisted vehicle lookup failed after restart")
	}
	if _, ok := cache2.LastSync(); !ok {
		t.Error("LastSync() not available after Load()")
	}
}

func TestLoadWithEmptyStoreIsNotAnError(t *testing.T) {
	st := openTestStore(t)
	cache := New(st, &fakeFetcher{err: errors.New("offline")})

	if err := cache.Load(); err != nil {
		t.Fatalf("Load() on empty store failed: %v", err)
	}
	if cache.Ready() {
		t.Error("cache ready without any snapshot")
	}
}

func TestSnapshotValidation(t *testing.T) {
	st := openTestStore(t)

	wire := testWireSnapshot()
	wire.Vehicles = append(wire.Vehicles, models.Vehicle{
		ID: uuid.New(), ClientID: wire.Clients[0].ID, Identifier: "DUP", QRCode: "QR-42", Active: true,
	})
	cache := New(st, &fakeFetcher{snapshot: wire})

	if err := cache.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() accepted duplicate qr codes")
	}
	if cache.Ready() {
		t.Error("invalid snapshot was installed")
	}
}
