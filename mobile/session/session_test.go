package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"p9e.in/rdiesel/mobile/catalog"
	"p9e.in/rdiesel/mobile/device"
	"p9e.in/rdiesel/mobile/store"
)

type fakeCatalog struct {
	ready    bool
	vehicles map[string]*catalog.Vehicle
	meters   map[uuid.UUID]*catalog.Meter
	pumps    map[uuid.UUID]*catalog.Pump
	byMeter  map[uuid.UUID]*catalog.Pump
	config   map[string]string
}

func (f *fakeCatalog) Ready() bool { return f.ready }
func (f *fakeCatalog) FindVehicleByCode(code string) (*catalog.Vehicle, bool) {
	v, ok := f.vehicles[code]
	return v, ok
}
func (f *fakeCatalog) FindMeterByID(id uuid.UUID) (*catalog.Meter, bool) {
	m, ok := f.meters[id]
	return m, ok
}
func (f *fakeCatalog) FindPumpByID(id uuid.UUID) (*catalog.Pump, bool) {
	p, ok := f.pumps[id]
	return p, ok
}
func (f *fakeCatalog) PumpForMeter(meterID uuid.UUID) (*catalog.Pump, bool) {
	p, ok := f.byMeter[meterID]
	return p, ok
}
func (f *fakeCatalog) Config(key string) (string, bool) {
	v, ok := f.config[key]
	return v, ok
}

type fakePersister struct {
	records []*store.Record
	err     error
}

func (f *fakePersister) Persist(rec *store.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

var (
	testMeterID = uuid.New()
	testPumpID  = uuid.New()
)

func testCatalog() *fakeCatalog {
	pump := &catalog.Pump{ID: testPumpID, Number: "P-01", Active: true, MeterDeviceID: &testMeterID}
	return &fakeCatalog{
		ready: true,
		vehicles: map[string]*catalog.Vehicle{
			"QR-1":    {ID: uuid.New(), Identifier: "EXC-07", QRCode: "QR-1", UsesHourMeter: true, Active: true},
			"QR-DEAD": {ID: uuid.New(), Identifier: "OLD-01", QRCode: "QR-DEAD", Active: false},
		},
		meters: map[uuid.UUID]*catalog.Meter{
			testMeterID: {ID: testMeterID, SerialNumber: "LCQI-9", Active: true},
		},
		pumps:   map[uuid.UUID]*catalog.Pump{testPumpID: pump},
		byMeter: map[uuid.UUID]*catalog.Pump{testMeterID: pump},
		config:  map[string]string{},
	}
}

func testDevice(initial float64) *device.Simulator {
	return &device.Simulator{
		InitialReading: initial,
		FlowRate:       1000,
		Interval:       5 * time.Millisecond,
		TotalVolume:    10000,
	}
}

// runToMeasuring advances a fresh session to the MEASURING state.
func runToMeasuring(t *testing.T, s *Session) {
	t.Helper()
	if err := s.IdentifyVehicle("QR-1"); err != nil {
		t.Fatalf("IdentifyVehicle() failed: %v", err)
	}
	if err := s.CaptureMeterValue(1234); err != nil {
		t.Fatalf("CaptureMeterValue() failed: %v", err)
	}
	if err := s.AddEvidence(store.EvidenceVehicle, "/tmp/v.jpg", "image/jpeg"); err != nil {
		t.Fatalf("AddEvidence() failed: %v", err)
	}
	if err := s.BindMeterDevice(testMeterID); err != nil {
		t.Fatalf("BindMeterDevice() failed: %v", err)
	}
	if err := s.BeginMeasurement(context.Background()); err != nil {
		t.Fatalf("BeginMeasurement() failed: %v", err)
	}
}

func TestIdentifyVehicleNotFound(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))

	if err := s.IdentifyVehicle("QR-42"); !errors.Is(err, ErrVehicleNotFound) {
		t.Errorf("IdentifyVehicle(QR-42) error = %v, want ErrVehicleNotFound", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %s after failed identify, want IDLE", s.State())
	}
}

func TestIdentifyVehicleInactive(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))

	if err := s.IdentifyVehicle("QR-DEAD"); !errors.Is(err, ErrVehicleInactive) {
		t.Errorf("IdentifyVehicle(QR-DEAD) error = %v, want ErrVehicleInactive", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %s, want IDLE", s.State())
	}
}

func TestIdentifyVehicleWithoutCatalog(t *testing.T) {
	cat := testCatalog()
	cat.ready = false
	s := New(cat, &fakePersister{}, testDevice(0))

	if err := s.IdentifyVehicle("QR-1"); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("IdentifyVehicle() error = %v, want ErrNoCatalog", err)
	}
}

func TestCaptureMeterValueRejectsNegative(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))
	if err := s.IdentifyVehicle("QR-1"); err != nil {
		t.Fatalf("IdentifyVehicle() failed: %v", err)
	}

	if err := s.CaptureMeterValue(-1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("CaptureMeterValue(-1) error = %v, want ErrInvalidInput", err)
	}
	// Retry with corrected input overwrites in place.
	if err := s.CaptureMeterValue(1234); err != nil {
		t.Errorf("CaptureMeterValue(1234) failed: %v", err)
	}
	if s.State() != MeterCaptured {
		t.Errorf("state = %s, want METER_CAPTURED", s.State())
	}
}

func TestBindMeterDeviceRequiresEvidence(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))
	if err := s.IdentifyVehicle("QR-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CaptureMeterValue(10); err != nil {
		t.Fatal(err)
	}

	if err := s.BindMeterDevice(testMeterID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("BindMeterDevice() before evidence error = %v, want ErrInvalidState", err)
	}
}

func TestBindMeterDevicePumpMismatch(t *testing.T) {
	cat := testCatalog()
	otherPump := &catalog.Pump{ID: uuid.New(), Number: "P-02", Active: true}
	cat.pumps[otherPump.ID] = otherPump

	s := New(cat, &fakePersister{}, testDevice(0))
	if err := s.IdentifyVehicle("QR-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CaptureMeterValue(10); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEvidence(store.EvidenceVehicle, "/tmp/v.jpg", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectPump(otherPump.ID); err != nil {
		t.Fatalf("SelectPump() failed: %v", err)
	}

	if err := s.BindMeterDevice(testMeterID); !errors.Is(err, ErrPumpMismatch) {
		t.Errorf("BindMeterDevice() error = %v, want ErrPumpMismatch", err)
	}
}

func TestEvidenceCategoryLimit(t *testing.T) {
	cat := testCatalog()
	cat.config["max_photos_per_category"] = "2"

	s := New(cat, &fakePersister{}, testDevice(0))
	if err := s.IdentifyVehicle("QR-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CaptureMeterValue(10); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := s.AddEvidence(store.EvidenceVehicle, "/tmp/v.jpg", ""); err != nil {
			t.Fatalf("AddEvidence() %d failed: %v", i, err)
		}
	}
	if err := s.AddEvidence(store.EvidenceVehicle, "/tmp/v3.jpg", ""); !errors.Is(err, ErrTooManyPhotos) {
		t.Errorf("AddEvidence() over limit error = %v, want ErrTooManyPhotos", err)
	}
	// A different category still has room.
	if err := s.AddEvidence(store.EvidenceMeter, "/tmp/m.jpg", ""); err != nil {
		t.Errorf("AddEvidence() other category failed: %v", err)
	}
}

func TestEndMeasurementComputesVolume(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(50000))
	runToMeasuring(t, s)

	if err := s.EndMeasurement(50320); err != nil {
		t.Fatalf("EndMeasurement() failed: %v", err)
	}
	draft := s.Draft()
	if draft.VolumeDelivered != 320 {
		t.Errorf("volume = %v, want 320", draft.VolumeDelivered)
	}
	if draft.CompletedAt.IsZero() {
		t.Error("completedAt not set")
	}
	if s.State() != Finalized {
		t.Errorf("state = %s, want FINALIZED", s.State())
	}
}

func TestEndMeasurementRejectsBackwardReading(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(50000))
	runToMeasuring(t, s)

	if err := s.EndMeasurement(49990); !errors.Is(err, ErrInvalidMeterSequence) {
		t.Errorf("EndMeasurement(49990) error = %v, want ErrInvalidMeterSequence", err)
	}
	if s.State() != Measuring {
		t.Errorf("state = %s after rejected reading, want MEASURING", s.State())
	}
	// The operator retries with the corrected value.
	if err := s.EndMeasurement(50010); err != nil {
		t.Errorf("EndMeasurement(50010) failed: %v", err)
	}
}

func TestMonitorStopsOnEndMeasurement(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))
	runToMeasuring(t, s)

	readings := s.InterimReadings()
	if readings == nil {
		t.Fatal("no interim readings channel while measuring")
	}
	<-readings

	if err := s.EndMeasurement(100); err != nil {
		t.Fatalf("EndMeasurement() failed: %v", err)
	}

	select {
	case _, ok := <-readings:
		if ok {
			// Drain anything in flight; the channel must close shortly.
			for range readings {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interim readings channel not closed after EndMeasurement")
	}
	if s.InterimReadings() != nil {
		t.Error("InterimReadings() channel still exposed after measurement")
	}
}

func TestSetOutcomeRequiresJustification(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))

	if err := s.SetOutcome(store.OutcomeAnomalous, ""); !errors.Is(err, ErrJustificationNeeded) {
		t.Errorf("SetOutcome(ANOMALOUS, \"\") error = %v, want ErrJustificationNeeded", err)
	}
	if err := s.SetOutcome(store.OutcomeAnomalous, "meter glass cracked"); err != nil {
		t.Errorf("SetOutcome() with justification failed: %v", err)
	}
	if err := s.SetOutcome(store.OutcomeNormal, ""); err != nil {
		t.Errorf("SetOutcome(NORMAL) failed: %v", err)
	}
}

func TestSubmitFullFlow(t *testing.T) {
	persister := &fakePersister{}
	s := New(testCatalog(), persister, testDevice(50000))
	runToMeasuring(t, s)

	if err := s.EndMeasurement(50320); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachSignature("Jane Receiver", []byte{0x89}); err != nil {
		t.Fatalf("AttachSignature() failed: %v", err)
	}

	firstID := s.Draft().ID
	rec, err := s.Submit()
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if rec.ID != firstID {
		t.Errorf("submitted id = %s, want %s", rec.ID, firstID)
	}
	if rec.SyncState != store.StatePendingSync {
		t.Errorf("submitted sync state = %s, want PENDING_SYNC", rec.SyncState)
	}
	if rec.VolumeDelivered != 320 {
		t.Errorf("submitted volume = %v, want 320", rec.VolumeDelivered)
	}
	if len(persister.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(persister.records))
	}

	// Session resets for the next transaction with a fresh id.
	if s.State() != Idle {
		t.Errorf("state after submit = %s, want IDLE", s.State())
	}
	if s.Draft().ID == firstID {
		t.Error("draft id not regenerated after submit")
	}

	// Capture calls after submit start a new transaction and must never
	// touch the submitted copy.
	if err := s.AttachSignature("X", []byte{1}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AttachSignature() after submit error = %v, want ErrInvalidState", err)
	}
	if rec.SignerName != "Jane Receiver" {
		t.Errorf("submitted copy mutated: signer = %q", rec.SignerName)
	}
}

func TestSubmitRequiresSignedState(t *testing.T) {
	s := New(testCatalog(), &fakePersister{}, testDevice(0))
	runToMeasuring(t, s)
	if err := s.EndMeasurement(10); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Submit(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Submit() before signature error = %v, want ErrInvalidState", err)
	}
}

func TestSubmitRetainsDraftOnPersistFailure(t *testing.T) {
	persister := &fakePersister{err: errors.New("disk full")}
	s := New(testCatalog(), persister, testDevice(50000))
	runToMeasuring(t, s)
	if err := s.EndMeasurement(50100); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachSignature("Jane", []byte{1}); err != nil {
		t.Fatal(err)
	}

	id := s.Draft().ID
	if _, err := s.Submit(); err == nil {
		t.Fatal("Submit() succeeded despite persist failure")
	}

	// Nothing recaptured, same draft, same id; retry works.
	if s.State() != Signed {
		t.Errorf("state after failed submit = %s, want SIGNED", s.State())
	}
	if s.Draft().ID != id {
		t.Error("draft id changed after failed submit")
	}

	persister.err = nil
	rec, err := s.Submit()
	if err != nil {
		t.Fatalf("retried Submit() failed: %v", err)
	}
	if rec.ID != id {
		t.Errorf("retried submit id = %s, want %s", rec.ID, id)
	}
}

func TestAbortDiscardsDraft(t *testing.T) {
	persister := &fakePersister{}
	s := New(testCatalog(), persister, testDevice(0))
	runToMeasuring(t, s)

	readings := s.InterimReadings()
	s.Abort()

	if s.State() != Idle {
		t.Errorf("state after abort = %s, want IDLE", s.State())
	}
	if len(persister.records) != 0 {
		t.Error("aborted draft reached durable storage")
	}

	// The monitoring loop must be torn down too.
	select {
	case _, ok := <-readings:
		if ok {
			for range readings {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interim readings channel not closed after Abort")
	}
}
