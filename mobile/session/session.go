// Package session drives a single loading transaction through its capture
// steps: vehicle scan, meter value, evidence photos, device binding,
// measurement, signature, and final submission to the local store.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"p9e.in/rdiesel/mobile/catalog"
	"p9e.in/rdiesel/mobile/device"
	"p9e.in/rdiesel/mobile/store"
)

// State is the capture phase of the in-flight transaction.
type State int

const (
	Idle State = iota
	VehicleIdentified
	MeterCaptured
	EvidenceCaptured
	MeterDeviceBound
	Measuring
	Finalized
	Signed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case VehicleIdentified:
		return "VEHICLE_IDENTIFIED"
	case MeterCaptured:
		return "METER_CAPTURED"
	case EvidenceCaptured:
		return "EVIDENCE_CAPTURED"
	case MeterDeviceBound:
		return "METER_DEVICE_BOUND"
	case Measuring:
		return "MEASURING"
	case Finalized:
		return "FINALIZED"
	case Signed:
		return "SIGNED"
	}
	return "UNKNOWN"
}

// Validation failures are local and recoverable: the operator corrects the
// input and retries the same step.
var (
	ErrNoCatalog            = errors.New("session: no catalog snapshot; refresh required")
	ErrVehicleNotFound      = errors.New("session: vehicle code not in catalog")
	ErrVehicleInactive      = errors.New("session: vehicle is deactivated")
	ErrMeterNotFound        = errors.New("session: meter device not in catalog")
	ErrMeterInactive        = errors.New("session: meter device is deactivated")
	ErrPumpMismatch         = errors.New("session: meter device belongs to a different pump")
	ErrInvalidInput         = errors.New("session: invalid input")
	ErrInvalidState         = errors.New("session: operation not allowed in current state")
	ErrInvalidMeterSequence = errors.New("session: final reading below initial reading")
	ErrMissingEvidence      = errors.New("session: at least one evidence photo required")
	ErrTooManyPhotos        = errors.New("session: photo limit reached for category")
	ErrMissingSignature     = errors.New("session: signer name and image required")
	ErrJustificationNeeded  = errors.New("session: non-normal outcome requires a justification")
)

const defaultMaxPhotosPerCategory = 3

// Catalog is the read-only reference lookup the session consults. The
// concrete implementation is *catalog.Cache.
type Catalog interface {
	Ready() bool
	FindVehicleByCode(code string) (*catalog.Vehicle, bool)
	FindMeterByID(id uuid.UUID) (*catalog.Meter, bool)
	FindPumpByID(id uuid.UUID) (*catalog.Pump, bool)
	PumpForMeter(meterID uuid.UUID) (*catalog.Pump, bool)
	Config(key string) (string, bool)
}

// Persister receives the finalized record. The concrete implementation is
// *store.Store.
type Persister interface {
	Persist(rec *store.Record) error
}

// Session is the explicitly owned capture flow for one operator. Create it
// at flow entry, pass it by handle to the UI screens, and let it go at
// flow exit. Not safe for concurrent use; the UI drives it sequentially.
type Session struct {
	catalog   Catalog
	persister Persister
	dev       device.Device

	state State
	draft store.Record

	interim       chan device.Reading
	cancelMonitor context.CancelFunc
}

// New creates a session with a fresh DRAFT transaction.
func New(cat Catalog, persister Persister, dev device.Device) *Session {
	s := &Session{catalog: cat, persister: persister, dev: dev}
	s.resetDraft()
	return s
}

func (s *Session) resetDraft() {
	s.state = Idle
	s.draft = store.Record{
		ID:        uuid.New(),
		Outcome:   store.OutcomeNormal,
		SyncState: store.StateDraft,
	}
}

// State returns the current capture phase.
func (s *Session) State() State {
	return s.state
}

// Draft returns a copy of the in-flight transaction for display.
func (s *Session) Draft() store.Record {
	rec := s.draft
	rec.Evidence = append([]store.EvidenceItem(nil), s.draft.Evidence...)
	return rec
}

// IdentifyVehicle resolves a scanned QR code against the catalog and binds
// the vehicle to the transaction. Re-scanning while still at this step
// overwrites the previous match.
func (s *Session) IdentifyVehicle(code string) error {
	if s.state != Idle && s.state != VehicleIdentified {
		return ErrInvalidState
	}
	if !s.catalog.Ready() {
		return ErrNoCatalog
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidInput
	}

	vehicle, ok := s.catalog.FindVehicleByCode(code)
	if !ok {
		return ErrVehicleNotFound
	}
	if !vehicle.Active {
		return ErrVehicleInactive
	}

	s.draft.VehicleID = vehicle.ID
	s.draft.VehicleCode = vehicle.QRCode
	s.draft.UsesHourMeter = vehicle.UsesHourMeter
	s.state = VehicleIdentified
	return nil
}

// CaptureMeterValue records the vehicle's hour-meter or odometer reading.
func (s *Session) CaptureMeterValue(value float64) error {
	if s.state != VehicleIdentified && s.state != MeterCaptured {
		return ErrInvalidState
	}
	if value < 0 {
		return ErrInvalidInput
	}
	s.draft.MeterValue = value
	s.state = MeterCaptured
	return nil
}

// AddEvidence appends one captured photo. Evidence is append-only until
// the transaction is finalized; the per-category limit comes from the
// catalog configuration.
func (s *Session) AddEvidence(category store.EvidenceCategory, path, mimeType string) error {
	if s.state != MeterCaptured && s.state != EvidenceCaptured {
		return ErrInvalidState
	}
	switch category {
	case store.EvidenceVehicle, store.EvidenceMeter, store.EvidenceDevice, store.EvidenceOther:
	default:
		return ErrInvalidInput
	}
	if path == "" {
		return ErrInvalidInput
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	limit := s.intConfig("max_photos_per_category", defaultMaxPhotosPerCategory)
	inCategory := 0
	for _, ev := range s.draft.Evidence {
		if ev.Category == category {
			inCategory++
		}
	}
	if inCategory >= limit {
		return ErrTooManyPhotos
	}

	s.draft.Evidence = append(s.draft.Evidence, store.EvidenceItem{
		Category: category,
		Path:     path,
		MimeType: mimeType,
	})
	s.state = EvidenceCaptured
	return nil
}

// SelectPump pre-selects the pump the operator is working from. Optional;
// when set, BindMeterDevice enforces the device belongs to this pump.
func (s *Session) SelectPump(pumpID uuid.UUID) error {
	if s.state == Measuring || s.state == Finalized || s.state == Signed {
		return ErrInvalidState
	}
	pump, ok := s.catalog.FindPumpByID(pumpID)
	if !ok {
		return ErrInvalidInput
	}
	if !pump.Active {
		return ErrInvalidInput
	}
	s.draft.PumpID = pump.ID
	return nil
}

// BindMeterDevice associates the discovered flow meter with the
// transaction. Requires at least one evidence photo first.
func (s *Session) BindMeterDevice(meterID uuid.UUID) error {
	if s.state != EvidenceCaptured && s.state != MeterDeviceBound {
		return ErrInvalidState
	}
	if len(s.draft.Evidence) == 0 {
		return ErrMissingEvidence
	}

	meter, ok := s.catalog.FindMeterByID(meterID)
	if !ok {
		return ErrMeterNotFound
	}
	if !meter.Active {
		return ErrMeterInactive
	}

	pump, ok := s.catalog.PumpForMeter(meter.ID)
	if !ok {
		return ErrMeterNotFound
	}
	if s.draft.PumpID != uuid.Nil && s.draft.PumpID != pump.ID {
		return ErrPumpMismatch
	}

	s.draft.MeterDeviceID = meter.ID
	s.draft.PumpID = pump.ID
	s.state = MeterDeviceBound
	return nil
}

// BeginMeasurement captures the initial register reading from the bound
// device and starts the interim monitoring loop. The loop is informational
// only; nothing it reports is persisted.
func (s *Session) BeginMeasurement(ctx context.Context) error {
	if s.state != MeterDeviceBound {
		return ErrInvalidState
	}

	initial, err := s.dev.StartMeasurement(ctx)
	if err != nil {
		return err
	}

	s.draft.InitialReading = initial
	s.draft.StartedAt = time.Now()
	s.state = Measuring

	monitorCtx, cancel := context.WithCancel(ctx)
	s.cancelMonitor = cancel
	s.interim = make(chan device.Reading)
	go s.monitor(monitorCtx, s.dev.Readings(monitorCtx), s.interim)

	return nil
}

// monitor forwards interim device readings until the device stops or the
// measurement ends via any path.
func (s *Session) monitor(ctx context.Context, in <-chan device.Reading, out chan<- device.Reading) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// InterimReadings returns the channel of readings for the current
// measurement. Nil when not measuring.
func (s *Session) InterimReadings() <-chan device.Reading {
	return s.interim
}

// EndMeasurement stops the monitoring loop and finalizes the flow volume.
// A final reading below the initial one is rejected outright; the policy
// is to surface the inconsistency, never to clamp it away.
func (s *Session) EndMeasurement(finalReading float64) error {
	if s.state != Measuring {
		return ErrInvalidState
	}
	if finalReading < s.draft.InitialReading {
		return ErrInvalidMeterSequence
	}

	s.stopMonitor()

	s.draft.FinalReading = finalReading
	s.draft.VolumeDelivered = finalReading - s.draft.InitialReading
	s.draft.CompletedAt = time.Now()
	s.state = Finalized
	return nil
}

func (s *Session) stopMonitor() {
	if s.cancelMonitor != nil {
		s.cancelMonitor()
		s.cancelMonitor = nil
	}
	s.interim = nil
}

// AttachSignature records the receiver's name and signature image.
func (s *Session) AttachSignature(name string, image []byte) error {
	if s.state != Finalized && s.state != Signed {
		return ErrInvalidState
	}
	if strings.TrimSpace(name) == "" || len(image) == 0 {
		return ErrMissingSignature
	}
	s.draft.SignerName = strings.TrimSpace(name)
	s.draft.SignatureImage = image
	s.state = Signed
	return nil
}

// SetOutcome records the operator's assessment. Does not change state;
// non-normal outcomes require a justification.
func (s *Session) SetOutcome(outcome store.Outcome, justification string) error {
	switch outcome {
	case store.OutcomeNormal, store.OutcomeFlagged, store.OutcomeAnomalous:
	default:
		return ErrInvalidInput
	}
	justification = strings.TrimSpace(justification)
	if outcome != store.OutcomeNormal && justification == "" {
		return ErrJustificationNeeded
	}
	s.draft.Outcome = outcome
	s.draft.Justification = justification
	return nil
}

// SetLocation records where the loading happened.
func (s *Session) SetLocation(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidInput
	}
	s.draft.Latitude = lat
	s.draft.Longitude = lng
	return nil
}

// Submit validates every invariant, hands an immutable copy to the local
// store as PENDING_SYNC, and resets the session to IDLE for the next
// transaction. If persisting fails the draft is retained so the operator
// can retry without re-capturing anything.
func (s *Session) Submit() (*store.Record, error) {
	if s.state != Signed {
		return nil, ErrInvalidState
	}
	if len(s.draft.Evidence) == 0 {
		return nil, ErrMissingEvidence
	}
	if s.draft.SignerName == "" || len(s.draft.SignatureImage) == 0 {
		return nil, ErrMissingSignature
	}
	if s.draft.Outcome != store.OutcomeNormal && s.draft.Justification == "" {
		return nil, ErrJustificationNeeded
	}
	if s.draft.FinalReading < s.draft.InitialReading {
		return nil, ErrInvalidMeterSequence
	}
	if s.draft.VolumeDelivered != s.draft.FinalReading-s.draft.InitialReading {
		return nil, ErrInvalidInput
	}

	rec := s.draft
	rec.Evidence = append([]store.EvidenceItem(nil), s.draft.Evidence...)
	rec.SignatureImage = append([]byte(nil), s.draft.SignatureImage...)
	rec.SyncState = store.StatePendingSync

	if err := s.persister.Persist(&rec); err != nil {
		return nil, err
	}

	s.resetDraft()
	return &rec, nil
}

// Abort discards the in-flight draft and returns to IDLE. Partial
// transactions never reach durable storage.
func (s *Session) Abort() {
	s.stopMonitor()
	s.resetDraft()
}

func (s *Session) intConfig(key string, fallback int) int {
	v, ok := s.catalog.Config(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
