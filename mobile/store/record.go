package store

import (
	"time"

	"github.com/google/uuid"
)

// SyncState tracks where a loading transaction sits in its lifecycle.
type SyncState string

const (
	StateDraft       SyncState = "DRAFT"        // in-memory, owned by the capture session
	StatePendingSync SyncState = "PENDING_SYNC" // durably stored, awaiting upload
	StateSynced      SyncState = "SYNCED"       // confirmed by the server; local copy removed
)

// Outcome mirrors the server-side loading outcome values.
type Outcome string

const (
	OutcomeNormal    Outcome = "NORMAL"
	OutcomeFlagged   Outcome = "FLAGGED"
	OutcomeAnomalous Outcome = "ANOMALOUS"
)

// EvidenceCategory tags what a captured photo shows.
type EvidenceCategory string

const (
	EvidenceVehicle EvidenceCategory = "VEHICLE"
	EvidenceMeter   EvidenceCategory = "METER"
	EvidenceDevice  EvidenceCategory = "DEVICE"
	EvidenceOther   EvidenceCategory = "OTHER"
)

// EvidenceItem is one photo captured during the loading flow. The image
// stays on disk until the sync reconciler confirms the upload.
type EvidenceItem struct {
	Category EvidenceCategory `json:"category"`
	Path     string           `json:"path"`
	MimeType string           `json:"mimeType"`
}

// Record is one loading transaction. The ID is generated when the capture
// session starts and is the idempotency key for the record's whole life,
// on the device and on the server.
type Record struct {
	ID              uuid.UUID      `json:"id"`
	PumpID          uuid.UUID      `json:"pumpId"`
	MeterDeviceID   uuid.UUID      `json:"meterDeviceId"`
	VehicleID       uuid.UUID      `json:"vehicleId"`
	VehicleCode     string         `json:"vehicleCode"`
	UsesHourMeter   bool           `json:"usesHourMeter"`
	InitialReading  float64        `json:"initialReading"`
	FinalReading    float64        `json:"finalReading"`
	VolumeDelivered float64        `json:"volumeDelivered"`
	MeterValue      float64        `json:"meterValue"`
	Evidence        []EvidenceItem `json:"evidence"`
	SignerName      string         `json:"signerName"`
	SignatureImage  []byte         `json:"signatureImage"`
	Outcome         Outcome        `json:"outcome"`
	Justification   string         `json:"justification,omitempty"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	StartedAt       time.Time      `json:"startedAt"`
	CompletedAt     time.Time      `json:"completedAt"`
	SyncState       SyncState      `json:"syncState"`
}

// PendingInfo pairs a stored record with its retry bookkeeping.
type PendingInfo struct {
	Record        *Record
	Attempts      int
	LastErrorKind string
	Failed        bool
}
