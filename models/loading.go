package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LoadingOutcome is the operator's assessment of a completed loading.
type LoadingOutcome string

const (
	OutcomeNormal    LoadingOutcome = "NORMAL"
	OutcomeFlagged   LoadingOutcome = "FLAGGED"
	OutcomeAnomalous LoadingOutcome = "ANOMALOUS"
)

// ValidOutcome reports whether s is a known outcome value.
func ValidOutcome(s string) bool {
	switch LoadingOutcome(s) {
	case OutcomeNormal, OutcomeFlagged, OutcomeAnomalous:
		return true
	}
	return false
}

// EvidenceCategory tags what a captured photo shows.
type EvidenceCategory string

const (
	EvidenceVehicle EvidenceCategory = "VEHICLE"
	EvidenceMeter   EvidenceCategory = "METER"
	EvidenceDevice  EvidenceCategory = "DEVICE"
	EvidenceOther   EvidenceCategory = "OTHER"
)

// ValidEvidenceCategory reports whether s is a known category value.
func ValidEvidenceCategory(s string) bool {
	switch EvidenceCategory(s) {
	case EvidenceVehicle, EvidenceMeter, EvidenceDevice, EvidenceOther:
		return true
	}
	return false
}

// Loading is one diesel delivery from a pump to a vehicle, captured offline
// in the field and synced later. The ID is generated on the device and acts
// as the idempotency key for the whole record.
type Loading struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PumpID          uuid.UUID      `gorm:"type:uuid;index;not null" json:"pumpId"`
	Pump            *Pump          `gorm:"foreignKey:PumpID" json:"pump,omitempty"`
	MeterDeviceID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"meterDeviceId"`
	MeterDevice     *MeterDevice   `gorm:"foreignKey:MeterDeviceID" json:"meterDevice,omitempty"`
	VehicleID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"vehicleId"`
	Vehicle         *Vehicle       `gorm:"foreignKey:VehicleID" json:"vehicle,omitempty"`
	InitialReading  float64        `gorm:"not null" json:"initialReading"`
	FinalReading    float64        `gorm:"not null" json:"finalReading"`
	VolumeDelivered float64        `gorm:"not null" json:"volumeDelivered"`
	MeterValue      float64        `gorm:"not null" json:"meterValue"`
	Outcome         LoadingOutcome `gorm:"not null;default:'NORMAL'" json:"outcome"`
	Justification   *string        `json:"justification,omitempty"`
	DeviceID        string         `gorm:"not null" json:"deviceId"`
	DeviceInfo      datatypes.JSON `gorm:"type:jsonb" json:"deviceInfo,omitempty"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	StartedAt       JSONTime       `gorm:"not null" json:"startedAt"`
	CompletedAt     JSONTime       `gorm:"not null" json:"completedAt"`
	Synced          bool           `gorm:"default:false" json:"synced"`
	SyncedAt        *time.Time     `json:"syncedAt,omitempty"`
	EvidenceURLs    pq.StringArray `gorm:"type:text[]" json:"evidenceUrls,omitempty"`
	Evidence        []Evidence     `gorm:"foreignKey:LoadingID" json:"evidence,omitempty"`
	Signature       *Signature     `gorm:"foreignKey:LoadingID" json:"signature,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Evidence is one stored photo attached to a loading.
type Evidence struct {
	ID        uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	LoadingID uuid.UUID        `gorm:"type:uuid;index;not null" json:"loadingId"`
	Category  EvidenceCategory `gorm:"not null" json:"category"`
	URL       string           `gorm:"not null" json:"url"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
}

// Signature is the receiver's signature attached to a loading.
type Signature struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	LoadingID  uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"loadingId"`
	SignerName string    `gorm:"not null" json:"signerName"`
	URL        string    `gorm:"not null" json:"url"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
