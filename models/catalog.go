package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pump represents a fuel-dispensing tanker ("pipa") operated in the field.
// A pump may have one flow-meter device bound to it.
type Pump struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Number         string         `gorm:"uniqueIndex;not null" json:"number"`
	Plate          string         `gorm:"not null" json:"plate"`
	CapacityLiters float64        `gorm:"not null" json:"capacityLiters"`
	Active         bool           `gorm:"default:true" json:"active"`
	MeterDeviceID  *uuid.UUID     `gorm:"type:uuid;index" json:"meterDeviceId"`
	MeterDevice    *MeterDevice   `gorm:"foreignKey:MeterDeviceID" json:"meterDevice,omitempty"`
	Geofence       string         `json:"geofence,omitempty"` // optional JSON polygon, see utils.ValidateGeofence
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// MeterDevice is the wireless flow meter ("LCQI") attached to a pump.
type MeterDevice struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SerialNumber string         `gorm:"uniqueIndex;not null" json:"serialNumber"`
	MACAddress   string         `gorm:"not null" json:"macAddress"`
	Model        string         `json:"model,omitempty"`
	Active       bool           `gorm:"default:true" json:"active"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Client is a fleet customer that owns vehicles receiving diesel.
type Client struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string         `gorm:"uniqueIndex;not null" json:"name"`
	TaxID     *string        `json:"taxId,omitempty"`
	Contact   *string        `json:"contact,omitempty"`
	Phone     *string        `json:"phone,omitempty"`
	Email     *string        `json:"email,omitempty"`
	Active    bool           `gorm:"default:true" json:"active"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// VehicleKind classifies a client vehicle.
type VehicleKind string

const (
	VehicleMachinery VehicleKind = "MACHINERY"
	VehicleTruck     VehicleKind = "TRUCK"
	VehicleOther     VehicleKind = "OTHER"
)

// Vehicle is a client-owned vehicle identified in the field by QR code.
// UsesHourMeter decides whether the captured meter value is hours or distance.
type Vehicle struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ClientID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"clientId"`
	Client        *Client        `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Identifier    string         `gorm:"not null" json:"identifier"`
	Kind          VehicleKind    `gorm:"not null;default:'OTHER'" json:"kind"`
	Brand         *string        `json:"brand,omitempty"`
	Model         *string        `json:"model,omitempty"`
	Plate         *string        `json:"plate,omitempty"`
	UsesHourMeter bool           `gorm:"default:false" json:"usesHourMeter"`
	QRCode        string         `gorm:"uniqueIndex;not null" json:"qrCode"`
	Active        bool           `gorm:"default:true" json:"active"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Configuration is a flat key-value setting shipped to mobile clients
// inside the catalog snapshot.
type Configuration struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
