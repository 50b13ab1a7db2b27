package models

// Wire types shared by the ingestion endpoint and the mobile client.

// SyncEvidence is one inline-encoded photo in a sync request.
type SyncEvidence struct {
	Category string `json:"category"`
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
}

// SyncSignature is the inline-encoded signature in a sync request.
type SyncSignature struct {
	SignerName string `json:"signerName"`
	Base64     string `json:"base64"`
}

// SyncLoadingRequest is the payload for one loading pushed from a device.
// ID is generated client-side and deduplicates retries server-side.
type SyncLoadingRequest struct {
	ID              string         `json:"id"`
	PumpID          string         `json:"pumpId"`
	MeterDeviceID   string         `json:"meterDeviceId"`
	VehicleID       string         `json:"vehicleId"`
	InitialReading  float64        `json:"initialReading"`
	FinalReading    float64        `json:"finalReading"`
	VolumeDelivered float64        `json:"volumeDelivered"`
	MeterValue      float64        `json:"meterValue"`
	Outcome         string         `json:"outcome"`
	Justification   *string        `json:"justification,omitempty"`
	DeviceID        string         `json:"deviceId"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	StartedAt       string         `json:"startedAt"`
	CompletedAt     string         `json:"completedAt"`
	Evidence        []SyncEvidence `json:"evidence"`
	Signature       SyncSignature  `json:"signature"`
}

// SyncLoadingResponse reports the outcome of a single-loading sync.
// Duplicate means a prior attempt already persisted this ID; the client
// must treat it the same as a fresh success.
type SyncLoadingResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	LoadingID string `json:"loadingId"`
	Message   string `json:"message,omitempty"`
}

// Error kinds for failed batch items. Validation failures are permanent;
// the client parks the record instead of retrying it.
const (
	SyncErrorValidation = "validation"
	SyncErrorInternal   = "internal"
)

// SyncBatchItem is the per-loading result inside a batch response.
type SyncBatchItem struct {
	ID        string `json:"id"`
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SyncBatchResponse summarises a batch sync.
type SyncBatchResponse struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []SyncBatchItem `json:"results"`
}

// CatalogSnapshot is the full reference-data bundle served to devices.
// Devices replace their cached copy wholesale on every successful fetch.
type CatalogSnapshot struct {
	Pumps          []Pump            `json:"pumps"`
	MeterDevices   []MeterDevice     `json:"meterDevices"`
	Clients        []Client          `json:"clients"`
	Vehicles       []Vehicle         `json:"vehicles"`
	Configurations map[string]string `json:"configurations"`
	Timestamp      string            `json:"timestamp"`
}
