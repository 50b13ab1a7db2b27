// Package catalog maintains the device's read-only snapshot of server
// reference data. The snapshot is replaced wholesale on each successful
// refresh and consulted offline by the capture flow.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"p9e.in/rdiesel/models"
	"p9e.in/rdiesel/mobile/store"
)

// ErrNoCatalog means no snapshot has ever been fetched or loaded: the
// capture flow must stay blocked until a refresh succeeds.
var ErrNoCatalog = errors.New("catalog: no snapshot available")

// Typed snapshot entities, validated when the snapshot loads so lookups
// never have to re-check field shapes.

type Pump struct {
	ID             uuid.UUID
	Number         string
	Plate          string
	CapacityLiters float64
	MeterDeviceID  *uuid.UUID
	Active         bool
}

type Meter struct {
	ID           uuid.UUID
	SerialNumber string
	MACAddress   string
	Model        string
	Active       bool
}

type Client struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

type Vehicle struct {
	ID            uuid.UUID
	ClientID      uuid.UUID
	ClientName    string
	Identifier    string
	Kind          string
	UsesHourMeter bool
	QRCode        string
	Active        bool
}

// Snapshot is one immutable catalog bundle.
type Snapshot struct {
	Pumps          []Pump
	Meters         []Meter
	Clients        []Client
	Vehicles       []Vehicle
	Configurations map[string]string
	Timestamp      time.Time

	vehiclesByCode map[string]*Vehicle
	metersByID     map[uuid.UUID]*Meter
	pumpsByID      map[uuid.UUID]*Pump
	pumpByMeter    map[uuid.UUID]*Pump
}

func snapshotFromWire(ws *models.CatalogSnapshot) (*Snapshot, error) {
	snap := &Snapshot{
		Configurations: ws.Configurations,
		vehiclesByCode: make(map[string]*Vehicle, len(ws.Vehicles)),
		metersByID:     make(map[uuid.UUID]*Meter, len(ws.MeterDevices)),
		pumpsByID:      make(map[uuid.UUID]*Pump, len(ws.Pumps)),
		pumpByMeter:    make(map[uuid.UUID]*Pump),
	}
	if snap.Configurations == nil {
		snap.Configurations = map[string]string{}
	}

	if ws.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, ws.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("catalog: invalid timestamp %q: %w", ws.Timestamp, err)
		}
		snap.Timestamp = t
	}

	for _, m := range ws.MeterDevices {
		if m.ID == uuid.Nil {
			return nil, errors.New("catalog: meter device without id")
		}
		snap.Meters = append(snap.Meters, Meter{
			ID:           m.ID,
			SerialNumber: m.SerialNumber,
			MACAddress:   m.MACAddress,
			Model:        m.Model,
			Active:       m.Active,
		})
	}
	for i := range snap.Meters {
		snap.metersByID[snap.Meters[i].ID] = &snap.Meters[i]
	}

	for _, p := range ws.Pumps {
		if p.ID == uuid.Nil {
			return nil, errors.New("catalog: pump without id")
		}
		snap.Pumps = append(snap.Pumps, Pump{
			ID:             p.ID,
			Number:         p.Number,
			Plate:          p.Plate,
			CapacityLiters: p.CapacityLiters,
			MeterDeviceID:  p.MeterDeviceID,
			Active:         p.Active,
		})
	}
	for i := range snap.Pumps {
		pump := &snap.Pumps[i]
		snap.pumpsByID[pump.ID] = pump
		if pump.MeterDeviceID != nil {
			snap.pumpByMeter[*pump.MeterDeviceID] = pump
		}
	}

	clientNames := make(map[uuid.UUID]string, len(ws.Clients))
	for _, c := range ws.Clients {
		if c.ID == uuid.Nil {
			return nil, errors.New("catalog: client without id")
		}
		snap.Clients = append(snap.Clients, Client{ID: c.ID, Name: c.Name, Active: c.Active})
		clientNames[c.ID] = c.Name
	}

	for _, v := range ws.Vehicles {
		if v.ID == uuid.Nil {
			return nil, errors.New("catalog: vehicle without id")
		}
		if v.QRCode == "" {
			return nil, fmt.Errorf("catalog: vehicle %s without qr code", v.ID)
		}
		clientName := clientNames[v.ClientID]
		if v.Client != nil {
			clientName = v.Client.Name
		}
		snap.Vehicles = append(snap.Vehicles, Vehicle{
			ID:            v.ID,
			ClientID:      v.ClientID,
			ClientName:    clientName,
			Identifier:    v.Identifier,
			Kind:          string(v.Kind),
			UsesHourMeter: v.UsesHourMeter,
			QRCode:        v.QRCode,
			Active:        v.Active,
		})
	}
	for i := range snap.Vehicles {
		vehicle := &snap.Vehicles[i]
		if _, dup := snap.vehiclesByCode[vehicle.QRCode]; dup {
			return nil, fmt.Errorf("catalog: duplicate vehicle qr code %q", vehicle.QRCode)
		}
		snap.vehiclesByCode[vehicle.QRCode] = vehicle
	}

	return snap, nil
}

// Fetcher retrieves a fresh snapshot from the server.
type Fetcher interface {
	FetchCatalog(ctx context.Context) (*models.CatalogSnapshot, error)
}

// Storage persists the raw snapshot across app restarts.
type Storage interface {
	SaveCatalog(data []byte, fetchedAt time.Time) error
	LoadCatalog() ([]byte, time.Time, error)
}

// Cache owns the current snapshot. Lookups are safe for concurrent use;
// Refresh swaps the snapshot atomically.
type Cache struct {
	storage Storage
	fetcher Fetcher

	mu       sync.RWMutex
	snapshot *Snapshot
	lastSync time.Time
}

func New(storage Storage, fetcher Fetcher) *Cache {
	return &Cache{storage: storage, fetcher: fetcher}
}

// Load restores the persisted snapshot, if any. Call once at startup;
// having no persisted snapshot is not an error, the cache just stays
// not Ready until a Refresh succeeds.
func (c *Cache) Load() error {
	data, fetchedAt, err := c.storage.LoadCatalog()
	if errors.Is(err, store.ErrNoCatalog) {
		return nil
	}
	if err != nil {
		return err
	}

	var wire models.CatalogSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("catalog: decode persisted snapshot: %w", err)
	}
	snap, err := snapshotFromWire(&wire)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot = snap
	c.lastSync = fetchedAt
	c.mu.Unlock()
	return nil
}

// Refresh fetches a fresh snapshot and replaces the current one wholesale.
// On any failure the existing snapshot stays untouched; stale reference
// data beats no reference data in the field.
func (c *Cache) Refresh(ctx context.Context) error {
	wire, err := c.fetcher.FetchCatalog(ctx)
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}

	snap, err := snapshotFromWire(wire)
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("catalog refresh: encode snapshot: %w", err)
	}
	now := time.Now()
	if err := c.storage.SaveCatalog(data, now); err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.lastSync = now
	c.mu.Unlock()
	return nil
}

// Ready reports whether a usable snapshot exists. While false the capture
// flow is blocked; this is the explicit degraded mode for a first launch
// with no connectivity.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot != nil
}

// LastSync returns when the current snapshot was fetched.
func (c *Cache) LastSync() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return time.Time{}, false
	}
	return c.lastSync, true
}

// FindVehicleByCode resolves a scanned QR code. Returns false for unknown
// codes; callers decide how to surface that.
func (c *Cache) FindVehicleByCode(code string) (*Vehicle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil, false
	}
	v, ok := c.snapshot.vehiclesByCode[code]
	return v, ok
}

func (c *Cache) FindMeterByID(id uuid.UUID) (*Meter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil, false
	}
	m, ok := c.snapshot.metersByID[id]
	return m, ok
}

func (c *Cache) FindPumpByID(id uuid.UUID) (*Pump, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil, false
	}
	p, ok := c.snapshot.pumpsByID[id]
	return p, ok
}

// PumpForMeter returns the pump a meter device is bound to, if any.
func (c *Cache) PumpForMeter(meterID uuid.UUID) (*Pump, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil, false
	}
	p, ok := c.snapshot.pumpByMeter[meterID]
	return p, ok
}

// Config returns a configuration value from the snapshot.
func (c *Cache) Config(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return "", false
	}
	v, ok := c.snapshot.Configurations[key]
	return v, ok
}
