package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
)

var (
	blobsOnce sync.Once
	blobs     BlobStore
)

func blobStore() BlobStore {
	blobsOnce.Do(func() {
		blobs = NewBlobStore()
	})
	return blobs
}

// validationError marks a permanent, client-side rejection: the payload is
// malformed or references unknown catalog entities. Retrying without
// operator intervention cannot succeed.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// validateSyncRequest checks payload shape before touching the database.
func validateSyncRequest(req *models.SyncLoadingRequest) error {
	if _, err := uuid.Parse(req.ID); err != nil {
		return validationErrorf("invalid loading id %q", req.ID)
	}
	for name, v := range map[string]string{
		"pumpId": req.PumpID, "meterDeviceId": req.MeterDeviceID, "vehicleId": req.VehicleID,
	} {
		if _, err := uuid.Parse(v); err != nil {
			return validationErrorf("invalid %s %q", name, v)
		}
	}
	if !models.ValidOutcome(req.Outcome) {
		return validationErrorf("invalid outcome %q", req.Outcome)
	}
	if req.Outcome != string(models.OutcomeNormal) && (req.Justification == nil || strings.TrimSpace(*req.Justification) == "") {
		return validationErrorf("outcome %s requires a justification", req.Outcome)
	}
	if req.FinalReading < req.InitialReading {
		return validationErrorf("finalReading %v below initialReading %v", req.FinalReading, req.InitialReading)
	}
	if req.VolumeDelivered < 0 {
		return validationErrorf("volumeDelivered must not be negative")
	}
	if len(req.Evidence) == 0 {
		return validationErrorf("at least one evidence photo is required")
	}
	for i, ev := range req.Evidence {
		if !models.ValidEvidenceCategory(ev.Category) {
			return validationErrorf("evidence[%d]: invalid category %q", i, ev.Category)
		}
		if ev.Base64 == "" {
			return validationErrorf("evidence[%d]: empty image payload", i)
		}
	}
	if strings.TrimSpace(req.Signature.SignerName) == "" || req.Signature.Base64 == "" {
		return validationErrorf("signature name and image are required")
	}
	if req.DeviceID == "" {
		return validationErrorf("deviceId is required")
	}
	for name, v := range map[string]string{"startedAt": req.StartedAt, "completedAt": req.CompletedAt} {
		if _, err := time.Parse(time.RFC3339Nano, v); err != nil {
			if _, err2 := time.Parse(time.RFC3339, v); err2 != nil {
				return validationErrorf("invalid %s timestamp %q", name, v)
			}
		}
	}
	return nil
}

func extensionFor(mimeType string) string {
	if _, ext, ok := strings.Cut(mimeType, "/"); ok && ext != "" {
		return ext
	}
	return "jpg"
}

// ingestLoading persists one synced loading. Returns duplicate=true when
// the id was already stored by a prior attempt; the caller reports that as
// success so the device stops retrying.
//
// Object names derive from the loading id, so a retried upload after a
// failed attempt overwrites the same blobs instead of orphaning new ones.
func ingestLoading(ctx context.Context, db *gorm.DB, store BlobStore, req *models.SyncLoadingRequest) (duplicate bool, err error) {
	if err := validateSyncRequest(req); err != nil {
		return false, err
	}

	loadingID := uuid.MustParse(req.ID)

	var count int64
	if err := db.WithContext(ctx).Model(&models.Loading{}).Where("id = ?", loadingID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("lookup loading %s: %w", req.ID, err)
	}
	if count > 0 {
		return true, nil
	}

	// Resolve catalog references; unknown ids are permanent rejections.
	var pump models.Pump
	if err := db.WithContext(ctx).Where("id = ?", req.PumpID).First(&pump).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, validationErrorf("pump %s not found", req.PumpID)
		}
		return false, fmt.Errorf("lookup pump: %w", err)
	}
	var meter models.MeterDevice
	if err := db.WithContext(ctx).Where("id = ?", req.MeterDeviceID).First(&meter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, validationErrorf("meter device %s not found", req.MeterDeviceID)
		}
		return false, fmt.Errorf("lookup meter device: %w", err)
	}
	var vehicle models.Vehicle
	if err := db.WithContext(ctx).Where("id = ?", req.VehicleID).First(&vehicle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, validationErrorf("vehicle %s not found", req.VehicleID)
		}
		return false, fmt.Errorf("lookup vehicle: %w", err)
	}

	// Upload blobs before opening the transaction; a failed record create
	// leaves the objects in place for the retried attempt to overwrite.
	evidence := make([]models.Evidence, 0, len(req.Evidence))
	urls := make([]string, 0, len(req.Evidence))
	for i, ev := range req.Evidence {
		data, err := base64.StdEncoding.DecodeString(ev.Base64)
		if err != nil {
			return false, validationErrorf("evidence[%d]: invalid base64: %v", i, err)
		}
		objectName := fmt.Sprintf("evidence/%s/%d.%s", req.ID, i, extensionFor(ev.MimeType))
		url, err := store.Put(ctx, objectName, data, ev.MimeType)
		if err != nil {
			return false, fmt.Errorf("store evidence[%d]: %w", i, err)
		}
		evidence = append(evidence, models.Evidence{
			ID:        uuid.New(),
			LoadingID: loadingID,
			Category:  models.EvidenceCategory(ev.Category),
			URL:       url,
		})
		urls = append(urls, url)
	}

	sigData, err := base64.StdEncoding.DecodeString(req.Signature.Base64)
	if err != nil {
		return false, validationErrorf("signature: invalid base64: %v", err)
	}
	sigURL, err := store.Put(ctx, fmt.Sprintf("signatures/%s/signature.png", req.ID), sigData, "image/png")
	if err != nil {
		return false, fmt.Errorf("store signature: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, req.StartedAt)
	completedAt, _ := time.Parse(time.RFC3339Nano, req.CompletedAt)
	now := time.Now()

	deviceInfo, _ := json.Marshal(map[string]string{"deviceId": req.DeviceID})

	loading := models.Loading{
		ID:              loadingID,
		PumpID:          pump.ID,
		MeterDeviceID:   meter.ID,
		VehicleID:       vehicle.ID,
		InitialReading:  req.InitialReading,
		FinalReading:    req.FinalReading,
		VolumeDelivered: req.VolumeDelivered,
		MeterValue:      req.MeterValue,
		Outcome:         models.LoadingOutcome(req.Outcome),
		Justification:   req.Justification,
		DeviceID:        req.DeviceID,
		DeviceInfo:      datatypes.JSON(deviceInfo),
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		StartedAt:       models.JSONTime(startedAt),
		CompletedAt:     models.JSONTime(completedAt),
		Synced:          true,
		SyncedAt:        &now,
		EvidenceURLs:    urls,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&loading).Error; err != nil {
			return err
		}
		if err := tx.Create(&evidence).Error; err != nil {
			return err
		}
		return tx.Create(&models.Signature{
			ID:         uuid.New(),
			LoadingID:  loadingID,
			SignerName: req.Signature.SignerName,
			URL:        sigURL,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("create loading %s: %w", req.ID, err)
	}

	return false, nil
}

// SyncLoading handles POST /api/sync/cargas: one loading pushed from a device.
func SyncLoading(w http.ResponseWriter, r *http.Request) {
	var req models.SyncLoadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	duplicate, err := ingestLoading(r.Context(), config.DB, blobStore(), &req)
	if err != nil {
		var verr *validationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("sync loading %s: %v", req.ID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if duplicate {
		json.NewEncoder(w).Encode(models.SyncLoadingResponse{
			Success:   true,
			Duplicate: true,
			LoadingID: req.ID,
			Message:   "loading already synced",
		})
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.SyncLoadingResponse{
		Success:   true,
		LoadingID: req.ID,
	})
}

// SyncLoadingBatch handles POST /api/sync/cargas/batch. Each loading is
// processed independently; one rejected payload never aborts the rest.
func SyncLoadingBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []models.SyncLoadingRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := models.SyncBatchResponse{
		Total:   len(reqs),
		Results: make([]models.SyncBatchItem, 0, len(reqs)),
	}

	for i := range reqs {
		req := &reqs[i]
		duplicate, err := ingestLoading(r.Context(), config.DB, blobStore(), req)
		if err != nil {
			log.Printf("batch sync loading %s: %v", req.ID, err)
			kind := models.SyncErrorInternal
			msg := "internal error"
			var verr *validationError
			if errors.As(err, &verr) {
				kind = models.SyncErrorValidation
				msg = verr.Error()
			}
			resp.Failed++
			resp.Results = append(resp.Results, models.SyncBatchItem{
				ID:        req.ID,
				Success:   false,
				ErrorKind: kind,
				Error:     msg,
			})
			continue
		}
		resp.Succeeded++
		resp.Results = append(resp.Results, models.SyncBatchItem{
			ID:        req.ID,
			Success:   true,
			Duplicate: duplicate,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SyncCatalog handles GET /api/sync/catalogo: the full reference snapshot
// that devices cache for offline capture.
func SyncCatalog(w http.ResponseWriter, r *http.Request) {
	var snapshot models.CatalogSnapshot

	if err := config.DB.Where("active = ?", true).Preload("MeterDevice").Find(&snapshot.Pumps).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := config.DB.Where("active = ?", true).Find(&snapshot.MeterDevices).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := config.DB.Where("active = ?", true).Find(&snapshot.Clients).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := config.DB.Where("active = ?", true).Preload("Client").Find(&snapshot.Vehicles).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var configurations []models.Configuration
	if err := config.DB.Find(&configurations).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	snapshot.Configurations = make(map[string]string, len(configurations))
	for _, c := range configurations {
		snapshot.Configurations[c.Key] = c.Value
	}
	snapshot.Timestamp = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}
