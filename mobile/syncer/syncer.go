// Package syncer pushes locally stored loading transactions to the server.
// Records leave the device in the order they were captured; a transient
// failure stops the pass, a validation rejection parks the record.
package syncer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"p9e.in/rdiesel/mobile/api"
	"p9e.in/rdiesel/mobile/store"
	"p9e.in/rdiesel/models"
)

// Error kinds recorded against a pending record after a failed attempt.
const (
	KindTransient  = "transient"  // network or server-side failure; retry later
	KindValidation = "validation" // server rejected the payload; never retry
	KindMedia      = "media"      // local evidence file unreadable; never retry
)

// Uploader is the server-facing side of the reconciler. The concrete
// implementation is *api.Client.
type Uploader interface {
	SubmitLoading(ctx context.Context, payload *models.SyncLoadingRequest) (*models.SyncLoadingResponse, error)
	SubmitBatch(ctx context.Context, payloads []models.SyncLoadingRequest) (*models.SyncBatchResponse, error)
}

// Store is the local durable queue the reconciler drains.
type Store interface {
	ListPending() ([]*store.Record, error)
	Remove(id uuid.UUID) error
	RecordAttempt(id uuid.UUID, errorKind string) error
	MarkFailed(id uuid.UUID, errorKind string) error
}

// Result reports what happened to one record during a pass.
type Result struct {
	ID        uuid.UUID
	Synced    bool
	Duplicate bool
	Kind      string
	Err       error
}

// Syncer drains the pending queue one record at a time. A record is
// removed locally only after the server confirms it, so an interruption
// at any point leaves it queued for the next pass.
type Syncer struct {
	store    Store
	uploader Uploader
	deviceID string

	// Timeout bounds each individual upload. Zero means 30 seconds.
	Timeout time.Duration

	mu      sync.Mutex
	syncing bool
}

func New(st Store, up Uploader, deviceID string) *Syncer {
	return &Syncer{store: st, uploader: up, deviceID: deviceID}
}

// ErrSyncInProgress is returned when a pass is requested while another
// one is still running.
var ErrSyncInProgress = errors.New("syncer: pass already in progress")

// SyncPending uploads every pending record in capture order. The pass
// aborts at the first transient failure, leaving the remainder queued;
// validation and media failures park the offending record and continue.
// Only one pass runs at a time.
func (s *Syncer) SyncPending(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	pending, err := s.store.ListPending()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	var results []Result
	for _, rec := range pending {
		res := s.syncOne(ctx, rec)
		results = append(results, res)
		if res.Err != nil && res.Kind == KindTransient {
			return results, res.Err
		}
	}
	return results, nil
}

// SyncBatch uploads every pending record in one request and settles each
// record from the server's per-item result: success or duplicate removes
// it, a validation rejection parks it, an internal server failure keeps
// it pending with the attempt recorded. Cheaper than SyncPending on slow
// links because the whole queue travels in a single round trip.
func (s *Syncer) SyncBatch(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	pending, err := s.store.ListPending()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	var results []Result
	payloads := make([]models.SyncLoadingRequest, 0, len(pending))
	byID := make(map[string]*store.Record, len(pending))
	for _, rec := range pending {
		payload, err := s.buildRequest(rec)
		if err != nil {
			if markErr := s.store.MarkFailed(rec.ID, KindMedia); markErr != nil {
				return results, markErr
			}
			results = append(results, Result{ID: rec.ID, Kind: KindMedia, Err: err})
			continue
		}
		payloads = append(payloads, *payload)
		byID[payload.ID] = rec
	}
	if len(payloads) == 0 {
		return results, nil
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := s.uploader.SubmitBatch(uploadCtx, payloads)
	cancel()
	if err != nil {
		// The whole request failed; no per-item verdicts exist, so every
		// record stays queued for the next pass.
		for _, payload := range payloads {
			rec := byID[payload.ID]
			if attemptErr := s.store.RecordAttempt(rec.ID, KindTransient); attemptErr != nil {
				return results, attemptErr
			}
			results = append(results, Result{ID: rec.ID, Kind: KindTransient, Err: err})
		}
		return results, err
	}

	for _, item := range resp.Results {
		rec, ok := byID[item.ID]
		if !ok {
			continue
		}
		switch {
		case item.Success:
			if err := s.store.Remove(rec.ID); err != nil {
				return results, fmt.Errorf("remove synced record: %w", err)
			}
			s.releaseMedia(rec)
			results = append(results, Result{ID: rec.ID, Synced: true, Duplicate: item.Duplicate})
		case item.ErrorKind == models.SyncErrorValidation:
			if err := s.store.MarkFailed(rec.ID, KindValidation); err != nil {
				return results, err
			}
			results = append(results, Result{ID: rec.ID, Kind: KindValidation, Err: errors.New(item.Error)})
		default:
			if err := s.store.RecordAttempt(rec.ID, KindTransient); err != nil {
				return results, err
			}
			results = append(results, Result{ID: rec.ID, Kind: KindTransient, Err: errors.New(item.Error)})
		}
	}
	return results, nil
}

// SyncOne uploads a single record immediately, outside a full pass. Used
// for the sync-now action right after a submission.
func (s *Syncer) SyncOne(ctx context.Context, rec *store.Record) Result {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return Result{ID: rec.ID, Kind: KindTransient, Err: ErrSyncInProgress}
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	return s.syncOne(ctx, rec)
}

func (s *Syncer) syncOne(ctx context.Context, rec *store.Record) Result {
	payload, err := s.buildRequest(rec)
	if err != nil {
		// Evidence files are gone or unreadable; the record can never
		// upload as captured. Park it for operator review.
		if markErr := s.store.MarkFailed(rec.ID, KindMedia); markErr != nil {
			return Result{ID: rec.ID, Kind: KindTransient, Err: markErr}
		}
		return Result{ID: rec.ID, Kind: KindMedia, Err: err}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := s.uploader.SubmitLoading(uploadCtx, payload)
	cancel()

	if err != nil {
		var verr *api.ValidationError
		if errors.As(err, &verr) {
			if markErr := s.store.MarkFailed(rec.ID, KindValidation); markErr != nil {
				return Result{ID: rec.ID, Kind: KindTransient, Err: markErr}
			}
			return Result{ID: rec.ID, Kind: KindValidation, Err: err}
		}
		if attemptErr := s.store.RecordAttempt(rec.ID, KindTransient); attemptErr != nil {
			return Result{ID: rec.ID, Kind: KindTransient, Err: attemptErr}
		}
		return Result{ID: rec.ID, Kind: KindTransient, Err: err}
	}

	// Duplicate means a prior attempt landed before the confirmation got
	// back to us. The server holds the record either way.
	if err := s.store.Remove(rec.ID); err != nil {
		return Result{ID: rec.ID, Kind: KindTransient, Err: fmt.Errorf("remove synced record: %w", err)}
	}
	s.releaseMedia(rec)

	return Result{ID: rec.ID, Synced: true, Duplicate: resp.Duplicate}
}

// buildRequest inlines the on-disk evidence and signature into the wire
// payload.
func (s *Syncer) buildRequest(rec *store.Record) (*models.SyncLoadingRequest, error) {
	evidence := make([]models.SyncEvidence, 0, len(rec.Evidence))
	for _, ev := range rec.Evidence {
		data, err := os.ReadFile(ev.Path)
		if err != nil {
			return nil, fmt.Errorf("read evidence %s: %w", ev.Path, err)
		}
		evidence = append(evidence, models.SyncEvidence{
			Category: string(ev.Category),
			Base64:   base64.StdEncoding.EncodeToString(data),
			MimeType: ev.MimeType,
		})
	}

	req := &models.SyncLoadingRequest{
		ID:              rec.ID.String(),
		PumpID:          rec.PumpID.String(),
		MeterDeviceID:   rec.MeterDeviceID.String(),
		VehicleID:       rec.VehicleID.String(),
		InitialReading:  rec.InitialReading,
		FinalReading:    rec.FinalReading,
		VolumeDelivered: rec.VolumeDelivered,
		MeterValue:      rec.MeterValue,
		Outcome:         string(rec.Outcome),
		DeviceID:        s.deviceID,
		Latitude:        rec.Latitude,
		Longitude:       rec.Longitude,
		StartedAt:       rec.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt:     rec.CompletedAt.UTC().Format(time.RFC3339),
		Evidence:        evidence,
		Signature: models.SyncSignature{
			SignerName: rec.SignerName,
			Base64:     base64.StdEncoding.EncodeToString(rec.SignatureImage),
		},
	}
	if rec.Justification != "" {
		j := rec.Justification
		req.Justification = &j
	}
	return req, nil
}

// releaseMedia deletes the local evidence files once the server holds
// the record. Best effort; a leftover file is reclaimed disk space, not
// a correctness problem.
func (s *Syncer) releaseMedia(rec *store.Record) {
	for _, ev := range rec.Evidence {
		os.Remove(ev.Path)
	}
}
