// Package device abstracts the wireless flow meter attached to a pump.
// The real hardware speaks Bluetooth; the Simulator stands in for it in
// development and tests behind the same interface.
package device

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Reading is one interim report from the meter while fuel is flowing.
type Reading struct {
	TotalLiters float64   // cumulative register value
	FlowRate    float64   // liters per second; 0 means flow stopped
	At          time.Time
}

// Device is the meter capability used during the measuring phase.
//
// StartMeasurement captures the register value at flow start. Readings
// emits interim readings until flow stops or ctx is cancelled; the channel
// is informational only and may be restarted after a reconnect.
// StopMeasurement halts the flow and returns the final register value.
type Device interface {
	StartMeasurement(ctx context.Context) (initial float64, err error)
	Readings(ctx context.Context) <-chan Reading
	StopMeasurement() (final float64, err error)
}

var ErrNotMeasuring = errors.New("device: no measurement in progress")

// Simulator is a timer-driven Device that delivers fuel at a fixed rate
// until TotalVolume is reached.
type Simulator struct {
	InitialReading float64
	FlowRate       float64       // liters per second
	Interval       time.Duration // reading cadence
	TotalVolume    float64       // flow stops after delivering this much

	mu        sync.Mutex
	measuring bool
	startedAt time.Time
}

func (s *Simulator) StartMeasurement(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measuring = true
	s.startedAt = time.Now()
	return s.InitialReading, nil
}

func (s *Simulator) Readings(ctx context.Context) <-chan Reading {
	ch := make(chan Reading)
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				delivered, done := s.deliveredAt(now)
				reading := Reading{
					TotalLiters: s.InitialReading + delivered,
					FlowRate:    s.FlowRate,
					At:          now,
				}
				if done {
					reading.FlowRate = 0
				}
				select {
				case ch <- reading:
				case <-ctx.Done():
					return
				}
				if done {
					return
				}
			}
		}
	}()

	return ch
}

func (s *Simulator) StopMeasurement() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.measuring {
		return 0, ErrNotMeasuring
	}
	s.measuring = false
	delivered, _ := s.deliveredAtLocked(time.Now())
	return s.InitialReading + delivered, nil
}

func (s *Simulator) deliveredAt(now time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveredAtLocked(now)
}

func (s *Simulator) deliveredAtLocked(now time.Time) (float64, bool) {
	if s.startedAt.IsZero() {
		return 0, true
	}
	delivered := now.Sub(s.startedAt).Seconds() * s.FlowRate
	if s.TotalVolume > 0 && delivered >= s.TotalVolume {
		return s.TotalVolume, true
	}
	return delivered, false
}
