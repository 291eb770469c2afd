// Package reservation guards against double-investment into the same trip
// while payment confirmation is in flight. State is process-local and
// in-memory; correctness rests on wall-clock expiry and holder identity,
// not on storage. The cross-tab authority gap this implies is a known
// limitation of the portal, kept rather than papered over.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"investcore/internal/common/events"
)

const (
	// LockTTL is how long an uncompleted trip lock is honored.
	LockTTL = 10 * time.Minute
	// ReservationTTL is how long a payment reservation stays live.
	ReservationTTL = 15 * time.Minute
	// SweepInterval is how often the expiry sweep runs.
	SweepInterval = 60 * time.Second
)

var (
	// ErrTripLocked means another user holds a live lock on the trip.
	ErrTripLocked = errors.New("trip is locked by another user")
	// ErrReservationUnavailable means a reservation cannot be created for
	// the trip right now.
	ErrReservationUnavailable = errors.New("reservation unavailable")
	// ErrReservationNotFound means no live reservation has the given id.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrNotOwner means the caller does not own the reservation.
	ErrNotOwner = errors.New("reservation belongs to another user")
	// ErrNotReserved means the reservation is past the state the operation
	// requires.
	ErrNotReserved = errors.New("reservation is not in a live state")
)

// ReservationStatus is the lifecycle status of a payment reservation.
type ReservationStatus string

const (
	StatusReserved   ReservationStatus = "reserved"
	StatusProcessing ReservationStatus = "processing"
	StatusCompleted  ReservationStatus = "completed"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusExpired    ReservationStatus = "expired"
)

// TripLock is an exclusive hold on a trip.
type TripLock struct {
	TripID     string    `json:"trip_id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Reservation is a time-boxed payment reservation tied to a trip lock.
type Reservation struct {
	ID        string            `json:"id"`
	TripID    string            `json:"trip_id"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Amount    float64           `json:"amount"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Clock supplies the current time. Tests inject a fake to drive expiry.
type Clock func() time.Time

// Service is the in-memory trip lock and reservation registry.
type Service struct {
	mu           sync.Mutex
	locks        map[string]*TripLock
	reservations map[string]*Reservation

	now       Clock
	publisher events.EventPublisher
	logger    *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now Clock) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reservation service.
func NewService(publisher events.EventPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		locks:        make(map[string]*TripLock),
		reservations: make(map[string]*Reservation),
		now:          time.Now,
		publisher:    publisher,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSweeper runs the expiry sweep until the context is cancelled.
func (s *Service) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// IsAvailable reports whether userID may act on the trip: no lock, an
// expired lock (reaped here), or a lock the user already holds.
func (s *Service) IsAvailable(tripID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAvailableLocked(tripID, userID)
}

func (s *Service) isAvailableLocked(tripID, userID string) bool {
	lock, ok := s.locks[tripID]
	if !ok {
		return true
	}
	if s.now().After(lock.ExpiresAt) {
		delete(s.locks, tripID)
		return true
	}
	return lock.UserID == userID
}

// LockTrip acquires or extends an exclusive hold on a trip. Re-locking by
// the current holder slides the expiry and keeps the session id.
func (s *Service) LockTrip(tripID, userID string) (*TripLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockTripLocked(tripID, userID)
}

func (s *Service) lockTripLocked(tripID, userID string) (*TripLock, error) {
	now := s.now()

	if lock, ok := s.locks[tripID]; ok && now.Before(lock.ExpiresAt) {
		if lock.UserID != userID {
			return nil, ErrTripLocked
		}
		lock.ExpiresAt = now.Add(LockTTL)
		cp := *lock
		return &cp, nil
	}

	lock := &TripLock{
		TripID:     tripID,
		UserID:     userID,
		SessionID:  ulid.Make().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(LockTTL),
	}
	s.locks[tripID] = lock

	s.logger.Info("trip locked", "trip_id", tripID, "user_id", userID, "session_id", lock.SessionID)

	cp := *lock
	return &cp, nil
}

// CreateReservation reserves a trip for payment. The trip is (re)locked as
// a side effect; lock and reservation expire independently.
func (s *Service) CreateReservation(tripID, userID string, amount float64) (*Reservation, error) {
	s.mu.Lock()

	if !s.isAvailableLocked(tripID, userID) {
		s.mu.Unlock()
		return nil, ErrReservationUnavailable
	}

	lock, err := s.lockTripLocked(tripID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := s.now()
	res := &Reservation{
		ID:        ulid.Make().String(),
		TripID:    tripID,
		UserID:    userID,
		SessionID: lock.SessionID,
		Amount:    amount,
		Status:    StatusReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(ReservationTTL),
	}
	s.reservations[res.ID] = res
	cp := *res
	s.mu.Unlock()

	s.logger.Info("reservation created",
		"reservation_id", res.ID, "trip_id", tripID, "user_id", userID, "amount", amount)
	s.publish(events.EventReservationCreated, &cp)

	return &cp, nil
}

// BeginProcessing moves an owned reservation from reserved to processing,
// marking that payment has been handed to the gateway.
func (s *Service) BeginProcessing(reservationID, userID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ownedLiveReservation(reservationID, userID)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusReserved {
		return nil, ErrNotReserved
	}

	res.Status = StatusProcessing
	cp := *res
	return &cp, nil
}

// CompleteReservation marks an owned reservation completed and releases the
// trip lock. The record stays until the sweep clears it.
func (s *Service) CompleteReservation(reservationID, userID string) (*Reservation, error) {
	s.mu.Lock()

	res, err := s.ownedLiveReservation(reservationID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	res.Status = StatusCompleted
	s.releaseLockLocked(res.TripID, res.UserID)
	cp := *res
	s.mu.Unlock()

	s.logger.Info("reservation completed", "reservation_id", res.ID, "trip_id", res.TripID)
	s.publish(events.EventReservationCompleted, &cp)

	return &cp, nil
}

// CancelReservation marks an owned reservation cancelled, removes it and
// releases the trip lock.
func (s *Service) CancelReservation(reservationID, userID string) (*Reservation, error) {
	s.mu.Lock()

	res, err := s.ownedLiveReservation(reservationID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	res.Status = StatusCancelled
	delete(s.reservations, res.ID)
	s.releaseLockLocked(res.TripID, res.UserID)
	cp := *res
	s.mu.Unlock()

	s.logger.Info("reservation cancelled", "reservation_id", res.ID, "trip_id", res.TripID)
	s.publish(events.EventReservationCancelled, &cp)

	return &cp, nil
}

// GetReservation returns a copy of a reservation.
func (s *Service) GetReservation(reservationID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

// ReleaseLock drops a trip lock if the user holds it. Used by flows that
// locked without reserving.
func (s *Service) ReleaseLock(tripID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLockLocked(tripID, userID)
}

// Cleanup expires overdue reservations, drops settled ones and reaps
// expired locks, so no trip stays held by an abandoned session.
func (s *Service) Cleanup() {
	now := s.now()

	s.mu.Lock()
	var expired []*Reservation
	for id, res := range s.reservations {
		switch res.Status {
		case StatusReserved, StatusProcessing:
			if now.After(res.ExpiresAt) {
				res.Status = StatusExpired
				delete(s.reservations, id)
				s.releaseLockLocked(res.TripID, res.UserID)
				cp := *res
				expired = append(expired, &cp)
			}
		case StatusCompleted, StatusCancelled, StatusExpired:
			if now.After(res.ExpiresAt) {
				delete(s.reservations, id)
			}
		}
	}
	for tripID, lock := range s.locks {
		if now.After(lock.ExpiresAt) {
			delete(s.locks, tripID)
		}
	}
	s.mu.Unlock()

	for _, res := range expired {
		s.logger.Info("reservation expired",
			"reservation_id", res.ID, "trip_id", res.TripID, "user_id", res.UserID)
		s.publish(events.EventReservationExpired, res)
	}
}

func (s *Service) ownedLiveReservation(reservationID, userID string) (*Reservation, error) {
	res, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.UserID != userID {
		return nil, ErrNotOwner
	}
	switch res.Status {
	case StatusReserved, StatusProcessing:
		return res, nil
	}
	return nil, ErrNotReserved
}

func (s *Service) releaseLockLocked(tripID, userID string) {
	if lock, ok := s.locks[tripID]; ok && lock.UserID == userID {
		delete(s.locks, tripID)
	}
}

func (s *Service) publish(eventType string, res *Reservation) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, res.UserID, "reservation", res.ID, events.ReservationData{
		ReservationID: res.ID,
		TripID:        res.TripID,
		Amount:        res.Amount,
		Status:        string(res.Status),
	})
	if err != nil {
		s.logger.Warn("building reservation event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(context.Background(), event); err != nil {
		s.logger.Warn("publishing reservation event failed", "type", eventType, "error", err)
	}
}
