package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/bethesda-shelter/bedline/internal/domain"
	"github.com/bethesda-shelter/bedline/internal/repo/postgres"
	"github.com/bethesda-shelter/bedline/pkg/events"
	"github.com/bethesda-shelter/bedline/pkg/logger"
)

// ReservationService owns reservation identity and the fairness contract:
// lowest free bed wins, one active reservation per caller, holds expire.
type ReservationService interface {
	Create(ctx context.Context, req *domain.ReservationCreateReq) (*domain.ReservationCreateRes, error)
	Get(ctx context.Context, id string) (*domain.ReservationDetail, error)
	Cancel(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]domain.ReservationDetail, error)
	ExpireOld(ctx context.Context) (int, error)
}

type reservationService struct {
	store        postgres.TxRunner
	bedRepo      postgres.BedRepo
	resRepo      postgres.ReservationRepo
	callLogRepo  postgres.CallLogRepo
	eventBus     events.Publisher
	holdDuration time.Duration
	now          func() time.Time
}

func NewReservationService(
	store postgres.TxRunner,
	bedRepo postgres.BedRepo,
	resRepo postgres.ReservationRepo,
	callLogRepo postgres.CallLogRepo,
	eventBus events.Publisher,
	holdDuration time.Duration,
) ReservationService {
	return &reservationService{
		store:        store,
		bedRepo:      bedRepo,
		resRepo:      resRepo,
		callLogRepo:  callLogRepo,
		eventBus:     eventBus,
		holdDuration: holdDuration,
		now:          time.Now,
	}
}

// newConfirmationCode returns a short phone-friendly code. It is a
// convenience string for spoken confirmation, not a lookup key, so
// collisions between reservations are fine.
func newConfirmationCode() string {
	return fmt.Sprintf("BM-%04d", rand.Intn(9000)+1000)
}

// Create claims the lowest available bed and persists the reservation in a
// single transaction. If anything fails after the claim, the rollback
// returns the bed to available; a failed create can never strand a bed in
// held with no owning reservation.
func (s *reservationService) Create(ctx context.Context, req *domain.ReservationCreateReq) (*domain.ReservationCreateRes, error) {
	existing, err := s.resRepo.ActiveByHolder(ctx, req.HolderFingerprint)
	if err != nil {
		return nil, fmt.Errorf("check existing reservation: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrAlreadyReserved
	}

	now := s.now().UTC()
	reservation := &domain.Reservation{
		ReservationID:     uuid.NewString(),
		HolderFingerprint: req.HolderFingerprint,
		HolderName:        req.HolderName,
		Situation:         req.Situation,
		Needs:             req.Needs,
		PreferredLanguage: req.PreferredLanguage,
		ConfirmationCode:  newConfirmationCode(),
		Status:            domain.ReservationActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.holdDuration),
	}

	err = s.store.WithTx(ctx, func(q postgres.Querier) error {
		bedNumber, err := s.bedRepo.ClaimFirstAvailable(ctx, q)
		if err != nil {
			return err
		}
		reservation.BedNumber = bedNumber

		if err := s.resRepo.Insert(ctx, q, reservation); err != nil {
			return err
		}

		// Dashboard visibility even when the caller gave no details.
		log := &domain.CallLog{
			CallerHash:    req.HolderFingerprint,
			Intent:        "make_reservation",
			Summary:       callSummary(req),
			ReservationID: &reservation.ReservationID,
		}
		return s.callLogRepo.Insert(ctx, q, log)
	})
	if err != nil {
		return nil, err
	}

	event := events.ReservationCreatedEvent{
		ReservationID:    reservation.ReservationID,
		BedNumber:        reservation.BedNumber,
		ConfirmationCode: reservation.ConfirmationCode,
		ExpiresAt:        reservation.ExpiresAt,
		CreatedAt:        reservation.CreatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.ReservationCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish reservation created event",
			"error", err, "reservation_id", reservation.ReservationID)
	}

	return &domain.ReservationCreateRes{
		ReservationID:    reservation.ReservationID,
		BedNumber:        reservation.BedNumber,
		Status:           reservation.Status,
		CreatedAt:        reservation.CreatedAt,
		ExpiresAt:        reservation.ExpiresAt,
		ConfirmationCode: reservation.ConfirmationCode,
	}, nil
}

func callSummary(req *domain.ReservationCreateReq) string {
	name := "Voice Caller"
	if req.HolderName != nil && *req.HolderName != "" {
		name = *req.HolderName
	}
	situation := "Not specified"
	if req.Situation != nil && *req.Situation != "" {
		situation = *req.Situation
	}
	needs := "Bed reservation"
	if req.Needs != nil && *req.Needs != "" {
		needs = *req.Needs
	}
	return fmt.Sprintf("Name: %s\nSituation: %s\nNeeds: %s", name, situation, needs)
}

func (s *reservationService) Get(ctx context.Context, id string) (*domain.ReservationDetail, error) {
	reservation, err := s.resRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := reservation.Detail(s.now().UTC())
	return &detail, nil
}

// Cancel releases the bound bed and marks the reservation cancelled in one
// transaction. Only active reservations can be cancelled; terminal statuses
// are final.
func (s *reservationService) Cancel(ctx context.Context, id string) error {
	var bedNumber int

	err := s.store.WithTx(ctx, func(q postgres.Querier) error {
		reservation, err := s.resRepo.LockByID(ctx, q, id)
		if err != nil {
			return err
		}
		if reservation.Status != domain.ReservationActive {
			return domain.ErrReservationNotActive
		}
		bedNumber = reservation.BedNumber

		if err := s.bedRepo.Release(ctx, q, reservation.BedNumber, domain.BedHeld); err != nil {
			return err
		}
		return s.resRepo.SetStatus(ctx, q, id, domain.ReservationCancelled)
	})
	if err != nil {
		return err
	}

	event := events.ReservationCancelledEvent{
		ReservationID: id,
		BedNumber:     bedNumber,
		CancelledAt:   s.now().UTC(),
	}
	if err := s.eventBus.Publish(ctx, events.ReservationCancelled, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish reservation cancelled event",
			"error", err, "reservation_id", id)
	}
	return nil
}

func (s *reservationService) ListActive(ctx context.Context) ([]domain.ReservationDetail, error) {
	reservations, err := s.resRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	details := make([]domain.ReservationDetail, 0, len(reservations))
	for i := range reservations {
		details = append(details, reservations[i].Detail(now))
	}
	return details, nil
}

// ExpireOld reclaims beds from every active reservation whose deadline has
// passed. SKIP LOCKED on the scan makes concurrent sweeps partition the
// work instead of double-releasing; a second run right after processes zero.
func (s *reservationService) ExpireOld(ctx context.Context) (int, error) {
	var expired []domain.Reservation

	err := s.store.WithTx(ctx, func(q postgres.Querier) error {
		reservations, err := s.resRepo.LockExpired(ctx, q, s.now().UTC())
		if err != nil {
			return err
		}

		for i := range reservations {
			r := &reservations[i]
			// Held only: the sweep must never reclaim an occupied bed, no
			// matter what state the ledger drifted into.
			if err := s.bedRepo.Release(ctx, q, r.BedNumber, domain.BedHeld); err != nil {
				return err
			}
			if err := s.resRepo.SetStatus(ctx, q, r.ReservationID, domain.ReservationExpired); err != nil {
				return err
			}
		}
		expired = reservations
		return nil
	})
	if err != nil {
		return 0, err
	}

	expiredAt := s.now().UTC()
	for i := range expired {
		event := events.ReservationExpiredEvent{
			ReservationID: expired[i].ReservationID,
			BedNumber:     expired[i].BedNumber,
			ExpiredAt:     expiredAt,
		}
		if err := s.eventBus.Publish(ctx, events.ReservationExpired, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish reservation expired event",
				"error", err, "reservation_id", expired[i].ReservationID)
		}
	}

	if len(expired) > 0 {
		logger.InfoContext(ctx, "Expired reservations", "count", len(expired))
	}
	return len(expired), nil
}
