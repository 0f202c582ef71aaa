package service

import (
	"context"
	"time"

	"github.com/bethesda-shelter/bedline/internal/domain"
	"github.com/bethesda-shelter/bedline/internal/repo/postgres"
	"github.com/bethesda-shelter/bedline/pkg/events"
	"github.com/bethesda-shelter/bedline/pkg/logger"
)

// BedService fronts the bed registry for the HTTP layer. All bed-status
// mutation funnels through the registry repo so concurrent transitions on
// the same bed resolve in one place.
type BedService interface {
	Summary(ctx context.Context) (*domain.BedSummary, error)
	ListDetailed(ctx context.Context) ([]domain.BedDetail, error)
	Status(ctx context.Context, bedNumber int) (domain.BedStatus, error)
	AvailableCount(ctx context.Context) (int, error)
	Hold(ctx context.Context, bedNumber int) error
	CheckIn(ctx context.Context, bedNumber int, reservationID string) error
	CheckOut(ctx context.Context, bedNumber int) error
	ForceAvailable(ctx context.Context, bedNumber int) error
	SimulateOccupancy(ctx context.Context, available int) error
}

type bedService struct {
	store    postgres.TxRunner
	bedRepo  postgres.BedRepo
	resRepo  postgres.ReservationRepo
	eventBus events.Publisher
}

func NewBedService(
	store postgres.TxRunner,
	bedRepo postgres.BedRepo,
	resRepo postgres.ReservationRepo,
	eventBus events.Publisher,
) BedService {
	return &bedService{
		store:    store,
		bedRepo:  bedRepo,
		resRepo:  resRepo,
		eventBus: eventBus,
	}
}

func (s *bedService) Summary(ctx context.Context) (*domain.BedSummary, error) {
	return s.bedRepo.Summary(ctx)
}

func (s *bedService) ListDetailed(ctx context.Context) ([]domain.BedDetail, error) {
	return s.bedRepo.ListDetailed(ctx)
}

func (s *bedService) Status(ctx context.Context, bedNumber int) (domain.BedStatus, error) {
	return s.bedRepo.Status(ctx, bedNumber)
}

func (s *bedService) AvailableCount(ctx context.Context) (int, error) {
	return s.bedRepo.AvailableCount(ctx)
}

func (s *bedService) Hold(ctx context.Context, bedNumber int) error {
	return s.bedRepo.Hold(ctx, bedNumber)
}

// CheckIn moves a bed to occupied. With a reservation id it validates the
// reservation is active and bound to this bed, then converts it; without
// one it is a walk-in (or a manual-hold conversion). Reservation and bed
// flip in the same transaction.
func (s *bedService) CheckIn(ctx context.Context, bedNumber int, reservationID string) error {
	now := time.Now().UTC()

	err := s.store.WithTx(ctx, func(q postgres.Querier) error {
		if reservationID == "" {
			// Walk-in, or staff converting a manual hold. A bed held by an
			// active reservation must be checked in with its id, otherwise
			// the reservation would stay active on an occupied bed and the
			// expiry sweep would fight over it.
			held, err := s.resRepo.LockActiveByBed(ctx, q, bedNumber)
			if err != nil {
				return err
			}
			if held != nil {
				return domain.ErrBedNotAvailable
			}
			return s.bedRepo.Occupy(ctx, q, bedNumber, domain.BedAvailable, domain.BedHeld)
		}

		if _, err := s.resRepo.LockActiveForBed(ctx, q, reservationID, bedNumber); err != nil {
			return err
		}
		if err := s.resRepo.MarkCheckedIn(ctx, q, reservationID, now); err != nil {
			return err
		}
		return s.bedRepo.Occupy(ctx, q, bedNumber, domain.BedHeld)
	})
	if err != nil {
		return err
	}

	event := events.BedCheckedInEvent{
		BedNumber:     bedNumber,
		ReservationID: reservationID,
		CheckedInAt:   now,
	}
	if err := s.eventBus.Publish(ctx, events.BedCheckedIn, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish check-in event", "error", err, "bed_number", bedNumber)
	}
	return nil
}

func (s *bedService) CheckOut(ctx context.Context, bedNumber int) error {
	if err := s.bedRepo.CheckOut(ctx, bedNumber); err != nil {
		return err
	}

	event := events.BedCheckedOutEvent{
		BedNumber:    bedNumber,
		CheckedOutAt: time.Now().UTC(),
	}
	if err := s.eventBus.Publish(ctx, events.BedCheckedOut, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish check-out event", "error", err, "bed_number", bedNumber)
	}
	return nil
}

func (s *bedService) ForceAvailable(ctx context.Context, bedNumber int) error {
	logger.WarnContext(ctx, "Bed forced available by admin", "bed_number", bedNumber)
	return s.bedRepo.ForceAvailable(ctx, bedNumber)
}

func (s *bedService) SimulateOccupancy(ctx context.Context, available int) error {
	logger.WarnContext(ctx, "Simulating bed occupancy", "available", available)
	return s.bedRepo.SimulateOccupancy(ctx, available)
}
