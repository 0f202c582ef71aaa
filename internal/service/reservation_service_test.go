package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/bethesda-shelter/bedline/internal/domain"
)

var codeShape = regexp.MustCompile(`^BM-\d{4}$`)

func newTestLedger(t *testing.T, totalBeds int) (*fakeBackend, *reservationService) {
	t.Helper()
	f := newFakeBackend(totalBeds)
	svc := NewReservationService(f, f, f, callLogRepo{f}, f, 3*time.Hour).(*reservationService)
	return f, svc
}

// assertConservation checks that every bed is accounted for exactly once.
func assertConservation(t *testing.T, f *fakeBackend, total int) {
	t.Helper()
	s, _ := f.Summary(context.Background())
	if s.Available+s.Held+s.Occupied != total {
		t.Fatalf("conservation violated: %d + %d + %d != %d", s.Available, s.Held, s.Occupied, total)
	}
}

func TestCreateReservation_FirstAvailableBed(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	res, err := svc.Create(context.Background(), &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if res.BedNumber != 1 {
		t.Errorf("bed = %d, want 1", res.BedNumber)
	}
	if res.Status != domain.ReservationActive {
		t.Errorf("status = %s, want active", res.Status)
	}
	if !codeShape.MatchString(res.ConfirmationCode) {
		t.Errorf("confirmation code %q does not match BM-NNNN", res.ConfirmationCode)
	}
	if !res.ExpiresAt.Equal(now.Add(3 * time.Hour)) {
		t.Errorf("expires_at = %v, want created_at + 3h", res.ExpiresAt)
	}
	if f.beds[1] != domain.BedHeld {
		t.Errorf("bed 1 = %s, want held", f.beds[1])
	}
	if len(f.callLogs) != 1 {
		t.Errorf("call logs = %d, want 1", len(f.callLogs))
	}
	assertConservation(t, f, domain.TotalBeds)
}

func TestCreateReservation_SameCallerRejected(t *testing.T) {
	_, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	if _, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if !errors.Is(err, domain.ErrAlreadyReserved) {
		t.Fatalf("second create: got %v, want ErrAlreadyReserved", err)
	}
}

func TestCreateReservation_DistinctCallersGetDistinctBeds(t *testing.T) {
	_, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	resA, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	resB, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashB"})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	if resA.BedNumber != 1 || resB.BedNumber != 2 {
		t.Errorf("beds = %d, %d; want 1, 2", resA.BedNumber, resB.BedNumber)
	}
}

func TestCreateReservation_PoolExhaustion(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	seen := make(map[int]bool)
	for i := 1; i <= domain.TotalBeds; i++ {
		res, err := svc.Create(ctx, &domain.ReservationCreateReq{
			HolderFingerprint: fmt.Sprintf("hash-%d", i),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[res.BedNumber] {
			t.Fatalf("bed %d allocated twice", res.BedNumber)
		}
		seen[res.BedNumber] = true
	}

	_, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hash-overflow"})
	if !errors.Is(err, domain.ErrNoBedsAvailable) {
		t.Fatalf("109th create: got %v, want ErrNoBedsAvailable", err)
	}

	s, _ := f.Summary(ctx)
	if s.Available != 0 || s.Held != domain.TotalBeds || s.Occupied != 0 {
		t.Errorf("summary = %+v, want {0, 108, 0, 108}", s)
	}
}

func TestCreateReservation_RollbackReleasesBed(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	f.failCallLogInsert = errors.New("disk full")

	_, err := svc.Create(context.Background(), &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err == nil {
		t.Fatal("create should fail when the call log insert fails")
	}

	// The rollback must leave no held bed and no reservation row behind.
	if f.beds[1] != domain.BedAvailable {
		t.Errorf("bed 1 = %s, want available after rollback", f.beds[1])
	}
	if len(f.reservations) != 0 {
		t.Errorf("reservations = %d, want 0 after rollback", len(f.reservations))
	}
	assertConservation(t, f, domain.TotalBeds)
}

func TestCancelReservation(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	res, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Cancel(ctx, res.ReservationID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.beds[res.BedNumber] != domain.BedAvailable {
		t.Errorf("bed %d = %s, want available", res.BedNumber, f.beds[res.BedNumber])
	}
	if f.reservations[res.ReservationID].Status != domain.ReservationCancelled {
		t.Errorf("status = %s, want cancelled", f.reservations[res.ReservationID].Status)
	}

	// Cancelled is terminal: a second cancel fails.
	if err := svc.Cancel(ctx, res.ReservationID); !errors.Is(err, domain.ErrReservationNotActive) {
		t.Fatalf("second cancel: got %v, want ErrReservationNotActive", err)
	}

	// And the holder can book again.
	if _, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"}); err != nil {
		t.Fatalf("re-create after cancel: %v", err)
	}
	assertConservation(t, f, domain.TotalBeds)
}

func TestCancelReservation_Unknown(t *testing.T) {
	_, svc := newTestLedger(t, domain.TotalBeds)

	err := svc.Cancel(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("got %v, want ErrReservationNotFound", err)
	}
}

func TestExpireOld_ReclaimsOnlyLapsedHolds(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	resA, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	resB, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashB"})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	// Push A past its deadline; B stays in the future.
	f.reservations[resA.ReservationID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	count, err := svc.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired = %d, want 1", count)
	}
	if f.beds[resA.BedNumber] != domain.BedAvailable {
		t.Errorf("bed %d = %s, want available", resA.BedNumber, f.beds[resA.BedNumber])
	}
	if f.reservations[resA.ReservationID].Status != domain.ReservationExpired {
		t.Errorf("A status = %s, want expired", f.reservations[resA.ReservationID].Status)
	}
	if f.beds[resB.BedNumber] != domain.BedHeld {
		t.Errorf("bed %d = %s, want still held", resB.BedNumber, f.beds[resB.BedNumber])
	}

	// Idempotent: an immediate second sweep finds nothing.
	count, err = svc.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep expired = %d, want 0", count)
	}

	// The holder whose hold lapsed can reserve again, lowest bed first.
	res, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("re-create after expiry: %v", err)
	}
	if res.BedNumber != resA.BedNumber {
		t.Errorf("re-created bed = %d, want lowest free bed %d", res.BedNumber, resA.BedNumber)
	}
	assertConservation(t, f, domain.TotalBeds)
}

// A checked-in reservation is history, not a block: after the guest checks
// out, the same bed must be claimable again, by anyone.
func TestBedReusableAfterCheckOutCycle(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	bedSvc := NewBedService(f, f, f, f)
	ctx := context.Background()

	res, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bedSvc.CheckIn(ctx, res.BedNumber, res.ReservationID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if err := bedSvc.CheckOut(ctx, res.BedNumber); err != nil {
		t.Fatalf("check-out: %v", err)
	}

	// Same holder: the checked_in row is terminal, so hashA may book again.
	again, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("re-create after check-out: %v", err)
	}
	if again.BedNumber != res.BedNumber {
		t.Errorf("re-created bed = %d, want the freed bed %d", again.BedNumber, res.BedNumber)
	}

	// And a full second cycle still works.
	if err := bedSvc.CheckIn(ctx, again.BedNumber, again.ReservationID); err != nil {
		t.Fatalf("second check-in: %v", err)
	}
	if err := bedSvc.CheckOut(ctx, again.BedNumber); err != nil {
		t.Fatalf("second check-out: %v", err)
	}
	if _, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashB"}); err != nil {
		t.Fatalf("create after second cycle: %v", err)
	}
	assertConservation(t, f, domain.TotalBeds)
}

func TestGetReservation(t *testing.T) {
	_, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	res, err := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	detail, err := svc.Get(ctx, res.ReservationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.BedNumber != res.BedNumber {
		t.Errorf("bed = %d, want %d", detail.BedNumber, res.BedNumber)
	}
	if detail.TimeRemainingMinutes <= 0 {
		t.Errorf("time remaining = %d, want > 0", detail.TimeRemainingMinutes)
	}

	if _, err := svc.Get(ctx, "11111111-1111-1111-1111-111111111111"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("unknown get: got %v, want ErrReservationNotFound", err)
	}
}

func TestListActive_SoonestExpiringFirst(t *testing.T) {
	f, svc := newTestLedger(t, domain.TotalBeds)
	ctx := context.Background()

	resA, _ := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashA"})
	resB, _ := svc.Create(ctx, &domain.ReservationCreateReq{HolderFingerprint: "hashB"})

	// Make B expire before A.
	f.reservations[resB.ReservationID].ExpiresAt = f.reservations[resA.ReservationID].ExpiresAt.Add(-time.Hour)

	list, err := svc.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ReservationID != resB.ReservationID {
		t.Errorf("first entry = %s, want soonest-expiring %s", list[0].ReservationID, resB.ReservationID)
	}
}

func TestConfirmationCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		if code := newConfirmationCode(); !codeShape.MatchString(code) {
			t.Fatalf("code %q does not match BM-NNNN", code)
		}
	}
}
