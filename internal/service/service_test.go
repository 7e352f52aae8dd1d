package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/store/memory"
)

const seededCode = "DW4k9QxZ"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, nil, "https://app.example.test/signup", 0, 0)
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func resellerCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "reseller"})
}

func recordReferral(t *testing.T, svc *Service, req domain.ReferralCreateRequest) *domain.Referral {
	t.Helper()
	referral, err := svc.RecordReferral(adminCtx(), req)
	if err != nil {
		t.Fatalf("RecordReferral: %v", err)
	}
	if referral == nil {
		t.Fatal("RecordReferral returned nil for a known code")
	}
	return referral
}

func TestRecordReferralCommissionPolicy(t *testing.T) {
	cases := []struct {
		name      string
		conv      string
		explicit  int64
		wantCents int64
	}{
		{name: "signup defaults to bonus", conv: domain.ConversionSignup, explicit: 0, wantCents: domain.DefaultSignupBonusCents},
		{name: "signup explicit amount wins", conv: domain.ConversionSignup, explicit: 999, wantCents: 999},
		{name: "purchase without amount earns nothing", conv: domain.ConversionPurchase, explicit: 0, wantCents: 0},
		{name: "purchase explicit amount", conv: domain.ConversionPurchase, explicit: 1250, wantCents: 1250},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			referral := recordReferral(t, svc, domain.ReferralCreateRequest{
				ReferralCode:    seededCode,
				ReferredUserID:  "user-" + tc.name,
				ConversionType:  tc.conv,
				CommissionCents: tc.explicit,
			})
			if referral.CommissionCents != tc.wantCents {
				t.Fatalf("commission = %d, want %d", referral.CommissionCents, tc.wantCents)
			}
			if referral.CommissionStatus != domain.CommissionPending {
				t.Fatalf("new referrals must start pending, got %q", referral.CommissionStatus)
			}
			if referral.Details.Type != tc.conv {
				t.Fatalf("details type = %q, want %q", referral.Details.Type, tc.conv)
			}
		})
	}
}

func TestRecordReferralUnknownCodeIsSilentlyDropped(t *testing.T) {
	svc, _ := newTestService(t)

	referral, err := svc.RecordReferral(adminCtx(), domain.ReferralCreateRequest{
		ReferralCode:   "NoSuch01",
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	if err != nil {
		t.Fatalf("unknown code must not fail the caller's flow: %v", err)
	}
	if referral != nil {
		t.Fatalf("expected no referral recorded, got %+v", referral)
	}
}

func TestRecordReferralValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordReferral(adminCtx(), domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ConversionType: domain.ConversionSignup,
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("missing referred user should fail validation, got %v", err)
	}
}

func TestCreateProfileResolvesUpline(t *testing.T) {
	svc, repo := newTestService(t)

	profile, err := svc.CreateProfile(resellerCtx("agus"), "agus", seededCode)
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if profile.UplineResellerID == nil {
		t.Fatal("expected upline linkage to dewi")
	}

	dewi, err := repo.GetResellerByCode(context.Background(), seededCode)
	if err != nil {
		t.Fatalf("GetResellerByCode: %v", err)
	}
	if *profile.UplineResellerID != dewi.ID {
		t.Fatalf("upline = %q, want %q", *profile.UplineResellerID, dewi.ID)
	}
	if len(profile.ReferralCode) != 8 {
		t.Fatalf("referral code %q is not 8 characters", profile.ReferralCode)
	}
	if profile.Status != domain.ResellerStatusActive {
		t.Fatalf("new profiles should be active, got %q", profile.Status)
	}
}

func TestCreateProfileUnknownUplineIsSkipped(t *testing.T) {
	svc, _ := newTestService(t)

	profile, err := svc.CreateProfile(resellerCtx("agus"), "agus", "Bogus123")
	if err != nil {
		t.Fatalf("unknown upline code must not fail profile creation: %v", err)
	}
	if profile.UplineResellerID != nil {
		t.Fatalf("expected no upline, got %q", *profile.UplineResellerID)
	}
}

func TestCreateProfileRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProfile(resellerCtx("dewi"), "dewi", "")
	if !errors.Is(err, store.ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
}

// collideRepo makes CreateReseller fail with a code collision a fixed number
// of times before delegating to the real store.
type collideRepo struct {
	store.Repository
	failures int
	calls    int
}

func (r *collideRepo) CreateReseller(ctx context.Context, profile domain.ResellerProfile) (*domain.ResellerProfile, error) {
	r.calls++
	if r.calls <= r.failures {
		return nil, store.ErrCodeTaken
	}
	return r.Repository.CreateReseller(ctx, profile)
}

func TestCreateProfileRetriesOnCodeCollision(t *testing.T) {
	repo := &collideRepo{Repository: memory.NewSeeded(), failures: 2}
	svc := New(repo, nil, "", 0, 0)

	profile, err := svc.CreateProfile(resellerCtx("agus"), "agus", "")
	if err != nil {
		t.Fatalf("CreateProfile after collisions: %v", err)
	}
	if profile == nil || profile.ReferralCode == "" {
		t.Fatal("expected a created profile with a fresh code")
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.calls)
	}
}

func TestCreateProfileGivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &collideRepo{Repository: memory.NewSeeded(), failures: 100}
	svc := New(repo, nil, "", 0, 0)

	_, err := svc.CreateProfile(resellerCtx("agus"), "agus", "")
	if !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("expected ErrCodeGenerationExhausted, got %v", err)
	}
	if repo.calls != codeRetryLimit {
		t.Fatalf("expected exactly %d attempts, got %d", codeRetryLimit, repo.calls)
	}
}

func TestGetProfileWithoutProfileReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	profile, err := svc.GetProfile(resellerCtx("agus"), "agus")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile != nil {
		t.Fatalf("expected nil profile, got %+v", profile)
	}
}

func TestDecideCommission(t *testing.T) {
	svc, _ := newTestService(t)
	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})

	decided, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionApproved)
	if err != nil {
		t.Fatalf("DecideCommission: %v", err)
	}
	if decided.CommissionStatus != domain.CommissionApproved {
		t.Fatalf("status = %q, want approved", decided.CommissionStatus)
	}
	if decided.DecidedBy != "admin" {
		t.Fatalf("decided_by = %q, want admin", decided.DecidedBy)
	}

	// A decided commission can never be decided again.
	if _, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionRejected); !errors.Is(err, store.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestDecideCommissionRejectsInvalidDecision(t *testing.T) {
	svc, _ := newTestService(t)
	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})

	if _, err := svc.DecideCommission(adminCtx(), referral.ID, "paid"); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("paid is not a valid decision, got %v", err)
	}
	if _, err := svc.DecideCommission(adminCtx(), "ref-missing", domain.CommissionApproved); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown referral, got %v", err)
	}
}

func TestPayoutFlow(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	first := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	second := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-2",
		ConversionType: domain.ConversionSignup,
	})
	third := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:    seededCode,
		ReferredUserID:  "user-3",
		ConversionType:  domain.ConversionPurchase,
		CommissionCents: 1000,
		Details:         domain.ConversionDetails{OrderID: "ord-77", AmountCents: 10000},
	})

	for _, id := range []string{first.ID, second.ID, third.ID} {
		if _, err := svc.DecideCommission(adminCtx(), id, domain.CommissionApproved); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}

	payable, err := svc.ApprovedUnpaid(adminCtx(), dewi.ID)
	if err != nil {
		t.Fatalf("ApprovedUnpaid: %v", err)
	}
	if len(payable) != 3 {
		t.Fatalf("payable = %d rows, want 3", len(payable))
	}

	payout, err := svc.CreatePayout(adminCtx(), domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   2000,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{first.ID, second.ID, third.ID},
	})
	if err != nil {
		t.Fatalf("CreatePayout: %v", err)
	}
	if payout.Status != domain.PayoutCompleted {
		t.Fatalf("payout status = %q, want completed", payout.Status)
	}
	if payout.TransactionReference == "" {
		t.Fatal("expected a generated transaction reference")
	}
	if payout.ProcessedBy != "admin" {
		t.Fatalf("processed_by = %q, want admin", payout.ProcessedBy)
	}

	// The payable view must drain once the batch is settled.
	payable, err = svc.ApprovedUnpaid(adminCtx(), dewi.ID)
	if err != nil {
		t.Fatalf("ApprovedUnpaid after payout: %v", err)
	}
	if len(payable) != 0 {
		t.Fatalf("payable after payout = %d rows, want 0", len(payable))
	}

	referrals, err := svc.MyReferrals(resellerCtx("dewi"), "dewi")
	if err != nil {
		t.Fatalf("MyReferrals: %v", err)
	}
	for _, referral := range referrals {
		if referral.CommissionStatus != domain.CommissionPaid {
			t.Fatalf("referral %s status = %q, want paid", referral.ID, referral.CommissionStatus)
		}
		if referral.PayoutID == nil || *referral.PayoutID != payout.ID {
			t.Fatalf("referral %s not linked to payout %s", referral.ID, payout.ID)
		}
	}

	payouts, err := svc.MyPayouts(resellerCtx("dewi"), "dewi")
	if err != nil {
		t.Fatalf("MyPayouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].AmountCents != 2000 {
		t.Fatalf("unexpected payouts %+v", payouts)
	}
}

func TestCreatePayoutRejectsAmountMismatch(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	if _, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := svc.CreatePayout(adminCtx(), domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   9999,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{referral.ID},
	})
	if !errors.Is(err, store.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	// The failed batch must leave the referral untouched.
	payable, _ := svc.ApprovedUnpaid(adminCtx(), dewi.ID)
	if len(payable) != 1 {
		t.Fatalf("referral should still be payable, got %d rows", len(payable))
	}
}

func TestCreatePayoutRejectsUndecidedReferrals(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	pending := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})

	_, err := svc.CreatePayout(adminCtx(), domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   500,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{pending.ID},
	})
	if !errors.Is(err, store.ErrReferralUnavailable) {
		t.Fatalf("pending referrals must not be payable, got %v", err)
	}
}

func TestCreatePayoutRejectsDoubleSettlement(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	if _, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	req := domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   500,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{referral.ID},
	}
	if _, err := svc.CreatePayout(adminCtx(), req); err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if _, err := svc.CreatePayout(adminCtx(), req); !errors.Is(err, store.ErrReferralUnavailable) {
		t.Fatalf("a paid referral must never settle twice, got %v", err)
	}
}

func TestUpdatePayoutStatus(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	if _, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	payout, err := svc.CreatePayout(adminCtx(), domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   500,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{referral.ID},
	})
	if err != nil {
		t.Fatalf("CreatePayout: %v", err)
	}

	// Completed is terminal.
	if _, err := svc.UpdatePayoutStatus(adminCtx(), payout.ID, domain.PayoutStatusUpdateRequest{Status: domain.PayoutProcessing}); !errors.Is(err, store.ErrInvalidStatus) {
		t.Fatalf("completed payouts must not change status, got %v", err)
	}
	if _, err := svc.UpdatePayoutStatus(adminCtx(), payout.ID, domain.PayoutStatusUpdateRequest{Status: "refunded"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("unknown status must be rejected, got %v", err)
	}
}

func TestPayableResellersWorklist(t *testing.T) {
	svc, repo := newTestService(t)
	dewi, _ := repo.GetResellerByCode(context.Background(), seededCode)

	first := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	second := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:    seededCode,
		ReferredUserID:  "user-2",
		ConversionType:  domain.ConversionPurchase,
		CommissionCents: 1500,
	})
	for _, id := range []string{first.ID, second.ID} {
		if _, err := svc.DecideCommission(adminCtx(), id, domain.CommissionApproved); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}

	worklist, err := svc.PayableResellers(adminCtx())
	if err != nil {
		t.Fatalf("PayableResellers: %v", err)
	}
	if len(worklist) != 1 {
		t.Fatalf("worklist = %d entries, want 1", len(worklist))
	}
	entry := worklist[0]
	if entry.ResellerID != dewi.ID || entry.PayableCents != 2000 || entry.PayableCount != 2 {
		t.Fatalf("unexpected worklist entry %+v", entry)
	}

	// Settling the batch empties the worklist.
	if _, err := svc.CreatePayout(adminCtx(), domain.PayoutCreateRequest{
		ResellerID:    dewi.ID,
		AmountCents:   2000,
		PaymentMethod: "bank_transfer",
		ReferralIDs:   []string{first.ID, second.ID},
	}); err != nil {
		t.Fatalf("CreatePayout: %v", err)
	}
	worklist, err = svc.PayableResellers(adminCtx())
	if err != nil {
		t.Fatalf("PayableResellers after payout: %v", err)
	}
	if len(worklist) != 0 {
		t.Fatalf("worklist should be empty after payout, got %+v", worklist)
	}
}

func TestDashboardSummaryWithoutProfile(t *testing.T) {
	svc, _ := newTestService(t)

	summary, err := svc.DashboardSummary(resellerCtx("agus"), "agus")
	if err != nil {
		t.Fatalf("DashboardSummary: %v", err)
	}
	if summary.ReferralLink != domain.ReferralLinkUnavailable {
		t.Fatalf("link = %q, want %q", summary.ReferralLink, domain.ReferralLinkUnavailable)
	}
	if summary.TotalReferrals != 0 || summary.PendingCommissionCents != 0 || summary.PaidCommissionCents != 0 {
		t.Fatalf("expected zeroed summary, got %+v", summary)
	}
}

func TestDashboardSummaryWithProfile(t *testing.T) {
	svc, _ := newTestService(t)

	referral := recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})
	if _, err := svc.DecideCommission(adminCtx(), referral.ID, domain.CommissionApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	summary, err := svc.DashboardSummary(resellerCtx("dewi"), "dewi")
	if err != nil {
		t.Fatalf("DashboardSummary: %v", err)
	}
	if summary.TotalReferrals != 1 || summary.ConvertedReferrals != 1 {
		t.Fatalf("unexpected counts in %+v", summary)
	}
	if summary.PendingCommissionCents != domain.DefaultSignupBonusCents {
		t.Fatalf("pending = %d, want %d", summary.PendingCommissionCents, domain.DefaultSignupBonusCents)
	}
	if !strings.Contains(summary.ReferralLink, "ref="+seededCode) {
		t.Fatalf("link %q does not carry the referral code", summary.ReferralLink)
	}
}

func TestMyListsWithoutProfileAreEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	referrals, err := svc.MyReferrals(resellerCtx("agus"), "agus")
	if err != nil {
		t.Fatalf("MyReferrals: %v", err)
	}
	if len(referrals) != 0 {
		t.Fatalf("expected no referrals, got %d", len(referrals))
	}

	payouts, err := svc.MyPayouts(resellerCtx("agus"), "agus")
	if err != nil {
		t.Fatalf("MyPayouts: %v", err)
	}
	if len(payouts) != 0 {
		t.Fatalf("expected no payouts, got %d", len(payouts))
	}
}

func TestReferralQR(t *testing.T) {
	svc, _ := newTestService(t)

	png, err := svc.ReferralQR(resellerCtx("dewi"), "dewi")
	if err != nil {
		t.Fatalf("ReferralQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("expected PNG output")
	}

	if _, err := svc.ReferralQR(resellerCtx("agus"), "agus"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("QR without a profile should be ErrNotFound, got %v", err)
	}
}

func TestAuthorizationBoundaries(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.PendingCommissions(resellerCtx("dewi")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("resellers must not see the review queue, got %v", err)
	}
	if _, err := svc.GetProfile(resellerCtx("agus"), "dewi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("resellers must not read other profiles, got %v", err)
	}
	if _, err := svc.GetProfile(context.Background(), "dewi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("missing actor must be forbidden, got %v", err)
	}
	if _, err := svc.GetProfile(adminCtx(), "dewi"); err != nil {
		t.Fatalf("admins may read any profile: %v", err)
	}
}

func TestExportLedgerProducesWorkbook(t *testing.T) {
	svc, _ := newTestService(t)

	recordReferral(t, svc, domain.ReferralCreateRequest{
		ReferralCode:   seededCode,
		ReferredUserID: "user-1",
		ConversionType: domain.ConversionSignup,
	})

	workbook, err := svc.ExportLedger(adminCtx())
	if err != nil {
		t.Fatalf("ExportLedger: %v", err)
	}
	// xlsx files are zip archives.
	if !bytes.HasPrefix(workbook, []byte("PK")) {
		t.Fatal("expected an xlsx (zip) payload")
	}
}
