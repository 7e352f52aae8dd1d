package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"bengkelku/backend/internal/dashboard"
	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/refcode"
	"bengkelku/backend/internal/report"
	"bengkelku/backend/internal/store"
)

var (
	ErrForbidden = errors.New("forbidden")
	// ErrCodeGenerationExhausted is returned when profile creation keeps
	// colliding on referral codes past the retry cap.
	ErrCodeGenerationExhausted = errors.New("referral code generation exhausted")
)

// codeRetryLimit bounds regenerate-and-retry on referral code collisions.
const codeRetryLimit = 5

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo             store.Repository
	board            *dashboard.Engine
	referralBaseURL  string
	signupBonusCents int64
	commissionRate   float64
}

func New(repo store.Repository, board *dashboard.Engine, referralBaseURL string, signupBonusCents int64, commissionRate float64) *Service {
	if board == nil {
		board = dashboard.NewEngine(nil, 0)
	}
	if referralBaseURL == "" {
		referralBaseURL = "https://app.bengkelku.id/signup"
	}
	if signupBonusCents < 1 {
		signupBonusCents = domain.DefaultSignupBonusCents
	}
	if commissionRate <= 0 || commissionRate > 1 {
		commissionRate = domain.DefaultCommissionRate
	}

	return &Service{
		repo:             repo,
		board:            board,
		referralBaseURL:  referralBaseURL,
		signupBonusCents: signupBonusCents,
		commissionRate:   commissionRate,
	}
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Actor{}, fmt.Errorf("admin role required: %w", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) authorizeUser(ctx context.Context, userID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required: %w", ErrForbidden)
	}
	if actor.Role == "admin" || actor.Username == userID {
		return nil
	}
	return fmt.Errorf("cannot act for another user: %w", ErrForbidden)
}

// GetProfile returns nil (not an error) when the user has no reseller
// profile yet.
func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.ResellerProfile, error) {
	if err := s.authorizeUser(ctx, userID); err != nil {
		return nil, err
	}

	profile, err := s.repo.GetResellerByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateProfile opts a user into reselling. An upline code that does not
// resolve is silently skipped; only the linkage is dropped. Referral code
// collisions retry the whole insert with a fresh code, bounded at
// codeRetryLimit attempts.
func (s *Service) CreateProfile(ctx context.Context, userID string, uplineReferralCode string) (*domain.ResellerProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, store.ErrInvalidRequest
	}
	if err := s.authorizeUser(ctx, userID); err != nil {
		return nil, err
	}

	var uplineID *string
	if code := strings.TrimSpace(uplineReferralCode); code != "" {
		upline, err := s.repo.GetResellerByCode(ctx, code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Unknown upline codes are not an error; the linkage is skipped.
		case err != nil:
			return nil, err
		case upline.UserID == userID:
			// self-recruitment, skip the linkage
		default:
			uplineID = &upline.ID
		}
	}

	for attempt := 0; attempt < codeRetryLimit; attempt++ {
		profile := domain.ResellerProfile{
			ID:               refcode.NewID("rsl"),
			UserID:           userID,
			ReferralCode:     refcode.NewCode(),
			UplineResellerID: uplineID,
			CommissionRate:   s.commissionRate,
			Status:           domain.ResellerStatusActive,
		}

		created, err := s.repo.CreateReseller(ctx, profile)
		if errors.Is(err, store.ErrCodeTaken) {
			log.Printf("[service] referral code collision for user %s, retrying (%d/%d)", userID, attempt+1, codeRetryLimit)
			continue
		}
		if err != nil {
			return nil, err
		}
		return created, nil
	}
	return nil, ErrCodeGenerationExhausted
}

// RecordReferral attributes a conversion to the reseller owning the given
// code. An unresolvable code returns (nil, nil): the caller's own flow (for
// example a signup) must proceed with the referral silently unrecorded.
//
// Commission policy: a signup earns the explicit amount when positive,
// otherwise the fixed signup bonus; any other conversion type earns the
// explicit amount when positive, otherwise nothing.
func (s *Service) RecordReferral(ctx context.Context, req domain.ReferralCreateRequest) (*domain.Referral, error) {
	code := strings.TrimSpace(req.ReferralCode)
	referredUserID := strings.TrimSpace(req.ReferredUserID)
	conversionType := strings.TrimSpace(req.ConversionType)
	if code == "" || referredUserID == "" || conversionType == "" {
		return nil, store.ErrInvalidRequest
	}

	reseller, err := s.repo.GetResellerByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	commission := req.CommissionCents
	if commission <= 0 {
		if conversionType == domain.ConversionSignup {
			commission = s.signupBonusCents
		} else {
			commission = 0
		}
	}

	details := req.Details
	details.Type = conversionType

	referral := domain.Referral{
		ID:               refcode.NewID("ref"),
		ResellerID:       reseller.ID,
		ReferredUserID:   referredUserID,
		ConversionType:   conversionType,
		Details:          details,
		CommissionCents:  commission,
		CommissionStatus: domain.CommissionPending,
	}
	if customerID := strings.TrimSpace(req.ReferredCustomerID); customerID != "" {
		referral.ReferredCustomerID = &customerID
	}

	created, err := s.repo.CreateReferral(ctx, referral)
	if err != nil {
		return nil, err
	}

	s.board.Invalidate(ctx, reseller.ID)
	return created, nil
}

// PendingCommissions is the admin review queue, oldest first.
func (s *Service) PendingCommissions(ctx context.Context) ([]domain.Referral, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPendingCommissions(ctx)
}

// DecideCommission approves or rejects a single pending commission.
// Rejecting is terminal; paid rows can never be decided again.
func (s *Service) DecideCommission(ctx context.Context, referralID string, decision string) (*domain.Referral, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	decision = strings.TrimSpace(decision)
	if decision != domain.CommissionApproved && decision != domain.CommissionRejected {
		return nil, store.ErrInvalidRequest
	}

	decided, err := s.repo.DecideCommission(ctx, referralID, decision, actor.Username)
	if err != nil {
		return nil, err
	}

	s.board.Invalidate(ctx, decided.ResellerID)
	return decided, nil
}

// ApprovedUnpaid returns the exact referral set a payout for the reseller
// must batch, oldest first.
func (s *Service) ApprovedUnpaid(ctx context.Context, resellerID string) ([]domain.Referral, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListApprovedUnpaid(ctx, resellerID)
}

// CreatePayout settles a batch of approved commissions. The store applies
// the payout insert and the referral status flips in one transaction and
// rejects the batch if any referral is not approved-and-unpaid or if the
// amount does not match the commission total.
func (s *Service) CreatePayout(ctx context.Context, req domain.PayoutCreateRequest) (*domain.CommissionPayout, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ResellerID) == "" || req.AmountCents < 1 || len(req.ReferralIDs) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, store.ErrInvalidRequest
	}

	reference := strings.TrimSpace(req.TransactionReference)
	if reference == "" {
		reference = uuid.NewString()
	}

	payout := domain.CommissionPayout{
		ID:                   refcode.NewID("pay"),
		ResellerID:           req.ResellerID,
		AmountCents:          req.AmountCents,
		PayoutDate:           time.Now().UTC(),
		PaymentMethod:        req.PaymentMethod,
		TransactionReference: reference,
		ProcessedBy:          actor.Username,
	}

	created, err := s.repo.CreatePayout(ctx, payout, req.ReferralIDs)
	if err != nil {
		return nil, err
	}

	s.board.Invalidate(ctx, req.ResellerID)
	return created, nil
}

func (s *Service) UpdatePayoutStatus(ctx context.Context, payoutID string, req domain.PayoutStatusUpdateRequest) (*domain.CommissionPayout, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	status := strings.TrimSpace(req.Status)
	switch status {
	case domain.PayoutProcessing, domain.PayoutCompleted, domain.PayoutFailed:
	default:
		return nil, store.ErrInvalidRequest
	}

	updated, err := s.repo.UpdatePayoutStatus(ctx, payoutID, status, strings.TrimSpace(req.Note))
	if err != nil {
		return nil, err
	}

	s.board.Invalidate(ctx, updated.ResellerID)
	return updated, nil
}

// DashboardSummary produces the figures shown on a reseller's dashboard.
// Without a profile it returns zeros and the "not available" link rather
// than an error.
func (s *Service) DashboardSummary(ctx context.Context, userID string) (domain.DashboardSummary, error) {
	if err := s.authorizeUser(ctx, userID); err != nil {
		return domain.DashboardSummary{}, err
	}

	profile, err := s.repo.GetResellerByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DashboardSummary{ReferralLink: domain.ReferralLinkUnavailable}, nil
	}
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	return s.board.Summary(ctx, profile.ID, func(ctx context.Context) (domain.ResellerStats, string, error) {
		stats, err := s.repo.GetResellerStats(ctx, profile.ID)
		if err != nil {
			return domain.ResellerStats{}, "", err
		}
		return stats, refcode.Link(s.referralBaseURL, profile.ReferralCode), nil
	})
}

// MyReferrals lists the reseller's own ledger rows; empty without a profile.
func (s *Service) MyReferrals(ctx context.Context, userID string) ([]domain.Referral, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return []domain.Referral{}, nil
	}
	return s.repo.ListReferralsByReseller(ctx, profile.ID)
}

// MyPayouts lists the reseller's own payouts; empty without a profile.
func (s *Service) MyPayouts(ctx context.Context, userID string) ([]domain.CommissionPayout, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return []domain.CommissionPayout{}, nil
	}
	return s.repo.ListPayoutsByReseller(ctx, profile.ID)
}

// ReferralQR renders the reseller's referral link as a PNG.
func (s *Service) ReferralQR(ctx context.Context, userID string) ([]byte, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, store.ErrNotFound
	}
	return refcode.QRCode(s.referralBaseURL, profile.ReferralCode)
}

// PayableResellers drives the admin "who needs paying" worklist.
func (s *Service) PayableResellers(ctx context.Context) ([]domain.PayableReseller, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPayableResellers(ctx)
}

// ExportLedger builds an xlsx workbook of the commission ledger.
func (s *Service) ExportLedger(ctx context.Context) ([]byte, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	referrals, err := s.repo.ListLedger(ctx, 5000)
	if err != nil {
		return nil, err
	}
	resellers, err := s.repo.ListResellers(ctx)
	if err != nil {
		return nil, err
	}

	resellersByID := make(map[string]domain.ResellerProfile, len(resellers))
	for _, profile := range resellers {
		resellersByID[profile.ID] = profile
	}
	return report.LedgerWorkbook(referrals, resellersByID)
}
