package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/refcode"
	"bengkelku/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	resellersByID    map[string]domain.ResellerProfile
	resellerIDByCode map[string]string
	resellerIDByUser map[string]string
	referralsByID    map[string]domain.Referral
	referralOrder    []string
	payoutsByID      map[string]domain.CommissionPayout
	payoutOrder      []string
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_RESELLER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	resellerPwd := envOr("SEED_RESELLER_PASSWORD", "dewi123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_RESELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_RESELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"dewi", resellerPwd, "reseller"},
		{"agus", resellerPwd, "reseller"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with dev users and one reseller
// profile (dewi). agus has a reseller login but no profile yet.
func NewSeeded() *Store {
	s := &Store{
		resellersByID:    make(map[string]domain.ResellerProfile),
		resellerIDByCode: make(map[string]string),
		resellerIDByUser: make(map[string]string),
		referralsByID:    make(map[string]domain.Referral),
		payoutsByID:      make(map[string]domain.CommissionPayout),
		usersByUsername:  seedUsers(),
	}

	now := time.Now().UTC()
	dewi := domain.ResellerProfile{
		ID:             refcode.NewID("rsl"),
		UserID:         "dewi",
		ReferralCode:   "DW4k9QxZ",
		CommissionRate: domain.DefaultCommissionRate,
		Status:         domain.ResellerStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.resellersByID[dewi.ID] = dewi
	s.resellerIDByCode[dewi.ReferralCode] = dewi.ID
	s.resellerIDByUser[dewi.UserID] = dewi.ID

	return s
}

func (s *Store) GetResellerByUserID(_ context.Context, userID string) (*domain.ResellerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resellerIDByUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	profile := s.resellersByID[id]
	return &profile, nil
}

func (s *Store) GetResellerByCode(_ context.Context, code string) (*domain.ResellerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resellerIDByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	profile := s.resellersByID[id]
	return &profile, nil
}

func (s *Store) GetResellerByID(_ context.Context, id string) (*domain.ResellerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.resellersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &profile, nil
}

func (s *Store) ListResellers(_ context.Context) ([]domain.ResellerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resellers := make([]domain.ResellerProfile, 0, len(s.resellersByID))
	for _, profile := range s.resellersByID {
		resellers = append(resellers, profile)
	}
	sort.Slice(resellers, func(i, j int) bool {
		return resellers[i].CreatedAt.Before(resellers[j].CreatedAt)
	})
	return resellers, nil
}

func (s *Store) CreateReseller(_ context.Context, profile domain.ResellerProfile) (*domain.ResellerProfile, error) {
	if profile.ID == "" || profile.UserID == "" || profile.ReferralCode == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resellerIDByUser[profile.UserID]; exists {
		return nil, store.ErrProfileExists
	}
	if _, exists := s.resellerIDByCode[profile.ReferralCode]; exists {
		return nil, store.ErrCodeTaken
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	s.resellersByID[profile.ID] = profile
	s.resellerIDByCode[profile.ReferralCode] = profile.ID
	s.resellerIDByUser[profile.UserID] = profile.ID

	created := profile
	return &created, nil
}

func (s *Store) CreateReferral(_ context.Context, referral domain.Referral) (*domain.Referral, error) {
	if referral.ID == "" || referral.ResellerID == "" || referral.ReferredUserID == "" {
		return nil, store.ErrInvalidRequest
	}
	if referral.CommissionCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resellersByID[referral.ResellerID]; !exists {
		return nil, store.ErrNotFound
	}

	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = time.Now().UTC()
	}
	referral.CommissionStatus = domain.CommissionPending
	referral.PayoutID = nil

	s.referralsByID[referral.ID] = referral
	s.referralOrder = append(s.referralOrder, referral.ID)

	created := referral
	return &created, nil
}

func (s *Store) ListPendingCommissions(_ context.Context) ([]domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.Referral, 0, len(s.referralOrder))
	for _, id := range s.referralOrder {
		referral := s.referralsByID[id]
		if referral.CommissionStatus == domain.CommissionPending {
			pending = append(pending, referral)
		}
	}
	return pending, nil
}

func (s *Store) DecideCommission(_ context.Context, referralID string, status string, decidedBy string) (*domain.Referral, error) {
	if status != domain.CommissionApproved && status != domain.CommissionRejected {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	referral, ok := s.referralsByID[referralID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if referral.CommissionStatus != domain.CommissionPending {
		return nil, store.ErrAlreadyDecided
	}

	referral.CommissionStatus = status
	referral.DecidedBy = decidedBy
	s.referralsByID[referralID] = referral

	decided := referral
	return &decided, nil
}

func (s *Store) ListApprovedUnpaid(_ context.Context, resellerID string) ([]domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payable := make([]domain.Referral, 0, 16)
	for _, id := range s.referralOrder {
		referral := s.referralsByID[id]
		if referral.ResellerID != resellerID {
			continue
		}
		if referral.CommissionStatus == domain.CommissionApproved && referral.PayoutID == nil {
			payable = append(payable, referral)
		}
	}
	return payable, nil
}

func (s *Store) ListReferralsByReseller(_ context.Context, resellerID string) ([]domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	referrals := make([]domain.Referral, 0, 16)
	for _, id := range s.referralOrder {
		referral := s.referralsByID[id]
		if referral.ResellerID == resellerID {
			referrals = append(referrals, referral)
		}
	}
	return referrals, nil
}

func (s *Store) ListLedger(_ context.Context, limit int) ([]domain.Referral, error) {
	if limit < 1 {
		limit = 1000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := make([]domain.Referral, 0, len(s.referralOrder))
	for i := len(s.referralOrder) - 1; i >= 0 && len(ledger) < limit; i-- {
		ledger = append(ledger, s.referralsByID[s.referralOrder[i]])
	}
	return ledger, nil
}

// CreatePayout mirrors the postgres transaction: every referral must belong
// to the payout's reseller, be approved and unpaid, and their commissions
// must sum to the payout amount. Either everything is applied or nothing is.
func (s *Store) CreatePayout(_ context.Context, payout domain.CommissionPayout, referralIDs []string) (*domain.CommissionPayout, error) {
	if payout.ID == "" || payout.ResellerID == "" || payout.AmountCents < 1 || len(referralIDs) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resellersByID[payout.ResellerID]; !exists {
		return nil, store.ErrNotFound
	}

	seen := make(map[string]bool, len(referralIDs))
	total := int64(0)
	for _, id := range referralIDs {
		if seen[id] {
			return nil, store.ErrInvalidRequest
		}
		seen[id] = true

		referral, ok := s.referralsByID[id]
		if !ok {
			return nil, store.ErrReferralUnavailable
		}
		if referral.ResellerID != payout.ResellerID {
			return nil, store.ErrReferralUnavailable
		}
		if referral.CommissionStatus != domain.CommissionApproved || referral.PayoutID != nil {
			return nil, store.ErrReferralUnavailable
		}
		total += referral.CommissionCents
	}
	if total != payout.AmountCents {
		return nil, store.ErrAmountMismatch
	}

	now := time.Now().UTC()
	if payout.PayoutDate.IsZero() {
		payout.PayoutDate = now
	}
	payout.Status = domain.PayoutCompleted
	payout.CreatedAt = now
	payout.UpdatedAt = now

	s.payoutsByID[payout.ID] = payout
	s.payoutOrder = append(s.payoutOrder, payout.ID)

	payoutID := payout.ID
	for _, id := range referralIDs {
		referral := s.referralsByID[id]
		referral.CommissionStatus = domain.CommissionPaid
		pid := payoutID
		referral.PayoutID = &pid
		s.referralsByID[id] = referral
	}

	created := payout
	return &created, nil
}

func (s *Store) ListPayoutsByReseller(_ context.Context, resellerID string) ([]domain.CommissionPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payouts := make([]domain.CommissionPayout, 0, 8)
	for i := len(s.payoutOrder) - 1; i >= 0; i-- {
		payout := s.payoutsByID[s.payoutOrder[i]]
		if payout.ResellerID == resellerID {
			payouts = append(payouts, payout)
		}
	}
	return payouts, nil
}

func (s *Store) UpdatePayoutStatus(_ context.Context, payoutID string, status string, note string) (*domain.CommissionPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payoutsByID[payoutID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !validPayoutTransition(payout.Status, status) {
		return nil, store.ErrInvalidStatus
	}

	payout.Status = status
	if note != "" {
		payout.Note = note
	}
	payout.UpdatedAt = time.Now().UTC()
	s.payoutsByID[payoutID] = payout

	updated := payout
	return &updated, nil
}

func validPayoutTransition(from string, to string) bool {
	switch from {
	case domain.PayoutPending:
		return to == domain.PayoutProcessing || to == domain.PayoutCompleted || to == domain.PayoutFailed
	case domain.PayoutProcessing:
		return to == domain.PayoutCompleted || to == domain.PayoutFailed
	default:
		return false
	}
}

func (s *Store) GetResellerStats(_ context.Context, resellerID string) (domain.ResellerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.ResellerStats{}
	for _, referral := range s.referralsByID {
		if referral.ResellerID != resellerID {
			continue
		}
		stats.TotalReferrals++
		switch referral.CommissionStatus {
		case domain.CommissionApproved:
			stats.ConvertedReferrals++
			stats.PendingCommissionCents += referral.CommissionCents
		case domain.CommissionPaid:
			stats.ConvertedReferrals++
		case domain.CommissionPending:
			stats.PendingCommissionCents += referral.CommissionCents
		}
	}
	for _, payout := range s.payoutsByID {
		if payout.ResellerID == resellerID && payout.Status == domain.PayoutCompleted {
			stats.PaidCommissionCents += payout.AmountCents
		}
	}
	return stats, nil
}

func (s *Store) ListPayableResellers(_ context.Context) ([]domain.PayableReseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byReseller := make(map[string]*domain.PayableReseller)
	for _, referral := range s.referralsByID {
		if referral.CommissionStatus != domain.CommissionApproved || referral.PayoutID != nil {
			continue
		}
		entry, ok := byReseller[referral.ResellerID]
		if !ok {
			profile := s.resellersByID[referral.ResellerID]
			entry = &domain.PayableReseller{
				ResellerID:   profile.ID,
				UserID:       profile.UserID,
				ReferralCode: profile.ReferralCode,
			}
			byReseller[referral.ResellerID] = entry
		}
		entry.PayableCents += referral.CommissionCents
		entry.PayableCount++
	}

	resellers := make([]domain.PayableReseller, 0, len(byReseller))
	for _, entry := range byReseller {
		resellers = append(resellers, *entry)
	}
	sort.Slice(resellers, func(i, j int) bool {
		if resellers[i].PayableCents != resellers[j].PayableCents {
			return resellers[i].PayableCents > resellers[j].PayableCents
		}
		return resellers[i].ResellerID < resellers[j].ResellerID
	})
	return resellers, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
