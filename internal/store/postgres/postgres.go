package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const resellerColumns = `id, user_id, referral_code, upline_reseller_id, commission_rate, status, created_at, updated_at`

func scanReseller(row interface{ Scan(...any) error }) (*domain.ResellerProfile, error) {
	var profile domain.ResellerProfile
	var upline sql.NullString
	err := row.Scan(
		&profile.ID,
		&profile.UserID,
		&profile.ReferralCode,
		&upline,
		&profile.CommissionRate,
		&profile.Status,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if upline.Valid {
		profile.UplineResellerID = &upline.String
	}
	return &profile, nil
}

func (s *Store) GetResellerByUserID(ctx context.Context, userID string) (*domain.ResellerProfile, error) {
	return scanReseller(s.db.QueryRowContext(ctx, `
		SELECT `+resellerColumns+`
		FROM resellers
		WHERE user_id = $1
	`, userID))
}

func (s *Store) GetResellerByCode(ctx context.Context, code string) (*domain.ResellerProfile, error) {
	return scanReseller(s.db.QueryRowContext(ctx, `
		SELECT `+resellerColumns+`
		FROM resellers
		WHERE referral_code = $1
	`, code))
}

func (s *Store) GetResellerByID(ctx context.Context, id string) (*domain.ResellerProfile, error) {
	return scanReseller(s.db.QueryRowContext(ctx, `
		SELECT `+resellerColumns+`
		FROM resellers
		WHERE id = $1
	`, id))
}

func (s *Store) ListResellers(ctx context.Context) ([]domain.ResellerProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resellerColumns+`
		FROM resellers
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resellers := make([]domain.ResellerProfile, 0, 64)
	for rows.Next() {
		profile, err := scanReseller(rows)
		if err != nil {
			return nil, err
		}
		resellers = append(resellers, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resellers, nil
}

func (s *Store) CreateReseller(ctx context.Context, profile domain.ResellerProfile) (*domain.ResellerProfile, error) {
	if profile.ID == "" || profile.UserID == "" || profile.ReferralCode == "" {
		return nil, store.ErrInvalidRequest
	}

	var upline sql.NullString
	if profile.UplineResellerID != nil {
		upline = sql.NullString{String: *profile.UplineResellerID, Valid: true}
	}

	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resellers (id, user_id, referral_code, upline_reseller_id, commission_rate, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, profile.ID, profile.UserID, profile.ReferralCode, upline, profile.CommissionRate, profile.Status, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if strings.Contains(constraint, "referral_code") {
				return nil, store.ErrCodeTaken
			}
			return nil, store.ErrProfileExists
		}
		return nil, err
	}

	created := profile
	return &created, nil
}

const referralColumns = `id, reseller_id, referred_user_id, referred_customer_id, conversion_type, details, commission_cents, commission_status, payout_id, decided_by, created_at`

func scanReferral(row interface{ Scan(...any) error }) (*domain.Referral, error) {
	var referral domain.Referral
	var customerID, payoutID, decidedBy sql.NullString
	var details []byte
	err := row.Scan(
		&referral.ID,
		&referral.ResellerID,
		&referral.ReferredUserID,
		&customerID,
		&referral.ConversionType,
		&details,
		&referral.CommissionCents,
		&referral.CommissionStatus,
		&payoutID,
		&decidedBy,
		&referral.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		referral.ReferredCustomerID = &customerID.String
	}
	if payoutID.Valid {
		referral.PayoutID = &payoutID.String
	}
	if decidedBy.Valid {
		referral.DecidedBy = decidedBy.String
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &referral.Details); err != nil {
			return nil, err
		}
	}
	return &referral, nil
}

func (s *Store) CreateReferral(ctx context.Context, referral domain.Referral) (*domain.Referral, error) {
	if referral.ID == "" || referral.ResellerID == "" || referral.ReferredUserID == "" {
		return nil, store.ErrInvalidRequest
	}
	if referral.CommissionCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	details, err := json.Marshal(referral.Details)
	if err != nil {
		return nil, err
	}
	var customerID sql.NullString
	if referral.ReferredCustomerID != nil {
		customerID = sql.NullString{String: *referral.ReferredCustomerID, Valid: true}
	}

	referral.CommissionStatus = domain.CommissionPending
	referral.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO referrals (id, reseller_id, referred_user_id, referred_customer_id, conversion_type, details, commission_cents, commission_status, payout_id, decided_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,NULL,$9,$9)
	`, referral.ID, referral.ResellerID, referral.ReferredUserID, customerID, referral.ConversionType, details, referral.CommissionCents, referral.CommissionStatus, referral.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := referral
	return &created, nil
}

func (s *Store) ListPendingCommissions(ctx context.Context) ([]domain.Referral, error) {
	return s.queryReferrals(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE commission_status = 'pending'
		ORDER BY created_at ASC
	`)
}

func (s *Store) ListApprovedUnpaid(ctx context.Context, resellerID string) ([]domain.Referral, error) {
	return s.queryReferrals(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE reseller_id = $1 AND commission_status = 'approved' AND payout_id IS NULL
		ORDER BY created_at ASC
	`, resellerID)
}

func (s *Store) ListReferralsByReseller(ctx context.Context, resellerID string) ([]domain.Referral, error) {
	return s.queryReferrals(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE reseller_id = $1
		ORDER BY created_at ASC
	`, resellerID)
}

func (s *Store) ListLedger(ctx context.Context, limit int) ([]domain.Referral, error) {
	if limit < 1 {
		limit = 1000
	}
	return s.queryReferrals(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) queryReferrals(ctx context.Context, query string, args ...any) ([]domain.Referral, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	referrals := make([]domain.Referral, 0, 64)
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *referral)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return referrals, nil
}

// DecideCommission is a conditional write: the row is updated only while it
// is still pending, so two admins deciding concurrently cannot both win.
func (s *Store) DecideCommission(ctx context.Context, referralID string, status string, decidedBy string) (*domain.Referral, error) {
	if status != domain.CommissionApproved && status != domain.CommissionRejected {
		return nil, store.ErrInvalidRequest
	}

	decided, err := scanReferral(s.db.QueryRowContext(ctx, `
		UPDATE referrals
		SET commission_status = $2, decided_by = $3, updated_at = now()
		WHERE id = $1 AND commission_status = 'pending'
		RETURNING `+referralColumns+`
	`, referralID, status, decidedBy))
	if err == nil {
		return decided, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var current string
	err = s.db.QueryRowContext(ctx, `
		SELECT commission_status FROM referrals WHERE id = $1
	`, referralID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, store.ErrAlreadyDecided
}

// CreatePayout creates the payout row and marks its referrals paid inside a
// single serializable transaction. The referrals are locked with FOR UPDATE
// and re-checked as approved-and-unpaid so that a referral can never be
// included in two payouts, and the payout amount must equal the sum of the
// locked commissions.
func (s *Store) CreatePayout(ctx context.Context, payout domain.CommissionPayout, referralIDs []string) (*domain.CommissionPayout, error) {
	if payout.ID == "" || payout.ResellerID == "" || payout.AmountCents < 1 || len(referralIDs) == 0 {
		return nil, store.ErrInvalidRequest
	}

	ids := make([]string, 0, len(referralIDs))
	seen := make(map[string]bool, len(referralIDs))
	for _, id := range referralIDs {
		if seen[id] {
			return nil, store.ErrInvalidRequest
		}
		seen[id] = true
		ids = append(ids, id)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, commission_cents
		FROM referrals
		WHERE id = ANY($1) AND reseller_id = $2 AND commission_status = 'approved' AND payout_id IS NULL
		FOR UPDATE
	`, ids, payout.ResellerID)
	if err != nil {
		return nil, err
	}
	locked := 0
	total := int64(0)
	for rows.Next() {
		var id string
		var cents int64
		if err := rows.Scan(&id, &cents); err != nil {
			_ = rows.Close()
			return nil, err
		}
		locked++
		total += cents
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if locked != len(ids) {
		return nil, store.ErrReferralUnavailable
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commission_payouts (id, reseller_id, amount_cents, payout_date, status, payment_method, transaction_reference, processed_by, note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, payout.ID, payout.ResellerID, payout.AmountCents, payout.PayoutDate, payout.Status, payout.PaymentMethod, payout.TransactionReference, payout.ProcessedBy, payout.Note, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE referrals
		SET commission_status = 'paid', payout_id = $2, updated_at = now()
		WHERE id = ANY($1)
	`, ids, payout.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := payout
	return &created, nil
}

const payoutColumns = `id, reseller_id, amount_cents, payout_date, status, payment_method, transaction_reference, processed_by, note, created_at, updated_at`

func scanPayout(row interface{ Scan(...any) error }) (*domain.CommissionPayout, error) {
	var payout domain.CommissionPayout
	var note sql.NullString
	err := row.Scan(
		&payout.ID,
		&payout.ResellerID,
		&payout.AmountCents,
		&payout.PayoutDate,
		&payout.Status,
		&payout.PaymentMethod,
		&payout.TransactionReference,
		&payout.ProcessedBy,
		&note,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if note.Valid {
		payout.Note = note.String
	}
	return &payout, nil
}

func (s *Store) ListPayoutsByReseller(ctx context.Context, resellerID string) ([]domain.CommissionPayout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM commission_payouts
		WHERE reseller_id = $1
		ORDER BY created_at DESC
	`, resellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]domain.CommissionPayout, 0, 16)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *payout)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payouts, nil
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, payoutID string, status string, note string) (*domain.CommissionPayout, error) {
	updated, err := scanPayout(s.db.QueryRowContext(ctx, `
		UPDATE commission_payouts
		SET status = $2,
		    note = CASE WHEN $3 <> '' THEN $3 ELSE note END,
		    updated_at = now()
		WHERE id = $1
		  AND ((status = 'pending' AND $2 IN ('processing','completed','failed'))
		    OR (status = 'processing' AND $2 IN ('completed','failed')))
		RETURNING `+payoutColumns+`
	`, payoutID, status, note))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM commission_payouts WHERE id = $1)
	`, payoutID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrInvalidStatus
}

func (s *Store) GetResellerStats(ctx context.Context, resellerID string) (domain.ResellerStats, error) {
	var stats domain.ResellerStats
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE commission_status IN ('approved','paid')),
		       COALESCE(sum(commission_cents) FILTER (WHERE commission_status IN ('pending','approved')), 0)
		FROM referrals
		WHERE reseller_id = $1
	`, resellerID).Scan(&stats.TotalReferrals, &stats.ConvertedReferrals, &stats.PendingCommissionCents)
	if err != nil {
		return domain.ResellerStats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(sum(amount_cents), 0)
		FROM commission_payouts
		WHERE reseller_id = $1 AND status = 'completed'
	`, resellerID).Scan(&stats.PaidCommissionCents)
	if err != nil {
		return domain.ResellerStats{}, err
	}
	return stats, nil
}

func (s *Store) ListPayableResellers(ctx context.Context) ([]domain.PayableReseller, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.reseller_id, p.user_id, p.referral_code, sum(r.commission_cents), count(*)
		FROM referrals r
		JOIN resellers p ON p.id = r.reseller_id
		WHERE r.commission_status = 'approved' AND r.payout_id IS NULL
		GROUP BY r.reseller_id, p.user_id, p.referral_code
		ORDER BY sum(r.commission_cents) DESC, r.reseller_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resellers := make([]domain.PayableReseller, 0, 32)
	for rows.Next() {
		var entry domain.PayableReseller
		if err := rows.Scan(&entry.ResellerID, &entry.UserID, &entry.ReferralCode, &entry.PayableCents, &entry.PayableCount); err != nil {
			return nil, err
		}
		resellers = append(resellers, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resellers, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
