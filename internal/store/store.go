package store

import (
	"context"
	"errors"

	"bengkelku/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrCodeTaken           = errors.New("referral code already taken")
	ErrProfileExists       = errors.New("reseller profile already exists")
	ErrAlreadyDecided      = errors.New("commission already decided")
	ErrReferralUnavailable = errors.New("referral is not approved and unpaid")
	ErrAmountMismatch      = errors.New("payout amount does not match commission total")
	ErrInvalidStatus       = errors.New("invalid status transition")
	ErrInvalidRequest      = errors.New("invalid request")
)

type Repository interface {
	GetResellerByUserID(ctx context.Context, userID string) (*domain.ResellerProfile, error)
	GetResellerByCode(ctx context.Context, code string) (*domain.ResellerProfile, error)
	GetResellerByID(ctx context.Context, id string) (*domain.ResellerProfile, error)
	ListResellers(ctx context.Context) ([]domain.ResellerProfile, error)
	CreateReseller(ctx context.Context, profile domain.ResellerProfile) (*domain.ResellerProfile, error)
	CreateReferral(ctx context.Context, referral domain.Referral) (*domain.Referral, error)
	ListPendingCommissions(ctx context.Context) ([]domain.Referral, error)
	DecideCommission(ctx context.Context, referralID string, status string, decidedBy string) (*domain.Referral, error)
	ListApprovedUnpaid(ctx context.Context, resellerID string) ([]domain.Referral, error)
	ListReferralsByReseller(ctx context.Context, resellerID string) ([]domain.Referral, error)
	ListLedger(ctx context.Context, limit int) ([]domain.Referral, error)
	CreatePayout(ctx context.Context, payout domain.CommissionPayout, referralIDs []string) (*domain.CommissionPayout, error)
	ListPayoutsByReseller(ctx context.Context, resellerID string) ([]domain.CommissionPayout, error)
	UpdatePayoutStatus(ctx context.Context, payoutID string, status string, note string) (*domain.CommissionPayout, error)
	GetResellerStats(ctx context.Context, resellerID string) (domain.ResellerStats, error)
	ListPayableResellers(ctx context.Context) ([]domain.PayableReseller, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
