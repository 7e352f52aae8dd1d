package domain

import "time"

const (
	ResellerStatusActive    = "active"
	ResellerStatusPending   = "pending"
	ResellerStatusSuspended = "suspended"
)

const (
	CommissionPending  = "pending"
	CommissionApproved = "approved"
	CommissionRejected = "rejected"
	CommissionPaid     = "paid"
)

const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

const (
	ConversionSignup   = "signup"
	ConversionPurchase = "purchase"
)

// Default commission configuration. The signup bonus is a fixed amount paid
// to the referring reseller when a referred user signs up; other conversion
// types earn nothing unless an explicit amount is supplied.
const (
	DefaultSignupBonusCents int64   = 500
	DefaultCommissionRate   float64 = 0.10
)

// ReferralLinkUnavailable is returned as the dashboard referral link for
// users without a reseller profile.
const ReferralLinkUnavailable = "not available"

type ResellerProfile struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ReferralCode     string    `json:"referral_code"`
	UplineResellerID *string   `json:"upline_reseller_id,omitempty"`
	CommissionRate   float64   `json:"commission_rate"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ProfileCreateRequest struct {
	UplineReferralCode string `json:"upline_referral_code,omitempty"`
}

type ProfileResponse struct {
	Profile *ResellerProfile `json:"profile"`
}

// ConversionDetails is keyed by Type; only the fields for that type are set.
// signup carries the chosen plan, purchase carries the order reference and
// its amount.
type ConversionDetails struct {
	Type        string `json:"type"`
	Plan        string `json:"plan,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
}

type Referral struct {
	ID                 string            `json:"id"`
	ResellerID         string            `json:"reseller_id"`
	ReferredUserID     string            `json:"referred_user_id"`
	ReferredCustomerID *string           `json:"referred_customer_id,omitempty"`
	ConversionType     string            `json:"conversion_type"`
	Details            ConversionDetails `json:"details"`
	CommissionCents    int64             `json:"commission_cents"`
	CommissionStatus   string            `json:"commission_status"`
	PayoutID           *string           `json:"payout_id,omitempty"`
	DecidedBy          string            `json:"decided_by,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

type ReferralCreateRequest struct {
	ReferralCode       string            `json:"referral_code"`
	ReferredUserID     string            `json:"referred_user_id"`
	ReferredCustomerID string            `json:"referred_customer_id,omitempty"`
	ConversionType     string            `json:"conversion_type"`
	Details            ConversionDetails `json:"details"`
	CommissionCents    int64             `json:"commission_cents,omitempty"`
}

type ReferralCreateResponse struct {
	Recorded bool      `json:"recorded"`
	Referral *Referral `json:"referral,omitempty"`
}

type ReferralListResponse struct {
	Referrals []Referral `json:"referrals"`
}

type CommissionDecisionRequest struct {
	Decision string `json:"decision"`
}

type CommissionPayout struct {
	ID                   string    `json:"id"`
	ResellerID           string    `json:"reseller_id"`
	AmountCents          int64     `json:"amount_cents"`
	PayoutDate           time.Time `json:"payout_date"`
	Status               string    `json:"status"`
	PaymentMethod        string    `json:"payment_method"`
	TransactionReference string    `json:"transaction_reference"`
	ProcessedBy          string    `json:"processed_by"`
	Note                 string    `json:"note,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type PayoutCreateRequest struct {
	ResellerID           string   `json:"reseller_id"`
	AmountCents          int64    `json:"amount_cents"`
	PaymentMethod        string   `json:"payment_method"`
	TransactionReference string   `json:"transaction_reference,omitempty"`
	ReferralIDs          []string `json:"referral_ids"`
}

type PayoutResponse struct {
	Payout CommissionPayout `json:"payout"`
}

type PayoutListResponse struct {
	Payouts []CommissionPayout `json:"payouts"`
}

type PayoutStatusUpdateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// ResellerStats are the raw ledger aggregates for one reseller. Paid cents
// are summed from completed payouts rather than referral rows so the two
// never double-count if a payout amount and its referral sum ever diverge.
type ResellerStats struct {
	TotalReferrals         int   `json:"total_referrals"`
	ConvertedReferrals     int   `json:"converted_referrals"`
	PendingCommissionCents int64 `json:"pending_commission_cents"`
	PaidCommissionCents    int64 `json:"paid_commission_cents"`
}

type DashboardSummary struct {
	TotalReferrals         int    `json:"total_referrals"`
	ConvertedReferrals     int    `json:"converted_referrals"`
	PendingCommissionCents int64  `json:"pending_commission_cents"`
	PaidCommissionCents    int64  `json:"paid_commission_cents"`
	ReferralLink           string `json:"referral_link"`
	LatencyMS              int64  `json:"latency_ms"`
}

type PayableReseller struct {
	ResellerID   string `json:"reseller_id"`
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code"`
	PayableCents int64  `json:"payable_cents"`
	PayableCount int    `json:"payable_count"`
}

type PayableResellerListResponse struct {
	Resellers []PayableReseller `json:"resellers"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ResellerUserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ResellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
