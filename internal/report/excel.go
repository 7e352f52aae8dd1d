package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"bengkelku/backend/internal/domain"
)

const ledgerSheet = "Commissions"

// LedgerWorkbook renders the commission ledger as an xlsx workbook for the
// admin export. Amounts are written in major units (cents / 100).
func LedgerWorkbook(referrals []domain.Referral, resellersByID map[string]domain.ResellerProfile) ([]byte, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := []string{"Referral ID", "Reseller Code", "Reseller User", "Referred User", "Conversion", "Commission", "Status", "Payout ID", "Decided By", "Created At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(ledgerSheet, cell, header); err != nil {
			return nil, err
		}
	}

	for rowIndex, referral := range referrals {
		reseller := resellersByID[referral.ResellerID]
		payoutID := ""
		if referral.PayoutID != nil {
			payoutID = *referral.PayoutID
		}

		values := []any{
			referral.ID,
			reseller.ReferralCode,
			reseller.UserID,
			referral.ReferredUserID,
			referral.ConversionType,
			float64(referral.CommissionCents) / 100,
			referral.CommissionStatus,
			payoutID,
			referral.DecidedBy,
			referral.CreatedAt.Format(time.RFC3339),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIndex+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(ledgerSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write ledger workbook: %w", err)
	}
	return buf.Bytes(), nil
}
