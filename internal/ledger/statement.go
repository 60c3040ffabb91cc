package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// StatementLine is one ledger entry prepared for display, amounts
// formatted with thousands separators.
type StatementLine struct {
	Entry   LedgerEntry
	Amount  string
	Balance string
}

// AgingBucket summarises outstanding debt by age since entry creation.
type AgingBucket struct {
	Current   decimal.Decimal
	Bucket30  decimal.Decimal
	Bucket60  decimal.Decimal
	Bucket90  decimal.Decimal
	Bucket120 decimal.Decimal
}

// Statement is the printable view of a supplier's running account.
type Statement struct {
	SupplierID  int64
	AsOf        time.Time
	Lines       []StatementLine
	Outstanding string
	Aging       AgingBucket
}

var statementPrinter = message.NewPrinter(language.English)

// formatAmount renders the value with thousands separators straight from
// the decimal; no float round trip. Unit counts fit int64 at NUMERIC(18,2)
// precision.
func formatAmount(d decimal.Decimal) string {
	v := d.Round(2)
	abs := v.Abs()
	units := abs.Truncate(0)
	cents := abs.Sub(units).Shift(2).IntPart()
	out := statementPrinter.Sprintf("%d", units.IntPart()) + fmt.Sprintf(".%02d", cents)
	if v.IsNegative() {
		return "-" + out
	}
	return out
}

// Statement builds the ordered ledger with running balances plus an aging
// summary of the still-outstanding debt entries.
func (s *Service) Statement(ctx context.Context, supplierID int64, asOf time.Time) (Statement, error) {
	balance, err := s.repo.GetSupplierBalance(ctx, supplierID)
	if err != nil {
		return Statement{}, err
	}
	entries, err := s.repo.ListEntries(ctx, supplierID)
	if err != nil {
		return Statement{}, err
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}

	stmt := Statement{
		SupplierID:  supplierID,
		AsOf:        asOf,
		Outstanding: formatAmount(balance),
	}
	for _, entry := range entries {
		stmt.Lines = append(stmt.Lines, StatementLine{
			Entry:   entry,
			Amount:  formatAmount(entry.SignedAmount),
			Balance: formatAmount(entry.RunningBalance),
		})
		owed := entry.Owed()
		if !owed.IsPositive() {
			continue
		}
		ageDays := int(asOf.Sub(entry.CreatedAt).Hours() / 24)
		switch {
		case ageDays <= 0:
			stmt.Aging.Current = stmt.Aging.Current.Add(owed)
		case ageDays <= 30:
			stmt.Aging.Bucket30 = stmt.Aging.Bucket30.Add(owed)
		case ageDays <= 60:
			stmt.Aging.Bucket60 = stmt.Aging.Bucket60.Add(owed)
		case ageDays <= 90:
			stmt.Aging.Bucket90 = stmt.Aging.Bucket90.Add(owed)
		default:
			stmt.Aging.Bucket120 = stmt.Aging.Bucket120.Add(owed)
		}
	}
	return stmt, nil
}
