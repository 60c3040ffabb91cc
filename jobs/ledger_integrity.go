package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lumina-pos/lumina-pos/internal/ledger"
)

// BalanceVerifier recomputes supplier balances from ledger entries and
// reports cached balances that have drifted.
type BalanceVerifier interface {
	VerifyBalances(ctx context.Context) ([]ledger.BalanceDrift, error)
}

// NewLedgerIntegrityHandler returns the handler for TaskLedgerIntegrity
// tasks. Drift is logged and counted; the scan never repairs balances,
// that stays an operator action.
func NewLedgerIntegrityHandler(verifier BalanceVerifier, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		drifts, err := verifier.VerifyBalances(ctx)
		if err != nil {
			logger.Error("ledger integrity scan failed", slog.Any("error", err))
			return err
		}
		if len(drifts) == 0 {
			logger.Info("ledger integrity scan clean", slog.String("requested_by", payload.RequestedBy))
			return nil
		}
		for _, drift := range drifts {
			logger.Error("ledger balance drift",
				slog.Int64("supplier_id", drift.SupplierID),
				slog.String("cached", drift.Cached.String()),
				slog.String("computed", drift.Computed.String()),
			)
		}
		return nil
	}
}
