package accounts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// RepairLegacy restores the local-method invariant on every stored account
// that predates it. Returns the number of accounts rewritten. Accounts that
// fail to save are logged and skipped.
func (s *Service) RepairLegacy(ctx context.Context) (int, error) {
	legacy, err := s.store.FindNeedingRepair(ctx)
	if err != nil {
		return 0, fmt.Errorf("list legacy accounts: %w", err)
	}

	repaired := 0
	for _, a := range legacy {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if !a.repairLocal() {
			continue
		}
		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// Someone else wrote it; their write went through the same hook.
				continue
			}
			s.logger.Warn("repair legacy account",
				zap.String("account_id", a.ID.String()),
				zap.Error(err),
			)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		s.logger.Info("legacy accounts repaired", zap.Int("count", repaired))
	}
	return repaired, nil
}
