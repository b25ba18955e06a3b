package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartPendingReaper запускает фоновый процесс отмены транзакций, зависших в
// PENDING дольше ttl: брошенные платёжные сессии, по которым вебхук так и не
// пришёл. Блокируется до отмены контекста. При ttl <= 0 процесс не запускается
// и зависшие транзакции ждут ручного вмешательства администратора.
func (s *Service) StartPendingReaper(ctx context.Context, ttl time.Duration, interval time.Duration, logger *zap.Logger) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.repo.ExpirePendingTransactions(ctx, ttl)
			if err != nil {
				logger.Error("expire pending transactions", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("cancelled stale pending transactions", zap.Int64("count", expired))
			}
		}
	}
}
