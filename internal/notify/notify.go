// Package notify содержит доставку уведомлений о событиях платежей и заказов.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/avoronin/cargoflow/internal/model"
)

// LogNotifier публикует события в журнал. Продакшен-реализация отправляет их
// в шину сообщений; контракт один и тот же.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт нотификатор поверх указанного логгера.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PaymentSucceeded сообщает об успешной оплате.
func (n *LogNotifier) PaymentSucceeded(ctx context.Context, t *model.Transaction) {
	n.logger.Info("payment succeeded",
		zap.String("transaction", t.ID),
		zap.Int64("user", t.UserID),
		zap.String("method", string(t.Method)),
		zap.String("amount", t.Amount.String()),
	)
}

// PaymentFailed сообщает о неуспешной оплате.
func (n *LogNotifier) PaymentFailed(ctx context.Context, t *model.Transaction) {
	n.logger.Info("payment failed",
		zap.String("transaction", t.ID),
		zap.Int64("user", t.UserID),
		zap.String("method", string(t.Method)),
	)
}

// OrderPaid сообщает о переходе заказа в оплаченное состояние.
func (n *LogNotifier) OrderPaid(ctx context.Context, orderID int64) {
	n.logger.Info("order paid", zap.Int64("order", orderID))
}

// OrderStatusChanged сообщает о смене статуса заказа.
func (n *LogNotifier) OrderStatusChanged(ctx context.Context, orderID int64, from, to model.OrderStatus) {
	n.logger.Info("order status changed",
		zap.Int64("order", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}
