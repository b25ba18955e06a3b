// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderStateConflict возвращается при недопустимом переходе статуса заказа.
	ErrOrderStateConflict = errors.New("order status conflict")
	// ErrTransactionNotFound возвращается, если транзакция не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionProcessed возвращается при повторной попытке обработать транзакцию.
	ErrTransactionProcessed = errors.New("transaction already processed")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientBonus возвращается при попытке списания суммы, превышающей бонусный баланс.
	ErrInsufficientBonus = errors.New("insufficient bonus balance")
	// ErrTariffNotFound возвращается, если тариф не найден.
	ErrTariffNotFound = errors.New("tariff not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Ошибки контекста не ретраим
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure и Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, is_admin, is_banned, balance, bonus_balance, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsAdmin, &u.IsBanned, &u.Balance, &u.BonusBalance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`, login))
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// SetUserBanned блокирует или разблокирует пользователя и пишет запись в журнал
// действий администратора в одной транзакции.
func (r *PostgresRepository) SetUserBanned(ctx context.Context, userID int64, banned bool, adminID int64, reason string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE users SET is_banned = $2 WHERE id = $1`, userID, banned)
		if err != nil {
			return fmt.Errorf("update user ban: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		action := "ban_user"
		if !banned {
			action = "unban_user"
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO admin_audit_log (admin_id, action, object_type, object_id, details)
			 VALUES ($1, $2, 'user', $3, $4)`,
			adminID, action, fmt.Sprintf("%d", userID), map[string]string{"reason": reason})
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

const tariffColumns = `id, country_id, warehouse_id, warehouse_name, name, price_per_kg,
	min_weight, max_weight, delivery_days_min, delivery_days_max,
	processing_fee, customs_fee, is_active, created_at`

func scanTariff(row pgx.Row) (*model.Tariff, error) {
	var t model.Tariff
	err := row.Scan(&t.ID, &t.CountryID, &t.WarehouseID, &t.WarehouseName, &t.Name, &t.PricePerKg,
		&t.MinWeight, &t.MaxWeight, &t.DeliveryDaysMin, &t.DeliveryDaysMax,
		&t.ProcessingFee, &t.CustomsFee, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTariffNotFound
		}
		return nil, fmt.Errorf("scan tariff: %w", err)
	}
	return &t, nil
}

// CreateTariff создаёт новый тариф.
func (r *PostgresRepository) CreateTariff(ctx context.Context, t *model.Tariff) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tariffs (country_id, warehouse_id, warehouse_name, name, price_per_kg,
			min_weight, max_weight, delivery_days_min, delivery_days_max, processing_fee, customs_fee, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		t.CountryID, t.WarehouseID, t.WarehouseName, t.Name, t.PricePerKg,
		t.MinWeight, t.MaxWeight, t.DeliveryDaysMin, t.DeliveryDaysMax,
		t.ProcessingFee, t.CustomsFee, t.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create tariff: %w", err)
	}
	return id, nil
}

// UpdateTariff обновляет существующий тариф.
func (r *PostgresRepository) UpdateTariff(ctx context.Context, t *model.Tariff) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE tariffs SET country_id = $2, warehouse_id = $3, warehouse_name = $4, name = $5,
			price_per_kg = $6, min_weight = $7, max_weight = $8,
			delivery_days_min = $9, delivery_days_max = $10,
			processing_fee = $11, customs_fee = $12, is_active = $13
		 WHERE id = $1`,
		t.ID, t.CountryID, t.WarehouseID, t.WarehouseName, t.Name,
		t.PricePerKg, t.MinWeight, t.MaxWeight,
		t.DeliveryDaysMin, t.DeliveryDaysMax,
		t.ProcessingFee, t.CustomsFee, t.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update tariff: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTariffNotFound
	}
	return nil
}

// DeactivateTariff выполняет мягкое удаление тарифа: тариф остаётся в истории,
// но перестаёт участвовать в расчётах.
func (r *PostgresRepository) DeactivateTariff(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE tariffs SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate tariff: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTariffNotFound
	}
	return nil
}

// GetTariffByID возвращает тариф по идентификатору.
func (r *PostgresRepository) GetTariffByID(ctx context.Context, id int64) (*model.Tariff, error) {
	return scanTariff(r.pool.QueryRow(ctx,
		`SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id))
}

func collectTariffs(rows pgx.Rows) ([]model.Tariff, error) {
	defer rows.Close()

	var res []model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListTariffs возвращает все активные тарифы страны отправления.
func (r *PostgresRepository) ListTariffs(ctx context.Context, countryID int64) ([]model.Tariff, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tariffColumns+`
		 FROM tariffs
		 WHERE country_id = $1 AND is_active
		 ORDER BY price_per_kg, id`,
		countryID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tariffs: %w", err)
	}
	return collectTariffs(rows)
}

// ListApplicableTariffs возвращает активные тарифы страны отправления, в весовую
// вилку которых попадает указанный вес, по возрастанию цены за килограмм.
func (r *PostgresRepository) ListApplicableTariffs(ctx context.Context, countryID int64, weight decimal.Decimal) ([]model.Tariff, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tariffColumns+`
		 FROM tariffs
		 WHERE country_id = $1
		   AND is_active
		   AND min_weight <= $2
		   AND (max_weight IS NULL OR max_weight >= $2)
		 ORDER BY price_per_kg, id`,
		countryID, weight,
	)
	if err != nil {
		return nil, fmt.Errorf("select applicable tariffs: %w", err)
	}
	return collectTariffs(rows)
}

const orderColumns = `id, user_id, type, status, tariff_id, warehouse_id, track_number,
	total_amount, currency, paid_at, cancel_reason, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Type, &o.Status, &o.TariffID, &o.WarehouseID, &o.TrackNumber,
		&o.TotalAmount, &o.Currency, &o.PaidAt, &o.CancelReason, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func newTrackNumber() string {
	return "CF-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
}

// CreateOrder создаёт заказ в статусе PENDING с уникальным трек-номером.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	// Уникальность трек-номера гарантирует БД; при коллизии генерируем новый.
	for attempt := 0; attempt < 3; attempt++ {
		track := newTrackNumber()
		row := r.pool.QueryRow(ctx,
			`INSERT INTO orders (user_id, type, status, tariff_id, warehouse_id, track_number, total_amount, currency)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+orderColumns,
			o.UserID, o.Type, model.OrderStatusPending, o.TariffID, o.WarehouseID, track, o.TotalAmount, o.Currency,
		)

		created, err := scanOrder(row)
		if err == nil {
			return created, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			continue
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	return nil, errors.New("create order: track number collision")
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderByTrack возвращает заказ по трек-номеру. Номер предварительно
// нормализуется вызывающей стороной к верхнему регистру.
func (r *PostgresRepository) GetOrderByTrack(ctx context.Context, track string) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE track_number = $1`, track))
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// GetOrderHistory возвращает историю статусов заказа в порядке добавления записей.
func (r *PostgresRepository) GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, from_status, to_status, changed_by, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order history: %w", err)
	}
	defer rows.Close()

	var res []model.StatusHistory
	for rows.Next() {
		var h model.StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		res = append(res, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID int64, from, to model.OrderStatus, changedBy string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, from_status, to_status, changed_by)
		 VALUES ($1, $2, $3, $4)`,
		orderID, from, to, changedBy)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// UpdateOrderStatus переводит заказ из статуса from в статус to и добавляет запись
// в историю в одной транзакции. Условие status = from в WHERE защищает от гонки
// параллельных переходов.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, changedBy string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
			orderID, from, to)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return ErrOrderNotFound
			}
			return ErrOrderStateConflict
		}

		if err := insertHistory(ctx, tx, orderID, from, to, changedBy); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// CancelOrder переводит заказ в CANCELLED с указанием причины.
func (r *PostgresRepository) CancelOrder(ctx context.Context, orderID int64, from model.OrderStatus, reason, changedBy string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $3, cancel_reason = $4 WHERE id = $1 AND status = $2`,
			orderID, from, model.OrderStatusCancelled, reason)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrOrderStateConflict
		}

		if err := insertHistory(ctx, tx, orderID, from, model.OrderStatusCancelled, changedBy); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// BulkUpdateOrderStatus переводит группу заказов в новый статус и пишет запись
// в журнал действий администратора в одной транзакции: либо обновляются все
// заказы и аудит, либо ничего.
func (r *PostgresRepository) BulkUpdateOrderStatus(ctx context.Context, orderIDs []int64, to model.OrderStatus, adminID int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, id := range orderIDs {
			var from model.OrderStatus
			err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&from)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
				}
				return fmt.Errorf("lock order: %w", err)
			}

			if !from.CanTransitionTo(to) {
				return fmt.Errorf("%w: order %d %s -> %s", ErrOrderStateConflict, id, from, to)
			}

			if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, to); err != nil {
				return fmt.Errorf("update order %d: %w", id, err)
			}
			if err := insertHistory(ctx, tx, id, from, to, fmt.Sprintf("admin:%d", adminID)); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO admin_audit_log (admin_id, action, object_type, object_id, details)
			 VALUES ($1, 'bulk_status_update', 'orders', $2, $3)`,
			adminID, fmt.Sprintf("%d orders", len(orderIDs)), map[string]string{"to_status": string(to)})
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

const transactionColumns = `id, user_id, order_id, type, amount, currency, method, status,
	external_id, metadata, created_at, processed_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Type, &t.Amount, &t.Currency, &t.Method, &t.Status,
		&t.ExternalID, &t.Metadata, &t.CreatedAt, &t.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// CreateTransaction создаёт транзакцию в статусе PENDING.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, order_id, type, amount, currency, method, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, t.OrderID, t.Type, t.Amount, t.Currency, t.Method, model.TransactionStatusPending, metadata,
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetTransaction возвращает транзакцию по идентификатору.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// SetTransactionExternalID сохраняет внешний идентификатор платёжного провайдера.
func (r *PostgresRepository) SetTransactionExternalID(ctx context.Context, id, externalID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET external_id = $2 WHERE id = $1`, id, externalID)
	if err != nil {
		return fmt.Errorf("set external id: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// SettleTransaction финализирует транзакцию по результату от провайдера.
// Условие status = PENDING в WHERE — единственная защита от повторной доставки
// вебхука: второй вызов по той же транзакции вернёт ErrTransactionProcessed.
// При успехе и наличии связанного заказа заказ переводится PENDING -> PAID
// с отметкой paid_at и записью в историю в той же транзакции БД. Второй
// результат сообщает, произошёл ли этот переход: заказ мог быть отменён
// до прихода вебхука.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, id string, externalID *string, status model.TransactionStatus, processedAt time.Time, metadata map[string]string) (*model.Transaction, bool, error) {
	var settled *model.Transaction
	var orderPaid bool

	err := r.withRetry(ctx, func() error {
		orderPaid = false
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if metadata == nil {
			metadata = map[string]string{}
		}

		row := tx.QueryRow(ctx,
			`UPDATE transactions
			 SET status = $2,
			     external_id = COALESCE($3, external_id),
			     processed_at = $4,
			     metadata = metadata || $5
			 WHERE id = $1 AND status = $6
			 RETURNING `+transactionColumns,
			id, status, externalID, processedAt, metadata, model.TransactionStatusPending,
		)

		t, err := scanTransaction(row)
		if err != nil {
			if errors.Is(err, ErrTransactionNotFound) {
				var exists bool
				if qErr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); qErr != nil {
					return fmt.Errorf("check transaction: %w", qErr)
				}
				if exists {
					return ErrTransactionProcessed
				}
				return ErrTransactionNotFound
			}
			return err
		}

		if status == model.TransactionStatusSuccess && t.OrderID != nil {
			cmdTag, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2, paid_at = $3 WHERE id = $1 AND status = $4`,
				*t.OrderID, model.OrderStatusPaid, processedAt, model.OrderStatusPending)
			if err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			if cmdTag.RowsAffected() == 1 {
				if err := insertHistory(ctx, tx, *t.OrderID, model.OrderStatusPending, model.OrderStatusPaid, "system"); err != nil {
					return err
				}
				orderPaid = true
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		settled = t
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return settled, orderPaid, nil
}

// PayFromBalance выполняет синхронную оплату с внутреннего или бонусного счёта.
// Списание выражено одним условным UPDATE: два конкурентных платежа за одну
// сумму не могут пройти оба, если средств хватает только на один — проверку
// и применение выполняет атомарно сама БД, без блокировок на уровне приложения.
// Второй результат сообщает, был ли связанный заказ переведён в PAID.
func (r *PostgresRepository) PayFromBalance(ctx context.Context, txID string, userID int64, amount decimal.Decimal, bonus bool, orderID *int64) (bool, error) {
	var orderPaid bool
	err := r.withRetry(ctx, func() error {
		orderPaid = false
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		query := `UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2`
		insufficient := ErrInsufficientBalance
		if bonus {
			query = `UPDATE users SET bonus_balance = bonus_balance - $2 WHERE id = $1 AND bonus_balance >= $2`
			insufficient = ErrInsufficientBonus
		}

		cmdTag, err := tx.Exec(ctx, query, userID, amount)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return insufficient
		}

		now := time.Now()
		cmdTag, err = tx.Exec(ctx,
			`UPDATE transactions SET status = $2, processed_at = $3 WHERE id = $1 AND status = $4`,
			txID, model.TransactionStatusSuccess, now, model.TransactionStatusPending)
		if err != nil {
			return fmt.Errorf("mark transaction success: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTransactionProcessed
		}

		if orderID != nil {
			cmdTag, err = tx.Exec(ctx,
				`UPDATE orders SET status = $2, paid_at = $3 WHERE id = $1 AND status = $4`,
				*orderID, model.OrderStatusPaid, now, model.OrderStatusPending)
			if err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			if cmdTag.RowsAffected() == 1 {
				if err := insertHistory(ctx, tx, *orderID, model.OrderStatusPending, model.OrderStatusPaid, "system"); err != nil {
					return err
				}
				orderPaid = true
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return orderPaid, err
}

// FinalizeRefund завершает возврат: выставляет итоговый статус возвратной
// транзакции, помечает исходную транзакцию REFUNDED и переводит связанный заказ
// в REFUNDED. При возврате на внутренний или бонусный счёт средства зачисляются
// в той же транзакции БД.
func (r *PostgresRepository) FinalizeRefund(ctx context.Context, refundTxID, originalTxID string, status model.TransactionStatus, creditUserID *int64, creditAmount decimal.Decimal, creditBonus bool, orderID *int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		now := time.Now()

		if creditUserID != nil {
			query := `UPDATE users SET balance = balance + $2 WHERE id = $1`
			if creditBonus {
				query = `UPDATE users SET bonus_balance = bonus_balance + $2 WHERE id = $1`
			}
			cmdTag, err := tx.Exec(ctx, query, *creditUserID, creditAmount)
			if err != nil {
				return fmt.Errorf("credit balance: %w", err)
			}
			if cmdTag.RowsAffected() == 0 {
				return ErrUserNotFound
			}
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE transactions SET status = $2, processed_at = $3 WHERE id = $1`,
			refundTxID, status, now)
		if err != nil {
			return fmt.Errorf("update refund transaction: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}

		cmdTag, err = tx.Exec(ctx,
			`UPDATE transactions SET status = $2, processed_at = $3 WHERE id = $1`,
			originalTxID, model.TransactionStatusRefunded, now)
		if err != nil {
			return fmt.Errorf("mark original refunded: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}

		if orderID != nil {
			var from model.OrderStatus
			err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, *orderID).Scan(&from)
			if err != nil {
				return fmt.Errorf("lock order: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, *orderID, model.OrderStatusRefunded); err != nil {
				return fmt.Errorf("mark order refunded: %w", err)
			}
			if err := insertHistory(ctx, tx, *orderID, from, model.OrderStatusRefunded, "system"); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ExpirePendingTransactions отменяет транзакции, зависшие в PENDING дольше ttl:
// брошенные платёжные сессии, по которым вебхук так и не пришёл.
func (r *PostgresRepository) ExpirePendingTransactions(ctx context.Context, ttl time.Duration) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE transactions
		 SET status = $1, processed_at = NOW()
		 WHERE status = $2 AND created_at < NOW() - $3::interval`,
		model.TransactionStatusCancelled, model.TransactionStatusPending,
		fmt.Sprintf("%d seconds", int64(ttl.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("expire pending transactions: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
