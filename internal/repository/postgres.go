// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/ibrokxim/bitrix-telegram/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если статус заказа изменился между чтением
	// и условным обновлением.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrDuplicateDealBinding возвращается при попытке привязать сделку,
	// уже привязанную к другому заказу.
	ErrDuplicateDealBinding = errors.New("deal already bound to another order")
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

// withRetry повторяет временные сбои (serialization failure, deadlock, обрыв
// соединения) с фибоначчи-паузами. Доменные ошибки не повторяются.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, first_name, second_name, last_name, phone, is_legal_entity,
	 inn, company_name, position, telegram_chat_id, bitrix_contact_id,
	 bitrix_company_id, status, created_at, last_sync_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var status string
	err := row.Scan(
		&u.ID, &u.FirstName, &u.SecondName, &u.LastName, &u.Phone, &u.IsLegalEntity,
		&u.INN, &u.CompanyName, &u.Position, &u.TelegramChatID, &u.BitrixContactID,
		&u.BitrixCompanyID, &status, &u.CreatedAt, &u.LastSyncAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Status = model.UserStatus(status)
	return &u, nil
}

// UpsertPendingUser создаёт заявку пользователя или обновляет существующую
// по telegram_chat_id, переводя её в статус pending.
func (r *PostgresRepository) UpsertPendingUser(ctx context.Context, u model.User) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO users (first_name, second_name, last_name, phone, is_legal_entity,
			                    inn, company_name, position, telegram_chat_id, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (telegram_chat_id) DO UPDATE SET
			     first_name = EXCLUDED.first_name,
			     second_name = EXCLUDED.second_name,
			     last_name = EXCLUDED.last_name,
			     phone = EXCLUDED.phone,
			     is_legal_entity = EXCLUDED.is_legal_entity,
			     inn = EXCLUDED.inn,
			     company_name = EXCLUDED.company_name,
			     position = EXCLUDED.position,
			     status = EXCLUDED.status
			 RETURNING id`,
			u.FirstName, u.SecondName, u.LastName, u.Phone, u.IsLegalEntity,
			u.INN, u.CompanyName, u.Position, u.TelegramChatID, string(model.UserStatusPending),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}
	return id, nil
}

// EnsureUserForChat создаёт пустую pending-запись для чата, если её ещё нет.
func (r *PostgresRepository) EnsureUserForChat(ctx context.Context, chatID int64) error {
	err := r.withRetry(ctx, func() error {
		_, execErr := r.pool.Exec(ctx,
			`INSERT INTO users (telegram_chat_id, status) VALUES ($1, $2)
			 ON CONFLICT (telegram_chat_id) DO NOTHING`,
			chatID, string(model.UserStatusPending),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("ensure user for chat: %w", err)
	}
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u *model.User
	err := r.withRetry(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByChatID возвращает пользователя по идентификатору Telegram-чата.
func (r *PostgresRepository) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	var u *model.User
	err := r.withRetry(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE telegram_chat_id = $1`, chatID))
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUserStatus обновляет статус рассмотрения заявки пользователя.
func (r *PostgresRepository) UpdateUserStatus(ctx context.Context, id int64, status model.UserStatus) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET status = $2 WHERE id = $1`,
			id, string(status),
		)
		if err != nil {
			return fmt.Errorf("update user status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// SetBitrixIDs сохраняет идентификаторы контакта и компании Битрикс24 и отметку
// о синхронизации.
func (r *PostgresRepository) SetBitrixIDs(ctx context.Context, userID int64, contactID, companyID *string) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET bitrix_contact_id = $2, bitrix_company_id = $3, last_sync_at = now()
			 WHERE id = $1`,
			userID, contactID, companyID,
		)
		if err != nil {
			return fmt.Errorf("set bitrix ids: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

const orderColumns = `id, user_id, total_amount, products, status, bitrix_deal_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	var items []byte
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &items, &status, &o.BitrixDealID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	}
	return &o, nil
}

// CreateOrder сохраняет новый заказ в статусе "new".
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID int64, totalAmount int64, items []model.OrderItem) (*model.Order, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal order items: %w", err)
	}

	var order *model.Order
	err = r.withRetry(ctx, func() error {
		o, scanErr := scanOrder(r.pool.QueryRow(ctx,
			`INSERT INTO orders (user_id, total_amount, products, status)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+orderColumns,
			userID, totalAmount, data, string(model.OrderStatusNew),
		))
		if scanErr != nil {
			return scanErr
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// GetOrderByDealID возвращает заказ, привязанный к сделке Битрикс24.
func (r *PostgresRepository) GetOrderByDealID(ctx context.Context, dealID string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var scanErr error
		o, scanErr = scanOrder(r.pool.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE bitrix_deal_id = $1`, dealID))
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	var orders []model.Order
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		defer rows.Close()

		orders = orders[:0]
		for rows.Next() {
			o, scanErr := scanOrder(rows)
			if scanErr != nil {
				return scanErr
			}
			orders = append(orders, *o)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// CountOrdersByUser возвращает число заказов пользователя. Используется при
// выборе стартовой воронки сделки: первый заказ и повторный идут в разные категории.
func (r *PostgresRepository) CountOrdersByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID,
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// BindDealID привязывает сделку Битрикс24 к заказу. Привязка однократная:
// заказ с уже сохранённой сделкой не перепривязывается, повторная привязка
// той же сделки не считается ошибкой.
func (r *PostgresRepository) BindDealID(ctx context.Context, orderID int64, dealID string) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET bitrix_deal_id = $2, updated_at = now()
			 WHERE id = $1 AND bitrix_deal_id IS NULL`,
			orderID, dealID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: deal %s", ErrDuplicateDealBinding, dealID)
			}
			return fmt.Errorf("bind deal id: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		// Ноль затронутых строк: либо заказа нет, либо сделка уже привязана.
		var current *string
		err = r.pool.QueryRow(ctx,
			`SELECT bitrix_deal_id FROM orders WHERE id = $1`, orderID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("read current deal binding: %w", err)
		}
		return resolveBindConflict(current, dealID)
	})
}

// resolveBindConflict интерпретирует существующую привязку при неуспешном
// условном UPDATE: повторная привязка той же сделки идемпотентна, другой
// сделки запрещена.
func resolveBindConflict(current *string, dealID string) error {
	switch {
	case current == nil:
		return fmt.Errorf("bind deal id: binding is empty after conditional update")
	case *current == dealID:
		return nil
	default:
		return fmt.Errorf("%w: order already bound to deal %s", ErrDuplicateDealBinding, *current)
	}
}

// CompareAndSetStatus атомарно переводит заказ из expected в next одним условным
// UPDATE. Это единственная точка изменения статуса: параллельные доставки одного
// события сериализуются здесь, а не блокировками.
func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, orderID int64, expected, next model.OrderStatus) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $3, updated_at = now()
			 WHERE id = $1 AND status = $2`,
			orderID, string(expected), string(next),
		)
		if err != nil {
			return fmt.Errorf("compare-and-set status: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		// Ноль затронутых строк: либо заказа нет, либо статус уже другой.
		var current string
		err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("read current status: %w", err)
		}
		return fmt.Errorf("%w: expected %s, have %s", ErrStatusConflict, expected, current)
	})
}

// OrderForSync описывает заказ, подлежащий фоновой сверке со сделкой Битрикс24.
type OrderForSync struct {
	OrderID int64
	DealID  string
}

// GetOrdersForSync возвращает незавершённые заказы с привязанной сделкой —
// кандидатов для фоновой сверки статусов.
func (r *PostgresRepository) GetOrdersForSync(ctx context.Context, limit int) ([]OrderForSync, error) {
	var res []OrderForSync
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, bitrix_deal_id
			 FROM orders
			 WHERE bitrix_deal_id IS NOT NULL
			   AND status NOT IN ($1, $2, $3)
			 ORDER BY updated_at
			 LIMIT $4`,
			string(model.OrderStatusCompleted),
			string(model.OrderStatusCanceled),
			string(model.OrderStatusRejected),
			limit,
		)
		if err != nil {
			return fmt.Errorf("select orders for sync: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var o OrderForSync
			if err := rows.Scan(&o.OrderID, &o.DealID); err != nil {
				return fmt.Errorf("scan order for sync: %w", err)
			}
			res = append(res, o)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
