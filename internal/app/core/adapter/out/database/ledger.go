package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/sqldb"
)

// Option 定義了 SQLLedger 的配置選項函數
type Option func(*SQLLedger)

// WithLockTimeout 等待 row lock 的上限，逾時回傳 ErrBusy
func WithLockTimeout(d time.Duration) Option {
	return func(l *SQLLedger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithClock 替換異動時間來源 (測試用)
func WithClock(clock func() time.Time) Option {
	return func(l *SQLLedger) {
		l.clock = clock
	}
}

// SQLLedger 以資料庫交易 + SELECT ... FOR UPDATE 實作的帳本
type SQLLedger struct {
	client      *sqldb.Client
	lockTimeout time.Duration
	clock       func() time.Time
}

func NewSQLLedger(client *sqldb.Client, opts ...Option) *SQLLedger {
	l := &SQLLedger{
		client:      client,
		lockTimeout: 2 * time.Second,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Migrate 建立/更新資料表
func (l *SQLLedger) Migrate(ctx context.Context) error {
	if err := l.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlMovement{}); err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}
	return nil
}

// Seed 建立初始帳戶；已存在的帳戶保持原狀 (不會重置餘額)
func (l *SQLLedger) Seed(ctx context.Context, accounts []*domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	rows := make([]sqlAccount, 0, len(accounts))
	now := l.clock().UTC()
	for _, acc := range accounts {
		rows = append(rows, sqlAccount{ID: acc.ID, Limit: acc.Limit, Balance: acc.Balance, CreatedAt: now})
	}
	err := l.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed accounts: %w", mapStorageError(err))
	}
	return nil
}

// ApplyMovement 在單一交易中鎖住帳戶列、檢查額度、更新餘額並寫入異動
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//	order: 已驗證的異動
//
// 回傳:
//
//	domain.AccountState: 套用後的 {balance, limit}
//	error: ErrAccountNotFound / ErrBusy / ErrLimitExceeded / ErrOverflow / ErrStorageFault
func (l *SQLLedger) ApplyMovement(ctx context.Context, accountID int64, order domain.Order) (domain.AccountState, error) {
	var state domain.AccountState
	err := l.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.setLockTimeout(tx); err != nil {
			return err
		}

		// 悲觀鎖：同一帳戶的更新在這裡排隊
		var row sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", accountID).
			Take(&row).Error; err != nil {
			return err
		}

		next, err := row.toDomain().NextBalance(order.Kind, order.Amount)
		if err != nil {
			return err
		}

		// 多個實例共用資料庫時時鐘可能不同步，同一帳戶的異動時間不倒退
		createdAt := l.clock().UTC()
		if row.LastMovementAt != nil && createdAt.Before(*row.LastMovementAt) {
			createdAt = row.LastMovementAt.UTC()
		}

		if err := tx.Model(&sqlAccount{}).Where("id = ?", accountID).Updates(map[string]any{
			"balance":          next,
			"last_movement_at": createdAt,
		}).Error; err != nil {
			return err
		}
		movement := sqlMovement{
			RefID:       uuid.NewString(),
			AccountID:   accountID,
			Amount:      order.Amount,
			Kind:        order.Kind.String(),
			Description: order.Description,
			CreatedAt:   createdAt,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return err
		}

		state = domain.AccountState{Balance: next, Limit: row.Limit, MovementID: movement.ID}
		return nil
	})
	if err != nil {
		return domain.AccountState{}, mapStorageError(err)
	}
	return state, nil
}

// setLockTimeout 只影響目前這個交易 (postgres) / 連線 (mysql)
func (l *SQLLedger) setLockTimeout(tx *gorm.DB) error {
	switch l.client.Driver() {
	case sqldb.DriverMySQL:
		// innodb 最小單位是秒
		secs := int64(math.Ceil(l.lockTimeout.Seconds()))
		return tx.Exec("SET SESSION innodb_lock_wait_timeout = ?", max(secs, 1)).Error
	default:
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())).Error
	}
}

// GetStatement 在同一個唯讀快照中讀取餘額與最近的異動
func (l *SQLLedger) GetStatement(ctx context.Context, accountID int64) (*domain.Statement, error) {
	var stmt *domain.Statement
	err := l.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sqlAccount
		if err := tx.Where("id = ?", accountID).Take(&row).Error; err != nil {
			return err
		}

		var rows []sqlMovement
		if err := tx.Where("account_id = ?", accountID).
			Order("created_at DESC").
			Order("id DESC").
			Limit(domain.StatementSize).
			Find(&rows).Error; err != nil {
			return err
		}

		movements := make([]domain.Movement, 0, len(rows))
		for i := range rows {
			mv, err := rows[i].toDomain()
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrStorageFault, err)
			}
			movements = append(movements, mv)
		}
		stmt = &domain.Statement{
			Balance:   row.Balance,
			Limit:     row.Limit,
			AsOf:      l.clock().UTC(),
			Movements: movements,
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, mapStorageError(err)
	}
	return stmt, nil
}

// LoadAllAccounts 載入所有帳戶 (記憶體引擎啟動時用來取得初始狀態)
func (l *SQLLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	var rows []sqlAccount
	if err := l.client.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, mapStorageError(err)
	}
	accounts := make(map[int64]*domain.Account, len(rows))
	for i := range rows {
		accounts[rows[i].ID] = rows[i].toDomain()
	}
	return accounts, nil
}

var _ usecase.Ledger = (*SQLLedger)(nil)
