package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	Limit     int64     `gorm:"column:balance_limit;not null"`
	Balance   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// 最後一筆異動的時間，和餘額在同一把 row lock 下更新
	LastMovementAt *time.Time
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:        a.ID,
		Limit:     a.Limit,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
	}
}

// sqlMovement 對應資料庫的 movements 表，只會新增
type sqlMovement struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	RefID       string    `gorm:"column:ref_id;type:char(36);uniqueIndex"`
	AccountID   int64     `gorm:"not null;index:idx_movements_account_created,priority:1"`
	Amount      int64     `gorm:"not null"`
	Kind        string    `gorm:"type:char(1);not null"`
	Description string    `gorm:"type:varchar(10);not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_movements_account_created,priority:2"`
}

func (*sqlMovement) TableName() string {
	return "movements"
}

func (m *sqlMovement) toDomain() (domain.Movement, error) {
	kind, err := domain.ParseKind(m.Kind)
	if err != nil {
		return domain.Movement{}, fmt.Errorf("movement %d: %w", m.ID, err)
	}
	refID, err := uuid.Parse(m.RefID)
	if err != nil {
		return domain.Movement{}, fmt.Errorf("movement %d ref_id: %w", m.ID, err)
	}
	return domain.Movement{
		ID:          m.ID,
		RefID:       refID,
		AccountID:   m.AccountID,
		Amount:      m.Amount,
		Kind:        kind,
		Description: m.Description,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}
