package usecase

import (
	"context"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// Ledger 是帳務儲存的介面 (sql / mutex / lmax 三種實作)
type Ledger interface {
	// ApplyMovement 對單一帳戶套用一筆已驗證的異動，回傳套用後的狀態
	ApplyMovement(ctx context.Context, accountID int64, order domain.Order) (domain.AccountState, error)
	// GetStatement 取得對帳單 (餘額 + 最近 10 筆異動)
	GetStatement(ctx context.Context, accountID int64) (*domain.Statement, error)
	// LoadAllAccounts 載入所有帳戶
	LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error)
}

// Recorder 接收業務指標，nil 時不記錄
type Recorder interface {
	ObserveMovement(kind string, outcome string, seconds float64)
	// SetBalance movementID 比已記錄的舊時應忽略 (並行的成功結果可能晚到)
	SetBalance(accountID int64, movementID int64, balance int64)
}
