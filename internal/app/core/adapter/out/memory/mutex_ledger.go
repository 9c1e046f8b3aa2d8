package memory

import (
	"context"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

// MutexLedger 是一個使用「每帳戶一把鎖」實現的帳本
//
// 不同帳戶互不阻塞；同一帳戶的寫入依取得鎖的順序完全排序。
// 等鎖有上限 (WithLockTimeout)，逾時回傳 ErrBusy。
type MutexLedger struct {
	*bookkeeper
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	accounts: 初始帳戶資料 Map (會複製一份，不會修改傳入的物件)
//	wal: Write-Ahead Log 實例，nil 代表不落盤
//	opts: 選項
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(accounts map[int64]*domain.Account, wal *wal.WAL, opts ...Option) (*MutexLedger, error) {
	k, err := newBookkeeper(accounts, wal, opts)
	if err != nil {
		return nil, err
	}
	return &MutexLedger{bookkeeper: k}, nil
}

// ApplyMovement 套用異動
//
// 參數:
//
//	ctx: 上下文 (deadline 會縮短等鎖時間)
//	accountID: 帳戶 ID
//	order: 已驗證的異動
//
// 回傳:
//
//	domain.AccountState: 套用後的 {balance, limit}
//	error: ErrAccountNotFound / ErrBusy / ErrLimitExceeded / ErrOverflow / ErrWALWriteFailed
func (m *MutexLedger) ApplyMovement(ctx context.Context, accountID int64, order domain.Order) (domain.AccountState, error) {
	book, err := m.book(accountID)
	if err != nil {
		return domain.AccountState{}, err
	}
	if err := book.acquire(ctx, m.opts.lockTimeout); err != nil {
		return domain.AccountState{}, err
	}
	defer book.release()

	return m.apply(book, order)
}

var _ usecase.Ledger = (*MutexLedger)(nil)
