package domain

import (
	"math"
	"time"
)

// Account 帳戶
//
// Limit 建立後不可變；Balance 最低可到 -Limit，只能透過異動改變。
type Account struct {
	ID        int64
	Limit     int64
	Balance   int64
	CreatedAt time.Time
}

func NewAccount(id int64, limit int64, balance int64) *Account {
	return &Account{
		ID:        id,
		Limit:     limit,
		Balance:   balance,
		CreatedAt: time.Now(),
	}
}

// NextBalance 計算套用一筆異動後的餘額 (不修改帳戶)
//
// 參數:
//
//	kind: 異動類型 (Credit/Debit)
//	amount: 金額，必須 > 0
//
// 回傳:
//
//	int64: 新餘額
//	error: ErrLimitExceeded / ErrOverflow / ErrAmountMustBePositive / ErrUnknownKind
func (a *Account) NextBalance(kind Kind, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrAmountMustBePositive
	}

	switch kind {
	case KindCredit:
		if a.Balance > math.MaxInt64-amount {
			return 0, ErrOverflow
		}
		return a.Balance + amount, nil
	case KindDebit:
		// 會下溢的扣款必然低於 -Limit
		if a.Balance < math.MinInt64+amount {
			return 0, ErrLimitExceeded
		}
		next := a.Balance - amount
		if next < -a.Limit {
			return 0, ErrLimitExceeded
		}
		return next, nil
	default:
		return 0, ErrUnknownKind
	}
}

// Apply 套用異動，失敗時餘額不變
func (a *Account) Apply(kind Kind, amount int64) error {
	next, err := a.NextBalance(kind, amount)
	if err != nil {
		return err
	}
	a.Balance = next
	return nil
}

// State 回傳對外的 {balance, limit}
func (a *Account) State() AccountState {
	return AccountState{Balance: a.Balance, Limit: a.Limit}
}

// AccountState 異動成功後回傳給呼叫端的帳戶狀態
type AccountState struct {
	Balance int64
	Limit   int64

	// MovementID 產生此狀態的異動流水號，同一帳戶內隨提交順序遞增
	MovementID int64
}
