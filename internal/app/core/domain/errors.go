package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAmountMustBePositive 金額必須為正數
	ErrAmountMustBePositive = errors.New("amount must be positive")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrLimitExceeded 超過透支額度，本次異動不生效
	ErrLimitExceeded = errors.New("overdraft limit exceeded")

	// ErrOverflow 入帳後餘額超出 int64 範圍
	ErrOverflow = errors.New("balance overflow")

	// ErrUnknownKind 無法辨識的異動類型
	ErrUnknownKind = errors.New("unknown movement kind")

	// ErrValidationFailed 請求格式不合法 (由 ValidationError 包裝)
	ErrValidationFailed = errors.New("validation failed")

	// ErrBusy 帳戶忙碌中 (等待獨占鎖逾時)，可重試
	ErrBusy = errors.New("account busy, retry later")

	// ErrStorageFault 儲存層非預期錯誤
	ErrStorageFault = errors.New("storage fault")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = fmt.Errorf("%w: wal write failed", ErrStorageFault)

	// ErrEngineStopped 帳本引擎未啟動或已關閉
	ErrEngineStopped = fmt.Errorf("%w: ledger engine stopped", ErrStorageFault)
)

// 驗證規則名稱
const (
	RuleAmount      = "amount"
	RuleKind        = "kind"
	RuleDescription = "description"
)

// ValidationError 指出哪一條驗證規則失敗
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation failed: %s", e.Rule)
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Rule, e.Reason)
}

// Is 讓 errors.Is(err, ErrValidationFailed) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// IsRetryable 只有 Busy 類錯誤可以整筆重試
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
