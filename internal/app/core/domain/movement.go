package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatementSize 對帳單最多回傳的異動筆數
const StatementSize = 10

// Kind 異動類型
// 為了節省記憶體，使用 uint8
type Kind uint8

const (
	// 入帳
	KindCredit Kind = 1
	// 扣款
	KindDebit Kind = 2
)

// ParseKind 將外部符號 ("c"/"d") 轉成 Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "c":
		return KindCredit, nil
	case "d":
		return KindDebit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindCredit:
		return "c"
	case KindDebit:
		return "d"
	default:
		return "unknown"
	}
}

// MarshalText WAL 與 JSON 皆以 "c"/"d" 儲存
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindCredit && k != KindDebit {
		return nil, ErrUnknownKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MovementRequest 外部傳入、尚未驗證的異動請求
type MovementRequest struct {
	Amount      uint64 `json:"amount" validate:"gt=0,lte=9223372036854775807"`
	Kind        string `json:"kind" validate:"oneof=c d"`
	Description string `json:"description" validate:"min=1,max=10"`
}

// Order 通過驗證、可以交給帳本執行的異動
type Order struct {
	Amount      int64
	Kind        Kind
	Description string
}

// Movement 一筆已入帳的異動，建立後不再修改
type Movement struct {
	// ID: 單調遞增的流水號，同一時間戳時用來決定先後
	ID int64 `json:"id"`
	// RefID: 外部追蹤號，WAL 重放時用來去重
	RefID       uuid.UUID `json:"ref_id"`
	AccountID   int64     `json:"account_id"`
	Amount      int64     `json:"amount"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Statement 對帳單：目前餘額 + 最近的異動 (新到舊)
type Statement struct {
	Balance   int64
	Limit     int64
	AsOf      time.Time
	Movements []Movement
}
