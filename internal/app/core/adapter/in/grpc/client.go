package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// Client LedgerService 的型別化客戶端，錯誤會轉回 domain 錯誤
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// ApplyMovement 送出一筆異動
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//	req: 未驗證的異動請求 (由伺服器端驗證)
//
// 回傳:
//
//	domain.AccountState: 套用後的 {balance, limit}
//	error: domain 錯誤 (ErrAccountNotFound / ErrValidationFailed / ErrLimitExceeded / ErrBusy ...)
func (c *Client) ApplyMovement(ctx context.Context, accountID int64, req domain.MovementRequest) (domain.AccountState, error) {
	in, err := structpb.NewStruct(map[string]any{
		fieldAccountID:   formatInt(accountID),
		fieldAmount:      fmt.Sprintf("%d", req.Amount),
		fieldKind:        req.Kind,
		fieldDescription: req.Description,
	})
	if err != nil {
		return domain.AccountState{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, applyMovementMethod, in, out); err != nil {
		return domain.AccountState{}, errorFromStatus(err)
	}
	return decodeState(out)
}

// GetStatement 取得對帳單
func (c *Client) GetStatement(ctx context.Context, accountID int64) (*domain.Statement, error) {
	in, err := structpb.NewStruct(map[string]any{
		fieldAccountID: formatInt(accountID),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getStatementMethod, in, out); err != nil {
		return nil, errorFromStatus(err)
	}
	return decodeStatement(out)
}

// errorFromStatus gRPC status code -> domain 錯誤
func errorFromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = domain.ErrAccountNotFound
	case codes.InvalidArgument:
		sentinel = domain.ErrValidationFailed
	case codes.FailedPrecondition:
		sentinel = domain.ErrLimitExceeded
	case codes.OutOfRange:
		sentinel = domain.ErrOverflow
	case codes.Unavailable, codes.DeadlineExceeded:
		sentinel = domain.ErrBusy
	default:
		sentinel = domain.ErrStorageFault
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
