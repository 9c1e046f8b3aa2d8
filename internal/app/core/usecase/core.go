package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/validator"
)

// 異動結果標籤，給 Recorder 使用
const (
	OutcomeApplied       = "applied"
	OutcomeLimitExceeded = "limit_exceeded"
	OutcomeInvalid       = "invalid"
	OutcomeNotFound      = "not_found"
	OutcomeBusy          = "busy"
	OutcomeError         = "error"
)

// CoreUseCase 是核心業務邏輯層
type CoreUseCase struct {
	ledger      Ledger
	validator   *validator.MovementValidator
	logger      *slog.Logger
	recorder    Recorder
	busyRetries uint64
	retryBase   time.Duration
}

// Option 定義了 CoreUseCase 的配置選項函數
type Option func(*CoreUseCase)

// WithBusyRetries 帳戶忙碌時整個操作最多重放幾次 (0 = 不重放)
func WithBusyRetries(n uint64) Option {
	return func(c *CoreUseCase) {
		c.busyRetries = n
	}
}

// WithRetryInterval 重放的起始間隔
func WithRetryInterval(d time.Duration) Option {
	return func(c *CoreUseCase) {
		c.retryBase = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *CoreUseCase) {
		c.logger = logger
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *CoreUseCase) {
		c.recorder = r
	}
}

func NewCoreUseCase(ledger Ledger, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		ledger:    ledger,
		validator: validator.New(),
		logger:    slog.Default(),
		retryBase: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostMovement 驗證請求後交給帳本執行
//
// 參數:
//
//	ctx: 上下文 (deadline 同時限制等待帳戶鎖與重放)
//	accountID: 帳戶 ID
//	req: 未驗證的異動請求
//
// 回傳:
//
//	domain.AccountState: 套用後的 {balance, limit}
//	error: ValidationError / ErrAccountNotFound / ErrLimitExceeded / ErrBusy / ErrStorageFault
func (c *CoreUseCase) PostMovement(ctx context.Context, accountID int64, req domain.MovementRequest) (domain.AccountState, error) {
	start := time.Now()
	order, err := c.validator.Validate(req)
	if err != nil {
		c.observe(0, err, start)
		return domain.AccountState{}, err
	}

	var state domain.AccountState
	var lastErr error
	op := func() error {
		s, err := c.ledger.ApplyMovement(ctx, accountID, order)
		if err != nil {
			lastErr = err
			if domain.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		state = s
		return nil
	}

	err = backoff.RetryNotify(op, c.newBackOff(ctx), func(err error, wait time.Duration) {
		c.logger.DebugContext(ctx, "account busy, replaying movement",
			slog.Int64("account_id", accountID),
			slog.Duration("wait", wait))
	})
	// ctx 到期時 backoff 回傳的是 ctx 錯誤，對外仍視為忙碌
	if err != nil && lastErr != nil && domain.IsRetryable(lastErr) && !domain.IsRetryable(err) {
		err = lastErr
	}
	c.observe(order.Kind, err, start)
	if err != nil {
		if !isExpected(err) {
			c.logger.ErrorContext(ctx, "apply movement failed",
				slog.Int64("account_id", accountID),
				slog.String("kind", order.Kind.String()),
				slog.Any("error", err))
		}
		return domain.AccountState{}, err
	}

	if c.recorder != nil {
		c.recorder.SetBalance(accountID, state.MovementID, state.Balance)
	}
	return state, nil
}

// GetStatement 取得帳戶對帳單
func (c *CoreUseCase) GetStatement(ctx context.Context, accountID int64) (*domain.Statement, error) {
	stmt, err := c.ledger.GetStatement(ctx, accountID)
	if err != nil && !isExpected(err) {
		c.logger.ErrorContext(ctx, "get statement failed",
			slog.Int64("account_id", accountID),
			slog.Any("error", err))
	}
	return stmt, err
}

func (c *CoreUseCase) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBase
	eb.MaxInterval = 20 * c.retryBase
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, c.busyRetries), ctx)
}

func (c *CoreUseCase) observe(kind domain.Kind, err error, start time.Time) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveMovement(kind.String(), Outcome(err), time.Since(start).Seconds())
}

// Outcome 把錯誤歸類成指標標籤
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, domain.ErrLimitExceeded), errors.Is(err, domain.ErrOverflow):
		return OutcomeLimitExceeded
	case errors.Is(err, domain.ErrValidationFailed):
		return OutcomeInvalid
	case errors.Is(err, domain.ErrAccountNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrBusy):
		return OutcomeBusy
	default:
		return OutcomeError
	}
}

// 業務上的拒絕不需要 error log
func isExpected(err error) bool {
	return Outcome(err) != OutcomeError
}
