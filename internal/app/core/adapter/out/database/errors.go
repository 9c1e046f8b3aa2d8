package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// Postgres SQLSTATE
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MySQL error numbers
const (
	myLockWaitTimeout = 1205
	myDeadlock        = 1213
)

// 業務錯誤原樣往上傳
var passthrough = []error{
	domain.ErrAccountNotFound,
	domain.ErrLimitExceeded,
	domain.ErrOverflow,
	domain.ErrAmountMustBePositive,
	domain.ErrUnknownKind,
	domain.ErrBusy,
	domain.ErrStorageFault,
}

// mapStorageError 把驅動層的錯誤轉成 domain 錯誤
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrAccountNotFound
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrBusy, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", domain.ErrBusy, err)
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case myLockWaitTimeout, myDeadlock:
			return fmt.Errorf("%w: %w", domain.ErrBusy, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageFault, err)
}
