// Package validator 在碰到帳本之前擋掉格式錯誤的異動請求。
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// MovementValidator 純函式式的請求檢查，沒有狀態，可並行使用
type MovementValidator struct {
	validate *playground.Validate
}

func New() *MovementValidator {
	v := playground.New(playground.WithRequiredStructEnabled())
	// 錯誤回報用 json tag 當欄位名稱，正好對應規則名稱
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &MovementValidator{validate: v}
}

// Validate 檢查金額、類型與描述
//
// 描述長度以字元 (rune) 計算，不是位元組。
//
// 回傳:
//
//	domain.Order: 可交給帳本的異動
//	error: *domain.ValidationError (errors.Is ErrValidationFailed)
func (m *MovementValidator) Validate(req domain.MovementRequest) (domain.Order, error) {
	if err := m.validate.Struct(req); err != nil {
		var fieldErrs playground.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.Order{}, &domain.ValidationError{Rule: fe.Field(), Reason: fe.Tag()}
		}
		return domain.Order{}, fmt.Errorf("validate movement request: %w", err)
	}

	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return domain.Order{}, &domain.ValidationError{Rule: domain.RuleKind, Reason: err.Error()}
	}

	return domain.Order{
		Amount:      int64(req.Amount),
		Kind:        kind,
		Description: req.Description,
	}, nil
}
