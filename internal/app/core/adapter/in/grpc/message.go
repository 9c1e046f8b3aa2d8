package grpc

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// 訊息欄位名稱
const (
	fieldAccountID   = "account_id"
	fieldAmount      = "amount"
	fieldKind        = "kind"
	fieldDescription = "description"
	fieldBalance     = "balance"
	fieldLimit       = "limit"
	fieldAsOf        = "as_of"
	fieldMovements   = "movements"
	fieldID          = "id"
	fieldRefID       = "ref_id"
	fieldCreatedAt   = "created_at"
)

// double 能精確表示的最大整數
const maxExactFloat = 1 << 53

func int64Field(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
			return 0, fmt.Errorf("field %q: %v is not an exact integer", key, f)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("field %q: expected integer", key)
	}
}

// uint64Field 金額不接受負號；超過 int64 的值留給驗證器拒絕
func uint64Field(s *structpb.Struct, key string) (uint64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(kind.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f < 0 || f != math.Trunc(f) || f > maxExactFloat {
			return 0, fmt.Errorf("field %q: %v is not an exact non-negative integer", key, f)
		}
		return uint64(f), nil
	default:
		return 0, fmt.Errorf("field %q: expected integer", key)
	}
}

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("field %q: expected string", key)
	}
	return str.StringValue, nil
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeState(state domain.AccountState) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldBalance: formatInt(state.Balance),
		fieldLimit:   formatInt(state.Limit),
	})
}

func encodeStatement(stmt *domain.Statement) (*structpb.Struct, error) {
	movements := make([]any, 0, len(stmt.Movements))
	for _, mv := range stmt.Movements {
		movements = append(movements, map[string]any{
			fieldID:          formatInt(mv.ID),
			fieldRefID:       mv.RefID.String(),
			fieldAmount:      formatInt(mv.Amount),
			fieldKind:        mv.Kind.String(),
			fieldDescription: mv.Description,
			fieldCreatedAt:   formatTime(mv.CreatedAt),
		})
	}
	return structpb.NewStruct(map[string]any{
		fieldBalance:   formatInt(stmt.Balance),
		fieldLimit:     formatInt(stmt.Limit),
		fieldAsOf:      formatTime(stmt.AsOf),
		fieldMovements: movements,
	})
}

func decodeState(s *structpb.Struct) (domain.AccountState, error) {
	balance, err := int64Field(s, fieldBalance)
	if err != nil {
		return domain.AccountState{}, err
	}
	limit, err := int64Field(s, fieldLimit)
	if err != nil {
		return domain.AccountState{}, err
	}
	return domain.AccountState{Balance: balance, Limit: limit}, nil
}

func decodeStatement(s *structpb.Struct) (*domain.Statement, error) {
	state, err := decodeState(s)
	if err != nil {
		return nil, err
	}
	asOfRaw, err := stringField(s, fieldAsOf)
	if err != nil {
		return nil, err
	}
	asOf, err := time.Parse(time.RFC3339Nano, asOfRaw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", fieldAsOf, err)
	}

	stmt := &domain.Statement{Balance: state.Balance, Limit: state.Limit, AsOf: asOf}
	for _, item := range s.GetFields()[fieldMovements].GetListValue().GetValues() {
		mv, err := decodeMovement(item.GetStructValue())
		if err != nil {
			return nil, err
		}
		stmt.Movements = append(stmt.Movements, mv)
	}
	return stmt, nil
}

func decodeMovement(s *structpb.Struct) (domain.Movement, error) {
	var mv domain.Movement
	var err error
	if mv.ID, err = int64Field(s, fieldID); err != nil {
		return mv, err
	}
	if mv.Amount, err = int64Field(s, fieldAmount); err != nil {
		return mv, err
	}
	kind, err := stringField(s, fieldKind)
	if err != nil {
		return mv, err
	}
	if mv.Kind, err = domain.ParseKind(kind); err != nil {
		return mv, err
	}
	if mv.Description, err = stringField(s, fieldDescription); err != nil {
		return mv, err
	}
	created, err := stringField(s, fieldCreatedAt)
	if err != nil {
		return mv, err
	}
	if mv.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return mv, err
	}
	ref, err := stringField(s, fieldRefID)
	if err != nil {
		return mv, err
	}
	if err := mv.RefID.UnmarshalText([]byte(ref)); err != nil {
		return mv, fmt.Errorf("field %q: %w", fieldRefID, err)
	}
	return mv, nil
}
