package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

type GrpcServer struct {
	core *usecase.CoreUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

func (s *GrpcServer) ApplyMovement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. 解析欄位 (格式錯誤 = InvalidArgument，不進帳本)
	accountID, err := int64Field(req, fieldAccountID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	amount, err := uint64Field(req, fieldAmount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	kind, err := stringField(req, fieldKind)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	description, err := stringField(req, fieldDescription)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// 2. 執行異動
	state, err := s.core.PostMovement(ctx, accountID, domain.MovementRequest{
		Amount:      amount,
		Kind:        kind,
		Description: description,
	})
	if err != nil {
		return nil, statusFromError(err)
	}

	out, err := encodeState(state)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *GrpcServer) GetStatement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := int64Field(req, fieldAccountID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stmt, err := s.core.GetStatement(ctx, accountID)
	if err != nil {
		return nil, statusFromError(err)
	}
	out, err := encodeStatement(stmt)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// statusFromError domain 錯誤 -> gRPC status code
func statusFromError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrValidationFailed):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrLimitExceeded):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrOverflow):
		code = codes.OutOfRange
	case errors.Is(err, domain.ErrBusy):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// LoggingInterceptor 記錄每個 unary 呼叫的方法、狀態碼與耗時
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelDebug
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("elapsed", time.Since(start)))
		return resp, err
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
