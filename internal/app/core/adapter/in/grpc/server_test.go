package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	grpcpool "github.com/JoeShih716/go-balance-ledger/pkg/grpc"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ledger, err := memory.NewMutexLedger(map[int64]*domain.Account{
		1: domain.NewAccount(1, 100, 0),
		2: domain.NewAccount(2, 0, 0),
	}, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	RegisterLedgerServiceServer(srv, NewGrpcServer(usecase.NewCoreUseCase(ledger, usecase.WithLogger(logger))))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	pool := grpcpool.NewPool(grpcpool.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	t.Cleanup(func() { _ = pool.Close() })
	conn, err := pool.GetConnection("passthrough:///bufnet")
	require.NoError(t, err)
	return NewClient(conn)
}

func TestGrpc_ApplyMovementAndStatement(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	state, err := client.ApplyMovement(ctx, 1, domain.MovementRequest{Amount: 50, Kind: "d", Description: "rent"})
	require.NoError(t, err)
	assert.Equal(t, domain.AccountState{Balance: -50, Limit: 100}, state)

	_, err = client.ApplyMovement(ctx, 1, domain.MovementRequest{Amount: 60, Kind: "d", Description: "extra"})
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	state, err = client.ApplyMovement(ctx, 1, domain.MovementRequest{Amount: 30, Kind: "c", Description: "refund"})
	require.NoError(t, err)
	assert.Equal(t, int64(-20), state.Balance)

	stmt, err := client.GetStatement(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-20), stmt.Balance)
	assert.Equal(t, int64(100), stmt.Limit)
	require.Len(t, stmt.Movements, 2)
	assert.Equal(t, "refund", stmt.Movements[0].Description)
	assert.Equal(t, domain.KindCredit, stmt.Movements[0].Kind)
	assert.Equal(t, int64(50), stmt.Movements[1].Amount)
	assert.False(t, stmt.AsOf.IsZero())
}

func TestGrpc_ErrorCodes(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.ApplyMovement(ctx, 9, domain.MovementRequest{Amount: 1, Kind: "c", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = client.ApplyMovement(ctx, 1, domain.MovementRequest{Amount: 1, Kind: "x", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = client.ApplyMovement(ctx, 2, domain.MovementRequest{Amount: 1, Kind: "d", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	_, err = client.GetStatement(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGrpc_MalformedMessage(t *testing.T) {
	client := newTestClient(t)

	in, err := structpb.NewStruct(map[string]any{
		fieldAccountID:   "1",
		fieldAmount:      1.5,
		fieldKind:        "c",
		fieldDescription: "x",
	})
	require.NoError(t, err)
	err = client.conn.Invoke(context.Background(), applyMovementMethod, in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// 整數欄位也接受 number (小於 2^53)
	in, err = structpb.NewStruct(map[string]any{
		fieldAccountID:   1,
		fieldAmount:      5,
		fieldKind:        "c",
		fieldDescription: "x",
	})
	require.NoError(t, err)
	out := new(structpb.Struct)
	require.NoError(t, client.conn.Invoke(context.Background(), applyMovementMethod, in, out))
	assert.Equal(t, "5", out.GetFields()[fieldBalance].GetStringValue())
}

func TestStatusFromError_RoundTrip(t *testing.T) {
	tests := []struct {
		err      error
		wantCode codes.Code
		wantErr  error
	}{
		{domain.ErrAccountNotFound, codes.NotFound, domain.ErrAccountNotFound},
		{&domain.ValidationError{Rule: domain.RuleAmount}, codes.InvalidArgument, domain.ErrValidationFailed},
		{domain.ErrLimitExceeded, codes.FailedPrecondition, domain.ErrLimitExceeded},
		{domain.ErrOverflow, codes.OutOfRange, domain.ErrOverflow},
		{domain.ErrBusy, codes.Unavailable, domain.ErrBusy},
		{domain.ErrWALWriteFailed, codes.Internal, domain.ErrStorageFault},
	}
	for _, tt := range tests {
		st := statusFromError(tt.err)
		assert.Equal(t, tt.wantCode, status.Code(st), tt.err.Error())
		assert.ErrorIs(t, errorFromStatus(st), tt.wantErr)
	}
}

func TestDecodeMovement_RefID(t *testing.T) {
	mv := domain.Movement{
		ID:          3,
		RefID:       uuid.New(),
		AccountID:   1,
		Amount:      30,
		Kind:        domain.KindCredit,
		Description: "refund",
		CreatedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	encoded, err := encodeStatement(&domain.Statement{Balance: 30, Limit: 100, AsOf: mv.CreatedAt, Movements: []domain.Movement{mv}})
	require.NoError(t, err)
	item := encoded.GetFields()[fieldMovements].GetListValue().GetValues()[0].GetStructValue()

	got, err := decodeMovement(item)
	require.NoError(t, err)
	assert.Equal(t, mv.RefID, got.RefID)

	item.GetFields()[fieldRefID] = structpb.NewStringValue("not-a-uuid")
	_, err = decodeMovement(item)
	assert.ErrorContains(t, err, fieldRefID)

	delete(item.GetFields(), fieldRefID)
	_, err = decodeMovement(item)
	assert.ErrorContains(t, err, fieldRefID)
}
