package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務名稱
const ServiceName = "ledger.v1.LedgerService"

const (
	applyMovementMethod = "/" + ServiceName + "/ApplyMovement"
	getStatementMethod  = "/" + ServiceName + "/GetStatement"
)

// LedgerServiceServer 帳本的 gRPC 服務介面
//
// 訊息一律是 google.protobuf.Struct，整數以十進位字串傳遞以免經過 double 失真。
//
//	ApplyMovement: {account_id, amount, kind, description} -> {balance, limit}
//	GetStatement:  {account_id} -> {balance, limit, as_of, movements: [...]}
type LedgerServiceServer interface {
	ApplyMovement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatement(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLedgerServiceServer 把實作註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceDesc 手寫的 ServiceDesc (等同 protoc 產生的內容)
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyMovement",
			Handler:    applyMovementHandler,
		},
		{
			MethodName: "GetStatement",
			Handler:    getStatementHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

func applyMovementHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).ApplyMovement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: applyMovementMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).ApplyMovement(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatementHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).GetStatement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getStatementMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).GetStatement(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
