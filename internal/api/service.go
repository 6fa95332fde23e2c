package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gophdeobf.v1.DeobfService"

const (
	MethodDeobfuscate = "/" + ServiceName + "/Deobfuscate"
	MethodBalance     = "/" + ServiceName + "/Balance"
	MethodClaimDaily  = "/" + ServiceName + "/ClaimDaily"
	MethodGift        = "/" + ServiceName + "/Gift"
	MethodPing        = "/" + ServiceName + "/Ping"
)

// MaxMessageBytes fits a 25 MiB payload after base64 inflation.
const MaxMessageBytes = 64 << 20

// DeobfServer is implemented by the gateway.
type DeobfServer interface {
	Deobfuscate(context.Context, *DeobfuscateRequest) (*DeobfuscateResponse, error)
	Balance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	ClaimDaily(context.Context, *ClaimDailyRequest) (*ClaimDailyResponse, error)
	Gift(context.Context, *GiftRequest) (*GiftResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

// RegisterDeobfServer attaches srv to a gRPC server.
func RegisterDeobfServer(s grpc.ServiceRegistrar, srv DeobfServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a MethodDesc handler that decodes Req, runs the
// interceptor chain and calls call.
func unary[Req any, Resp any](fullMethod string, call func(DeobfServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DeobfServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DeobfServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeobfServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deobfuscate", Handler: unary(MethodDeobfuscate, DeobfServer.Deobfuscate)},
		{MethodName: "Balance", Handler: unary(MethodBalance, DeobfServer.Balance)},
		{MethodName: "ClaimDaily", Handler: unary(MethodClaimDaily, DeobfServer.ClaimDaily)},
		{MethodName: "Gift", Handler: unary(MethodGift, DeobfServer.Gift)},
		{MethodName: "Ping", Handler: unary(MethodPing, DeobfServer.Ping)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophdeobf/v1",
}
