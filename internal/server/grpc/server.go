package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
	"github.com/dmitrijs2005/gophdeobf/internal/server/services"
	"google.golang.org/grpc"
)

// Pipeline runs deobfuscation jobs.
type Pipeline interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.TransformResult, error)
}

// Ledger is the token ledger as seen by the gateway.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ClaimDaily(ctx context.Context, userID string) (bool, error)
	Grant(ctx context.Context, userID string, amount int64) (int64, error)
}

type GRPCServer struct {
	address    string
	pipeline   Pipeline
	ledger     Ledger
	logger     logging.Logger
	jwtSecret  []byte
	giftRoleID string
}

func NewGRPCServer(a string, l logging.Logger, p Pipeline, lg Ledger, secretKey, giftRoleID string) *GRPCServer {
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		pipeline:   p,
		ledger:     lg,
		jwtSecret:  []byte(secretKey),
		giftRoleID: giftRoleID,
	}
}

// NewServer builds the gRPC server with the gateway registered and the
// access token interceptor installed.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.MaxRecvMsgSize(api.MaxMessageBytes),
		grpc.MaxSendMsgSize(api.MaxMessageBytes),
	}, opts...)

	srv := grpc.NewServer(opts...)
	api.RegisterDeobfServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
