package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/server/roles"
	"github.com/dmitrijs2005/gophdeobf/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC codes. The message of the
// original error is kept since it is safe to show to the caller.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrInsufficientBalance):
		if errors.Is(err, common.ErrorInternal) {
			return status.Error(codes.Unavailable, "ledger unavailable")
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorDownload):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, common.ErrorExternalTool):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) caller(ctx context.Context) (string, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "unauthorized")
	}
	return userID, nil
}

func (s *GRPCServer) Deobfuscate(ctx context.Context, req *api.DeobfuscateRequest) (*api.DeobfuscateResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Submit(ctx, services.SubmitRequest{
		UserID:       userID,
		Filename:     req.Filename,
		Source:       req.Source,
		SourceURL:    req.SourceURL,
		DeclaredSize: req.DeclaredSize,
	})
	if err != nil {
		s.logger.Warn(ctx, "deobfuscate rejected", "user_id", userID, "error", err)
		return nil, toStatus(err)
	}

	return &api.DeobfuscateResponse{
		RequestID:        res.RequestID,
		OutputName:       res.OutputName,
		Output:           res.Output,
		OriginalSize:     res.OriginalSize,
		OutputSize:       res.OutputSize,
		Diagnostics:      res.Diagnostics,
		Links:            res.Links,
		Digest:           res.Digest,
		DurationMillis:   res.Duration.Milliseconds(),
		RemainingBalance: res.RemainingBalance,
		DownloadURL:      res.DownloadURL,
	}, nil
}

func (s *GRPCServer) Balance(ctx context.Context, req *api.BalanceRequest) (*api.BalanceResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	b, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &api.BalanceResponse{Balance: b}, nil
}

func (s *GRPCServer) ClaimDaily(ctx context.Context, req *api.ClaimDailyRequest) (*api.ClaimDailyResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	claimed, err := s.ledger.ClaimDaily(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}

	b, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &api.ClaimDailyResponse{Claimed: claimed, Balance: b}, nil
}

func (s *GRPCServer) Gift(ctx context.Context, req *api.GiftRequest) (*api.GiftResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	if err := roles.Require(rolesFromContext(ctx), s.giftRoleID); err != nil {
		s.logger.Warn(ctx, "gift refused", "user_id", userID, "target", req.UserID)
		return nil, toStatus(err)
	}

	b, err := s.ledger.Grant(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "tokens gifted", "from", userID, "to", req.UserID, "amount", req.Amount)
	return &api.GiftResponse{Balance: b}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}
