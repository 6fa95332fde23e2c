package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/server/auth"
	"github.com/dmitrijs2005/gophdeobf/internal/server/roles"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	userIDKey ctxKey = "userID"
	rolesKey  ctxKey = "roles"
)

// public methods skip token checks.
var public = map[string]bool{
	api.MethodPing: true,
}

func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func rolesFromContext(ctx context.Context) roles.Provider {
	if p, ok := ctx.Value(rolesKey).(roles.Provider); ok {
		return p
	}
	return roles.None
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if public[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	}

	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	ctx = context.WithValue(ctx, rolesKey, roles.Provider(roles.NewSet(claims.Roles...)))

	return handler(ctx, req)
}
