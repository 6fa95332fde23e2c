package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// Client is a typed gateway client. Every call carries the access token
// in the "access_token" metadata key.
type Client struct {
	conn        grpc.ClientConnInterface
	closer      func() error
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// Dial connects to a gateway at target using plaintext transport.
func Dial(target, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(MaxMessageBytes),
			grpc.MaxCallSendMsgSize(MaxMessageBytes),
		),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, accessToken)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, accessToken string) *Client {
	return &Client{conn: conn, accessToken: accessToken}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if c.accessToken != "" {
		ctx = withAccessToken(ctx, c.accessToken)
	}
	return mapError(c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName)))
}

func (c *Client) Deobfuscate(ctx context.Context, req *DeobfuscateRequest) (*DeobfuscateResponse, error) {
	out := &DeobfuscateResponse{}
	if err := c.invoke(ctx, MethodDeobfuscate, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context) (int64, error) {
	out := &BalanceResponse{}
	if err := c.invoke(ctx, MethodBalance, &BalanceRequest{}, out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) ClaimDaily(ctx context.Context) (*ClaimDailyResponse, error) {
	out := &ClaimDailyResponse{}
	if err := c.invoke(ctx, MethodClaimDaily, &ClaimDailyRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Gift(ctx context.Context, userID string, amount int64) (int64, error) {
	out := &GiftResponse{}
	if err := c.invoke(ctx, MethodGift, &GiftRequest{UserID: userID, Amount: amount}, out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) Ping(ctx context.Context) error {
	out := &PingResponse{}
	if err := c.invoke(ctx, MethodPing, &PingRequest{}, out); err != nil {
		return err
	}
	if out.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

// mapError turns transport-level failures into package errors and keeps
// the server's message for everything else.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
