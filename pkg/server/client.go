package server

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client calls a remote Selection service
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without extra options the connection
// is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Match asks for the pools eligible for a request
func (c *Client) Match(ctx context.Context, in *MatchRequest, opts ...grpc.CallOption) (*MatchResponse, error) {
	return invoke[MatchResponse](ctx, c, "Match", in, opts)
}

// Command applies lines as one atomic batch
func (c *Client) Command(ctx context.Context, lines []string, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "Command", &CommandRequest{Lines: lines}, opts)
}

// DumpSetup fetches the current configuration as psu commands
func (c *Client) DumpSetup(ctx context.Context, opts ...grpc.CallOption) (*DumpSetupResponse, error) {
	return invoke[DumpSetupResponse](ctx, c, "DumpSetup", &DumpSetupRequest{}, opts)
}

// ReplicaState fetches the state of one replica
func (c *Client) ReplicaState(ctx context.Context, pnfsid string, opts ...grpc.CallOption) (*ReplicaStateResponse, error) {
	return invoke[ReplicaStateResponse](ctx, c, "ReplicaState", &ReplicaStateRequest{PnfsID: pnfsid}, opts)
}

// Close releases the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
