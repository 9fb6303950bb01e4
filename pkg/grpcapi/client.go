package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	dctls "github.com/HatiCode/datacompressor/pkg/tls"
)

// Client calls the Compressor service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a connection to addr, using mutual TLS when tlsCfg is enabled.
func Dial(addr string, tlsCfg dctls.Config, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	clientTLS, err := tlsCfg.Client()
	if err != nil {
		return nil, fmt.Errorf("grpc client tls: %w", err)
	}
	if clientTLS != nil {
		creds = credentials.NewTLS(clientTLS)
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	return grpc.NewClient(addr, opts...)
}

// Push sends one sample.
func (c *Client) Push(ctx context.Context, value float64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, pushMethod, wrapperspb.Double(value), new(emptypb.Empty), opts...)
}

// Summary fetches the stack statistics.
func (c *Client) Summary(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, summaryMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// At fetches the stack value at index i.
func (c *Client) At(ctx context.Context, i int64, opts ...grpc.CallOption) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, atMethod, wrapperspb.Int64(i), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
