// Package grpcapi exposes a sensor over gRPC as the datacompressor.v1.Compressor service.
//
// The service uses protobuf well-known types only, so no generated code is needed:
//
//	Push(google.protobuf.DoubleValue) returns (google.protobuf.Empty)
//	Summary(google.protobuf.Empty) returns (google.protobuf.Struct)
//	At(google.protobuf.Int64Value) returns (google.protobuf.DoubleValue)
//
// Summary and At answer NotFound while nothing has been compressed; At answers OutOfRange for an
// index past the newest value. Push answers InvalidArgument for NaN and infinite values.
//
// The file descriptor of the service is built at init and registered with protoregistry, so server
// reflection clients such as grpcurl can describe it.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/datacompressor/pkg/compressor"
	"github.com/HatiCode/datacompressor/pkg/sensor"
	"github.com/HatiCode/datacompressor/pkg/stats"
	dctls "github.com/HatiCode/datacompressor/pkg/tls"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "datacompressor.v1.Compressor"

const (
	pushMethod    = "/" + ServiceName + "/Push"
	summaryMethod = "/" + ServiceName + "/Summary"
	atMethod      = "/" + ServiceName + "/At"
)

// Backend is the sensor surface served over gRPC. *sensor.Sensor implements it.
type Backend interface {
	Push(values ...float64)
	Stats() (sensor.Stats, error)
	At(i int) (float64, error)
}

// Recorder receives per-call outcomes. The compressord metrics implement it.
type Recorder interface {
	RecordGRPCRequest(method, code string)
	ObserveGRPCDuration(method string, seconds float64)
}

// CompressorServer is the server API of the service.
type CompressorServer interface {
	Push(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	Summary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	At(context.Context, *wrapperspb.Int64Value) (*wrapperspb.DoubleValue, error)
}

// Server implements CompressorServer on top of a Backend.
type Server struct {
	backend Backend
	logger  *slog.Logger
}

// NewServer creates a Server. A nil logger uses slog.Default().
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, logger: logger}
}

// Push adds one sample.
func (s *Server) Push(_ context.Context, v *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	if !stats.IsFinite(v.GetValue()) {
		return nil, status.Errorf(codes.InvalidArgument, "value must be finite, got %v", v.GetValue())
	}
	s.backend.Push(v.GetValue())
	return &emptypb.Empty{}, nil
}

// Summary flushes pending samples and returns the stack statistics.
func (s *Server) Summary(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.backend.Stats()
	if err != nil {
		return nil, s.toStatus(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"sensor":    st.Sensor,
		"length":    st.Length,
		"lastIndex": st.LastIndex,
		"full":      st.Full,
		"average":   st.Average,
		"median":    st.Median,
		"filtered":  st.Filtered,
		"reference": st.Reference,
		"kept":      st.Kept,
		"excluded":  st.Excluded,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode summary: %v", err)
	}
	return out, nil
}

// At returns the stack value at the requested index, 0 being the oldest.
func (s *Server) At(_ context.Context, idx *wrapperspb.Int64Value) (*wrapperspb.DoubleValue, error) {
	v, err := s.backend.At(int(idx.GetValue()))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.Double(v), nil
}

func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, compressor.ErrEmpty):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, compressor.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	default:
		s.logger.Error("grpc request failed", "error", err)
		return status.Error(codes.Internal, err.Error())
	}
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompressorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
		{MethodName: "Summary", Handler: summaryHandler},
		{MethodName: "At", Handler: atHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv CompressorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.DoubleValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompressorServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pushMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompressorServer).Push(ctx, req.(*wrapperspb.DoubleValue))
	}
	return interceptor(ctx, in, info, handler)
}

func summaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompressorServer).Summary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: summaryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompressorServer).Summary(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func atHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompressorServer).At(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: atMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompressorServer).At(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// MetricsInterceptor records the status code and duration of every unary call.
func MetricsInterceptor(rec Recorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if rec != nil {
			rec.ObserveGRPCDuration(info.FullMethod, time.Since(start).Seconds())
			rec.RecordGRPCRequest(info.FullMethod, status.Code(err).String())
		}
		return resp, err
	}
}

// ServerOptions returns the grpc.Server options for the given TLS configuration and recorder.
func ServerOptions(tlsCfg dctls.Config, rec Recorder) ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(MetricsInterceptor(rec))}

	serverTLS, err := tlsCfg.Server()
	if err != nil {
		return nil, err
	}
	if serverTLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(serverTLS)))
	}
	return opts, nil
}
