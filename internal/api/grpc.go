package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"tradelab/pkg/tradelab"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "tradelab.v1.BacktestService"

const (
	runBacktestMethod    = "/" + BacktestServiceName + "/RunBacktest"
	listStrategiesMethod = "/" + BacktestServiceName + "/ListStrategies"
)

// BacktestServiceServer is the server API of tradelab.v1.BacktestService.
// Requests and responses are the JSON wire types of pkg/tradelab carried as
// google.protobuf.Struct.
type BacktestServiceServer interface {
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunBacktest", Handler: runBacktestHandler},
		{MethodName: "ListStrategies", Handler: listStrategiesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradelab/v1/backtest.proto",
}

// RegisterBacktestService registers srv on gs.
func RegisterBacktestService(gs grpc.ServiceRegistrar, srv BacktestServiceServer) {
	gs.RegisterService(&backtestServiceDesc, srv)
}

func runBacktestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).RunBacktest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runBacktestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).RunBacktest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listStrategiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).ListStrategies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listStrategiesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).ListStrategies(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// grpcService implements BacktestServiceServer on top of a Service.
type grpcService struct {
	svc *Service
}

var _ BacktestServiceServer = (*grpcService)(nil)

func (g *grpcService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req tradelab.BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	res, err := g.svc.RunBacktest(ctx, req)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

func (g *grpcService) ListStrategies(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(tradelab.StrategyList{Strategies: g.svc.Strategies()})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// unaryLogger logs every unary call with its status code and latency.
func unaryLogger(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "grpc request",
			"method", info.FullMethod,
			"code", code.String(),
			"latency", time.Since(start),
		)
		return resp, err
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient calls tradelab.v1.BacktestService over a gRPC connection.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient returns a client using cc.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

// RunBacktest runs a backtest on the server.
func (c *BacktestClient) RunBacktest(ctx context.Context, req tradelab.BacktestRequest, opts ...grpc.CallOption) (*tradelab.RunResult, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runBacktestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var res tradelab.RunResult
	if err := fromStruct(out, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &res, nil
}

// ListStrategies returns the names of the strategies the server can run.
func (c *BacktestClient) ListStrategies(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listStrategiesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var list tradelab.StrategyList
	if err := fromStruct(out, &list); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return list.Strategies, nil
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// fromStruct decodes s into v through its JSON encoding.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
