package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/service"
)

// PlantCareServer is the server API of plantcare.v1.PlantCare.
type PlantCareServer interface {
	GetFleet(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPlant(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetLatest(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SendCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCommands(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register installs the PlantCare service backed by svc.
func Register(s grpc.ServiceRegistrar, svc *service.Service) {
	s.RegisterService(&serviceDesc, &Server{svc: svc})
}

type Server struct {
	svc *service.Service
}

func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) GetFleet(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.svc.Fleet())
}

func (s *Server) GetSummary(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.svc.Summary())
}

func (s *Server) GetPlant(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "plant id is required")
	}
	view, err := s.svc.Plant(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

func (s *Server) GetLatest(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "device id is required")
	}
	view, err := s.svc.Latest(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

// SendCommand expects {"plant_id" or "device_id", "action"}.
func (s *Server) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	action := fields["action"].GetStringValue()
	if action == "" {
		return nil, status.Error(codes.InvalidArgument, "action is required")
	}
	var (
		view service.CommandView
		err  error
	)
	switch {
	case fields["plant_id"].GetStringValue() != "":
		view, err = s.svc.Command(ctx, fields["plant_id"].GetStringValue(), action)
	case fields["device_id"].GetStringValue() != "":
		view, err = s.svc.CommandDevice(ctx, fields["device_id"].GetStringValue(), action)
	default:
		return nil, status.Error(codes.InvalidArgument, "plant_id or device_id is required")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

// ListCommands expects {"plant_id", "limit"}.
func (s *Server) ListCommands(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	plantID := fields["plant_id"].GetStringValue()
	if plantID == "" {
		return nil, status.Error(codes.InvalidArgument, "plant_id is required")
	}
	limit := int(fields["limit"].GetNumberValue())
	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
	}
	cmds, err := s.svc.Commands(ctx, plantID, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"plant_id": plantID, "commands": cmds})
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, core.ErrUnknownAction):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrUnknownPlant), errors.Is(err, core.ErrNoData):
		code = codes.NotFound
	case errors.Is(err, core.ErrNoDevice), errors.Is(err, core.ErrCooldown):
		code = codes.FailedPrecondition
	case errors.Is(err, core.ErrCommandInFlight):
		code = codes.Aborted
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrUnreachable), errors.Is(err, core.ErrMalformed), errors.Is(err, core.ErrStopped):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func unary[Req proto.Message](name string, newReq func() Req, call func(PlantCareServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PlantCareServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PlantCareServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty           { return &emptypb.Empty{} }
func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }
func newStruct() *structpb.Struct        { return &structpb.Struct{} }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlantCareServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetFleet", newEmpty, PlantCareServer.GetFleet),
		unary("GetSummary", newEmpty, PlantCareServer.GetSummary),
		unary("GetPlant", newString, PlantCareServer.GetPlant),
		unary("GetLatest", newString, PlantCareServer.GetLatest),
		unary("SendCommand", newStruct, PlantCareServer.SendCommand),
		unary("ListCommands", newStruct, PlantCareServer.ListCommands),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: FileName,
}
