// Package rpc exposes the hub over gRPC. The service is declared by hand and
// carries google.protobuf.Struct payloads, so any reflection-aware client can
// call it without generated stubs.
package rpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/thermohub/internal/inventory"
	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const ServiceName = "thermohub.v1.Thermostats"

const (
	MethodListThermostats   = "ListThermostats"
	MethodSetThermostat     = "SetThermostat"
	MethodAddAccount        = "AddAccount"
	MethodRemoveAccount     = "RemoveAccount"
	MethodRefreshThermostat = "RefreshThermostat"
)

// Hub is the subset of the hub the service calls.
type Hub interface {
	List() []inventory.Device
	Refresh(ctx context.Context, key thermostat.DeviceKey) (thermostat.State, error)
	Control(ctx context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error
	AddAccount(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, []thermostat.DeviceDescriptor, error)
	RemoveAccount(ctx context.Context, accountID string) error
}

// ThermostatsServer is the handler type registered with grpc.
type ThermostatsServer interface {
	ListThermostats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetThermostat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	AddAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	RemoveAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	RefreshThermostat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type service struct {
	hub Hub
	log *zap.SugaredLogger
}

// RegisterThermostatsService registers the thermostat service on server.
func RegisterThermostatsService(server *grpc.Server, hub Hub, log *zap.SugaredLogger) {
	server.RegisterService(&serviceDesc, &service{hub: hub, log: logging.OrNop(log)})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThermostatsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodListThermostats, ThermostatsServer.ListThermostats),
		unary(MethodSetThermostat, ThermostatsServer.SetThermostat),
		unary(MethodAddAccount, ThermostatsServer.AddAccount),
		unary(MethodRemoveAccount, ThermostatsServer.RemoveAccount),
		unary(MethodRefreshThermostat, ThermostatsServer.RefreshThermostat),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "thermohub/v1/thermostats.proto",
}

type unaryFunc func(ThermostatsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ThermostatsServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func (s *service) ListThermostats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	devices := s.hub.List()
	resp := ListThermostatsResponse{Thermostats: make([]Thermostat, 0, len(devices))}
	for _, dev := range devices {
		resp.Thermostats = append(resp.Thermostats, FromDevice(dev))
	}
	return reply(resp)
}

func (s *service) SetThermostat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetThermostatRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key, changes, err := req.Changes()
	if err != nil {
		return nil, Status(err)
	}
	if err := s.hub.Control(ctx, key, changes); err != nil {
		s.log.Warnw("control failed", "device", key.String(), "changes", changes.String(), "error", err)
		return nil, Status(err)
	}
	return reply(SetThermostatResponse{Device: key.String(), Status: "accepted"})
}

func (s *service) AddAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AddAccountRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	creds, err := req.Credentials()
	if err != nil {
		return nil, Status(err)
	}
	cred, devices, err := s.hub.AddAccount(ctx, creds)
	if err != nil {
		s.log.Warnw("add account failed", "vendor", req.Vendor, "error", err)
		return nil, Status(err)
	}
	resp := AddAccountResponse{AccountID: cred.AccountID, Vendor: cred.Vendor.String(), Devices: make([]string, 0, len(devices))}
	for _, dev := range devices {
		resp.Devices = append(resp.Devices, dev.Key.String())
	}
	return reply(resp)
}

func (s *service) RemoveAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RemoveAccountRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AccountID == "" {
		return nil, status.Error(codes.InvalidArgument, "account_id is required")
	}
	if err := s.hub.RemoveAccount(ctx, req.AccountID); err != nil {
		return nil, Status(err)
	}
	return reply(RemoveAccountResponse{AccountID: req.AccountID, Status: "removed"})
}

func (s *service) RefreshThermostat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RefreshThermostatRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key, err := thermostat.ParseDeviceKey(req.Device)
	if err != nil {
		return nil, Status(err)
	}
	state, err := s.hub.Refresh(ctx, key)
	if err != nil {
		return nil, Status(err)
	}
	return reply(RefreshThermostatResponse{Device: key.String(), State: state})
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Status converts a hub error into a gRPC status.
func Status(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(Code(thermostat.KindOf(err)), err.Error())
}

func Code(kind thermostat.Kind) codes.Code {
	switch kind {
	case thermostat.KindAuth:
		return codes.Unauthenticated
	case thermostat.KindRateLimited:
		return codes.ResourceExhausted
	case thermostat.KindNetwork:
		return codes.Unavailable
	case thermostat.KindParse:
		return codes.Internal
	case thermostat.KindDeviceNotFound, thermostat.KindAccountNotFound:
		return codes.NotFound
	case thermostat.KindConfig:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}
