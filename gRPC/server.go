package proto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"SpatialScanner/coordinator"
	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 事件缓冲区满时丢弃新事件，避免阻塞分发
const watchBuffer = 64

// Scanner is the part of the coordinator exposed over gRPC.
type Scanner interface {
	Scan() error
	Pause(immediate bool) error
	Status() iface.CameraStatus
	Tracked() []iface.DetectedObject
	SelectObject(id int, pose iface.Pose) error
	Subscribe(fn func(coordinator.Event)) func()
}

type Server struct {
	scanner  Scanner
	shutdown func()
	log      *zap.Logger
}

// NewServer wraps scanner. shutdown is invoked, asynchronously, by the Shutdown RPC.
func NewServer(scanner Scanner, shutdown func()) *Server {
	return &Server{scanner: scanner, shutdown: shutdown, log: logger.Named("grpc")}
}

func (s *Server) Scan(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	if err := s.scanner.Scan(); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Pause(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	if err := s.scanner.Pause(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	monitor.GRPCTotal.Inc()
	return wrapperspb.String(s.scanner.Status().String()), nil
}

func (s *Server) ListObjects(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	monitor.GRPCTotal.Inc()
	var items []interface{}
	if err := jsonRoundTrip(s.scanner.Tracked(), &items); err != nil {
		return nil, status.Errorf(codes.Internal, "encode objects: %v", err)
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode objects: %v", err)
	}
	return list, nil
}

type selectRequest struct {
	ID   *int        `json:"id"`
	Pose *iface.Pose `json:"pose"`
}

func (s *Server) SelectObject(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	var sel selectRequest
	if err := jsonRoundTrip(req.AsMap(), &sel); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad selection: %v", err)
	}
	if sel.ID == nil {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	pose := iface.IdentityPose()
	if sel.Pose != nil {
		pose = *sel.Pose
	}
	if err := s.scanner.SelectObject(*sel.ID, pose); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) WatchEvents(_ *emptypb.Empty, stream ScannerService_WatchEventsServer) error {
	monitor.GRPCTotal.Inc()
	events := make(chan coordinator.Event, watchBuffer)
	unsubscribe := s.scanner.Subscribe(func(e coordinator.Event) {
		select {
		case events <- e:
		default:
			s.log.Warn("event stream lagging, event dropped", zap.String("kind", string(e.Kind)))
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case e := <-events:
			msg, err := EventToStruct(e)
			if err != nil {
				s.log.Error("encode event failed", zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	s.log.Warn("shutdown requested over gRPC")
	if s.shutdown != nil {
		go s.shutdown()
	}
	return &emptypb.Empty{}, nil
}

// EventToStruct converts a coordinator event to its JSON-shaped protobuf form.
func EventToStruct(e coordinator.Event) (*structpb.Struct, error) {
	var m map[string]interface{}
	if err := jsonRoundTrip(e, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func jsonRoundTrip(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, coordinator.ErrCameraNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, coordinator.ErrUnknownObject):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, coordinator.ErrDisposed), errors.Is(err, coordinator.ErrNotStarted):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Serve registers srv on a new gRPC server and serves lis in the background.
func Serve(lis net.Listener, srv ScannerServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterScannerServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, srv ScannerServiceServer) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return Serve(lis, srv), nil
}
