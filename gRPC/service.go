package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ScannerService is built on well-known types only, so no generated code is needed.
const ServiceName = "scanner.v1.ScannerService"

const (
	ScannerService_Scan_FullMethodName         = "/" + ServiceName + "/Scan"
	ScannerService_Pause_FullMethodName        = "/" + ServiceName + "/Pause"
	ScannerService_Status_FullMethodName       = "/" + ServiceName + "/Status"
	ScannerService_ListObjects_FullMethodName  = "/" + ServiceName + "/ListObjects"
	ScannerService_SelectObject_FullMethodName = "/" + ServiceName + "/SelectObject"
	ScannerService_WatchEvents_FullMethodName  = "/" + ServiceName + "/WatchEvents"
	ScannerService_Shutdown_FullMethodName     = "/" + ServiceName + "/Shutdown"
)

type ScannerServiceServer interface {
	Scan(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Pause(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	ListObjects(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	SelectObject(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	WatchEvents(*emptypb.Empty, ScannerService_WatchEventsServer) error
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type ScannerService_WatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type scannerServiceWatchEventsServer struct {
	grpc.ServerStream
}

func (x *scannerServiceWatchEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterScannerServiceServer(s grpc.ServiceRegistrar, srv ScannerServiceServer) {
	s.RegisterService(&ScannerService_ServiceDesc, srv)
}

func unary[Req any, Resp any](method string, call func(ScannerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScannerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ScannerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _ScannerService_WatchEvents_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ScannerServiceServer).WatchEvents(m, &scannerServiceWatchEventsServer{stream})
}

var ScannerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScannerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Scan",
			Handler:    unary(ScannerService_Scan_FullMethodName, ScannerServiceServer.Scan),
		},
		{
			MethodName: "Pause",
			Handler:    unary(ScannerService_Pause_FullMethodName, ScannerServiceServer.Pause),
		},
		{
			MethodName: "Status",
			Handler:    unary(ScannerService_Status_FullMethodName, ScannerServiceServer.Status),
		},
		{
			MethodName: "ListObjects",
			Handler:    unary(ScannerService_ListObjects_FullMethodName, ScannerServiceServer.ListObjects),
		},
		{
			MethodName: "SelectObject",
			Handler:    unary(ScannerService_SelectObject_FullMethodName, ScannerServiceServer.SelectObject),
		},
		{
			MethodName: "Shutdown",
			Handler:    unary(ScannerService_Shutdown_FullMethodName, ScannerServiceServer.Shutdown),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       _ScannerService_WatchEvents_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "scanner/v1/scanner.proto",
}

type ScannerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewScannerServiceClient(cc grpc.ClientConnInterface) *ScannerServiceClient {
	return &ScannerServiceClient{cc}
}

func (c *ScannerServiceClient) Scan(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, ScannerService_Scan_FullMethodName, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *ScannerServiceClient) Pause(ctx context.Context, immediate bool, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, ScannerService_Pause_FullMethodName, wrapperspb.Bool(immediate), new(emptypb.Empty), opts...)
}

func (c *ScannerServiceClient) Status(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, ScannerService_Status_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *ScannerServiceClient) ListObjects(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ScannerService_ListObjects_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScannerServiceClient) SelectObject(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, ScannerService_SelectObject_FullMethodName, in, new(emptypb.Empty), opts...)
}

func (c *ScannerServiceClient) Shutdown(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, ScannerService_Shutdown_FullMethodName, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

type ScannerService_WatchEventsClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type scannerServiceWatchEventsClient struct {
	grpc.ClientStream
}

func (x *scannerServiceWatchEventsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ScannerServiceClient) WatchEvents(ctx context.Context, opts ...grpc.CallOption) (ScannerService_WatchEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ScannerService_ServiceDesc.Streams[0], ScannerService_WatchEvents_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &scannerServiceWatchEventsClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
