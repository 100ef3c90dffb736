package eyed

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "eyed.CaptureService"

// CaptureServiceClient is the client API for CaptureService.
type CaptureServiceClient interface {
	SubmitFrame(ctx context.Context, in *CaptureFrame, opts ...grpc.CallOption) (*FrameAck, error)
	StreamFrames(ctx context.Context, opts ...grpc.CallOption) (CaptureService_StreamFramesClient, error)
	GetStatus(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ServerStatus, error)
}

type captureServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCaptureServiceClient wraps a *grpc.ClientConn, forcing the JSON codec
// registered in codec.go on every call.
func NewCaptureServiceClient(cc grpc.ClientConnInterface) CaptureServiceClient {
	return &captureServiceClient{cc: cc}
}

func (c *captureServiceClient) SubmitFrame(ctx context.Context, in *CaptureFrame, opts ...grpc.CallOption) (*FrameAck, error) {
	out := new(FrameAck)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	err := c.cc.Invoke(ctx, "/"+serviceName+"/SubmitFrame", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) GetStatus(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ServerStatus, error) {
	out := new(ServerStatus)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetStatus", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (CaptureService_StreamFramesClient, error) {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	stream, err := c.cc.NewStream(ctx, &_CaptureService_serviceDesc.Streams[0], "/"+serviceName+"/StreamFrames", opts...)
	if err != nil {
		return nil, err
	}
	return &captureServiceStreamFramesClient{stream}, nil
}

// CaptureService_StreamFramesClient is the capture device's handle on the
// bidirectional StreamFrames call.
type CaptureService_StreamFramesClient interface {
	Send(*CaptureFrame) error
	Recv() (*FrameAck, error)
	grpc.ClientStream
}

type captureServiceStreamFramesClient struct {
	grpc.ClientStream
}

func (x *captureServiceStreamFramesClient) Send(m *CaptureFrame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *captureServiceStreamFramesClient) Recv() (*FrameAck, error) {
	m := new(FrameAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CaptureServiceServer is the server API for CaptureService.
type CaptureServiceServer interface {
	SubmitFrame(context.Context, *CaptureFrame) (*FrameAck, error)
	StreamFrames(CaptureService_StreamFramesServer) error
	GetStatus(context.Context, *Empty) (*ServerStatus, error)
}

// UnimplementedCaptureServiceServer embeds into real implementations for
// forward compatibility with methods added to the interface later.
type UnimplementedCaptureServiceServer struct{}

func (UnimplementedCaptureServiceServer) SubmitFrame(context.Context, *CaptureFrame) (*FrameAck, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitFrame not implemented")
}

func (UnimplementedCaptureServiceServer) StreamFrames(CaptureService_StreamFramesServer) error {
	return status.Error(codes.Unimplemented, "method StreamFrames not implemented")
}

func (UnimplementedCaptureServiceServer) GetStatus(context.Context, *Empty) (*ServerStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

// RegisterCaptureServiceServer registers srv on s.
func RegisterCaptureServiceServer(s grpc.ServiceRegistrar, srv CaptureServiceServer) {
	s.RegisterService(&_CaptureService_serviceDesc, srv)
}

func _CaptureService_SubmitFrame_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CaptureFrame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CaptureServiceServer).SubmitFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/SubmitFrame"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CaptureServiceServer).SubmitFrame(ctx, req.(*CaptureFrame))
	}
	return interceptor(ctx, in, info, handler)
}

func _CaptureService_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CaptureServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CaptureServiceServer).GetStatus(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CaptureService_StreamFrames_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(CaptureServiceServer).StreamFrames(&captureServiceStreamFramesServer{stream})
}

// CaptureService_StreamFramesServer is the Gateway's handle on the
// bidirectional StreamFrames call.
type CaptureService_StreamFramesServer interface {
	Send(*FrameAck) error
	Recv() (*CaptureFrame, error)
	grpc.ServerStream
}

type captureServiceStreamFramesServer struct {
	grpc.ServerStream
}

func (x *captureServiceStreamFramesServer) Send(m *FrameAck) error {
	return x.ServerStream.SendMsg(m)
}

func (x *captureServiceStreamFramesServer) Recv() (*CaptureFrame, error) {
	m := new(CaptureFrame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var _CaptureService_serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CaptureServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitFrame", Handler: _CaptureService_SubmitFrame_Handler},
		{MethodName: "GetStatus", Handler: _CaptureService_GetStatus_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       _CaptureService_StreamFrames_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "eyed.proto",
}
