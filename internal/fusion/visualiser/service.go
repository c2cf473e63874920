package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Messages are the
// well-known Empty and Struct types, so no generated code is needed on
// either side.
const ServiceName = "depthfusion.visualiser.v1.Visualiser"

const (
	getStatusMethod    = "/" + ServiceName + "/GetStatus"
	streamFramesMethod = "/" + ServiceName + "/StreamFrames"
)

// visualiserService is the handler interface checked by RegisterService.
type visualiserService interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamFrames(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*visualiserService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(visualiserService).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(visualiserService).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(visualiserService).StreamFrames(in, stream)
}

// Client is a viewer-side handle on the service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetStatus fetches the latest pipeline status.
func (c *Client) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FrameStream receives frames from StreamFrames.
type FrameStream struct {
	stream grpc.ClientStream
}

// StreamFrames opens a frame stream. Cancel ctx to close it.
func (c *Client) StreamFrames(ctx context.Context) (*FrameStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamFramesMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{stream: stream}, nil
}

// Recv blocks for the next frame.
func (f *FrameStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := f.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
