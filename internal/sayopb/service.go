package sayopb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName        = "sayo.SayoService"
	StreamingASRMethod = "/sayo.SayoService/StreamingASR"
	PingMethod         = "/sayo.SayoService/Ping"
)

var StreamingASRDesc = &grpc.StreamDesc{
	StreamName:    "StreamingASR",
	ServerStreams: true,
	ClientStreams: true,
}

// Servers must be created with grpc.ForceServerCodec(Codec{}).
type SayoServiceServer interface {
	StreamingASR(stream StreamingASRServer) error
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

type StreamingASRServer interface {
	Send(*ASRResult) error
	Recv() (*AudioChunk, error)
	Context() context.Context
}

type streamingASRServer struct {
	grpc.ServerStream
}

func (s *streamingASRServer) Send(m *ASRResult) error {
	return s.ServerStream.SendMsg(m)
}

func (s *streamingASRServer) Recv() (*AudioChunk, error) {
	m := new(AudioChunk)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SayoServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamingASR",
			Handler:       streamingASRHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "sayo.proto",
}

func RegisterSayoServiceServer(s grpc.ServiceRegistrar, srv SayoServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SayoServiceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SayoServiceServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamingASRHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SayoServiceServer).StreamingASR(&streamingASRServer{ServerStream: stream})
}
