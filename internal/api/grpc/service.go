package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"avatar-control-service/internal/models"
)

// ServiceName is the fully qualified name of the transcript service.
const ServiceName = "avatar.control.TranscriptService"

const streamTranscriptsMethod = "/" + ServiceName + "/StreamTranscripts"

// StreamAck closes a transcript stream.
type StreamAck struct {
	ChannelID string `json:"channelId"`
	Updates   int    `json:"updates"`
	Rejected  int    `json:"rejected"`
}

// TranscriptServiceServer is the server API of the transcript service.
type TranscriptServiceServer interface {
	StreamTranscripts(TranscriptStream) error
}

// TranscriptStream is the server side of one client-streaming call.
type TranscriptStream interface {
	Recv() (*models.TranscriptUpdate, error)
	SendAndClose(*StreamAck) error
	grpc.ServerStream
}

type transcriptStream struct {
	grpc.ServerStream
}

func (s *transcriptStream) Recv() (*models.TranscriptUpdate, error) {
	u := new(models.TranscriptUpdate)
	if err := s.ServerStream.RecvMsg(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *transcriptStream) SendAndClose(ack *StreamAck) error {
	return s.ServerStream.SendMsg(ack)
}

func streamTranscriptsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TranscriptServiceServer).StreamTranscripts(&transcriptStream{stream})
}

// ServiceDesc describes the transcript service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranscriptServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTranscripts",
			Handler:       streamTranscriptsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "avatar/control/transcript",
}

// RegisterTranscriptServiceServer registers srv on s.
func RegisterTranscriptServiceServer(s grpc.ServiceRegistrar, srv TranscriptServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// TranscriptClient is the client API of the transcript service.
type TranscriptClient struct {
	cc grpc.ClientConnInterface
}

// NewTranscriptClient creates a client on cc.
func NewTranscriptClient(cc grpc.ClientConnInterface) *TranscriptClient {
	return &TranscriptClient{cc: cc}
}

// TranscriptClientStream is the client side of one StreamTranscripts call.
type TranscriptClientStream struct {
	grpc.ClientStream
}

// Send sends one update.
func (s *TranscriptClientStream) Send(u *models.TranscriptUpdate) error {
	return s.ClientStream.SendMsg(u)
}

// CloseAndRecv half-closes the stream and waits for the ack.
func (s *TranscriptClientStream) CloseAndRecv() (*StreamAck, error) {
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(StreamAck)
	if err := s.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// StreamTranscripts opens a transcript stream.
func (c *TranscriptClient) StreamTranscripts(ctx context.Context, opts ...grpc.CallOption) (*TranscriptClientStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamTranscriptsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &TranscriptClientStream{stream}, nil
}
