package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gPlorovg/sayo-captions/internal/sayopb"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type SayoConfig struct {
	Target      string
	DialOptions []grpc.DialOption
}

type SayoService struct {
	target string
	opts   []grpc.DialOption

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewSayoService records the dial settings. The client connection is created
// on the first Ping or OpenStream, so an unset target fails at connect time.
func NewSayoService(cfg SayoConfig) *SayoService {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(sayopb.Codec{})),
	}
	opts = append(opts, cfg.DialOptions...)
	return &SayoService{target: cfg.Target, opts: opts}
}

func (s *SayoService) Name() string { return "sayo" }

func (s *SayoService) Ping(ctx context.Context) (string, error) {
	conn, err := s.ensureConn()
	if err != nil {
		return "", err
	}
	resp := new(sayopb.PingResponse)
	if err := conn.Invoke(ctx, sayopb.PingMethod, &sayopb.PingRequest{}, resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (s *SayoService) OpenStream(ctx context.Context) (transcriber.Stream, error) {
	conn, err := s.ensureConn()
	if err != nil {
		return nil, err
	}
	cs, err := conn.NewStream(ctx, sayopb.StreamingASRDesc, sayopb.StreamingASRMethod)
	if err != nil {
		return nil, fmt.Errorf("open streaming asr: %w", err)
	}
	slog.Info("sayo stream opened", "target", s.target)
	return &sayoStream{cs: cs}, nil
}

func (s *SayoService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *SayoService) ensureConn() (*grpc.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	if s.target == "" {
		return nil, errors.New("sayo target is empty")
	}
	conn, err := grpc.NewClient(s.target, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("create sayo client for %s: %w", s.target, err)
	}
	s.conn = conn
	return conn, nil
}

type sayoStream struct {
	cs grpc.ClientStream

	mu        sync.Mutex
	terminal  error
	recvEnded bool
}

func (s *sayoStream) Send(pcm []byte) error {
	return s.cs.SendMsg(&sayopb.AudioChunk{Pcm: pcm})
}

func (s *sayoStream) Recv() (string, error) {
	var m sayopb.ASRResult
	if err := s.cs.RecvMsg(&m); err != nil {
		s.mu.Lock()
		s.recvEnded = true
		if !errors.Is(err, io.EOF) {
			s.terminal = err
		}
		s.mu.Unlock()
		return "", err
	}
	return m.Text, nil
}

func (s *sayoStream) CloseSend() error {
	return s.cs.CloseSend()
}

func (s *sayoStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recvEnded {
		return errors.New("stream finished before receive side ended")
	}
	return s.terminal
}
