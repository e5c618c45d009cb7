package transcriber

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
	SampleRateHertz int
}

type CloudSpeechService struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string
	sampleRate      int

	mu     sync.Mutex
	client *speech.Client
}

func NewCloudSpeechService(cfg CloudSpeechConfig) *CloudSpeechService {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	return &CloudSpeechService{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        cfg.Language,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
		sampleRate:      cfg.SampleRateHertz,
	}
}

func (s *CloudSpeechService) Name() string { return "cloud_speech" }

func (s *CloudSpeechService) Ping(ctx context.Context) (string, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	cfg, err := client.GetConfig(ctx, &speechpb.GetConfigRequest{
		Name: fmt.Sprintf("projects/%s/locations/%s/config", s.projectID, s.location),
	})
	if err != nil {
		return "", err
	}
	return cfg.GetName(), nil
}

func (s *CloudSpeechService) OpenStream(ctx context.Context) (transcriber.Stream, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}
	if err := stream.Send(s.streamingConfig()); err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	slog.Info("cloud speech stream initialized", "location", s.location, "language", s.language, "model", s.model)
	return &cloudSpeechStream{stream: stream}, nil
}

func (s *CloudSpeechService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *CloudSpeechService) ensureClient(ctx context.Context) (*speech.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(s.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if s.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", s.location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *CloudSpeechService) streamingConfig() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", s.projectID, s.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         s.model,
					LanguageCodes: []string{s.language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(s.sampleRate),
							AudioChannelCount: 1,
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
			},
		},
	}
}

type cloudSpeechStream struct {
	stream speechpb.Speech_StreamingRecognizeClient

	mu        sync.Mutex
	terminal  error
	recvEnded bool
	pending   []string
}

func (c *cloudSpeechStream) Send(pcm []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: float32ToLinear16(pcm),
		},
	})
}

// Interim results are skipped.
func (c *cloudSpeechStream) Recv() (string, error) {
	for len(c.pending) == 0 {
		resp, err := c.stream.Recv()
		if err != nil {
			c.end(err)
			return "", err
		}
		for _, result := range resp.GetResults() {
			if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
				continue
			}
			if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
				c.pending = append(c.pending, text)
			}
		}
	}
	text := c.pending[0]
	c.pending = c.pending[1:]
	return text, nil
}

func (c *cloudSpeechStream) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvEnded = true
	if err == io.EOF {
		slog.Info("cloud speech receive loop stopped", "reason", err.Error())
		return
	}
	if isReconnectableStreamError(err) {
		slog.Warn("cloud speech stream ended with reconnectable abort", "error", err)
	}
	c.terminal = err
}

func (c *cloudSpeechStream) CloseSend() error {
	return c.stream.CloseSend()
}

func (c *cloudSpeechStream) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recvEnded {
		return fmt.Errorf("stream finished before receive side ended")
	}
	return c.terminal
}

func isReconnectableStreamError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}

func float32ToLinear16(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		f := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		v := math.Round(float64(f) * 32767)
		v = math.Max(-32768, math.Min(32767, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
