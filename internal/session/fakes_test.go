package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/discord"
	"github.com/gPlorovg/sayo-captions/internal/repository"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"github.com/gPlorovg/sayo-captions/internal/webhook"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	ctx     context.Context
	results chan string
	gate    <-chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	closedSend bool
	terminal   error
	recvEnded  bool
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, results: make(chan string, 16)}
}

func (s *fakeStream) Send(pcm []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, pcm)
	return nil
}

func (s *fakeStream) Recv() (string, error) {
	select {
	case text, ok := <-s.results:
		if ok {
			return text, nil
		}
		s.end(nil)
		return "", io.EOF
	case <-s.ctx.Done():
		err := status.FromContextError(s.ctx.Err()).Err()
		s.end(err)
		return "", err
	}
}

func (s *fakeStream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvEnded = true
	s.terminal = err
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedSend = true
	return nil
}

func (s *fakeStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recvEnded {
		return errors.New("receive side still open")
	}
	return s.terminal
}

func (s *fakeStream) sentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func (s *fakeStream) sendClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedSend
}

type fakeService struct {
	mu           sync.Mutex
	pingBlocks   bool
	pingFailures int
	pingCalls    int
	openBlocks   bool
	openErr      error
	sendGate     chan struct{}
	openCalls    int
	streams      []*fakeStream
	closed       bool
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) Ping(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.pingCalls++
	blocks := f.pingBlocks
	fail := f.pingCalls <= f.pingFailures
	f.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return "", status.FromContextError(ctx.Err()).Err()
	}
	if fail {
		return "", errors.New("connection refused")
	}
	return "pong", nil
}

func (f *fakeService) OpenStream(ctx context.Context) (transcriber.Stream, error) {
	f.mu.Lock()
	f.openCalls++
	blocks := f.openBlocks
	f.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := newFakeStream(ctx)
	s.gate = f.sendGate
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeService) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeService) counts() (pings, opens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls, f.openCalls
}

func (f *fakeService) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

type mockRepository struct {
	mu        sync.Mutex
	sessions  map[string]*repository.Session
	segments  map[string][]repository.TranscriptSegment
	completed []repository.CompleteSessionInput
	createErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		sessions: make(map[string]*repository.Session),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}

func (m *mockRepository) Ping(context.Context) error { return nil }

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	s := &repository.Session{ID: input.ID, Backend: input.Backend, Target: input.Target, StartedAt: input.StartedAt, Status: repository.SessionStatusRunning}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	if s, ok := m.sessions[input.SessionID]; ok {
		s.Status = repository.SessionStatusCompleted
		s.StopReason = input.StopReason
	}
	return nil
}

func (m *mockRepository) ListRunningSessions(context.Context) ([]repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Session
	for _, s := range m.sessions {
		if s.Status == repository.SessionStatusRunning {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[input.SessionID] = append(m.segments[input.SessionID], repository.TranscriptSegment{
		SessionID:    input.SessionID,
		Content:      input.Content,
		SegmentIndex: input.SegmentIndex,
		SpokenAt:     input.SpokenAt,
	})
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.segments[sessionID]), nil
}

func (m *mockRepository) completions() []repository.CompleteSessionInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.completed)
}

type mockDiscordClient struct {
	mu        sync.Mutex
	sendCalls []string
	fileCalls []discord.FileMessage
}

func (m *mockDiscordClient) Connect(context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                  { return nil }
func (m *mockDiscordClient) Enabled() bool                 { return true }
func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}
func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}
func (m *mockDiscordClient) RegisterSlashCommandHandler(func(discord.SlashCommandEvent)) {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(string, []discord.SlashCommandDefinition) error {
	return nil
}
func (m *mockDiscordClient) ResolveChannelName(channelID string) string { return channelID }

func (m *mockDiscordClient) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sendCalls)
}

func (m *mockDiscordClient) files() []discord.FileMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.fileCalls)
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptWebhookPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockWebhookSender) sent() []webhook.TranscriptWebhookPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payloads)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
