package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/audio"
	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/gPlorovg/sayo-captions/internal/discord"
	"github.com/gPlorovg/sayo-captions/internal/repository"
)

type managerFixture struct {
	mgr     *Manager
	svc     *fakeService
	repo    *mockRepository
	discord *mockDiscordClient
	webhook *mockWebhookSender
}

func testConfig() *config.Config {
	return &config.Config{
		TranscribeBackend:       config.BackendSayo,
		ServerAddress:           "127.0.0.1",
		ServerPort:              50051,
		TargetSampleRate:        16000,
		ChunkDurationMs:         100,
		QueueCapacity:           600,
		PingTimeout:             20 * time.Millisecond,
		PingAttempts:            3,
		PingRetryDelay:          10 * time.Millisecond,
		ReconnectMaxRetries:     3,
		MaxLines:                2,
		MaxCharsPerLine:         40,
		TranscriptTimezone:      "UTC",
		DiscordGuildID:          "guild-1",
		DiscordCaptionChannelID: "channel-1",
	}
}

func newManagerFixture(t *testing.T, cfg *config.Config, svc *fakeService) *managerFixture {
	t.Helper()
	f := &managerFixture{
		svc:     svc,
		repo:    newMockRepository(),
		discord: &mockDiscordClient{},
		webhook: &mockWebhookSender{},
	}
	var mu sync.Mutex
	n := 0
	nextID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("session-%d", n)
	}
	f.mgr = NewManager(cfg, svc, f.repo, f.discord, f.webhook, nil,
		WithIDGenerator(nextID),
		WithReconnectBackoff(10*time.Millisecond, 20*time.Millisecond))
	t.Cleanup(func() { _ = f.mgr.Close() })
	return f
}

func (f *managerFixture) connect(t *testing.T) {
	t.Helper()
	if !f.mgr.Connect() {
		t.Fatal("connect was not started")
	}
	waitFor(t, "successful status", func() bool { return f.mgr.Status() == StatusSuccessful })
}

func TestManager_ConnectCaptionAndDisconnect(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})
	f.connect(t)
	if !f.mgr.IsRunning() {
		t.Fatal("manager not running after connect")
	}
	if f.mgr.Connect() {
		t.Fatal("second connect should be ignored")
	}

	stream := f.svc.stream(0)
	stream.results <- "Hello"
	stream.results <- "world"
	waitFor(t, "two results", func() bool { return f.mgr.client.Stats().ResultsReceived == 2 })
	if !f.mgr.Tick() || !f.mgr.Tick() {
		t.Fatal("expected two ticks to consume results")
	}
	if f.mgr.Tick() {
		t.Fatal("tick without pending results reported work")
	}
	if got := f.mgr.Content(); got != "Hello world\n" {
		t.Fatalf("content = %q", got)
	}

	if !f.mgr.Disconnect() {
		t.Fatal("disconnect reported nothing to stop")
	}
	if f.mgr.IsRunning() {
		t.Fatal("still running after disconnect")
	}
	if got := f.mgr.Status(); got != StatusUnknown {
		t.Fatalf("status = %s, want unknown", got)
	}

	waitFor(t, "webhook payload", func() bool { return len(f.webhook.sent()) == 1 })
	payload := f.webhook.sent()[0]
	if payload.SessionID != "session-1" || payload.StopReason != stopReasonOperator {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.SegmentCount != 2 || payload.Transcript != "Hello\nworld" {
		t.Fatalf("unexpected transcript: %d %q", payload.SegmentCount, payload.Transcript)
	}
	if payload.Target != "127.0.0.1:50051" || payload.Backend != "fake" {
		t.Fatalf("unexpected target: %s %s", payload.Backend, payload.Target)
	}

	waitFor(t, "transcript file", func() bool { return len(f.discord.files()) == 1 })
	file := f.discord.files()[0]
	if file.ChannelID != "channel-1" || file.Filename != "transcript-session-1.txt" {
		t.Fatalf("unexpected file message: %+v", file)
	}
	if !strings.Contains(string(file.FileBody), "Hello") {
		t.Fatalf("transcript file missing text: %q", file.FileBody)
	}
	sent := f.discord.sent()
	if len(sent) < 3 || !strings.Contains(sent[0], "Captions connected") || sent[1] != "Hello" || sent[2] != "world" {
		t.Fatalf("unexpected channel messages: %q", sent)
	}

	completions := f.repo.completions()
	if len(completions) != 1 || completions[0].StopReason != stopReasonOperator {
		t.Fatalf("unexpected completions: %+v", completions)
	}
	if f.mgr.Disconnect() {
		t.Fatal("second disconnect should report nothing to stop")
	}
}

func TestManager_InvalidServerFailsWithoutNetwork(t *testing.T) {
	cfg := testConfig()
	cfg.ServerAddress = ""
	f := newManagerFixture(t, cfg, &fakeService{})

	f.mgr.Connect()
	waitFor(t, "failed status", func() bool { return f.mgr.Status() == StatusFailed })
	waitFor(t, "attempt to finish", func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return f.mgr.connecting == nil
	})
	if pings, opens := f.svc.counts(); pings != 0 || opens != 0 {
		t.Fatalf("network used with invalid config: pings=%d opens=%d", pings, opens)
	}
}

func TestManager_InvalidPortFailsWithoutNetwork(t *testing.T) {
	cfg := testConfig()
	cfg.ServerPort = 0
	f := newManagerFixture(t, cfg, &fakeService{})

	if !f.mgr.Connect() {
		t.Fatal("connect was not started")
	}
	waitFor(t, "failed status", func() bool { return f.mgr.Status() == StatusFailed })
	waitFor(t, "attempt to finish", func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return f.mgr.connecting == nil
	})
	if pings, opens := f.svc.counts(); pings != 0 || opens != 0 {
		t.Fatalf("network used with invalid port: pings=%d opens=%d", pings, opens)
	}
	if f.mgr.IsRunning() {
		t.Fatal("running after config failure")
	}
}

func TestManager_UnreachableServerFails(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{pingBlocks: true})

	started := time.Now()
	f.mgr.Connect()
	waitFor(t, "failed status", func() bool { return f.mgr.Status() == StatusFailed })
	if elapsed := time.Since(started); elapsed < 80*time.Millisecond {
		t.Fatalf("failed after %v, expected at least 80ms", elapsed)
	}
	if _, opens := f.svc.counts(); opens != 0 {
		t.Fatalf("stream opened for unreachable server")
	}
	if f.mgr.IsRunning() {
		t.Fatal("running after failed connect")
	}
}

func TestManager_DisconnectCancelsPendingConnect(t *testing.T) {
	cfg := testConfig()
	cfg.PingTimeout = time.Second
	f := newManagerFixture(t, cfg, &fakeService{pingBlocks: true})

	f.mgr.Connect()
	if f.mgr.Connect() {
		t.Fatal("connect while connecting should be ignored")
	}
	if !f.mgr.Disconnect() {
		t.Fatal("disconnect should cancel the pending attempt")
	}
	waitFor(t, "attempt to end", func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return f.mgr.connecting == nil
	})
	if got := f.mgr.Status(); got != StatusUnknown {
		t.Fatalf("status = %s, want unknown", got)
	}
	if _, opens := f.svc.counts(); opens != 0 {
		t.Fatal("stream opened after cancel")
	}
}

func TestManager_DisconnectInterruptsStreamOpen(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{openBlocks: true})

	f.mgr.Connect()
	waitFor(t, "stream open in progress", func() bool {
		_, opens := f.svc.counts()
		return opens == 1
	})
	if !f.mgr.Disconnect() {
		t.Fatal("disconnect should cancel the pending attempt")
	}
	waitFor(t, "attempt to end", func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return f.mgr.connecting == nil
	})
	if got := f.mgr.Status(); got != StatusUnknown {
		t.Fatalf("status = %s, want unknown", got)
	}
	if f.mgr.IsRunning() {
		t.Fatal("running after interrupted open")
	}
}

func TestManager_StreamEndWithoutReconnect(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})
	f.connect(t)

	close(f.svc.stream(0).results)
	waitFor(t, "failed status", func() bool { return f.mgr.Status() == StatusFailed })
	waitFor(t, "stopped client", func() bool { return !f.mgr.IsRunning() })
	waitFor(t, "webhook payload", func() bool { return len(f.webhook.sent()) == 1 })
	if got := f.webhook.sent()[0].StopReason; got != stopReasonStreamEnded {
		t.Fatalf("stop reason = %q", got)
	}
	if _, opens := f.svc.counts(); opens != 1 {
		t.Fatalf("unexpected reconnect: %d opens", opens)
	}
	if f.mgr.Disconnect() {
		t.Fatal("disconnect after stream end should report nothing to stop")
	}
}

func TestManager_StreamEndReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = true
	f := newManagerFixture(t, cfg, &fakeService{})
	f.connect(t)

	close(f.svc.stream(0).results)
	waitFor(t, "second stream", func() bool {
		_, opens := f.svc.counts()
		return opens == 2
	})
	waitFor(t, "successful status", func() bool { return f.mgr.Status() == StatusSuccessful && f.mgr.IsRunning() })
	waitFor(t, "webhook payload", func() bool { return len(f.webhook.sent()) == 1 })
	if got := f.webhook.sent()[0].SessionID; got != "session-1" {
		t.Fatalf("finalized session = %q", got)
	}
	if snap := f.mgr.Snapshot(); snap.SessionID != "session-2" {
		t.Fatalf("current session = %q, want session-2", snap.SessionID)
	}
}

func TestManager_HandleAudioSendsFixedChunks(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})

	block := func() audio.FrameBatch {
		planes := [][]float32{make([]float32, 960), make([]float32, 960)}
		for i := range planes[0] {
			planes[0][i] = 0.25
			planes[1][i] = -0.125
		}
		return audio.FrameBatch{Planes: planes, Frames: 960, Channels: 2, SampleRate: 48000}
	}
	f.mgr.HandleAudio(block())
	if got := f.mgr.client.Stats().ChunksDropped; got != 0 {
		t.Fatalf("audio reached the client while idle: %d dropped", got)
	}

	f.connect(t)
	for range 30 {
		f.mgr.HandleAudio(block())
	}
	stream := f.svc.stream(0)
	waitFor(t, "chunks on the wire", func() bool { return len(stream.sentChunks()) >= 2 })
	for i, chunk := range stream.sentChunks() {
		if len(chunk) != 6400 {
			t.Fatalf("chunk %d has %d bytes, want 6400", i, len(chunk))
		}
	}
}

func TestManager_Resize(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})
	f.mgr.Resize(1, 5)
	snap := f.mgr.Snapshot()
	if snap.MaxLines != 1 || snap.MaxCharsPerLine != 5 {
		t.Fatalf("unexpected limits: %d %d", snap.MaxLines, snap.MaxCharsPerLine)
	}
	if snap.Status != "unknown" || snap.Running {
		t.Fatalf("unexpected idle snapshot: %+v", snap)
	}
}

func TestManager_RecoverOrphans(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})
	ctx := context.Background()
	if _, err := f.repo.CreateSession(ctx, repository.CreateSessionInput{ID: "stale", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.RecoverOrphans(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	completions := f.repo.completions()
	if len(completions) != 1 || completions[0].SessionID != "stale" || completions[0].StopReason != stopReasonOrphaned {
		t.Fatalf("unexpected completions: %+v", completions)
	}
	if running, _ := f.repo.ListRunningSessions(ctx); len(running) != 0 {
		t.Fatalf("sessions still running: %+v", running)
	}
}

func TestManager_RepositoryFailureKeepsCaptioning(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})
	f.repo.createErr = errors.New("database down")
	f.connect(t)

	f.svc.stream(0).results <- "still here"
	waitFor(t, "result", func() bool { return f.mgr.Tick() })
	if got := f.mgr.Content(); got != "still here\n" {
		t.Fatalf("content = %q", got)
	}
	f.mgr.Disconnect()
	waitFor(t, "webhook payload", func() bool { return len(f.webhook.sent()) == 1 })
	if got := f.webhook.sent()[0].SegmentCount; got != 0 {
		t.Fatalf("segment count = %d, want 0", got)
	}
}

func TestManager_CloseFinalizesSession(t *testing.T) {
	svc := &fakeService{}
	f := newManagerFixture(t, testConfig(), svc)
	f.connect(t)

	if err := f.mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	payloads := f.webhook.sent()
	if len(payloads) != 1 || payloads[0].StopReason != stopReasonShutdown {
		t.Fatalf("unexpected payloads after close: %+v", payloads)
	}
	svc.mu.Lock()
	closed := svc.closed
	svc.mu.Unlock()
	if !closed {
		t.Fatal("service was not closed")
	}
	if f.mgr.Connect() {
		t.Fatal("connect accepted after close")
	}
}

func TestManager_HandleSlashCommand(t *testing.T) {
	f := newManagerFixture(t, testConfig(), &fakeService{})

	var responses []string
	event := func(guild, command string) discord.SlashCommandEvent {
		return discord.SlashCommandEvent{
			GuildID:     guild,
			CommandName: command,
			RespondEphemeral: func(content string) error {
				responses = append(responses, content)
				return nil
			},
		}
	}

	f.mgr.HandleSlashCommand(event("other-guild", commandConnect))
	f.mgr.HandleSlashCommand(event("guild-1", commandDisconnect))
	f.mgr.HandleSlashCommand(event("guild-1", commandStatus))
	f.mgr.HandleSlashCommand(event("guild-1", "captions-unknown"))
	f.mgr.HandleSlashCommand(event("guild-1", commandConnect))
	waitFor(t, "successful status", func() bool { return f.mgr.Status() == StatusSuccessful })
	f.mgr.HandleSlashCommand(event("guild-1", commandDisconnect))

	want := []string{
		messageEphemeralWrongGuild,
		messageEphemeralNotRunning,
		"Status: **unknown**, running: **false**, backend: fake (127.0.0.1:50051)",
		messageEphemeralUnknownCommand,
		":hourglass: **Connecting to fake (127.0.0.1:50051).**",
		messageDisconnectedTitle,
	}
	if len(responses) != len(want) {
		t.Fatalf("got %d responses, want %d: %q", len(responses), len(want), responses)
	}
	for i := range want {
		if responses[i] != want[i] {
			t.Fatalf("response %d = %q, want %q", i, responses[i], want[i])
		}
	}
}

func TestSlashCommandDefinitions(t *testing.T) {
	defs := SlashCommandDefinitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(defs))
	}
	for _, d := range defs {
		if !strings.HasPrefix(d.Name, "captions-") || d.Description == "" {
			t.Fatalf("unexpected definition: %+v", d)
		}
	}
}
