package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/audio"
	"github.com/gPlorovg/sayo-captions/internal/caption"
	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/gPlorovg/sayo-captions/internal/discord"
	"github.com/gPlorovg/sayo-captions/internal/metrics"
	"github.com/gPlorovg/sayo-captions/internal/repository"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"github.com/gPlorovg/sayo-captions/internal/webhook"
	"github.com/google/uuid"
)

const (
	statsInterval       = 5 * time.Second
	jobQueueSize        = 256
	jobTimeout          = 30 * time.Second
	defaultBackoff      = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultReconnectMax = 5
)

type IDGenerator func() string

type Option func(*Manager)

func WithIDGenerator(gen IDGenerator) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithReconnectBackoff(initial, maxBackoff time.Duration) Option {
	return func(m *Manager) {
		m.backoff = initial
		m.maxBackoff = maxBackoff
	}
}

type Manager struct {
	cfg       *config.Config
	svc       transcriber.Service
	client    *Client
	processor *audio.Processor
	repo      repository.Repository
	discord   discord.Client
	webhook   webhook.Sender
	metrics   *metrics.Metrics

	newID      IDGenerator
	now        func() time.Time
	backoff    time.Duration
	maxBackoff time.Duration

	status statusValue

	windowMu sync.Mutex
	window   *caption.Window

	mu         sync.Mutex
	current    *activeSession
	connecting *connectAttempt
	closed     bool

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	jobs       chan func(context.Context)
	stopJobs   chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

type activeSession struct {
	id        string
	startedAt time.Time
	archived  bool
	nextIndex atomic.Int64
}

type connectAttempt struct {
	cancel context.CancelFunc
}

type Snapshot struct {
	Status          string      `json:"status"`
	Running         bool        `json:"running"`
	SessionID       string      `json:"session_id,omitempty"`
	Backend         string      `json:"backend"`
	Target          string      `json:"target"`
	MaxLines        int         `json:"max_lines"`
	MaxCharsPerLine int         `json:"max_chars_per_line"`
	Client          ClientStats `json:"client"`
}

func NewManager(cfg *config.Config, svc transcriber.Service, repo repository.Repository, dc discord.Client, wh webhook.Sender, m *metrics.Metrics, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:        cfg,
		svc:        svc,
		repo:       repo,
		discord:    dc,
		webhook:    wh,
		metrics:    m,
		newID:      uuid.NewString,
		now:        time.Now,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		window:     caption.NewWindow(cfg.MaxLines, cfg.MaxCharsPerLine),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan func(context.Context), jobQueueSize),
		stopJobs:   make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	mgr.client = NewClient(svc, ClientConfig{
		QueueCapacity:  cfg.QueueCapacity,
		PingTimeout:    cfg.PingTimeout,
		PingAttempts:   cfg.PingAttempts,
		PingRetryDelay: cfg.PingRetryDelay,
	}, m)
	mgr.processor = audio.NewProcessor(audio.ProcessorConfig{
		TargetSampleRate:   cfg.TargetSampleRate,
		ChunkSize:          cfg.ChunkSize(),
		WarmupBlocks:       cfg.WarmupBlocks,
		SilenceCheckFrames: cfg.SilenceCheckFrames,
	}, &countingSink{client: mgr.client, metrics: m})

	go mgr.runJobs()
	mgr.wg.Add(1)
	go mgr.logStats()
	return mgr
}

// Connect reports whether a new background attempt was started.
func (m *Manager) Connect() bool {
	started := m.beginConnect(false)
	if !started {
		slog.Info("connect ignored; session already active or connecting")
	}
	return started
}

func (m *Manager) Disconnect() bool {
	m.mu.Lock()
	attempt := m.connecting
	sess := m.current
	m.mu.Unlock()

	if attempt != nil {
		attempt.cancel()
	}
	ended := m.endSession(sess, stopReasonOperator)
	if attempt == nil && !ended {
		return false
	}
	m.setStatus(StatusUnknown)
	return true
}

// HandleAudio runs on the capture goroutine.
func (m *Manager) HandleAudio(batch audio.FrameBatch) {
	m.processor.Process(batch)
}

func (m *Manager) Tick() bool {
	text, ok := m.client.PopResult()
	if !ok {
		return false
	}
	m.windowMu.Lock()
	m.window.AddToken(text)
	m.windowMu.Unlock()

	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()
	if sess != nil {
		idx := int(sess.nextIndex.Add(1) - 1)
		spokenAt := m.now()
		m.enqueue(func(ctx context.Context) {
			m.archiveSegment(ctx, sess, idx, text, spokenAt)
		})
	}
	return true
}

func (m *Manager) Content() string {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()
	return m.window.Content()
}

func (m *Manager) Resize(maxLines, maxCharsPerLine int) {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()
	m.window.Resize(maxLines, maxCharsPerLine)
	slog.Info("caption window resized", "max_lines", maxLines, "max_chars_per_line", maxCharsPerLine)
}

func (m *Manager) Status() Status {
	return m.status.Load()
}

func (m *Manager) IsRunning() bool {
	return m.client.IsRunning()
}

func (m *Manager) Snapshot() Snapshot {
	m.windowMu.Lock()
	lines, chars := m.window.Limits()
	m.windowMu.Unlock()
	m.mu.Lock()
	var sessionID string
	if m.current != nil {
		sessionID = m.current.id
	}
	m.mu.Unlock()
	return Snapshot{
		Status:          m.Status().String(),
		Running:         m.client.IsRunning(),
		SessionID:       sessionID,
		Backend:         m.svc.Name(),
		Target:          m.target(),
		MaxLines:        lines,
		MaxCharsPerLine: chars,
		Client:          m.client.Stats(),
	}
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

func (m *Manager) RecoverOrphans(ctx context.Context) error {
	sessions, err := m.repo.ListRunningSessions(ctx)
	if err != nil {
		return fmt.Errorf("list running sessions: %w", err)
	}
	for _, s := range sessions {
		slog.Warn("found orphan running session in repository; closing", "session_id", s.ID, "started_at", s.StartedAt)
		if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
			SessionID:  s.ID,
			EndedAt:    m.now(),
			StopReason: stopReasonOrphaned,
		}); err != nil {
			return fmt.Errorf("complete orphan session %s: %w", s.ID, err)
		}
	}
	return nil
}

func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		attempt := m.connecting
		sess := m.current
		m.mu.Unlock()
		if attempt != nil {
			attempt.cancel()
		}
		m.endSession(sess, stopReasonShutdown)
		m.cancel()
		m.wg.Wait()
		close(m.stopJobs)
		<-m.workerDone
		m.client.Stop()
		err = m.svc.Close()
	})
	return err
}

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	respond := func(content string) {
		if err := event.RespondEphemeral(content); err != nil {
			slog.Error("failed to respond to slash command", "error", err, "command", event.CommandName)
		}
	}
	if event.GuildID != m.cfg.DiscordGuildID {
		respond(messageEphemeralWrongGuild)
		return
	}
	switch event.CommandName {
	case commandConnect:
		if !m.Connect() {
			respond(messageEphemeralAlreadyRunning)
			return
		}
		respond(fmt.Sprintf(messageConnectingFormat, m.svc.Name(), m.target()))
	case commandDisconnect:
		if !m.Disconnect() {
			respond(messageEphemeralNotRunning)
			return
		}
		respond(messageDisconnectedTitle)
	case commandStatus:
		respond(fmt.Sprintf(messageStatusFormat, m.Status(), m.client.IsRunning(), m.svc.Name(), m.target()))
	default:
		respond(messageEphemeralUnknownCommand)
	}
}

func (m *Manager) beginConnect(reconnect bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.connecting != nil || m.current != nil {
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	attempt := &connectAttempt{cancel: cancel}
	m.connecting = attempt
	m.wg.Add(1)
	go m.connectLoop(ctx, attempt, reconnect)
	return true
}

func (m *Manager) connectLoop(ctx context.Context, attempt *connectAttempt, reconnect bool) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.connecting == attempt {
			m.connecting = nil
		}
		canceled := ctx.Err() != nil && m.current == nil && !m.closed
		m.mu.Unlock()
		attempt.cancel()
		if canceled {
			m.setStatus(StatusUnknown)
		}
	}()

	maxAttempts := 1
	if reconnect {
		maxAttempts = m.cfg.ReconnectMaxRetries
		if maxAttempts <= 0 {
			maxAttempts = defaultReconnectMax
		}
	}
	wait := m.backoff
	for n := 1; n <= maxAttempts; n++ {
		if reconnect {
			m.metrics.RecordReconnect()
			slog.Info("attempting reconnection", "attempt", n, "max_retries", maxAttempts, "backoff", wait)
			m.notify(fmt.Sprintf(messageReconnectingFormat, n, maxAttempts))
		}
		err := m.connectOnce(ctx, attempt)
		if err == nil {
			return
		}
		slog.Error("connect failed", "error", err, "attempt", n)
		if errors.Is(err, config.ErrInvalidConfig) || ctx.Err() != nil || n == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, m.maxBackoff)
	}
	if reconnect && ctx.Err() == nil {
		slog.Error("reconnection failed after max retries", "max_retries", maxAttempts)
	}
}

func (m *Manager) connectOnce(ctx context.Context, attempt *connectAttempt) error {
	m.setStatus(StatusConnecting)
	if err := m.cfg.ValidateServer(); err != nil {
		m.setStatus(StatusFailed)
		return err
	}
	if !m.client.TestConnection(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.setStatus(StatusFailed)
		return fmt.Errorf("%w: %s", ErrConnectivity, m.target())
	}
	if err := m.client.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.setStatus(StatusFailed)
		return err
	}
	m.processor.Reset()
	sess := m.openSession(ctx)

	m.mu.Lock()
	if ctx.Err() != nil || m.closed {
		m.mu.Unlock()
		m.client.Stop()
		m.finalizeLater(sess, stopReasonCanceled)
		return context.Canceled
	}
	m.current = sess
	if m.connecting == attempt {
		m.connecting = nil
	}
	done := m.client.Done()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(sess, done)
	m.notify(connectedMessage(m.target()))
	m.setStatus(StatusSuccessful)
	slog.Info("caption session connected", "session_id", sess.id, "backend", m.svc.Name(), "target", m.target())
	return nil
}

// A receiver exit not caused by endSession is an unexpected stream end.
func (m *Manager) watch(sess *activeSession, done <-chan struct{}) {
	defer m.wg.Done()
	select {
	case <-done:
	case <-m.ctx.Done():
		return
	}
	if !m.endSession(sess, stopReasonStreamEnded) {
		return
	}
	slog.Warn("streaming session ended unexpectedly", "session_id", sess.id)
	m.setStatus(StatusFailed)
	if m.cfg.AutoReconnect {
		m.beginConnect(true)
	}
}

func (m *Manager) endSession(sess *activeSession, reason string) bool {
	if sess == nil {
		return false
	}
	m.mu.Lock()
	if m.current != sess {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.mu.Unlock()

	slog.Info("stopping caption session", "session_id", sess.id, "reason", reason)
	m.client.Stop()
	m.finalizeLater(sess, reason)
	return true
}

func (m *Manager) openSession(ctx context.Context) *activeSession {
	sess := &activeSession{id: m.newID(), startedAt: m.now()}
	if _, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:        sess.id,
		Backend:   m.svc.Name(),
		Target:    m.target(),
		StartedAt: sess.startedAt,
	}); err != nil {
		slog.Error("failed to create session in repository; transcript will not be archived", "error", err, "session_id", sess.id)
		return sess
	}
	sess.archived = true
	return sess
}

func (m *Manager) finalizeLater(sess *activeSession, reason string) {
	endedAt := m.now()
	m.enqueue(func(ctx context.Context) {
		m.finalizeSession(ctx, sess, reason, endedAt)
	})
}

func (m *Manager) archiveSegment(ctx context.Context, sess *activeSession, idx int, text string, spokenAt time.Time) {
	if sess.archived {
		if err := m.repo.InsertSegment(ctx, repository.InsertSegmentInput{
			SessionID:    sess.id,
			Content:      text,
			SegmentIndex: idx,
			SpokenAt:     spokenAt,
		}); err != nil {
			slog.Error("failed to insert segment", "error", err, "session_id", sess.id)
		}
	}
	if m.discord.Enabled() && m.cfg.DiscordCaptionChannelID != "" {
		if err := m.discord.SendChannelMessage(m.cfg.DiscordCaptionChannelID, text); err != nil {
			slog.Error("failed to relay caption text", "error", err, "session_id", sess.id)
		}
	}
}

func (m *Manager) finalizeSession(ctx context.Context, sess *activeSession, reason string, endedAt time.Time) {
	var segments []repository.TranscriptSegment
	if sess.archived {
		if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
			SessionID:  sess.id,
			EndedAt:    endedAt,
			StopReason: reason,
		}); err != nil {
			slog.Error("failed to complete session", "error", err, "session_id", sess.id)
		}
		var err error
		segments, err = m.repo.ListSegmentsBySessionID(ctx, sess.id)
		if err != nil {
			slog.Error("failed to list transcript segments", "error", err, "session_id", sess.id)
		}
	}

	meta := transcriptMetadata{
		SessionID:  sess.id,
		Backend:    m.svc.Name(),
		Target:     m.target(),
		StopReason: reason,
	}
	timezone := m.cfg.TranscriptTimezone
	if timezone == "" {
		timezone = "UTC"
	}
	loc := m.cfg.Location()

	payload := buildTranscriptWebhookPayload(meta, sess.startedAt, endedAt, timezone, loc, segments)
	if err := m.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", sess.id)
	}

	if !m.discord.Enabled() || m.cfg.DiscordCaptionChannelID == "" {
		return
	}
	lines := []string{messageDisconnectedTitle, messageStopReasonPrefix + stopReasonDetail(reason)}
	if stopReasonNeedsRestart(reason) {
		lines = append(lines, messageRestartHint)
	}
	if len(segments) == 0 {
		if err := m.discord.SendChannelMessage(m.cfg.DiscordCaptionChannelID, strings.Join(lines, "\n")); err != nil {
			slog.Error("failed to post disconnect message", "error", err, "session_id", sess.id)
		}
		return
	}
	lines = append(lines, "", messageAttachmentTitle)
	if err := m.discord.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID: m.cfg.DiscordCaptionChannelID,
		Content:   strings.Join(lines, "\n"),
		Filename:  fmt.Sprintf("transcript-%s.txt", sess.id),
		FileBody:  buildTranscriptText(meta, sess.startedAt, endedAt, timezone, loc, segments),
	}); err != nil {
		slog.Error("failed to post transcript file", "error", err, "session_id", sess.id)
	}
}

func (m *Manager) notify(content string) {
	if !m.discord.Enabled() || m.cfg.DiscordCaptionChannelID == "" {
		return
	}
	m.enqueue(func(context.Context) {
		if err := m.discord.SendChannelMessage(m.cfg.DiscordCaptionChannelID, content); err != nil {
			slog.Error("failed to post channel message", "error", err)
		}
	})
}

func (m *Manager) enqueue(job func(context.Context)) {
	select {
	case m.jobs <- job:
	default:
		slog.Warn("archive queue full; dropping job")
	}
}

func (m *Manager) runJobs() {
	defer close(m.workerDone)
	run := func(job func(context.Context)) {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		job(ctx)
	}
	for {
		select {
		case job := <-m.jobs:
			run(job)
		case <-m.stopJobs:
			for {
				select {
				case job := <-m.jobs:
					run(job)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) logStats() {
	defer m.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.client.IsRunning() {
				continue
			}
			cs := m.client.Stats()
			ps := m.processor.Stats()
			slog.Info("audio pipeline stats",
				"blocks_processed", ps.BlocksProcessed,
				"silent_dropped", ps.SilentDropped,
				"warmup_dropped", ps.WarmupDropped,
				"chunks_emitted", ps.ChunksEmitted,
				"chunks_sent", cs.ChunksSent,
				"chunks_dropped", cs.ChunksDropped,
				"send_errors", cs.SendErrors,
				"results_received", cs.ResultsReceived,
				"queue_depth", cs.QueueDepth,
				"pending_results", cs.PendingResults)
		}
	}
}

func (m *Manager) setStatus(st Status) {
	if prev := m.status.Load(); prev != st {
		slog.Debug("connection status changed", "from", prev.String(), "to", st.String())
	}
	m.status.Store(st)
	m.metrics.SetConnectionState(int(st))
}

func (m *Manager) target() string {
	if m.cfg.TranscribeBackend == config.BackendCloudSpeech {
		location := m.cfg.GoogleCloudSpeechLocation
		if location == "" {
			location = "global"
		}
		return "speech.googleapis.com/" + location
	}
	return m.cfg.ServerTarget()
}

type countingSink struct {
	client  *Client
	metrics *metrics.Metrics
}

func (s *countingSink) SendChunk(chunk []byte) {
	s.metrics.RecordChunkEmitted()
	s.client.SendChunk(chunk)
}

func (s *countingSink) IsRunning() bool {
	return s.client.IsRunning()
}
