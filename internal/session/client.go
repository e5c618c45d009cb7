package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/metrics"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultStopWarnAfter = 3 * time.Second
	defaultOpenTimeout   = 10 * time.Second
)

type clientState int32

const (
	stateIdle clientState = iota
	stateConnecting
	stateRunning
	stateStopping
)

func (s clientState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

type ClientConfig struct {
	QueueCapacity  int
	PingTimeout    time.Duration
	PingAttempts   int
	PingRetryDelay time.Duration
	OpenTimeout    time.Duration
	StopWarnAfter  time.Duration
}

type ClientStats struct {
	ChunksSent      int64 `json:"chunks_sent"`
	ChunksDropped   int64 `json:"chunks_dropped"`
	SendErrors      int64 `json:"send_errors"`
	ResultsReceived int64 `json:"results_received"`
	QueueDepth      int   `json:"queue_depth"`
	PendingResults  int   `json:"pending_results"`
}

type Client struct {
	svc     transcriber.Service
	cfg     ClientConfig
	metrics *metrics.Metrics

	lifecycle sync.Mutex
	state     atomic.Int32
	stream    transcriber.Stream
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	doneMu sync.Mutex
	done   chan struct{}

	running atomic.Bool
	chunks  *chunkQueue
	texts   textQueue

	sent     atomic.Int64
	dropped  atomic.Int64
	sendErrs atomic.Int64
	received atomic.Int64
}

func NewClient(svc transcriber.Service, cfg ClientConfig, m *metrics.Metrics) *Client {
	if cfg.StopWarnAfter <= 0 {
		cfg.StopWarnAfter = defaultStopWarnAfter
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.PingAttempts <= 0 {
		cfg.PingAttempts = 1
	}
	return &Client{
		svc:     svc,
		cfg:     cfg,
		metrics: m,
		chunks:  newChunkQueue(cfg.QueueCapacity),
	}
}

func (c *Client) TestConnection(ctx context.Context) bool {
	for attempt := 1; attempt <= c.cfg.PingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
		started := time.Now()
		msg, err := c.svc.Ping(pingCtx)
		cancel()
		c.metrics.ObservePing(time.Since(started).Seconds())
		if err == nil {
			slog.Info("ping succeeded", "backend", c.svc.Name(), "attempt", attempt, "message", msg)
			return true
		}
		slog.Warn("ping failed",
			"backend", c.svc.Name(),
			"attempt", attempt,
			"max_attempts", c.cfg.PingAttempts,
			"code", status.Code(err).String(),
			"error", err)
		if attempt == c.cfg.PingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.PingRetryDelay):
		}
	}
	return false
}

// Start is a no-op unless idle. ctx bounds only the open.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.loadState() != stateIdle {
		slog.Debug("start ignored", "state", c.loadState().String())
		return nil
	}
	c.setState(stateConnecting)

	streamCtx, cancel, stream, err := c.open(ctx)
	if err != nil {
		c.setState(stateIdle)
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	done := make(chan struct{})
	c.stream = stream
	c.cancel = cancel
	c.doneMu.Lock()
	c.done = done
	c.doneMu.Unlock()

	c.chunks.openQueue()
	c.running.Store(true)
	c.setState(stateRunning)
	c.metrics.RecordSessionStarted()

	c.wg.Add(2)
	go c.sendLoop(streamCtx, stream)
	go c.receiveLoop(stream, cancel, done)
	slog.Info("streaming session started", "backend", c.svc.Name())
	return nil
}

func (c *Client) open(ctx context.Context) (context.Context, context.CancelFunc, transcriber.Stream, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopWatch := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(c.cfg.OpenTimeout, cancel)
	stream, err := c.svc.OpenStream(streamCtx)
	interrupted := !stopWatch()
	expired := !timer.Stop()
	switch {
	case interrupted:
		err = ctx.Err()
	case expired:
		err = fmt.Errorf("open stream: %w after %s", context.DeadlineExceeded, c.cfg.OpenTimeout)
	case err != nil:
	default:
		return streamCtx, cancel, stream, nil
	}
	cancel()
	if stream != nil {
		_ = stream.CloseSend()
	}
	return nil, nil, nil, err
}

func (c *Client) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.loadState() == stateIdle {
		return
	}
	c.setState(stateStopping)
	c.cancel()
	c.halt()

	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(c.cfg.StopWarnAfter):
		slog.Warn("streaming goroutines slow to stop", "waited", c.cfg.StopWarnAfter)
		<-joined
	}

	err := c.stream.Finish()
	code := status.Code(err)
	switch {
	case err == nil, code == codes.Canceled:
		slog.Info("streaming session finished", "backend", c.svc.Name(), "status", code.String())
	default:
		slog.Warn("streaming session finished with error", "backend", c.svc.Name(), "status", code.String(), "error", err)
	}
	c.stream = nil
	c.cancel = nil
	c.metrics.SetQueueDepth(0)
	c.setState(stateIdle)
}

func (c *Client) SendChunk(chunk []byte) {
	switch c.chunks.push(chunk) {
	case rejectedClosed:
		c.dropped.Add(1)
		c.metrics.RecordChunkDropped("not_running")
	case pushedDroppedOldest:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("outbound queue full; dropped oldest chunk", "capacity", c.chunks.capacity, "total_dropped", n)
		}
		c.metrics.RecordChunkDropped("queue_full")
	}
}

func (c *Client) IsRunning() bool {
	return c.running.Load()
}

func (c *Client) PopResult() (string, bool) {
	return c.texts.pop()
}

// Done is nil before the first Start.
func (c *Client) Done() <-chan struct{} {
	c.doneMu.Lock()
	defer c.doneMu.Unlock()
	return c.done
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		ChunksSent:      c.sent.Load(),
		ChunksDropped:   c.dropped.Load(),
		SendErrors:      c.sendErrs.Load(),
		ResultsReceived: c.received.Load(),
		QueueDepth:      c.chunks.len(),
		PendingResults:  c.texts.len(),
	}
}

func (c *Client) halt() {
	c.chunks.close()
	c.running.Store(false)
}

func (c *Client) sendLoop(ctx context.Context, stream transcriber.Stream) {
	defer c.wg.Done()
	defer func() {
		if err := stream.CloseSend(); err != nil {
			slog.Debug("close send failed", "error", err)
		}
	}()
	for {
		chunk, ok := c.chunks.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil || !c.running.Load() {
			c.dropped.Add(1)
			c.metrics.RecordChunkDropped("stopping")
			continue
		}
		if err := stream.Send(chunk); err != nil {
			n := c.sendErrs.Add(1)
			c.metrics.RecordSendError()
			if n == 1 || n%50 == 0 {
				slog.Warn("failed to write audio chunk", "error", fmt.Errorf("%w: %w", ErrStreamWrite, err), "total_errors", n)
			}
			continue
		}
		c.sent.Add(1)
		c.metrics.RecordChunkSent()
		c.metrics.SetQueueDepth(c.chunks.len())
	}
}

func (c *Client) receiveLoop(stream transcriber.Stream, cancel context.CancelFunc, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	for {
		text, err := stream.Recv()
		if err != nil {
			switch code := status.Code(err); {
			case errors.Is(err, io.EOF):
				slog.Info("stream closed by server")
			case code == codes.Canceled || errors.Is(err, context.Canceled):
				slog.Debug("stream receive canceled")
			default:
				slog.Warn("stream receive failed", "code", code.String(), "error", fmt.Errorf("%w: %w", ErrStreamClosed, err))
			}
			break
		}
		if text == "" {
			continue
		}
		c.received.Add(1)
		c.metrics.RecordResult()
		c.texts.push(text)
	}
	cancel()
	c.halt()
}

func (c *Client) loadState() clientState {
	return clientState(c.state.Load())
}

func (c *Client) setState(s clientState) {
	c.state.Store(int32(s))
}
