package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/audio"
)

const stdinSource = "-"

type PCMReaderConfig struct {
	SampleRate     int
	Channels       int
	FramesPerBlock int
	Paced          bool
}

type PCMReader struct {
	name string
	r    io.Reader
	cfg  PCMReaderConfig

	mu      sync.RWMutex
	handler func(audio.FrameBatch)
}

var _ audio.Source = (*PCMReader)(nil)

func NewPCMReader(name string, r io.Reader, cfg PCMReaderConfig) *PCMReader {
	return &PCMReader{name: name, r: r, cfg: cfg}
}

func OpenPCMSource(path string, cfg PCMReaderConfig) (*PCMReader, error) {
	if path == stdinSource || path == "" {
		return NewPCMReader("stdin", os.Stdin, cfg), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio source %s: %w", path, err)
	}
	cfg.Paced = true
	return NewPCMReader(path, f, cfg), nil
}

func (p *PCMReader) Name() string { return p.name }

func (p *PCMReader) Subscribe(handler func(audio.FrameBatch)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// A trailing partial sample is discarded.
func (p *PCMReader) Run(ctx context.Context) error {
	if p.cfg.Channels <= 0 || p.cfg.FramesPerBlock <= 0 || p.cfg.SampleRate <= 0 {
		return fmt.Errorf("invalid pcm reader config: %+v", p.cfg)
	}
	if c, ok := p.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	frameBytes := p.cfg.Channels * 4
	buf := make([]byte, p.cfg.FramesPerBlock*frameBytes)
	blockDur := time.Duration(p.cfg.FramesPerBlock) * time.Second / time.Duration(p.cfg.SampleRate)
	var ticker *time.Ticker
	if p.cfg.Paced {
		ticker = time.NewTicker(blockDur)
		defer ticker.Stop()
	}

	slog.Info("audio source started", "source", p.name, "sample_rate", p.cfg.SampleRate, "channels", p.cfg.Channels, "frames_per_block", p.cfg.FramesPerBlock)
	var blocks int64
	for {
		n, err := io.ReadFull(p.r, buf)
		if ctx.Err() != nil {
			return nil
		}
		if frames := n / frameBytes; frames > 0 {
			p.publish(deinterleave(buf[:frames*frameBytes], p.cfg.Channels, frames, p.cfg.SampleRate))
			blocks++
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			slog.Info("audio source ended", "source", p.name, "blocks", blocks)
			return nil
		case err != nil:
			return fmt.Errorf("read audio source %s: %w", p.name, err)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func (p *PCMReader) publish(batch audio.FrameBatch) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler != nil {
		handler(batch)
	}
}

func deinterleave(data []byte, channels, frames, sampleRate int) audio.FrameBatch {
	planes := make([][]float32, channels)
	for ch := range planes {
		planes[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 4
			planes[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
	}
	return audio.FrameBatch{Planes: planes, Frames: frames, Channels: channels, SampleRate: sampleRate}
}
