package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

const bytesPerSample = 4

type ProcessorConfig struct {
	TargetSampleRate int
	ChunkSize        int
	WarmupBlocks     int
	// Zero disables the silence check.
	SilenceCheckFrames int
}

type ProcessorStats struct {
	BlocksProcessed int64
	SilentDropped   int64
	WarmupDropped   int64
	ChunksEmitted   int64
}

// Process must be called from a single goroutine.
type Processor struct {
	cfg  ProcessorConfig
	sink ChunkSink

	resampler *Resampler
	disabled  bool
	warnInit  sync.Once
	processed int
	sendBuf   []byte

	resetPending atomic.Bool

	blocks        atomic.Int64
	silent        atomic.Int64
	warmupDropped atomic.Int64
	chunks        atomic.Int64
}

func NewProcessor(cfg ProcessorConfig, sink ChunkSink) *Processor {
	return &Processor{
		cfg:     cfg,
		sink:    sink,
		sendBuf: make([]byte, 0, cfg.ChunkSize*2),
	}
}

func (p *Processor) Reset() {
	p.resetPending.Store(true)
}

func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		BlocksProcessed: p.blocks.Load(),
		SilentDropped:   p.silent.Load(),
		WarmupDropped:   p.warmupDropped.Load(),
		ChunksEmitted:   p.chunks.Load(),
	}
}

func (p *Processor) Process(batch FrameBatch) {
	if p.resetPending.CompareAndSwap(true, false) {
		p.releaseResampler()
		p.sendBuf = p.sendBuf[:0]
		p.processed = 0
		p.disabled = false
	}
	if !p.sink.IsRunning() || p.disabled {
		return
	}
	if p.isSilentBlock(batch) {
		p.silent.Add(1)
		return
	}
	mono := Downmix(batch)
	if len(mono) == 0 {
		return
	}
	r := p.ensureResampler(batch.SampleRate)
	if r == nil {
		return
	}

	out := r.Process(mono)
	p.blocks.Add(1)
	p.processed++
	if p.processed <= p.cfg.WarmupBlocks {
		p.warmupDropped.Add(1)
		return
	}
	p.appendSamples(out)
	p.flushChunks()
}

func (p *Processor) ensureResampler(rate int) *Resampler {
	if p.resampler == nil {
		r, err := NewResampler(rate, p.cfg.TargetSampleRate)
		if err != nil {
			p.disable(err, rate)
			return nil
		}
		slog.Info("resampler initialized", "input_rate", rate, "target_rate", p.cfg.TargetSampleRate, "ratio", r.Ratio())
		p.resampler = r
		return r
	}
	if p.resampler.InputRate() != rate {
		if err := p.resampler.SetInputRate(rate); err != nil {
			p.disable(err, rate)
			return nil
		}
		slog.Info("resampler input rate changed", "input_rate", rate, "ratio", p.resampler.Ratio())
	}
	return p.resampler
}

func (p *Processor) disable(err error, rate int) {
	p.disabled = true
	if !errors.Is(err, ErrResamplerInit) {
		err = fmt.Errorf("%w: %w", ErrResamplerInit, err)
	}
	p.warnInit.Do(func() {
		slog.Error("resampler unavailable; audio processing disabled", "error", err, "input_rate", rate, "target_rate", p.cfg.TargetSampleRate)
	})
}

func (p *Processor) releaseResampler() {
	if p.resampler == nil {
		return
	}
	if err := p.resampler.Close(); err != nil {
		slog.Warn("failed to release resampler", "error", err)
	}
	p.resampler = nil
}

func (p *Processor) isSilentBlock(batch FrameBatch) bool {
	if p.cfg.SilenceCheckFrames <= 0 || batch.Frames != p.cfg.SilenceCheckFrames {
		return false
	}
	for _, plane := range batch.Planes {
		for _, s := range plane[:min(len(plane), batch.Frames)] {
			if s != 0 {
				return false
			}
		}
	}
	return true
}

func (p *Processor) appendSamples(samples []float32) {
	p.sendBuf = AppendFloat32LE(p.sendBuf, samples)
}

func (p *Processor) flushChunks() {
	size := p.cfg.ChunkSize
	if size <= 0 {
		return
	}
	off := 0
	for len(p.sendBuf)-off >= size {
		chunk := make([]byte, size)
		copy(chunk, p.sendBuf[off:off+size])
		off += size
		p.chunks.Add(1)
		p.sink.SendChunk(chunk)
	}
	if off > 0 {
		n := copy(p.sendBuf, p.sendBuf[off:])
		p.sendBuf = p.sendBuf[:n]
	}
}

// Downmix averages stereo; wider layouts keep the first channel.
func Downmix(batch FrameBatch) []float32 {
	if batch.Channels <= 0 || len(batch.Planes) == 0 {
		return nil
	}
	frames := batch.Frames
	for _, plane := range batch.Planes {
		frames = min(frames, len(plane))
	}
	if batch.Channels != 2 || len(batch.Planes) < 2 {
		return batch.Planes[0][:frames]
	}
	left, right := batch.Planes[0], batch.Planes[1]
	mono := make([]float32, frames)
	for i := range frames {
		mono[i] = (left[i] + right[i]) / 2
	}
	return mono
}

func AppendFloat32LE(dst []byte, samples []float32) []byte {
	dst = slices.Grow(dst, len(samples)*bytesPerSample)
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}
