//go:build samplerate

package audio

import (
	"fmt"
	"log/slog"

	"github.com/dh1tw/gosamplerate"
)

const (
	srcBufferLen = 1 << 15
	srcMaxRatio  = 256
)

// Resampler wraps a libsamplerate SRC_SINC_FASTEST converter. Equal rates
// pass samples through untouched.
type Resampler struct {
	targetRate int
	inputRate  int
	ratio      float64
	src        gosamplerate.Src
}

func NewResampler(inputRate, targetRate int) (*Resampler, error) {
	if err := checkRates(inputRate, targetRate); err != nil {
		return nil, err
	}
	r := &Resampler{targetRate: targetRate}
	if err := r.setRatio(inputRate); err != nil {
		return nil, err
	}
	src, err := gosamplerate.New(gosamplerate.SRC_SINC_FASTEST, 1, srcBufferLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResamplerInit, err)
	}
	r.src = src
	return r, nil
}

func (r *Resampler) SetInputRate(inputRate int) error {
	if err := checkRates(inputRate, r.targetRate); err != nil {
		return err
	}
	return r.setRatio(inputRate)
}

func (r *Resampler) setRatio(inputRate int) error {
	ratio := float64(r.targetRate) / float64(inputRate)
	if ratio > srcMaxRatio || ratio < 1.0/srcMaxRatio {
		return fmt.Errorf("%w: ratio %d/%d out of range", ErrInvalidRate, r.targetRate, inputRate)
	}
	r.inputRate = inputRate
	r.ratio = ratio
	return nil
}

func (r *Resampler) InputRate() int { return r.inputRate }

func (r *Resampler) Ratio() float64 { return r.ratio }

func (r *Resampler) Close() error {
	return gosamplerate.Delete(r.src)
}

func (r *Resampler) Process(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	if r.ratio == 1 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	// Keep each call's output inside the converter's buffer.
	piece := max(1, min(len(in), int(float64(srcBufferLen)/(2*r.ratio+1))))
	out := make([]float32, 0, int(float64(len(in))*r.ratio)+2)
	for off := 0; off < len(in); off += piece {
		converted, err := r.src.Process(in[off:min(off+piece, len(in))], r.ratio, false)
		if err != nil {
			slog.Warn("resampler process failed", "error", err, "input_rate", r.inputRate, "target_rate", r.targetRate)
			return out
		}
		out = append(out, converted...)
	}
	return out
}
