//go:build !samplerate

package audio

import "math"

const zeroCrossings = 8

// Resampler is a streaming windowed-sinc converter. Each output sample is
// taken halfWidth input samples in the past, so no end-of-stream flush is
// needed; the first outputs are built against zero history.
type Resampler struct {
	targetRate int
	inputRate  int

	step      float64 // input samples per output sample
	cutoff    float64
	span      float64
	halfWidth int

	hist      []float32
	histStart int64
	total     int64
	pos       float64
}

func NewResampler(inputRate, targetRate int) (*Resampler, error) {
	if err := checkRates(inputRate, targetRate); err != nil {
		return nil, err
	}
	r := &Resampler{targetRate: targetRate}
	r.setRatio(inputRate)
	return r, nil
}

// SetInputRate keeps filter history, so the output timeline continues.
func (r *Resampler) SetInputRate(inputRate int) error {
	if err := checkRates(inputRate, r.targetRate); err != nil {
		return err
	}
	r.setRatio(inputRate)
	return nil
}

func (r *Resampler) setRatio(inputRate int) {
	r.inputRate = inputRate
	r.step = float64(inputRate) / float64(r.targetRate)
	r.cutoff = math.Min(1, float64(r.targetRate)/float64(inputRate))
	r.span = zeroCrossings / r.cutoff
	r.halfWidth = int(math.Ceil(r.span))
}

func (r *Resampler) InputRate() int { return r.inputRate }

func (r *Resampler) Ratio() float64 { return 1 / r.step }

func (r *Resampler) Close() error { return nil }

func (r *Resampler) latency() int { return r.halfWidth }

func (r *Resampler) Process(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	r.hist = append(r.hist, in...)
	r.total += int64(len(in))

	out := make([]float32, 0, int(float64(len(in))/r.step)+2)
	end := float64(r.total)
	for r.pos < end {
		out = append(out, r.interpolate(r.pos-float64(r.halfWidth)))
		r.pos += r.step
	}
	r.trim()
	return out
}

func (r *Resampler) interpolate(centre float64) float32 {
	lo := int64(math.Ceil(centre - r.span))
	hi := int64(math.Floor(centre + r.span))
	var acc float64
	for j := lo; j <= hi; j++ {
		x := r.sample(j)
		if x == 0 {
			continue
		}
		d := centre - float64(j)
		acc += float64(x) * r.cutoff * sinc(r.cutoff*d) * blackman(d/r.span)
	}
	return float32(acc)
}

func (r *Resampler) sample(i int64) float32 {
	if i < r.histStart || i >= r.total {
		return 0
	}
	return r.hist[i-r.histStart]
}

func (r *Resampler) trim() {
	keep := 2*r.halfWidth + 2
	if len(r.hist) <= keep {
		return
	}
	drop := len(r.hist) - keep
	r.hist = append(r.hist[:0], r.hist[drop:]...)
	r.histStart += int64(drop)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x == math.Trunc(x) {
		return 0
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func blackman(x float64) float64 {
	if x <= -1 || x >= 1 {
		return 0
	}
	if x == 0 {
		return 1
	}
	return 0.42 + 0.5*math.Cos(math.Pi*x) + 0.08*math.Cos(2*math.Pi*x)
}
