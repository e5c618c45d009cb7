//go:build samplerate

package audio

import (
	"errors"
	"math"
	"testing"
)

func TestResampler_CumulativeLengthTracksRatio(t *testing.T) {
	r, err := NewResampler(48000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	in, out := 0, 0
	for range 100 {
		out += len(r.Process(make([]float32, 480)))
		in += 480
	}
	want := float64(in) / 3
	// The converter holds back a short filter delay.
	if math.Abs(float64(out)-want) > 64 {
		t.Fatalf("got %d outputs for %d inputs, want about %.0f", out, in, want)
	}
}

func TestResampler_RejectsUnsupportedRatio(t *testing.T) {
	if _, err := NewResampler(48000*300, 16000); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
}
