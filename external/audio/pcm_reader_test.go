package audio

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/audio"
)

func collect(t *testing.T, r *PCMReader) []audio.FrameBatch {
	t.Helper()
	var got []audio.FrameBatch
	r.Subscribe(func(b audio.FrameBatch) { got = append(got, b) })
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return got
}

func TestPCMReader_DeinterleavesBlocks(t *testing.T) {
	// Three stereo frames plus half a sample of trailing garbage.
	data := append(audio.AppendFloat32LE(nil, []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3}), 0xff, 0xff)
	r := NewPCMReader("test", bytes.NewReader(data), PCMReaderConfig{SampleRate: 48000, Channels: 2, FramesPerBlock: 2})

	got := collect(t, r)
	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2", len(got))
	}
	first := got[0]
	if first.Frames != 2 || first.Channels != 2 || first.SampleRate != 48000 {
		t.Fatalf("unexpected first batch: %+v", first)
	}
	if first.Planes[0][1] != 0.2 || first.Planes[1][1] != -0.2 {
		t.Fatalf("unexpected planes: %v", first.Planes)
	}
	if got[1].Frames != 1 || got[1].Planes[1][0] != -0.3 {
		t.Fatalf("unexpected trailing batch: %+v", got[1])
	}
}

func TestPCMReader_NoSubscriberIsFine(t *testing.T) {
	data := audio.AppendFloat32LE(nil, make([]float32, 16))
	r := NewPCMReader("test", bytes.NewReader(data), PCMReaderConfig{SampleRate: 16000, Channels: 1, FramesPerBlock: 4})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestPCMReader_InvalidConfig(t *testing.T) {
	r := NewPCMReader("test", bytes.NewReader(nil), PCMReaderConfig{})
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestPCMReader_StopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewPCMReader("pipe", pr, PCMReaderConfig{SampleRate: 16000, Channels: 1, FramesPerBlock: 4})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestOpenPCMSource_Stdin(t *testing.T) {
	r, err := OpenPCMSource("-", PCMReaderConfig{SampleRate: 16000, Channels: 1, FramesPerBlock: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if r.Name() != "stdin" || r.cfg.Paced {
		t.Fatalf("unexpected stdin source: %s paced=%v", r.Name(), r.cfg.Paced)
	}
	if _, err := OpenPCMSource("/nonexistent/audio.f32", PCMReaderConfig{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
